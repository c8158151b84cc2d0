package sqlite

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/prochat/prochat/store"
)

func (d *DB) CreateActiveStream(ctx context.Context, create *store.ActiveStream) (*store.ActiveStream, error) {
	traceJSON, err := marshalJSON(create.PartialTrace)
	if err != nil {
		return nil, err
	}

	stmt := `
		INSERT INTO active_stream (id, thread_id, user_message_id, assistant_message_id, status,
			partial_content, partial_trace, model_id, thinking_level, started_ts, last_activity_ts, completed_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID,
		create.ThreadID,
		create.UserMessageID,
		create.AssistantMessageID,
		create.Status,
		create.PartialContent,
		traceJSON,
		create.ModelID,
		create.ThinkingLevel,
		create.StartedTs,
		create.LastActivityTs,
		create.CompletedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create active stream")
	}
	return create, nil
}

const activeStreamColumns = `id, thread_id, user_message_id, assistant_message_id, status,
	partial_content, partial_trace, model_id, thinking_level, started_ts, last_activity_ts, completed_ts`

func scanActiveStream(scan func(dest ...any) error) (*store.ActiveStream, error) {
	stream := &store.ActiveStream{}
	var traceJSON string
	if err := scan(
		&stream.ID,
		&stream.ThreadID,
		&stream.UserMessageID,
		&stream.AssistantMessageID,
		&stream.Status,
		&stream.PartialContent,
		&traceJSON,
		&stream.ModelID,
		&stream.ThinkingLevel,
		&stream.StartedTs,
		&stream.LastActivityTs,
		&stream.CompletedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan active stream")
	}
	if err := json.Unmarshal([]byte(traceJSON), &stream.PartialTrace); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal partial trace")
	}
	return stream, nil
}

func (d *DB) ListActiveStreams(ctx context.Context, find *store.FindActiveStream) ([]*store.ActiveStream, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.ThreadID != nil {
		where, args = append(where, "thread_id = ?"), append(args, *find.ThreadID)
	}
	if len(find.StatusList) > 0 {
		placeholders := make([]string, 0, len(find.StatusList))
		for _, status := range find.StatusList {
			placeholders = append(placeholders, "?")
			args = append(args, status)
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if find.LastActivityBefore != nil {
		where, args = append(where, "last_activity_ts < ?"), append(args, *find.LastActivityBefore)
	}

	query := `SELECT ` + activeStreamColumns + `
		FROM active_stream
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY started_ts DESC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active streams")
	}
	defer rows.Close()

	list := make([]*store.ActiveStream, 0)
	for rows.Next() {
		stream, err := scanActiveStream(rows.Scan)
		if err != nil {
			return nil, err
		}
		list = append(list, stream)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) UpdateActiveStream(ctx context.Context, update *store.UpdateActiveStream) (*store.ActiveStream, error) {
	set, args := []string{}, []any{}

	if update.Status != nil {
		set, args = append(set, "status = ?"), append(args, *update.Status)
	}
	if update.PartialContent != nil {
		set, args = append(set, "partial_content = ?"), append(args, *update.PartialContent)
	}
	if update.PartialTrace != nil {
		traceJSON, err := marshalJSON(*update.PartialTrace)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "partial_trace = ?"), append(args, traceJSON)
	}
	if update.AssistantMessageID != nil {
		set, args = append(set, "assistant_message_id = ?"), append(args, *update.AssistantMessageID)
	}
	if update.LastActivityTs != nil {
		set, args = append(set, "last_activity_ts = ?"), append(args, *update.LastActivityTs)
	}
	if update.CompletedTs != nil {
		set, args = append(set, "completed_ts = ?"), append(args, *update.CompletedTs)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}
	args = append(args, update.ID)

	stmt := `UPDATE active_stream SET ` + strings.Join(set, ", ") + ` WHERE id = ?
		RETURNING ` + activeStreamColumns

	return scanActiveStream(d.db.QueryRowContext(ctx, stmt, args...).Scan)
}

func (d *DB) DeleteActiveStreams(ctx context.Context, delete *store.DeleteActiveStream) (int, error) {
	where, args := []string{"1 = 1"}, []any{}

	if delete.ID != nil {
		where, args = append(where, "id = ?"), append(args, *delete.ID)
	}
	if delete.CompletedBefore != nil {
		where = append(where, "completed_ts IS NOT NULL AND completed_ts < ?")
		args = append(args, *delete.CompletedBefore)
	}

	result, err := d.db.ExecContext(ctx,
		`DELETE FROM active_stream WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete active streams")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read affected rows")
	}
	return int(affected), nil
}
