package sqlite

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/prochat/prochat/store"
)

func marshalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal json column")
	}
	return string(raw), nil
}

func (d *DB) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	traceJSON, err := marshalJSON(create.Trace)
	if err != nil {
		return nil, err
	}
	sourcesJSON, err := marshalJSON(create.Sources)
	if err != nil {
		return nil, err
	}

	stmt := `
		INSERT INTO message (uid, thread_id, role, content, model_id, trace, sources,
			prompt_tokens, completion_tokens, total_cost, duration_ms, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	if err := d.db.QueryRowContext(ctx, stmt,
		create.UID,
		create.ThreadID,
		create.Role,
		create.Content,
		create.ModelID,
		traceJSON,
		sourcesJSON,
		create.PromptTokens,
		create.CompletionTokens,
		create.TotalCost,
		create.DurationMs,
		create.CreatedTs,
		create.UpdatedTs,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create message")
	}
	return create, nil
}

const messageColumns = `id, uid, thread_id, role, content, model_id, trace, sources,
	prompt_tokens, completion_tokens, total_cost, duration_ms, created_ts, updated_ts`

func scanMessage(scan func(dest ...any) error) (*store.Message, error) {
	message := &store.Message{}
	var traceJSON, sourcesJSON string
	if err := scan(
		&message.ID,
		&message.UID,
		&message.ThreadID,
		&message.Role,
		&message.Content,
		&message.ModelID,
		&traceJSON,
		&sourcesJSON,
		&message.PromptTokens,
		&message.CompletionTokens,
		&message.TotalCost,
		&message.DurationMs,
		&message.CreatedTs,
		&message.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan message")
	}
	if err := json.Unmarshal([]byte(traceJSON), &message.Trace); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal message trace")
	}
	if err := json.Unmarshal([]byte(sourcesJSON), &message.Sources); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal message sources")
	}
	return message, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = ?"), append(args, *find.UID)
	}
	if find.ThreadID != nil {
		where, args = append(where, "thread_id = ?"), append(args, *find.ThreadID)
	}
	if find.Role != nil {
		where, args = append(where, "role = ?"), append(args, *find.Role)
	}

	query := `SELECT ` + messageColumns + `
		FROM message
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts ASC, id ASC`
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	list := make([]*store.Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		list = append(list, message)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) UpdateMessage(ctx context.Context, update *store.UpdateMessage) (*store.Message, error) {
	set, args := []string{}, []any{}

	if update.Content != nil {
		set, args = append(set, "content = ?"), append(args, *update.Content)
	}
	if update.Trace != nil {
		traceJSON, err := marshalJSON(*update.Trace)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "trace = ?"), append(args, traceJSON)
	}
	if update.Sources != nil {
		sourcesJSON, err := marshalJSON(*update.Sources)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "sources = ?"), append(args, sourcesJSON)
	}
	if update.PromptTokens != nil {
		set, args = append(set, "prompt_tokens = ?"), append(args, *update.PromptTokens)
	}
	if update.CompletionTokens != nil {
		set, args = append(set, "completion_tokens = ?"), append(args, *update.CompletionTokens)
	}
	if update.TotalCost != nil {
		set, args = append(set, "total_cost = ?"), append(args, *update.TotalCost)
	}
	if update.DurationMs != nil {
		set, args = append(set, "duration_ms = ?"), append(args, *update.DurationMs)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = ?"), append(args, *update.UpdatedTs)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}
	args = append(args, update.ID)

	stmt := `UPDATE message SET ` + strings.Join(set, ", ") + ` WHERE id = ?
		RETURNING ` + messageColumns

	return scanMessage(d.db.QueryRowContext(ctx, stmt, args...).Scan)
}

func (d *DB) DeleteMessage(ctx context.Context, delete *store.DeleteMessage) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM message WHERE id = ?`, delete.ID); err != nil {
		return errors.Wrap(err, "failed to delete message")
	}
	return nil
}

// PruneMessageTraces wipes the trace column of messages created before
// beforeTs. Used by the retention sweep.
func (d *DB) PruneMessageTraces(ctx context.Context, beforeTs int64) (int, error) {
	result, err := d.db.ExecContext(ctx,
		`UPDATE message SET trace = '[]' WHERE created_ts < ? AND trace != '[]'`, beforeTs)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune message traces")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read affected rows")
	}
	return int(affected), nil
}
