package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/prochat/prochat/store"
)

func (d *DB) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	traceJSON, err := marshalJSON(create.Trace)
	if err != nil {
		return nil, err
	}
	sourcesJSON, err := marshalJSON(create.Sources)
	if err != nil {
		return nil, err
	}

	fields := []string{"uid", "thread_id", "role", "content", "model_id", "trace", "sources",
		"prompt_tokens", "completion_tokens", "total_cost", "duration_ms", "created_ts", "updated_ts"}
	args := []any{create.UID, create.ThreadID, create.Role, create.Content, create.ModelID, traceJSON, sourcesJSON,
		create.PromptTokens, create.CompletionTokens, create.TotalCost, create.DurationMs, create.CreatedTs, create.UpdatedTs}

	stmt := `INSERT INTO message (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
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
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	if err := json.Unmarshal([]byte(traceJSON), &message.Trace); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message trace: %w", err)
	}
	if err := json.Unmarshal([]byte(sourcesJSON), &message.Sources); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message sources: %w", err)
	}
	return message, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *find.UID)
	}
	if find.ThreadID != nil {
		where, args = append(where, "thread_id = "+placeholder(len(args)+1)), append(args, *find.ThreadID)
	}
	if find.Role != nil {
		where, args = append(where, "role = "+placeholder(len(args)+1)), append(args, *find.Role)
	}

	query := `SELECT ` + messageColumns + `
		FROM message
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts ASC, id ASC`
	if find.Limit != nil {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
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
		set, args = append(set, "content = "+placeholder(len(args)+1)), append(args, *update.Content)
	}
	if update.Trace != nil {
		traceJSON, err := marshalJSON(*update.Trace)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "trace = "+placeholder(len(args)+1)), append(args, traceJSON)
	}
	if update.Sources != nil {
		sourcesJSON, err := marshalJSON(*update.Sources)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "sources = "+placeholder(len(args)+1)), append(args, sourcesJSON)
	}
	if update.PromptTokens != nil {
		set, args = append(set, "prompt_tokens = "+placeholder(len(args)+1)), append(args, *update.PromptTokens)
	}
	if update.CompletionTokens != nil {
		set, args = append(set, "completion_tokens = "+placeholder(len(args)+1)), append(args, *update.CompletionTokens)
	}
	if update.TotalCost != nil {
		set, args = append(set, "total_cost = "+placeholder(len(args)+1)), append(args, *update.TotalCost)
	}
	if update.DurationMs != nil {
		set, args = append(set, "duration_ms = "+placeholder(len(args)+1)), append(args, *update.DurationMs)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *update.UpdatedTs)
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}
	args = append(args, update.ID)

	stmt := `UPDATE message SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)) + `
		RETURNING ` + messageColumns

	return scanMessage(d.db.QueryRowContext(ctx, stmt, args...).Scan)
}

func (d *DB) DeleteMessage(ctx context.Context, delete *store.DeleteMessage) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM message WHERE id = $1`, delete.ID); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// PruneMessageTraces wipes the trace column of messages created before
// beforeTs. Used by the retention sweep.
func (d *DB) PruneMessageTraces(ctx context.Context, beforeTs int64) (int, error) {
	result, err := d.db.ExecContext(ctx,
		`UPDATE message SET trace = '[]' WHERE created_ts < $1 AND trace != '[]'`, beforeTs)
	if err != nil {
		return 0, fmt.Errorf("failed to prune message traces: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(affected), nil
}
