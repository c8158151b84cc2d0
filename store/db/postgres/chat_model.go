package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/prochat/prochat/store"
)

func (d *DB) UpsertChatModel(ctx context.Context, upsert *store.ChatModel) (*store.ChatModel, error) {
	fields := []string{"id", "display_name", "provider", "model", "input_rate", "output_rate", "max_tokens", "enabled", "created_ts", "updated_ts"}
	args := []any{upsert.ID, upsert.DisplayName, upsert.Provider, upsert.Model, upsert.InputRate, upsert.OutputRate, upsert.MaxTokens, upsert.Enabled, upsert.CreatedTs, upsert.UpdatedTs}

	stmt := `INSERT INTO chat_model (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			provider = EXCLUDED.provider,
			model = EXCLUDED.model,
			input_rate = EXCLUDED.input_rate,
			output_rate = EXCLUDED.output_rate,
			max_tokens = EXCLUDED.max_tokens,
			enabled = EXCLUDED.enabled,
			updated_ts = EXCLUDED.updated_ts`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("failed to upsert chat model: %w", err)
	}
	return upsert, nil
}

func (d *DB) ListChatModels(ctx context.Context, find *store.FindChatModel) ([]*store.ChatModel, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.Enabled != nil {
		where, args = append(where, "enabled = "+placeholder(len(args)+1)), append(args, *find.Enabled)
	}

	query := `SELECT id, display_name, provider, model, input_rate, output_rate, max_tokens, enabled, created_ts, updated_ts
		FROM chat_model
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts ASC, id ASC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat models: %w", err)
	}
	defer rows.Close()

	list := make([]*store.ChatModel, 0)
	for rows.Next() {
		model := &store.ChatModel{}
		if err := rows.Scan(
			&model.ID,
			&model.DisplayName,
			&model.Provider,
			&model.Model,
			&model.InputRate,
			&model.OutputRate,
			&model.MaxTokens,
			&model.Enabled,
			&model.CreatedTs,
			&model.UpdatedTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chat model: %w", err)
		}
		list = append(list, model)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
