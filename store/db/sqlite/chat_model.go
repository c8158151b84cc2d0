package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/prochat/prochat/store"
)

func (d *DB) UpsertChatModel(ctx context.Context, upsert *store.ChatModel) (*store.ChatModel, error) {
	stmt := `
		INSERT INTO chat_model (id, display_name, provider, model, input_rate, output_rate, max_tokens, enabled, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			display_name = excluded.display_name,
			provider = excluded.provider,
			model = excluded.model,
			input_rate = excluded.input_rate,
			output_rate = excluded.output_rate,
			max_tokens = excluded.max_tokens,
			enabled = excluded.enabled,
			updated_ts = excluded.updated_ts
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		upsert.ID,
		upsert.DisplayName,
		upsert.Provider,
		upsert.Model,
		upsert.InputRate,
		upsert.OutputRate,
		upsert.MaxTokens,
		upsert.Enabled,
		upsert.CreatedTs,
		upsert.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to upsert chat model")
	}
	return upsert, nil
}

func (d *DB) ListChatModels(ctx context.Context, find *store.FindChatModel) ([]*store.ChatModel, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.Enabled != nil {
		where, args = append(where, "enabled = ?"), append(args, *find.Enabled)
	}

	query := `SELECT id, display_name, provider, model, input_rate, output_rate, max_tokens, enabled, created_ts, updated_ts
		FROM chat_model
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts ASC, id ASC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list chat models")
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
			return nil, errors.Wrap(err, "failed to scan chat model")
		}
		list = append(list, model)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
