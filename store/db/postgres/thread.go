package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/prochat/prochat/store"
)

func (d *DB) CreateThread(ctx context.Context, create *store.Thread) (*store.Thread, error) {
	fields := []string{"uid", "title", "title_source", "created_ts", "updated_ts"}
	args := []any{create.UID, create.Title, create.TitleSource, create.CreatedTs, create.UpdatedTs}

	stmt := `INSERT INTO thread (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}
	return create, nil
}

func (d *DB) ListThreads(ctx context.Context, find *store.FindThread) ([]*store.Thread, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *find.UID)
	}

	query := `SELECT id, uid, title, title_source, created_ts, updated_ts
		FROM thread
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY updated_ts DESC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Thread, 0)
	for rows.Next() {
		thread := &store.Thread{}
		if err := rows.Scan(
			&thread.ID,
			&thread.UID,
			&thread.Title,
			&thread.TitleSource,
			&thread.CreatedTs,
			&thread.UpdatedTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		list = append(list, thread)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) UpdateThread(ctx context.Context, update *store.UpdateThread) (*store.Thread, error) {
	set, args := []string{}, []any{}

	if update.Title != nil {
		set, args = append(set, "title = "+placeholder(len(args)+1)), append(args, *update.Title)
	}
	if update.TitleSource != nil {
		set, args = append(set, "title_source = "+placeholder(len(args)+1)), append(args, *update.TitleSource)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *update.UpdatedTs)
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}
	args = append(args, update.ID)

	stmt := `UPDATE thread SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)) + `
		RETURNING id, uid, title, title_source, created_ts, updated_ts`

	thread := &store.Thread{}
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&thread.ID,
		&thread.UID,
		&thread.Title,
		&thread.TitleSource,
		&thread.CreatedTs,
		&thread.UpdatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to update thread: %w", err)
	}
	return thread, nil
}

func (d *DB) DeleteThread(ctx context.Context, delete *store.DeleteThread) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM message WHERE thread_id = $1`, delete.ID); err != nil {
		return fmt.Errorf("failed to delete thread messages: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, `DELETE FROM thread WHERE id = $1`, delete.ID); err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	return nil
}
