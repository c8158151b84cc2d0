package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/prochat/prochat/store"
)

func (d *DB) CreateThread(ctx context.Context, create *store.Thread) (*store.Thread, error) {
	stmt := `
		INSERT INTO thread (uid, title, title_source, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`
	if err := d.db.QueryRowContext(ctx, stmt,
		create.UID,
		create.Title,
		create.TitleSource,
		create.CreatedTs,
		create.UpdatedTs,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create thread")
	}
	return create, nil
}

func (d *DB) ListThreads(ctx context.Context, find *store.FindThread) ([]*store.Thread, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = ?"), append(args, *find.UID)
	}

	query := `SELECT id, uid, title, title_source, created_ts, updated_ts
		FROM thread
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY updated_ts DESC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list threads")
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
			return nil, errors.Wrap(err, "failed to scan thread")
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
		set, args = append(set, "title = ?"), append(args, *update.Title)
	}
	if update.TitleSource != nil {
		set, args = append(set, "title_source = ?"), append(args, *update.TitleSource)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = ?"), append(args, *update.UpdatedTs)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}
	args = append(args, update.ID)

	stmt := `UPDATE thread SET ` + strings.Join(set, ", ") + ` WHERE id = ?
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
		return nil, errors.Wrap(err, "failed to update thread")
	}
	return thread, nil
}

func (d *DB) DeleteThread(ctx context.Context, delete *store.DeleteThread) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM message WHERE thread_id = ?`, delete.ID); err != nil {
		return errors.Wrap(err, "failed to delete thread messages")
	}
	if _, err := d.db.ExecContext(ctx, `DELETE FROM thread WHERE id = ?`, delete.ID); err != nil {
		return errors.Wrap(err, "failed to delete thread")
	}
	return nil
}
