package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/prochat/prochat/store"
)

func (d *DB) CreateAttachment(ctx context.Context, create *store.Attachment) (*store.Attachment, error) {
	stmt := `
		INSERT INTO attachment (uid, thread_id, message_id, filename, type, size, extracted_text, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	if err := d.db.QueryRowContext(ctx, stmt,
		create.UID,
		create.ThreadID,
		create.MessageID,
		create.Filename,
		create.Type,
		create.Size,
		create.ExtractedText,
		create.CreatedTs,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create attachment")
	}
	return create, nil
}

func (d *DB) ListAttachments(ctx context.Context, find *store.FindAttachment) ([]*store.Attachment, error) {
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
	if len(find.UIDList) > 0 {
		placeholders := make([]string, 0, len(find.UIDList))
		for _, uid := range find.UIDList {
			placeholders = append(placeholders, "?")
			args = append(args, uid)
		}
		where = append(where, "uid IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT id, uid, thread_id, message_id, filename, type, size, extracted_text, created_ts
		FROM attachment
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts ASC, id ASC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list attachments")
	}
	defer rows.Close()

	list := make([]*store.Attachment, 0)
	for rows.Next() {
		attachment := &store.Attachment{}
		if err := rows.Scan(
			&attachment.ID,
			&attachment.UID,
			&attachment.ThreadID,
			&attachment.MessageID,
			&attachment.Filename,
			&attachment.Type,
			&attachment.Size,
			&attachment.ExtractedText,
			&attachment.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan attachment")
		}
		list = append(list, attachment)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) DeleteAttachment(ctx context.Context, delete *store.DeleteAttachment) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM attachment WHERE id = ?`, delete.ID); err != nil {
		return errors.Wrap(err, "failed to delete attachment")
	}
	return nil
}
