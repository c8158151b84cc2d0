package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/prochat/prochat/store"
)

func (d *DB) CreateAttachment(ctx context.Context, create *store.Attachment) (*store.Attachment, error) {
	fields := []string{"uid", "thread_id", "message_id", "filename", "type", "size", "extracted_text", "created_ts"}
	args := []any{create.UID, create.ThreadID, create.MessageID, create.Filename, create.Type, create.Size, create.ExtractedText, create.CreatedTs}

	stmt := `INSERT INTO attachment (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create attachment: %w", err)
	}
	return create, nil
}

func (d *DB) ListAttachments(ctx context.Context, find *store.FindAttachment) ([]*store.Attachment, error) {
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
	if len(find.UIDList) > 0 {
		list := make([]string, 0, len(find.UIDList))
		for _, uid := range find.UIDList {
			list = append(list, placeholder(len(args)+1))
			args = append(args, uid)
		}
		where = append(where, "uid IN ("+strings.Join(list, ", ")+")")
	}

	query := `SELECT id, uid, thread_id, message_id, filename, type, size, extracted_text, created_ts
		FROM attachment
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts ASC, id ASC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
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
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		list = append(list, attachment)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) DeleteAttachment(ctx context.Context, delete *store.DeleteAttachment) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM attachment WHERE id = $1`, delete.ID); err != nil {
		return fmt.Errorf("failed to delete attachment: %w", err)
	}
	return nil
}
