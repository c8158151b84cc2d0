package store

import (
	"context"
)

// Attachment is an uploaded file bound to a thread. Upload and blob
// handling live outside this server; the orchestrator only resolves
// ownership and inlines the extracted text into the transcript.
type Attachment struct {
	UID           string
	Filename      string
	Type          string
	ExtractedText string
	MessageID     *int64
	ThreadID      int32
	ID            int32
	Size          int64
	CreatedTs     int64
}

type FindAttachment struct {
	ID       *int32
	UID      *string
	ThreadID *int32
	UIDList  []string
}

type DeleteAttachment struct {
	ID int32
}

func (s *Store) CreateAttachment(ctx context.Context, create *Attachment) (*Attachment, error) {
	return s.driver.CreateAttachment(ctx, create)
}

func (s *Store) ListAttachments(ctx context.Context, find *FindAttachment) ([]*Attachment, error) {
	return s.driver.ListAttachments(ctx, find)
}

func (s *Store) DeleteAttachment(ctx context.Context, delete *DeleteAttachment) error {
	return s.driver.DeleteAttachment(ctx, delete)
}
