// Package store provides database access to all persisted objects.
package store

import (
	"context"
	"database/sql"

	"github.com/prochat/prochat/internal/profile"
)

// Driver is the interface a database backend implements.
type Driver interface {
	GetDB() *sql.DB
	Close() error
	Migrate(ctx context.Context) error

	CreateThread(ctx context.Context, create *Thread) (*Thread, error)
	ListThreads(ctx context.Context, find *FindThread) ([]*Thread, error)
	UpdateThread(ctx context.Context, update *UpdateThread) (*Thread, error)
	DeleteThread(ctx context.Context, delete *DeleteThread) error

	CreateMessage(ctx context.Context, create *Message) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)
	UpdateMessage(ctx context.Context, update *UpdateMessage) (*Message, error)
	DeleteMessage(ctx context.Context, delete *DeleteMessage) error
	PruneMessageTraces(ctx context.Context, beforeTs int64) (int, error)

	CreateAttachment(ctx context.Context, create *Attachment) (*Attachment, error)
	ListAttachments(ctx context.Context, find *FindAttachment) ([]*Attachment, error)
	DeleteAttachment(ctx context.Context, delete *DeleteAttachment) error

	UpsertChatModel(ctx context.Context, upsert *ChatModel) (*ChatModel, error)
	ListChatModels(ctx context.Context, find *FindChatModel) ([]*ChatModel, error)

	CreateActiveStream(ctx context.Context, create *ActiveStream) (*ActiveStream, error)
	ListActiveStreams(ctx context.Context, find *FindActiveStream) ([]*ActiveStream, error)
	UpdateActiveStream(ctx context.Context, update *UpdateActiveStream) (*ActiveStream, error)
	DeleteActiveStreams(ctx context.Context, delete *DeleteActiveStream) (int, error)
}

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}
