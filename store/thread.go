package store

import (
	"context"

	"github.com/pkg/errors"
)

// TitleSource indicates how the thread title was created.
// - "default": system default (truncated first message)
// - "auto": AI-generated title based on the first exchange
// - "user": user-provided title
type TitleSource string

const (
	TitleSourceDefault TitleSource = "default"
	TitleSourceAuto    TitleSource = "auto"
	TitleSourceUser    TitleSource = "user"
)

// Thread is one conversation.
type Thread struct {
	UID         string
	Title       string
	TitleSource TitleSource
	ID          int32
	CreatedTs   int64
	UpdatedTs   int64
}

type FindThread struct {
	ID  *int32
	UID *string
}

type UpdateThread struct {
	Title       *string
	TitleSource *TitleSource
	UpdatedTs   *int64
	ID          int32
}

type DeleteThread struct {
	ID int32
}

func (s *Store) CreateThread(ctx context.Context, create *Thread) (*Thread, error) {
	return s.driver.CreateThread(ctx, create)
}

func (s *Store) ListThreads(ctx context.Context, find *FindThread) ([]*Thread, error) {
	return s.driver.ListThreads(ctx, find)
}

// GetThread returns the matching thread, or nil when none exists.
func (s *Store) GetThread(ctx context.Context, find *FindThread) (*Thread, error) {
	threads, err := s.ListThreads(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(threads) == 0 {
		return nil, nil
	}
	return threads[0], nil
}

func (s *Store) UpdateThread(ctx context.Context, update *UpdateThread) (*Thread, error) {
	return s.driver.UpdateThread(ctx, update)
}

func (s *Store) DeleteThread(ctx context.Context, delete *DeleteThread) error {
	thread, err := s.GetThread(ctx, &FindThread{ID: &delete.ID})
	if err != nil {
		return errors.Wrap(err, "failed to get thread")
	}
	if thread == nil {
		return errors.New("thread not found")
	}
	return s.driver.DeleteThread(ctx, delete)
}
