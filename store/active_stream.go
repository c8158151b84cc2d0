package store

import (
	"context"

	"github.com/prochat/prochat/ai/trace"
)

// StreamStatus is the lifecycle state of an in-flight generation.
//
// active -> {pending, completed, failed, cancelled}
// pending -> {active (resume), failed (timeout), cancelled}
// completed, failed and cancelled are terminal.
type StreamStatus string

const (
	StreamStatusActive    StreamStatus = "active"
	StreamStatusPending   StreamStatus = "pending"
	StreamStatusCompleted StreamStatus = "completed"
	StreamStatusFailed    StreamStatus = "failed"
	StreamStatusCancelled StreamStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s StreamStatus) IsTerminal() bool {
	return s == StreamStatusCompleted || s == StreamStatusFailed || s == StreamStatusCancelled
}

// ActiveStream is the server-side record of one in-flight generation.
// At most one stream with status active or pending exists per thread.
type ActiveStream struct {
	ID                 string
	ThreadID           int32
	UserMessageID      int64
	AssistantMessageID *int64
	Status             StreamStatus
	PartialContent     string
	PartialTrace       []trace.Event
	ModelID            string
	ThinkingLevel      string
	StartedTs          int64
	LastActivityTs     int64
	CompletedTs        *int64
}

type FindActiveStream struct {
	ID       *string
	ThreadID *int32
	// StatusList filters to any of the given statuses.
	StatusList []StreamStatus
	// LastActivityBefore filters to streams whose LastActivityTs is
	// strictly older than the given timestamp.
	LastActivityBefore *int64
}

type UpdateActiveStream struct {
	Status             *StreamStatus
	PartialContent     *string
	PartialTrace       *[]trace.Event
	AssistantMessageID *int64
	LastActivityTs     *int64
	CompletedTs        *int64
	ID                 string
}

type DeleteActiveStream struct {
	ID *string
	// CompletedBefore deletes terminal streams whose CompletedTs
	// predates the given timestamp.
	CompletedBefore *int64
}

func (s *Store) CreateActiveStream(ctx context.Context, create *ActiveStream) (*ActiveStream, error) {
	return s.driver.CreateActiveStream(ctx, create)
}

func (s *Store) ListActiveStreams(ctx context.Context, find *FindActiveStream) ([]*ActiveStream, error) {
	return s.driver.ListActiveStreams(ctx, find)
}

// GetActiveStream returns the matching stream, or nil when none exists.
func (s *Store) GetActiveStream(ctx context.Context, id string) (*ActiveStream, error) {
	streams, err := s.ListActiveStreams(ctx, &FindActiveStream{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 {
		return nil, nil
	}
	return streams[0], nil
}

func (s *Store) UpdateActiveStream(ctx context.Context, update *UpdateActiveStream) (*ActiveStream, error) {
	return s.driver.UpdateActiveStream(ctx, update)
}

func (s *Store) DeleteActiveStreams(ctx context.Context, delete *DeleteActiveStream) (int, error) {
	return s.driver.DeleteActiveStreams(ctx, delete)
}
