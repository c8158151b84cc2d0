package store

import (
	"context"

	"github.com/prochat/prochat/ai/trace"
)

// MessageRole discriminates who authored a message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Message is one turn half in a thread. Assistant messages carry the
// rendered trace, the cited sources, and the cost accounting produced
// by the orchestrator when the turn completes.
type Message struct {
	UID              string
	ThreadID         int32
	Role             MessageRole
	Content          string
	ModelID          string
	Trace            []trace.Event
	Sources          []trace.Source
	PromptTokens     int
	CompletionTokens int
	TotalCost        float64
	DurationMs       int64
	ID               int64
	CreatedTs        int64
	UpdatedTs        int64
}

type FindMessage struct {
	ID       *int64
	UID      *string
	ThreadID *int32
	Role     *MessageRole
	Limit    *int
}

type UpdateMessage struct {
	Content          *string
	Trace            *[]trace.Event
	Sources          *[]trace.Source
	PromptTokens     *int
	CompletionTokens *int
	TotalCost        *float64
	DurationMs       *int64
	UpdatedTs        *int64
	ID               int64
}

type DeleteMessage struct {
	ID int64
}

func (s *Store) CreateMessage(ctx context.Context, create *Message) (*Message, error) {
	return s.driver.CreateMessage(ctx, create)
}

func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	return s.driver.ListMessages(ctx, find)
}

// GetMessage returns the matching message, or nil when none exists.
func (s *Store) GetMessage(ctx context.Context, find *FindMessage) (*Message, error) {
	messages, err := s.ListMessages(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}
	return messages[0], nil
}

func (s *Store) UpdateMessage(ctx context.Context, update *UpdateMessage) (*Message, error) {
	return s.driver.UpdateMessage(ctx, update)
}

func (s *Store) DeleteMessage(ctx context.Context, delete *DeleteMessage) error {
	return s.driver.DeleteMessage(ctx, delete)
}

// PruneMessageTraces wipes trace content from messages older than
// beforeTs, returning the number of affected rows. Sources are kept;
// only the reasoning/tool log is subject to retention.
func (s *Store) PruneMessageTraces(ctx context.Context, beforeTs int64) (int, error) {
	return s.driver.PruneMessageTraces(ctx, beforeTs)
}
