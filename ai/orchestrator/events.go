package orchestrator

import (
	"github.com/prochat/prochat/ai/trace"
	"github.com/prochat/prochat/store"
)

// EventType enumerates the ordered event vocabulary both streaming
// entry points emit.
type EventType string

const (
	EventTypeMeta      EventType = "meta"
	EventTypeStreamID  EventType = "streamId"
	EventTypeCatchup   EventType = "catchup"
	EventTypeDelta     EventType = "delta"
	EventTypeReasoning EventType = "reasoning"
	EventTypeTool      EventType = "tool"
	EventTypeDone      EventType = "done"
	EventTypeError     EventType = "error"
)

// Event is one frame of a generation turn. Exactly one payload field is
// set for the corresponding Type; Delta and Reasoning carry their text
// directly.
type Event struct {
	Type      EventType       `json:"type"`
	Meta      *MetaPayload    `json:"meta,omitempty"`
	StreamID  string          `json:"streamId,omitempty"`
	Catchup   *CatchupPayload `json:"catchup,omitempty"`
	Delta     string          `json:"delta,omitempty"`
	Reasoning string          `json:"reasoning,omitempty"`
	Tool      *ToolPayload    `json:"tool,omitempty"`
	Done      *DonePayload    `json:"done,omitempty"`
	Error     *ErrorPayload   `json:"error,omitempty"`
}

// MetaPayload echoes the resolved thread and model at turn start.
type MetaPayload struct {
	ThreadID int32  `json:"threadId"`
	ModelID  string `json:"modelId"`
}

// CatchupPayload replays everything persisted before a resume.
type CatchupPayload struct {
	UserMessageID      int64         `json:"userMessageId"`
	AssistantMessageID *int64        `json:"assistantMessageId,omitempty"`
	PartialContent     string        `json:"partialContent"`
	PartialTrace       []trace.Event `json:"partialTrace"`
}

// ToolPayload announces a tool dispatch before it runs.
type ToolPayload struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// MessagePayload is the wire form of a persisted message.
type MessagePayload struct {
	ID        int64          `json:"id"`
	UID       string         `json:"uid"`
	ThreadID  int32          `json:"threadId"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ModelID   string         `json:"modelId,omitempty"`
	Trace     []trace.Event  `json:"trace,omitempty"`
	Sources   []trace.Source `json:"sources,omitempty"`
	CreatedTs int64          `json:"createdTs"`
}

func toMessagePayload(m *store.Message) *MessagePayload {
	return &MessagePayload{
		ID:        m.ID,
		UID:       m.UID,
		ThreadID:  m.ThreadID,
		Role:      string(m.Role),
		Content:   m.Content,
		ModelID:   m.ModelID,
		Trace:     m.Trace,
		Sources:   m.Sources,
		CreatedTs: m.CreatedTs,
	}
}

// DonePayload is the single successful terminal frame.
type DonePayload struct {
	UserMessage      *MessagePayload `json:"userMessage"`
	AssistantMessage *MessagePayload `json:"assistantMessage"`
	TotalCost        float64         `json:"totalCost"`
	PromptTokens     int             `json:"promptTokens,omitempty"`
	CompletionTokens int             `json:"completionTokens,omitempty"`
	DurationMs       int64           `json:"durationMs"`
}

// ErrorPayload is the single failing terminal frame.
type ErrorPayload struct {
	Message string `json:"message"`
}
