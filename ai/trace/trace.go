// Package trace accumulates the reasoning/tool event log and the cited
// sources attached to a single assistant turn. All functions are pure:
// they take the current collection plus a policy and return the bounded
// result, so callers can snapshot intermediate states for streaming
// persistence.
package trace

import (
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// EventKind discriminates trace events.
type EventKind string

const (
	EventKindReasoning EventKind = "reasoning"
	EventKindTool      EventKind = "tool"
)

// Event is one entry in the rolling trace log.
type Event struct {
	ID        string    `json:"id"`
	Type      EventKind `json:"type"`
	Content   string    `json:"content"`
	CreatedTs int64     `json:"createdTs"`
}

// Policy bounds trace and source accumulation. A zero value for
// MaxEvents or MaxChars collapses the trace to empty; the same applies
// to MaxSources/MaxSourceChars for sources. That is a deliberate kill
// switch, not an "unbounded" marker.
type Policy struct {
	MaxEvents             int
	MaxChars              int
	MaxSources            int
	MaxSourceChars        int
	MaxSourceSnippetChars int
	RetentionDays         int
}

// DefaultPolicy returns the production accumulation bounds.
func DefaultPolicy() Policy {
	return Policy{
		MaxEvents:             200,
		MaxChars:              60000,
		MaxSources:            25,
		MaxSourceChars:        12000,
		MaxSourceSnippetChars: 500,
		RetentionDays:         30,
	}
}

// NewReasoningEvent creates a reasoning event stamped now.
func NewReasoningEvent(content string) Event {
	return Event{
		ID:        shortuuid.New(),
		Type:      EventKindReasoning,
		Content:   content,
		CreatedTs: time.Now().UnixMilli(),
	}
}

// NewToolEvent creates a tool event stamped now.
func NewToolEvent(content string) Event {
	return Event{
		ID:        shortuuid.New(),
		Type:      EventKindTool,
		Content:   content,
		CreatedTs: time.Now().UnixMilli(),
	}
}

// AppendEvent appends next to the trace under the policy bounds.
// Adjacent reasoning events coalesce: if both next and the trace's last
// event are reasoning, next's content is concatenated into the last
// event instead of growing the event count.
func AppendEvent(events []Event, next Event, policy Policy) []Event {
	if policy.MaxEvents <= 0 || policy.MaxChars <= 0 {
		return nil
	}

	if next.Type == EventKindReasoning && len(events) > 0 && events[len(events)-1].Type == EventKindReasoning {
		merged := make([]Event, len(events))
		copy(merged, events)
		merged[len(merged)-1].Content += next.Content
		return Trim(merged, policy)
	}

	appended := make([]Event, 0, len(events)+1)
	appended = append(appended, events...)
	appended = append(appended, next)
	return Trim(appended, policy)
}

// Trim enforces the policy bounds on a trace. Whole events are dropped
// from the oldest end first; if a single remaining event still exceeds
// MaxChars its content is truncated from the front, keeping the most
// recent characters. Trim is idempotent.
func Trim(events []Event, policy Policy) []Event {
	if policy.MaxEvents <= 0 || policy.MaxChars <= 0 {
		return nil
	}

	if len(events) > policy.MaxEvents {
		events = events[len(events)-policy.MaxEvents:]
	}

	for len(events) > 1 && TotalChars(events) > policy.MaxChars {
		events = events[1:]
	}

	if len(events) > 0 && TotalChars(events) > policy.MaxChars {
		// Single oversized event: keep the tail of its content.
		trimmed := events[len(events)-1]
		runes := []rune(trimmed.Content)
		if len(runes) > policy.MaxChars {
			trimmed.Content = string(runes[len(runes)-policy.MaxChars:])
		}
		return []Event{trimmed}
	}

	return events
}

// TotalChars returns the summed content length of a trace, in runes.
func TotalChars(events []Event) int {
	total := 0
	for _, e := range events {
		total += len([]rune(e.Content))
	}
	return total
}
