package trace

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() Policy {
	return Policy{
		MaxEvents:             5,
		MaxChars:              100,
		MaxSources:            5,
		MaxSourceChars:        100,
		MaxSourceSnippetChars: 50,
	}
}

func TestAppendEventCoalescesAdjacentReasoning(t *testing.T) {
	policy := testPolicy()

	events := AppendEvent(nil, NewReasoningEvent("thinking about "), policy)
	events = AppendEvent(events, NewReasoningEvent("the answer"), policy)

	require.Len(t, events, 1)
	assert.Equal(t, EventKindReasoning, events[0].Type)
	assert.Equal(t, "thinking about the answer", events[0].Content)
}

func TestAppendEventToolBreaksCoalescing(t *testing.T) {
	policy := testPolicy()

	events := AppendEvent(nil, NewReasoningEvent("step one"), policy)
	events = AppendEvent(events, NewToolEvent("search: golang"), policy)
	events = AppendEvent(events, NewReasoningEvent("step two"), policy)

	require.Len(t, events, 3)
	assert.Equal(t, EventKindReasoning, events[0].Type)
	assert.Equal(t, EventKindTool, events[1].Type)
	assert.Equal(t, EventKindReasoning, events[2].Type)
}

func TestAppendEventKillSwitch(t *testing.T) {
	for _, policy := range []Policy{
		{MaxEvents: 0, MaxChars: 100},
		{MaxEvents: 5, MaxChars: 0},
	} {
		var events []Event
		for i := 0; i < 10; i++ {
			events = AppendEvent(events, NewReasoningEvent("content"), policy)
			events = AppendEvent(events, NewToolEvent("tool"), policy)
		}
		assert.Empty(t, events)
	}
}

func TestTrimDropsOldestEvents(t *testing.T) {
	policy := testPolicy()

	var events []Event
	for i := 0; i < 10; i++ {
		events = append(events, NewToolEvent(strings.Repeat("x", 10)))
	}
	events[0].Content = "oldest"

	trimmed := Trim(events, policy)
	require.Len(t, trimmed, policy.MaxEvents)
	for _, e := range trimmed {
		assert.NotEqual(t, "oldest", e.Content)
	}
}

func TestTrimCharBudgetDropsOldestFirst(t *testing.T) {
	policy := Policy{MaxEvents: 10, MaxChars: 25}

	events := []Event{
		NewToolEvent(strings.Repeat("a", 10)),
		NewToolEvent(strings.Repeat("b", 10)),
		NewToolEvent(strings.Repeat("c", 10)),
	}

	trimmed := Trim(events, policy)
	require.Len(t, trimmed, 2)
	assert.Equal(t, strings.Repeat("b", 10), trimmed[0].Content)
	assert.Equal(t, strings.Repeat("c", 10), trimmed[1].Content)
}

func TestTrimTruncatesSingleOversizedEventFromFront(t *testing.T) {
	policy := Policy{MaxEvents: 5, MaxChars: 10}

	events := []Event{NewReasoningEvent("0123456789ABCDEF")}

	trimmed := Trim(events, policy)
	require.Len(t, trimmed, 1)
	// The most recent characters are kept.
	assert.Equal(t, "6789ABCDEF", trimmed[0].Content)
}

func TestTrimIsIdempotent(t *testing.T) {
	policy := Policy{MaxEvents: 3, MaxChars: 40}

	var events []Event
	for i := 0; i < 8; i++ {
		events = append(events, NewToolEvent(strings.Repeat("z", 15)))
	}

	once := Trim(events, policy)
	twice := Trim(once, policy)
	assert.Equal(t, once, twice)
}

func TestTotalChars(t *testing.T) {
	events := []Event{
		NewReasoningEvent("abc"),
		NewToolEvent("défg"), // rune-counted, not byte-counted
	}
	assert.Equal(t, 7, TotalChars(events))
}
