package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prochat/prochat/ai/llm"
	"github.com/prochat/prochat/ai/stream"
	"github.com/prochat/prochat/ai/tools"
	"github.com/prochat/prochat/ai/trace"
	"github.com/prochat/prochat/store"
)

// ---------------------------------------------------------------------------
// In-memory fakes
// ---------------------------------------------------------------------------

type fakeStore struct {
	mu          sync.Mutex
	threads     map[int32]*store.Thread
	messages    map[int64]*store.Message
	attachments map[string]*store.Attachment
	models      map[string]*store.ChatModel
	streams     map[string]*store.ActiveStream
	nextMsgID   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		threads:     make(map[int32]*store.Thread),
		messages:    make(map[int64]*store.Message),
		attachments: make(map[string]*store.Attachment),
		models:      make(map[string]*store.ChatModel),
		streams:     make(map[string]*store.ActiveStream),
	}
}

func (f *fakeStore) GetThread(ctx context.Context, find *store.FindThread) (*store.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if find.ID != nil {
		if t, ok := f.threads[*find.ID]; ok {
			clone := *t
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) UpdateThread(ctx context.Context, update *store.UpdateThread) (*store.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.threads[update.ID]
	if !ok {
		return nil, errors.New("thread not found")
	}
	if update.Title != nil {
		t.Title = *update.Title
	}
	if update.TitleSource != nil {
		t.TitleSource = *update.TitleSource
	}
	if update.UpdatedTs != nil {
		t.UpdatedTs = *update.UpdatedTs
	}
	clone := *t
	return &clone, nil
}

func (f *fakeStore) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMsgID++
	create.ID = f.nextMsgID
	clone := *create
	f.messages[create.ID] = &clone
	return create, nil
}

func (f *fakeStore) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := make([]*store.Message, 0)
	for id := int64(1); id <= f.nextMsgID; id++ {
		m, ok := f.messages[id]
		if !ok {
			continue
		}
		if find.ID != nil && m.ID != *find.ID {
			continue
		}
		if find.ThreadID != nil && m.ThreadID != *find.ThreadID {
			continue
		}
		clone := *m
		list = append(list, &clone)
	}
	return list, nil
}

func (f *fakeStore) GetMessage(ctx context.Context, find *store.FindMessage) (*store.Message, error) {
	messages, err := f.ListMessages(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}
	return messages[0], nil
}

func (f *fakeStore) UpdateMessage(ctx context.Context, update *store.UpdateMessage) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[update.ID]
	if !ok {
		return nil, errors.New("message not found")
	}
	if update.Content != nil {
		m.Content = *update.Content
	}
	if update.Trace != nil {
		m.Trace = *update.Trace
	}
	if update.Sources != nil {
		m.Sources = *update.Sources
	}
	if update.PromptTokens != nil {
		m.PromptTokens = *update.PromptTokens
	}
	if update.CompletionTokens != nil {
		m.CompletionTokens = *update.CompletionTokens
	}
	if update.TotalCost != nil {
		m.TotalCost = *update.TotalCost
	}
	if update.DurationMs != nil {
		m.DurationMs = *update.DurationMs
	}
	clone := *m
	return &clone, nil
}

func (f *fakeStore) ListAttachments(ctx context.Context, find *store.FindAttachment) ([]*store.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := make([]*store.Attachment, 0)
	for _, uid := range find.UIDList {
		if a, ok := f.attachments[uid]; ok {
			clone := *a
			list = append(list, &clone)
		}
	}
	return list, nil
}

func (f *fakeStore) GetChatModel(ctx context.Context, id string) (*store.ChatModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.models[id]; ok {
		clone := *m
		return &clone, nil
	}
	return nil, nil
}

// stream.Store implementation so the real tracker runs against the fake.

func (f *fakeStore) CreateActiveStream(ctx context.Context, create *store.ActiveStream) (*store.ActiveStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *create
	f.streams[create.ID] = &clone
	return create, nil
}

func (f *fakeStore) ListActiveStreams(ctx context.Context, find *store.FindActiveStream) ([]*store.ActiveStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := make([]*store.ActiveStream, 0)
	for _, s := range f.streams {
		if find.ID != nil && s.ID != *find.ID {
			continue
		}
		if find.ThreadID != nil && s.ThreadID != *find.ThreadID {
			continue
		}
		if len(find.StatusList) > 0 {
			matched := false
			for _, status := range find.StatusList {
				if s.Status == status {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		if find.LastActivityBefore != nil && s.LastActivityTs >= *find.LastActivityBefore {
			continue
		}
		clone := *s
		list = append(list, &clone)
	}
	return list, nil
}

func (f *fakeStore) UpdateActiveStream(ctx context.Context, update *store.UpdateActiveStream) (*store.ActiveStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.streams[update.ID]
	if !ok {
		return nil, errors.New("stream not found")
	}
	if update.Status != nil {
		s.Status = *update.Status
	}
	if update.PartialContent != nil {
		s.PartialContent = *update.PartialContent
	}
	if update.PartialTrace != nil {
		s.PartialTrace = *update.PartialTrace
	}
	if update.AssistantMessageID != nil {
		s.AssistantMessageID = update.AssistantMessageID
	}
	if update.LastActivityTs != nil {
		s.LastActivityTs = *update.LastActivityTs
	}
	if update.CompletedTs != nil {
		s.CompletedTs = update.CompletedTs
	}
	clone := *s
	return &clone, nil
}

func (f *fakeStore) DeleteActiveStreams(ctx context.Context, del *store.DeleteActiveStream) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deleted := 0
	for id, s := range f.streams {
		if del.ID != nil && id != *del.ID {
			continue
		}
		if del.CompletedBefore != nil {
			if s.CompletedTs == nil || *s.CompletedTs >= *del.CompletedBefore {
				continue
			}
		}
		delete(f.streams, id)
		deleted++
	}
	return deleted, nil
}

func (f *fakeStore) getStream(id string) *store.ActiveStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.streams[id]; ok {
		clone := *s
		return &clone
	}
	return nil
}

func (f *fakeStore) getMessage(id int64) *store.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.messages[id]; ok {
		clone := *m
		return &clone
	}
	return nil
}

// scriptedLLM plays back pre-programmed turns.
type scriptTurn struct {
	chunks []llm.Chunk
	result *llm.StreamResult
	err    error
	// blockUntilCancel holds the stream open after the chunks until the
	// caller's context is cancelled, simulating a hanging provider.
	blockUntilCancel bool
}

type scriptedLLM struct {
	mu    sync.Mutex
	turns []scriptTurn
	calls int
}

func (s *scriptedLLM) Chat(ctx context.Context, messages []llm.Message) (string, *llm.CallStats, error) {
	return "", nil, errors.New("not scripted")
}

func (s *scriptedLLM) ChatStreamWithTools(ctx context.Context, messages []llm.Message, descriptors []llm.ToolDescriptor) (<-chan llm.Chunk, <-chan *llm.StreamResult, <-chan error) {
	s.mu.Lock()
	s.calls++
	var turn scriptTurn
	if len(s.turns) > 0 {
		turn = s.turns[0]
		s.turns = s.turns[1:]
	}
	s.mu.Unlock()

	chunkChan := make(chan llm.Chunk, len(turn.chunks)+1)
	resultChan := make(chan *llm.StreamResult, 1)
	errChan := make(chan error, 1)

	go func() {
		defer close(chunkChan)
		defer close(resultChan)
		defer close(errChan)

		for _, c := range turn.chunks {
			select {
			case chunkChan <- c:
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}
		}
		if turn.blockUntilCancel {
			<-ctx.Done()
			errChan <- ctx.Err()
			return
		}
		if turn.err != nil {
			errChan <- turn.err
			return
		}
		if turn.result != nil {
			resultChan <- turn.result
		}
	}()

	return chunkChan, resultChan, errChan
}

func (s *scriptedLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	store     *fakeStore
	llm       *scriptedLLM
	tracker   *stream.Tracker
	registry  *tools.Registry
	toolCalls *[]string
}

func newHarness(t *testing.T, turns []scriptTurn) *harness {
	t.Helper()

	fs := newFakeStore()
	fs.threads[1] = &store.Thread{ID: 1, UID: "t1", Title: "New chat", TitleSource: store.TitleSourceDefault}
	fs.models["gpt-4o"] = &store.ChatModel{
		ID: "gpt-4o", Provider: "openai", Model: "gpt-4o",
		InputRate: 0.000002, OutputRate: 0.00001, Enabled: true,
	}

	scripted := &scriptedLLM{turns: turns}
	tracker := stream.NewTracker(fs, stream.Options{FlushThreshold: 1, DebounceWindow: time.Millisecond})

	registry := tools.NewRegistry()
	calls := []string{}
	h := &harness{store: fs, llm: scripted, tracker: tracker, registry: registry, toolCalls: &calls}

	var mu sync.Mutex
	record := func(name, result string) tools.Executor {
		return func(ctx context.Context, arguments string) (string, error) {
			mu.Lock()
			calls = append(calls, name)
			mu.Unlock()
			return result, nil
		}
	}
	registry.Register(tools.Definition{Name: "search", Parameters: "{}"},
		record("search", `{"query":"go","results":[{"title":"Go","url":"https://go.dev","snippet":"golang"}]}`))
	registry.Register(tools.Definition{Name: "web_fetch", Parameters: "{}"},
		record("web_fetch", `{"url":"https://go.dev/doc","title":"Docs","status":200,"contentType":"text/html"}`))

	return h
}

func (h *harness) orchestrator(maxToolIterations int) *Orchestrator {
	return New(Options{
		Store:             h.store,
		LLM:               h.llm,
		Tracker:           h.tracker,
		Registry:          h.registry,
		Policy:            trace.DefaultPolicy(),
		MaxToolIterations: maxToolIterations,
	})
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	collected := make([]Event, 0)
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return collected
			}
			collected = append(collected, e)
		case <-timeout:
			t.Fatal("timed out collecting events")
		}
	}
}

func eventsOfType(events []Event, typ EventType) []Event {
	matched := make([]Event, 0)
	for _, e := range events {
		if e.Type == typ {
			matched = append(matched, e)
		}
	}
	return matched
}

func toolCall(name, arguments string) llm.ToolCall {
	return llm.ToolCall{
		ID:       "call_" + name,
		Type:     "function",
		Function: llm.FunctionCall{Name: name, Arguments: arguments},
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRun_TwoToolIterationsThenFinalText(t *testing.T) {
	turns := []scriptTurn{
		{result: &llm.StreamResult{
			ToolCalls: []llm.ToolCall{toolCall("search", `{"query":"go"}`)},
			Stats:     &llm.CallStats{PromptTokens: 100, CompletionTokens: 20},
		}},
		{result: &llm.StreamResult{
			ToolCalls: []llm.ToolCall{toolCall("web_fetch", `{"url":"https://go.dev/doc"}`)},
			Stats:     &llm.CallStats{PromptTokens: 200, CompletionTokens: 30},
		}},
		{
			chunks: []llm.Chunk{{Content: "Go is "}, {Content: "a language."}},
			result: &llm.StreamResult{
				Content: "Go is a language.",
				Stats:   &llm.CallStats{PromptTokens: 700, CompletionTokens: 450},
			},
		},
	}
	h := newHarness(t, turns)
	o := h.orchestrator(10)

	events := collect(t, o.Run(context.Background(), &StartRequest{
		ThreadID: 1, Content: "tell me about go", ModelID: "gpt-4o",
	}))

	require.NotEmpty(t, events)
	assert.Equal(t, EventTypeMeta, events[0].Type)
	assert.Equal(t, EventTypeStreamID, events[1].Type)

	toolEvents := eventsOfType(events, EventTypeTool)
	require.Len(t, toolEvents, 2)
	assert.Equal(t, "search", toolEvents[0].Tool.Name)
	assert.Equal(t, "web_fetch", toolEvents[1].Tool.Name)
	assert.Equal(t, []string{"search", "web_fetch"}, *h.toolCalls)

	deltas := eventsOfType(events, EventTypeDelta)
	require.Len(t, deltas, 2)

	done := eventsOfType(events, EventTypeDone)
	require.Len(t, done, 1)
	assert.Empty(t, eventsOfType(events, EventTypeError))

	payload := done[0].Done
	assert.Equal(t, "Go is a language.", payload.AssistantMessage.Content)
	assert.Equal(t, 1000, payload.PromptTokens)
	assert.Equal(t, 500, payload.CompletionTokens)
	assert.Equal(t, 0.007, payload.TotalCost)

	toolTraceEvents := 0
	for _, e := range payload.AssistantMessage.Trace {
		if e.Type == trace.EventKindTool {
			toolTraceEvents++
		}
	}
	assert.Equal(t, 2, toolTraceEvents)

	// Sources extracted from both tools, deduplicated by URL.
	urls := make([]string, 0)
	for _, s := range payload.AssistantMessage.Sources {
		urls = append(urls, s.URL)
	}
	assert.ElementsMatch(t, []string{"https://go.dev", "https://go.dev/doc"}, urls)

	// The stream ended completed.
	streamEvents := eventsOfType(events, EventTypeStreamID)
	require.Len(t, streamEvents, 1)
	assert.Equal(t, store.StreamStatusCompleted, h.store.getStream(streamEvents[0].StreamID).Status)
}

func TestRun_InvalidAttachmentFailsBeforeProviderCall(t *testing.T) {
	h := newHarness(t, nil)
	h.store.attachments["att1"] = &store.Attachment{UID: "att1", ThreadID: 99}
	o := h.orchestrator(10)

	events := collect(t, o.Run(context.Background(), &StartRequest{
		ThreadID: 1, Content: "hello", ModelID: "gpt-4o", AttachmentUIDs: []string{"att1"},
	}))

	require.Len(t, events, 1)
	assert.Equal(t, EventTypeError, events[0].Type)
	assert.Contains(t, events[0].Error.Message, "invalid input")

	// No provider call, no persistence.
	assert.Equal(t, 0, h.llm.callCount())
	messages, err := h.store.ListMessages(context.Background(), &store.FindMessage{})
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestRun_EmptyContentIsInvalidInput(t *testing.T) {
	h := newHarness(t, nil)
	o := h.orchestrator(10)

	events := collect(t, o.Run(context.Background(), &StartRequest{
		ThreadID: 1, Content: "   ", ModelID: "gpt-4o",
	}))

	require.Len(t, events, 1)
	assert.Equal(t, EventTypeError, events[0].Type)
	assert.Equal(t, 0, h.llm.callCount())
}

func TestRun_UnknownModelIsInvalidInput(t *testing.T) {
	h := newHarness(t, nil)
	o := h.orchestrator(10)

	events := collect(t, o.Run(context.Background(), &StartRequest{
		ThreadID: 1, Content: "hello", ModelID: "no-such-model",
	}))

	require.Len(t, events, 1)
	assert.Equal(t, EventTypeError, events[0].Type)
	assert.Equal(t, 0, h.llm.callCount())
}

func TestRun_ZeroToolIterationsFailsWithoutToolCall(t *testing.T) {
	turns := []scriptTurn{
		{result: &llm.StreamResult{
			ToolCalls: []llm.ToolCall{toolCall("search", `{"query":"go"}`)},
			Stats:     &llm.CallStats{PromptTokens: 10, CompletionTokens: 5},
		}},
	}
	h := newHarness(t, turns)
	o := h.orchestrator(-1)

	events := collect(t, o.Run(context.Background(), &StartRequest{
		ThreadID: 1, Content: "hello", ModelID: "gpt-4o",
	}))

	errs := eventsOfType(events, EventTypeError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error.Message, "tool iteration limit")

	// The tool itself was never dispatched.
	assert.Empty(t, *h.toolCalls)

	streamEvents := eventsOfType(events, EventTypeStreamID)
	require.Len(t, streamEvents, 1)
	assert.Equal(t, store.StreamStatusFailed, h.store.getStream(streamEvents[0].StreamID).Status)
}

func TestRun_ProviderErrorFailsStream(t *testing.T) {
	turns := []scriptTurn{{err: errors.New("upstream 500")}}
	h := newHarness(t, turns)
	o := h.orchestrator(10)

	events := collect(t, o.Run(context.Background(), &StartRequest{
		ThreadID: 1, Content: "hello", ModelID: "gpt-4o",
	}))

	errs := eventsOfType(events, EventTypeError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error.Message, "upstream 500")

	streamEvents := eventsOfType(events, EventTypeStreamID)
	require.Len(t, streamEvents, 1)
	assert.Equal(t, store.StreamStatusFailed, h.store.getStream(streamEvents[0].StreamID).Status)
}

func TestRun_DisconnectLeavesStreamPendingThenResumeContinues(t *testing.T) {
	partial := "The answer begins here"
	turns := []scriptTurn{
		{chunks: []llm.Chunk{{Content: partial}}, blockUntilCancel: true},
		{
			chunks: []llm.Chunk{{Content: " and ends here."}},
			result: &llm.StreamResult{
				Content: " and ends here.",
				Stats:   &llm.CallStats{PromptTokens: 50, CompletionTokens: 25},
			},
		},
	}
	h := newHarness(t, turns)
	o := h.orchestrator(10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := o.Run(ctx, &StartRequest{ThreadID: 1, Content: "long question", ModelID: "gpt-4o"})

	var streamID string
	for e := range events {
		if e.Type == EventTypeStreamID {
			streamID = e.StreamID
		}
		if e.Type == EventTypeDelta {
			// Client disconnects mid-delta.
			cancel()
		}
	}
	require.NotEmpty(t, streamID)

	// The stream must settle into pending with the partial flushed.
	require.Eventually(t, func() bool {
		s := h.store.getStream(streamID)
		return s != nil && s.Status == store.StreamStatusPending && s.PartialContent == partial
	}, 2*time.Second, 10*time.Millisecond)

	resumed := collect(t, o.Resume(context.Background(), streamID))

	catchups := eventsOfType(resumed, EventTypeCatchup)
	require.Len(t, catchups, 1)
	assert.Equal(t, partial, catchups[0].Catchup.PartialContent)

	done := eventsOfType(resumed, EventTypeDone)
	require.Len(t, done, 1)

	final := done[0].Done.AssistantMessage.Content
	assert.True(t, strings.HasPrefix(final, partial),
		"final content %q must have partial %q as prefix", final, partial)
	assert.Equal(t, partial+" and ends here.", final)

	assert.Equal(t, store.StreamStatusCompleted, h.store.getStream(streamID).Status)
	assert.Equal(t, final, h.store.getMessage(done[0].Done.AssistantMessage.ID).Content)
}

func TestResume_UnknownStreamNotResumable(t *testing.T) {
	h := newHarness(t, nil)
	o := h.orchestrator(10)

	events := collect(t, o.Resume(context.Background(), "missing"))
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeError, events[0].Type)
	assert.Contains(t, events[0].Error.Message, "not resumable")
}

func TestResume_CompletedStreamNotResumable(t *testing.T) {
	turns := []scriptTurn{
		{chunks: []llm.Chunk{{Content: "done"}}, result: &llm.StreamResult{Content: "done", Stats: &llm.CallStats{}}},
	}
	h := newHarness(t, turns)
	o := h.orchestrator(10)

	events := collect(t, o.Run(context.Background(), &StartRequest{
		ThreadID: 1, Content: "hello", ModelID: "gpt-4o",
	}))
	streamEvents := eventsOfType(events, EventTypeStreamID)
	require.Len(t, streamEvents, 1)

	resumed := collect(t, o.Resume(context.Background(), streamEvents[0].StreamID))
	require.Len(t, resumed, 1)
	assert.Equal(t, EventTypeError, resumed[0].Type)
}

func TestCost(t *testing.T) {
	assert.Equal(t, 0.007, Cost(1000, 500, 0.000002, 0.00001))
	assert.Equal(t, 0.0, Cost(0, 0, 0.000002, 0.00001))
	// Fractional-cent costs survive rounding.
	assert.Equal(t, 0.00000246, Cost(123, 0, 0.00000002, 0))
}

func TestRun_ReasoningDeltasCoalesceIntoOneTraceEvent(t *testing.T) {
	turns := []scriptTurn{
		{
			chunks: []llm.Chunk{
				{Reasoning: "thinking about "},
				{Reasoning: "the question"},
				{Content: "Answer."},
			},
			result: &llm.StreamResult{Content: "Answer.", Reasoning: "thinking about the question", Stats: &llm.CallStats{}},
		},
	}
	h := newHarness(t, turns)
	o := h.orchestrator(10)

	events := collect(t, o.Run(context.Background(), &StartRequest{
		ThreadID: 1, Content: "hello", ModelID: "gpt-4o",
	}))

	reasoning := eventsOfType(events, EventTypeReasoning)
	require.Len(t, reasoning, 2)

	done := eventsOfType(events, EventTypeDone)
	require.Len(t, done, 1)
	tr := done[0].Done.AssistantMessage.Trace
	require.Len(t, tr, 1)
	assert.Equal(t, trace.EventKindReasoning, tr[0].Type)
	assert.Equal(t, "thinking about the question", tr[0].Content)
}
