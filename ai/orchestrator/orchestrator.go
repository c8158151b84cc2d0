// Package orchestrator runs the tool-augmented generation loop behind
// both streaming entry points, feeding progress through the stream
// tracker so turns survive client disconnects.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/prochat/prochat/ai/llm"
	"github.com/prochat/prochat/ai/metrics"
	"github.com/prochat/prochat/ai/stream"
	"github.com/prochat/prochat/ai/tools"
	"github.com/prochat/prochat/ai/trace"
	"github.com/prochat/prochat/store"
)

// DefaultMaxToolIterations bounds the generate -> tools loop.
const DefaultMaxToolIterations = 10

// memoryTranscriptBudget caps how much memory file content enters the
// transcript.
const memoryTranscriptBudget = 8 << 10

const systemPrompt = `You are a helpful assistant. Use the available tools when they improve your answer: search the web for current information, fetch pages for details, execute code for computation, and read or write memory for durable notes. Cite sources when you used them. Answer in the user's language.`

// Store is the persistence surface the orchestrator needs.
type Store interface {
	GetThread(ctx context.Context, find *store.FindThread) (*store.Thread, error)
	UpdateThread(ctx context.Context, update *store.UpdateThread) (*store.Thread, error)
	CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error)
	ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error)
	GetMessage(ctx context.Context, find *store.FindMessage) (*store.Message, error)
	UpdateMessage(ctx context.Context, update *store.UpdateMessage) (*store.Message, error)
	ListAttachments(ctx context.Context, find *store.FindAttachment) ([]*store.Attachment, error)
	GetChatModel(ctx context.Context, id string) (*store.ChatModel, error)
}

// Titler generates a thread title from the first exchange.
type Titler interface {
	Generate(ctx context.Context, userMessage, aiResponse string) (string, error)
}

// Orchestrator wires the model, tools, tracker and store into turns.
type Orchestrator struct {
	store             Store
	llm               llm.Service
	tracker           *stream.Tracker
	registry          *tools.Registry
	titler            Titler
	exporter          *metrics.Exporter
	policy            trace.Policy
	maxToolIterations int
	memoryDir         string
}

// Options configures an Orchestrator.
type Options struct {
	Store    Store
	LLM      llm.Service
	Tracker  *stream.Tracker
	Registry *tools.Registry
	Titler   Titler            // optional
	Exporter *metrics.Exporter // optional
	Policy   trace.Policy
	// MaxToolIterations < 0 means zero iterations; 0 means default.
	MaxToolIterations int
	MemoryDir         string
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	maxIterations := opts.MaxToolIterations
	if maxIterations == 0 {
		maxIterations = DefaultMaxToolIterations
	} else if maxIterations < 0 {
		maxIterations = 0
	}
	return &Orchestrator{
		store:             opts.Store,
		llm:               opts.LLM,
		tracker:           opts.Tracker,
		registry:          opts.Registry,
		titler:            opts.Titler,
		exporter:          opts.Exporter,
		policy:            opts.Policy,
		maxToolIterations: maxIterations,
		memoryDir:         opts.MemoryDir,
	}
}

// StartRequest is the input of the start entry point.
type StartRequest struct {
	ThreadID       int32
	Content        string
	ModelID        string
	ThinkingLevel  string
	AttachmentUIDs []string
	ClientContext  string
}

// turnState carries everything a generation turn accumulates.
type turnState struct {
	streamID         string
	thread           *store.Thread
	model            *store.ChatModel
	userMessage      *store.Message
	assistantMessage *store.Message
	content          string
	trace            []trace.Event
	sources          []trace.Source
	promptTokens     int
	completionTokens int
	firstTurn        bool
	startTime        time.Time
}

// Run executes one turn for a new user message. Events arrive in order
// on the returned channel, ending with exactly one done or error frame;
// the channel closes when the turn ends. Cancelling ctx aborts the
// provider call and leaves the stream pending for a later resume,
// without a terminal frame (the caller has detached).
func (o *Orchestrator) Run(ctx context.Context, req *StartRequest) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		o.run(ctx, req, events)
	}()
	return events
}

func (o *Orchestrator) run(ctx context.Context, req *StartRequest, events chan<- Event) {
	emit := emitter(ctx, events)

	st, attachments, err := o.validate(ctx, req)
	if err != nil {
		emit(Event{Type: EventTypeError, Error: &ErrorPayload{Message: err.Error()}})
		return
	}

	prior, err := o.store.ListMessages(ctx, &store.FindMessage{ThreadID: &req.ThreadID})
	if err != nil {
		emit(Event{Type: EventTypeError, Error: &ErrorPayload{Message: "failed to load thread history"}})
		return
	}
	st.firstTurn = len(prior) == 0

	now := time.Now().UnixMilli()
	st.userMessage, err = o.store.CreateMessage(ctx, &store.Message{
		UID:       shortuuid.New(),
		ThreadID:  req.ThreadID,
		Role:      store.MessageRoleUser,
		Content:   req.Content,
		CreatedTs: now,
		UpdatedTs: now,
	})
	if err != nil {
		emit(Event{Type: EventTypeError, Error: &ErrorPayload{Message: "failed to persist user message"}})
		return
	}

	if !emit(Event{Type: EventTypeMeta, Meta: &MetaPayload{ThreadID: req.ThreadID, ModelID: req.ModelID}}) {
		return
	}

	activeStream, err := o.tracker.StartStream(ctx, req.ThreadID, st.userMessage.ID, req.ModelID, req.ThinkingLevel)
	if err != nil {
		emit(Event{Type: EventTypeError, Error: &ErrorPayload{Message: "failed to start stream"}})
		return
	}
	st.streamID = activeStream.ID
	if !emit(Event{Type: EventTypeStreamID, StreamID: activeStream.ID}) {
		o.abort(st)
		return
	}

	if err := o.createAssistantPlaceholder(ctx, st); err != nil {
		o.fail(st, emit, "failed to create assistant message")
		return
	}

	transcript := o.buildTranscript(ctx, st, prior, attachments, req.Content, req.ClientContext)
	o.generate(ctx, st, transcript, emit)
}

// Resume continues a pending stream. It replays persisted progress via
// a catchup frame, reactivates the stream, and keeps generating so the
// final assistant message has the replayed partial content as an exact
// prefix.
func (o *Orchestrator) Resume(ctx context.Context, streamID string) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		o.resume(ctx, streamID, events)
	}()
	return events
}

func (o *Orchestrator) resume(ctx context.Context, streamID string, events chan<- Event) {
	emit := emitter(ctx, events)

	s, err := o.tracker.GetStream(ctx, streamID)
	if err != nil {
		emit(Event{Type: EventTypeError, Error: &ErrorPayload{Message: "failed to load stream"}})
		return
	}
	if s == nil || s.Status != store.StreamStatusPending {
		emit(Event{Type: EventTypeError, Error: &ErrorPayload{Message: ErrStreamNotResumable.Error()}})
		return
	}

	// Lazy expiry: the tracker fails the stream if it sat pending too
	// long, and the resume is rejected.
	resumable, err := o.tracker.FindResumableStream(ctx, s.ThreadID)
	if err != nil || resumable == nil || resumable.ID != streamID {
		emit(Event{Type: EventTypeError, Error: &ErrorPayload{Message: ErrStreamNotResumable.Error()}})
		return
	}
	s = resumable

	st := &turnState{
		streamID:  s.ID,
		content:   s.PartialContent,
		trace:     s.PartialTrace,
		startTime: time.Now(),
	}

	st.thread, err = o.store.GetThread(ctx, &store.FindThread{ID: &s.ThreadID})
	if err != nil || st.thread == nil {
		emit(Event{Type: EventTypeError, Error: &ErrorPayload{Message: "thread no longer exists"}})
		return
	}
	st.model, err = o.store.GetChatModel(ctx, s.ModelID)
	if err != nil || st.model == nil {
		emit(Event{Type: EventTypeError, Error: &ErrorPayload{Message: "model no longer exists"}})
		return
	}
	st.userMessage, err = o.store.GetMessage(ctx, &store.FindMessage{ID: &s.UserMessageID})
	if err != nil || st.userMessage == nil {
		emit(Event{Type: EventTypeError, Error: &ErrorPayload{Message: "user message no longer exists"}})
		return
	}

	if !emit(Event{Type: EventTypeMeta, Meta: &MetaPayload{ThreadID: s.ThreadID, ModelID: s.ModelID}}) {
		return
	}
	if !emit(Event{Type: EventTypeCatchup, Catchup: &CatchupPayload{
		UserMessageID:      s.UserMessageID,
		AssistantMessageID: s.AssistantMessageID,
		PartialContent:     s.PartialContent,
		PartialTrace:       s.PartialTrace,
	}}) {
		return
	}

	if err := o.tracker.Reactivate(ctx, s.ID); err != nil {
		emit(Event{Type: EventTypeError, Error: &ErrorPayload{Message: "failed to reactivate stream"}})
		return
	}

	if s.AssistantMessageID != nil {
		st.assistantMessage, err = o.store.GetMessage(ctx, &store.FindMessage{ID: s.AssistantMessageID})
		if err != nil {
			o.fail(st, emit, "failed to load assistant message")
			return
		}
	}
	if st.assistantMessage == nil {
		if err := o.createAssistantPlaceholder(ctx, st); err != nil {
			o.fail(st, emit, "failed to create assistant message")
			return
		}
	}

	prior, err := o.store.ListMessages(ctx, &store.FindMessage{ThreadID: &s.ThreadID})
	if err != nil {
		o.fail(st, emit, "failed to load thread history")
		return
	}
	// History includes the user turn already; exclude the placeholder.
	transcript := []llm.Message{llm.SystemPrompt(systemPrompt)}
	for _, m := range prior {
		if m.ID == st.assistantMessage.ID {
			continue
		}
		transcript = append(transcript, historyMessage(m))
	}
	if s.PartialContent != "" {
		transcript = append(transcript,
			llm.AssistantMessage(s.PartialContent),
			llm.SystemPrompt("Your previous answer was interrupted mid-generation. Continue it exactly where it stopped. Do not repeat text you already produced and do not restart the answer."),
		)
	}

	o.generate(ctx, st, transcript, emit)
}

// validate resolves all references before any persistence or provider
// call. Violations return wrapped ErrInvalidInput.
func (o *Orchestrator) validate(ctx context.Context, req *StartRequest) (*turnState, []*store.Attachment, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, nil, invalidInputf("content is empty")
	}

	thread, err := o.store.GetThread(ctx, &store.FindThread{ID: &req.ThreadID})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to resolve thread")
	}
	if thread == nil {
		return nil, nil, invalidInputf("thread %d not found", req.ThreadID)
	}

	model, err := o.store.GetChatModel(ctx, req.ModelID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to resolve model")
	}
	if model == nil || !model.Enabled {
		return nil, nil, invalidInputf("model %q not available", req.ModelID)
	}

	var attachments []*store.Attachment
	if len(req.AttachmentUIDs) > 0 {
		attachments, err = o.store.ListAttachments(ctx, &store.FindAttachment{UIDList: req.AttachmentUIDs})
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to resolve attachments")
		}
		if len(attachments) != len(req.AttachmentUIDs) {
			return nil, nil, invalidInputf("unknown attachment reference")
		}
		for _, a := range attachments {
			if a.ThreadID != req.ThreadID {
				return nil, nil, invalidInputf("attachment %s belongs to another thread", a.UID)
			}
		}
	}

	return &turnState{
		thread:    thread,
		model:     model,
		startTime: time.Now(),
	}, attachments, nil
}

func (o *Orchestrator) createAssistantPlaceholder(ctx context.Context, st *turnState) error {
	now := time.Now().UnixMilli()
	created, err := o.store.CreateMessage(ctx, &store.Message{
		UID:       shortuuid.New(),
		ThreadID:  st.thread.ID,
		Role:      store.MessageRoleAssistant,
		ModelID:   st.model.ID,
		CreatedTs: now,
		UpdatedTs: now,
	})
	if err != nil {
		return err
	}
	st.assistantMessage = created
	// Associate before any content lands so resume always finds it.
	return o.tracker.AttachAssistantMessage(ctx, st.streamID, created.ID)
}

func (o *Orchestrator) buildTranscript(ctx context.Context, st *turnState, prior []*store.Message, attachments []*store.Attachment, content, clientContext string) []llm.Message {
	transcript := []llm.Message{llm.SystemPrompt(systemPrompt)}

	if st.firstTurn {
		contextMsg := "Current time: " + time.Now().Format(time.RFC1123)
		if clientContext != "" {
			contextMsg += "\nClient context: " + clientContext
		}
		transcript = append(transcript, llm.SystemPrompt(contextMsg))

		if memory := o.readMemory(); memory != "" {
			transcript = append(transcript, llm.SystemPrompt("Persistent memory from previous conversations:\n"+memory))
		}
	}

	for _, m := range prior {
		if m.ID == st.assistantMessage.ID || m.ID == st.userMessage.ID {
			continue
		}
		transcript = append(transcript, historyMessage(m))
	}

	for _, a := range attachments {
		if a.ExtractedText == "" {
			continue
		}
		transcript = append(transcript, llm.UserMessage(
			fmt.Sprintf("Attached file %q:\n%s", a.Filename, a.ExtractedText)))
	}

	return append(transcript, llm.UserMessage(content))
}

func historyMessage(m *store.Message) llm.Message {
	if m.Role == store.MessageRoleAssistant {
		return llm.AssistantMessage(m.Content)
	}
	return llm.UserMessage(m.Content)
}

// readMemory concatenates memory files up to a fixed budget.
func (o *Orchestrator) readMemory() string {
	if o.memoryDir == "" {
		return ""
	}
	entries, err := os.ReadDir(o.memoryDir)
	if err != nil {
		return ""
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var builder strings.Builder
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(o.memoryDir, name))
		if err != nil {
			continue
		}
		if builder.Len()+len(raw) > memoryTranscriptBudget {
			break
		}
		builder.WriteString("## " + strings.TrimSuffix(name, ".md") + "\n")
		builder.Write(raw)
		builder.WriteString("\n")
	}
	return strings.TrimSpace(builder.String())
}

// generate runs the bounded generate -> tools loop and finalizes the
// turn. It owns every terminal outcome: done, error, or the silent
// pending handoff on caller cancellation.
func (o *Orchestrator) generate(ctx context.Context, st *turnState, transcript []llm.Message, emit func(Event) bool) {
	if o.exporter != nil {
		o.exporter.StreamStarted()
		defer o.exporter.StreamEnded()
	}

	err := o.loop(ctx, st, transcript, emit)
	switch {
	case err == nil:
		o.finalize(ctx, st, emit)
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		// Client detached; keep the turn resumable, surface nothing.
		o.abort(st)
	default:
		slog.Error("generation turn failed", "stream_id", st.streamID, "error", err)
		o.fail(st, emit, err.Error())
	}
}

func (o *Orchestrator) loop(ctx context.Context, st *turnState, transcript []llm.Message, emit func(Event) bool) error {
	definitions := o.registry.Definitions()
	descriptors := make([]llm.ToolDescriptor, len(definitions))
	for i, d := range definitions {
		descriptors[i] = llm.ToolDescriptor{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
	}

	iterations := 0
	for {
		chunks, results, errs := o.llm.ChatStreamWithTools(ctx, transcript, descriptors)

		for chunk := range chunks {
			if chunk.Content != "" {
				st.content += chunk.Content
				if !emit(Event{Type: EventTypeDelta, Delta: chunk.Content}) {
					return context.Canceled
				}
			}
			if chunk.Reasoning != "" {
				st.trace = trace.AppendEvent(st.trace, trace.NewReasoningEvent(chunk.Reasoning), o.policy)
				if !emit(Event{Type: EventTypeReasoning, Reasoning: chunk.Reasoning}) {
					return context.Canceled
				}
			}
			if err := o.tracker.UpdateProgress(ctx, st.streamID, st.content, st.trace); err != nil {
				slog.Warn("progress update failed", "stream_id", st.streamID, "error", err)
			}
		}

		result, ok := <-results
		if !ok {
			if err, ok := <-errs; ok && err != nil {
				return errors.Wrap(err, "provider error")
			}
			return errors.New("provider stream ended without result")
		}
		if result.Stats != nil {
			st.promptTokens += result.Stats.PromptTokens
			st.completionTokens += result.Stats.CompletionTokens
		}

		if len(result.ToolCalls) == 0 {
			return nil
		}
		if iterations >= o.maxToolIterations {
			return ErrToolIterationLimit
		}
		iterations++

		assistantTurn := llm.Message{Role: "assistant", Content: result.Content, ToolCalls: result.ToolCalls}
		transcript = append(transcript, assistantTurn)

		// Sequential dispatch: later calls may depend on side effects
		// of earlier ones.
		for _, call := range result.ToolCalls {
			name := call.Function.Name
			if !emit(Event{Type: EventTypeTool, Tool: &ToolPayload{Name: name, Arguments: call.Function.Arguments}}) {
				return context.Canceled
			}
			st.trace = trace.AppendEvent(st.trace, trace.NewToolEvent(name+" "+call.Function.Arguments), o.policy)

			dispatchStart := time.Now()
			raw := o.registry.Dispatch(ctx, name, call.Function.Arguments)
			decoded := tools.DecodeResult(name, raw)
			if o.exporter != nil {
				o.exporter.RecordToolCall(name, time.Since(dispatchStart), decoded.Kind != tools.ResultKindError)
			}
			if decoded.Kind == tools.ResultKindError {
				slog.Warn("tool returned error payload", "tool", name, "error", decoded.Error.Error)
			}

			extracted := trace.ExtractSources(name, raw, o.policy.MaxSourceSnippetChars)
			st.sources = trace.AppendSources(st.sources, extracted, o.policy)

			transcript = append(transcript, llm.ToolMessage(call.ID, name, raw))

			if err := o.tracker.UpdateProgress(ctx, st.streamID, st.content, st.trace); err != nil {
				slog.Warn("progress update failed", "stream_id", st.streamID, "error", err)
			}
		}
	}
}

// finalize persists the completed assistant message, completes the
// stream, and emits the done frame. Uses a background context so a
// caller cancel arriving this late cannot corrupt the terminal write.
func (o *Orchestrator) finalize(ctx context.Context, st *turnState, emit func(Event) bool) {
	persistCtx := context.WithoutCancel(ctx)
	now := time.Now().UnixMilli()
	durationMs := time.Since(st.startTime).Milliseconds()
	cost := Cost(st.promptTokens, st.completionTokens, st.model.InputRate, st.model.OutputRate)

	finalTrace := trace.Trim(st.trace, o.policy)
	updated, err := o.store.UpdateMessage(persistCtx, &store.UpdateMessage{
		ID:               st.assistantMessage.ID,
		Content:          &st.content,
		Trace:            &finalTrace,
		Sources:          &st.sources,
		PromptTokens:     &st.promptTokens,
		CompletionTokens: &st.completionTokens,
		TotalCost:        &cost,
		DurationMs:       &durationMs,
		UpdatedTs:        &now,
	})
	if err != nil {
		o.fail(st, emit, "failed to persist assistant message")
		return
	}
	st.assistantMessage = updated

	if err := o.tracker.CompleteStream(persistCtx, st.streamID); err != nil {
		slog.Error("failed to complete stream", "stream_id", st.streamID, "error", err)
	}
	if _, err := o.store.UpdateThread(persistCtx, &store.UpdateThread{ID: st.thread.ID, UpdatedTs: &now}); err != nil {
		slog.Warn("failed to touch thread", "thread_id", st.thread.ID, "error", err)
	}

	if st.firstTurn {
		o.generateTitle(st.thread, st.userMessage.Content, st.content)
	}

	if o.exporter != nil {
		o.exporter.RecordTurn(st.model.ID, time.Since(st.startTime), "success")
		o.exporter.RecordTokens(st.model.ID, st.promptTokens, st.completionTokens)
	}

	emit(Event{Type: EventTypeDone, Done: &DonePayload{
		UserMessage:      toMessagePayload(st.userMessage),
		AssistantMessage: toMessagePayload(st.assistantMessage),
		TotalCost:        cost,
		PromptTokens:     st.promptTokens,
		CompletionTokens: st.completionTokens,
		DurationMs:       durationMs,
	}})
}

// generateTitle issues a fire-and-forget title request for the thread's
// first turn, falling back to truncated user content. Never blocks or
// fails the main turn.
func (o *Orchestrator) generateTitle(thread *store.Thread, userContent, assistantContent string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		title := ""
		if o.titler != nil {
			generated, err := o.titler.Generate(ctx, userContent, assistantContent)
			if err == nil {
				title = generated
			} else {
				slog.Warn("title generation failed, using fallback", "thread_id", thread.ID, "error", err)
			}
		}
		if title == "" {
			title = fallbackTitle(userContent)
		}
		if title == "" {
			return
		}

		now := time.Now().UnixMilli()
		source := store.TitleSourceAuto
		if _, err := o.store.UpdateThread(ctx, &store.UpdateThread{
			ID:          thread.ID,
			Title:       &title,
			TitleSource: &source,
			UpdatedTs:   &now,
		}); err != nil {
			slog.Warn("failed to store generated title", "thread_id", thread.ID, "error", err)
		}
	}()
}

func fallbackTitle(content string) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) > 50 {
		return string(runes[:50])
	}
	return content
}

// abort leaves the stream pending after a client disconnect. Progress
// is flushed by MarkPending; nothing is emitted because nobody is
// listening.
func (o *Orchestrator) abort(st *turnState) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.tracker.MarkPending(ctx, st.streamID); err != nil {
		slog.Error("failed to mark stream pending", "stream_id", st.streamID, "error", err)
	}
	if o.exporter != nil {
		o.exporter.RecordTurn(st.model.ID, time.Since(st.startTime), "pending")
	}
}

// fail marks the stream failed and emits the error frame.
func (o *Orchestrator) fail(st *turnState, emit func(Event) bool, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if st.streamID != "" {
		if err := o.tracker.FailStream(ctx, st.streamID); err != nil {
			slog.Error("failed to fail stream", "stream_id", st.streamID, "error", err)
		}
	}
	if o.exporter != nil && st.model != nil {
		o.exporter.RecordTurn(st.model.ID, time.Since(st.startTime), "error")
	}
	emit(Event{Type: EventTypeError, Error: &ErrorPayload{Message: message}})
}

// emitter returns a send helper that reports false once ctx is done, so
// the loop can stop producing for a detached caller.
func emitter(ctx context.Context, events chan<- Event) func(Event) bool {
	return func(e Event) bool {
		select {
		case events <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}
}
