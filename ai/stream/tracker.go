// Package stream tracks the lifecycle of in-flight generation streams
// so they survive client disconnects and can be resumed.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prochat/prochat/ai/trace"
	"github.com/prochat/prochat/store"
)

// Defaults for progress persistence and staleness detection.
const (
	// DefaultFlushThreshold is the unflushed character count that
	// triggers an immediate flush instead of waiting for the debounce.
	DefaultFlushThreshold = 500

	// DefaultDebounceWindow is how long progress sits in memory before
	// being flushed when updates stop arriving.
	DefaultDebounceWindow = 2 * time.Second

	// DefaultPendingTimeout bounds how long a pending stream stays
	// resumable after its last persisted activity.
	DefaultPendingTimeout = 2 * time.Minute

	// DefaultRetentionAge is how long terminal streams are kept before
	// the reaper deletes them.
	DefaultRetentionAge = 24 * time.Hour
)

// Store is the persistence surface the tracker needs.
type Store interface {
	CreateActiveStream(ctx context.Context, create *store.ActiveStream) (*store.ActiveStream, error)
	ListActiveStreams(ctx context.Context, find *store.FindActiveStream) ([]*store.ActiveStream, error)
	UpdateActiveStream(ctx context.Context, update *store.UpdateActiveStream) (*store.ActiveStream, error)
	DeleteActiveStreams(ctx context.Context, delete *store.DeleteActiveStream) (int, error)
}

// Options tune the tracker's persistence behavior. Zero values fall
// back to the defaults above.
type Options struct {
	FlushThreshold int
	DebounceWindow time.Duration
	PendingTimeout time.Duration
	RetentionAge   time.Duration
}

func (o Options) withDefaults() Options {
	if o.FlushThreshold <= 0 {
		o.FlushThreshold = DefaultFlushThreshold
	}
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = DefaultDebounceWindow
	}
	if o.PendingTimeout <= 0 {
		o.PendingTimeout = DefaultPendingTimeout
	}
	if o.RetentionAge <= 0 {
		o.RetentionAge = DefaultRetentionAge
	}
	return o
}

// progressState buffers unflushed progress for one stream.
type progressState struct {
	content        string
	trace          []trace.Event
	lastFlushedLen int
	debounce       *time.Timer
}

// Tracker owns every ActiveStream record mutation. All debounce state
// lives on the instance; the mutex serializes startStream's
// cancel-then-create against concurrent starts for the same thread.
type Tracker struct {
	store Store
	opts  Options

	mu       sync.Mutex
	progress map[string]*progressState
}

// NewTracker creates a tracker over the given store.
func NewTracker(s Store, opts Options) *Tracker {
	return &Tracker{
		store:    s,
		opts:     opts.withDefaults(),
		progress: make(map[string]*progressState),
	}
}

// StartStream cancels any existing active or pending stream for the
// thread, then creates a fresh active record. The tracker mutex is held
// across cancel-then-create so two concurrent starts for the same
// thread serialize and the last writer wins.
func (t *Tracker) StartStream(ctx context.Context, threadID int32, userMessageID int64, modelID, thinkingLevel string) (*store.ActiveStream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, err := t.store.ListActiveStreams(ctx, &store.FindActiveStream{
		ThreadID:   &threadID,
		StatusList: []store.StreamStatus{store.StreamStatusActive, store.StreamStatusPending},
	})
	if err != nil {
		return nil, err
	}
	for _, s := range existing {
		t.clearProgressLocked(s.ID)
		if err := t.transitionLocked(ctx, s.ID, store.StreamStatusCancelled); err != nil {
			return nil, err
		}
		slog.Info("cancelled superseded stream", "stream_id", s.ID, "thread_id", threadID)
	}

	now := time.Now().UnixMilli()
	created, err := t.store.CreateActiveStream(ctx, &store.ActiveStream{
		ID:             uuid.NewString(),
		ThreadID:       threadID,
		UserMessageID:  userMessageID,
		Status:         store.StreamStatusActive,
		ModelID:        modelID,
		ThinkingLevel:  thinkingLevel,
		StartedTs:      now,
		LastActivityTs: now,
	})
	if err != nil {
		return nil, err
	}
	t.progress[created.ID] = &progressState{}
	return created, nil
}

// AttachAssistantMessage records the assistant message id on the stream
// once that message exists. Written before the final message content so
// resume always sees the association.
func (t *Tracker) AttachAssistantMessage(ctx context.Context, streamID string, assistantMessageID int64) error {
	now := time.Now().UnixMilli()
	_, err := t.store.UpdateActiveStream(ctx, &store.UpdateActiveStream{
		ID:                 streamID,
		AssistantMessageID: &assistantMessageID,
		LastActivityTs:     &now,
	})
	return err
}

// UpdateProgress records the accumulated content and trace for a
// stream. The write is flushed immediately when the unflushed delta
// exceeds the threshold; otherwise a debounce timer flushes it after
// the window elapses with no further updates. An immediate flush
// cancels any armed timer.
func (t *Tracker) UpdateProgress(ctx context.Context, streamID, content string, traceEvents []trace.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.progress[streamID]
	if !ok {
		state = &progressState{}
		t.progress[streamID] = state
	}
	state.content = content
	state.trace = traceEvents

	if len(content)-state.lastFlushedLen >= t.opts.FlushThreshold {
		return t.flushLocked(ctx, streamID, state)
	}

	if state.debounce != nil {
		state.debounce.Stop()
	}
	state.debounce = time.AfterFunc(t.opts.DebounceWindow, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		// The stream may have hit a terminal state while the timer was
		// armed; clearProgressLocked removes the entry so this is a
		// no-op then.
		if state, ok := t.progress[streamID]; ok {
			if err := t.flushLocked(context.Background(), streamID, state); err != nil {
				slog.Error("debounced progress flush failed", "stream_id", streamID, "error", err)
			}
		}
	})
	return nil
}

// flushLocked persists buffered progress and stamps lastActivityTs.
// Caller holds the mutex.
func (t *Tracker) flushLocked(ctx context.Context, streamID string, state *progressState) error {
	if state.debounce != nil {
		state.debounce.Stop()
		state.debounce = nil
	}

	now := time.Now().UnixMilli()
	content := state.content
	traceCopy := state.trace
	_, err := t.store.UpdateActiveStream(ctx, &store.UpdateActiveStream{
		ID:             streamID,
		PartialContent: &content,
		PartialTrace:   &traceCopy,
		LastActivityTs: &now,
	})
	if err != nil {
		return err
	}
	state.lastFlushedLen = len(content)
	return nil
}

// MarkPending flushes outstanding progress, then transitions the stream
// to pending. Used when the client disconnects while generation may
// still be running, or when a resume itself disconnects.
func (t *Tracker) MarkPending(ctx context.Context, streamID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if state, ok := t.progress[streamID]; ok {
		if err := t.flushLocked(ctx, streamID, state); err != nil {
			return err
		}
	}
	status := store.StreamStatusPending
	now := time.Now().UnixMilli()
	_, err := t.store.UpdateActiveStream(ctx, &store.UpdateActiveStream{
		ID:             streamID,
		Status:         &status,
		LastActivityTs: &now,
	})
	return err
}

// Reactivate transitions a pending stream back to active on resume.
func (t *Tracker) Reactivate(ctx context.Context, streamID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	status := store.StreamStatusActive
	now := time.Now().UnixMilli()
	_, err := t.store.UpdateActiveStream(ctx, &store.UpdateActiveStream{
		ID:             streamID,
		Status:         &status,
		LastActivityTs: &now,
	})
	if err != nil {
		return err
	}
	if _, ok := t.progress[streamID]; !ok {
		t.progress[streamID] = &progressState{}
	}
	return nil
}

// CompleteStream marks the stream completed. Terminal.
func (t *Tracker) CompleteStream(ctx context.Context, streamID string) error {
	return t.terminate(ctx, streamID, store.StreamStatusCompleted)
}

// FailStream marks the stream failed. Terminal.
func (t *Tracker) FailStream(ctx context.Context, streamID string) error {
	return t.terminate(ctx, streamID, store.StreamStatusFailed)
}

// CancelStream marks the stream cancelled. Terminal.
func (t *Tracker) CancelStream(ctx context.Context, streamID string) error {
	return t.terminate(ctx, streamID, store.StreamStatusCancelled)
}

// terminate clears in-memory debounce state and applies a terminal
// status exactly once. A stale timer can never write after this: the
// progress entry is removed under the same lock.
func (t *Tracker) terminate(ctx context.Context, streamID string, status store.StreamStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.clearProgressLocked(streamID)
	return t.transitionLocked(ctx, streamID, status)
}

func (t *Tracker) clearProgressLocked(streamID string) {
	if state, ok := t.progress[streamID]; ok {
		if state.debounce != nil {
			state.debounce.Stop()
		}
		delete(t.progress, streamID)
	}
}

func (t *Tracker) transitionLocked(ctx context.Context, streamID string, status store.StreamStatus) error {
	now := time.Now().UnixMilli()
	update := &store.UpdateActiveStream{
		ID:             streamID,
		Status:         &status,
		LastActivityTs: &now,
	}
	if status.IsTerminal() {
		update.CompletedTs = &now
	}
	_, err := t.store.UpdateActiveStream(ctx, update)
	return err
}

// GetStream returns the stream by id, or nil when absent.
func (t *Tracker) GetStream(ctx context.Context, streamID string) (*store.ActiveStream, error) {
	streams, err := t.store.ListActiveStreams(ctx, &store.FindActiveStream{ID: &streamID})
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 {
		return nil, nil
	}
	return streams[0], nil
}

// FindResumableStream returns the thread's pending stream if it is
// still within the pending timeout. An expired pending stream is
// transitioned to failed as a side effect and nil is returned; expiry
// is detected lazily here, not by a timer.
func (t *Tracker) FindResumableStream(ctx context.Context, threadID int32) (*store.ActiveStream, error) {
	streams, err := t.store.ListActiveStreams(ctx, &store.FindActiveStream{
		ThreadID:   &threadID,
		StatusList: []store.StreamStatus{store.StreamStatusPending},
	})
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 {
		return nil, nil
	}

	candidate := streams[0]
	cutoff := time.Now().Add(-t.opts.PendingTimeout).UnixMilli()
	if candidate.LastActivityTs < cutoff {
		if err := t.FailStream(ctx, candidate.ID); err != nil {
			return nil, err
		}
		slog.Info("expired pending stream", "stream_id", candidate.ID, "thread_id", threadID)
		return nil, nil
	}
	return candidate, nil
}

// CleanupStaleStreams fails every active or pending stream whose last
// activity predates the pending timeout. Returns the count.
func (t *Tracker) CleanupStaleStreams(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-t.opts.PendingTimeout).UnixMilli()
	stale, err := t.store.ListActiveStreams(ctx, &store.FindActiveStream{
		StatusList:         []store.StreamStatus{store.StreamStatusActive, store.StreamStatusPending},
		LastActivityBefore: &cutoff,
	})
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, s := range stale {
		if err := t.FailStream(ctx, s.ID); err != nil {
			slog.Error("failed to fail stale stream", "stream_id", s.ID, "error", err)
			continue
		}
		cleaned++
	}
	return cleaned, nil
}

// DeleteOldStreams deletes terminal streams completed before
// now - RetentionAge. Returns the count.
func (t *Tracker) DeleteOldStreams(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-t.opts.RetentionAge).UnixMilli()
	return t.store.DeleteActiveStreams(ctx, &store.DeleteActiveStream{CompletedBefore: &cutoff})
}
