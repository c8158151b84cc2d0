package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prochat/prochat/ai/trace"
	"github.com/prochat/prochat/store"
)

// memoryStore is an in-memory Store for tracker tests.
type memoryStore struct {
	mu      sync.Mutex
	streams map[string]*store.ActiveStream
	updates int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{streams: make(map[string]*store.ActiveStream)}
}

func (m *memoryStore) CreateActiveStream(ctx context.Context, create *store.ActiveStream) (*store.ActiveStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *create
	m.streams[create.ID] = &clone
	return create, nil
}

func (m *memoryStore) ListActiveStreams(ctx context.Context, find *store.FindActiveStream) ([]*store.ActiveStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]*store.ActiveStream, 0)
	for _, s := range m.streams {
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

func (m *memoryStore) UpdateActiveStream(ctx context.Context, update *store.UpdateActiveStream) (*store.ActiveStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	s, ok := m.streams[update.ID]
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

func (m *memoryStore) DeleteActiveStreams(ctx context.Context, del *store.DeleteActiveStream) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for id, s := range m.streams {
		if del.ID != nil && id != *del.ID {
			continue
		}
		if del.CompletedBefore != nil {
			if s.CompletedTs == nil || *s.CompletedTs >= *del.CompletedBefore {
				continue
			}
		}
		delete(m.streams, id)
		deleted++
	}
	return deleted, nil
}

func (m *memoryStore) get(id string) *store.ActiveStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.streams[id]; ok {
		clone := *s
		return &clone
	}
	return nil
}

func (m *memoryStore) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

func TestTracker_StartStreamCancelsExisting(t *testing.T) {
	ms := newMemoryStore()
	tracker := NewTracker(ms, Options{})
	ctx := context.Background()

	first, err := tracker.StartStream(ctx, 1, 100, "gpt-4o", "")
	require.NoError(t, err)

	second, err := tracker.StartStream(ctx, 1, 101, "gpt-4o", "")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	assert.Equal(t, store.StreamStatusCancelled, ms.get(first.ID).Status)
	assert.Equal(t, store.StreamStatusActive, ms.get(second.ID).Status)
	assert.NotNil(t, ms.get(first.ID).CompletedTs)
}

func TestTracker_StartStreamLeavesOtherThreadsAlone(t *testing.T) {
	ms := newMemoryStore()
	tracker := NewTracker(ms, Options{})
	ctx := context.Background()

	a, err := tracker.StartStream(ctx, 1, 100, "gpt-4o", "")
	require.NoError(t, err)
	b, err := tracker.StartStream(ctx, 2, 200, "gpt-4o", "")
	require.NoError(t, err)

	assert.Equal(t, store.StreamStatusActive, ms.get(a.ID).Status)
	assert.Equal(t, store.StreamStatusActive, ms.get(b.ID).Status)
}

func TestTracker_UpdateProgressImmediateFlushOverThreshold(t *testing.T) {
	ms := newMemoryStore()
	tracker := NewTracker(ms, Options{FlushThreshold: 10, DebounceWindow: time.Hour})
	ctx := context.Background()

	s, err := tracker.StartStream(ctx, 1, 100, "gpt-4o", "")
	require.NoError(t, err)

	// Under threshold: buffered only, nothing persisted yet.
	require.NoError(t, tracker.UpdateProgress(ctx, s.ID, "short", nil))
	assert.Empty(t, ms.get(s.ID).PartialContent)

	// Over threshold: flushed immediately despite the huge debounce.
	long := "this is well over ten characters"
	require.NoError(t, tracker.UpdateProgress(ctx, s.ID, long, nil))
	assert.Equal(t, long, ms.get(s.ID).PartialContent)
}

func TestTracker_UpdateProgressDebouncedFlush(t *testing.T) {
	ms := newMemoryStore()
	tracker := NewTracker(ms, Options{FlushThreshold: 1000, DebounceWindow: 20 * time.Millisecond})
	ctx := context.Background()

	s, err := tracker.StartStream(ctx, 1, 100, "gpt-4o", "")
	require.NoError(t, err)

	require.NoError(t, tracker.UpdateProgress(ctx, s.ID, "partial text", nil))
	assert.Empty(t, ms.get(s.ID).PartialContent)

	assert.Eventually(t, func() bool {
		return ms.get(s.ID).PartialContent == "partial text"
	}, time.Second, 5*time.Millisecond)
}

func TestTracker_TerminalTransitionCancelsDebounce(t *testing.T) {
	ms := newMemoryStore()
	tracker := NewTracker(ms, Options{FlushThreshold: 1000, DebounceWindow: 20 * time.Millisecond})
	ctx := context.Background()

	s, err := tracker.StartStream(ctx, 1, 100, "gpt-4o", "")
	require.NoError(t, err)

	require.NoError(t, tracker.UpdateProgress(ctx, s.ID, "will not be written", nil))
	require.NoError(t, tracker.CompleteStream(ctx, s.ID))

	updatesAtComplete := ms.updateCount()
	time.Sleep(60 * time.Millisecond)

	// The armed timer must not have fired a late write.
	assert.Equal(t, updatesAtComplete, ms.updateCount())
	assert.Equal(t, store.StreamStatusCompleted, ms.get(s.ID).Status)
	assert.Empty(t, ms.get(s.ID).PartialContent)
}

func TestTracker_MarkPendingFlushesFirst(t *testing.T) {
	ms := newMemoryStore()
	tracker := NewTracker(ms, Options{FlushThreshold: 1000, DebounceWindow: time.Hour})
	ctx := context.Background()

	s, err := tracker.StartStream(ctx, 1, 100, "gpt-4o", "")
	require.NoError(t, err)

	events := []trace.Event{{ID: "e1", Type: trace.EventKindReasoning, Content: "thinking"}}
	require.NoError(t, tracker.UpdateProgress(ctx, s.ID, "buffered content", events))
	require.NoError(t, tracker.MarkPending(ctx, s.ID))

	got := ms.get(s.ID)
	assert.Equal(t, store.StreamStatusPending, got.Status)
	assert.Equal(t, "buffered content", got.PartialContent)
	require.Len(t, got.PartialTrace, 1)
	assert.Equal(t, "thinking", got.PartialTrace[0].Content)
}

func TestTracker_FindResumableStream(t *testing.T) {
	ms := newMemoryStore()
	tracker := NewTracker(ms, Options{PendingTimeout: time.Minute})
	ctx := context.Background()

	s, err := tracker.StartStream(ctx, 1, 100, "gpt-4o", "")
	require.NoError(t, err)
	require.NoError(t, tracker.MarkPending(ctx, s.ID))

	found, err := tracker.FindResumableStream(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, s.ID, found.ID)

	// Active streams are not resumable.
	require.NoError(t, tracker.Reactivate(ctx, s.ID))
	found, err = tracker.FindResumableStream(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestTracker_FindResumableStreamExpiresLazily(t *testing.T) {
	ms := newMemoryStore()
	tracker := NewTracker(ms, Options{PendingTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	s, err := tracker.StartStream(ctx, 1, 100, "gpt-4o", "")
	require.NoError(t, err)
	require.NoError(t, tracker.MarkPending(ctx, s.ID))

	time.Sleep(80 * time.Millisecond)

	found, err := tracker.FindResumableStream(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, found)
	assert.Equal(t, store.StreamStatusFailed, ms.get(s.ID).Status)
}

func TestTracker_CleanupStaleStreams(t *testing.T) {
	ms := newMemoryStore()
	tracker := NewTracker(ms, Options{PendingTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	stale, err := tracker.StartStream(ctx, 1, 100, "gpt-4o", "")
	require.NoError(t, err)
	time.Sleep(80 * time.Millisecond)

	fresh, err := tracker.StartStream(ctx, 2, 200, "gpt-4o", "")
	require.NoError(t, err)

	cleaned, err := tracker.CleanupStaleStreams(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned)
	assert.Equal(t, store.StreamStatusFailed, ms.get(stale.ID).Status)
	assert.Equal(t, store.StreamStatusActive, ms.get(fresh.ID).Status)
}

func TestTracker_DeleteOldStreams(t *testing.T) {
	ms := newMemoryStore()
	tracker := NewTracker(ms, Options{RetentionAge: 50 * time.Millisecond})
	ctx := context.Background()

	old, err := tracker.StartStream(ctx, 1, 100, "gpt-4o", "")
	require.NoError(t, err)
	require.NoError(t, tracker.CompleteStream(ctx, old.ID))

	time.Sleep(80 * time.Millisecond)

	recent, err := tracker.StartStream(ctx, 2, 200, "gpt-4o", "")
	require.NoError(t, err)
	require.NoError(t, tracker.CompleteStream(ctx, recent.ID))

	deleted, err := tracker.DeleteOldStreams(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Nil(t, ms.get(old.ID))
	assert.NotNil(t, ms.get(recent.ID))
}
