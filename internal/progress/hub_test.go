package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

// TestHubBatchBySize verifies the hub flushes immediately once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	evt := sampleEvent(KindProgress)
	hub.Emit(evt)
	hub.Emit(evt)
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1 && len(sink.Batches()[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(KindStatus))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubEmitNonBlockingWithoutConsumers asserts Emit never blocks callers, even without sinks.
func TestHubEmitNonBlockingWithoutConsumers(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:    Config{},
		events: make(chan Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(KindLog))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.NotZero(t, hub.dropLimiter.last.Load(), "drop warning should have been logged")
}

// TestRateLimiterRecordsLastAllow covers both the throttled and unthrottled limiter.
func TestRateLimiterRecordsLastAllow(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)

	var open rateLimiter
	require.True(t, open.Allow(now))
	require.Equal(t, now.UnixNano(), open.last.Load())
	require.True(t, open.Allow(now))

	throttled := rateLimiter{interval: time.Second}
	require.True(t, throttled.Allow(now))
	require.False(t, throttled.Allow(now.Add(500*time.Millisecond)))
	require.True(t, throttled.Allow(now.Add(2*time.Second)))
	require.Equal(t, now.Add(2*time.Second).UnixNano(), throttled.last.Load())
}

// TestHubDiscardsInvalidEvents keeps malformed events away from sinks.
func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)

	hub.Emit(Event{TS: time.Now(), Kind: KindLog, Message: "no run id"})
	hub.Emit(Event{RunID: "r", TS: time.Now(), Kind: "bogus"})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

// TestHubFlushOnClose ensures Close drains any buffered events before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	hub.Emit(sampleEvent(KindProgress))

	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	require.Equal(t, 1, sink.Closed())

	hub.Emit(sampleEvent(KindProgress))
	require.Len(t, sink.Batches(), 1)
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	now := time.Now()
	cases := []struct {
		name string
		evt  Event
		ok   bool
	}{
		{"status", Event{RunID: "r", TS: now, Kind: KindStatus, Status: cloner.StatusPending}, true},
		{"status missing", Event{RunID: "r", TS: now, Kind: KindStatus}, false},
		{"progress", Event{RunID: "r", TS: now, Kind: KindProgress, Percent: 100}, true},
		{"progress overflow", Event{RunID: "r", TS: now, Kind: KindProgress, Percent: 101}, false},
		{"log empty", Event{RunID: "r", TS: now, Kind: KindLog}, false},
		{"no timestamp", Event{RunID: "r", Kind: KindLog, Message: "x"}, false},
		{"negative duration", Event{RunID: "r", TS: now, Kind: KindLog, Message: "x", Dur: -1}, false},
	}
	for _, tc := range cases {
		err := tc.evt.Validate()
		if tc.ok {
			require.NoError(t, err, tc.name)
		} else {
			require.Error(t, err, tc.name)
		}
	}
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  int
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *stubSink) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(kind Kind) Event {
	return Event{
		RunID:   "run-1",
		URL:     "https://example.com",
		TS:      time.Now(),
		Kind:    kind,
		Status:  cloner.StatusAnalyzing,
		Percent: 10,
		Message: "fetching",
	}
}
