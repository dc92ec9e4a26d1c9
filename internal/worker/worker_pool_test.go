package worker

// ============================================================================
// Worker Pool Tests
// Purpose: verify concurrent consumption, ack-on-success, nack-on-error,
//          panic containment, and graceful shutdown
// ============================================================================

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/beaver-mq/internal/queue"
	"github.com/ChuLiYu/beaver-mq/pkg/types"
)

func newTestQueue(t *testing.T, cfg types.QueueConfig) *queue.Queue {
	t.Helper()
	if cfg.VisibilityTimeout == 0 {
		cfg.VisibilityTimeout = 10 * time.Second
	}
	if cfg.ScanInterval == 0 {
		cfg.ScanInterval = 10 * time.Second
	}
	q, err := queue.New("work", cfg)
	require.NoError(t, err)
	t.Cleanup(q.Close)
	return q
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// TestPoolProcessesAll tests that every published message is handled once
func TestPoolProcessesAll(t *testing.T) {
	q := newTestQueue(t, types.QueueConfig{})

	var mu sync.Mutex
	seen := make(map[string]int)

	pool := NewPool(q, func(ctx context.Context, msg *types.Message) error {
		mu.Lock()
		seen[string(msg.Payload)]++
		mu.Unlock()
		return nil
	})
	require.NoError(t, pool.Start(4))
	defer pool.Stop()

	assert.True(t, pool.IsStarted())
	assert.Equal(t, 4, pool.WorkerCount())

	const total = 40
	for i := 0; i < total; i++ {
		require.NoError(t, q.Publish(types.NewMessage([]byte(fmt.Sprintf("m-%d", i)))))
	}

	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == total
	})

	waitFor(t, time.Second, func() bool {
		s := q.Stats()
		return s.Ready == 0 && s.InFlight == 0
	})

	mu.Lock()
	defer mu.Unlock()
	for payload, count := range seen {
		assert.Equal(t, 1, count, "payload %s handled %d times", payload, count)
	}
}

// TestPoolNacksFailures tests redelivery of failed messages
func TestPoolNacksFailures(t *testing.T) {
	q := newTestQueue(t, types.QueueConfig{MaxRetries: 3})

	var mu sync.Mutex
	attempts := 0

	pool := NewPool(q, func(ctx context.Context, msg *types.Message) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("transient failure")
		}
		return nil
	})
	require.NoError(t, pool.Start(1))
	defer pool.Stop()

	require.NoError(t, q.Publish(types.NewMessage([]byte("flaky"))))

	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts == 3
	})

	waitFor(t, time.Second, func() bool {
		s := q.Stats()
		return s.Ready == 0 && s.InFlight == 0 && s.Tracked == 0
	})
}

// TestPoolContainsPanics tests that a panicking handler nacks and survives
func TestPoolContainsPanics(t *testing.T) {
	q := newTestQueue(t, types.QueueConfig{MaxRetries: 2})

	var mu sync.Mutex
	calls := 0

	pool := NewPool(q, func(ctx context.Context, msg *types.Message) error {
		mu.Lock()
		calls++
		mu.Unlock()
		panic("handler exploded")
	})
	require.NoError(t, pool.Start(1))
	defer pool.Stop()

	require.NoError(t, q.Publish(types.NewMessage([]byte("bomb"))))

	// Two panicking deliveries exhaust maxRetries=2; with no DLQ the
	// message is dropped and the worker keeps running.
	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	})

	waitFor(t, time.Second, func() bool {
		s := q.Stats()
		return s.Ready == 0 && s.InFlight == 0
	})
}

// TestPoolStartTwice tests the double-start guard
func TestPoolStartTwice(t *testing.T) {
	q := newTestQueue(t, types.QueueConfig{})
	pool := NewPool(q, func(ctx context.Context, msg *types.Message) error { return nil })

	require.NoError(t, pool.Start(1))
	defer pool.Stop()
	assert.ErrorIs(t, pool.Start(1), ErrPoolStarted)
}

// TestPoolStopJoinsBlockedWorkers tests shutdown with an empty queue
func TestPoolStopJoinsBlockedWorkers(t *testing.T) {
	q := newTestQueue(t, types.QueueConfig{})
	pool := NewPool(q, func(ctx context.Context, msg *types.Message) error { return nil })
	require.NoError(t, pool.Start(3))

	// Workers are blocked in Consume; Stop must cancel and join them.
	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not join blocked workers")
	}

	// Idempotent.
	pool.Stop()
}
