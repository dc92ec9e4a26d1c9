package types

// ============================================================================
// Domain Model Tests
// Purpose: verify ID/handle uniqueness under concurrency and config defaults
// ============================================================================

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMessageIDUniqueness tests pairwise-distinct IDs under concurrent creation
func TestMessageIDUniqueness(t *testing.T) {
	const goroutines = 8
	const perGoroutine = 250

	ids := make(chan string, goroutines*perGoroutine)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				ids <- NewMessage([]byte("x")).ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		require.False(t, seen[id], "duplicate message ID %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, goroutines*perGoroutine)
}

// TestHandleUniqueness tests fresh handles per delivery
func TestHandleUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		h := NewHandle()
		require.False(t, seen[h])
		seen[h] = true
	}
}

// TestDefaultConfig tests the documented defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 30*time.Second, cfg.VisibilityTimeout)
	assert.Equal(t, time.Second, cfg.ScanInterval)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Empty(t, cfg.DeadLetterQueue)
	assert.Empty(t, cfg.LogDir)
}

// TestWithDefaults tests zero-value backfill without clobbering settings
func TestWithDefaults(t *testing.T) {
	cfg := QueueConfig{
		VisibilityTimeout: 100 * time.Millisecond,
		MaxRetries:        7,
		LogDir:            "/tmp/wal",
	}.WithDefaults()

	assert.Equal(t, 100*time.Millisecond, cfg.VisibilityTimeout)
	assert.Equal(t, DefaultScanInterval, cfg.ScanInterval)
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.Equal(t, "/tmp/wal", cfg.LogDir)

	empty := QueueConfig{}.WithDefaults()
	assert.Equal(t, DefaultConfig().VisibilityTimeout, empty.VisibilityTimeout)
	assert.Equal(t, DefaultConfig().MaxRetries, empty.MaxRetries)
}
