package wal

// ============================================================================
// WAL Tests
// Purpose: verify durable appends, torn-line tolerance, compaction, and the
//          optional batch commit mode
// ============================================================================

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T, opts Options) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "test.log"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

// TestAppendAndRead tests that appended records come back in order
func TestAppendAndRead(t *testing.T) {
	l := openTestLog(t, Options{})

	require.NoError(t, l.Append(NewPublish("m1", []byte("a"), 0)))
	require.NoError(t, l.Append(NewConsume("m1", "h1", 0)))
	require.NoError(t, l.Append(NewAck("h1")))

	records, err := ReadRecords(l.Path())
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, OpPublish, records[0].Op)
	assert.Equal(t, OpConsume, records[1].Op)
	assert.Equal(t, OpAck, records[2].Op)
	assert.Equal(t, "m1", records[0].MsgID)
	assert.Equal(t, []byte("a"), records[0].Payload)
}

// TestReadMissingFile tests that an absent log means no state
func TestReadMissingFile(t *testing.T) {
	records, err := ReadRecords(filepath.Join(t.TempDir(), "nope.log"))
	require.NoError(t, err)
	assert.Empty(t, records)
}

// TestReadSkipsTornFinalLine tests crash tolerance for a partial append
func TestReadSkipsTornFinalLine(t *testing.T) {
	l := openTestLog(t, Options{})
	require.NoError(t, l.Append(NewPublish("m1", []byte("a"), 0)))
	require.NoError(t, l.Append(NewPublish("m2", []byte("b"), 0)))
	require.NoError(t, l.Close())

	// Simulate a crash mid-append: a final line cut short.
	f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"op":"PUBLISH","msg_id":"m3","pay`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, err := ReadRecords(l.Path())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "m1", records[0].MsgID)
	assert.Equal(t, "m2", records[1].MsgID)
}

// TestReadSkipsCorruptMiddleLine tests forward progress past bad lines
func TestReadSkipsCorruptMiddleLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")

	good1, err := NewPublish("m1", []byte("a"), 0).Encode()
	require.NoError(t, err)
	good2, err := NewPublish("m2", []byte("b"), 0).Encode()
	require.NoError(t, err)

	content := append([]byte{}, good1...)
	content = append(content, []byte("garbage line\n")...)
	content = append(content, good2...)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	records, err := ReadRecords(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "m1", records[0].MsgID)
	assert.Equal(t, "m2", records[1].MsgID)
}

// TestCompactReplacesContents tests that compaction leaves exactly the survivors
func TestCompactReplacesContents(t *testing.T) {
	l := openTestLog(t, Options{})
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(NewPublish(fmt.Sprintf("m%d", i), []byte("x"), 0)))
	}

	survivors := []Record{
		NewPublish("m3", []byte("x"), 1),
		NewPublish("m4", []byte("x"), 0),
	}
	require.NoError(t, l.Compact(survivors))

	records, err := ReadRecords(l.Path())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "m3", records[0].MsgID)
	assert.Equal(t, 1, records[0].RetryCount)
	assert.Equal(t, "m4", records[1].MsgID)
}

// TestCompactToEmpty tests that an empty survivor list is a valid log
func TestCompactToEmpty(t *testing.T) {
	l := openTestLog(t, Options{})
	require.NoError(t, l.Append(NewPublish("m1", []byte("a"), 0)))
	require.NoError(t, l.Compact(nil))

	records, err := ReadRecords(l.Path())
	require.NoError(t, err)
	assert.Empty(t, records)

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Empty(t, data)
}

// TestAppendAfterCompact tests that appends land in the compacted file
func TestAppendAfterCompact(t *testing.T) {
	l := openTestLog(t, Options{})
	require.NoError(t, l.Append(NewPublish("old", []byte("x"), 0)))
	require.NoError(t, l.Compact(nil))
	require.NoError(t, l.Append(NewPublish("new", []byte("y"), 0)))

	records, err := ReadRecords(l.Path())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "new", records[0].MsgID)
}

// TestCloseIsIdempotent tests double close and append-after-close
func TestCloseIsIdempotent(t *testing.T) {
	l := openTestLog(t, Options{})
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	err := l.Append(NewPublish("m1", nil, 0))
	assert.ErrorIs(t, err, ErrClosed)

	err = l.Compact(nil)
	assert.ErrorIs(t, err, ErrClosed)
}

// TestBatchModeAppends tests the batch commit knob end to end
func TestBatchModeAppends(t *testing.T) {
	l := openTestLog(t, Options{BatchSize: 8, FlushInterval: 5 * time.Millisecond})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, l.Append(NewPublish(fmt.Sprintf("m%d", i), []byte("x"), 0)))
		}(i)
	}
	wg.Wait()

	records, err := ReadRecords(l.Path())
	require.NoError(t, err)
	assert.Len(t, records, 20)
}

// TestBatchModeCloseFlushes tests that Close drains pending batch entries
func TestBatchModeCloseFlushes(t *testing.T) {
	l := openTestLog(t, Options{BatchSize: 100, FlushInterval: time.Hour})

	done := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func(i int) {
			done <- l.Append(NewPublish(fmt.Sprintf("m%d", i), []byte("x"), 0))
		}(i)
	}

	// Give the appends a moment to reach the batch channel, then close.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, l.Close())

	for i := 0; i < 3; i++ {
		<-done
	}

	records, err := ReadRecords(l.Path())
	require.NoError(t, err)
	assert.Len(t, records, 3)
}
