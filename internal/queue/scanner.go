// ============================================================================
// Beaver-MQ Visibility Scanner - Timed-Out Delivery Requeuer
// ============================================================================
//
// Package: internal/queue
// File: scanner.go
// Purpose: Periodically return timed-out in-flight deliveries to circulation
//
// The scanner is one goroutine per queue. Each tick it collects the handles
// whose visibility timeout has elapsed and routes each exactly like an
// implicit nack. It holds no state of its own; all logic runs under the
// queue's monitor. Close signals the scanner and waits for it, so exit is
// bounded by one interval plus the cost of one scan.
//
// ============================================================================

package queue

import (
	"time"

	"github.com/ChuLiYu/beaver-mq/internal/storage/wal"
)

// runScanner ticks at cfg.ScanInterval until Close signals stopScan.
func (q *Queue) runScanner() {
	defer q.scanWg.Done()

	ticker := time.NewTicker(q.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopScan:
			log.Debug("visibility scanner stopped", "queue", q.name)
			return
		case now := <-ticker.C:
			q.scanExpired(now)
		}
	}
}

// scanExpired requeues every in-flight delivery older than the visibility
// timeout. The handles are snapshotted into a separate list before any
// removal; mutating the in-flight map during iteration is not allowed.
// A tick with no expired entries touches nothing and wakes nobody.
func (q *Queue) scanExpired(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := now.UnixMilli() - q.cfg.VisibilityTimeout.Milliseconds()

	var expired []string
	for handle, entry := range q.inFlight {
		if entry.consumedAt < cutoff {
			expired = append(expired, handle)
		}
	}
	if len(expired) == 0 {
		return
	}

	for _, handle := range expired {
		entry, ok := q.inFlight[handle]
		if !ok {
			continue
		}

		// A timeout is an implicit nack and is logged as one.
		q.appendLocked(wal.NewNack(handle))

		delete(q.inFlight, handle)
		log.Debug("visibility timeout",
			"queue", q.name,
			"msg_id", entry.msg.ID,
			"handle", handle,
			"retry_count", entry.retryCount)

		q.collector.RecordTimeout(q.name)
		q.requeueOrDeadLetterLocked(entry.msg, entry.retryCount)
	}

	q.updateDepthLocked()
}
