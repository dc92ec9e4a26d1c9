// ============================================================================
// Beaver-MQ Replay - Crash Recovery From the Write-Ahead Log
// ============================================================================
//
// Package: internal/queue
// File: replay.go
// Purpose: Rebuild queue state from the log at construction time
//
// Recovery Flow:
//   ┌─────────────┐
//   │ 1. Read     │ → Decode log lines, skipping corrupt/torn ones
//   └─────────────┘
//          ↓
//   ┌─────────────┐
//   │ 2. Apply    │ → Replay each transition against in-memory state
//   └─────────────┘
//          ↓
//   ┌─────────────┐
//   │ 3. Requeue  │ → Implicit nack for every entry still in flight
//   └─────────────┘
//          ↓
//   ┌─────────────┐
//   │ 4. Compact  │ → Rewrite the log to one PUBLISH per ready message
//   └─────────────┘
//
// No new WAL records are written while applying; the compaction at the end
// is the only write, and it bounds the log by live state. Entries still in
// flight after replay were undelivered work at crash time: requeuing each
// once is what makes delivery at-least-once across restarts.
//
// ============================================================================

package queue

import (
	"github.com/ChuLiYu/beaver-mq/internal/storage/wal"
	"github.com/ChuLiYu/beaver-mq/pkg/types"
)

// recover replays the queue's log, requeues in-flight entries, opens a
// fresh writer, and compacts the file to a snapshot of live state. Runs
// during construction, before the queue is visible to any caller, so no
// locking is needed yet.
func (q *Queue) recover() error {
	path := wal.FilePath(q.cfg.LogDir, q.name)

	records, err := wal.ReadRecords(path)
	if err != nil {
		return err
	}

	for _, r := range records {
		q.applyRecord(r)
	}

	// Everything still in flight was delivered but never finalized before
	// the crash: treat each entry as an implicit nack. Handles are
	// snapshotted first; the requeue path mutates the map.
	handles := make([]string, 0, len(q.inFlight))
	for handle := range q.inFlight {
		handles = append(handles, handle)
	}
	for _, handle := range handles {
		entry := q.inFlight[handle]
		delete(q.inFlight, handle)
		q.requeueOrDeadLetterLocked(entry.msg, entry.retryCount)
	}

	l, err := wal.Open(path, wal.Options{
		BatchSize:     q.cfg.WALBatchSize,
		FlushInterval: q.cfg.WALFlushInterval,
	})
	if err != nil {
		return err
	}
	q.wal = l

	// Snapshot: one PUBLISH per ready message, in FIFO order, carrying the
	// surviving retry counter.
	survivors := make([]wal.Record, 0, len(q.ready))
	for _, msg := range q.ready {
		survivors = append(survivors, wal.NewPublish(msg.ID, msg.Payload, q.retries[msg.ID]))
	}
	if err := q.wal.Compact(survivors); err != nil {
		// The queue is usable without the rewrite; the log is just longer
		// than it needs to be until the next successful compaction.
		log.Warn("startup compaction failed",
			"queue", q.name,
			"error", err)
	}

	if len(q.ready) > 0 || len(records) > 0 {
		log.Info("replay complete",
			"queue", q.name,
			"records", len(records),
			"ready", len(q.ready))
	}
	return nil
}

// applyRecord replays one transition. Records referencing state that is not
// present (a CONSUME whose message is gone, an ACK/NACK whose handle is
// gone) are skipped with a warning; a lost line earlier in the log must not
// halt recovery.
func (q *Queue) applyRecord(r wal.Record) {
	switch r.Op {
	case wal.OpPublish:
		msg := &types.Message{ID: r.MsgID, Payload: r.Payload}
		q.ready = append(q.ready, msg)
		if r.RetryCount > 0 {
			// Compacted snapshots carry the surviving retry counter.
			q.retries[r.MsgID] = r.RetryCount
		}

	case wal.OpConsume:
		idx := -1
		for i, msg := range q.ready {
			if msg.ID == r.MsgID {
				idx = i
				break
			}
		}
		if idx < 0 {
			log.Warn("replay: CONSUME for absent message, skipping",
				"queue", q.name,
				"msg_id", r.MsgID)
			return
		}
		msg := q.ready[idx]
		q.ready = append(q.ready[:idx], q.ready[idx+1:]...)
		q.inFlight[r.Handle] = &inFlightEntry{
			msg:        msg,
			consumedAt: r.Timestamp,
			retryCount: r.RetryCount,
		}
		if r.RetryCount > 0 {
			q.retries[r.MsgID] = r.RetryCount
		}

	case wal.OpAck:
		entry, ok := q.inFlight[r.Handle]
		if !ok {
			log.Warn("replay: ACK for absent handle, skipping",
				"queue", q.name,
				"handle", r.Handle)
			return
		}
		delete(q.inFlight, r.Handle)
		delete(q.retries, entry.msg.ID)

	case wal.OpNack:
		entry, ok := q.inFlight[r.Handle]
		if !ok {
			log.Warn("replay: NACK for absent handle, skipping",
				"queue", q.name,
				"handle", r.Handle)
			return
		}
		delete(q.inFlight, r.Handle)
		q.requeueOrDeadLetterLocked(entry.msg, entry.retryCount)
	}
}
