// ============================================================================
// Beaver-MQ Queue Engine - Per-Queue Delivery State Machine
// ============================================================================
//
// Package: internal/queue
// File: queue.go
// Purpose: Move messages through the delivery state machine under concurrent
//          producers, consumers, and the background visibility scanner
//
// Message State Machine:
//
//                publish                 consume                ack
//    (absent) ──────────► Queued ──────────────► InFlight ──────────► (absent)
//                           ▲                       │
//                           │  retry (nack/timeout, │
//                           │  newCount < max)      │
//                           └───────────────────────┤
//                                                   │ newCount ≥ max, DLQ  ─► dlq.Publish
//                                                   │ newCount ≥ max, none ─► dropped (warn)
//
// Data Structures:
//   ready    []Message            - FIFO of messages awaiting delivery
//   inFlight map[handle]entry     - delivered but not yet finalized
//   retries  map[msgID]count      - failed prior deliveries per message
//
//   Invariant: for every inFlight[h], retries[entry.msg.ID] equals
//   entry.retryCount; a message ID is in at most one of ready/inFlight.
//
// Concurrency:
//   One monitor per queue: sync.Mutex paired with sync.Cond. Every piece of
//   state above is protected by it. Publish and requeue broadcast (wake all
//   waiters); a woken consumer re-checks emptiness before dequeuing, since a
//   wake does not imply availability. WAL appends happen under the monitor;
//   I/O latency directly bounds throughput, which is the documented price of
//   the durability guarantee.
//
// Durability:
//   Each transition is appended to the write-ahead log before the caller
//   sees it. Append failures default to warn-and-continue (liveness over
//   durability); StrictDurability surfaces them instead. Replay and startup
//   compaction live in replay.go.
//
// ============================================================================

package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/beaver-mq/internal/metrics"
	"github.com/ChuLiYu/beaver-mq/internal/storage/wal"
	"github.com/ChuLiYu/beaver-mq/pkg/types"
)

var log = slog.Default()

// inFlightEntry pairs a delivered message with its delivery timestamp and
// the retry count it was delivered with. An entry exists iff exactly one
// live receipt exists; it is destroyed on ack, nack, or timeout.
type inFlightEntry struct {
	msg        *types.Message
	consumedAt int64 // Unix ms at delivery
	retryCount int   // Failed deliveries prior to this one
}

// Queue is the per-queue delivery engine. It exclusively owns the ready
// FIFO, the in-flight map, the retry map, the WAL, and the scanner task.
// The dead-letter queue, when wired, is a separate engine shared by
// reference; closing this queue never touches it.
type Queue struct {
	name string
	cfg  types.QueueConfig

	mu       sync.Mutex
	cond     *sync.Cond
	ready    []*types.Message
	inFlight map[string]*inFlightEntry
	retries  map[string]int
	closed   bool

	dlq       *Queue
	wal       *wal.Log
	collector *metrics.Collector

	stopScan chan struct{}
	scanWg   sync.WaitGroup
}

// Option customizes a queue at construction time.
type Option func(*Queue)

// WithDeadLetter wires the destination for messages that exhaust their
// retry bound. Must be supplied at construction so that replay can route
// exhausted messages correctly. The reference is one-way: parent → DLQ.
func WithDeadLetter(dlq *Queue) Option {
	return func(q *Queue) { q.dlq = dlq }
}

// WithCollector attaches a metrics collector. Nil is fine; all recording
// calls are nil-safe.
func WithCollector(c *metrics.Collector) Option {
	return func(q *Queue) { q.collector = c }
}

// New constructs a queue engine. When cfg.LogDir is set the previous log is
// replayed first (see replay.go): ready messages are restored, in-flight
// entries are requeued as implicit nacks, and the log is compacted to a
// snapshot of live state. The visibility scanner starts before New returns.
func New(name string, cfg types.QueueConfig, opts ...Option) (*Queue, error) {
	q := &Queue{
		name:     name,
		cfg:      cfg.WithDefaults(),
		inFlight: make(map[string]*inFlightEntry),
		retries:  make(map[string]int),
		stopScan: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)

	for _, opt := range opts {
		opt(q)
	}

	if q.cfg.LogDir != "" {
		if err := q.recover(); err != nil {
			return nil, err
		}
	}

	q.scanWg.Add(1)
	go q.runScanner()

	return q, nil
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// Config returns the queue configuration (post-defaults).
func (q *Queue) Config() types.QueueConfig {
	return q.cfg
}

// Publish appends msg to the tail of the ready FIFO, records PUBLISH, and
// wakes waiting consumers. Within a single producer, publishes observe
// program order; across producers the order is the monitor's serialization
// order. With StrictDurability a WAL failure is returned; the message is
// enqueued in memory either way.
func (q *Queue) Publish(msg *types.Message) error {
	if msg == nil {
		return ErrNilMessage
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	walErr := q.appendLocked(wal.NewPublish(msg.ID, msg.Payload, 0))

	q.ready = append(q.ready, msg)
	q.cond.Broadcast()

	q.collector.RecordPublish(q.name)
	q.updateDepthLocked()

	if q.cfg.StrictDurability {
		return walErr
	}
	return nil
}

// Consume blocks while the ready FIFO is empty, then removes its head,
// registers an in-flight entry under a fresh handle, records CONSUME, and
// returns the receipt. Cancellation of ctx while blocked is propagated as
// ctx.Err() with no state mutated. Consuming from a closed queue fails fast
// with ErrQueueClosed.
func (q *Queue) Consume(ctx context.Context) (*types.Receipt, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Wake this waiter when the caller gives up; the broadcast makes the
	// wait loop observe ctx.Err.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	for len(q.ready) == 0 {
		if q.closed {
			return nil, ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.cond.Wait()
	}
	if q.closed {
		return nil, ErrQueueClosed
	}

	msg := q.ready[0]
	q.ready = q.ready[1:]

	handle := types.NewHandle()
	retryCount := q.retries[msg.ID]

	q.appendLocked(wal.NewConsume(msg.ID, handle, retryCount))

	q.inFlight[handle] = &inFlightEntry{
		msg:        msg,
		consumedAt: time.Now().UnixMilli(),
		retryCount: retryCount,
	}

	q.collector.RecordConsume(q.name)
	q.updateDepthLocked()

	return &types.Receipt{
		Handle:     handle,
		Message:    msg,
		RetryCount: retryCount,
	}, nil
}

// Acknowledge finalizes the delivery named by handle: the in-flight entry
// is destroyed, the retry counter is cleared, and ACK is recorded. A handle
// not naming a live delivery raises ErrInvalidReceipt.
func (q *Queue) Acknowledge(handle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.inFlight[handle]
	if !ok {
		return ErrInvalidReceipt
	}

	walErr := q.appendLocked(wal.NewAck(handle))

	delete(q.inFlight, handle)
	delete(q.retries, entry.msg.ID)

	q.collector.RecordAck(q.name)
	q.updateDepthLocked()

	if q.cfg.StrictDurability {
		return walErr
	}
	return nil
}

// Nack rejects the delivery named by handle: NACK is recorded, the entry is
// destroyed, and the message is requeued, dead-lettered, or dropped per the
// retry bound. A handle not naming a live delivery raises ErrInvalidReceipt
// (a nack that loses the race with the scanner lands here too; the message
// is still handled exactly once).
func (q *Queue) Nack(handle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.inFlight[handle]
	if !ok {
		return ErrInvalidReceipt
	}

	walErr := q.appendLocked(wal.NewNack(handle))

	delete(q.inFlight, handle)
	q.collector.RecordNack(q.name)

	q.requeueOrDeadLetterLocked(entry.msg, entry.retryCount)
	q.updateDepthLocked()

	if q.cfg.StrictDurability {
		return walErr
	}
	return nil
}

// requeueOrDeadLetterLocked routes a failed delivery. Invoked by Nack, by
// the scanner on timeout, and by replay. Caller holds q.mu.
//
// newCount < maxRetries: the retry counter is advanced and the message
// rejoins the tail of the ready FIFO. Otherwise the counter is cleared and
// the message goes to the DLQ when wired, or is dropped with a warning.
// The DLQ publish happens while this queue's monitor is held; the DLQ is a
// separate monitor and never calls back into its source, so the invocation
// is outward-only and deadlock-free.
func (q *Queue) requeueOrDeadLetterLocked(msg *types.Message, prevCount int) {
	newCount := prevCount + 1

	if newCount >= q.cfg.MaxRetries {
		delete(q.retries, msg.ID)
		if q.dlq != nil {
			if err := q.dlq.Publish(msg); err != nil {
				log.Error("dead-letter publish failed",
					"queue", q.name,
					"dlq", q.dlq.Name(),
					"msg_id", msg.ID,
					"error", err)
			}
			q.collector.RecordDeadLettered(q.name)
		} else {
			log.Warn("dropping message: retry limit reached and no dead-letter queue",
				"queue", q.name,
				"msg_id", msg.ID,
				"retries", newCount)
			q.collector.RecordDropped(q.name)
		}
		return
	}

	q.retries[msg.ID] = newCount
	q.ready = append(q.ready, msg)
	q.cond.Broadcast()
	q.collector.RecordRequeue(q.name)
}

// Close signals the scanner, joins it, and closes the WAL. Idempotent and
// safe to call concurrently with in-flight operations; blocked consumers
// are woken with ErrQueueClosed, and later calls fail fast.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	close(q.stopScan)
	q.scanWg.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.wal != nil {
		if err := q.wal.Close(); err != nil {
			log.Warn("WAL close failed", "queue", q.name, "error", err)
		}
	}
}

// Stats is a point-in-time snapshot of queue occupancy.
type Stats struct {
	Ready    int // Messages awaiting delivery
	InFlight int // Deliveries awaiting finalization
	Tracked  int // Messages with a non-zero retry counter
}

// Stats returns current occupancy. For CLI display and gauge scrapes.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Ready:    len(q.ready),
		InFlight: len(q.inFlight),
		Tracked:  len(q.retries),
	}
}

// appendLocked records one WAL entry under the monitor. A nil WAL (pure
// in-memory queue) is a no-op. Failures are logged here and returned so
// StrictDurability callers can surface them.
func (q *Queue) appendLocked(r wal.Record) error {
	if q.wal == nil {
		return nil
	}
	if err := q.wal.Append(r); err != nil {
		log.Warn("WAL append failed; in-memory state continues",
			"queue", q.name,
			"op", r.Op,
			"error", err)
		return err
	}
	return nil
}

// updateDepthLocked refreshes the depth gauges. Caller holds q.mu.
func (q *Queue) updateDepthLocked() {
	q.collector.SetQueueDepth(q.name, len(q.ready), len(q.inFlight))
}
