// ============================================================================
// Beaver-MQ Worker Pool - Concurrent Queue Consumers
// ============================================================================
//
// Package: internal/worker
// File: worker_pool.go
// Purpose: Run N goroutines that consume from one queue and finalize each
//          delivery through a user-supplied handler
//
// Architecture:
//   ┌─────────────┐   Consume()   ┌─────────────┐
//   │   Queue     │ ────────────► │  Worker 1   │ ── handler ── Ack/Nack
//   │   engine    │ ────────────► │  Worker 2   │ ── handler ── Ack/Nack
//   │             │ ────────────► │  Worker N   │ ── handler ── Ack/Nack
//   └─────────────┘               └─────────────┘
//
// Each worker loops: block on Consume, run the handler, acknowledge on
// success, nack on error or panic. Blocked workers are cancelled through
// the pool's context on Stop, which then joins every goroutine.
//
// A finalization can lose the race against the visibility scanner; the
// resulting ErrInvalidReceipt means the delivery was already reclaimed and
// is logged at debug level, not treated as a failure.
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ChuLiYu/beaver-mq/internal/queue"
	"github.com/ChuLiYu/beaver-mq/pkg/types"
)

var log = slog.Default()

var (
	// ErrPoolStarted indicates a second Start on a running pool.
	ErrPoolStarted = errors.New("worker: pool already started")
)

// Handler processes one delivered message. A nil return acknowledges the
// delivery; an error (or a panic) nacks it.
type Handler func(ctx context.Context, msg *types.Message) error

// Pool manages the lifecycle of N consumer goroutines on one queue.
type Pool struct {
	queue   *queue.Queue
	handler Handler

	mu      sync.Mutex
	started bool
	stopped bool
	count   int
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a pool bound to q and handler. Workers start on Start.
func NewPool(q *queue.Queue, handler Handler) *Pool {
	return &Pool{
		queue:   q,
		handler: handler,
	}
}

// Start launches workerCount consumer goroutines.
func (p *Pool) Start(workerCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrPoolStarted
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.count = workerCount

	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}

	p.started = true
	return nil
}

// run is one worker's main loop: consume, handle, finalize.
func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		receipt, err := p.queue.Consume(ctx)
		if err != nil {
			// Cancellation and queue shutdown are the normal exits.
			if !errors.Is(err, context.Canceled) && !errors.Is(err, queue.ErrQueueClosed) {
				log.Error("worker consume failed",
					"queue", p.queue.Name(),
					"worker", id,
					"error", err)
			}
			return
		}

		if handleErr := p.invoke(ctx, receipt.Message); handleErr != nil {
			log.Debug("handler failed, nacking",
				"queue", p.queue.Name(),
				"worker", id,
				"msg_id", receipt.Message.ID,
				"error", handleErr)
			p.finalize(p.queue.Nack, receipt)
		} else {
			p.finalize(p.queue.Acknowledge, receipt)
		}
	}
}

// invoke runs the handler, converting a panic into an error so one bad
// message cannot take a worker down.
func (p *Pool) invoke(ctx context.Context, msg *types.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker: handler panic: %v", r)
		}
	}()
	return p.handler(ctx, msg)
}

// finalize applies an ack or nack, tolerating a lost race with the
// visibility scanner.
func (p *Pool) finalize(op func(string) error, receipt *types.Receipt) {
	if err := op(receipt.Handle); err != nil {
		if errors.Is(err, queue.ErrInvalidReceipt) {
			log.Debug("receipt already reclaimed",
				"queue", p.queue.Name(),
				"msg_id", receipt.Message.ID,
				"handle", receipt.Handle)
			return
		}
		log.Warn("finalize failed",
			"queue", p.queue.Name(),
			"msg_id", receipt.Message.ID,
			"error", err)
	}
}

// Stop cancels blocked consumers and waits for every worker to exit.
// Idempotent.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

// WorkerCount returns the number of workers the pool was started with.
func (p *Pool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// IsStarted reports whether Start has run.
func (p *Pool) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}
