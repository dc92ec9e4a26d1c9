// ============================================================================
// Beaver-MQ Registry - Named Queue Directory
// ============================================================================
//
// Package: internal/registry
// File: registry.go
// Purpose: Map queue names to queue engines with atomic create-if-absent
//
// The registry is the broker's front door: callers address queues by name
// and the registry owns instance lifetime. Creation is create-if-absent
// under one mutex, so concurrent CreateQueue calls with the same name all
// receive the same instance. When a queue names a dead-letter queue, the
// registry ensures the DLQ exists (creating it with default settings if
// necessary) and wires it onto the new queue before returning. The wiring
// is a one-way reference; deleting a parent never closes its DLQ.
//
// ============================================================================

package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ChuLiYu/beaver-mq/internal/metrics"
	"github.com/ChuLiYu/beaver-mq/internal/queue"
	"github.com/ChuLiYu/beaver-mq/pkg/types"
)

var log = slog.Default()

var (
	// ErrQueueNotFound indicates a lookup of an unknown queue name.
	ErrQueueNotFound = errors.New("registry: queue not found")

	// ErrSelfDeadLetter indicates a queue configured as its own DLQ.
	ErrSelfDeadLetter = errors.New("registry: queue cannot be its own dead-letter queue")
)

// Registry maps names to queue engines.
type Registry struct {
	mu        sync.Mutex
	queues    map[string]*queue.Queue
	collector *metrics.Collector
}

// Option customizes a registry.
type Option func(*Registry)

// WithCollector attaches a metrics collector shared by every queue the
// registry creates.
func WithCollector(c *metrics.Collector) Option {
	return func(r *Registry) { r.collector = c }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		queues: make(map[string]*queue.Queue),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateQueue returns the queue named name, creating it with cfg if absent.
// Repeated calls with the same name return the same instance; the cfg of
// later calls is ignored. A configured dead-letter queue is created with
// default settings (inheriting the parent's log directory) when it does not
// exist yet, and is wired before the new queue is visible.
func (r *Registry) CreateQueue(name string, cfg types.QueueConfig) (*queue.Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if q, ok := r.queues[name]; ok {
		return q, nil
	}

	cfg = cfg.WithDefaults()

	var dlq *queue.Queue
	if cfg.DeadLetterQueue != "" {
		if cfg.DeadLetterQueue == name {
			return nil, ErrSelfDeadLetter
		}
		var err error
		dlq, err = r.ensureLocked(cfg.DeadLetterQueue, cfg.LogDir)
		if err != nil {
			return nil, fmt.Errorf("registry: create dead-letter queue %q: %w", cfg.DeadLetterQueue, err)
		}
	}

	q, err := queue.New(name, cfg,
		queue.WithDeadLetter(dlq),
		queue.WithCollector(r.collector))
	if err != nil {
		return nil, fmt.Errorf("registry: create queue %q: %w", name, err)
	}

	r.queues[name] = q
	log.Info("queue created", "queue", name, "dlq", cfg.DeadLetterQueue)
	return q, nil
}

// ensureLocked returns the named queue, creating it with default settings
// when absent. Caller holds r.mu. Auto-created DLQs inherit logDir so dead
// letters are as durable as their source.
func (r *Registry) ensureLocked(name, logDir string) (*queue.Queue, error) {
	if q, ok := r.queues[name]; ok {
		return q, nil
	}

	cfg := types.DefaultConfig()
	cfg.LogDir = logDir

	q, err := queue.New(name, cfg, queue.WithCollector(r.collector))
	if err != nil {
		return nil, err
	}
	r.queues[name] = q
	return q, nil
}

// GetQueue returns the queue named name, or ErrQueueNotFound.
func (r *Registry) GetQueue(name string) (*queue.Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrQueueNotFound, name)
	}
	return q, nil
}

// DeleteQueue removes and closes the named queue. Deleting a name that is
// not registered is a silent no-op. A dead-letter queue wired onto the
// removed queue stays open; the back-reference is one-way.
func (r *Registry) DeleteQueue(name string) {
	r.mu.Lock()
	q := r.queues[name]
	delete(r.queues, name)
	r.mu.Unlock()

	if q != nil {
		q.Close()
		log.Info("queue deleted", "queue", name)
	}
}

// ListQueues returns all registered queue names, sorted.
func (r *Registry) ListQueues() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every registered queue. For broker shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	queues := make([]*queue.Queue, 0, len(r.queues))
	for _, q := range r.queues {
		queues = append(queues, q)
	}
	r.queues = make(map[string]*queue.Queue)
	r.mu.Unlock()

	for _, q := range queues {
		q.Close()
	}
}
