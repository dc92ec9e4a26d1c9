// ============================================================================
// Beaver-MQ Core Type Definitions
// ============================================================================
//
// Package: pkg/types
// Purpose: Core domain models shared by the queue engine and its callers
//
// Core Types:
//   - Message: Immutable unit of delivery (ID + opaque payload)
//   - Receipt: One particular delivery of one particular message
//   - QueueConfig: Immutable per-queue settings supplied at creation
//
// Timestamps:
//   Unix milliseconds throughout, for precise visibility-timeout math and
//   JSON portability.
//
// ============================================================================

// Package types defines core domain models for the beaver-mq broker.
package types

import (
	"time"

	"github.com/google/uuid"
)

// Message is an immutable unit of delivery. The ID is unique within a
// process across all queues and stable once assigned. The payload is opaque
// to the broker; it is carried as bytes and base64-framed inside WAL lines,
// so any byte sequence round-trips.
type Message struct {
	ID      string `json:"id"`
	Payload []byte `json:"payload"`
}

// NewMessage creates a message with a freshly generated unique ID.
func NewMessage(payload []byte) *Message {
	return &Message{
		ID:      uuid.NewString(),
		Payload: payload,
	}
}

// Receipt names exactly one delivery of one message. Redeliveries of the
// same message carry new handles; a handle is invalidated by acknowledge,
// nack, or visibility-timeout requeue.
type Receipt struct {
	Handle     string   // Globally unique per delivery
	Message    *Message // The delivered message
	RetryCount int      // Failed deliveries prior to this one
}

// NewHandle generates a fresh receipt handle.
func NewHandle() string {
	return uuid.NewString()
}

// Default queue settings applied by DefaultConfig and by the registry when
// auto-creating dead-letter queues.
const (
	DefaultVisibilityTimeout = 30 * time.Second
	DefaultScanInterval      = 1 * time.Second
	DefaultMaxRetries        = 3
)

// QueueConfig holds per-queue settings. Immutable after queue construction.
type QueueConfig struct {
	// VisibilityTimeout is how long a consumer may hold a delivery before
	// the scanner makes the message eligible for redelivery. Must be > 0.
	VisibilityTimeout time.Duration

	// ScanInterval is the period of the visibility scanner.
	ScanInterval time.Duration

	// MaxRetries bounds deliveries of a single message. Must be >= 1.
	MaxRetries int

	// DeadLetterQueue names the queue that receives messages whose retry
	// bound is exhausted. Empty means exhausted messages are dropped with
	// a warning.
	DeadLetterQueue string

	// LogDir is the directory holding this queue's write-ahead log. Empty
	// disables durability: the queue is purely in-memory.
	LogDir string

	// StrictDurability surfaces WAL append errors to the caller instead of
	// logging them as warnings. The in-memory transition completes either
	// way.
	StrictDurability bool

	// WALBatchSize and WALFlushInterval enable batched WAL appends when
	// WALBatchSize > 1. The default is flush-per-append.
	WALBatchSize     int
	WALFlushInterval time.Duration
}

// DefaultConfig returns the settings used when a field is left zero and for
// registry-created dead-letter queues.
func DefaultConfig() QueueConfig {
	return QueueConfig{
		VisibilityTimeout: DefaultVisibilityTimeout,
		ScanInterval:      DefaultScanInterval,
		MaxRetries:        DefaultMaxRetries,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c QueueConfig) WithDefaults() QueueConfig {
	d := DefaultConfig()
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = d.VisibilityTimeout
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = d.ScanInterval
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = d.MaxRetries
	}
	return c
}
