package queue

// ============================================================================
// Queue Engine Error Definitions
// Purpose: Define all errors surfaced by the delivery engine
// ============================================================================

import "errors"

var (
	// ErrInvalidReceipt indicates an acknowledge or nack with a handle
	// that names no live delivery. Raised when the handle was already
	// finalized, timed out, or never existed. Non-fatal to the queue.
	ErrInvalidReceipt = errors.New("queue: invalid receipt handle")

	// ErrQueueClosed indicates an operation on a closed queue. Blocked
	// consumers are woken with this error when Close runs.
	ErrQueueClosed = errors.New("queue: closed")

	// ErrNilMessage indicates a publish of a nil message.
	ErrNilMessage = errors.New("queue: nil message")
)
