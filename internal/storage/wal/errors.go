package wal

// ============================================================================
// WAL Error Definitions
// Purpose: Define all WAL-related error types
// ============================================================================

import "errors"

// Predefined errors
var (
	// ErrCorruptRecord indicates a log line that cannot be parsed.
	ErrCorruptRecord = errors.New("wal: corrupt record")

	// ErrChecksumMismatch indicates a parsed line whose stored checksum
	// does not match its contents.
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")

	// ErrClosed indicates the log was closed and cannot accept appends.
	ErrClosed = errors.New("wal: already closed")
)
