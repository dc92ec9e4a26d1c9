// ============================================================================
// Beaver-MQ WAL Record Codec
// ============================================================================
//
// Package: internal/storage/wal
// File: record.go
// Purpose: Define the line-oriented record format for queue state transitions
//
// Data Format:
//   One JSON object per line, newline-terminated:
//   {
//     "op": "PUBLISH",          // Operation type
//     "msg_id": "a1b2...",      // Message ID (PUBLISH, CONSUME)
//     "payload": "T3JkZXIx",    // Base64 payload (PUBLISH only)
//     "handle": "",             // Receipt handle (CONSUME, ACK, NACK)
//     "retry_count": 0,         // Retry counter (CONSUME, compacted PUBLISH)
//     "ts": 1698765432000,      // Unix millisecond timestamp (informational)
//     "checksum": 123456789     // CRC32 over the fields above except ts
//   }
//
//   Required fields per op:
//   - PUBLISH: msg_id + payload (retry_count may seed the retry map)
//   - CONSUME: msg_id + handle + retry_count
//   - ACK / NACK: handle
//   Unused fields are the empty string or zero.
//
// Framing:
//   The payload is []byte and JSON-marshals to base64, so field separators,
//   quotes, and newlines inside payloads never reach the line format. Any
//   byte sequence round-trips.
//
// Data Integrity:
//   Each record carries a CRC32-IEEE checksum. A line that fails to parse or
//   fails checksum verification is skipped with a warning during replay;
//   replay must make forward progress past a torn final line.
//
// ============================================================================

package wal

import (
	"encoding/json"
	"fmt"
	"time"
)

// Op identifies a queue state transition recorded in the log.
type Op string

const (
	OpPublish Op = "PUBLISH" // Message entered the ready queue
	OpConsume Op = "CONSUME" // Message delivered to a consumer
	OpAck     Op = "ACK"     // Delivery acknowledged
	OpNack    Op = "NACK"    // Delivery rejected or timed out
)

// Record is one immutable WAL entry. Written once, never mutated; may be
// discarded by compaction.
type Record struct {
	Op         Op     `json:"op"`
	MsgID      string `json:"msg_id"`
	Payload    []byte `json:"payload"`
	Handle     string `json:"handle"`
	RetryCount int    `json:"retry_count"`
	Timestamp  int64  `json:"ts"`
	Checksum   uint32 `json:"checksum"`
}

// NewPublish builds a PUBLISH record. retryCount is zero for fresh publishes
// and carries the surviving retry counter in compacted snapshots.
func NewPublish(msgID string, payload []byte, retryCount int) Record {
	return sealed(Record{
		Op:         OpPublish,
		MsgID:      msgID,
		Payload:    payload,
		RetryCount: retryCount,
	})
}

// NewConsume builds a CONSUME record.
func NewConsume(msgID, handle string, retryCount int) Record {
	return sealed(Record{
		Op:         OpConsume,
		MsgID:      msgID,
		Handle:     handle,
		RetryCount: retryCount,
	})
}

// NewAck builds an ACK record.
func NewAck(handle string) Record {
	return sealed(Record{Op: OpAck, Handle: handle})
}

// NewNack builds a NACK record. Explicit consumer nacks and scanner timeouts
// are indistinguishable on disk.
func NewNack(handle string) Record {
	return sealed(Record{Op: OpNack, Handle: handle})
}

// sealed stamps the timestamp and checksum onto a record.
func sealed(r Record) Record {
	r.Timestamp = time.Now().UnixMilli()
	r.Checksum = checksum(r)
	return r
}

// Encode renders the record as one newline-terminated JSON line.
func (r Record) Encode() ([]byte, error) {
	line, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("wal: encode record: %w", err)
	}
	return append(line, '\n'), nil
}

// DecodeRecord parses one log line. Returns ErrCorruptRecord when the line
// is not valid JSON and ErrChecksumMismatch when the stored checksum does
// not match the recomputed one. Callers treat both as skip-and-warn.
func DecodeRecord(line []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(line, &r); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if !verifyChecksum(r) {
		return Record{}, ErrChecksumMismatch
	}
	switch r.Op {
	case OpPublish, OpConsume, OpAck, OpNack:
	default:
		return Record{}, fmt.Errorf("%w: unknown op %q", ErrCorruptRecord, r.Op)
	}
	return r, nil
}
