package wal

// ============================================================================
// Checksum Calculation
// Responsibility: Calculate and verify CRC32 checksums for WAL records
// ============================================================================

import (
	"encoding/binary"
	"hash/crc32"
)

// checksum computes the CRC32-IEEE checksum of a record's stable fields.
// The timestamp and the checksum itself are excluded.
func checksum(r Record) uint32 {
	h := crc32.NewIEEE()
	h.Write([]byte(r.Op))
	h.Write([]byte{0})
	h.Write([]byte(r.MsgID))
	h.Write([]byte{0})
	h.Write(r.Payload)
	h.Write([]byte{0})
	h.Write([]byte(r.Handle))
	var rc [8]byte
	binary.BigEndian.PutUint64(rc[:], uint64(int64(r.RetryCount)))
	h.Write(rc[:])
	return h.Sum32()
}

// verifyChecksum reports whether the stored checksum matches the record.
func verifyChecksum(r Record) bool {
	return r.Checksum == checksum(r)
}
