package wal

// ============================================================================
// Checksum
// Responsibility: CRC32 over every persisted field of an event
// ============================================================================

import (
	"hash/crc32"
	"strconv"
	"strings"
)

// CalculateChecksum returns the CRC32-IEEE checksum of the event's content.
// The Checksum field itself is excluded.
func CalculateChecksum(event Event) uint32 {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(event.Seq, 10))
	b.WriteByte('|')
	b.WriteString(string(event.Type))
	b.WriteByte('|')
	b.WriteString(string(event.JobID))
	b.WriteByte('|')
	b.WriteString(event.ResultHash)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(event.Attempt))
	b.WriteByte('|')
	b.WriteString(event.Error)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(event.Timestamp, 10))

	return crc32.ChecksumIEEE([]byte(b.String()))
}

// VerifyChecksum checks the stored checksum against the content
func VerifyChecksum(event Event) error {
	expected := CalculateChecksum(event)
	if event.Checksum != expected {
		return &ChecksumError{Seq: event.Seq, Expected: expected, Actual: event.Checksum}
	}
	return nil
}
