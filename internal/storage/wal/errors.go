package wal

// ============================================================================
// Journal 錯誤定義
// ============================================================================

import (
	"errors"
	"fmt"
)

var (
	// ErrCorruptedWAL indicates a record could not be parsed
	ErrCorruptedWAL = errors.New("wal: file is corrupted")

	// ErrChecksumMismatch indicates a record was damaged or edited
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")

	// ErrWALClosed indicates the journal is closed
	ErrWALClosed = errors.New("wal: already closed")

	// ErrSyncFailed indicates fsync failed
	ErrSyncFailed = errors.New("wal: sync to disk failed")
)

// ChecksumError carries the failing record's sequence number
type ChecksumError struct {
	Seq      uint64
	Expected uint32
	Actual   uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("wal: checksum mismatch at seq=%d (expected=0x%08x, got=0x%08x)", e.Seq, e.Expected, e.Actual)
}

func (e *ChecksumError) Unwrap() error {
	return ErrChecksumMismatch
}

// CorruptionError represents an unparseable record
type CorruptionError struct {
	Seq    uint64 // Last good sequence number before the damage
	Offset int64  // Byte offset in file
	Cause  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("wal: corrupted record after seq=%d at offset %d: %v", e.Seq, e.Offset, e.Cause)
}

func (e *CorruptionError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, ErrCorruptedWAL) match any CorruptionError
func (e *CorruptionError) Is(target error) bool {
	return target == ErrCorruptedWAL
}
