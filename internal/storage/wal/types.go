package wal

import "github.com/ChuLiYu/ledger-scheduler/pkg/types"

// ============================================================================
// 結算 Journal 類型定義
// Responsibility: records of the settlement outbox
// ============================================================================

// EventType defines journal event types
type EventType string

const (
	EventSettleRequested  EventType = "SETTLE_REQUESTED"  // Result committed locally, ledger work pending
	EventResultConfirmed  EventType = "RESULT_CONFIRMED"  // submitResult confirmed on the ledger
	EventReleaseConfirmed EventType = "RELEASE_CONFIRMED" // release confirmed on the ledger
	EventAttemptFailed    EventType = "ATTEMPT_FAILED"    // One ledger attempt failed, will retry
	EventSettleFailed     EventType = "SETTLE_FAILED"     // Retries exhausted
)

// Event represents a journal record
type Event struct {
	Seq        uint64      `json:"seq"`                   // Monotonically increasing
	Type       EventType   `json:"type"`                  // Event type
	JobID      types.JobID `json:"job_id"`                // Job being settled
	ResultHash string      `json:"result_hash,omitempty"` // Set on SETTLE_REQUESTED
	Attempt    int         `json:"attempt,omitempty"`     // Attempt number for failures
	Error      string      `json:"error,omitempty"`       // Ledger error text for failures
	Timestamp  int64       `json:"timestamp"`             // Unix milliseconds
	Checksum   uint32      `json:"checksum"`              // CRC32 over the fields above
}

// EventHandler is the function type for processing journal events during Replay
type EventHandler func(event Event) error
