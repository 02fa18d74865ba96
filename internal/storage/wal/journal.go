package wal

// ============================================================================
// 結算 Journal
// 職責：由 WAL 事件折疊出的 outbox 視圖
//
//   SETTLE_REQUESTED ──► RESULT_CONFIRMED ──► RELEASE_CONFIRMED
//          │                    │
//          └──── ATTEMPT_FAILED（可重複）───► SETTLE_FAILED
//
// 每次狀態變更都先追加到 WAL，再更新內存視圖，
// 因此重啟後重放會得到相同的視圖。
// ============================================================================

import (
	"sync"

	"github.com/ChuLiYu/ledger-scheduler/pkg/types"
)

// Journal tracks one settlement per job
type Journal struct {
	wal *WAL

	mu      sync.RWMutex
	entries map[types.JobID]*types.Settlement
	order   []types.JobID
}

// OpenJournal opens the WAL at path and replays it into the view
func OpenJournal(path string) (*Journal, error) {
	w, err := NewWAL(path)
	if err != nil {
		return nil, err
	}

	j := &Journal{
		wal:     w,
		entries: make(map[types.JobID]*types.Settlement),
	}
	if err := w.Replay(func(e Event) error {
		j.apply(e)
		return nil
	}); err != nil {
		w.Close()
		return nil, err
	}
	return j, nil
}

// ReadSettlements folds the journal at path without opening it for writing.
// Offline tools use it while a server may hold the file.
func ReadSettlements(path string) ([]types.Settlement, error) {
	j := &Journal{entries: make(map[types.JobID]*types.Settlement)}
	if _, err := scanFile(path, func(e Event) error {
		j.apply(e)
		return nil
	}); err != nil {
		return nil, err
	}
	return j.List(), nil
}

// ============================================================================
// 事件記錄
// ============================================================================

// Request records that a job's result must be settled on the ledger
func (j *Journal) Request(jobID types.JobID, resultHash string) error {
	return j.record(Event{Type: EventSettleRequested, JobID: jobID, ResultHash: resultHash})
}

// ResultConfirmed records a confirmed submitResult
func (j *Journal) ResultConfirmed(jobID types.JobID) error {
	return j.record(Event{Type: EventResultConfirmed, JobID: jobID})
}

// Released records a confirmed release; the settlement is complete
func (j *Journal) Released(jobID types.JobID) error {
	return j.record(Event{Type: EventReleaseConfirmed, JobID: jobID})
}

// AttemptFailed records a failed ledger attempt that will be retried
func (j *Journal) AttemptFailed(jobID types.JobID, attempt int, cause error) error {
	return j.record(Event{Type: EventAttemptFailed, JobID: jobID, Attempt: attempt, Error: errText(cause)})
}

// Failed records that retries are exhausted
func (j *Journal) Failed(jobID types.JobID, attempt int, cause error) error {
	return j.record(Event{Type: EventSettleFailed, JobID: jobID, Attempt: attempt, Error: errText(cause)})
}

func (j *Journal) record(e Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	stored, err := j.wal.Append(e)
	if err != nil {
		return err
	}
	j.apply(stored)
	return nil
}

// apply folds one event into the view. Caller holds j.mu or is replaying.
func (j *Journal) apply(e Event) {
	entry, exists := j.entries[e.JobID]
	if e.Type == EventSettleRequested {
		if !exists {
			j.order = append(j.order, e.JobID)
		}
		j.entries[e.JobID] = &types.Settlement{
			JobID:      e.JobID,
			ResultHash: e.ResultHash,
			Step:       types.StepRequested,
			UpdatedAt:  e.Timestamp,
		}
		return
	}
	if !exists {
		// request record was compacted away
		return
	}

	switch e.Type {
	case EventResultConfirmed:
		entry.Step = types.StepResultConfirmed
	case EventReleaseConfirmed:
		entry.Step = types.StepReleased
		entry.LastError = ""
	case EventAttemptFailed:
		entry.Attempts = e.Attempt
		entry.LastError = e.Error
	case EventSettleFailed:
		entry.Step = types.StepFailed
		entry.Attempts = e.Attempt
		entry.LastError = e.Error
	}
	entry.UpdatedAt = e.Timestamp
}

// ============================================================================
// 查詢
// ============================================================================

// Get returns the settlement for a job
func (j *Journal) Get(jobID types.JobID) (types.Settlement, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	entry, ok := j.entries[jobID]
	if !ok {
		return types.Settlement{}, false
	}
	return *entry, true
}

// List returns every settlement in request order
func (j *Journal) List() []types.Settlement {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]types.Settlement, 0, len(j.order))
	for _, id := range j.order {
		if entry, ok := j.entries[id]; ok {
			out = append(out, *entry)
		}
	}
	return out
}

// Pending returns the settlements that still need ledger work
func (j *Journal) Pending() []types.Settlement {
	all := j.List()
	out := make([]types.Settlement, 0, len(all))
	for _, s := range all {
		if !s.Settled() {
			out = append(out, s)
		}
	}
	return out
}

// Compact drops every event of fully released settlements from the file
// and the view. Failed and unfinished settlements are kept.
func (j *Journal) Compact() (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	released := make(map[types.JobID]bool)
	for id, entry := range j.entries {
		if entry.Step == types.StepReleased {
			released[id] = true
		}
	}
	if len(released) == 0 {
		return 0, nil
	}

	if _, err := j.wal.Compact(func(e Event) bool { return !released[e.JobID] }); err != nil {
		return 0, err
	}

	order := j.order[:0]
	for _, id := range j.order {
		if released[id] {
			delete(j.entries, id)
			continue
		}
		order = append(order, id)
	}
	j.order = order
	return len(released), nil
}

// Close closes the underlying WAL
func (j *Journal) Close() error {
	return j.wal.Close()
}

// Path returns the journal file path
func (j *Journal) Path() string {
	return j.wal.Path()
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
