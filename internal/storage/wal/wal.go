package wal

// ============================================================================
// 結算 Journal（WAL）核心實作
// 職責：
// 1. 追加結算事件到日誌檔案（append-only，返回前 fsync）
// 2. 提供重放功能，重啟後重建 outbox
// 3. 壓縮檔案，只保留仍需要的事件
// 4. 每行帶 checksum，尾端寫到一半的行在重放時略過
// ============================================================================

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileInterface is the subset of *os.File the WAL writes through.
// Tests substitute it to simulate disk failures.
type FileInterface interface {
	Write(p []byte) (n int, err error)
	Sync() error
	Close() error
}

// WAL is an append-only journal of settlement events
type WAL struct {
	mu      sync.Mutex
	file    FileInterface
	encoder *json.Encoder
	path    string
	seq     uint64
	closed  bool
}

/*
NewWAL opens or creates the journal at path.

Behavior:
- missing file: created, seq starts at 0
- existing file: seq continues from the last valid event
- a torn trailing record (crash mid-append) is truncated away
- damage before the tail is an error
*/
func NewWAL(path string) (*WAL, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	res, err := scanFile(path, nil)
	if err != nil {
		return nil, err
	}
	if res.tornTail {
		if err := os.Truncate(path, res.validEnd); err != nil {
			return nil, fmt.Errorf("wal: truncate torn tail: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	return &WAL{
		file:    file,
		encoder: json.NewEncoder(file),
		path:    path,
		seq:     res.lastSeq,
	}, nil
}

// Append assigns the next sequence number, timestamps and checksums the
// event, and writes it durably. The stored event is returned.
func (w *WAL) Append(event Event) (Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return Event{}, ErrWALClosed
	}

	event.Seq = w.seq + 1
	event.Timestamp = time.Now().UnixMilli()
	event.Checksum = CalculateChecksum(event)

	if err := w.encoder.Encode(event); err != nil {
		return Event{}, fmt.Errorf("wal: append seq=%d: %w", event.Seq, err)
	}
	if err := w.file.Sync(); err != nil {
		return Event{}, fmt.Errorf("%w: seq=%d: %v", ErrSyncFailed, event.Seq, err)
	}

	w.seq = event.Seq
	return event, nil
}

// Replay calls handler for every event in order, verifying checksums.
// It stops at the first error.
func (w *WAL) Replay(handler EventHandler) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, err := scanFile(w.path, handler)
	return err
}

// Compact rewrites the journal keeping only the events for which keep
// returns true. Sequence numbers and checksums of kept events are preserved.
// The rewrite goes through a temp file and rename.
func (w *WAL) Compact(keep func(Event) bool) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrWALClosed
	}

	var kept []Event
	if _, err := scanFile(w.path, func(e Event) error {
		if keep(e) {
			kept = append(kept, e)
		}
		return nil
	}); err != nil {
		return 0, err
	}

	tmpPath := w.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(tmp)
	for _, e := range kept {
		if err := enc.Encode(e); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return 0, err
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}

	if err := w.file.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		w.closed = true
		return 0, err
	}
	w.file = file
	w.encoder = json.NewEncoder(file)
	// seq keeps counting from the pre-compaction high-water mark

	return len(kept), nil
}

// Close closes the journal. A closed WAL cannot be reused.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

// GetLastSeq returns the sequence number of the last appended event
func (w *WAL) GetLastSeq() uint64 {
	if w == nil {
		return 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Path returns the journal file path
func (w *WAL) Path() string {
	return w.path
}
