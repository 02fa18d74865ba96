package wal

// ============================================================================
// Journal utilities
// Responsibility: file scanning shared by NewWAL, Replay and offline tools
// ============================================================================

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

type scanResult struct {
	lastSeq  uint64
	count    int
	validEnd int64 // byte offset just past the last valid record
	tornTail bool  // trailing bytes that never became a full record
}

// scanFile reads the journal line by line, verifying each record.
//
// A missing file is an empty journal. An unparseable final line without a
// trailing newline is a torn append and is reported via tornTail; anything
// else unparseable is a CorruptionError.
func scanFile(path string, handler EventHandler) (scanResult, error) {
	var res scanResult

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return res, nil
		}
		return res, err
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	var offset int64
	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) == 0 && readErr == io.EOF {
			break
		}
		if readErr != nil && readErr != io.EOF {
			return res, readErr
		}
		complete := readErr == nil

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			offset += int64(len(line))
			res.validEnd = offset
			if !complete {
				break
			}
			continue
		}

		var event Event
		if err := json.Unmarshal(trimmed, &event); err != nil {
			if !complete {
				res.tornTail = true
				break
			}
			return res, &CorruptionError{Seq: res.lastSeq, Offset: offset, Cause: err}
		}
		if err := VerifyChecksum(event); err != nil {
			if !complete {
				res.tornTail = true
				break
			}
			return res, err
		}

		if handler != nil {
			if err := handler(event); err != nil {
				return res, err
			}
		}

		offset += int64(len(line))
		res.validEnd = offset
		res.lastSeq = event.Seq
		res.count++

		if !complete {
			break
		}
	}

	return res, nil
}

// GetLastEvent returns the last valid event in the journal at path, or nil
// if the journal is empty.
func GetLastEvent(path string) (*Event, error) {
	var last *Event
	_, err := scanFile(path, func(e Event) error {
		last = &e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return last, nil
}

// CountEvents counts the valid events in the journal at path
func CountEvents(path string) (int, error) {
	res, err := scanFile(path, nil)
	return res.count, err
}

// DumpWAL writes a human-readable listing of the journal to w
func DumpWAL(path string, w io.Writer) error {
	_, err := scanFile(path, func(e Event) error {
		ts := time.UnixMilli(e.Timestamp).UTC().Format(time.RFC3339)
		line := fmt.Sprintf("[Seq:%d] %s %s at %s", e.Seq, e.Type, e.JobID, ts)
		if e.Attempt > 0 {
			line += fmt.Sprintf(" attempt=%d", e.Attempt)
		}
		if e.Error != "" {
			line += fmt.Sprintf(" error=%q", e.Error)
		}
		_, werr := fmt.Fprintln(w, line)
		return werr
	})
	return err
}
