package wal

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/ledger-scheduler/pkg/types"
)

// failingFile simulates a disk whose fsync fails
type failingFile struct {
	bytes.Buffer
}

func (f *failingFile) Sync() error  { return errors.New("disk gone") }
func (f *failingFile) Close() error { return nil }

func TestAppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settlement.wal")
	w, err := NewWAL(path)
	require.NoError(t, err)

	_, err = w.Append(Event{Type: EventSettleRequested, JobID: "J1", ResultHash: "0xaa"})
	require.NoError(t, err)
	stored, err := w.Append(Event{Type: EventResultConfirmed, JobID: "J1"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stored.Seq)
	assert.NotZero(t, stored.Checksum)
	require.NoError(t, w.Close())

	var seen []EventType
	w2, err := NewWAL(path)
	require.NoError(t, err)
	defer w2.Close()
	assert.Equal(t, uint64(2), w2.GetLastSeq())

	require.NoError(t, w2.Replay(func(e Event) error {
		seen = append(seen, e.Type)
		return nil
	}))
	assert.Equal(t, []EventType{EventSettleRequested, EventResultConfirmed}, seen)

	next, err := w2.Append(Event{Type: EventReleaseConfirmed, JobID: "J1"})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), next.Seq)
}

func TestAppendAfterClose(t *testing.T) {
	w, err := NewWAL(filepath.Join(t.TempDir(), "settlement.wal"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = w.Append(Event{Type: EventSettleRequested, JobID: "J1"})
	assert.ErrorIs(t, err, ErrWALClosed)
}

func TestAppendSyncFailure(t *testing.T) {
	w, err := NewWAL(filepath.Join(t.TempDir(), "settlement.wal"))
	require.NoError(t, err)
	ff := &failingFile{}
	w.file = ff
	w.encoder = json.NewEncoder(ff)

	_, err = w.Append(Event{Type: EventSettleRequested, JobID: "J1"})
	assert.ErrorIs(t, err, ErrSyncFailed)
	assert.Equal(t, uint64(0), w.GetLastSeq(), "seq must not advance on a failed append")
}

func TestChecksumMismatchDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settlement.wal")
	w, err := NewWAL(path)
	require.NoError(t, err)
	_, err = w.Append(Event{Type: EventSettleRequested, JobID: "J1", ResultHash: "0xaa"})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, bytes.Replace(data, []byte("0xaa"), []byte("0xbb"), 1), 0o644))

	_, err = NewWAL(path)
	var csErr *ChecksumError
	require.ErrorAs(t, err, &csErr)
	assert.Equal(t, uint64(1), csErr.Seq)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestTornTailIsTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settlement.wal")
	w, err := NewWAL(path)
	require.NoError(t, err)
	_, err = w.Append(Event{Type: EventSettleRequested, JobID: "J1"})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"seq":2,"type":"RESULT_CONF`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w2, err := NewWAL(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), w2.GetLastSeq())

	_, err = w2.Append(Event{Type: EventResultConfirmed, JobID: "J1"})
	require.NoError(t, err)
	require.NoError(t, w2.Close())

	count, err := CountEvents(path)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCorruptedMiddleRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settlement.wal")
	require.NoError(t, os.WriteFile(path, []byte("not json\n{}\n"), 0o644))

	_, err := NewWAL(path)
	assert.ErrorIs(t, err, ErrCorruptedWAL)
}

func TestCompactKeepsSelectedEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settlement.wal")
	w, err := NewWAL(path)
	require.NoError(t, err)
	defer w.Close()

	for _, id := range []string{"J1", "J2", "J1"} {
		_, err := w.Append(Event{Type: EventSettleRequested, JobID: types.JobID(id)})
		require.NoError(t, err)
	}

	kept, err := w.Compact(func(e Event) bool { return e.JobID == "J2" })
	require.NoError(t, err)
	assert.Equal(t, 1, kept)

	last, err := GetLastEvent(path)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, uint64(2), last.Seq)

	next, err := w.Append(Event{Type: EventResultConfirmed, JobID: "J2"})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), next.Seq)
}

func TestDumpWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settlement.wal")
	w, err := NewWAL(path)
	require.NoError(t, err)
	_, err = w.Append(Event{Type: EventAttemptFailed, JobID: "J1", Attempt: 2, Error: "timeout"})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var buf bytes.Buffer
	require.NoError(t, DumpWAL(path, &buf))
	assert.Contains(t, buf.String(), "[Seq:1] ATTEMPT_FAILED J1")
	assert.Contains(t, buf.String(), `attempt=2 error="timeout"`)
}

func TestGetLastEventEmpty(t *testing.T) {
	last, err := GetLastEvent(filepath.Join(t.TempDir(), "none.wal"))
	require.NoError(t, err)
	assert.Nil(t, last)
}
