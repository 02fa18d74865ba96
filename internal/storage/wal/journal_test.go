package wal

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/ledger-scheduler/pkg/types"
)

func TestJournalFoldsSteps(t *testing.T) {
	j, err := OpenJournal(filepath.Join(t.TempDir(), "settlement.wal"))
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Request("J1", "0xaa"))
	require.NoError(t, j.AttemptFailed("J1", 1, errors.New("rpc down")))

	s, ok := j.Get("J1")
	require.True(t, ok)
	assert.Equal(t, types.StepRequested, s.Step)
	assert.Equal(t, 1, s.Attempts)
	assert.Equal(t, "rpc down", s.LastError)
	assert.False(t, s.Settled())

	require.NoError(t, j.ResultConfirmed("J1"))
	require.NoError(t, j.Released("J1"))

	s, _ = j.Get("J1")
	assert.Equal(t, types.StepReleased, s.Step)
	assert.Empty(t, s.LastError)
	assert.True(t, s.Settled())
	assert.Empty(t, j.Pending())
}

func TestJournalReplayResumesView(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settlement.wal")
	j, err := OpenJournal(path)
	require.NoError(t, err)

	require.NoError(t, j.Request("J1", "0xaa"))
	require.NoError(t, j.ResultConfirmed("J1"))
	require.NoError(t, j.Request("J2", "0xbb"))
	require.NoError(t, j.Failed("J2", 5, errors.New("reverted")))
	require.NoError(t, j.Request("J3", "0xcc"))
	require.NoError(t, j.Close())

	reopened, err := OpenJournal(path)
	require.NoError(t, err)
	defer reopened.Close()

	all := reopened.List()
	require.Len(t, all, 3)
	assert.Equal(t, types.JobID("J1"), all[0].JobID)
	assert.Equal(t, types.StepResultConfirmed, all[0].Step)
	assert.Equal(t, types.StepFailed, all[1].Step)
	assert.Equal(t, 5, all[1].Attempts)
	assert.Equal(t, "0xcc", all[2].ResultHash)

	pending := reopened.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, types.JobID("J1"), pending[0].JobID)
	assert.Equal(t, types.JobID("J3"), pending[1].JobID)
}

func TestJournalCompactDropsReleased(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settlement.wal")
	j, err := OpenJournal(path)
	require.NoError(t, err)

	require.NoError(t, j.Request("J1", "0xaa"))
	require.NoError(t, j.ResultConfirmed("J1"))
	require.NoError(t, j.Released("J1"))
	require.NoError(t, j.Request("J2", "0xbb"))

	dropped, err := j.Compact()
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)

	_, ok := j.Get("J1")
	assert.False(t, ok)
	require.NoError(t, j.ResultConfirmed("J2"))
	require.NoError(t, j.Close())

	reopened, err := OpenJournal(path)
	require.NoError(t, err)
	defer reopened.Close()

	all := reopened.List()
	require.Len(t, all, 1)
	assert.Equal(t, types.JobID("J2"), all[0].JobID)
	assert.Equal(t, types.StepResultConfirmed, all[0].Step)
}

func TestReadSettlementsIsReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settlement.wal")

	list, err := ReadSettlements(path)
	require.NoError(t, err)
	assert.Empty(t, list)

	j, err := OpenJournal(path)
	require.NoError(t, err)
	require.NoError(t, j.Request("J1", "0xaa"))
	require.NoError(t, j.Request("J2", "0xbb"))
	require.NoError(t, j.Failed("J2", 3, errors.New("reverted")))

	list, err = ReadSettlements(path)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, types.StepRequested, list[0].Step)
	assert.Equal(t, types.StepFailed, list[1].Step)

	// the writer is unaffected
	require.NoError(t, j.Released("J1"))
	require.NoError(t, j.Close())
}
