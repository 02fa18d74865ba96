package controller

// ============================================================================
// Lifecycle tests: many jobs through assign, result and settlement, then a
// restart over the same records and journal
//
// Expected with every tenth release rejected by the ledger:
//   - every job completed, every node idle
//   - released + failed settlements = total jobs
//   - the restart changes none of it
// ============================================================================

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/ledger-scheduler/internal/ledger"
	"github.com/ChuLiYu/ledger-scheduler/pkg/types"
)

const (
	lifecycleJobs  = 40
	lifecycleNodes = 8
)

func lifecycleRecords() ([]types.Job, []types.Node) {
	jobs := make([]types.Job, lifecycleJobs)
	for i := range jobs {
		jobs[i] = pendingJob(fmt.Sprintf("job-%d", i), "A100")
	}
	nodes := make([]types.Node, lifecycleNodes)
	for i := range nodes {
		nodes[i] = idleNode(fmt.Sprintf("node-%d", i), "A100")
	}
	return jobs, nodes
}

// rejectEveryTenth fails releases for job-0, job-10, job-20 ...
func rejectEveryTenth(c ledger.Call) error {
	var n int
	if _, err := fmt.Sscanf(string(c.JobID), "job-%d", &n); err == nil && n%10 == 0 {
		return fmt.Errorf("%w: release reverted", ledger.ErrConfirm)
	}
	return nil
}

// runRound assigns as many pending jobs as there are free nodes, then
// submits a result for each. Returns how many jobs it finished.
func runRound(t *testing.T, h *harness) int {
	t.Helper()

	var assigned []Assignment
	for _, job := range h.ctrl.ListJobs() {
		if job.Status != types.JobPending {
			continue
		}
		a, err := h.ctrl.AssignProvider(context.Background(), job.ID, provider)
		if errors.Is(err, ErrNoEligibleNode) {
			break
		}
		require.NoError(t, err)
		assigned = append(assigned, a)
	}

	for _, a := range assigned {
		_, err := h.ctrl.SubmitResult(context.Background(), a.Job.ID, a.Node.ID, hashA)
		require.NoError(t, err)
	}
	return len(assigned)
}

func TestLifecycleSettlesEveryJob(t *testing.T) {
	jobs, nodes := lifecycleRecords()
	h := newHarness(t, jobs, nodes)
	h.ledger.FailWith(ledger.MethodRelease, rejectEveryTenth)

	finished := 0
	for rounds := 0; finished < lifecycleJobs; rounds++ {
		require.Less(t, rounds, lifecycleJobs, "jobs stopped making progress")
		finished += runRound(t, h)
	}

	require.Eventually(t, func() bool {
		return len(h.ctrl.journal.Pending()) == 0
	}, 10*time.Second, 10*time.Millisecond, "settlements never drained")

	released, failed := 0, 0
	for _, s := range h.ctrl.Settlements() {
		switch s.Step {
		case types.StepReleased:
			released++
		case types.StepFailed:
			failed++
			// one submitResult plus every release attempt
			assert.Equal(t, 1+testConfig().MaxAttempts, s.Attempts, "job %s", s.JobID)
		}
	}
	assert.Equal(t, lifecycleJobs/10, failed)
	assert.Equal(t, lifecycleJobs, released+failed)
	assert.Len(t, h.ledger.CallsTo(ledger.MethodAssign), lifecycleJobs)
	assert.Len(t, h.ledger.CallsTo(ledger.MethodSubmitResult), lifecycleJobs)

	for _, job := range h.ctrl.ListJobs() {
		assert.Equal(t, types.JobCompleted, job.Status, "job %s", job.ID)
		require.NotNil(t, job.ResultHash)
	}
	for _, node := range h.ctrl.ListNodes() {
		assert.Equal(t, types.NodeIdle, node.Status, "node %s", node.ID)
	}

	// restart over the same directory
	h.ctrl.Stop()
	h.restart(t)

	stats := h.ctrl.Status()
	assert.Equal(t, lifecycleJobs, stats["jobs_completed"])
	assert.Equal(t, lifecycleNodes, stats["nodes_idle"])
	assert.Equal(t, 0, stats["settlements_pending"])
	assert.Empty(t, h.ledger.Calls(), "nothing left to settle after restart")
}

func TestLifecycleConcurrentRounds(t *testing.T) {
	jobs, nodes := lifecycleRecords()
	h := newHarness(t, jobs, nodes)
	h.ledger.Latency = time.Millisecond

	// every job races for the eight nodes until all are done
	done := make(chan types.JobID, lifecycleJobs)
	for _, job := range jobs {
		go func(id types.JobID) {
			deadline := time.Now().Add(10 * time.Second)
			for time.Now().Before(deadline) {
				a, err := h.ctrl.AssignProvider(context.Background(), id, provider)
				if err != nil {
					time.Sleep(time.Millisecond)
					continue
				}
				if _, err := h.ctrl.SubmitResult(context.Background(), id, a.Node.ID, hashB); err == nil {
					done <- id
					return
				}
			}
			done <- ""
		}(job.ID)
	}

	seen := make(map[types.JobID]bool)
	for i := 0; i < lifecycleJobs; i++ {
		id := <-done
		require.NotEmpty(t, id, "a job never finished")
		assert.False(t, seen[id], "job %s finished twice", id)
		seen[id] = true
	}

	require.Eventually(t, func() bool {
		return len(h.ctrl.journal.Pending()) == 0
	}, 10*time.Second, 10*time.Millisecond)
	assert.Len(t, h.ledger.CallsTo(ledger.MethodAssign), lifecycleJobs)
	assert.Len(t, h.ledger.CallsTo(ledger.MethodRelease), lifecycleJobs)
}
