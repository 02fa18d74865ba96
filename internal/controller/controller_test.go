package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/ledger-scheduler/internal/ledger"
	"github.com/ChuLiYu/ledger-scheduler/internal/snapshot"
	"github.com/ChuLiYu/ledger-scheduler/internal/storage/wal"
	"github.com/ChuLiYu/ledger-scheduler/internal/store"
	"github.com/ChuLiYu/ledger-scheduler/pkg/types"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

const provider = "0x00000000000000000000000000000000000000aa"

var (
	hashA = "0x" + strings.Repeat("ab", 32)
	hashB = "0x" + strings.Repeat("cd", 32)
)

type harness struct {
	dir     string
	records *snapshot.Store
	ledger  *ledger.Simulated
	ctrl    *Controller
}

func testConfig() Config {
	return Config{
		SettlementWorkers: 2,
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		ConfirmTimeout:    2 * time.Second,
	}
}

// newHarness writes the given records and starts a controller on them
func newHarness(t *testing.T, jobs []types.Job, nodes []types.Node) *harness {
	t.Helper()

	dir := t.TempDir()
	h := &harness{
		dir:     dir,
		records: snapshot.NewStore(filepath.Join(dir, "jobs.json"), filepath.Join(dir, "nodes.json")),
	}
	require.NoError(t, h.records.Save(jobs, nodes))
	h.restart(t)
	return h
}

// restart starts a fresh controller, with a fresh simulated ledger, on the
// harness directory
func (h *harness) restart(t *testing.T) {
	t.Helper()

	journal, err := wal.OpenJournal(filepath.Join(h.dir, "settlement.wal"))
	require.NoError(t, err)

	h.ledger = ledger.NewSimulated(0)
	ctrl, err := New(testConfig(), Deps{
		Store:   store.New(),
		Records: h.records,
		Journal: journal,
		Ledger:  h.ledger,
	})
	require.NoError(t, err)
	require.NoError(t, ctrl.Start())
	t.Cleanup(ctrl.Stop)
	h.ctrl = ctrl
}

func pendingJob(id, specs string) types.Job {
	return types.Job{ID: types.JobID(id), Owner: "0xowner", RequiredSpecs: specs, Status: types.JobPending, CreatedAt: "2025-01-01T00:00:00Z"}
}

func idleNode(id, specs string) types.Node {
	return types.Node{ID: types.NodeID(id), GPUSpecs: specs, Memory: 80, Status: types.NodeIdle, Active: true}
}

func (h *harness) job(t *testing.T, id string) types.Job {
	t.Helper()
	job, err := h.ctrl.store.GetJob(types.JobID(id))
	require.NoError(t, err)
	return job
}

func (h *harness) node(t *testing.T, id string) types.Node {
	t.Helper()
	node, err := h.ctrl.store.GetNode(types.NodeID(id))
	require.NoError(t, err)
	return node
}

func (h *harness) settlementStep(id string) types.SettlementStep {
	s, ok := h.ctrl.journal.Get(types.JobID(id))
	if !ok {
		return ""
	}
	return s.Step
}

func (h *harness) waitForStep(t *testing.T, id string, step types.SettlementStep) {
	t.Helper()
	require.Eventually(t, func() bool { return h.settlementStep(id) == step },
		3*time.Second, 5*time.Millisecond, "settlement of %s never reached %s", id, step)
}

// ============================================================================
// Construction and startup
// ============================================================================

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)
}

func TestStartFailsWithoutRecords(t *testing.T) {
	dir := t.TempDir()
	journal, err := wal.OpenJournal(filepath.Join(dir, "settlement.wal"))
	require.NoError(t, err)

	ctrl, err := New(testConfig(), Deps{
		Store:   store.New(),
		Records: snapshot.NewStore(filepath.Join(dir, "jobs.json"), filepath.Join(dir, "nodes.json")),
		Journal: journal,
		Ledger:  ledger.NewSimulated(0),
	})
	require.NoError(t, err)
	defer ctrl.Stop()

	err = ctrl.Start()
	require.Error(t, err)
	assert.True(t, errors.Is(err, snapshot.ErrNotFound))
}

func TestStartFailsOnCorruptRecord(t *testing.T) {
	h := &harness{dir: t.TempDir()}
	h.records = snapshot.NewStore(filepath.Join(h.dir, "jobs.json"), filepath.Join(h.dir, "nodes.json"))
	require.NoError(t, h.records.SaveNodes(nil))
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, "jobs.json"), []byte("{not json"), 0o644))

	journal, err := wal.OpenJournal(filepath.Join(h.dir, "settlement.wal"))
	require.NoError(t, err)
	ctrl, err := New(testConfig(), Deps{Store: store.New(), Records: h.records, Journal: journal, Ledger: ledger.NewSimulated(0)})
	require.NoError(t, err)
	defer ctrl.Stop()

	assert.True(t, errors.Is(ctrl.Start(), snapshot.ErrCorrupted))
}

func TestStartLoadsRecords(t *testing.T) {
	h := newHarness(t,
		[]types.Job{pendingJob("J1", "A100"), pendingJob("J2", "H100")},
		[]types.Node{idleNode("N1", "A100")})

	assert.Len(t, h.ctrl.ListJobs(), 2)
	assert.Len(t, h.ctrl.ListNodes(), 1)

	status := h.ctrl.Status()
	assert.Equal(t, 2, status["jobs_pending"])
	assert.Equal(t, 1, status["nodes_idle"])
	assert.Equal(t, 0, status["settlements_pending"])
}

// ============================================================================
// Registration
// ============================================================================

func TestRegisterNodeForcesIdentityAndState(t *testing.T) {
	h := newHarness(t, nil, nil)

	node, err := h.ctrl.RegisterNode(types.Node{GPUSpecs: "A100", Status: types.NodeBusy, Active: false})
	require.NoError(t, err)
	assert.NotEmpty(t, node.ID)
	assert.Equal(t, types.NodeIdle, node.Status)
	assert.True(t, node.Active)

	stored, err := h.records.LoadNodes()
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, node.ID, stored[0].ID)

	_, err = h.ctrl.RegisterNode(types.Node{ID: node.ID, GPUSpecs: "A100"})
	assert.True(t, errors.Is(err, store.ErrDuplicateNode))
}

func TestSubmitJobForcesPending(t *testing.T) {
	h := newHarness(t, nil, nil)

	job := pendingJob("J1", "A100")
	job.Status = types.JobCompleted
	job.AssignedNode = types.Ptr(types.NodeID("N9"))
	job.ResultHash = types.Ptr(hashA)

	jobs, err := h.ctrl.SubmitJob(job)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, types.JobPending, jobs[0].Status)
	assert.Nil(t, jobs[0].AssignedNode)
	assert.Nil(t, jobs[0].ResultHash)

	persisted, _, err := h.records.Load()
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, types.JobID("J1"), persisted[0].ID)

	_, err = h.ctrl.SubmitJob(pendingJob("J1", "A100"))
	assert.True(t, errors.Is(err, store.ErrDuplicateJob))

	_, err = h.ctrl.SubmitJob(types.Job{RequiredSpecs: "A100"})
	assert.True(t, errors.Is(err, ErrInvalidRequest))
}

func TestConcurrentWritesLeaveLatestRecords(t *testing.T) {
	h := newHarness(t, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := h.ctrl.SubmitJob(pendingJob(fmt.Sprintf("J%d", i), "A100"))
			assert.NoError(t, err)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := h.ctrl.RegisterNode(idleNode(fmt.Sprintf("N%d", i), "A100"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// every acknowledged write is on disk once the calls return
	jobs, nodes, err := h.records.Load()
	require.NoError(t, err)
	assert.Equal(t, h.ctrl.ListJobs(), jobs)
	assert.Equal(t, h.ctrl.ListNodes(), nodes)
	assert.Len(t, jobs, 40)
	assert.Len(t, nodes, 40)
}

func TestSubmitJobReportsPersistFailure(t *testing.T) {
	h := newHarness(t, nil, nil)
	jobsPath, _ := h.records.Paths()
	require.NoError(t, os.Remove(jobsPath))
	require.NoError(t, os.MkdirAll(filepath.Join(jobsPath, "occupied"), 0o755))

	_, err := h.ctrl.SubmitJob(pendingJob("J1", "A100"))
	assert.True(t, errors.Is(err, ErrPersist))
	// the in-memory transition stands
	assert.Len(t, h.ctrl.ListJobs(), 1)
}

func TestNodeJobs(t *testing.T) {
	h := newHarness(t,
		[]types.Job{pendingJob("J1", "A100"), pendingJob("J2", "H100"), pendingJob("J3", "A100")},
		[]types.Node{idleNode("N1", "A100")})

	jobs, err := h.ctrl.NodeJobs("N1")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, types.JobID("J1"), jobs[0].ID)
	assert.Equal(t, types.JobID("J3"), jobs[1].ID)

	_, err = h.ctrl.NodeJobs("missing")
	assert.True(t, errors.Is(err, store.ErrNodeNotFound))

	_, nodesPath := h.records.Paths()
	require.NoError(t, os.WriteFile(nodesPath, []byte("[{"), 0o644))
	_, err = h.ctrl.NodeJobs("N1")
	assert.True(t, errors.Is(err, ErrStorage))
}

// ============================================================================
// Assignment
// ============================================================================

func TestAssignWithoutEligibleNode(t *testing.T) {
	h := newHarness(t, []types.Job{pendingJob("J1", "A100")}, []types.Node{idleNode("N1", "H100")})

	_, err := h.ctrl.AssignProvider(context.Background(), "J1", provider)
	assert.True(t, errors.Is(err, ErrNoEligibleNode))
	assert.Equal(t, types.JobPending, h.job(t, "J1").Status)
	assert.Empty(t, h.ledger.Calls())
}

func TestAssignProviderCommits(t *testing.T) {
	h := newHarness(t, []types.Job{pendingJob("J1", "A100")}, []types.Node{idleNode("N1", "A100")})

	out, err := h.ctrl.AssignProvider(context.Background(), "J1", provider)
	require.NoError(t, err)
	assert.Equal(t, types.JobAssigned, out.Job.Status)
	require.NotNil(t, out.Job.AssignedNode)
	assert.Equal(t, types.NodeID("N1"), *out.Job.AssignedNode)
	assert.Equal(t, provider, *out.Job.ProviderAddress)
	assert.Equal(t, types.NodeBusy, out.Node.Status)

	calls := h.ledger.CallsTo(ledger.MethodAssign)
	require.Len(t, calls, 1)
	assert.Equal(t, provider, calls[0].Arg)

	jobs, nodes, err := h.records.Load()
	require.NoError(t, err)
	assert.Equal(t, types.JobAssigned, jobs[0].Status)
	assert.Equal(t, types.NodeBusy, nodes[0].Status)
}

func TestAssignValidation(t *testing.T) {
	h := newHarness(t, []types.Job{pendingJob("J1", "A100")}, []types.Node{idleNode("N1", "A100"), idleNode("N2", "A100")})
	ctx := context.Background()

	for _, addr := range []string{"", "not-an-address", "0x1234"} {
		_, err := h.ctrl.AssignProvider(ctx, "J1", addr)
		assert.True(t, errors.Is(err, ErrInvalidAddress), "address %q", addr)
	}

	_, err := h.ctrl.AssignProvider(ctx, "missing", provider)
	assert.True(t, errors.Is(err, store.ErrJobNotFound))

	_, err = h.ctrl.AssignProvider(ctx, "J1", provider)
	require.NoError(t, err)
	_, err = h.ctrl.AssignProvider(ctx, "J1", provider)
	assert.True(t, errors.Is(err, ErrJobNotPending))
}

func TestAssignLedgerFailureReleasesReservation(t *testing.T) {
	h := newHarness(t, []types.Job{pendingJob("J1", "A100")}, []types.Node{idleNode("N1", "A100")})
	h.ledger.FailTimes(ledger.MethodAssign, 1)

	_, err := h.ctrl.AssignProvider(context.Background(), "J1", provider)
	assert.True(t, errors.Is(err, ErrLedger))

	job := h.job(t, "J1")
	assert.Equal(t, types.JobPending, job.Status)
	assert.Nil(t, job.AssignedNode)
	assert.Nil(t, job.ProviderAddress)
	assert.Equal(t, types.NodeIdle, h.node(t, "N1").Status)

	out, err := h.ctrl.AssignProvider(context.Background(), "J1", provider)
	require.NoError(t, err)
	assert.Equal(t, types.NodeID("N1"), out.Node.ID)
}

func TestAssignReservesNodeWhileLedgerConfirms(t *testing.T) {
	h := newHarness(t,
		[]types.Job{pendingJob("J1", "A100"), pendingJob("J2", "A100")},
		[]types.Node{idleNode("N1", "A100")})
	release := h.ledger.Hold(ledger.MethodAssign)
	defer release()

	done := make(chan error, 1)
	go func() {
		_, err := h.ctrl.AssignProvider(context.Background(), "J1", provider)
		done <- err
	}()

	require.Eventually(t, func() bool { return h.node(t, "N1").Status == types.NodeReserved },
		time.Second, time.Millisecond)

	_, err := h.ctrl.AssignProvider(context.Background(), "J2", provider)
	assert.True(t, errors.Is(err, ErrNoEligibleNode), "reserved node must not be selected twice")

	_, err = h.ctrl.AssignProvider(context.Background(), "J1", provider)
	assert.True(t, errors.Is(err, ErrAssignmentInProgress))

	_, err = h.ctrl.SubmitResult(context.Background(), "J1", "N1", hashA)
	assert.True(t, errors.Is(err, ErrAssignmentInProgress))

	release()
	require.NoError(t, <-done)
	assert.Equal(t, types.NodeBusy, h.node(t, "N1").Status)
	assert.Equal(t, types.JobPending, h.job(t, "J2").Status)
}

func TestConcurrentAssignTakesNodeOnce(t *testing.T) {
	h := newHarness(t,
		[]types.Job{pendingJob("J1", "A100"), pendingJob("J2", "A100")},
		[]types.Node{idleNode("N1", "A100")})
	h.ledger.Latency = 20 * time.Millisecond

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded []types.JobID
		outcomes  []error
	)
	for _, id := range []types.JobID{"J1", "J2"} {
		wg.Add(1)
		go func(id types.JobID) {
			defer wg.Done()
			_, err := h.ctrl.AssignProvider(context.Background(), id, provider)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded = append(succeeded, id)
				return
			}
			outcomes = append(outcomes, err)
		}(id)
	}
	wg.Wait()

	require.Len(t, succeeded, 1, "exactly one assignment may take the node")
	require.Len(t, outcomes, 1)
	assert.True(t, errors.Is(outcomes[0], ErrNoEligibleNode))

	busy := 0
	for _, job := range h.ctrl.ListJobs() {
		if job.Status == types.JobAssigned {
			busy++
		}
	}
	assert.Equal(t, 1, busy)
	assert.Equal(t, types.NodeBusy, h.node(t, "N1").Status)
}

// ============================================================================
// Result submission and settlement
// ============================================================================

func TestResultCompletesBeforeLedgerRelease(t *testing.T) {
	h := newHarness(t, []types.Job{pendingJob("J1", "A100")}, []types.Node{idleNode("N1", "A100")})
	ctx := context.Background()

	_, err := h.ctrl.AssignProvider(ctx, "J1", provider)
	require.NoError(t, err)

	release := h.ledger.Hold(ledger.MethodRelease)
	defer release()

	job, err := h.ctrl.SubmitResult(ctx, "J1", "N1", hashA)
	require.NoError(t, err)
	assert.Equal(t, types.JobCompleted, job.Status)
	assert.Equal(t, hashA, *job.ResultHash)
	assert.Equal(t, types.NodeIdle, h.node(t, "N1").Status)

	h.waitForStep(t, "J1", types.StepResultConfirmed)
	assert.Equal(t, types.JobCompleted, h.job(t, "J1").Status)
	assert.Equal(t, 1, h.ctrl.Status()["settlements_pending"])

	release()
	h.waitForStep(t, "J1", types.StepReleased)

	calls := h.ledger.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, ledger.MethodSubmitResult, calls[1].Method)
	assert.Equal(t, hashA, calls[1].Arg)
	assert.Equal(t, ledger.MethodRelease, calls[2].Method)
}

func TestResultOnPendingJobCompletesIt(t *testing.T) {
	h := newHarness(t, []types.Job{pendingJob("J1", "A100")}, []types.Node{idleNode("N1", "A100")})

	job, err := h.ctrl.SubmitResult(context.Background(), "J1", "N1", hashA)
	require.NoError(t, err)
	assert.Equal(t, types.JobCompleted, job.Status)
	assert.Equal(t, types.NodeIdle, h.node(t, "N1").Status)
	h.waitForStep(t, "J1", types.StepReleased)
}

func TestResultValidation(t *testing.T) {
	h := newHarness(t, []types.Job{pendingJob("J1", "A100")}, nil)
	ctx := context.Background()

	_, err := h.ctrl.SubmitResult(ctx, "missing", "N1", hashA)
	assert.True(t, errors.Is(err, store.ErrJobNotFound))

	_, err = h.ctrl.SubmitResult(ctx, "J1", "unknown-node", hashA)
	require.NoError(t, err)

	_, err = h.ctrl.SubmitResult(ctx, "J1", "unknown-node", hashB)
	assert.True(t, errors.Is(err, ErrJobCompleted))
	assert.Equal(t, hashA, *h.job(t, "J1").ResultHash)
}

func TestResultWithUnsettleableHashStillCompletes(t *testing.T) {
	h := newHarness(t, []types.Job{pendingJob("J1", "A100")}, []types.Node{idleNode("N1", "A100")})
	ctx := context.Background()

	_, err := h.ctrl.AssignProvider(ctx, "J1", provider)
	require.NoError(t, err)

	job, err := h.ctrl.SubmitResult(ctx, "J1", "N1", "QmResultCID")
	require.NoError(t, err)
	assert.Equal(t, types.JobCompleted, job.Status)
	assert.Equal(t, "QmResultCID", *job.ResultHash)
	assert.Equal(t, types.NodeIdle, h.node(t, "N1").Status)

	h.waitForStep(t, "J1", types.StepFailed)
	s, _ := h.ctrl.journal.Get("J1")
	assert.Equal(t, 1, s.Attempts, "a malformed hash is not retried")
	assert.Contains(t, s.LastError, "32 bytes")
	assert.Empty(t, h.ledger.CallsTo(ledger.MethodSubmitResult), "rejected before any transaction")
	assert.Empty(t, h.ledger.CallsTo(ledger.MethodRelease))
	assert.Equal(t, types.JobCompleted, h.job(t, "J1").Status)
}

func TestSettlementRetriesTransientFailures(t *testing.T) {
	h := newHarness(t, []types.Job{pendingJob("J1", "A100")}, nil)
	h.ledger.FailTimes(ledger.MethodSubmitResult, 2)

	_, err := h.ctrl.SubmitResult(context.Background(), "J1", "", hashA)
	require.NoError(t, err)
	h.waitForStep(t, "J1", types.StepReleased)

	s, ok := h.ctrl.journal.Get("J1")
	require.True(t, ok)
	assert.Equal(t, 2, s.Attempts)
	assert.Empty(t, s.LastError)
	assert.Len(t, h.ledger.CallsTo(ledger.MethodSubmitResult), 3)
}

func TestSettlementExhaustedIsRecorded(t *testing.T) {
	h := newHarness(t, []types.Job{pendingJob("J1", "A100")}, nil)
	h.ledger.FailWith(ledger.MethodRelease, func(c ledger.Call) error {
		return fmt.Errorf("%w: reverted", ledger.ErrConfirm)
	})

	_, err := h.ctrl.SubmitResult(context.Background(), "J1", "", hashA)
	require.NoError(t, err)
	h.waitForStep(t, "J1", types.StepFailed)

	s, _ := h.ctrl.journal.Get("J1")
	assert.Contains(t, s.LastError, "reverted")
	assert.Len(t, h.ledger.CallsTo(ledger.MethodRelease), testConfig().MaxAttempts)
	// records are never rolled back
	assert.Equal(t, types.JobCompleted, h.job(t, "J1").Status)
	assert.Equal(t, 0, h.ctrl.Status()["settlements_pending"])
}

func TestSettlementResumesAfterRestart(t *testing.T) {
	h := newHarness(t, []types.Job{pendingJob("J1", "A100")}, []types.Node{idleNode("N1", "A100")})
	release := h.ledger.Hold(ledger.MethodRelease)
	defer release()

	_, err := h.ctrl.SubmitResult(context.Background(), "J1", "N1", hashA)
	require.NoError(t, err)
	h.waitForStep(t, "J1", types.StepResultConfirmed)

	h.ctrl.Stop()
	h.restart(t)

	h.waitForStep(t, "J1", types.StepReleased)
	assert.Empty(t, h.ledger.CallsTo(ledger.MethodSubmitResult), "confirmed step must not be repeated")
	assert.Len(t, h.ledger.CallsTo(ledger.MethodRelease), 1)
	assert.Equal(t, types.JobCompleted, h.job(t, "J1").Status)
}

func TestStartReconcilesJournaledCompletion(t *testing.T) {
	dir := t.TempDir()
	records := snapshot.NewStore(filepath.Join(dir, "jobs.json"), filepath.Join(dir, "nodes.json"))

	assigned := pendingJob("J1", "A100")
	assigned.Status = types.JobAssigned
	assigned.AssignedNode = types.Ptr(types.NodeID("N1"))
	assigned.ProviderAddress = types.Ptr(provider)
	busy := idleNode("N1", "A100")
	busy.Status = types.NodeBusy
	require.NoError(t, records.Save([]types.Job{assigned}, []types.Node{busy}))

	// crash between the journal append and the snapshot
	journal, err := wal.OpenJournal(filepath.Join(dir, "settlement.wal"))
	require.NoError(t, err)
	require.NoError(t, journal.Request("J1", hashA))
	require.NoError(t, journal.Close())

	h := &harness{dir: dir, records: records}
	h.restart(t)

	job := h.job(t, "J1")
	assert.Equal(t, types.JobCompleted, job.Status)
	assert.Equal(t, hashA, *job.ResultHash)
	assert.Equal(t, types.NodeIdle, h.node(t, "N1").Status)

	jobs, _, err := records.Load()
	require.NoError(t, err)
	assert.Equal(t, types.JobCompleted, jobs[0].Status)

	h.waitForStep(t, "J1", types.StepReleased)
}

func TestCompactJournal(t *testing.T) {
	h := newHarness(t, []types.Job{pendingJob("J1", "A100"), pendingJob("J2", "A100")}, nil)
	release := h.ledger.Hold(ledger.MethodRelease)

	_, err := h.ctrl.SubmitResult(context.Background(), "J1", "", hashA)
	require.NoError(t, err)
	h.waitForStep(t, "J1", types.StepResultConfirmed)
	release()
	h.waitForStep(t, "J1", types.StepReleased)

	h.ledger.Hold(ledger.MethodRelease)
	_, err = h.ctrl.SubmitResult(context.Background(), "J2", "", hashB)
	require.NoError(t, err)
	h.waitForStep(t, "J2", types.StepResultConfirmed)

	removed, err := h.ctrl.CompactJournal()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	list := h.ctrl.Settlements()
	require.Len(t, list, 1)
	assert.Equal(t, types.JobID("J2"), list[0].JobID)
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.ctrl.Stop()
	h.ctrl.Stop()
	assert.Error(t, h.ctrl.Start())
}
