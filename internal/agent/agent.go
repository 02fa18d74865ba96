// ============================================================================
// Ledger-Scheduler Node Agent
// ============================================================================
//
// Package: internal/agent
// File: agent.go
// Function: runs on a worker node, pulls matching jobs from the scheduler,
//           executes them and reports results
//
// Poll cycle:
//   GET /nodes/{id}/jobs
//   for each job:
//     pending                       → assign-provider; run only if we got it
//     assigned to this node         → run (e.g. after an agent restart)
//     anything else                 → skip
//   run: Executor.Execute → POST /nodes/{job}/result
//
// Assignment refusals (400, 409, 503) are expected under contention and only
// logged. A job is retried on the next cycle until its result is accepted.
//
// ============================================================================

package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ChuLiYu/ledger-scheduler/pkg/types"
)

// Config describes the node this agent runs on
type Config struct {
	NodeID   types.NodeID
	Address  string // provider settlement address
	GPUSpecs string
	GPUName  string
	Memory   uint64
	Interval time.Duration
	// Register registers the node before polling when NodeID is empty.
	Register bool
}

// Agent is a polling node agent
type Agent struct {
	cfg    Config
	source Source
	exec   Executor
	logger *zap.Logger

	done map[types.JobID]bool // results accepted by the scheduler
}

// New creates an agent
func New(cfg Config, source Source, exec Executor, logger *zap.Logger) *Agent {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		cfg:    cfg,
		source: source,
		exec:   exec,
		logger: logger,
		done:   make(map[types.JobID]bool),
	}
}

// NodeID returns the node id, which Register may have assigned
func (a *Agent) NodeID() types.NodeID {
	return a.cfg.NodeID
}

// Run polls until ctx is cancelled
func (a *Agent) Run(ctx context.Context) error {
	if a.cfg.NodeID == "" {
		if !a.cfg.Register {
			return errors.New("agent: node id is required unless registering")
		}
		if err := a.register(ctx); err != nil {
			return err
		}
	}

	a.logger.Info("agent started",
		zap.String("node_id", string(a.cfg.NodeID)),
		zap.Duration("interval", a.cfg.Interval))

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := a.Poll(ctx); err != nil && ctx.Err() == nil {
			a.logger.Warn("poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			a.logger.Info("agent stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (a *Agent) register(ctx context.Context) error {
	node := types.Node{GPUSpecs: a.cfg.GPUSpecs, Memory: a.cfg.Memory}
	if a.cfg.GPUName != "" {
		node.GPUName = types.Ptr(a.cfg.GPUName)
	}
	if a.cfg.Address != "" {
		node.Owner = types.Ptr(a.cfg.Address)
	}
	registered, err := a.source.Register(ctx, node)
	if err != nil {
		return fmt.Errorf("register node: %w", err)
	}
	a.cfg.NodeID = registered.ID
	a.logger.Info("node registered", zap.String("node_id", string(registered.ID)))
	return nil
}

// Poll runs one cycle and returns the number of results accepted
func (a *Agent) Poll(ctx context.Context) (int, error) {
	jobs, err := a.source.MatchingJobs(ctx, a.cfg.NodeID)
	if err != nil {
		return 0, fmt.Errorf("fetch jobs: %w", err)
	}

	accepted := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return accepted, ctx.Err()
		}
		if a.done[job.ID] || !a.claim(ctx, job) {
			continue
		}
		if a.run(ctx, job) {
			accepted++
		}
	}
	return accepted, nil
}

// claim reports whether job is ours to run, assigning it if still pending
func (a *Agent) claim(ctx context.Context, job types.Job) bool {
	log := a.logger.With(zap.String("job_id", string(job.ID)))

	switch job.Status {
	case types.JobAssigned:
		return job.AssignedNode != nil && *job.AssignedNode == a.cfg.NodeID
	case types.JobPending:
	default:
		return false
	}

	out, err := a.source.Assign(ctx, job.ID, a.cfg.Address)
	if err != nil {
		if HasStatus(err, http.StatusBadRequest, http.StatusConflict, http.StatusServiceUnavailable) {
			log.Debug("assignment refused", zap.Error(err))
		} else {
			log.Warn("assignment failed", zap.Error(err))
		}
		return false
	}
	if out.Node.ID != a.cfg.NodeID {
		log.Info("job assigned to another node", zap.String("node_id", string(out.Node.ID)))
		return false
	}
	log.Info("job assigned to this node")
	return true
}

// run executes the job and reports the result
func (a *Agent) run(ctx context.Context, job types.Job) bool {
	log := a.logger.With(zap.String("job_id", string(job.ID)))

	start := time.Now()
	hash, logs, err := a.exec.Execute(ctx, job)
	if err != nil {
		log.Error("job execution failed", zap.Error(err))
		return false
	}
	log.Info("job executed", zap.String("result_hash", hash), zap.Duration("duration", time.Since(start)))

	err = a.source.SubmitResult(ctx, job.ID, Result{NodeID: a.cfg.NodeID, ResultHash: hash, Logs: logs})
	switch {
	case err == nil:
		a.done[job.ID] = true
		log.Info("result submitted")
		return true
	case HasStatus(err, http.StatusConflict):
		a.done[job.ID] = true
		log.Info("job already completed")
	default:
		log.Warn("result submission failed, will retry", zap.Error(err))
	}
	return false
}
