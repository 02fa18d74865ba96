package controller

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ChuLiYu/ledger-scheduler/internal/selector"
	"github.com/ChuLiYu/ledger-scheduler/internal/store"
	"github.com/ChuLiYu/ledger-scheduler/pkg/types"
)

// SubmitJob adds a pending job and returns the full job list.
// Assignment and result fields supplied by the caller are discarded.
func (c *Controller) SubmitJob(job types.Job) ([]types.Job, error) {
	job.ID = types.JobID(strings.TrimSpace(string(job.ID)))
	if job.ID == "" {
		return nil, fmt.Errorf("%w: jobId is required", ErrInvalidRequest)
	}
	job.Status = types.JobPending
	job.AssignedNode = nil
	job.ProviderAddress = nil
	job.ResultHash = nil
	job.Retries = 0
	if job.CreatedAt == "" {
		job.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	if err := c.store.AddJob(job); err != nil {
		return nil, err
	}
	c.metrics.RecordJobSubmitted()
	c.logger.Info("job submitted",
		zap.String("job_id", string(job.ID)),
		zap.String("required_specs", job.RequiredSpecs),
		zap.Float64("bounty", float64(job.Bounty)),
	)

	if err := c.persistJobs(); err != nil {
		return nil, err
	}
	c.refreshGauges()
	return c.store.ListJobs(), nil
}

// RegisterNode adds a node. An empty id is replaced with a generated one;
// status and active are always forced to idle and true.
func (c *Controller) RegisterNode(node types.Node) (types.Node, error) {
	node.ID = types.NodeID(strings.TrimSpace(string(node.ID)))
	if node.ID == "" {
		node.ID = types.NodeID(uuid.NewString())
	}
	node.Status = types.NodeIdle
	node.Active = true

	if err := c.store.AddNode(node); err != nil {
		return types.Node{}, err
	}
	c.metrics.RecordNodeRegistered()
	c.logger.Info("node registered",
		zap.String("node_id", string(node.ID)),
		zap.String("gpu_specs", node.GPUSpecs),
		zap.Uint64("memory", node.Memory),
	)

	if err := c.persistNodes(); err != nil {
		return types.Node{}, err
	}
	c.refreshGauges()
	return node, nil
}

// ListJobs returns every job in submission order
func (c *Controller) ListJobs() []types.Job {
	return c.store.ListJobs()
}

// ListNodes returns every node in registration order
func (c *Controller) ListNodes() []types.Node {
	return c.store.ListNodes()
}

// NodeJobs returns the jobs whose required specs match the node's tag.
// The node is looked up in the durable node record.
func (c *Controller) NodeJobs(nodeID types.NodeID) ([]types.Job, error) {
	nodes, err := c.records.LoadNodes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	for _, node := range nodes {
		if node.ID == nodeID {
			return selector.Matching(node.GPUSpecs, c.store.ListJobs()), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", store.ErrNodeNotFound, nodeID)
}

// Settlements returns the reconciliation view of the settlement journal
func (c *Controller) Settlements() []types.Settlement {
	return c.journal.List()
}
