// Package types defines the domain model shared by the scheduler: jobs, nodes
// and the settlement journal view.
package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// JobID uniquely identifies a job. It is chosen by the submitter.
type JobID string

// NodeID uniquely identifies a worker node.
type NodeID string

// JobStatus is the lifecycle state of a job.
type JobStatus string

// Job states. Transitions are one-directional: pending → assigned → completed.
const (
	JobPending   JobStatus = "pending"
	JobAssigned  JobStatus = "assigned"
	JobCompleted JobStatus = "completed"
)

// NodeStatus is the availability state of a node.
type NodeStatus string

// Node states. NodeReserved is held only while a ledger assignment is in flight.
const (
	NodeIdle     NodeStatus = "idle"
	NodeReserved NodeStatus = "reserved"
	NodeBusy     NodeStatus = "busy"
)

// Bounty is the payment amount attached to a job. On the wire it is accepted
// as a JSON number or as a numeric string and always emitted as a number.
type Bounty float64

// UnmarshalJSON accepts 12.5 and "12.5".
func (b *Bounty) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*b = 0
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("bounty: expected number or numeric string, got %s", string(data))
	}
	if v < 0 {
		return fmt.Errorf("bounty: must be non-negative, got %v", v)
	}
	*b = Bounty(v)
	return nil
}

// Job is a unit of compute work.
//
// AssignedNode and ProviderAddress are nil iff Status is pending.
// ResultHash is nil iff Status is not completed.
type Job struct {
	ID              JobID     `json:"jobId"`
	Owner           string    `json:"owner"`
	Dataset         string    `json:"dataset"`
	Container       string    `json:"containerCID"`
	Bounty          Bounty    `json:"bounty"`
	Deadline        string    `json:"deadline"`
	RequiredSpecs   string    `json:"requiredSpecs"`
	MinMemory       uint64    `json:"minMemory"`
	Status          JobStatus `json:"status"`
	AssignedNode    *NodeID   `json:"assignedNode,omitempty"`
	ProviderAddress *string   `json:"providerAddress,omitempty"`
	ResultHash      *string   `json:"resultHash,omitempty"`
	// Retries is carried in the record but not advanced by any transition;
	// settlement attempts are tracked in the journal.
	Retries   uint8  `json:"retries"`
	CreatedAt string `json:"createdAt"`
}

// jobWire adds the derived completed flag to the wire form.
type jobWire struct {
	jobAlias
	Completed bool `json:"completed"`
}

type jobAlias Job

// MarshalJSON emits completed as a function of Status so the two can never disagree.
func (j Job) MarshalJSON() ([]byte, error) {
	return json.Marshal(jobWire{jobAlias: jobAlias(j), Completed: j.Status == JobCompleted})
}

// UnmarshalJSON ignores the incoming completed flag and defaults CreatedAt.
func (j *Job) UnmarshalJSON(data []byte) error {
	var w jobWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*j = Job(w.jobAlias)
	if j.CreatedAt == "" {
		j.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	return nil
}

// IsCompleted reports whether the job has reached its terminal state.
func (j Job) IsCompleted() bool {
	return j.Status == JobCompleted
}

// Node is a worker advertising a hardware capability tag.
type Node struct {
	ID       NodeID     `json:"nodeId"`
	GPUName  *string    `json:"gpuName,omitempty"`
	GPUSpecs string     `json:"gpuSpecs"`
	Owner    *string    `json:"owner,omitempty"`
	Memory   uint64     `json:"memoryAvailable"`
	Status   NodeStatus `json:"status"`
	Active   bool       `json:"active"`
}

// Available reports whether the node can take a new job.
func (n Node) Available() bool {
	return n.Active && n.Status == NodeIdle
}

// SettlementStep is the last ledger step a settlement has confirmed.
type SettlementStep string

const (
	StepRequested       SettlementStep = "requested"
	StepResultConfirmed SettlementStep = "result_confirmed"
	StepReleased        SettlementStep = "released"
	StepFailed          SettlementStep = "failed"
)

// Settlement is the reconciliation view of one job's ledger settlement.
type Settlement struct {
	JobID      JobID          `json:"jobId"`
	ResultHash string         `json:"resultHash"`
	Step       SettlementStep `json:"step"`
	Attempts   int            `json:"attempts"`
	LastError  string         `json:"lastError,omitempty"`
	UpdatedAt  int64          `json:"updatedAt"`
}

// Settled reports whether no further ledger work is outstanding.
func (s Settlement) Settled() bool {
	return s.Step == StepReleased || s.Step == StepFailed
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
