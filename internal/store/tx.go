package store

import (
	"fmt"

	"github.com/ChuLiYu/ledger-scheduler/pkg/types"
)

// Tx is the view handed to View/Update callbacks. It is only valid inside
// the callback; pointers it returns must not escape.
type Tx struct {
	s        *Store
	writable bool
}

// Job returns the live job for in-place mutation.
func (tx *Tx) Job(id types.JobID) (*types.Job, error) {
	job, exists := tx.s.jobs[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, nil
}

// Node returns the live node for in-place mutation.
func (tx *Tx) Node(id types.NodeID) (*types.Node, error) {
	node, exists := tx.s.nodes[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return node, nil
}

// Nodes returns copies of all nodes in insertion order, for selection.
func (tx *Tx) Nodes() []types.Node {
	return tx.s.nodesLocked()
}

// Reservation returns the node reserved for a job's in-flight assignment.
func (tx *Tx) Reservation(jobID types.JobID) (types.NodeID, bool) {
	nodeID, ok := tx.s.reservations[jobID]
	return nodeID, ok
}

// Reserve marks node as held for job until Release or a committed assignment.
func (tx *Tx) Reserve(jobID types.JobID, nodeID types.NodeID) error {
	tx.mustWrite()
	node, err := tx.Node(nodeID)
	if err != nil {
		return err
	}
	node.Status = types.NodeReserved
	tx.s.reservations[jobID] = nodeID
	return nil
}

// Release drops a job's reservation. The node goes back to idle if it is
// still reserved.
func (tx *Tx) Release(jobID types.JobID) {
	tx.mustWrite()
	nodeID, ok := tx.s.reservations[jobID]
	if !ok {
		return
	}
	delete(tx.s.reservations, jobID)
	if node, exists := tx.s.nodes[nodeID]; exists && node.Status == types.NodeReserved {
		node.Status = types.NodeIdle
	}
}

// Forget drops a reservation without touching the node.
func (tx *Tx) Forget(jobID types.JobID) {
	tx.mustWrite()
	delete(tx.s.reservations, jobID)
}

func (tx *Tx) mustWrite() {
	if !tx.writable {
		panic("store: mutation inside read-only transaction")
	}
}
