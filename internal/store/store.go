// ============================================================================
// Ledger-Scheduler Entity Store - 任務與節點的權威集合
// ============================================================================
//
// Package: internal/store
// 文件: store.go
// 功能: 在整個程序生命週期內持有所有 Job 與 Node
//
// 資料佈局:
//   jobs  map[JobID]*Job    + jobOrder  []JobID    (jobsMu 保護)
//   nodes map[NodeID]*Node  + nodeOrder []NodeID   (nodesMu 保護)
//   reservations map[JobID]NodeID                  (jobsMu 保護)
//
//   map 提供 O(1) 查找，order slice 保持插入順序列出。
//
// 鎖順序:
//   同時需要兩個集合時，一律先取 jobs 鎖再取 nodes 鎖。
//   View/Update 是唯一同時持有兩把鎖的入口，呼叫端無法顛倒順序。
//
// 複本:
//   交易外回傳的一律是複本。Job/Node 的指標欄位在修改時整個替換，
//   不會透過指標寫入，所以淺拷貝就是安全的快照。
//
// ============================================================================

package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ChuLiYu/ledger-scheduler/pkg/types"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrNodeNotFound  = errors.New("node not found")
	ErrDuplicateJob  = errors.New("job already exists")
	ErrDuplicateNode = errors.New("node already exists")
)

// Store holds the authoritative job and node collections.
type Store struct {
	jobsMu       sync.RWMutex
	jobs         map[types.JobID]*types.Job
	jobOrder     []types.JobID
	reservations map[types.JobID]types.NodeID

	nodesMu   sync.RWMutex
	nodes     map[types.NodeID]*types.Node
	nodeOrder []types.NodeID
}

// New returns an empty store.
func New() *Store {
	return &Store{
		jobs:         make(map[types.JobID]*types.Job),
		jobOrder:     make([]types.JobID, 0),
		reservations: make(map[types.JobID]types.NodeID),
		nodes:        make(map[types.NodeID]*types.Node),
		nodeOrder:    make([]types.NodeID, 0),
	}
}

// ============================================================================
// 單一集合操作
// ============================================================================

// AddJob appends a job. Returns ErrDuplicateJob if the id is taken.
func (s *Store) AddJob(job types.Job) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}
	s.jobs[job.ID] = &job
	s.jobOrder = append(s.jobOrder, job.ID)
	return nil
}

// AddNode appends a node. Returns ErrDuplicateNode if the id is taken.
func (s *Store) AddNode(node types.Node) error {
	s.nodesMu.Lock()
	defer s.nodesMu.Unlock()

	if _, exists := s.nodes[node.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, node.ID)
	}
	s.nodes[node.ID] = &node
	s.nodeOrder = append(s.nodeOrder, node.ID)
	return nil
}

// ListJobs returns every job in insertion order.
func (s *Store) ListJobs() []types.Job {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	return s.jobsLocked()
}

// ListNodes returns every node in insertion order.
func (s *Store) ListNodes() []types.Node {
	s.nodesMu.RLock()
	defer s.nodesMu.RUnlock()
	return s.nodesLocked()
}

// GetJob returns a copy of the job.
func (s *Store) GetJob(id types.JobID) (types.Job, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return types.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return *job, nil
}

// GetNode returns a copy of the node.
func (s *Store) GetNode(id types.NodeID) (types.Node, error) {
	s.nodesMu.RLock()
	defer s.nodesMu.RUnlock()

	node, exists := s.nodes[id]
	if !exists {
		return types.Node{}, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return *node, nil
}

// ============================================================================
// 跨集合交易（jobs → nodes）
// ============================================================================

// Update runs fn with both guards held for writing (jobs, then nodes).
func (s *Store) Update(fn func(tx *Tx) error) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	s.nodesMu.Lock()
	defer s.nodesMu.Unlock()

	return fn(&Tx{s: s, writable: true})
}

// View runs fn with both guards held for reading (jobs, then nodes).
// Mutating through the Tx inside View panics.
func (s *Store) View(fn func(tx *Tx) error) error {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	s.nodesMu.RLock()
	defer s.nodesMu.RUnlock()

	return fn(&Tx{s: s})
}

// Snapshot returns consistent copies of both collections.
func (s *Store) Snapshot() ([]types.Job, []types.Node) {
	var (
		jobs  []types.Job
		nodes []types.Node
	)
	_ = s.View(func(tx *Tx) error {
		jobs = s.jobsLocked()
		nodes = s.nodesLocked()
		return nil
	})
	return jobs, nodes
}

// Replace swaps in the collections loaded at startup. Reservations do not
// survive a restart, so reserved nodes come back as idle.
func (s *Store) Replace(jobs []types.Job, nodes []types.Node) error {
	jobMap := make(map[types.JobID]*types.Job, len(jobs))
	jobOrder := make([]types.JobID, 0, len(jobs))
	for i := range jobs {
		job := jobs[i]
		if _, exists := jobMap[job.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
		}
		jobMap[job.ID] = &job
		jobOrder = append(jobOrder, job.ID)
	}

	nodeMap := make(map[types.NodeID]*types.Node, len(nodes))
	nodeOrder := make([]types.NodeID, 0, len(nodes))
	for i := range nodes {
		node := nodes[i]
		if _, exists := nodeMap[node.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateNode, node.ID)
		}
		if node.Status == types.NodeReserved {
			node.Status = types.NodeIdle
		}
		nodeMap[node.ID] = &node
		nodeOrder = append(nodeOrder, node.ID)
	}

	return s.Update(func(tx *Tx) error {
		s.jobs, s.jobOrder = jobMap, jobOrder
		s.nodes, s.nodeOrder = nodeMap, nodeOrder
		s.reservations = make(map[types.JobID]types.NodeID)
		return nil
	})
}

// Stats counts jobs and nodes per status.
func (s *Store) Stats() map[string]int {
	stats := map[string]int{}
	_ = s.View(func(tx *Tx) error {
		for _, job := range s.jobs {
			stats["jobs_"+string(job.Status)]++
		}
		for _, node := range s.nodes {
			stats["nodes_"+string(node.Status)]++
		}
		stats["jobs_total"] = len(s.jobs)
		stats["nodes_total"] = len(s.nodes)
		return nil
	})
	return stats
}

func (s *Store) jobsLocked() []types.Job {
	out := make([]types.Job, 0, len(s.jobOrder))
	for _, id := range s.jobOrder {
		out = append(out, *s.jobs[id])
	}
	return out
}

func (s *Store) nodesLocked() []types.Node {
	out := make([]types.Node, 0, len(s.nodeOrder))
	for _, id := range s.nodeOrder {
		out = append(out, *s.nodes[id])
	}
	return out
}
