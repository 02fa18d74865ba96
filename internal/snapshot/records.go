package snapshot

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/ChuLiYu/ledger-scheduler/pkg/types"
)

// Store bundles the job record and the node record.
type Store struct {
	jobs  *Manager
	nodes *Manager
}

// NewStore creates a record store for the two paths.
func NewStore(jobsPath, nodesPath string) *Store {
	return &Store{
		jobs:  NewManager(jobsPath),
		nodes: NewManager(nodesPath),
	}
}

// SaveJobs rewrites the job record.
func (s *Store) SaveJobs(jobs []types.Job) error {
	if jobs == nil {
		jobs = []types.Job{}
	}
	return s.jobs.Write(jobs)
}

// SaveNodes rewrites the node record.
func (s *Store) SaveNodes(nodes []types.Node) error {
	if nodes == nil {
		nodes = []types.Node{}
	}
	return s.nodes.Write(nodes)
}

// Save rewrites both records. Both writes are attempted even if the first
// fails; the errors are combined.
func (s *Store) Save(jobs []types.Job, nodes []types.Node) error {
	var result *multierror.Error
	if err := s.SaveJobs(jobs); err != nil {
		result = multierror.Append(result, fmt.Errorf("jobs: %w", err))
	}
	if err := s.SaveNodes(nodes); err != nil {
		result = multierror.Append(result, fmt.Errorf("nodes: %w", err))
	}
	return result.ErrorOrNil()
}

// Load reads both records. Either one missing or corrupted is an error.
func (s *Store) Load() ([]types.Job, []types.Node, error) {
	var (
		jobs   []types.Job
		nodes  []types.Node
		result *multierror.Error
	)
	if err := s.jobs.Load(&jobs); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.nodes.Load(&nodes); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, nil, err
	}
	return jobs, nodes, nil
}

// LoadNodes reads only the node record.
func (s *Store) LoadNodes() ([]types.Node, error) {
	var nodes []types.Node
	if err := s.nodes.Load(&nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// Init creates empty records for whichever of the two is missing.
// Existing records are left alone. Returns the paths it created.
func (s *Store) Init() ([]string, error) {
	var created []string
	var result *multierror.Error
	if !s.jobs.Exists() {
		if err := s.jobs.Write([]types.Job{}); err != nil {
			result = multierror.Append(result, err)
		} else {
			created = append(created, s.jobs.GetPath())
		}
	}
	if !s.nodes.Exists() {
		if err := s.nodes.Write([]types.Node{}); err != nil {
			result = multierror.Append(result, err)
		} else {
			created = append(created, s.nodes.GetPath())
		}
	}
	return created, result.ErrorOrNil()
}

// Paths returns the job and node record paths.
func (s *Store) Paths() (string, string) {
	return s.jobs.GetPath(), s.nodes.GetPath()
}
