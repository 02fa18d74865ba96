// Package selector matches jobs to nodes. Everything here is pure: callers
// pass in whatever snapshot they hold a lock for.
package selector

import "github.com/ChuLiYu/ledger-scheduler/pkg/types"

// Options tunes eligibility beyond the capability tag.
type Options struct {
	// EnforceMinMemory also requires node.Memory >= job.MinMemory.
	EnforceMinMemory bool
}

// Eligible reports whether node can take job.
func Eligible(job types.Job, node types.Node, opts Options) bool {
	if !node.Available() || node.GPUSpecs != job.RequiredSpecs {
		return false
	}
	if opts.EnforceMinMemory && node.Memory < job.MinMemory {
		return false
	}
	return true
}

// Select returns the first eligible node in the order given.
func Select(job types.Job, nodes []types.Node, opts Options) (types.Node, bool) {
	for _, node := range nodes {
		if Eligible(job, node, opts) {
			return node, true
		}
	}
	return types.Node{}, false
}

// Matching returns the jobs whose required specs equal the tag, in order.
func Matching(specs string, jobs []types.Job) []types.Job {
	out := make([]types.Job, 0)
	for _, job := range jobs {
		if job.RequiredSpecs == specs {
			out = append(out, job)
		}
	}
	return out
}
