package worker

import (
	"context"
	"time"
)

// Task is one unit of ledger work handed to the pool
type Task struct {
	ID      string                          // Identifies the task in results and logs
	Run     func(ctx context.Context) error // The work itself
	Timeout time.Duration                   // Zero means no deadline
}

// Result is the outcome of a Task
type Result struct {
	ID       string
	Success  bool
	Error    error
	Duration time.Duration
}
