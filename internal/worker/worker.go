// ============================================================================
// Ledger-Scheduler Worker - 任務執行單元
// ============================================================================
//
// Package: internal/worker
// 文件: worker.go
// 功能: 從共享 channel 取出任務並執行，每個 Worker 一個 goroutine
//
// 執行模型:
//   ┌─────────────────────────────────────┐
//   │  Worker Goroutine                   │
//   │  ┌──────────────────────────────┐   │
//   │  │ for task := range taskCh     │   │
//   │  │   ├─ 帶 timeout 的 Context   │   │
//   │  │   ├─ task.Run(ctx)           │   │
//   │  │   └─ 結果送往 resultCh       │   │
//   │  └──────────────────────────────┘   │
//   └─────────────────────────────────────┘
//
// 取消:
//   每個任務的 context 都源自 pool context，Stop 會取消執行中的任務。
//   任務 panic 時回報為失敗的 Result，不會拖垮整個 pool。
//
// ============================================================================

package worker

import (
	"context"
	"fmt"
	"time"
)

// Worker represents a work execution unit
type Worker struct {
	id       int
	taskCh   <-chan Task
	resultCh chan<- Result
}

func newWorker(id int, taskCh <-chan Task, resultCh chan<- Result) *Worker {
	return &Worker{
		id:       id,
		taskCh:   taskCh,
		resultCh: resultCh,
	}
}

// Run receives tasks until taskCh is closed
func (w *Worker) Run(ctx context.Context) {
	for task := range w.taskCh {
		start := time.Now()
		err := w.execute(ctx, task)

		result := Result{
			ID:       task.ID,
			Success:  err == nil,
			Error:    err,
			Duration: time.Since(start),
		}

		select {
		case w.resultCh <- result:
		default:
			// nobody is collecting results; drop
		}
	}
}

func (w *Worker) execute(parent context.Context, task Task) (err error) {
	if task.Run == nil {
		return fmt.Errorf("worker %d: task %s has no work", w.id, task.ID)
	}

	ctx := parent
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, task.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %d: task %s panicked: %v", w.id, task.ID, r)
		}
	}()

	return task.Run(ctx)
}
