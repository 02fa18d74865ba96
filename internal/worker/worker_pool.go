// ============================================================================
// Ledger-Scheduler Worker Pool - 並發結算執行器
// ============================================================================
//
// Package: internal/worker
// 文件: worker_pool.go
// 功能: 管理固定數量 Worker goroutine 的生命週期與任務分發
//
// 設計模式:
//   採用 Worker Pool 模式（工作池模式）：
//   1. 固定數量的 Worker goroutine 持續運行
//   2. 通過共享的任務 channel 分發結算任務
//   3. 通過結果 channel 回報執行結果給 controller
//
//   ┌─────────────┐
//   │ Controller  │ --Submit()--> taskCh
//   └─────────────┘
//         ↑
//   ReceiveResult()
//         ↑
//   ┌─────────────┐
//   │   Pool      │
//   │  ┌────────┐ │
//   │  │Worker 1│←── taskCh
//   │  │Worker 2│←── taskCh   ──→ resultCh
//   │  └────────┘ │
//   └─────────────┘
//
// 生命週期:
//   NewPool → Start(n) → Submit/ReceiveResult → Stop
//
// 關閉順序:
//   Stop 先關閉 stopCh，讓阻塞中的 Submit 返回，
//   再取得寫鎖（等待所有進行中的 Submit 離開）後才關閉 taskCh。
//   因此 Submit 永遠不會對已關閉的 channel 發送。
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrPoolClosed     = errors.New("worker pool is closed")
	ErrPoolNotStarted = errors.New("worker pool not started")
)

// Pool runs tasks on a fixed number of workers
type Pool struct {
	workers  []*Worker
	taskCh   chan Task
	resultCh chan Result
	stopCh   chan struct{}
	stopOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
	stopped  bool
	mu       sync.RWMutex
}

// NewPool creates a pool whose task and result channels hold bufferSize items
func NewPool(bufferSize int) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers:  make([]*Worker, 0),
		taskCh:   make(chan Task, bufferSize),
		resultCh: make(chan Result, bufferSize),
		stopCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches workerCount workers
func (p *Pool) Start(workerCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.New("pool already started")
	}
	if p.stopped {
		return ErrPoolClosed
	}
	if workerCount < 1 {
		workerCount = 1
	}

	for i := 0; i < workerCount; i++ {
		w := newWorker(i, p.taskCh, p.resultCh)
		p.workers = append(p.workers, w)

		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(p.ctx)
		}(w)
	}

	p.started = true
	return nil
}

// Submit queues a task, blocking while the buffer is full
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolClosed
	}

	select {
	case p.taskCh <- task:
		return nil
	case <-p.stopCh:
		return ErrPoolClosed
	}
}

// ReceiveResult returns the next result, or ErrPoolClosed once stopped
func (p *Pool) ReceiveResult() (Result, error) {
	select {
	case result, ok := <-p.resultCh:
		if !ok {
			return Result{}, ErrPoolClosed
		}
		return result, nil
	case <-p.stopCh:
		return Result{}, ErrPoolClosed
	}
}

// Results exposes the result channel; it is closed by Stop
func (p *Pool) Results() <-chan Result {
	return p.resultCh
}

// Stop cancels in-flight tasks, drains the workers and closes the channels
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.cancel()

		p.mu.Lock()
		wasStarted := p.started
		p.stopped = true
		close(p.taskCh)
		p.mu.Unlock()

		if wasStarted {
			p.wg.Wait()
		}
		close(p.resultCh)
	})
}

// GetWorkerCount returns the number of workers started
func (p *Pool) GetWorkerCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}

// IsStarted reports whether Start has run
func (p *Pool) IsStarted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}
