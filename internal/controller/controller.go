// ============================================================================
// Ledger-Scheduler 控制器 - 任務與節點生命週期管理
// ============================================================================
//
// Package: internal/controller
// 文件: controller.go
// 功能: 驅動 Job/Node 狀態機，在每次轉換時協調 store、selector、
//       持久化記錄、ledger 以及結算 outbox
//
// 架構設計:
//   這是整個排程器的"大腦"，負責協調以下組件：
//   - store.Store:     內存中的 jobs/nodes（先取 jobs 鎖，再取 nodes 鎖）
//   - snapshot.Store:  jobs.json / nodes.json，每次轉換後整份重寫
//   - wal.Journal:     結算 outbox，啟動時重放
//   - worker.Pool:     在背景對 ledger 執行結算任務
//   - ledger.Client:   assignProvider / submitResult / release
//
// 狀態機:
//   Job:  pending ──assign──► assigned ──result──► completed
//            └────────────────result────────────────┘
//   Node: idle ──reserve──► reserved ──confirm──► busy ──result──► idle
//                              └──ledger 失敗──► idle
//
// 啟動流程:
//   1. 載入兩份記錄（缺失或損壞直接失敗，不會以空狀態啟動）
//   2. 以 journal 校正記錄（已記錄完成的結果以 journal 為準）
//   3. 啟動 worker pool 與 result loop
//   4. 重新派發所有未完成的結算
//
// 關閉順序:
//   close(stopCh) → pool.Stop() → loopWg.Wait() → 最後一次快照 → 關閉 journal
//   只有成功載入記錄後才會寫最後快照，避免用空狀態覆蓋損壞的檔案
//
// 並發安全:
//   - 所有狀態修改都經過 store.Update，鎖順序固定為 jobs → nodes
//   - ledger 呼叫期間不持有任何 store 鎖
//   - persist 鎖包住「取快照 + 寫檔」，較舊的快照不會覆蓋較新的
//
// ============================================================================

package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ChuLiYu/ledger-scheduler/internal/ledger"
	"github.com/ChuLiYu/ledger-scheduler/internal/metrics"
	"github.com/ChuLiYu/ledger-scheduler/internal/selector"
	"github.com/ChuLiYu/ledger-scheduler/internal/snapshot"
	"github.com/ChuLiYu/ledger-scheduler/internal/storage/wal"
	"github.com/ChuLiYu/ledger-scheduler/internal/store"
	"github.com/ChuLiYu/ledger-scheduler/internal/worker"
	"github.com/ChuLiYu/ledger-scheduler/pkg/types"
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Config tunes the controller
type Config struct {
	SettlementWorkers int           // settlement pool size
	MaxAttempts       int           // ledger attempts per settlement step
	InitialBackoff    time.Duration // first retry delay
	MaxBackoff        time.Duration // retry delay cap
	ConfirmTimeout    time.Duration // bound on one ledger call including confirmation
	EnforceMinMemory  bool          // selection also checks node memory
}

// Deps are the collaborators the controller coordinates
type Deps struct {
	Store   *store.Store
	Records *snapshot.Store
	Journal *wal.Journal
	Ledger  ledger.Client
	Metrics *metrics.Collector // optional
	Logger  *zap.Logger        // optional
}

// Controller is the lifecycle manager
type Controller struct {
	store   *store.Store
	records *snapshot.Store
	journal *wal.Journal
	ledger  ledger.Client
	metrics *metrics.Collector
	logger  *zap.Logger
	pool    *worker.Pool
	config  Config

	mu       sync.Mutex
	started  bool
	loaded   bool // records are in the store; only then may Stop snapshot
	stopped  bool
	settling map[types.JobID]bool // settlements queued or running

	// Held across snapshot and write so an older snapshot never lands on
	// disk after a newer one. Order: jobs then nodes, like the store.
	persistJobsMu  sync.Mutex
	persistNodesMu sync.Mutex

	stopCh chan struct{}
	loopWg sync.WaitGroup
}

// ============================================================================
// 建構與生命週期
// ============================================================================

// New creates a controller. Nothing runs until Start.
func New(config Config, deps Deps) (*Controller, error) {
	if deps.Store == nil || deps.Records == nil || deps.Journal == nil || deps.Ledger == nil {
		return nil, fmt.Errorf("controller: store, records, journal and ledger are required")
	}
	if config.SettlementWorkers < 1 {
		config.SettlementWorkers = 1
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.ConfirmTimeout <= 0 {
		config.ConfirmTimeout = 2 * time.Minute
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = time.Second
	}
	if config.MaxBackoff < config.InitialBackoff {
		config.MaxBackoff = config.InitialBackoff
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Controller{
		store:    deps.Store,
		records:  deps.Records,
		journal:  deps.Journal,
		ledger:   deps.Ledger,
		metrics:  deps.Metrics,
		logger:   logger,
		pool:     worker.NewPool(256),
		config:   config,
		settling: make(map[types.JobID]bool),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start loads the records, reconciles them with the journal and resumes
// unfinished settlements. A missing or corrupt record is returned as an error.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return fmt.Errorf("controller: already started or stopped")
	}
	c.started = true
	c.mu.Unlock()

	begin := time.Now()

	jobs, nodes, err := c.records.Load()
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}
	if err := c.store.Replace(jobs, nodes); err != nil {
		return fmt.Errorf("load records: %w", err)
	}

	reconciled, err := c.reconcile()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.loaded = true
	c.mu.Unlock()

	if err := c.pool.Start(c.config.SettlementWorkers); err != nil {
		return fmt.Errorf("start settlement pool: %w", err)
	}
	c.loopWg.Add(1)
	go c.resultLoop()

	pending := c.journal.Pending()
	for _, s := range pending {
		c.dispatch(s.JobID)
	}

	c.refreshGauges()
	c.logger.Info("controller started",
		zap.Int("jobs", len(jobs)),
		zap.Int("nodes", len(nodes)),
		zap.Int("reconciled", reconciled),
		zap.Int("resumed_settlements", len(pending)),
		zap.Int("settlement_workers", c.config.SettlementWorkers),
		zap.Duration("duration", time.Since(begin)),
	)
	return nil
}

// reconcile applies journaled completions that never reached the job record,
// e.g. after a crash between the journal append and the snapshot.
func (c *Controller) reconcile() (int, error) {
	settlements := c.journal.List()
	if len(settlements) == 0 {
		return 0, nil
	}

	fixed := 0
	_ = c.store.Update(func(tx *store.Tx) error {
		for _, s := range settlements {
			job, err := tx.Job(s.JobID)
			if err != nil {
				c.logger.Warn("journal references unknown job", zap.String("job_id", string(s.JobID)))
				continue
			}
			if job.Status == types.JobCompleted {
				continue
			}
			if job.AssignedNode != nil {
				if node, err := tx.Node(*job.AssignedNode); err == nil && node.Status == types.NodeBusy {
					node.Status = types.NodeIdle
				}
			}
			job.Status = types.JobCompleted
			job.ResultHash = types.Ptr(s.ResultHash)
			fixed++
		}
		return nil
	})

	if fixed > 0 {
		if err := c.persistAll(); err != nil {
			return fixed, err
		}
		c.logger.Warn("reconciled job records from settlement journal", zap.Int("jobs", fixed))
	}
	return fixed, nil
}

// Stop shuts down the settlement pool and writes a final snapshot.
// Unfinished settlements stay in the journal for the next start.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	loaded := c.loaded
	c.mu.Unlock()

	c.logger.Info("stopping controller")

	close(c.stopCh)
	c.pool.Stop()
	c.loopWg.Wait()

	if loaded {
		if err := c.persistAll(); err != nil {
			c.logger.Error("final snapshot failed", zap.Error(err))
		}
	}
	if err := c.journal.Close(); err != nil {
		c.logger.Error("close settlement journal", zap.Error(err))
	}

	c.logger.Info("controller stopped")
}

// resultLoop logs settlement task outcomes until the pool closes
func (c *Controller) resultLoop() {
	defer c.loopWg.Done()

	for result := range c.pool.Results() {
		if result.Success {
			c.logger.Debug("settlement task finished",
				zap.String("task", result.ID),
				zap.Duration("duration", result.Duration))
			continue
		}
		c.logger.Warn("settlement task ended without settling",
			zap.String("task", result.ID),
			zap.Duration("duration", result.Duration),
			zap.Error(result.Error))
	}
}

// ============================================================================
// 共用輔助函式
// ============================================================================

func (c *Controller) selectorOptions() selector.Options {
	return selector.Options{EnforceMinMemory: c.config.EnforceMinMemory}
}

// persistAll rewrites both records from a consistent snapshot
func (c *Controller) persistAll() error {
	c.persistJobsMu.Lock()
	defer c.persistJobsMu.Unlock()
	c.persistNodesMu.Lock()
	defer c.persistNodesMu.Unlock()

	jobs, nodes := c.store.Snapshot()
	if err := c.records.Save(jobs, nodes); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

func (c *Controller) persistJobs() error {
	c.persistJobsMu.Lock()
	defer c.persistJobsMu.Unlock()

	if err := c.records.SaveJobs(c.store.ListJobs()); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

func (c *Controller) persistNodes() error {
	c.persistNodesMu.Lock()
	defer c.persistNodesMu.Unlock()

	if err := c.records.SaveNodes(c.store.ListNodes()); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

func (c *Controller) refreshGauges() {
	if c.metrics == nil {
		return
	}
	stats := c.store.Stats()
	jobs := map[string]int{}
	nodes := map[string]int{}
	for _, s := range []types.JobStatus{types.JobPending, types.JobAssigned, types.JobCompleted} {
		jobs[string(s)] = stats["jobs_"+string(s)]
	}
	for _, s := range []types.NodeStatus{types.NodeIdle, types.NodeReserved, types.NodeBusy} {
		nodes[string(s)] = stats["nodes_"+string(s)]
	}
	c.metrics.UpdateStats(jobs, nodes, len(c.journal.Pending()))
}

// timedLedgerCall bounds fn by the confirm timeout and records its latency
func (c *Controller) timedLedgerCall(ctx context.Context, method string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, c.config.ConfirmTimeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	c.metrics.ObserveLedgerCall(method, err, time.Since(start))
	return err
}

// Status summarizes the controller for health and status output
func (c *Controller) Status() map[string]int {
	stats := c.store.Stats()
	stats["settlements_pending"] = len(c.journal.Pending())
	stats["settlements_total"] = len(c.journal.List())
	return stats
}
