package controller

// ============================================================================
// 結算派發器 (settlement outbox)
//
//   SubmitResult ──journal.Request──► dispatch ──pool──► settle
//
//   settle:  [requested]        submitResult（重試）──► RESULT_CONFIRMED
//            [result_confirmed] release     （重試）──► RELEASE_CONFIRMED
//            重試用盡                                ──► SETTLE_FAILED
//
// 重試策略:
//   - 每一步使用 cenkalti/backoff 指數退避，最多 MaxAttempts 次
//   - 每次失敗先寫 ATTEMPT_FAILED，再等待下一次
//   - ErrInvalidHash 為永久錯誤，不重試，直接 SETTLE_FAILED
//
// 崩潰恢復:
//   因關閉而中斷的結算在 journal 中保持未完成，
//   下次 Start 時從第一個未確認的步驟繼續，已確認的步驟不會重送。
// ============================================================================

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ChuLiYu/ledger-scheduler/internal/ledger"
	"github.com/ChuLiYu/ledger-scheduler/internal/metrics"
	"github.com/ChuLiYu/ledger-scheduler/internal/worker"
	"github.com/ChuLiYu/ledger-scheduler/pkg/types"
)

// dispatch queues a settlement task unless one is already queued or running
func (c *Controller) dispatch(jobID types.JobID) {
	c.mu.Lock()
	if c.stopped || !c.started || c.settling[jobID] {
		c.mu.Unlock()
		return
	}
	c.settling[jobID] = true
	c.loopWg.Add(1)
	c.mu.Unlock()

	task := worker.Task{
		ID: "settle-" + string(jobID),
		Run: func(ctx context.Context) error {
			defer c.doneSettling(jobID)
			return c.settle(ctx, jobID)
		},
	}

	// Submit blocks while the queue is full; callers must not.
	go func() {
		defer c.loopWg.Done()
		if err := c.pool.Submit(task); err != nil {
			c.doneSettling(jobID)
			c.logger.Warn("settlement not queued, will resume on restart",
				zap.String("job_id", string(jobID)), zap.Error(err))
		}
	}()
}

func (c *Controller) doneSettling(jobID types.JobID) {
	c.mu.Lock()
	delete(c.settling, jobID)
	c.mu.Unlock()
}

// settle drives one settlement from its journaled step to released or failed
func (c *Controller) settle(ctx context.Context, jobID types.JobID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry, ok := c.journal.Get(jobID)
	if !ok || entry.Settled() {
		return nil
	}
	log := c.logger.With(zap.String("job_id", string(jobID)))
	attempt := entry.Attempts

	var err error
	if entry.Step == types.StepRequested {
		err = c.settleStep(ctx, jobID, ledger.MethodSubmitResult, &attempt, func(ctx context.Context) error {
			return c.ledger.SubmitResult(ctx, jobID, entry.ResultHash)
		})
		if err == nil {
			if jerr := c.journal.ResultConfirmed(jobID); jerr != nil {
				return fmt.Errorf("%w: settlement journal: %v", ErrPersist, jerr)
			}
			log.Info("result confirmed on ledger")
		}
	}
	if err == nil {
		err = c.settleStep(ctx, jobID, ledger.MethodRelease, &attempt, func(ctx context.Context) error {
			return c.ledger.Release(ctx, jobID)
		})
		if err == nil {
			if jerr := c.journal.Released(jobID); jerr != nil {
				return fmt.Errorf("%w: settlement journal: %v", ErrPersist, jerr)
			}
			c.metrics.RecordSettlement(metrics.OutcomeReleased)
			c.refreshGauges()
			log.Info("payment released, settlement complete", zap.Int("attempts", attempt))
			return nil
		}
	}

	if ctx.Err() != nil {
		// Shutdown; leave it for the next start.
		log.Info("settlement interrupted", zap.Int("attempts", attempt))
		return ctx.Err()
	}

	if jerr := c.journal.Failed(jobID, attempt, err); jerr != nil {
		log.Error("record settlement failure", zap.Error(jerr))
	}
	c.metrics.RecordSettlement(metrics.OutcomeFailed)
	c.refreshGauges()
	log.Error("settlement failed, ledger and records disagree",
		zap.Int("attempts", attempt), zap.Error(err))
	return fmt.Errorf("%w: %v", ErrLedger, err)
}

// settleStep retries one ledger call with exponential backoff. Each failed
// attempt is journaled before the next wait.
func (c *Controller) settleStep(ctx context.Context, jobID types.JobID, method string, attempt *int, call func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.InitialBackoff
	b.MaxInterval = c.config.MaxBackoff
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.config.MaxAttempts-1)), ctx)

	operation := func() error {
		*attempt++
		err := c.timedLedgerCall(ctx, method, call)
		if errors.Is(err, ledger.ErrInvalidHash) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		if jerr := c.journal.AttemptFailed(jobID, *attempt, err); jerr != nil {
			c.logger.Error("record settlement attempt", zap.String("job_id", string(jobID)), zap.Error(jerr))
		}
		c.logger.Warn("ledger call failed, retrying",
			zap.String("job_id", string(jobID)),
			zap.String("method", method),
			zap.Int("attempt", *attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	return backoff.RetryNotify(operation, policy, notify)
}

// CompactJournal drops released settlements from the journal
func (c *Controller) CompactJournal() (int, error) {
	removed, err := c.journal.Compact()
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		c.logger.Info("settlement journal compacted", zap.Int("removed", removed))
	}
	return removed, nil
}
