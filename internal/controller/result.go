package controller

// ============================================================================
// 結果提交流程 (SubmitResult)
//
//   Update{ job 存在? 未完成? 未在指派中? 寫 SETTLE_REQUESTED;
//           job → completed; 指名的 busy 節點 → idle }
//   → 快照 → dispatch 到結算 pool → 立即回應
//
// 記錄不會因 ledger 失敗而回滾：ledger 的結果只體現在 journal。
// result hash 在這裡不做檢查，ledger 無法接受的 hash 會讓結算失敗，
// 而不是讓完成失敗。
// ============================================================================

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ChuLiYu/ledger-scheduler/internal/store"
	"github.com/ChuLiYu/ledger-scheduler/pkg/types"
)

// SubmitResult completes a job and queues its ledger settlement.
//
// The settlement request is journaled before the job moves, so a completed
// job always has an outbox entry. The ledger calls run afterwards on the
// settlement pool; the returned job is already completed.
//
// No status precondition is applied beyond "not yet completed": a pending
// job can be completed directly. The hash is not checked here either; a
// hash the ledger cannot take fails the settlement, not the completion.
func (c *Controller) SubmitResult(ctx context.Context, jobID types.JobID, nodeID types.NodeID, resultHash string) (types.Job, error) {
	resultHash = strings.TrimSpace(resultHash)
	if err := ctx.Err(); err != nil {
		return types.Job{}, err
	}

	var (
		completed   types.Job
		nodeUpdated bool
	)
	err := c.store.Update(func(tx *store.Tx) error {
		job, err := tx.Job(jobID)
		if err != nil {
			return err
		}
		if job.Status == types.JobCompleted {
			return fmt.Errorf("%w: %s", ErrJobCompleted, jobID)
		}
		if _, busy := tx.Reservation(jobID); busy {
			return fmt.Errorf("%w: %s", ErrAssignmentInProgress, jobID)
		}

		if err := c.journal.Request(jobID, resultHash); err != nil {
			return fmt.Errorf("%w: settlement journal: %v", ErrPersist, err)
		}

		job.Status = types.JobCompleted
		job.ResultHash = types.Ptr(resultHash)

		// A reserved node belongs to another job's assignment in flight.
		if node, err := tx.Node(nodeID); err == nil && node.Status == types.NodeBusy {
			node.Status = types.NodeIdle
			nodeUpdated = true
		}
		completed = *job
		return nil
	})
	if err != nil {
		return types.Job{}, err
	}

	log := c.logger.With(zap.String("job_id", string(jobID)), zap.String("node_id", string(nodeID)))
	if !nodeUpdated {
		if _, err := c.store.GetNode(nodeID); errors.Is(err, store.ErrNodeNotFound) {
			log.Warn("result names an unknown node")
		}
	}
	c.metrics.RecordResult()
	c.refreshGauges()
	log.Info("job completed, settlement queued", zap.String("result_hash", resultHash))

	persistErr := c.persistAll()
	if persistErr != nil {
		log.Error("job completed but snapshot failed", zap.Error(persistErr))
	}

	c.dispatch(jobID)
	return completed, persistErr
}
