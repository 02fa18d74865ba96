package controller

// ============================================================================
// 指派流程 (AssignProvider)
//
//   驗證 address
//   Update{ job 是否 pending? 是否已被預留? 選出節點; 預留節點 }
//   ledger.Assign（不持有任何鎖）
//   ├─ 成功: Update{ job → assigned, node → busy, 移除預留 } → 快照
//   └─ 失敗: Update{ node 回到 idle, 移除預留 }，job 保持不變
//
// 預留期間節點對其他指派請求不合格，
// 因此兩個並發請求不可能同時拿到同一個節點。
// ============================================================================

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ChuLiYu/ledger-scheduler/internal/ledger"
	"github.com/ChuLiYu/ledger-scheduler/internal/metrics"
	"github.com/ChuLiYu/ledger-scheduler/internal/selector"
	"github.com/ChuLiYu/ledger-scheduler/internal/store"
	"github.com/ChuLiYu/ledger-scheduler/pkg/types"
)

// Assignment is the committed outcome of AssignProvider
type Assignment struct {
	Job  types.Job
	Node types.Node
}

// AssignProvider picks an eligible node for the job, records the provider on
// the ledger and, only once that is confirmed, commits the assignment.
func (c *Controller) AssignProvider(ctx context.Context, jobID types.JobID, address string) (Assignment, error) {
	address = strings.TrimSpace(address)
	if !ledger.ValidAddress(address) {
		return Assignment{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	var reserved types.Node
	err := c.store.Update(func(tx *store.Tx) error {
		job, err := tx.Job(jobID)
		if err != nil {
			return err
		}
		if job.Status != types.JobPending {
			return fmt.Errorf("%w: %s is %s", ErrJobNotPending, jobID, job.Status)
		}
		if _, busy := tx.Reservation(jobID); busy {
			return fmt.Errorf("%w: %s", ErrAssignmentInProgress, jobID)
		}

		node, ok := selector.Select(*job, tx.Nodes(), c.selectorOptions())
		if !ok {
			return fmt.Errorf("%w: no idle node offers %q", ErrNoEligibleNode, job.RequiredSpecs)
		}
		if err := tx.Reserve(jobID, node.ID); err != nil {
			return err
		}
		reserved = node
		return nil
	})
	if err != nil {
		if isUnavailable(err) {
			c.metrics.RecordAssignment(metrics.OutcomeUnavailable)
		}
		return Assignment{}, err
	}

	log := c.logger.With(
		zap.String("job_id", string(jobID)),
		zap.String("node_id", string(reserved.ID)),
		zap.String("provider", address),
	)
	log.Info("node reserved, recording assignment on ledger")

	ledgerErr := c.timedLedgerCall(ctx, ledger.MethodAssign, func(ctx context.Context) error {
		return c.ledger.Assign(ctx, jobID, address)
	})
	if ledgerErr != nil {
		_ = c.store.Update(func(tx *store.Tx) error {
			tx.Release(jobID)
			return nil
		})
		c.metrics.RecordAssignment(metrics.OutcomeLedgerError)
		c.refreshGauges()
		log.Error("ledger assignment failed, reservation released", zap.Error(ledgerErr))
		return Assignment{}, fmt.Errorf("%w: %v", ErrLedger, ledgerErr)
	}

	var out Assignment
	err = c.store.Update(func(tx *store.Tx) error {
		job, err := tx.Job(jobID)
		if err != nil {
			return err
		}
		node, err := tx.Node(reserved.ID)
		if err != nil {
			return err
		}
		job.Status = types.JobAssigned
		job.AssignedNode = types.Ptr(node.ID)
		job.ProviderAddress = types.Ptr(address)
		node.Status = types.NodeBusy
		tx.Forget(jobID)

		out = Assignment{Job: *job, Node: *node}
		return nil
	})
	if err != nil {
		return Assignment{}, err
	}

	c.metrics.RecordAssignment(metrics.OutcomeSuccess)
	c.refreshGauges()
	log.Info("job assigned")

	if err := c.persistAll(); err != nil {
		log.Error("assignment committed but snapshot failed", zap.Error(err))
		return out, err
	}
	return out, nil
}

func isUnavailable(err error) bool {
	return err != nil && errors.Is(err, ErrNoEligibleNode)
}
