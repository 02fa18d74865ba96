package main

// ============================================================================
// Settlement recovery demo
// ============================================================================
//
// Runs the controller in-process against a slow simulated ledger.
//
//   go run ./cmd/demo start    submit jobs, assign and complete them, then
//                              press Ctrl+C while settlements are in flight
//   go run ./cmd/demo recover  restart on the same records and journal and
//                              watch the interrupted settlements finish
//
// ============================================================================

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ChuLiYu/ledger-scheduler/internal/controller"
	"github.com/ChuLiYu/ledger-scheduler/internal/ledger"
	"github.com/ChuLiYu/ledger-scheduler/internal/logging"
	"github.com/ChuLiYu/ledger-scheduler/internal/snapshot"
	"github.com/ChuLiYu/ledger-scheduler/internal/storage/wal"
	"github.com/ChuLiYu/ledger-scheduler/internal/store"
	"github.com/ChuLiYu/ledger-scheduler/pkg/types"
)

const (
	demoDir      = "demo-data"
	demoJobs     = 20
	demoNodes    = 5
	demoLatency  = 300 * time.Millisecond
	demoProvider = "0x1F1f090EEAF77Faae3D626fF7847682B7f66Fc8f"
)

func main() {
	if len(os.Args) < 2 || (os.Args[1] != "start" && os.Args[1] != "recover") {
		fmt.Println("Usage: go run ./cmd/demo <start|recover>")
		os.Exit(1)
	}
	mode := os.Args[1]

	logger := logging.Must("warn", "console")
	defer logger.Sync()

	records := snapshot.NewStore(filepath.Join(demoDir, "jobs.json"), filepath.Join(demoDir, "nodes.json"))
	if mode == "start" {
		if err := os.RemoveAll(demoDir); err != nil {
			log.Fatalf("Failed to reset %s: %v", demoDir, err)
		}
	}
	if _, err := records.Init(); err != nil {
		log.Fatalf("Failed to create records: %v", err)
	}
	journal, err := wal.OpenJournal(filepath.Join(demoDir, "settlement.wal"))
	if err != nil {
		log.Fatalf("Failed to open journal: %v", err)
	}

	ctrl, err := controller.New(controller.Config{
		SettlementWorkers: 2,
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		ConfirmTimeout:    5 * time.Second,
	}, controller.Deps{
		Store:   store.New(),
		Records: records,
		Journal: journal,
		Ledger:  ledger.NewSimulated(demoLatency),
		Logger:  logger,
	})
	if err != nil {
		log.Fatalf("Failed to create controller: %v", err)
	}
	if err := ctrl.Start(); err != nil {
		ctrl.Stop()
		log.Fatalf("Failed to start controller: %v", err)
	}
	fmt.Printf("✓ Controller started (mode: %s)\n", mode)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if mode == "start" {
		if err := runJobs(ctrl); err != nil {
			ctrl.Stop()
			log.Fatalf("Demo failed: %v", err)
		}
		fmt.Printf("\n⚡ %d settlements are going to the ledger, %s per call...\n", demoJobs, demoLatency)
		fmt.Printf("💡 Press Ctrl+C now, then run 'go run ./cmd/demo recover'\n\n")
	} else {
		printStatus("Immediate status after restart", ctrl)
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-sigChan:
			fmt.Println("\n\nReceived shutdown signal, stopping gracefully...")
			ctrl.Stop()
			printJournal(journal.Path())
			fmt.Println("✓ Controller stopped")
			return
		case <-ticker.C:
			stats := ctrl.Status()
			fmt.Printf("📊 Settlements: pending=%d total=%d\n", stats["settlements_pending"], stats["settlements_total"])
			if stats["settlements_pending"] == 0 && stats["settlements_total"] > 0 {
				printStatus("All settlements finished", ctrl)
				ctrl.Stop()
				return
			}
		}
	}
}

// runJobs pushes every demo job through assign and result
func runJobs(ctrl *controller.Controller) error {
	ctx := context.Background()
	for i := 1; i <= demoNodes; i++ {
		if _, err := ctrl.RegisterNode(types.Node{ID: types.NodeID(fmt.Sprintf("node-%d", i)), GPUSpecs: "A100", Memory: 80}); err != nil {
			return err
		}
	}
	for i := 1; i <= demoJobs; i++ {
		if _, err := ctrl.SubmitJob(types.Job{ID: types.JobID(fmt.Sprintf("job-%03d", i)), Owner: demoProvider, RequiredSpecs: "A100"}); err != nil {
			return err
		}
	}
	fmt.Printf("✓ Registered %d nodes and submitted %d jobs\n", demoNodes, demoJobs)

	hash := "0x" + strings.Repeat("ab", 32)
	for done := 0; done < demoJobs; {
		var round []controller.Assignment
		for _, job := range ctrl.ListJobs() {
			if job.Status != types.JobPending {
				continue
			}
			a, err := ctrl.AssignProvider(ctx, job.ID, demoProvider)
			if errors.Is(err, controller.ErrNoEligibleNode) {
				break
			}
			if err != nil {
				return err
			}
			round = append(round, a)
		}
		for _, a := range round {
			if _, err := ctrl.SubmitResult(ctx, a.Job.ID, a.Node.ID, hash); err != nil {
				return err
			}
		}
		done += len(round)
		fmt.Printf("✓ Completed %d/%d jobs\n", done, demoJobs)
	}
	return nil
}

func printStatus(title string, ctrl *controller.Controller) {
	stats := ctrl.Status()
	fmt.Printf("\n📊 %s:\n", title)
	fmt.Printf("  Jobs completed:      %d\n", stats["jobs_completed"])
	fmt.Printf("  Nodes idle:          %d\n", stats["nodes_idle"])
	fmt.Printf("  Settlements pending: %d\n", stats["settlements_pending"])
	fmt.Printf("  Settlements total:   %d\n", stats["settlements_total"])
}

func printJournal(path string) {
	settlements, err := wal.ReadSettlements(path)
	if err != nil {
		fmt.Printf("Failed to read journal: %v\n", err)
		return
	}
	unfinished := 0
	for _, s := range settlements {
		if !s.Settled() {
			unfinished++
		}
	}
	fmt.Printf("📒 Journal: %d settlements, %d left for 'recover'\n", len(settlements), unfinished)
}
