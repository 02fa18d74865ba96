package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/ledger-scheduler/internal/config"
	"github.com/ChuLiYu/ledger-scheduler/internal/snapshot"
	"github.com/ChuLiYu/ledger-scheduler/internal/storage/wal"
	"github.com/ChuLiYu/ledger-scheduler/pkg/types"
)

func buildInitCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create empty job and node records",
		Long:  "Create empty jobs.json and nodes.json where missing. Existing records are left untouched.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return runInit(cfg, cmd.OutOrStdout())
		},
	}
}

func runInit(cfg *config.Config, out io.Writer) error {
	created, err := snapshot.NewStore(cfg.Storage.JobsPath, cfg.Storage.NodesPath).Init()
	for _, path := range created {
		fmt.Fprintf(out, "created %s\n", path)
	}
	if err != nil {
		return err
	}
	if len(created) == 0 {
		fmt.Fprintln(out, "records already exist")
	}
	return nil
}

func buildStatusCommand(opts *rootOptions) *cobra.Command {
	var dump bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show record and settlement status",
		Long:  "Summarize jobs.json, nodes.json and the settlement journal without starting the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return runStatus(cfg, dump, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&dump, "journal", false, "dump every journal event")
	return cmd
}

func runStatus(cfg *config.Config, dump bool, out io.Writer) error {
	jobs, nodes, err := snapshot.NewStore(cfg.Storage.JobsPath, cfg.Storage.NodesPath).Load()
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}
	settlements, err := wal.ReadSettlements(cfg.Storage.JournalPath)
	if err != nil {
		return fmt.Errorf("read settlement journal: %w", err)
	}

	jobCounts := map[string]int{}
	for _, j := range jobs {
		jobCounts[string(j.Status)]++
	}
	nodeCounts := map[string]int{}
	for _, n := range nodes {
		nodeCounts[string(n.Status)]++
	}
	stepCounts := map[string]int{}
	for _, s := range settlements {
		stepCounts[string(s.Step)]++
	}

	fmt.Fprintln(out, "Records:")
	fmt.Fprintf(out, "  ├─ Jobs file:   %s\n", cfg.Storage.JobsPath)
	fmt.Fprintf(out, "  ├─ Nodes file:  %s\n", cfg.Storage.NodesPath)
	fmt.Fprintf(out, "  └─ Journal:     %s\n", cfg.Storage.JournalPath)
	fmt.Fprintln(out)
	writeCounts(out, "Jobs", len(jobs), jobCounts)
	writeCounts(out, "Nodes", len(nodes), nodeCounts)
	writeCounts(out, "Settlements", len(settlements), stepCounts)

	var failed []types.Settlement
	for _, s := range settlements {
		if s.Step == types.StepFailed {
			failed = append(failed, s)
		}
	}
	if len(failed) > 0 {
		fmt.Fprintln(out, "Failed settlements:")
		for _, s := range failed {
			fmt.Fprintf(out, "  - %s attempts=%d error=%q\n", s.JobID, s.Attempts, s.LastError)
		}
		fmt.Fprintln(out)
	}

	if dump {
		fmt.Fprintln(out, "Journal events:")
		return wal.DumpWAL(cfg.Storage.JournalPath, out)
	}
	return nil
}

func writeCounts(out io.Writer, title string, total int, counts map[string]int) {
	fmt.Fprintf(out, "%s: %d\n", title, total)
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		branch := "├─"
		if i == len(keys)-1 {
			branch = "└─"
		}
		fmt.Fprintf(out, "  %s %-17s %d\n", branch, k+":", counts[k])
	}
	fmt.Fprintln(out)
}

func buildCompactCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Drop released settlements from the journal",
		Long:  "Rewrite the settlement journal without fully released settlements. Do not run while serve is up.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return runCompact(cfg, cmd.OutOrStdout())
		},
	}
}

func runCompact(cfg *config.Config, out io.Writer) error {
	journal, err := wal.OpenJournal(cfg.Storage.JournalPath)
	if err != nil {
		return err
	}
	defer journal.Close()

	removed, err := journal.Compact()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "removed %d released settlement(s), %d remain\n", removed, len(journal.List()))
	return nil
}

func buildConfigCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			data, err := config.Render(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
