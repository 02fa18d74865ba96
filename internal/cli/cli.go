// ============================================================================
// Ledger-Scheduler CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: cobra command tree for the scheduler binary
//
// Command Structure:
//   scheduler                      # Root command
//   ├── serve                      # Run the HTTP API and settlement workers
//   ├── init                       # Create empty jobs/nodes records
//   ├── status                     # Summarize records and the settlement journal
//   │   └── --journal             # Also dump every journal event
//   ├── compact                    # Drop released settlements from the journal
//   ├── config                     # Print the effective configuration (secrets masked)
//   ├── agent                      # Run a node agent against a scheduler
//   ├── --config, -c               # Config file (default ./scheduler.yaml if present)
//   └── --env-file                 # .env file loaded before the environment
//
// serve:
//   1. load and validate config
//   2. open records, journal and the ledger client
//   3. start the controller (missing or corrupt records are fatal)
//   4. serve HTTP, and gRPC health when grpc.port is set
//   5. on SIGINT/SIGTERM: health down → HTTP drain → controller stop
//
// Offline commands (init, status, compact, config) never start the API.
// compact must not run while serve holds the journal.
//
// ============================================================================

package cli

import (
	"github.com/spf13/cobra"

	"github.com/ChuLiYu/ledger-scheduler/internal/config"
)

// Version is overridden at build time via -ldflags
var Version = "dev"

type rootOptions struct {
	configFile string
	envFile    string
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.configFile, o.envFile)
}

// BuildCLI assembles the command tree
func BuildCLI() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Ledger-Scheduler: GPU job scheduler with on-chain settlement",
		Long: `Ledger-Scheduler matches submitted jobs to registered GPU nodes and settles
them on a ledger contract:
- reserve-then-confirm provider assignment
- settlement outbox with retry and restart recovery
- jobs.json / nodes.json snapshots
- Prometheus metrics`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file path (default ./scheduler.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment; empty to skip")

	rootCmd.AddCommand(buildServeCommand(opts))
	rootCmd.AddCommand(buildInitCommand(opts))
	rootCmd.AddCommand(buildStatusCommand(opts))
	rootCmd.AddCommand(buildCompactCommand(opts))
	rootCmd.AddCommand(buildConfigCommand(opts))
	rootCmd.AddCommand(buildAgentCommand(opts))

	return rootCmd
}
