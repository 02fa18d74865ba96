package cli

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ChuLiYu/ledger-scheduler/internal/agent"
	"github.com/ChuLiYu/ledger-scheduler/internal/ledger"
	"github.com/ChuLiYu/ledger-scheduler/internal/logging"
	"github.com/ChuLiYu/ledger-scheduler/pkg/types"
)

type agentOptions struct {
	schedulerURL string
	nodeID       string
	address      string
	gpuSpecs     string
	gpuName      string
	memory       uint64
	interval     time.Duration
	retries      int
	register     bool
}

func (o *agentOptions) validate() error {
	if !ledger.ValidAddress(o.address) {
		return fmt.Errorf("--address %q is not a valid provider address", o.address)
	}
	if o.nodeID == "" && !o.register {
		return fmt.Errorf("--node-id is required unless --register is set")
	}
	if o.register && o.nodeID == "" && o.gpuSpecs == "" {
		return fmt.Errorf("--gpu-specs is required to register")
	}
	return nil
}

func buildAgentCommand(opts *rootOptions) *cobra.Command {
	a := &agentOptions{}

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run a node agent that pulls and executes matching jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.validate(); err != nil {
				return err
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			source, err := agent.NewHTTPSource(a.schedulerURL, a.retries, logger.Named("source"))
			if err != nil {
				return err
			}
			runner := agent.New(agent.Config{
				NodeID:   types.NodeID(a.nodeID),
				Address:  a.address,
				GPUSpecs: a.gpuSpecs,
				GPUName:  a.gpuName,
				Memory:   a.memory,
				Interval: a.interval,
				Register: a.register,
			}, source, agent.NewDatasetHasher(a.retries, logger.Named("fetch")), logger.Named("agent"))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("starting node agent", zap.String("scheduler", a.schedulerURL))
			return runner.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&a.schedulerURL, "scheduler-url", "http://127.0.0.1:3000", "scheduler base URL")
	cmd.Flags().StringVar(&a.nodeID, "node-id", "", "registered node id")
	cmd.Flags().StringVar(&a.address, "address", "", "provider settlement address")
	cmd.Flags().StringVar(&a.gpuSpecs, "gpu-specs", "", "capability tag offered by this node")
	cmd.Flags().StringVar(&a.gpuName, "gpu-name", "", "display name for the GPU")
	cmd.Flags().Uint64Var(&a.memory, "memory", 0, "memory available on this node")
	cmd.Flags().DurationVar(&a.interval, "interval", 10*time.Second, "poll interval")
	cmd.Flags().IntVar(&a.retries, "retries", 3, "HTTP retries for transport failures")
	cmd.Flags().BoolVar(&a.register, "register", false, "register the node first when --node-id is empty")
	_ = cmd.MarkFlagRequired("address")

	return cmd
}
