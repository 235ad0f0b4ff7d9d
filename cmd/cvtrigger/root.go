package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sznuper/cvtrigger/internal/config"
	"github.com/sznuper/cvtrigger/internal/device"
	"github.com/sznuper/cvtrigger/internal/metrics"
	"github.com/sznuper/cvtrigger/internal/runner"
)

var (
	cfgFile string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "cvtrigger",
	Short: "Trigger an inspection on a vision controller and print the result as JSON",
	Long: `cvtrigger connects to a vision controller, selects a program, triggers an
inspection and waits for the result record and image. The result is written to
stdout as one JSON object per cycle. Logs go to stderr.

It runs once by default. With --repeat or --schedule it keeps triggering until
interrupted.`,
	Example: `  cvtrigger --host 10.0.0.20 --program 3
  cvtrigger --program 3 --repeat 2000 --inline-image 1
  cvtrigger --config /etc/cvtrigger/line1.yaml --schedule "*/5 * * * *"`,
	Args:          noArgs,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          runTrigger,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file loaded before the config (default ./.env if present)")
	registerConfigFlags(rootCmd)

	rootCmd.Flags().Bool("dry-run-notify", false, "validate notification targets without sending")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &runner.Error{Kind: runner.KindInvalidArguments, Err: err}
	})
}

func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return &runner.Error{Kind: runner.KindInvalidArguments, Err: err}
	}
	return nil
}

// loadConfig merges defaults, the config file and the flags set on cmd, then
// validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Resolve(cfgFile, envFile)
	if err != nil {
		return nil, &runner.Error{Kind: runner.KindInvalidArguments, Err: err}
	}
	if err := applyConfigFlags(cmd, cfg); err != nil {
		return nil, &runner.Error{Kind: runner.KindInvalidArguments, Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, runner.Errorf(runner.KindInvalidArguments, "invalid configuration: %w", err)
	}
	return cfg, nil
}

func runTrigger(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	logger := setupLogger(stderr, cfg.Debug)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New()
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run-notify")
	styles := newSummaryStyles(stderr)
	client := device.NewTCPClient(cfg.Address(), cfg.CommandTimeoutDuration(), logger)

	r, err := runner.New(cfg, client, logger, runner.Options{
		Stdout:       cmd.OutOrStdout(),
		Metrics:      m,
		DryRunNotify: dryRun,
		OnCycle: func(res runner.CycleResult) {
			printSummary(stderr, styles, res)
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := r.Close(); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	return r.Start(ctx)
}
