package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nmxmxh/procmesh/internal/config"
	"github.com/nmxmxh/procmesh/kernel/core/termination"
	"github.com/nmxmxh/procmesh/kernel/experiment"
	"github.com/nmxmxh/procmesh/kernel/report"
	"github.com/nmxmxh/procmesh/kernel/stream"
	"github.com/nmxmxh/procmesh/kernel/utils"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "procmesh",
		Short:         "Simulate aggregate processes and their termination policies on a device mesh",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (yaml, json or toml)")
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(runCommand(), batchCommand(), serveCommand(), policiesCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "procmesh:", err)
		os.Exit(1)
	}
}

func load(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	level, err := utils.ParseLevel(cfg.Log.Level)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := utils.NewLogger(utils.HandlerConfig{
		Level:    level,
		Output:   os.Stderr,
		Colorize: cfg.Log.Color,
	})
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one scenario to its end and print the final counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load(cmd)
			if err != nil {
				return err
			}
			s, err := cfg.BuildScenario()
			if err != nil {
				return err
			}
			res, err := experiment.Run(cmd.Context(), s, logger)
			if err != nil {
				return err
			}

			rows := res.Final
			if cfg.Report.Rows {
				rows = res.Rows
			}
			if err := report.WriteRows(cmd.OutOrStdout(), rows); err != nil {
				return err
			}
			if cfg.Report.Dir == "" {
				return nil
			}
			dir, err := report.NewWriter(cfg.Report.Dir, cfg.Report.Compress, logger).Save(res)
			if err != nil {
				return err
			}
			return writeConfig(cfg, dir)
		},
	}
}

func batchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "batch",
		Short: "Sweep parameters over several seeds and print averaged counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load(cmd)
			if err != nil {
				return err
			}
			b, err := cfg.BuildBatch()
			if err != nil {
				return err
			}
			results, err := experiment.RunBatch(cmd.Context(), b, logger, func(done, total int) {
				logger.Info("batch progress", "done", done, "total", total)
			})
			if err != nil {
				return err
			}

			summaries := experiment.Summarize(results)
			if err := report.WriteSummaries(cmd.OutOrStdout(), summaries); err != nil {
				return err
			}
			if cfg.Report.Dir == "" {
				return nil
			}
			w := report.NewWriter(cfg.Report.Dir, cfg.Report.Compress, logger)
			for _, res := range results {
				if _, err := w.Save(res); err != nil {
					return err
				}
			}
			if _, err := w.SaveSummary(summaries); err != nil {
				return err
			}
			return writeConfig(cfg, cfg.Report.Dir)
		},
	}
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run one scenario paced in real time and stream frames to websocket viewers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load(cmd)
			if err != nil {
				return err
			}
			s, err := cfg.BuildScenario()
			if err != nil {
				return err
			}
			s.Render = true

			runner, err := experiment.NewRunner(s, logger)
			if err != nil {
				return err
			}
			hub, err := stream.NewHub(cfg.HubConfig(), logger)
			if err != nil {
				return err
			}
			metrics := stream.NewMetrics(hub.Clients)
			server := stream.NewServer(hub, metrics, cfg.Serve.ShutdownTimeout, logger)

			l, err := net.Listen("tcp", cfg.Serve.Addr)
			if err != nil {
				return utils.WrapError(err, "listen on "+cfg.Serve.Addr)
			}
			serveErr := make(chan error, 1)
			go func() { serveErr <- server.Serve(l) }()

			ctx := cmd.Context()
			live := stream.NewLive(runner, hub, metrics, nil, cfg.Serve.FrameInterval, logger)
			runErr := live.Run(ctx)
			if runErr == nil {
				logger.Info("simulation finished, serving final frame until interrupted")
				select {
				case <-ctx.Done():
				case err := <-serveErr:
					return err
				}
			}

			shutdownErr := server.Shutdown(context.Background())
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				return runErr
			}
			return shutdownErr
		},
	}
}

func policiesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "List the termination policies and process kinds",
		Run: func(cmd *cobra.Command, _ []string) {
			for _, k := range experiment.Kinds() {
				for _, p := range termination.Names() {
					fmt.Fprintln(cmd.OutOrStdout(), experiment.Variant{Kind: k, Policy: p})
				}
			}
		},
	}
}

func writeConfig(cfg config.Config, dir string) error {
	f, err := os.Create(filepath.Join(dir, "config.yaml"))
	if err != nil {
		return utils.WrapError(err, "create config manifest")
	}
	defer f.Close()
	return cfg.WriteManifest(f)
}
