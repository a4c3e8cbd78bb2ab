// Command cosim-broker drives a lockstep cosimulation run between two
// or more QEMU-plugin clients against a shared test executable,
// reporting the first architectural divergence found.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/vadl-tools/cosim-broker/internal/broker"
	"github.com/vadl-tools/cosim-broker/internal/config"
	"github.com/vadl-tools/cosim-broker/internal/logx"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		testExec   string
	)

	run := &cobra.Command{
		Use:   "run",
		Short: "Run one lockstep cosimulation session against a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), configPath, testExec)
		},
	}
	run.Flags().StringVarP(&configPath, "config", "c", "", "path to the broker TOML config (required)")
	run.Flags().StringVar(&testExec, "test-exec", "", "override testing.test_exec from the config")
	_ = run.MarkFlagRequired("config")

	root := &cobra.Command{
		Use:   "cosim-broker",
		Short: "Lockstep cosimulation broker for comparing emulator client state",
	}
	root.AddCommand(run)
	return root
}

func runRun(ctx context.Context, configPath, testExecOverride string) error {
	var cfg config.Config
	if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
		return fmt.Errorf("cosim-broker: decode config %s: %w", configPath, err)
	}
	if testExecOverride != "" {
		cfg.Testing.TestExec = testExecOverride
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("cosim-broker: %w", err)
	}

	level := logx.Info
	if cfg.Logging.Level == "debug" {
		level = logx.Debug
	}
	log := logx.New(logx.Config{Level: level, Component: "cosim-broker", Colorize: true})

	if cfg.Dev.DryRun {
		log.Info("dry run: configuration validated, not launching clients",
			logx.Int("clients", len(cfg.QEMU.Clients)),
			logx.String("layer", cfg.Testing.Protocol.Layer),
			logx.String("out_dir", cfg.Testing.Protocol.Out.Dir))
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	doc, err := broker.Run(ctx, cfg, log)
	if err != nil {
		return err
	}

	if !doc.Report.Passed {
		log.Warn("cosimulation diverged", logx.Int("diffs", len(doc.Report.Diffs)))
		os.Exit(1)
	}
	log.Info("cosimulation passed")
	return nil
}
