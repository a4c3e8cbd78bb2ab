// Package broker wires the configuration, IPC, process supervision,
// coordinator, and report packages together into the single entrypoint
// the CLI calls: create every client's IPC objects, spawn its plugin
// subprocess, run the lockstep coordinator, write the result, and tear
// everything down in reverse order regardless of how the run ends.
package broker

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vadl-tools/cosim-broker/internal/client"
	"github.com/vadl-tools/cosim-broker/internal/config"
	"github.com/vadl-tools/cosim-broker/internal/coordinator"
	"github.com/vadl-tools/cosim-broker/internal/diffengine"
	"github.com/vadl-tools/cosim-broker/internal/logx"
	"github.com/vadl-tools/cosim-broker/internal/procsup"
	"github.com/vadl-tools/cosim-broker/internal/report"
	"github.com/vadl-tools/cosim-broker/internal/shmipc"
	"github.com/vadl-tools/cosim-broker/internal/shutdown"
	"github.com/vadl-tools/cosim-broker/internal/snapshot"
)

// Run creates IPC for every configured client, spawns its subprocess,
// runs the configured lockstep protocol, and writes the resulting
// report to cfg.Testing.Protocol.Out.Dir. Teardown (process kill, IPC
// unlink) always runs, in LIFO order, even when Run returns an error.
func Run(ctx context.Context, cfg config.Config, log *logx.Logger) (*report.Document, error) {
	if log == nil {
		log = logx.Default("broker")
	}
	log = log.With("broker")

	runID := uuid.NewString()
	log.Info("starting run", logx.String("run_id", runID))

	teardown := shutdown.New(log)
	defer teardown.Run()

	dir := shmipc.DefaultSegmentDir()
	shmSize := snapshot.SHMRegionSize()
	supervisor := procsup.New(log)

	logDir := cfg.Logging.Dir
	if cfg.Logging.Enable && logDir != "" {
		logDir = filepath.Join(logDir, runID)
	}

	n := len(cfg.QEMU.Clients)
	endpoints := make([]*client.Endpoint, n)
	names := make([]string, n)

	g, gCtx := errgroup.WithContext(ctx)
	for i, cc := range cfg.QEMU.Clients {
		i, cc := i, cc
		g.Go(func() error {
			ipc, err := shmipc.CreateClientIPC(dir, i, shmSize)
			if err != nil {
				return fmt.Errorf("broker: client %d: %w", i, err)
			}
			teardown.Register(func() error { return ipc.Close() })
			teardown.Register(func() error { return shmipc.Unlink(dir, i) })

			ep := client.New(uint32(i), cc.Name, ipc, log)
			endpoints[i] = ep
			names[i] = ep.DisplayName()

			proc, err := supervisor.Launch(gCtx, procsup.Spec{
				ClientID:   uint32(i),
				ClientName: cc.Name,
				Executable: cc.Exec,
				Args:       clientArgs(cfg, cc, i),
				LogDir:     logDir,
			})
			if err != nil {
				return fmt.Errorf("broker: client %d: %w", i, err)
			}
			teardown.Register(func() error { _ = proc.Kill(); return nil })
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	layer := coordinator.Layer(cfg.Testing.Protocol.Layer)
	coord := coordinator.New(endpoints, coordinator.Config{
		Layer:                           layer,
		ExecuteAllRemainingInstructions: cfg.Testing.Protocol.ExecuteAllRemainingInstructions,
		StopAfterNInstructions:          cfg.Testing.Protocol.StopAfterNInstructions,
		MaxTraceLength:                  cfg.Testing.MaxTraceLength,
		SkipNInstructions:               skipList(cfg),
		DiffOptions: diffengine.Options{
			IgnoreUnsetRegisters: cfg.QEMU.IgnoreUnsetRegisters,
			IgnoreRegisters:      cfg.IgnoreRegisterSet(),
			GDBRegMap:            cfg.QEMU.GDBRegMap,
		},
	}, log)

	rep, err := coord.Run()
	if err != nil {
		return nil, fmt.Errorf("broker: run: %w", err)
	}

	doc := &report.Document{
		Report: *rep,
		Traces: report.NamedTraces{
			Names:  names,
			Traces: coord.Trace().Entries(),
		},
	}

	if err := report.Write(cfg.Testing.Protocol.Out.Dir, *doc); err != nil {
		return nil, fmt.Errorf("broker: write report: %w", err)
	}

	return doc, nil
}

// clientArgs builds the plugin invocation, matching the
// `<exec> -<pass_test_exec_to> <test_exec> -plugin <plugin>,client-id=<i>,mode=<layer>[,client-name=<name>] <additional_args...>`
// convention.
func clientArgs(cfg config.Config, cc config.Client, index int) []string {
	pluginArg := fmt.Sprintf("%s,client-id=%d,mode=%s", cfg.QEMU.Plugin, index, cfg.Testing.Protocol.EffectiveLayer())
	if cc.Name != "" {
		pluginArg = fmt.Sprintf("%s,client-name=%s", pluginArg, cc.Name)
	}
	args := []string{
		"-" + cc.PassTestExecTo, cfg.Testing.TestExec,
		"-plugin", pluginArg,
	}
	args = append(args, cc.AdditionalArgs...)
	return args
}

func skipList(cfg config.Config) []int {
	skip := make([]int, len(cfg.QEMU.Clients))
	for i, cc := range cfg.QEMU.Clients {
		skip[i] = cc.SkipNInstructions
	}
	return skip
}
