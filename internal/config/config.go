// Package config defines the broker's validated configuration shape,
// loaded by the CLI layer from TOML and handed to the broker package
// as an already-validated value.
package config

import "fmt"

// Config is the full structured configuration consumed by the broker.
type Config struct {
	QEMU    QEMU    `toml:"qemu"`
	Testing Testing `toml:"testing"`
	Logging Logging `toml:"logging"`
	Dev     Dev     `toml:"dev"`
}

// QEMU groups the client-process and register-comparison settings.
type QEMU struct {
	Plugin               string            `toml:"plugin"`
	Clients              []Client          `toml:"clients"`
	GDBRegMap            map[string]string `toml:"gdb_reg_map"`
	IgnoreRegisters      []string          `toml:"ignore_registers"`
	IgnoreUnsetRegisters bool              `toml:"ignore_unset_registers"`
}

// Client describes one client's executable and plugin wiring.
type Client struct {
	Exec              string   `toml:"exec"`
	AdditionalArgs    []string `toml:"additional_args"`
	PassTestExecTo    string   `toml:"pass_test_exec_to"`
	Name              string   `toml:"name"`
	SkipNInstructions int      `toml:"skip_n_instructions"`
}

// Testing groups the test-executable and protocol settings.
type Testing struct {
	TestExec       string   `toml:"test_exec"`
	MaxTraceLength int      `toml:"max_trace_length"`
	Protocol       Protocol `toml:"protocol"`
}

// Protocol configures the lockstep step loop.
type Protocol struct {
	Mode                            string `toml:"mode"`
	Layer                           string `toml:"layer"`
	ExecuteAllRemainingInstructions bool   `toml:"execute_all_remaining_instructions"`
	StopAfterNInstructions          int    `toml:"stop_after_n_instructions"`
	Out                             Out    `toml:"out"`
}

// Out configures the report output.
type Out struct {
	Dir    string `toml:"dir"`
	Format string `toml:"format"`
}

// Logging configures per-client log file behavior.
type Logging struct {
	Dir          string `toml:"dir"`
	Enable       bool   `toml:"enable"`
	ClearOnRerun bool   `toml:"clear_on_rerun"`
	File         string `toml:"file"`
	Level        string `toml:"level"`
}

// Dev groups development-only escape hatches.
type Dev struct {
	DryRun bool `toml:"dry_run"`
}

// Validate checks the invariants the broker relies on: a non-empty
// client list, a recognized layer and output format, and a non-empty
// test executable. It does not reach into the filesystem (e.g. it does
// not check that exec paths exist) — that is surfaced naturally when
// the supervisor tries to spawn them.
func (c Config) Validate() error {
	if len(c.QEMU.Clients) == 0 {
		return fmt.Errorf("config: qemu.clients must not be empty")
	}
	for i, client := range c.QEMU.Clients {
		if client.Exec == "" {
			return fmt.Errorf("config: qemu.clients[%d].exec must not be empty", i)
		}
		if client.PassTestExecTo == "" {
			return fmt.Errorf("config: qemu.clients[%d].pass_test_exec_to must not be empty", i)
		}
	}
	if c.Testing.TestExec == "" {
		return fmt.Errorf("config: testing.test_exec must not be empty")
	}
	switch c.Testing.Protocol.Layer {
	case "insn", "tb", "tb-strict":
	default:
		return fmt.Errorf("config: testing.protocol.layer %q is not one of insn, tb, tb-strict", c.Testing.Protocol.Layer)
	}
	if c.Testing.Protocol.Mode != "lockstep" {
		return fmt.Errorf("config: testing.protocol.mode %q is not supported, only \"lockstep\"", c.Testing.Protocol.Mode)
	}
	if c.Testing.Protocol.Out.Format != "json" {
		return fmt.Errorf("config: testing.protocol.out.format %q is not supported, only \"json\"", c.Testing.Protocol.Out.Format)
	}
	if c.Testing.Protocol.Out.Dir == "" {
		return fmt.Errorf("config: testing.protocol.out.dir must not be empty")
	}
	return nil
}

// IgnoreRegisterSet returns IgnoreRegisters as a membership set, for
// the diff engine's Options.
func (c Config) IgnoreRegisterSet() map[string]bool {
	set := make(map[string]bool, len(c.QEMU.IgnoreRegisters))
	for _, name := range c.QEMU.IgnoreRegisters {
		set[name] = true
	}
	return set
}

// EffectiveLayer returns "tb" for both TB-family layers and the layer
// itself otherwise, matching the plugin's mode= argument convention.
func (p Protocol) EffectiveLayer() string {
	if p.Layer == "tb" || p.Layer == "tb-strict" {
		return "tb"
	}
	return p.Layer
}
