// Package coordinator drives the lockstep loop: per-client skip
// phases, the insn/tb-strict/tb step loops, TB PC resynchronization,
// and the resulting state-machine transitions into a final Report.
package coordinator

import (
	"errors"
	"fmt"

	"github.com/vadl-tools/cosim-broker/internal/client"
	"github.com/vadl-tools/cosim-broker/internal/diffengine"
	"github.com/vadl-tools/cosim-broker/internal/logx"
	"github.com/vadl-tools/cosim-broker/internal/report"
	"github.com/vadl-tools/cosim-broker/internal/snapshot"
)

// Layer selects the cosimulation granularity.
type Layer string

const (
	LayerInsn     Layer = "insn"
	LayerTBStrict Layer = "tb-strict"
	LayerTB       Layer = "tb"
)

// State is a run's position in the Startup -> Skipping -> Stepping ->
// (Diverged | Exhausted) -> Teardown state machine.
type State int

const (
	StateStartup State = iota
	StateSkipping
	StateStepping
	StateDiverged
	StateExhausted
	StateTeardown
)

func (s State) String() string {
	switch s {
	case StateStartup:
		return "startup"
	case StateSkipping:
		return "skipping"
	case StateStepping:
		return "stepping"
	case StateDiverged:
		return "diverged"
	case StateExhausted:
		return "exhausted"
	case StateTeardown:
		return "teardown"
	default:
		return "unknown"
	}
}

// IrrecoverableDivergence is raised by the TB resync algorithm when a
// non-jumped client's end_pc overshoots the resync target: every
// correct client must reach the target exactly, so an overshoot with
// no jump present can never be explained by a legitimate control
// transfer.
type IrrecoverableDivergence struct {
	ClientIndex int
	EndPC       uint64
	Target      uint64
}

func (e *IrrecoverableDivergence) Error() string {
	return fmt.Sprintf("client %d diverged irrecoverably: end_pc=0x%x overshoots target=0x%x",
		e.ClientIndex, e.EndPC, e.Target)
}

// Config bundles the step-loop knobs from spec §4.4.
type Config struct {
	Layer                           Layer
	ExecuteAllRemainingInstructions bool
	StopAfterNInstructions          int
	MaxTraceLength                  int
	SkipNInstructions               []int
	DiffOptions                     diffengine.Options
}

// Coordinator runs one lockstep session over a fixed set of client
// endpoints.
type Coordinator struct {
	clients []*client.Endpoint
	cfg     Config
	log     *logx.Logger

	state State
	trace *report.Trace
}

// New creates a Coordinator over clients, one SkipNInstructions entry
// per client.
func New(clients []*client.Endpoint, cfg Config, log *logx.Logger) *Coordinator {
	return &Coordinator{
		clients: clients,
		cfg:     cfg,
		log:     log.With("coordinator"),
		state:   StateStartup,
		trace:   report.NewTrace(cfg.MaxTraceLength),
	}
}

// State returns the coordinator's current state-machine position.
func (c *Coordinator) State() State { return c.state }

// Trace returns the accumulated trace ring.
func (c *Coordinator) Trace() *report.Trace { return c.trace }

func (c *Coordinator) anyOpen() bool {
	for _, cl := range c.clients {
		if cl.IsOpen {
			return true
		}
	}
	return false
}

// Run drives skip, then the configured step loop, and returns the
// final Report.
func (c *Coordinator) Run() (*report.Report, error) {
	c.state = StateSkipping
	if err := c.runSkipPhase(); err != nil {
		return nil, err
	}

	c.state = StateStepping
	var diffs []diffengine.Diff
	var err error
	switch c.cfg.Layer {
	case LayerInsn, LayerTBStrict:
		diffs, err = c.runInsnOrTBStrictLoop()
	default:
		diffs, err = c.runTBLoop()
	}

	if err != nil {
		var irr *IrrecoverableDivergence
		if errors.As(err, &irr) {
			c.log.Warn("irrecoverable TB divergence", logx.Err(err))
			c.state = StateDiverged
			return report.FromDiffs([]diffengine.Diff{{
				Key:         "tb_resync",
				Expected:    fmt.Sprintf("0x%x", irr.Target),
				Actual:      fmt.Sprintf("0x%x", irr.EndPC),
				Description: irr.Error(),
			}}), nil
		}
		return nil, err
	}

	if len(diffs) > 0 {
		c.state = StateDiverged
	} else {
		c.state = StateExhausted
	}
	return report.FromDiffs(diffs), nil
}

// runSkipPhase steps each client with remaining skip budget once per
// iteration until either no client has budget left or all clients have
// closed. Diffs are never collected here.
func (c *Coordinator) runSkipPhase() error {
	remaining := append([]int(nil), c.cfg.SkipNInstructions...)
	for len(remaining) < len(c.clients) {
		remaining = append(remaining, 0)
	}

	for c.anyOpen() && anyPositive(remaining) {
		for i, cl := range c.clients {
			if cl.IsOpen && remaining[i] > 0 {
				remaining[i]--
				if _, err := cl.Step(); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func anyPositive(xs []int) bool {
	for _, x := range xs {
		if x > 0 {
			return true
		}
	}
	return false
}

// runInsnOrTBStrictLoop implements the shared insn/tb-strict step
// loop: step every open client once per round, then compare state.
func (c *Coordinator) runInsnOrTBStrictLoop() ([]diffengine.Diff, error) {
	stopAfter := c.cfg.StopAfterNInstructions
	var diffs []diffengine.Diff

	for c.anyOpen() {
		for _, cl := range c.clients {
			if cl.IsOpen {
				if _, err := cl.Step(); err != nil {
					return nil, err
				}
			}
		}

		if !c.cfg.ExecuteAllRemainingInstructions {
			if stopAfter > 0 {
				stopAfter--
			} else {
				return diffs, nil
			}
		}

		roundDiffs, err := c.compareAndTrace()
		if err != nil {
			return nil, err
		}
		diffs = append(diffs, roundDiffs...)
		if len(diffs) > 0 {
			return diffs, nil
		}
	}
	return diffs, nil
}

// compareAndTrace appends the per-client snapshot to the trace, then
// runs the diff engine over clients[0] and clients[1] only, matching
// the ported broker's (documented, not "fixed") pairing behavior.
func (c *Coordinator) compareAndTrace() ([]diffengine.Diff, error) {
	entry := report.TraceEntry{}

	switch c.cfg.Layer {
	case LayerInsn:
		snaps := make([]snapshot.InsnSnapshot, len(c.clients))
		for i, cl := range c.clients {
			s, err := cl.ReadInsnSnapshot()
			if err != nil {
				return nil, err
			}
			snaps[i] = s
			entry.Insn = append(entry.Insn, s)
		}
		c.trace.Append(entry)
		if len(snaps) < 2 {
			return nil, nil
		}
		return diffengine.CompareInsnStep(snaps[0], snaps[1], c.cfg.DiffOptions), nil
	default:
		snaps := make([]snapshot.TBSnapshot, len(c.clients))
		for i, cl := range c.clients {
			s, err := cl.ReadTBSnapshot()
			if err != nil {
				return nil, err
			}
			snaps[i] = s
			entry.TB = append(entry.TB, s)
		}
		c.trace.Append(entry)
		if len(snaps) < 2 {
			return nil, nil
		}
		return diffengine.CompareTBStep(snaps[0], snaps[1], c.cfg.DiffOptions), nil
	}
}
