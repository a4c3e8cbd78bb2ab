package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cl "github.com/vadl-tools/cosim-broker/internal/client"
	"github.com/vadl-tools/cosim-broker/internal/diffengine"
	"github.com/vadl-tools/cosim-broker/internal/logx"
	"github.com/vadl-tools/cosim-broker/internal/shmipc"
	"github.com/vadl-tools/cosim-broker/internal/snapshot"
)

// newTestEndpoint builds a client endpoint backed entirely by
// in-memory IPC, for exercising the coordinator without subprocesses.
func newTestEndpoint(t *testing.T, id uint32) (*cl.Endpoint, *shmipc.ClientIPC) {
	t.Helper()
	ipc := shmipc.NewInMemoryClientIPC(int(id), snapshot.SHMRegionSize())
	return cl.New(id, "", ipc, logx.Default("test")), ipc
}

// respondOnce writes an insn snapshot to shm, then waits for release
// and posts ack exactly once.
func respondOnce(t *testing.T, ipc *shmipc.ClientIPC, s snapshot.InsnSnapshot) {
	t.Helper()
	ok, err := ipc.Release.Wait(time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	buf := make([]byte, snapshot.InsnSnapshotSize)
	require.NoError(t, snapshot.EncodeInsn(buf, s))
	require.NoError(t, ipc.SHM.WriteAt(0, buf))

	require.NoError(t, ipc.Ack.Post())
}

func oneRegisterSnapshot(val uint32) snapshot.InsnSnapshot {
	var s snapshot.InsnSnapshot
	s.InitMask = 0b1
	s.CPUs[0].RegistersSize = 1
	s.CPUs[0].Registers[0] = snapshot.Register{Size: 4, Name: snapshot.NewShortString("x1")}
	s.CPUs[0].Registers[0].Data[0] = byte(val)
	return s
}

func TestInsnLoopPassesWhenClientsStayIdentical(t *testing.T) {
	e0, ipc0 := newTestEndpoint(t, 0)
	e1, ipc1 := newTestEndpoint(t, 1)

	go respondOnce(t, ipc0, oneRegisterSnapshot(1))
	go respondOnce(t, ipc1, oneRegisterSnapshot(1))

	c := New([]*cl.Endpoint{e0, e1}, Config{
		Layer:                  LayerInsn,
		StopAfterNInstructions: 1,
		MaxTraceLength:         -1,
	}, logx.Default("test"))

	rep, err := c.Run()
	require.NoError(t, err)
	assert.True(t, rep.Passed)
	assert.Empty(t, rep.Diffs)
	assert.Equal(t, StateExhausted, c.State())
	assert.Equal(t, 1, c.Trace().Len())
}

func TestInsnLoopReportsRegisterDivergence(t *testing.T) {
	e0, ipc0 := newTestEndpoint(t, 0)
	e1, ipc1 := newTestEndpoint(t, 1)

	go respondOnce(t, ipc0, oneRegisterSnapshot(1))
	go respondOnce(t, ipc1, oneRegisterSnapshot(2))

	c := New([]*cl.Endpoint{e0, e1}, Config{
		Layer:                           LayerInsn,
		ExecuteAllRemainingInstructions: true,
		MaxTraceLength:                  -1,
	}, logx.Default("test"))

	rep, err := c.Run()
	require.NoError(t, err)
	assert.False(t, rep.Passed)
	require.Len(t, rep.Diffs, 1)
	assert.Equal(t, "cpu[0].registers[0].data", rep.Diffs[0].Key)
	assert.Equal(t, StateDiverged, c.State())
}

func TestStopAfterZeroWithoutExecuteRemainingYieldsEmptyPass(t *testing.T) {
	e0, _ := newTestEndpoint(t, 0)
	e1, _ := newTestEndpoint(t, 1)

	c := New([]*cl.Endpoint{e0, e1}, Config{
		Layer:                  LayerInsn,
		StopAfterNInstructions: 0,
		MaxTraceLength:         -1,
	}, logx.Default("test"))

	rep, err := c.Run()
	require.NoError(t, err)
	assert.True(t, rep.Passed)
	assert.Equal(t, 0, c.Trace().Len())
}

func TestIgnoreRegistersSuppressesOnlyDifference(t *testing.T) {
	e0, ipc0 := newTestEndpoint(t, 0)
	e1, ipc1 := newTestEndpoint(t, 1)

	snap := func(val uint32) snapshot.InsnSnapshot {
		var s snapshot.InsnSnapshot
		s.InitMask = 0b1
		s.CPUs[0].RegistersSize = 1
		s.CPUs[0].Registers[0] = snapshot.Register{Size: 4, Name: snapshot.NewShortString("pc_debug")}
		s.CPUs[0].Registers[0].Data[0] = byte(val)
		return s
	}

	go respondOnce(t, ipc0, snap(1))
	go respondOnce(t, ipc1, snap(2))

	c := New([]*cl.Endpoint{e0, e1}, Config{
		Layer:                  LayerInsn,
		StopAfterNInstructions: 1,
		MaxTraceLength:         -1,
		DiffOptions:            diffengine.Options{IgnoreRegisters: map[string]bool{"pc_debug": true}},
	}, logx.Default("test"))

	rep, err := c.Run()
	require.NoError(t, err)
	assert.True(t, rep.Passed)
}

func TestSkipPhaseClosesClientsWithoutCollectingDiffs(t *testing.T) {
	e0, _ := newTestEndpoint(t, 0)
	e1, _ := newTestEndpoint(t, 1)

	c := New([]*cl.Endpoint{e0, e1}, Config{
		Layer:                  LayerInsn,
		SkipNInstructions:      []int{5, 5},
		StopAfterNInstructions: 0,
		MaxTraceLength:         -1,
	}, logx.Default("test"))

	rep, err := c.Run()
	require.NoError(t, err)
	assert.True(t, rep.Passed)
	assert.False(t, e0.IsOpen)
	assert.False(t, e1.IsOpen)
	assert.Equal(t, 0, c.Trace().Len())
}

func TestCrashedClientMarksClosedAndRunContinues(t *testing.T) {
	e0, ipc0 := newTestEndpoint(t, 0)
	e1, ipc1 := newTestEndpoint(t, 1)

	// Pre-populate both SHM buffers with matching state, as if both
	// clients had already completed identical prior rounds; client 1
	// then crashes (never acks again) and its stale-but-matching
	// buffer is what the next compare reads.
	matching := oneRegisterSnapshot(1)
	buf := make([]byte, snapshot.InsnSnapshotSize)
	require.NoError(t, snapshot.EncodeInsn(buf, matching))
	require.NoError(t, ipc0.SHM.WriteAt(0, buf))
	require.NoError(t, ipc1.SHM.WriteAt(0, buf))

	go respondOnce(t, ipc0, matching)
	// client 1 never acks: simulates a crash.

	c := New([]*cl.Endpoint{e0, e1}, Config{
		Layer:                           LayerInsn,
		ExecuteAllRemainingInstructions: true,
		MaxTraceLength:                  -1,
	}, logx.Default("test"))

	rep, err := c.Run()
	require.NoError(t, err)
	assert.False(t, e1.IsOpen)
	assert.True(t, rep.Passed)
}
