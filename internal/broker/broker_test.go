package broker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadl-tools/cosim-broker/internal/config"
	"github.com/vadl-tools/cosim-broker/internal/logx"
)

// TestRunEndToEndWithNonRespondingClients exercises the full wiring
// path (IPC creation, subprocess spawn, coordinator, report write,
// teardown) against clients that never perform the SHM handshake: each
// Step times out after client.AckTimeout, closing the client on its
// first round, so
// the run completes via ack-timeout rather than a real plugin.
func TestRunEndToEndWithNonRespondingClients(t *testing.T) {
	outDir := t.TempDir()
	logDir := t.TempDir()

	cfg := config.Config{
		QEMU: config.QEMU{
			Plugin: "cosim-plugin.so",
			Clients: []config.Client{
				{Exec: "/bin/sleep", AdditionalArgs: []string{"0.2"}, PassTestExecTo: "kernel", Name: "a"},
				{Exec: "/bin/sleep", AdditionalArgs: []string{"0.2"}, PassTestExecTo: "kernel", Name: "b"},
			},
		},
		Testing: config.Testing{
			TestExec:       "/bin/true",
			MaxTraceLength: -1,
			Protocol: config.Protocol{
				Mode:                            "lockstep",
				Layer:                           "insn",
				ExecuteAllRemainingInstructions: true,
				Out:                             config.Out{Dir: outDir, Format: "json"},
			},
		},
		Logging: config.Logging{Dir: logDir},
	}
	require.NoError(t, cfg.Validate())

	doc, err := Run(context.Background(), cfg, logx.Default("test"))
	require.NoError(t, err)
	assert.True(t, doc.Report.Passed)
	assert.Equal(t, []string{"a", "b"}, doc.Traces.Names)

	data, err := os.ReadFile(filepath.Join(outDir, "result.json"))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "report")

	entries, err := os.ReadDir(shmDirForTest())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), "cosim-shm-", "ipc objects must be unlinked after teardown")
	}
}

func shmDirForTest() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}
