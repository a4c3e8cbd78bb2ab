package procsup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadl-tools/cosim-broker/internal/logx"
)

func TestStartRedirectsOutputAndReapsOnExit(t *testing.T) {
	dir := t.TempDir()
	spec := Spec{
		ClientID:   0,
		Executable: "/bin/sh",
		Args:       []string{"-c", "echo hello"},
		LogDir:     dir,
	}

	p, err := Start(spec, logx.Default("test"))
	require.NoError(t, err)

	require.Eventually(t, p.Exited, time.Second, time.Millisecond)

	data, err := os.ReadFile(filepath.Join(dir, "client-0.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestKillTerminatesRunningProcess(t *testing.T) {
	dir := t.TempDir()
	spec := Spec{
		ClientID:   1,
		Executable: "/bin/sh",
		Args:       []string{"-c", "sleep 5"},
		LogDir:     dir,
	}

	p, err := Start(spec, logx.Default("test"))
	require.NoError(t, err)

	require.NoError(t, p.Kill())
	require.Eventually(t, p.Exited, time.Second, time.Millisecond)
}

func TestSupervisorKillAllTerminatesEveryClient(t *testing.T) {
	dir := t.TempDir()
	s := New(logx.Default("test"))

	for i := uint32(0); i < 3; i++ {
		_, err := s.Launch(context.Background(), Spec{
			ClientID:   i,
			Executable: "/bin/sh",
			Args:       []string{"-c", "sleep 5"},
			LogDir:     dir,
		})
		require.NoError(t, err)
	}

	s.KillAll()

	for _, p := range s.processes {
		require.Eventually(t, p.Exited, time.Second, time.Millisecond)
	}
}
