package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadl-tools/cosim-broker/internal/diffengine"
	"github.com/vadl-tools/cosim-broker/internal/snapshot"
)

func TestFromDiffsEmptyMeansPassed(t *testing.T) {
	r := FromDiffs(nil)
	assert.True(t, r.Passed)
	assert.Empty(t, r.Diffs)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"passed":true,"diffs":[]}`, string(data))
}

func TestFromDiffsNonEmptyMeansFailed(t *testing.T) {
	r := FromDiffs([]diffengine.Diff{{Key: "cpu[0].registers[0].data"}})
	assert.False(t, r.Passed)
	assert.Len(t, r.Diffs, 1)
}

func TestTraceRingEvictsOldestWhenBounded(t *testing.T) {
	tr := NewTrace(2)
	tr.Append(TraceEntry{})
	tr.Append(TraceEntry{})
	tr.Append(TraceEntry{})
	assert.Equal(t, 2, tr.Len())
}

func TestTraceUnboundedWhenMaxLenNegative(t *testing.T) {
	tr := NewTrace(-1)
	for i := 0; i < 10; i++ {
		tr.Append(TraceEntry{})
	}
	assert.Equal(t, 10, tr.Len())
}

func TestTraceZeroRecordsNothing(t *testing.T) {
	tr := NewTrace(0)
	tr.Append(TraceEntry{})
	assert.Equal(t, 0, tr.Len())
}

func TestTraceEntryMarshalsInsnSnapshotsAsBareArray(t *testing.T) {
	var s snapshot.InsnSnapshot
	s.InitMask = 1
	s.CurrentInsn.PC = 0x1000
	entry := TraceEntry{Insn: []snapshot.InsnSnapshot{s}}

	data, err := json.Marshal(entry)
	require.NoError(t, err)

	var parsed []map[string]any
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Len(t, parsed, 1)
	assert.Equal(t, float64(0x1000), parsed[0]["current_insn"].(map[string]any)["pc"])
}

func TestWriteIsAtomicAndProducesExpectedShape(t *testing.T) {
	dir := t.TempDir()
	doc := Document{
		Report: *FromDiffs(nil),
		Traces: NamedTraces{Names: []string{"a", "b"}, Traces: []TraceEntry{}},
	}

	require.NoError(t, Write(dir, doc))

	data, err := os.ReadFile(filepath.Join(dir, "result.json"))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "report")
	assert.Contains(t, decoded, "traces")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no leftover temp file after rename")
}

func TestWriteCreatesParentDirectories(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	doc := Document{Report: *FromDiffs(nil), Traces: NamedTraces{Names: []string{}, Traces: []TraceEntry{}}}
	require.NoError(t, Write(dir, doc))

	_, err := os.Stat(filepath.Join(dir, "result.json"))
	require.NoError(t, err)
}
