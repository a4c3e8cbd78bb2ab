// Package report builds the run's final JSON artifact: the pass/fail
// report plus the per-client trace, and writes it atomically to disk.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vadl-tools/cosim-broker/internal/diffengine"
)

// Report is the pass/fail outcome of one run. Passed is equivalent to
// Diffs being empty.
type Report struct {
	Passed bool              `json:"passed"`
	Diffs  []diffengine.Diff `json:"diffs"`
}

// FromDiffs builds a Report, ensuring Diffs is never nil so it
// serializes as `[]` rather than `null`.
func FromDiffs(diffs []diffengine.Diff) *Report {
	if diffs == nil {
		diffs = []diffengine.Diff{}
	}
	return &Report{Passed: len(diffs) == 0, Diffs: diffs}
}

// Document is the full on-disk artifact: report plus named traces.
type Document struct {
	Report Report      `json:"report"`
	Traces NamedTraces `json:"traces"`
}

// NamedTraces pairs each client's display name with its trace, in
// client order.
type NamedTraces struct {
	Names  []string     `json:"names"`
	Traces []TraceEntry `json:"traces"`
}

// Write serializes doc as JSON and writes it atomically to
// <outDir>/result.json: the file is written to a temp path in the same
// directory and renamed into place, so a crash mid-write never leaves
// a truncated result.json behind.
func Write(outDir string, doc Document) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("report: create output dir %s: %w", outDir, err)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("report: marshal result: %w", err)
	}

	finalPath := filepath.Join(outDir, "result.json")
	tmp, err := os.CreateTemp(outDir, "result-*.json.tmp")
	if err != nil {
		return fmt.Errorf("report: create temp result file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("report: write temp result file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("report: close temp result file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("report: rename result file into place: %w", err)
	}
	return nil
}
