// Package shutdown coordinates best-effort teardown of broker resources
// (SHM segments, semaphores, child processes) regardless of which path
// the run exits through.
package shutdown

import (
	"sync"

	"github.com/vadl-tools/cosim-broker/internal/logx"
)

// Registry collects teardown functions and runs them in LIFO order so
// that resources acquired last (e.g. a child process) are released
// before resources they depend on (e.g. its shared memory segment).
type Registry struct {
	mu     sync.Mutex
	fns    []func() error
	logger *logx.Logger
	ran    bool
}

// New creates a Registry. A nil logger falls back to a default one.
func New(logger *logx.Logger) *Registry {
	if logger == nil {
		logger = logx.Default("shutdown")
	}
	return &Registry{logger: logger}
}

// Register appends a teardown function. Run executes the registered
// functions at most once (later calls to Run are no-ops), so they need
// not be idempotent across calls, but individual functions (e.g.
// unlinking a semaphore that's already gone) must themselves tolerate
// "does not exist" errors.
func (r *Registry) Register(fn func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns = append(r.fns, fn)
}

// Run executes every registered function in LIFO order, logging but not
// stopping on individual failures, and returns the first error seen.
func (r *Registry) Run() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ran {
		return nil
	}
	r.ran = true

	var first error
	for i := len(r.fns) - 1; i >= 0; i-- {
		if err := r.fns[i](); err != nil {
			r.logger.Warn("teardown step failed", logx.Int("index", i), logx.Err(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}
