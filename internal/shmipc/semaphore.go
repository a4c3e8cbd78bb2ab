package shmipc

import (
	"runtime"
	"time"
)

// Semaphore is the broker-side handle for one named release/ack
// counter: a single uint32 word in its own named 4-byte shared-memory
// segment. Two are allocated per client (release, ack), matching the
// two named POSIX semaphores the client plugin expects. Because the
// counter lives in a MAP_SHARED mmap, atomic operations on it are
// coherent between the broker and the client subprocess without any
// other cross-process signaling primitive.
//
// Wait follows the same fast-path-spin-then-poll shape as the
// teacher's epoch wait-for-change loop: try immediately, spin briefly,
// then fall back to sleeping between polls until timeout.
type Semaphore struct {
	mem    MemoryProvider
	offset uint32
	name   string
}

// NewSemaphore binds a semaphore to a 4-byte word of mem starting at
// offset. The word is zeroed on first use by the caller creating the
// segment, matching sem_open(..., O_CREAT|O_EXCL, ..., 0).
func NewSemaphore(mem MemoryProvider, offset uint32, name string) *Semaphore {
	return &Semaphore{mem: mem, offset: offset, name: name}
}

// Name returns the semaphore's name, which is also the file name of
// its backing segment in the segment directory.
func (s *Semaphore) Name() string { return s.name }

// Post increments the count, matching sem_post.
func (s *Semaphore) Post() error {
	_, err := s.mem.AtomicAdd32(s.offset, 1)
	return err
}

// Wait blocks until the count is positive or timeout elapses,
// decrementing it on success, matching sem_timedwait. It reports
// whether the semaphore was acquired before the deadline.
func (s *Semaphore) Wait(timeout time.Duration) (bool, error) {
	if ok, err := s.tryAcquire(); err != nil || ok {
		return ok, err
	}

	start := time.Now()
	spinDeadline := start.Add(200 * time.Microsecond)
	for time.Now().Before(spinDeadline) {
		runtime.Gosched()
		if ok, err := s.tryAcquire(); err != nil || ok {
			return ok, err
		}
	}

	deadline := start.Add(timeout)
	ticker := time.NewTicker(500 * time.Microsecond)
	defer ticker.Stop()
	for {
		if time.Now().After(deadline) {
			return s.tryAcquire()
		}
		<-ticker.C
		if ok, err := s.tryAcquire(); err != nil || ok {
			return ok, err
		}
	}
}

func (s *Semaphore) tryAcquire() (bool, error) {
	for {
		v, err := s.mem.AtomicLoad32(s.offset)
		if err != nil {
			return false, err
		}
		if v == 0 {
			return false, nil
		}
		// CAS-free decrement: single broker goroutine owns this word's
		// wait side, so a load-then-conditional-add race only matters
		// against the client's Post, which only ever increments.
		if _, err := s.mem.AtomicAdd32(s.offset, ^uint32(0)); err != nil {
			return false, err
		}
		return true, nil
	}
}
