// Package shmipc implements the broker side of the named shared-memory
// and semaphore IPC contract described in spec.md §6: one mmap'd
// segment and two named semaphores per client, created exclusively and
// unlinked on teardown.
package shmipc

import (
	"errors"
	"sync/atomic"
	"unsafe"
)

// unsafeWordPtr returns a pointer to the 4 bytes of data starting at
// offset, for use with the sync/atomic functions. Callers must have
// already bounds-checked offset+4 <= len(data).
func unsafeWordPtr(data []byte, offset uint32) unsafe.Pointer {
	return unsafe.Pointer(&data[offset])
}

// MemoryProvider abstracts access to a client's shared-memory segment.
// Implementations may be backed by an mmap'd file (native) or an
// in-memory buffer (tests). The atomic accessors back the release/ack
// handshake counters: on a MAP_SHARED mmap they are coherent across
// the broker and its client subprocess, the same way the teacher's SAB
// atomics are coherent across its JS/WASM workers.
type MemoryProvider interface {
	Size() uint32
	ReadAt(offset uint32, dest []byte) error
	WriteAt(offset uint32, src []byte) error
	AtomicLoad32(offset uint32) (uint32, error)
	AtomicAdd32(offset uint32, delta uint32) (uint32, error)
	Close() error
}

var (
	// ErrOutOfBounds is returned when an access would read or write
	// past the end of the segment.
	ErrOutOfBounds = errors.New("shmipc: offset out of bounds")
	// ErrExists is returned by exclusive-create helpers when the
	// named object already exists.
	ErrExists = errors.New("shmipc: object already exists")
)

// InMemoryProvider stores segment data in a local byte slice; it
// implements MemoryProvider for tests that exercise the client
// endpoint and coordinator without a real client process.
type InMemoryProvider struct {
	data []byte
}

func (m *InMemoryProvider) AtomicLoad32(offset uint32) (uint32, error) {
	ptr, err := m.word(offset)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32(ptr), nil
}

func (m *InMemoryProvider) AtomicAdd32(offset uint32, delta uint32) (uint32, error) {
	ptr, err := m.word(offset)
	if err != nil {
		return 0, err
	}
	return atomic.AddUint32(ptr, delta), nil
}

func (m *InMemoryProvider) word(offset uint32) (*uint32, error) {
	if uint64(offset)+4 > uint64(len(m.data)) {
		return nil, ErrOutOfBounds
	}
	return (*uint32)(unsafeWordPtr(m.data, offset)), nil
}

// NewInMemoryProvider creates an in-memory segment of the given size.
func NewInMemoryProvider(size uint32) *InMemoryProvider {
	return &InMemoryProvider{data: make([]byte, size)}
}

func (m *InMemoryProvider) Size() uint32 { return uint32(len(m.data)) }

func (m *InMemoryProvider) ReadAt(offset uint32, dest []byte) error {
	if uint64(offset)+uint64(len(dest)) > uint64(len(m.data)) {
		return ErrOutOfBounds
	}
	copy(dest, m.data[offset:offset+uint32(len(dest))])
	return nil
}

func (m *InMemoryProvider) WriteAt(offset uint32, src []byte) error {
	if uint64(offset)+uint64(len(src)) > uint64(len(m.data)) {
		return ErrOutOfBounds
	}
	copy(m.data[offset:offset+uint32(len(src))], src)
	return nil
}

func (m *InMemoryProvider) Close() error {
	m.data = nil
	return nil
}
