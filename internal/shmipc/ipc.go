package shmipc

import "fmt"

// ClientIPC bundles the three named IPC objects bound to one client
// index: the shared-memory segment carrying its snapshot, and the
// release/ack semaphore pair. All three are created exclusively and
// must be unlinked together on teardown.
type ClientIPC struct {
	Index int

	SHM     MemoryProvider
	Release *Semaphore
	Ack     *Semaphore

	releaseSeg MemoryProvider
	ackSeg     MemoryProvider
}

// Names returns the three POSIX-style object names this index binds,
// matching spec §6's `/cosim-shm-{i}`, `/cosim-sem-release-{i}`,
// `/cosim-sem-ack-{i}` convention.
func Names(index int) (shm, release, ack string) {
	return fmt.Sprintf("cosim-shm-%d", index),
		fmt.Sprintf("cosim-sem-release-%d", index),
		fmt.Sprintf("cosim-sem-ack-%d", index)
}

// CreateClientIPC exclusively creates all three objects for a client.
// If any name already exists, the objects successfully created so far
// are unlinked before the error is returned, so a failed startup never
// leaks a partial IPC set.
func CreateClientIPC(dir string, index int, shmSize uint32) (*ClientIPC, error) {
	shmName, releaseName, ackName := Names(index)

	shm, err := CreateSegment(dir, shmName, shmSize)
	if err != nil {
		return nil, fmt.Errorf("shmipc: client %d: %w", index, err)
	}
	releaseSeg, err := CreateSegment(dir, releaseName, 4)
	if err != nil {
		_ = shm.Close()
		_ = UnlinkSegment(dir, shmName)
		return nil, fmt.Errorf("shmipc: client %d: %w", index, err)
	}
	ackSeg, err := CreateSegment(dir, ackName, 4)
	if err != nil {
		_ = shm.Close()
		_ = UnlinkSegment(dir, shmName)
		_ = releaseSeg.Close()
		_ = UnlinkSegment(dir, releaseName)
		return nil, fmt.Errorf("shmipc: client %d: %w", index, err)
	}

	return &ClientIPC{
		Index:      index,
		SHM:        shm,
		Release:    NewSemaphore(releaseSeg, 0, releaseName),
		Ack:        NewSemaphore(ackSeg, 0, ackName),
		releaseSeg: releaseSeg,
		ackSeg:     ackSeg,
	}, nil
}

// NewInMemoryClientIPC builds a ClientIPC backed entirely by
// InMemoryProvider, for tests that exercise the client endpoint and
// coordinator without spawning a real subprocess.
func NewInMemoryClientIPC(index int, shmSize uint32) *ClientIPC {
	_, releaseName, ackName := Names(index)
	releaseSeg := NewInMemoryProvider(4)
	ackSeg := NewInMemoryProvider(4)
	return &ClientIPC{
		Index:      index,
		SHM:        NewInMemoryProvider(shmSize),
		Release:    NewSemaphore(releaseSeg, 0, releaseName),
		Ack:        NewSemaphore(ackSeg, 0, ackName),
		releaseSeg: releaseSeg,
		ackSeg:     ackSeg,
	}
}

// Close unmaps all three segments without unlinking their backing
// files.
func (c *ClientIPC) Close() error {
	var firstErr error
	for _, closer := range []func() error{c.SHM.Close, c.releaseSeg.Close, c.ackSeg.Close} {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Unlink removes the backing files for all three objects. Safe to
// call even if creation partially failed or Close was already called;
// a missing file is not an error.
func Unlink(dir string, index int) error {
	shmName, releaseName, ackName := Names(index)
	var firstErr error
	for _, name := range []string{shmName, releaseName, ackName} {
		if err := UnlinkSegment(dir, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
