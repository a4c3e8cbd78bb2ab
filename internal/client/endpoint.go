// Package client implements one client's shared-memory endpoint: its
// SHM segment, its release/ack semaphore pair, and the single step()
// rendezvous operation described in spec §4.1.
package client

import (
	"strconv"
	"time"

	"github.com/vadl-tools/cosim-broker/internal/logx"
	"github.com/vadl-tools/cosim-broker/internal/shmipc"
	"github.com/vadl-tools/cosim-broker/internal/snapshot"
)

// AckTimeout is the wall-clock budget for sem_ack after posting
// sem_release. A timeout is the broker's signal that the client
// finished or crashed, not an error.
const AckTimeout = 100 * time.Millisecond

// Endpoint owns one client's shared segment and its two named
// semaphores. It holds no handle to the client's child process, which
// the process supervisor tracks separately. It offers a single Step
// operation.
type Endpoint struct {
	ID   uint32
	Name string

	ipc *shmipc.ClientIPC

	IsOpen bool

	log *logx.Logger
}

// New builds an Endpoint around an already-created ClientIPC.
func New(id uint32, name string, ipc *shmipc.ClientIPC, log *logx.Logger) *Endpoint {
	return &Endpoint{
		ID:     id,
		Name:   name,
		ipc:    ipc,
		IsOpen: true,
		log:    log.With("client"),
	}
}

// Step advances this client by exactly one execution step: it posts
// sem_release, then waits on sem_ack with a 100 ms timeout.
//
// Precondition: e.IsOpen. Returns true on successful acknowledgement;
// on timeout it sets e.IsOpen = false and returns false, the same
// terminal transition a crashed or naturally-finished client produces.
func (e *Endpoint) Step() (bool, error) {
	if !e.IsOpen {
		return false, nil
	}
	if err := e.ipc.Release.Post(); err != nil {
		return false, logx.Wrapf(err, "client %d: post release", e.ID)
	}
	acked, err := e.ipc.Ack.Wait(AckTimeout)
	if err != nil {
		return false, logx.Wrapf(err, "client %d: wait ack", e.ID)
	}
	if !acked {
		e.IsOpen = false
		e.log.Debug("client ack timed out, marking closed", logx.Uint32("client_id", e.ID))
		return false, nil
	}
	return true, nil
}

// ReadInsnSnapshot decodes the SHM segment as the Insn-variant
// snapshot. Valid only immediately after a successful Step when the
// endpoint is running in "insn" mode.
func (e *Endpoint) ReadInsnSnapshot() (snapshot.InsnSnapshot, error) {
	buf := make([]byte, snapshot.InsnSnapshotSize)
	if err := e.ipc.SHM.ReadAt(0, buf); err != nil {
		return snapshot.InsnSnapshot{}, logx.Wrapf(err, "client %d: read shm", e.ID)
	}
	return snapshot.DecodeInsn(buf)
}

// ReadTBSnapshot decodes the SHM segment as the TB-variant snapshot.
// Valid only immediately after a successful Step when the endpoint is
// running in "tb" or "tb-strict" mode.
func (e *Endpoint) ReadTBSnapshot() (snapshot.TBSnapshot, error) {
	buf := make([]byte, snapshot.TBSnapshotSize)
	if err := e.ipc.SHM.ReadAt(0, buf); err != nil {
		return snapshot.TBSnapshot{}, logx.Wrapf(err, "client %d: read shm", e.ID)
	}
	return snapshot.DecodeTB(buf)
}

// DisplayName returns Name if set, otherwise the stringified ID.
func (e *Endpoint) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	return strconv.FormatUint(uint64(e.ID), 10)
}
