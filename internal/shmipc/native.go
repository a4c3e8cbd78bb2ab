//go:build !windows

package shmipc

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
)

// NativeSegment is a MemoryProvider backed by an mmap'd file under
// /dev/shm (or os.TempDir() when /dev/shm is unavailable), created
// exclusively so a stale segment from a previous run is never silently
// reused.
type NativeSegment struct {
	path string
	file *os.File
	data []byte
	size uint32
}

// DefaultSegmentDir returns the directory new segments are created
// under.
func DefaultSegmentDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// CreateSegment exclusively creates and maps a new named segment of the
// given size. ErrExists is returned if a segment of that name already
// exists; the caller is expected to unlink stale state from a prior run
// before retrying, not to reuse it.
func CreateSegment(dir, name string, size uint32) (*NativeSegment, error) {
	if size == 0 {
		return nil, fmt.Errorf("shmipc: segment size must be non-zero")
	}
	path := filepath.Join(dir, name)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrExists, path)
		}
		return nil, fmt.Errorf("shmipc: create segment %s: %w", path, err)
	}
	if err := file.Truncate(int64(size)); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("shmipc: truncate segment %s: %w", path, err)
	}
	data, err := syscall.Mmap(int(file.Fd()), 0, int(size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("shmipc: mmap segment %s: %w", path, err)
	}
	return &NativeSegment{path: path, file: file, data: data, size: size}, nil
}

// UnlinkSegment removes a named segment's backing file. A missing file
// is not an error: teardown must be idempotent.
func UnlinkSegment(dir, name string) error {
	err := os.Remove(filepath.Join(dir, name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("shmipc: unlink segment %s: %w", name, err)
	}
	return nil
}

func (s *NativeSegment) Size() uint32 { return s.size }

func (s *NativeSegment) ReadAt(offset uint32, dest []byte) error {
	if uint64(offset)+uint64(len(dest)) > uint64(s.size) {
		return ErrOutOfBounds
	}
	copy(dest, s.data[offset:offset+uint32(len(dest))])
	return nil
}

func (s *NativeSegment) WriteAt(offset uint32, src []byte) error {
	if uint64(offset)+uint64(len(src)) > uint64(s.size) {
		return ErrOutOfBounds
	}
	copy(s.data[offset:offset+uint32(len(src))], src)
	return nil
}

func (s *NativeSegment) AtomicLoad32(offset uint32) (uint32, error) {
	ptr, err := s.word(offset)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32(ptr), nil
}

func (s *NativeSegment) AtomicAdd32(offset uint32, delta uint32) (uint32, error) {
	ptr, err := s.word(offset)
	if err != nil {
		return 0, err
	}
	return atomic.AddUint32(ptr, delta), nil
}

func (s *NativeSegment) word(offset uint32) (*uint32, error) {
	if uint64(offset)+4 > uint64(s.size) {
		return nil, ErrOutOfBounds
	}
	if offset%4 != 0 {
		return nil, fmt.Errorf("shmipc: offset %d not 4-byte aligned", offset)
	}
	return (*uint32)(unsafeWordPtr(s.data, offset)), nil
}

func (s *NativeSegment) Close() error {
	var err error
	if s.data != nil {
		if unmapErr := syscall.Munmap(s.data); unmapErr != nil {
			err = unmapErr
		}
		s.data = nil
	}
	if s.file != nil {
		if closeErr := s.file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		s.file = nil
	}
	return err
}
