package shm

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/pcpkit/shmstats/errs"
)

// PageSize is the allocation granularity of segment sizing.
const PageSize = 4096

// Mode is the permission bits new segments are created with. Access control
// relies solely on these bits and the rendezvous file's permissions.
const Mode = 0o644

// Segment is one attached System V shared memory segment.
//
// A Segment stays attached for its whole lifetime; reads and writes copy
// bytes between the caller and the mapping at a given offset.
type Segment struct {
	key      int
	id       int
	mem      []byte
	readOnly bool
}

// Open attaches the segment for key, creating it when absent.
//
// The open path mirrors the store lifecycle: try the existing segment first;
// if it does not exist and writes are allowed, create it with pages*PageSize
// bytes and Mode permissions. In read-only mode creation is forbidden and a
// missing segment is an error.
//
// Parameters:
//   - key: IPC key from KeyFor
//   - pages: Segment size in PageSize units, used only when creating
//   - readOnly: Attach read-only and never create
//
// Returns:
//   - *Segment: The attached segment.
//   - error: errs.ErrSegmentUnavailable wrapped with the syscall detail.
func Open(key int, pages int, readOnly bool) (*Segment, error) {
	id, err := unix.SysvShmGet(key, 0, 0)
	if err != nil {
		if readOnly {
			return nil, fmt.Errorf("shmget key 0x%x: %v: %w", key, err, errs.ErrSegmentUnavailable)
		}

		id, err = unix.SysvShmGet(key, pages*PageSize, unix.IPC_CREAT|unix.IPC_EXCL|Mode)
		if err != nil {
			// Lost a create race with another process; the plain get must
			// succeed now.
			id, err = unix.SysvShmGet(key, 0, 0)
			if err != nil {
				return nil, fmt.Errorf("shmget key 0x%x: %v: %w", key, err, errs.ErrSegmentUnavailable)
			}
		}
	}

	var flags int
	if readOnly {
		flags = unix.SHM_RDONLY
	}

	mem, err := unix.SysvShmAttach(id, 0, flags)
	if err != nil {
		return nil, fmt.Errorf("shmat id %d: %v: %w", id, err, errs.ErrSegmentUnavailable)
	}

	return &Segment{key: key, id: id, mem: mem, readOnly: readOnly}, nil
}

// Key returns the IPC key the segment was opened with.
func (s *Segment) Key() int {
	return s.key
}

// Size returns the segment size in bytes.
func (s *Segment) Size() int {
	return len(s.mem)
}

// ReadAt copies length bytes starting at offset into a new slice.
func (s *Segment) ReadAt(offset int, length int) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > len(s.mem) {
		return nil, fmt.Errorf("read [%d,%d) of %d-byte segment: %w", offset, offset+length, len(s.mem), errs.ErrSegmentBounds)
	}

	out := make([]byte, length)
	copy(out, s.mem[offset:offset+length])

	return out, nil
}

// WriteAt copies data into the segment starting at offset.
func (s *Segment) WriteAt(offset int, data []byte) error {
	if s.readOnly {
		return errs.ErrReadOnly
	}
	if offset < 0 || offset+len(data) > len(s.mem) {
		return fmt.Errorf("write [%d,%d) of %d-byte segment: %w", offset, offset+len(data), len(s.mem), errs.ErrSegmentBounds)
	}

	copy(s.mem[offset:], data)

	return nil
}

// Zero writes length zero bytes starting at offset.
func (s *Segment) Zero(offset int, length int) error {
	if s.readOnly {
		return errs.ErrReadOnly
	}
	if offset < 0 || length < 0 || offset+length > len(s.mem) {
		return fmt.Errorf("zero [%d,%d) of %d-byte segment: %w", offset, offset+length, len(s.mem), errs.ErrSegmentBounds)
	}

	region := s.mem[offset : offset+length]
	for i := range region {
		region[i] = 0
	}

	return nil
}

// Close detaches the segment. The segment itself stays alive in the kernel
// until removed.
func (s *Segment) Close() error {
	if s.mem == nil {
		return nil
	}

	err := unix.SysvShmDetach(s.mem)
	s.mem = nil
	if err != nil {
		return fmt.Errorf("shmdt: %w", err)
	}

	return nil
}

// Remove marks the segment for destruction and detaches it. Idempotent: a
// segment already removed by another process is not an error.
func (s *Segment) Remove() error {
	if _, err := unix.SysvShmCtl(s.id, unix.IPC_RMID, nil); err != nil && err != unix.EINVAL && err != unix.EIDRM {
		return fmt.Errorf("shmctl IPC_RMID id %d: %w", s.id, err)
	}

	return s.Close()
}
