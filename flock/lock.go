// Package flock implements the advisory rendezvous lock of the metrics store.
//
// The lock target is the same zero-byte rendezvous file whose inode seeds the
// shared-memory keys, so every process touching the segments contends on one
// well-known file. Acquisition loops over non-blocking flock(2) attempts with
// a uniform random 0-10ms sleep between tries and gives up once the
// cumulative wait exceeds the timeout.
//
// Lock discipline: any operation that can move the header cursors or extend
// the entry table runs under the exclusive lock; index scans run under the
// shared lock; plain header reads are lock-free.
package flock

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/pcpkit/shmstats/errs"
)

// DefaultTimeout bounds the cumulative wall-clock wait of one acquisition.
const DefaultTimeout = 100 * time.Millisecond

// maxBackoff is the upper bound of the per-retry random sleep.
const maxBackoff = 10 * time.Millisecond

// Kind selects shared or exclusive acquisition.
type Kind int

const (
	// Shared allows concurrent holders; used for index scans.
	Shared Kind = iota
	// Exclusive allows a single holder; used for every layout mutation.
	Exclusive
)

func (k Kind) String() string {
	if k == Exclusive {
		return "exclusive"
	}

	return "shared"
}

func (k Kind) flockOp() int {
	if k == Exclusive {
		return unix.LOCK_EX
	}

	return unix.LOCK_SH
}

// Lock is an advisory lock handle on an open rendezvous file.
//
// A Lock is not safe for concurrent use by multiple goroutines; each registry
// serializes its own lock envelope.
type Lock struct {
	f       *os.File
	timeout time.Duration
	rng     *rand.Rand
}

// Open opens the rendezvous file for locking.
func Open(path string) (*Lock, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	return &Lock{
		f:       f,
		timeout: DefaultTimeout,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// OpenWithTimeout opens the rendezvous file with a custom acquisition timeout.
func OpenWithTimeout(path string, timeout time.Duration) (*Lock, error) {
	l, err := Open(path)
	if err != nil {
		return nil, err
	}
	l.timeout = timeout

	return l, nil
}

// Acquire takes the lock of the given kind, retrying non-blocking attempts
// with randomized backoff until the timeout elapses.
//
// Returns:
//   - error: errs.ErrLockTimeout once the cumulative wait exceeds the timeout.
func (l *Lock) Acquire(kind Kind) error {
	deadline := time.Now().Add(l.timeout)

	for {
		err := unix.Flock(int(l.f.Fd()), kind.flockOp()|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if err != unix.EWOULDBLOCK && err != unix.EINTR {
			return fmt.Errorf("flock %s: %w", kind, err)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%s lock after %s: %w", kind, l.timeout, errs.ErrLockTimeout)
		}

		time.Sleep(time.Duration(l.rng.Int63n(int64(maxBackoff))))
	}
}

// Release drops the lock. Safe to call on all paths, held or not.
func (l *Lock) Release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("flock unlock: %w", err)
	}

	return nil
}

// WithShared runs fn while holding the shared lock, releasing on every path.
func (l *Lock) WithShared(fn func() error) error {
	return l.with(Shared, fn)
}

// WithExclusive runs fn while holding the exclusive lock, releasing on every
// path.
func (l *Lock) WithExclusive(fn func() error) error {
	return l.with(Exclusive, fn)
}

func (l *Lock) with(kind Kind, fn func() error) error {
	if err := l.Acquire(kind); err != nil {
		return err
	}
	defer l.Release()

	return fn()
}

// Close releases the underlying file handle. Any held lock is dropped by the
// kernel when the descriptor closes.
func (l *Lock) Close() error {
	return l.f.Close()
}
