// Package errs defines the sentinel errors shared across shmstats packages.
//
// All errors are created with errors.New and can be checked with errors.Is.
// Call sites wrap them with fmt.Errorf("...: %w", err) to add context.
package errs

import "errors"

// Binary layout errors.
var (
	// ErrInvalidHeaderSize indicates the index segment is smaller than the
	// 12-byte header.
	ErrInvalidHeaderSize = errors.New("invalid header size")

	// ErrInvalidIndexEntrySize indicates an index entry slice is shorter than
	// the fixed 16-byte entry size.
	ErrInvalidIndexEntrySize = errors.New("invalid index entry size")

	// ErrInvalidTypeCode indicates a packing type code outside c, C, s, S, l, L.
	ErrInvalidTypeCode = errors.New("invalid packing type code")

	// ErrFieldCountMismatch indicates the number of values passed to a format
	// does not match its field count.
	ErrFieldCountMismatch = errors.New("field count mismatch")

	// ErrValueOutOfRange indicates a value does not fit the declared field width.
	ErrValueOutOfRange = errors.New("value out of range for field width")

	// ErrShortRecord indicates a buffer shorter than the packed record it
	// should hold.
	ErrShortRecord = errors.New("record buffer too short")
)

// Segment and store errors.
var (
	// ErrSegmentUnavailable indicates the shared-memory segment could not be
	// opened or created.
	ErrSegmentUnavailable = errors.New("shared memory segment unavailable")

	// ErrSegmentBounds indicates a read or write past the end of a segment.
	ErrSegmentBounds = errors.New("access beyond segment bounds")

	// ErrIndexFull indicates the index segment has no room for another entry.
	ErrIndexFull = errors.New("index segment full")

	// ErrDataFull indicates the data segment has no room for another slot.
	ErrDataFull = errors.New("data segment full")

	// ErrUninitialized indicates a reader found a zero version in the header.
	ErrUninitialized = errors.New("store not initialized")

	// ErrReadOnly indicates a mutation was attempted on a read-only store.
	ErrReadOnly = errors.New("store is read-only")

	// ErrEntryNotFound indicates no index entry matches the requested triple.
	ErrEntryNotFound = errors.New("index entry not found")
)

// Locking errors.
var (
	// ErrLockTimeout indicates the advisory lock was not acquired within the
	// configured wait.
	ErrLockTimeout = errors.New("lock acquisition timed out")
)
