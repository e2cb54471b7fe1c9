package section

import (
	"github.com/pcpkit/shmstats/endian"
	"github.com/pcpkit/shmstats/errs"
)

// IndexEntry records where one physical metric's bytes live in the data
// segment and which PCP triple it belongs to. It is a fixed size of 16 bytes.
//
// Entries are written once under the exclusive rendezvous lock and are
// immutable afterwards, so readers may scan the table without locking once
// they have sampled a next-index cursor and stay below it.
type IndexEntry struct {
	// Flags is reserved and currently always zero.
	//
	// Offset: 0, Size: 1 byte
	Flags uint8

	// TypeCode is the byte value of the packing code character assigned to
	// the metric's slot (e.g. 'L' for a uint32 counter).
	//
	// Offset: 1, Size: 1 byte
	TypeCode byte

	// Length is the slot width in the data segment in bytes.
	//
	// Offset: 2, Size: 2 bytes
	Length uint16

	// Offset is the byte offset of the slot within the data segment.
	//
	// Offset: 4, Size: 4 bytes
	Offset uint32

	// Cluster is the PCP cluster id.
	//
	// Offset: 8, Size: 2 bytes
	Cluster uint16

	// Item is the PCP item id.
	//
	// Offset: 10, Size: 2 bytes
	Item uint16

	// Instance is the PCP instance id, -1 when there is no instance domain.
	//
	// Offset: 12, Size: 4 bytes
	Instance int32
}

// Bytes returns the index entry as a byte slice using the specified endian engine.
func (e *IndexEntry) Bytes(engine endian.EndianEngine) []byte {
	var b [EntrySize]byte // stack allocation, it's faster than heap allocation
	b[entryFlagsOffset] = e.Flags
	b[entryTypeOffset] = e.TypeCode
	engine.PutUint16(b[entryLengthOffset:entryLengthOffset+2], e.Length)
	engine.PutUint32(b[entryOffsetOffset:entryOffsetOffset+4], e.Offset)
	engine.PutUint16(b[entryClusterOffset:entryClusterOffset+2], e.Cluster)
	engine.PutUint16(b[entryItemOffset:entryItemOffset+2], e.Item)
	engine.PutUint32(b[entryInstanceOffset:entryInstanceOffset+4], uint32(e.Instance)) //nolint: gosec

	return b[:]
}

// WriteToSlice writes to a pre-allocated slice and returns the next position.
//
// Parameters:
//   - data: Pre-allocated byte slice (must have space for 16 bytes at offset)
//   - offset: Starting position in data slice
//   - engine: Endian engine for byte order
//
// Returns:
//   - int: Next write position (offset + 16)
func (e *IndexEntry) WriteToSlice(data []byte, offset int, engine endian.EndianEngine) int {
	copy(data[offset:offset+EntrySize], e.Bytes(engine))

	return offset + EntrySize
}

// Matches reports whether the entry carries the given PCP triple.
func (e *IndexEntry) Matches(cluster uint16, item uint16, instance int32) bool {
	return e.Cluster == cluster && e.Item == item && e.Instance == instance
}

// ParseIndexEntry parses an IndexEntry from a byte slice.
//
// Returns:
//   - IndexEntry: Parsed index entry
//   - error: errs.ErrInvalidIndexEntrySize if data is shorter than 16 bytes
func ParseIndexEntry(data []byte, engine endian.EndianEngine) (IndexEntry, error) {
	if len(data) < EntrySize {
		return IndexEntry{}, errs.ErrInvalidIndexEntrySize
	}

	return IndexEntry{
		Flags:    data[entryFlagsOffset],
		TypeCode: data[entryTypeOffset],
		Length:   engine.Uint16(data[entryLengthOffset : entryLengthOffset+2]),
		Offset:   engine.Uint32(data[entryOffsetOffset : entryOffsetOffset+4]),
		Cluster:  engine.Uint16(data[entryClusterOffset : entryClusterOffset+2]),
		Item:     engine.Uint16(data[entryItemOffset : entryItemOffset+2]),
		Instance: int32(engine.Uint32(data[entryInstanceOffset : entryInstanceOffset+4])), //nolint: gosec
	}, nil
}
