package section

import (
	"github.com/pcpkit/shmstats/endian"
	"github.com/pcpkit/shmstats/errs"
)

// Header represents the fixed-size header at offset 0 of the index segment.
type Header struct {
	// Version is the store layout version. Zero means uninitialized; once
	// written it is non-zero and monotonically non-decreasing.
	Version uint32 // byte offset 0-3

	// NextIndexOffset is the byte offset just past the last written index
	// entry. It starts at HeaderSize and advances in EntrySize steps.
	NextIndexOffset uint32 // byte offset 4-7

	// NextDataOffset is the byte offset just past the last allocated byte of
	// the data segment.
	NextDataOffset uint32 // byte offset 8-11
}

// NewHeader creates a Header for a freshly initialized store: the entry table
// is empty and no data bytes are allocated.
func NewHeader(version uint32) Header {
	return Header{
		Version:         version,
		NextIndexOffset: EntryStartOffset,
		NextDataOffset:  0,
	}
}

// Parse fills the header from a byte slice.
//
// Returns:
//   - error: errs.ErrInvalidHeaderSize if data is shorter than HeaderSize
func (h *Header) Parse(data []byte, engine endian.EndianEngine) error {
	if len(data) < HeaderSize {
		return errs.ErrInvalidHeaderSize
	}

	h.Version = engine.Uint32(data[versionOffset : versionOffset+4])
	h.NextIndexOffset = engine.Uint32(data[nextIndexOffsetO : nextIndexOffsetO+4])
	h.NextDataOffset = engine.Uint32(data[nextDataOffsetO : nextDataOffsetO+4])

	return nil
}

// Bytes serializes the header into a HeaderSize byte slice.
func (h *Header) Bytes(engine endian.EndianEngine) []byte {
	var b [HeaderSize]byte // stack allocation, it's faster than heap allocation
	engine.PutUint32(b[versionOffset:versionOffset+4], h.Version)
	engine.PutUint32(b[nextIndexOffsetO:nextIndexOffsetO+4], h.NextIndexOffset)
	engine.PutUint32(b[nextDataOffsetO:nextDataOffsetO+4], h.NextDataOffset)

	return b[:]
}

// CursorBytes serializes only the two append cursors, the 8 bytes that get
// rewritten at CursorOffset on every append. The version field is not touched
// by cursor updates.
func (h *Header) CursorBytes(engine endian.EndianEngine) []byte {
	var b [CursorSize]byte
	engine.PutUint32(b[0:4], h.NextIndexOffset)
	engine.PutUint32(b[4:8], h.NextDataOffset)

	return b[:]
}

// EntryCount returns the number of entries the cursors account for.
func (h *Header) EntryCount() int {
	if h.NextIndexOffset < EntryStartOffset {
		return 0
	}

	return int(h.NextIndexOffset-EntryStartOffset) / EntrySize
}

// ParseHeader parses a Header from a byte slice.
//
// Returns:
//   - Header: Parsed header struct
//   - error: errs.ErrInvalidHeaderSize if data is shorter than HeaderSize
func ParseHeader(data []byte, engine endian.EndianEngine) (Header, error) {
	var h Header
	if err := h.Parse(data, engine); err != nil {
		return Header{}, err
	}

	return h, nil
}
