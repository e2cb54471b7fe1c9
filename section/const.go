package section

// Offsets and section sizes in the index segment.
const (
	// HeaderSize is the fixed header size in bytes at offset 0 of the index
	// segment: version (4) + next index offset (4) + next data offset (4).
	HeaderSize = 12

	// EntrySize is the fixed index entry size in bytes.
	EntrySize = 16

	// EntryStartOffset is the byte offset where the entry table starts.
	EntryStartOffset = HeaderSize

	// VersionSize is the width of the header version field; the two append
	// cursors start right after it.
	VersionSize = 4

	// CursorOffset is the byte offset of the packed cursor pair within the
	// index segment.
	CursorOffset = VersionSize

	// CursorSize is the width of the packed cursor pair.
	CursorSize = 8
)

// Byte offsets of the header fields.
const (
	versionOffset    = 0
	nextIndexOffsetO = 4
	nextDataOffsetO  = 8
)

// Byte offsets of the index entry fields.
const (
	entryFlagsOffset    = 0
	entryTypeOffset     = 1
	entryLengthOffset   = 2
	entryOffsetOffset   = 4
	entryClusterOffset  = 8
	entryItemOffset     = 10
	entryInstanceOffset = 12
)
