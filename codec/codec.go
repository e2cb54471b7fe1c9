// Package codec implements the fixed-width packing layer for segment records.
//
// A Format maps a named, ordered list of (field → type code) pairs onto a
// packed byte layout with no alignment padding. Type codes follow the
// single-character convention shared with the out-of-process consumers:
//
//	c  int8    1 byte
//	C  uint8   1 byte
//	s  int16   2 bytes
//	S  uint16  2 bytes
//	l  int32   4 bytes
//	L  uint32  4 bytes
//
// Values are encoded with the caller-supplied endian engine; producers and
// consumers of one segment pair must use the host-native engine. The codec
// round-trips every value that fits its declared width and rejects the rest;
// it never clamps, range policy belongs to the caller.
package codec

import (
	"fmt"
	"math"

	"github.com/pcpkit/shmstats/endian"
	"github.com/pcpkit/shmstats/errs"
)

// TypeCode is the single-character packing code of one field.
type TypeCode byte

const (
	Int8   TypeCode = 'c'
	Uint8  TypeCode = 'C'
	Int16  TypeCode = 's'
	Uint16 TypeCode = 'S'
	Int32  TypeCode = 'l'
	Uint32 TypeCode = 'L'
)

// Size returns the encoded width of the type code in bytes, or 0 for an
// unknown code.
func (c TypeCode) Size() int {
	switch c {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32:
		return 4
	default:
		return 0
	}
}

// Valid reports whether c is one of the six supported codes.
func (c TypeCode) Valid() bool {
	return c.Size() != 0
}

// InRange reports whether v is representable in the width and signedness of c.
func (c TypeCode) InRange(v int64) bool {
	switch c {
	case Int8:
		return v >= math.MinInt8 && v <= math.MaxInt8
	case Uint8:
		return v >= 0 && v <= math.MaxUint8
	case Int16:
		return v >= math.MinInt16 && v <= math.MaxInt16
	case Uint16:
		return v >= 0 && v <= math.MaxUint16
	case Int32:
		return v >= math.MinInt32 && v <= math.MaxInt32
	case Uint32:
		return v >= 0 && v <= math.MaxUint32
	default:
		return false
	}
}

// Field is one named column of a packed record.
type Field struct {
	Name string
	Code TypeCode
}

// Format is an immutable packed-record layout: an ordered field list, the
// per-field byte offsets, and the total record length.
type Format struct {
	fields  []Field
	offsets []int
	size    int
	engine  endian.EndianEngine
}

// New builds a Format from the given fields in declaration order.
//
// Returns:
//   - *Format: The layout with computed offsets and record length.
//   - error: errs.ErrInvalidTypeCode if any field carries an unknown code.
func New(engine endian.EndianEngine, fields ...Field) (*Format, error) {
	f := &Format{
		fields:  make([]Field, len(fields)),
		offsets: make([]int, len(fields)),
		engine:  engine,
	}

	copy(f.fields, fields)

	for i, field := range fields {
		if !field.Code.Valid() {
			return nil, fmt.Errorf("field %q: %w", field.Name, errs.ErrInvalidTypeCode)
		}
		f.offsets[i] = f.size
		f.size += field.Code.Size()
	}

	return f, nil
}

// Size returns the packed record length in bytes.
func (f *Format) Size() int {
	return f.size
}

// NumFields returns the number of fields in the record.
func (f *Format) NumFields() int {
	return len(f.fields)
}

// FieldNames returns the field names in declaration order.
func (f *Format) FieldNames() []string {
	names := make([]string, len(f.fields))
	for i, field := range f.fields {
		names[i] = field.Name
	}

	return names
}

// Encode packs values (one per field, in declaration order) into a new byte
// slice of Size() bytes.
//
// Returns:
//   - []byte: The packed record.
//   - error: errs.ErrFieldCountMismatch or errs.ErrValueOutOfRange.
func (f *Format) Encode(values ...int64) ([]byte, error) {
	buf := make([]byte, f.size)
	if err := f.EncodeTo(buf, values...); err != nil {
		return nil, err
	}

	return buf, nil
}

// EncodeTo packs values into dst, which must be at least Size() bytes long.
// Signed values are stored in two's complement within their field width.
func (f *Format) EncodeTo(dst []byte, values ...int64) error {
	if len(values) != len(f.fields) {
		return fmt.Errorf("got %d values for %d fields: %w", len(values), len(f.fields), errs.ErrFieldCountMismatch)
	}
	if len(dst) < f.size {
		return fmt.Errorf("destination %d bytes, record %d bytes: %w", len(dst), f.size, errs.ErrShortRecord)
	}

	for i, field := range f.fields {
		v := values[i]
		if !field.Code.InRange(v) {
			return fmt.Errorf("field %q value %d: %w", field.Name, v, errs.ErrValueOutOfRange)
		}

		off := f.offsets[i]
		switch field.Code {
		case Int8, Uint8:
			dst[off] = byte(v)
		case Int16, Uint16:
			f.engine.PutUint16(dst[off:off+2], uint16(v)) //nolint: gosec
		case Int32, Uint32:
			f.engine.PutUint32(dst[off:off+4], uint32(v)) //nolint: gosec
		}
	}

	return nil
}

// Decode unpacks a record into one int64 per field, in declaration order.
// Signed codes sign-extend; unsigned codes zero-extend.
//
// Returns:
//   - []int64: Decoded values.
//   - error: errs.ErrShortRecord if data is shorter than Size().
func (f *Format) Decode(data []byte) ([]int64, error) {
	if len(data) < f.size {
		return nil, fmt.Errorf("record %d bytes, got %d: %w", f.size, len(data), errs.ErrShortRecord)
	}

	values := make([]int64, len(f.fields))
	for i, field := range f.fields {
		off := f.offsets[i]
		switch field.Code {
		case Int8:
			values[i] = int64(int8(data[off]))
		case Uint8:
			values[i] = int64(data[off])
		case Int16:
			values[i] = int64(int16(f.engine.Uint16(data[off : off+2]))) //nolint: gosec
		case Uint16:
			values[i] = int64(f.engine.Uint16(data[off : off+2]))
		case Int32:
			values[i] = int64(int32(f.engine.Uint32(data[off : off+4]))) //nolint: gosec
		case Uint32:
			values[i] = int64(f.engine.Uint32(data[off : off+4]))
		}
	}

	return values, nil
}

// DecodeMap unpacks a record into a name → value mapping.
func (f *Format) DecodeMap(data []byte) (map[string]int64, error) {
	values, err := f.Decode(data)
	if err != nil {
		return nil, err
	}

	m := make(map[string]int64, len(values))
	for i, field := range f.fields {
		m[field.Name] = values[i]
	}

	return m, nil
}
