package ihex

import (
	"errors"
	"fmt"
)

// ErrImageTooLarge is returned when a flattened image would exceed the
// requested limit.
var ErrImageTooLarge = errors.New("image too large")

// Image is a parsed Intel HEX firmware image.
type Image struct {
	// Segments holds the data records merged into contiguous runs,
	// ordered by address
	Segments []*Segment

	// StartAddress is the entry point from a type 03/05 record, if any
	StartAddress uint32

	// HasStartAddress reports whether a start address record was present
	HasStartAddress bool
}

// Segment is a contiguous run of bytes at an absolute address.
type Segment struct {
	// Address is the absolute address of the first byte
	Address uint32

	// Data is the segment payload
	Data []byte
}

// End returns the address one past the last byte of the segment.
func (s *Segment) End() uint32 {
	return s.Address + uint32(len(s.Data))
}

// Size returns the number of bytes between the lowest and the highest
// address covered by the image.
func (img *Image) Size() int {
	if len(img.Segments) == 0 {
		return 0
	}
	first := img.Segments[0]
	last := img.Segments[len(img.Segments)-1]
	return int(last.End() - first.Address)
}

// Bytes flattens the image into a byte sequence starting at base. Gaps
// between segments are filled with FillByte. Bytes below base are dropped.
// Images spanning more than limit bytes from base fail with
// ErrImageTooLarge before anything is allocated.
func (img *Image) Bytes(base uint32, limit int) ([]byte, error) {
	if len(img.Segments) == 0 {
		return []byte{}, nil
	}

	end := img.Segments[len(img.Segments)-1].End()
	if end <= base {
		return []byte{}, nil
	}
	if size := uint64(end - base); size > uint64(limit) {
		return nil, fmt.Errorf("%d bytes from 0x%X exceed %d: %w", size, base, limit, ErrImageTooLarge)
	}

	out := make([]byte, end-base)
	for i := range out {
		out[i] = FillByte
	}

	for _, seg := range img.Segments {
		if seg.End() <= base {
			continue
		}
		data := seg.Data
		addr := seg.Address
		if addr < base {
			data = data[base-addr:]
			addr = base
		}
		copy(out[addr-base:], data)
	}

	return out, nil
}

// Pad returns data extended with FillByte to a multiple of pageSize.
// The input slice is not modified.
func Pad(data []byte, pageSize int) []byte {
	if pageSize <= 0 {
		return append([]byte(nil), data...)
	}

	size := len(data)
	if rem := size % pageSize; rem != 0 {
		size += pageSize - rem
	}

	out := make([]byte, size)
	copy(out, data)
	for i := len(data); i < size; i++ {
		out[i] = FillByte
	}

	return out
}
