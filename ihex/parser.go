package ihex

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Constants for Intel HEX parsing.
const (
	// MinimumRecordLength is the shortest record in hex characters after
	// the ':' marker: count(2) + address(4) + type(2) + checksum(2)
	MinimumRecordLength = 10

	// RecordHeaderSize is the size of the count, address and type fields
	RecordHeaderSize = 4

	// FillByte is written into gaps and padding (erased flash)
	FillByte = 0xFF
)

// Record types.
const (
	RecordData                   = 0x00
	RecordEndOfFile              = 0x01
	RecordExtendedSegmentAddress = 0x02
	RecordStartSegmentAddress    = 0x03
	RecordExtendedLinearAddress  = 0x04
	RecordStartLinearAddress     = 0x05
)

// Parse parses an Intel HEX file from the given path.
//
// Example:
//
//	img, err := ihex.Parse("firmware.hex")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	flat, err := img.Bytes(0, protocol.MaxProgramSize)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	data := ihex.Pad(flat, protocol.PageSize)
func Parse(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ParseReader(f)
}

// ParseString parses an Intel HEX image held in memory.
func ParseString(s string) (*Image, error) {
	return ParseReader(strings.NewReader(s))
}

// ParseReader parses an Intel HEX image from any io.Reader.
// Parsing stops at the end-of-file record; anything after it is ignored.
func ParseReader(r io.Reader) (*Image, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024), 1024*1024)

	img := &Image{}
	var (
		chunks  []*Segment
		upper   uint32 // extended address added to each record address
		lineNum int
		sawEOF  bool
	)

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines
		if line == "" {
			continue
		}

		rec, err := parseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		switch rec.kind {
		case RecordData:
			if len(rec.data) > 0 {
				chunks = append(chunks, &Segment{Address: upper + uint32(rec.address), Data: rec.data})
			}
		case RecordEndOfFile:
			sawEOF = true
		case RecordExtendedSegmentAddress:
			if len(rec.data) != 2 {
				return nil, fmt.Errorf("line %d: extended segment address needs 2 bytes, got %d", lineNum, len(rec.data))
			}
			upper = (uint32(rec.data[0])<<8 | uint32(rec.data[1])) << 4
		case RecordExtendedLinearAddress:
			if len(rec.data) != 2 {
				return nil, fmt.Errorf("line %d: extended linear address needs 2 bytes, got %d", lineNum, len(rec.data))
			}
			upper = (uint32(rec.data[0])<<8 | uint32(rec.data[1])) << 16
		case RecordStartSegmentAddress, RecordStartLinearAddress:
			if len(rec.data) != 4 {
				return nil, fmt.Errorf("line %d: start address needs 4 bytes, got %d", lineNum, len(rec.data))
			}
			img.StartAddress = uint32(rec.data[0])<<24 | uint32(rec.data[1])<<16 |
				uint32(rec.data[2])<<8 | uint32(rec.data[3])
			img.HasStartAddress = true
		default:
			return nil, fmt.Errorf("line %d: unknown record type 0x%02X", lineNum, rec.kind)
		}

		if sawEOF {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	if lineNum == 0 {
		return nil, fmt.Errorf("empty file")
	}

	if !sawEOF {
		return nil, fmt.Errorf("missing end of file record")
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("no data records found in file")
	}

	segments, err := merge(chunks)
	if err != nil {
		return nil, err
	}
	img.Segments = segments

	return img, nil
}

type record struct {
	kind    byte
	address uint16
	data    []byte
}

// parseRecord parses a single record line.
//
// Record format (hex encoded after the ':' marker):
//
//	[Count(1)][Address(2, big-endian)][Type(1)][Data(Count)][Checksum(1)]
//
// Example: ":0300300002337A1E"
//
//	Count: 0x03
//	Address: 0x0030
//	Type: 0x00 (data)
//	Data: [0x02, 0x33, 0x7A]
//	Checksum: 0x1E
func parseRecord(line string) (*record, error) {
	if line[0] != ':' {
		return nil, fmt.Errorf("record must start with ':'")
	}
	line = line[1:]

	if len(line) < MinimumRecordLength {
		return nil, fmt.Errorf("record too short: got %d characters, minimum is %d", len(line), MinimumRecordLength)
	}

	raw, err := hex.DecodeString(line)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}

	count := int(raw[0])
	expectedLen := RecordHeaderSize + count + 1
	if len(raw) != expectedLen {
		return nil, fmt.Errorf("data length mismatch: got %d bytes, expected %d (header=%d + data=%d + checksum=1)",
			len(raw), expectedLen, RecordHeaderSize, count)
	}

	checksum := raw[len(raw)-1]
	if calculated := Checksum(raw[:len(raw)-1]); calculated != checksum {
		return nil, fmt.Errorf("checksum mismatch: got 0x%02X, expected 0x%02X", checksum, calculated)
	}

	rec := &record{
		kind:    raw[3],
		address: uint16(raw[1])<<8 | uint16(raw[2]),
		data:    make([]byte, count),
	}
	copy(rec.data, raw[RecordHeaderSize:RecordHeaderSize+count])

	return rec, nil
}

// merge sorts data chunks by address and joins adjacent ones.
func merge(chunks []*Segment) ([]*Segment, error) {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Address < chunks[j].Address
	})

	out := []*Segment{{Address: chunks[0].Address, Data: append([]byte(nil), chunks[0].Data...)}}
	for _, c := range chunks[1:] {
		last := out[len(out)-1]
		switch {
		case c.Address < last.End():
			return nil, fmt.Errorf("overlapping data at address 0x%08X", c.Address)
		case c.Address == last.End():
			last.Data = append(last.Data, c.Data...)
		default:
			out = append(out, &Segment{Address: c.Address, Data: append([]byte(nil), c.Data...)})
		}
	}

	return out, nil
}
