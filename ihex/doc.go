// Package ihex parses Intel HEX firmware images into byte sequences ready
// for transfer to the device bootloader.
//
// # Intel HEX Format
//
// Each line is a record:
//
//	:[Count(2)][Address(4)][Type(2)][Data(2*Count)][Checksum(2)]
//
// Supported record types are data (00), end of file (01), extended
// segment address (02), start segment address (03), extended linear
// address (04) and start linear address (05).
//
// # Usage
//
//	img, err := ihex.ParseString(hexText)
//	if err != nil {
//	    return err
//	}
//	flat, err := img.Bytes(protocol.ProgramAddress, protocol.MaxProgramSize)
//	if err != nil {
//	    return err
//	}
//	data := ihex.Pad(flat, protocol.PageSize)
//
// Bytes flattens the image from a base address, filling gaps with 0xFF,
// and refuses images larger than the given limit with ErrImageTooLarge.
// Pad extends a byte sequence to a whole number of flash pages.
//
// # Error Handling
//
// Parse errors carry the line number and the reason:
//   - Missing ':' marker or invalid hex encoding
//   - Record length mismatch
//   - Checksum mismatch
//   - Missing end of file record
//   - Overlapping data records
package ihex
