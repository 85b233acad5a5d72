// Package protocol implements the three-byte message codec spoken by the
// device over a 7-bit clean transport.
//
// # Frame Layout
//
// A logical message is a command (0-16) and two payload bytes (0-255).
// They are concatenated into a 20-bit value and split across three bytes:
//
//	bits  = command<<16 | byte1<<8 | byte2
//	frame = [0x80 + bits>>14][bits>>7 & 0x7F][bits & 0x7F]
//
// The first byte always carries the high bit so a receiver can find frame
// boundaries in a byte stream. The other two never do.
//
// # Encoding
//
//	frame, err := protocol.Encode(int(protocol.CmdSync), 0x12, 0x34)
//	if err != nil {
//	    // *protocol.EncodingError, matches protocol.ErrEncoding
//	}
//
// # Decoding
//
// Decode is total over any three bytes. Callers filter on the decoded
// command:
//
//	msg := protocol.Decode(frame)
//	if msg.Command == protocol.CmdData {
//	    // ...
//	}
//
// # Commands
//
// Six commands are used: CmdSync, CmdEnterBootloader, CmdStartFirmware,
// CmdData, CmdExitBootloader and CmdReadUUID.
package protocol
