package protocol

import "fmt"

// Frame is one message on the wire: the first byte has SyncBit set, the
// other two are 7-bit clean.
type Frame [FrameSize]byte

// Message is the logical content of a frame.
type Message struct {
	Command Command
	Byte1   byte
	Byte2   byte
}

// String formats the message for logs.
func (m Message) String() string {
	return fmt.Sprintf("%s(0x%02X, 0x%02X)", m.Command, m.Byte1, m.Byte2)
}

// Encode packs a command and two payload bytes into a frame.
//
// The three values are concatenated into a 20-bit number
// (command<<16 | byte1<<8 | byte2) which is split into a 6-bit head
// carrying SyncBit and two 7-bit tails:
//
//	[0x80 + bits>>14][bits>>7 & 0x7F][bits & 0x7F]
//
// Returns an EncodingError if command > MaxCommand or either byte > MaxByte.
func Encode(command, byte1, byte2 int) (Frame, error) {
	if command < 0 || command > MaxCommand {
		return Frame{}, &EncodingError{Field: "command", Value: command, Max: MaxCommand}
	}
	if byte1 < 0 || byte1 > MaxByte {
		return Frame{}, &EncodingError{Field: "byte1", Value: byte1, Max: MaxByte}
	}
	if byte2 < 0 || byte2 > MaxByte {
		return Frame{}, &EncodingError{Field: "byte2", Value: byte2, Max: MaxByte}
	}

	bits := command<<16 | byte1<<8 | byte2

	return Frame{
		byte((bits >> 14) + SyncBit),
		byte((bits >> 7) & 0x7F),
		byte(bits & 0x7F),
	}, nil
}

// EncodeMessage is Encode for a Message.
func EncodeMessage(m Message) (Frame, error) {
	return Encode(int(m.Command), int(m.Byte1), int(m.Byte2))
}

// Decode unpacks a frame. It never fails: the transport may deliver
// partial or spurious frames, and garbage in gives garbage out.
func Decode(f Frame) Message {
	a, b, c := int(f[0]), int(f[1]), int(f[2])

	return Message{
		Command: Command((a - SyncBit) >> 2),
		Byte1:   byte((a&0x3)<<6 | b>>1),
		Byte2:   byte((b&0x1)<<7 | c),
	}
}

// DecodeBytes decodes up to FrameSize bytes, treating missing bytes as zero.
func DecodeBytes(p []byte) Message {
	var f Frame
	copy(f[:], p)
	return Decode(f)
}
