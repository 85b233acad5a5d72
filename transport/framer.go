package transport

import "github.com/moffa90/go-qbmidi/protocol"

// Framer reassembles frames from a raw byte stream. A frame starts at a
// byte with protocol.SyncBit set; bytes preceding a sync byte are dropped
// and a sync byte in a trailing position restarts the frame.
type Framer struct {
	buf [protocol.FrameSize]byte
	n   int
}

// Feed consumes p and calls emit for every complete frame.
func (f *Framer) Feed(p []byte, emit func(protocol.Frame)) {
	for _, b := range p {
		if b&protocol.SyncBit != 0 {
			f.buf[0] = b
			f.n = 1
			continue
		}
		if f.n == 0 {
			continue
		}
		f.buf[f.n] = b
		f.n++
		if f.n == protocol.FrameSize {
			emit(protocol.Frame(f.buf))
			f.n = 0
		}
	}
}

// Reset discards a partial frame.
func (f *Framer) Reset() {
	f.n = 0
}
