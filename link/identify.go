package link

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/moffa90/go-qbmidi/internal/wait"
	"github.com/moffa90/go-qbmidi/protocol"
	"github.com/moffa90/go-qbmidi/transport"
)

// Identifier acquires link identity and mode over a lossy receive path by
// repeating reads and voting over the samples.
type Identifier struct {
	transport transport.Transport
	config    *IdentifyConfig
	log       zerolog.Logger
}

// NewIdentifier returns an Identifier using tr.
func NewIdentifier(tr transport.Transport, opts ...IdentifyOption) *Identifier {
	if tr == nil {
		panic("transport cannot be nil")
	}

	cfg := defaultIdentifyConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return &Identifier{transport: tr, config: cfg, log: cfg.Logger}
}

// Config returns the identifier settings.
func (id *Identifier) Config() IdentifyConfig {
	return *id.config
}

// listen subscribes to input, sends one message on output and collects
// the messages received within window.
func (id *Identifier) listen(ctx context.Context, input, output transport.Port, msg protocol.Message, window time.Duration) ([]protocol.Message, error) {
	var (
		mu       sync.Mutex
		received []protocol.Message
	)

	h, err := id.transport.Subscribe(input, func(f protocol.Frame) {
		m := protocol.Decode(f)
		mu.Lock()
		received = append(received, m)
		mu.Unlock()
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", input.ID, err)
	}
	defer id.transport.Unsubscribe(input, h)

	if err := transport.SendMessage(id.transport, output, msg.Command, msg.Byte1, msg.Byte2); err != nil {
		return nil, err
	}

	if err := wait.Sleep(ctx, window); err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	return append([]protocol.Message(nil), received...), nil
}

// Echo sends a Sync frame with two random bytes on output and reports
// whether the same bytes come back on input within the echo window.
func (id *Identifier) Echo(ctx context.Context, input, output transport.Port) (bool, error) {
	var marker [2]byte
	if _, err := rand.Read(marker[:]); err != nil {
		return false, fmt.Errorf("generate echo marker: %w", err)
	}

	msg := protocol.Message{Command: protocol.CmdSync, Byte1: marker[0], Byte2: marker[1]}
	received, err := id.listen(ctx, input, output, msg, id.config.EchoWindow)
	if err != nil {
		return false, err
	}

	for _, m := range received {
		if m == msg {
			return true, nil
		}
	}
	return false, nil
}

// UUIDSample performs one ReadUUID exchange and returns the characters
// received, padded or truncated to UUIDLength. Bytes outside '0' to '~'
// become Wildcard.
func (id *Identifier) UUIDSample(ctx context.Context, input, output transport.Port) (string, error) {
	received, err := id.listen(ctx, input, output, protocol.Message{Command: protocol.CmdReadUUID}, id.config.ListenWindow)
	if err != nil {
		return "", err
	}
	return sampleString(received), nil
}

func sampleString(received []protocol.Message) string {
	chars := make([]byte, 0, UUIDLength)
	for _, m := range received {
		if m.Command != protocol.CmdData {
			continue
		}
		chars = append(chars, printable(m.Byte1), printable(m.Byte2))
	}
	for len(chars) < UUIDLength {
		chars = append(chars, Wildcard)
	}
	return string(chars[:UUIDLength])
}

func printable(b byte) byte {
	if b < '0' || b > '~' {
		return Wildcard
	}
	return b
}

// BootloaderSample performs one ReadUUID exchange. Any Data reply means a
// program is running, so the device is not in bootloader mode.
func (id *Identifier) BootloaderSample(ctx context.Context, input, output transport.Port) (bool, error) {
	received, err := id.listen(ctx, input, output, protocol.Message{Command: protocol.CmdReadUUID}, id.config.ListenWindow)
	if err != nil {
		return false, err
	}
	for _, m := range received {
		if m.Command == protocol.CmdData {
			return false, nil
		}
	}
	return true, nil
}

// ReadUUID collects UUIDSamples samples and votes.
func (id *Identifier) ReadUUID(ctx context.Context, input, output transport.Port) (string, error) {
	samples := make([]string, 0, id.config.UUIDSamples)
	for i := 0; i < id.config.UUIDSamples; i++ {
		s, err := id.UUIDSample(ctx, input, output)
		if err != nil {
			return "", err
		}
		samples = append(samples, s)
	}
	return VoteUUID(samples), nil
}

// ReadBootloader collects StatusSamples samples and votes.
func (id *Identifier) ReadBootloader(ctx context.Context, input, output transport.Port) (bool, error) {
	votes := make([]bool, 0, id.config.StatusSamples)
	for i := 0; i < id.config.StatusSamples; i++ {
		v, err := id.BootloaderSample(ctx, input, output)
		if err != nil {
			return false, err
		}
		votes = append(votes, v)
	}
	return VoteBootloader(votes), nil
}

// Identify reads the mode and identity of l and records them. A device in
// bootloader mode does not report its identity, so the last known one is
// kept.
func (id *Identifier) Identify(ctx context.Context, l *Link) error {
	input, output := l.Ports()

	bootloader, err := id.ReadBootloader(ctx, input, output)
	if err != nil {
		return fmt.Errorf("read bootloader status of link %d: %w", l.RuntimeID(), err)
	}

	uuid := l.UUID()
	if !bootloader {
		uuid, err = id.ReadUUID(ctx, input, output)
		if err != nil {
			return fmt.Errorf("read uuid of link %d: %w", l.RuntimeID(), err)
		}
	}

	l.SetIdentity(uuid, bootloader, time.Now())

	id.log.Debug().
		Uint64("link_runtime_id", l.RuntimeID()).
		Str("uuid", uuid).
		Bool("bootloader", bootloader).
		Msg("link identified")

	return nil
}

// Refresh identifies l unless it was identified within the refresh
// interval. It reports whether an identification ran.
func (id *Identifier) Refresh(ctx context.Context, l *Link) (bool, error) {
	if time.Since(l.Updated()) < id.config.RefreshInterval {
		return false, nil
	}
	return true, id.Identify(ctx, l)
}

// VoteUUID joins the per-position median of the samples of length
// UUIDLength. Other samples are discarded. With no usable sample the
// result is UnknownUUID.
func VoteUUID(samples []string) string {
	valid := make([]string, 0, len(samples))
	for _, s := range samples {
		if len(s) == UUIDLength {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		return UnknownUUID
	}

	out := make([]byte, UUIDLength)
	column := make([]byte, len(valid))
	for pos := 0; pos < UUIDLength; pos++ {
		for i, s := range valid {
			column[i] = s[pos]
		}
		sort.Slice(column, func(a, b int) bool { return column[a] < column[b] })
		out[pos] = column[len(column)/2]
	}
	return string(out)
}

// VoteBootloader returns the majority of votes. A tie counts as not in
// bootloader mode since any data reply implies a running program.
func VoteBootloader(votes []bool) bool {
	yes := 0
	for _, v := range votes {
		if v {
			yes++
		}
	}
	return yes*2 > len(votes)
}
