package bootloader

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/moffa90/go-qbmidi/ihex"
	"github.com/moffa90/go-qbmidi/link"
	"github.com/moffa90/go-qbmidi/protocol"
	"github.com/moffa90/go-qbmidi/transport"
	"github.com/moffa90/go-qbmidi/transport/simulator"
)

const testUUID = "QB0123456789ABCD"

// testFirmware holds 4 bytes at 0 and 2 bytes at 0x10.
const testFirmware = ":0400000001020304F2\n:02001000AABB89\n:00000001FF\n"

func fastOptions(extra ...Option) []Option {
	return append([]Option{
		WithReconnect(5, time.Millisecond),
		WithSettleDelay(0),
		WithRetries(3, 0),
		WithPacing(64, 0),
		WithConfirmDelay(0),
	}, extra...)
}

type fixture struct {
	sim      *simulator.Simulator
	deviceID int
	link     *link.Link
	prog     *Programmer
}

func newFixture(t *testing.T, dev simulator.Device, opts ...Option) *fixture {
	t.Helper()

	sim := simulator.New()
	id := sim.Plug(dev)
	info, _ := sim.Device(id)
	if err := sim.Open(info.Input); err != nil {
		t.Fatalf("open input: %v", err)
	}
	if err := sim.Open(info.Output); err != nil {
		t.Fatalf("open output: %v", err)
	}

	identifier := link.NewIdentifier(sim,
		link.WithSamples(3, 3),
		link.WithListenWindow(0),
		link.WithEchoWindow(0),
	)

	l := link.New(info.Input, info.Output, link.MethodEcho)
	if err := identifier.Identify(context.Background(), l); err != nil {
		t.Fatalf("identify: %v", err)
	}

	return &fixture{
		sim:      sim,
		deviceID: id,
		link:     l,
		prog:     New(sim, identifier, fastOptions(opts...)...),
	}
}

func (f *fixture) device(t *testing.T) simulator.DeviceInfo {
	t.Helper()
	info, ok := f.sim.Device(f.deviceID)
	if !ok {
		t.Fatal("device unplugged")
	}
	return info
}

func TestNew(t *testing.T) {
	sim := simulator.New()
	id := link.NewIdentifier(sim)

	tests := []struct {
		name    string
		options []Option
	}{
		{
			name:    "with no options",
			options: nil,
		},
		{
			name: "with all options",
			options: []Option{
				WithProgressCallback(func(p Progress) {}),
				WithFilter(transport.DefaultFilter()),
				WithReconnect(10, time.Millisecond),
				WithSettleDelay(time.Second),
				WithRetries(5, time.Second),
				WithPacing(500, 50*time.Millisecond),
				WithConfirmDelay(10 * time.Millisecond),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog := New(sim, id, tt.options...)
			if prog == nil {
				t.Fatal("New() returned nil")
			}
			if prog.transport != sim {
				t.Error("transport not set correctly")
			}
		})
	}

	defer func() {
		if recover() == nil {
			t.Error("New(nil) should panic")
		}
	}()
	New(nil, id)
}

func TestEnterBootloader(t *testing.T) {
	f := newFixture(t, simulator.Device{UUID: testUUID})
	oldInput := f.link.Input().ID

	if err := f.prog.EnterBootloader(context.Background(), f.link); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !f.link.Bootloader() {
		t.Error("link should be in bootloader mode")
	}
	if !f.link.MIDI() {
		t.Error("bootloader link should be midi enabled")
	}
	if f.link.UUID() != testUUID {
		t.Errorf("uuid should be kept, got %s", f.link.UUID())
	}
	if f.link.Input().ID == oldInput {
		t.Error("link ports should follow the re-enumerated device")
	}
	if f.link.Input().ID != f.device(t).Input.ID {
		t.Errorf("link input %s, device input %s", f.link.Input().ID, f.device(t).Input.ID)
	}
	if f.link.Busy() {
		t.Error("link should be idle after the operation")
	}
}

func TestEnterBootloaderAlreadyInBootloader(t *testing.T) {
	f := newFixture(t, simulator.Device{UUID: testUUID, Bootloader: true})
	oldInput := f.link.Input().ID

	if err := f.prog.EnterBootloader(context.Background(), f.link); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.link.Input().ID != oldInput {
		t.Error("ports should be kept when the device does not re-enumerate")
	}
	if !f.link.Bootloader() {
		t.Error("link should be in bootloader mode")
	}
}

func TestExitBootloader(t *testing.T) {
	tests := []struct {
		name            string
		bootloader      bool
		wantTransitions int
	}{
		{name: "from bootloader", bootloader: true, wantTransitions: 1},
		{name: "already running is skipped", bootloader: false, wantTransitions: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, simulator.Device{UUID: testUUID, Bootloader: tt.bootloader})

			if err := f.prog.ExitBootloader(context.Background(), f.link); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if f.link.Bootloader() {
				t.Error("link should be running")
			}
			if f.link.UUID() != testUUID {
				t.Errorf("uuid = %s, want %s", f.link.UUID(), testUUID)
			}
			if got := f.device(t).Transitions; got != tt.wantTransitions {
				t.Errorf("transitions = %d, want %d", got, tt.wantTransitions)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	f := newFixture(t, simulator.Device{UUID: "ZZ0123456789ABCD"})
	ctx := context.Background()

	if err := f.prog.EnterBootloader(ctx, f.link); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if !f.link.MIDI() {
		t.Error("midi should be set in bootloader mode")
	}

	if err := f.prog.ExitBootloader(ctx, f.link); err != nil {
		t.Fatalf("exit: %v", err)
	}
	if f.link.Bootloader() {
		t.Error("bootloader should be false after exit")
	}
	if f.link.MIDI() {
		t.Error("midi should follow the uuid prefix after exit")
	}
}

func TestExitBootloaderConfirmationFailed(t *testing.T) {
	f := newFixture(t, simulator.Device{UUID: testUUID, Bootloader: true})

	// the device drops every reply after the exit command, so it keeps
	// looking like a bootloader
	f.sim.SetDropRate(1)

	err := f.prog.ExitBootloader(context.Background(), f.link)
	if !errors.Is(err, ErrConfirmationFailed) {
		t.Fatalf("expected ErrConfirmationFailed, got %v", err)
	}

	var confErr *ConfirmationError
	if !errors.As(err, &confErr) {
		t.Fatal("expected *ConfirmationError")
	}
	if confErr.Requested != link.ModeRunning {
		t.Errorf("requested = %s, want running", confErr.Requested)
	}
}

func TestEnterBootloaderBusy(t *testing.T) {
	f := newFixture(t, simulator.Device{UUID: testUUID})
	f.link.TryBegin(link.StateUploading)

	err := f.prog.EnterBootloader(context.Background(), f.link)
	if !errors.Is(err, ErrLinkBusy) {
		t.Fatalf("expected ErrLinkBusy, got %v", err)
	}
	if f.link.State() != link.StateUploading {
		t.Error("busy state must not be cleared by a refused operation")
	}
}

func TestUpload(t *testing.T) {
	f := newFixture(t, simulator.Device{UUID: testUUID})

	if err := f.prog.Upload(context.Background(), f.link, testFirmware); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info := f.device(t)
	if len(info.Firmware) != protocol.PageSize {
		t.Fatalf("firmware size = %d, want %d", len(info.Firmware), protocol.PageSize)
	}

	want := bytes.Repeat([]byte{0xFF}, protocol.PageSize)
	copy(want, []byte{0x01, 0x02, 0x03, 0x04})
	copy(want[0x10:], []byte{0xAA, 0xBB})
	if !bytes.Equal(info.Firmware, want) {
		t.Errorf("firmware mismatch:\n got %x\nwant %x", info.Firmware, want)
	}

	if info.Uploads != 1 {
		t.Errorf("uploads = %d, want 1", info.Uploads)
	}
	if info.Bootloader {
		t.Error("device should be running after upload")
	}
	if f.link.Bootloader() {
		t.Error("link should be running after upload")
	}
	if f.link.UUID() != testUUID {
		t.Errorf("uuid = %s, want %s", f.link.UUID(), testUUID)
	}
}

func TestUploadWithProgress(t *testing.T) {
	var progressCalls []Progress
	f := newFixture(t, simulator.Device{UUID: testUUID}, WithProgressCallback(func(p Progress) {
		progressCalls = append(progressCalls, p)
	}))

	if err := f.prog.Upload(context.Background(), f.link, testFirmware); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(progressCalls) == 0 {
		t.Fatal("expected progress callbacks, got none")
	}

	phases := make(map[string]bool)
	for _, p := range progressCalls {
		phases[p.Phase] = true
	}

	expectedPhases := []string{PhaseEntering, PhaseProgramming, PhaseExiting, PhaseIdentifying, PhaseComplete}
	for _, phase := range expectedPhases {
		if !phases[phase] {
			t.Errorf("missing phase: %s", phase)
		}
	}

	last := progressCalls[len(progressCalls)-1]
	if last.Phase != PhaseComplete || last.Percentage != 100 {
		t.Errorf("last progress = %+v", last)
	}
}

func TestUploadInvalidFirmware(t *testing.T) {
	f := newFixture(t, simulator.Device{UUID: testUUID})

	err := f.prog.Upload(context.Background(), f.link, "not a hex file")
	if err == nil || !strings.Contains(err.Error(), "parse firmware") {
		t.Fatalf("expected parse error, got %v", err)
	}
	if f.device(t).Transitions != 0 {
		t.Error("device should not be touched for an invalid image")
	}

	if err := f.prog.UploadImage(context.Background(), f.link, nil); err == nil {
		t.Error("expected error for nil image")
	}
	if err := f.prog.UploadImage(context.Background(), f.link, &ihex.Image{}); err == nil {
		t.Error("expected error for empty image")
	}

	// 4 bytes placed at 0x10000000 by an extended linear address record.
	high := ":020000041000EA\n:0400000001020304F2\n:00000001FF\n"
	err = f.prog.Upload(context.Background(), f.link, high)
	if !errors.Is(err, ihex.ErrImageTooLarge) {
		t.Fatalf("expected ErrImageTooLarge, got %v", err)
	}
	if f.device(t).Transitions != 0 {
		t.Error("device should not be touched for an oversized image")
	}
}

func TestUploadPacing(t *testing.T) {
	tests := []struct {
		name  string
		every int
		want  int
	}{
		{"even interval", 64, 1},
		{"odd interval", 3, 42},
		{"odd interval above page", 999, 0},
		{"disabled", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pauses := 0
			f := newFixture(t, simulator.Device{UUID: testUUID},
				WithPacing(tt.every, 0),
				WithProgressCallback(func(p Progress) {
					if p.Phase == PhaseProgramming && p.BytesWritten < p.TotalBytes {
						pauses++
					}
				}),
			)

			if err := f.prog.Upload(context.Background(), f.link, testFirmware); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if pauses != tt.want {
				t.Errorf("pauses = %d, want %d", pauses, tt.want)
			}
		})
	}
}

// flakyTransport fails the first StartFirmware sends.
type flakyTransport struct {
	*simulator.Simulator
	failures int
}

func (f *flakyTransport) Send(port transport.Port, frame protocol.Frame) error {
	if protocol.Decode(frame).Command == protocol.CmdStartFirmware && f.failures > 0 {
		f.failures--
		return errors.New("write failed")
	}
	return f.Simulator.Send(port, frame)
}

func TestUploadRetries(t *testing.T) {
	f := newFixture(t, simulator.Device{UUID: testUUID})
	flaky := &flakyTransport{Simulator: f.sim, failures: 2}
	prog := New(flaky, f.prog.identifier, fastOptions()...)

	if err := prog.Upload(context.Background(), f.link, testFirmware); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flaky.failures != 0 {
		t.Errorf("failures left = %d", flaky.failures)
	}
}

func TestUploadRetriesExhausted(t *testing.T) {
	f := newFixture(t, simulator.Device{UUID: testUUID})
	flaky := &flakyTransport{Simulator: f.sim, failures: 100}
	prog := New(flaky, f.prog.identifier, fastOptions()...)

	err := prog.Upload(context.Background(), f.link, testFirmware)

	var transferErr *TransferError
	if !errors.As(err, &transferErr) {
		t.Fatalf("expected *TransferError, got %v", err)
	}
	if transferErr.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", transferErr.Attempts)
	}
}

func TestUploadWithContextCancellation(t *testing.T) {
	f := newFixture(t, simulator.Device{UUID: testUUID})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.prog.Upload(ctx, f.link, testFirmware)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if f.link.Busy() {
		t.Error("link should be idle after a cancelled upload")
	}
}

func TestReconnectFallback(t *testing.T) {
	// a device that never disappears keeps its ports
	f := newFixture(t, simulator.Device{UUID: testUUID, Bootloader: true})
	in := f.link.Input()

	err := f.prog.waitDisappear(context.Background(), in)
	if !errors.Is(err, ErrConnectionNeverDisappeared) {
		t.Fatalf("expected ErrConnectionNeverDisappeared, got %v", err)
	}

	inputs, outputs, _ := f.prog.validPorts()
	_, _, err = f.prog.waitAppear(context.Background(), in, inputs, outputs)
	if !errors.Is(err, ErrConnectionNeverAppeared) {
		t.Fatalf("expected ErrConnectionNeverAppeared, got %v", err)
	}
}

func TestReconnectDelayedEnumeration(t *testing.T) {
	sim := simulator.New(simulator.WithReenumerateDelay(10 * time.Millisecond))
	id := sim.Plug(simulator.Device{UUID: testUUID, Version: "v1"})
	info, _ := sim.Device(id)
	_ = sim.Open(info.Input)
	_ = sim.Open(info.Output)

	identifier := link.NewIdentifier(sim, link.WithSamples(3, 3), link.WithListenWindow(0), link.WithEchoWindow(0))
	l := link.New(info.Input, info.Output, link.MethodEcho)
	prog := New(sim, identifier, WithReconnect(100, 2*time.Millisecond), WithSettleDelay(0))

	if err := prog.EnterBootloader(context.Background(), l); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after, _ := sim.Device(id)
	if l.Input().ID != after.Input.ID || l.Output().ID != after.Output.ID {
		t.Errorf("link ports %s/%s, device ports %s/%s",
			l.Input().ID, l.Output().ID, after.Input.ID, after.Output.ID)
	}
	if !sim.IsOpen(after.Input.ID) || !sim.IsOpen(after.Output.ID) {
		t.Error("new ports should be open")
	}
}

func TestPick(t *testing.T) {
	ports := []transport.Port{{ID: "a", Version: "1"}, {ID: "b", Version: "2"}}

	tests := []struct {
		name    string
		ports   []transport.Port
		version string
		want    string
		wantOK  bool
	}{
		{name: "matching version", ports: ports, version: "2", want: "b", wantOK: true},
		{name: "no match takes first", ports: ports, version: "9", want: "a", wantOK: true},
		{name: "empty version takes first", ports: ports, version: "", want: "a", wantOK: true},
		{name: "none", ports: nil, version: "1", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := pick(tt.ports, tt.version)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got.ID != tt.want {
				t.Errorf("got %s, want %s", got.ID, tt.want)
			}
		})
	}
}
