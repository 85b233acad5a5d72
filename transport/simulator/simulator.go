package simulator

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/moffa90/go-qbmidi/protocol"
	"github.com/moffa90/go-qbmidi/transport"
)

// DefaultName is the port name reported for simulated devices.
const DefaultName = "Quirkbot"

// uuidFrames is the number of Data frames a running device sends in reply
// to ReadUUID, two characters each.
const uuidFrames = 8

// Device describes a simulated device when it is plugged in.
type Device struct {
	// UUID is the 16 character identity reported while running.
	UUID string

	// Version is reported on both ports of the device.
	Version string

	// Bootloader starts the device in bootloader mode.
	Bootloader bool

	// SilentBootloaderEcho stops the device from echoing Sync frames while
	// in bootloader mode.
	SilentBootloaderEcho bool
}

// DeviceInfo is a snapshot of a simulated device.
type DeviceInfo struct {
	ID         int
	UUID       string
	Bootloader bool
	Input      transport.Port
	Output     transport.Port
	Present    bool

	// Firmware holds the bytes streamed after the last StartFirmware.
	Firmware []byte

	// Uploads counts StartFirmware commands received in bootloader mode.
	Uploads int

	// Transitions counts mode changes.
	Transitions int
}

type device struct {
	id          int
	gen         int
	uuid        string
	version     string
	bootloader  bool
	silentEcho  bool
	present     bool
	firmware    []byte
	receiving   bool
	uploads     int
	transitions int
}

func (d *device) inputID() string  { return fmt.Sprintf("sim-in-%d.%d", d.id, d.gen) }
func (d *device) outputID() string { return fmt.Sprintf("sim-out-%d.%d", d.id, d.gen) }

// Simulator is an in-process transport.Transport backed by simulated
// devices. Replies are delivered synchronously from Send.
type Simulator struct {
	mu         sync.Mutex
	config     *Config
	devices    []*device
	nextID     int
	open       map[string]bool
	rnd        *rand.Rand
	dispatcher *transport.Dispatcher
}

var _ transport.Transport = (*Simulator)(nil)

// New returns an empty simulator.
func New(opts ...Option) *Simulator {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return &Simulator{
		config:     cfg,
		open:       make(map[string]bool),
		rnd:        rand.New(rand.NewSource(cfg.Seed)),
		dispatcher: transport.NewDispatcher(),
	}
}

// Plug adds a device and returns its id.
func (s *Simulator) Plug(d Device) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.devices = append(s.devices, &device{
		id:         s.nextID,
		uuid:       d.UUID,
		version:    d.Version,
		bootloader: d.Bootloader,
		silentEcho: d.SilentBootloaderEcho,
		present:    true,
	})
	return s.nextID
}

// Unplug removes a device. Its ports disappear from the enumeration.
func (s *Simulator) Unplug(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, d := range s.devices {
		if d.id == id {
			s.forget(d)
			s.devices = append(s.devices[:i], s.devices[i+1:]...)
			return
		}
	}
}

// Device returns a snapshot of the device with the given id.
func (s *Simulator) Device(id int) (DeviceInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.find(id)
	if d == nil {
		return DeviceInfo{}, false
	}
	return DeviceInfo{
		ID:          d.id,
		UUID:        d.uuid,
		Bootloader:  d.bootloader,
		Input:       s.inputPort(d),
		Output:      s.outputPort(d),
		Present:     d.present,
		Firmware:    append([]byte(nil), d.firmware...),
		Uploads:     d.uploads,
		Transitions: d.transitions,
	}, true
}

// SetDropRate changes the probability of losing a reply frame.
func (s *Simulator) SetDropRate(rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.DropRate = rate
}

// Inputs implements transport.Transport.
func (s *Simulator) Inputs() ([]transport.Port, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ports := make([]transport.Port, 0, len(s.devices))
	for _, d := range s.devices {
		if d.present {
			ports = append(ports, s.inputPort(d))
		}
	}
	return ports, nil
}

// Outputs implements transport.Transport.
func (s *Simulator) Outputs() ([]transport.Port, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ports := make([]transport.Port, 0, len(s.devices))
	for _, d := range s.devices {
		if d.present {
			ports = append(ports, s.outputPort(d))
		}
	}
	return ports, nil
}

// Open implements transport.Transport.
func (s *Simulator) Open(port transport.Port) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byPort(port.ID) == nil {
		return fmt.Errorf("open %s: %w", port.ID, transport.ErrUnknownPort)
	}
	s.open[port.ID] = true
	return nil
}

// Close implements transport.Transport.
func (s *Simulator) Close(port transport.Port) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.open, port.ID)
	return nil
}

// IsOpen reports whether a port is currently open.
func (s *Simulator) IsOpen(portID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open[portID]
}

// Subscribe implements transport.Transport.
func (s *Simulator) Subscribe(port transport.Port, handler transport.Handler) (transport.Handle, error) {
	s.mu.Lock()
	d := s.byPort(port.ID)
	s.mu.Unlock()

	if d == nil {
		return 0, fmt.Errorf("subscribe %s: %w", port.ID, transport.ErrUnknownPort)
	}
	return s.dispatcher.Subscribe(port.ID, handler)
}

// Unsubscribe implements transport.Transport.
func (s *Simulator) Unsubscribe(port transport.Port, handle transport.Handle) error {
	s.dispatcher.Unsubscribe(port.ID, handle)
	return nil
}

// Send implements transport.Transport. The addressed device handles the
// frame and its replies are dispatched before Send returns.
func (s *Simulator) Send(port transport.Port, frame protocol.Frame) error {
	s.mu.Lock()
	d := s.byPort(port.ID)
	if d == nil || port.ID != d.outputID() {
		s.mu.Unlock()
		return fmt.Errorf("send to %s: %w", port.ID, transport.ErrPortNotConnected)
	}
	if !s.open[port.ID] {
		s.mu.Unlock()
		return fmt.Errorf("send to %s: port is closed: %w", port.ID, transport.ErrPortNotConnected)
	}

	inputID := d.inputID()
	replies := s.handle(d, protocol.Decode(frame))
	replies = s.drop(replies)
	s.mu.Unlock()

	for _, r := range replies {
		s.dispatcher.Dispatch(inputID, r)
	}
	return nil
}

// handle applies a message to the device and returns the reply frames.
func (s *Simulator) handle(d *device, msg protocol.Message) []protocol.Frame {
	switch msg.Command {
	case protocol.CmdSync:
		if d.bootloader && d.silentEcho {
			return nil
		}
		return []protocol.Frame{mustEncode(protocol.CmdSync, msg.Byte1, msg.Byte2)}

	case protocol.CmdReadUUID:
		if d.bootloader {
			return nil
		}
		id := []byte(d.uuid)
		frames := make([]protocol.Frame, 0, uuidFrames)
		for i := 0; i < uuidFrames; i++ {
			var b1, b2 byte
			if 2*i < len(id) {
				b1 = id[2*i]
			}
			if 2*i+1 < len(id) {
				b2 = id[2*i+1]
			}
			frames = append(frames, mustEncode(protocol.CmdData, b1, b2))
		}
		return frames

	case protocol.CmdEnterBootloader:
		if !d.bootloader {
			d.bootloader = true
			s.reenumerate(d)
		}

	case protocol.CmdExitBootloader:
		if d.bootloader {
			d.bootloader = false
			d.receiving = false
			s.reenumerate(d)
		}

	case protocol.CmdStartFirmware:
		if d.bootloader {
			d.firmware = d.firmware[:0]
			d.receiving = true
			d.uploads++
		}

	case protocol.CmdData:
		if d.bootloader && d.receiving {
			d.firmware = append(d.firmware, msg.Byte1, msg.Byte2)
		}
	}
	return nil
}

// reenumerate gives the device new port ids. With a reenumeration delay
// the device is absent from the enumeration for that long.
func (s *Simulator) reenumerate(d *device) {
	s.forget(d)
	d.gen++
	d.transitions++

	if s.config.ReenumerateDelay <= 0 {
		return
	}

	d.present = false
	gen := d.gen
	time.AfterFunc(s.config.ReenumerateDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if d.gen == gen {
			d.present = true
		}
	})
}

// forget closes the ports of the current generation and drops their
// subscriptions.
func (s *Simulator) forget(d *device) {
	delete(s.open, d.inputID())
	delete(s.open, d.outputID())
	s.dispatcher.Drop(d.inputID())
}

func (s *Simulator) drop(frames []protocol.Frame) []protocol.Frame {
	if s.config.DropRate <= 0 {
		return frames
	}
	kept := frames[:0]
	for _, f := range frames {
		if s.rnd.Float64() >= s.config.DropRate {
			kept = append(kept, f)
		}
	}
	return kept
}

func (s *Simulator) find(id int) *device {
	for _, d := range s.devices {
		if d.id == id {
			return d
		}
	}
	return nil
}

func (s *Simulator) byPort(portID string) *device {
	for _, d := range s.devices {
		if d.present && (d.inputID() == portID || d.outputID() == portID) {
			return d
		}
	}
	return nil
}

func (s *Simulator) inputPort(d *device) transport.Port {
	return s.port(d, d.inputID())
}

func (s *Simulator) outputPort(d *device) transport.Port {
	return s.port(d, d.outputID())
}

func (s *Simulator) port(d *device, id string) transport.Port {
	state := transport.PortConnected
	if !d.present {
		state = transport.PortDisconnected
	}
	return transport.Port{
		ID:           id,
		Name:         s.config.Name,
		Manufacturer: s.config.Manufacturer,
		State:        state,
		Version:      d.version,
	}
}

func mustEncode(cmd protocol.Command, b1, b2 byte) protocol.Frame {
	f, err := protocol.Encode(int(cmd), int(b1), int(b2))
	if err != nil {
		panic(err)
	}
	return f
}
