package transport

import (
	"errors"
	"fmt"

	"github.com/moffa90/go-qbmidi/protocol"
)

// ErrPortNotConnected is returned when sending to a port whose state is
// not PortConnected.
var ErrPortNotConnected = errors.New("port is not connected")

// ErrUnknownPort is returned for a port the transport does not enumerate.
var ErrUnknownPort = errors.New("unknown port")

// PortState is the connection state reported by the transport.
type PortState string

const (
	PortConnected    PortState = "connected"
	PortDisconnected PortState = "disconnected"
)

// Port describes one input or output endpoint. Ports are values; two ports
// are the same endpoint when their IDs are equal.
type Port struct {
	// ID is stable for as long as the endpoint stays enumerated. Devices
	// re-enumerate under a new ID when they change mode.
	ID string `json:"id"`

	Name         string    `json:"name"`
	Manufacturer string    `json:"manufacturer"`
	State        PortState `json:"state"`

	// Version is an optional device-reported tag shared by the input and
	// output of the same device. Empty when unknown.
	Version string `json:"version,omitempty"`
}

// Connected reports whether the port state is PortConnected.
func (p Port) Connected() bool {
	return p.State == PortConnected
}

// String returns the port id and name for logs.
func (p Port) String() string {
	return fmt.Sprintf("%s (%s)", p.ID, p.Name)
}

// Handler receives raw frames from an input port. Handlers run on the
// transport's delivery goroutine and must not block.
type Handler func(frame protocol.Frame)

// Handle identifies a subscription returned by Subscribe.
type Handle uint64

// Transport is the binding to the physical ports.
//
// Implementations must be safe for concurrent use.
type Transport interface {
	// Inputs returns the currently enumerated input ports.
	Inputs() ([]Port, error)

	// Outputs returns the currently enumerated output ports.
	Outputs() ([]Port, error)

	// Open opens a port. Opening an open port is a no-op.
	Open(port Port) error

	// Close closes a port. Closing a closed port is a no-op.
	Close(port Port) error

	// Send writes one frame to an output port. It fails with
	// ErrPortNotConnected when the port is not connected.
	Send(port Port, frame protocol.Frame) error

	// Subscribe registers a handler for frames arriving on an input port.
	Subscribe(port Port, handler Handler) (Handle, error)

	// Unsubscribe removes a handler registered with Subscribe.
	Unsubscribe(port Port, handle Handle) error
}

// SendMessage encodes a message and sends it to output.
func SendMessage(t Transport, output Port, command protocol.Command, byte1, byte2 byte) error {
	if !output.Connected() {
		return fmt.Errorf("send %s to %s: %w", command, output.ID, ErrPortNotConnected)
	}

	frame, err := protocol.Encode(int(command), int(byte1), int(byte2))
	if err != nil {
		return err
	}

	if err := t.Send(output, frame); err != nil {
		return fmt.Errorf("send %s to %s: %w", command, output.ID, err)
	}

	return nil
}

// IDs returns the ids of ports.
func IDs(ports []Port) []string {
	ids := make([]string, len(ports))
	for i, p := range ports {
		ids[i] = p.ID
	}
	return ids
}

// Contains reports whether ports holds a port with the given id.
func Contains(ports []Port, id string) bool {
	_, ok := Find(ports, id)
	return ok
}

// Find returns the port with the given id.
func Find(ports []Port, id string) (Port, bool) {
	for _, p := range ports {
		if p.ID == id {
			return p, true
		}
	}
	return Port{}, false
}

// Diff returns the ports in a whose id is not in b.
func Diff(a, b []Port) []Port {
	out := make([]Port, 0, len(a))
	for _, p := range a {
		if !Contains(b, p.ID) {
			out = append(out, p)
		}
	}
	return out
}
