package serialport

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/moffa90/go-qbmidi/protocol"
	"github.com/moffa90/go-qbmidi/transport"
)

const (
	inputPrefix  = "in:"
	outputPrefix = "out:"
)

// Conn is the subset of serial.Port used by the transport.
type Conn interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// ListFunc enumerates serial devices.
type ListFunc func() ([]*enumerator.PortDetails, error)

// OpenFunc opens a serial device.
type OpenFunc func(path string, mode *serial.Mode) (Conn, error)

// Transport exposes every USB serial device as one input port and one
// output port sharing a single serial handle.
type Transport struct {
	config     *Config
	list       ListFunc
	openConn   OpenFunc
	dispatcher *transport.Dispatcher

	mu      sync.Mutex
	handles map[string]*handle
}

var _ transport.Transport = (*Transport)(nil)

type handle struct {
	path   string
	conn   Conn
	input  bool
	output bool
	done   chan struct{}
}

// New returns a serial transport.
func New(opts ...Option) *Transport {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	list := cfg.List
	if list == nil {
		list = enumerator.GetDetailedPortsList
	}
	open := cfg.Open
	if open == nil {
		open = func(path string, mode *serial.Mode) (Conn, error) {
			return serial.Open(path, mode)
		}
	}

	return &Transport{
		config:     cfg,
		list:       list,
		openConn:   open,
		dispatcher: transport.NewDispatcher(),
		handles:    make(map[string]*handle),
	}
}

// Inputs implements transport.Transport.
func (t *Transport) Inputs() ([]transport.Port, error) {
	return t.ports(inputPrefix)
}

// Outputs implements transport.Transport.
func (t *Transport) Outputs() ([]transport.Port, error) {
	return t.ports(outputPrefix)
}

func (t *Transport) ports(prefix string) ([]transport.Port, error) {
	details, err := t.list()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}

	ports := make([]transport.Port, 0, len(details))
	for _, d := range details {
		if t.config.USBOnly && !d.IsUSB {
			continue
		}
		name := d.Product
		if name == "" {
			name = filepath.Base(d.Name)
		}
		ports = append(ports, transport.Port{
			ID:           prefix + d.Name,
			Name:         name,
			Manufacturer: t.config.manufacturer(d.VID),
			State:        transport.PortConnected,
			Version:      d.SerialNumber,
		})
	}
	return ports, nil
}

// Open implements transport.Transport. The serial device is opened with
// the first of its two ports.
func (t *Transport) Open(port transport.Port) error {
	path, input, err := splitID(port.ID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.handles[path]
	if h == nil {
		conn, err := t.openConn(path, &serial.Mode{
			BaudRate: t.config.BaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return fmt.Errorf("failed to open serial port %s: %w", path, err)
		}
		if err := conn.SetReadTimeout(t.config.ReadTimeout); err != nil {
			_ = conn.Close()
			return fmt.Errorf("failed to set read timeout on %s: %w", path, err)
		}

		h = &handle{path: path, conn: conn, done: make(chan struct{})}
		t.handles[path] = h
		go t.read(h)

		t.config.Logger.Debug().Str("path", path).Msg("serial port opened")
	}

	if input {
		h.input = true
	} else {
		h.output = true
	}
	return nil
}

// Close implements transport.Transport. The serial device is closed with
// the last of its two ports.
func (t *Transport) Close(port transport.Port) error {
	path, input, err := splitID(port.ID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	h := t.handles[path]
	if h == nil {
		t.mu.Unlock()
		return nil
	}
	if input {
		h.input = false
		t.dispatcher.Drop(port.ID)
	} else {
		h.output = false
	}
	if h.input || h.output {
		t.mu.Unlock()
		return nil
	}
	delete(t.handles, path)
	t.mu.Unlock()

	err = h.conn.Close()
	<-h.done

	t.config.Logger.Debug().Str("path", path).Msg("serial port closed")
	if err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// Send implements transport.Transport.
func (t *Transport) Send(port transport.Port, frame protocol.Frame) error {
	path, input, err := splitID(port.ID)
	if err != nil {
		return err
	}
	if input {
		return fmt.Errorf("send to input %s: %w", port.ID, transport.ErrPortNotConnected)
	}

	t.mu.Lock()
	h := t.handles[path]
	t.mu.Unlock()
	if h == nil || !h.output {
		return fmt.Errorf("send to %s: %w", port.ID, transport.ErrPortNotConnected)
	}

	if _, err := h.conn.Write(frame[:]); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Subscribe implements transport.Transport.
func (t *Transport) Subscribe(port transport.Port, handler transport.Handler) (transport.Handle, error) {
	if !strings.HasPrefix(port.ID, inputPrefix) {
		return 0, fmt.Errorf("subscribe %s: %w", port.ID, transport.ErrUnknownPort)
	}
	return t.dispatcher.Subscribe(port.ID, handler)
}

// Unsubscribe implements transport.Transport.
func (t *Transport) Unsubscribe(port transport.Port, h transport.Handle) error {
	t.dispatcher.Unsubscribe(port.ID, h)
	return nil
}

// read delivers frames from the serial handle until it is closed.
func (t *Transport) read(h *handle) {
	defer close(h.done)

	inputID := inputPrefix + h.path
	var framer transport.Framer
	buf := make([]byte, 64)

	for {
		n, err := h.conn.Read(buf)
		if n > 0 {
			framer.Feed(buf[:n], func(f protocol.Frame) {
				t.dispatcher.Dispatch(inputID, f)
			})
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.config.Logger.Debug().Err(err).Str("path", h.path).Msg("serial read stopped")
			}
			return
		}
		if n == 0 && t.closed(h) {
			return
		}
	}
}

func (t *Transport) closed(h *handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handles[h.path] != h
}

func splitID(id string) (path string, input bool, err error) {
	switch {
	case strings.HasPrefix(id, inputPrefix):
		return strings.TrimPrefix(id, inputPrefix), true, nil
	case strings.HasPrefix(id, outputPrefix):
		return strings.TrimPrefix(id, outputPrefix), false, nil
	default:
		return "", false, fmt.Errorf("port %q: %w", id, transport.ErrUnknownPort)
	}
}

