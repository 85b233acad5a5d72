package serialport

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/moffa90/go-qbmidi/protocol"
	"github.com/moffa90/go-qbmidi/transport"
)

// loopbackConn writes back everything it receives.
type loopbackConn struct {
	mu      sync.Mutex
	rx      chan []byte
	written []byte
	closed  chan struct{}
	once    sync.Once
	timeout time.Duration
}

func newLoopback() *loopbackConn {
	return &loopbackConn{rx: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *loopbackConn) Read(p []byte) (int, error) {
	select {
	case b := <-c.rx:
		return copy(p, b), nil
	case <-c.closed:
		return 0, io.EOF
	case <-time.After(c.timeout):
		return 0, nil
	}
}

func (c *loopbackConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	c.written = append(c.written, p...)
	c.mu.Unlock()
	c.rx <- append([]byte(nil), p...)
	return len(p), nil
}

func (c *loopbackConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *loopbackConn) SetReadTimeout(t time.Duration) error {
	c.timeout = t
	return nil
}

func fakeList() ([]*enumerator.PortDetails, error) {
	return []*enumerator.PortDetails{
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "f055", Product: "Quirkbot", SerialNumber: "A1"},
		{Name: "/dev/ttyS0", IsUSB: false},
	}, nil
}

func newTestTransport(t *testing.T) (*Transport, *loopbackConn, *int) {
	t.Helper()
	conn := newLoopback()
	opens := 0
	tr := New(
		WithEnumerator(fakeList),
		WithReadTimeout(5*time.Millisecond),
		WithOpener(func(path string, mode *serial.Mode) (Conn, error) {
			if path != "/dev/ttyACM0" {
				return nil, errors.New("no such device")
			}
			assert.Equal(t, 115200, mode.BaudRate)
			opens++
			return conn, nil
		}),
	)
	return tr, conn, &opens
}

func TestPorts(t *testing.T) {
	tr, _, _ := newTestTransport(t)

	inputs, err := tr.Inputs()
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, transport.Port{
		ID:           "in:/dev/ttyACM0",
		Name:         "Quirkbot",
		Manufacturer: "Quirkbot",
		State:        transport.PortConnected,
		Version:      "A1",
	}, inputs[0])

	outputs, err := tr.Outputs()
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, "out:/dev/ttyACM0", outputs[0].ID)

	all := New(WithEnumerator(fakeList), WithAllPorts())
	inputs, err = all.Inputs()
	require.NoError(t, err)
	assert.Len(t, inputs, 2)
	assert.Equal(t, "ttyS0", inputs[1].Name)
}

func TestSendReceive(t *testing.T) {
	tr, conn, opens := newTestTransport(t)
	inputs, _ := tr.Inputs()
	outputs, _ := tr.Outputs()
	in, out := inputs[0], outputs[0]

	require.NoError(t, tr.Open(in))
	require.NoError(t, tr.Open(out))
	assert.Equal(t, 1, *opens, "one handle per device")

	got := make(chan protocol.Frame, 1)
	_, err := tr.Subscribe(in, func(f protocol.Frame) { got <- f })
	require.NoError(t, err)

	require.NoError(t, transport.SendMessage(tr, out, protocol.CmdSync, 0x12, 0x34))

	select {
	case f := <-got:
		assert.Equal(t, protocol.Frame{0xA8, 0x24, 0x34}, f)
	case <-time.After(time.Second):
		t.Fatal("no frame received")
	}

	require.NoError(t, tr.Close(in))
	require.NoError(t, tr.Close(out))

	select {
	case <-conn.closed:
	default:
		t.Fatal("serial handle not closed")
	}
}

func TestSendErrors(t *testing.T) {
	tr, _, _ := newTestTransport(t)
	inputs, _ := tr.Inputs()
	outputs, _ := tr.Outputs()

	err := tr.Send(outputs[0], protocol.Frame{})
	assert.True(t, errors.Is(err, transport.ErrPortNotConnected))

	require.NoError(t, tr.Open(inputs[0]))
	err = tr.Send(inputs[0], protocol.Frame{})
	assert.True(t, errors.Is(err, transport.ErrPortNotConnected))

	err = tr.Open(transport.Port{ID: "bogus"})
	assert.True(t, errors.Is(err, transport.ErrUnknownPort))

	err = tr.Open(transport.Port{ID: "in:/dev/missing"})
	assert.Error(t, err)

	require.NoError(t, tr.Close(inputs[0]))
}
