package transport

import (
	"errors"
	"sync"

	"github.com/moffa90/go-qbmidi/protocol"
)

// MaxSubscriptions bounds the handlers registered on one port.
const MaxSubscriptions = 64

// ErrTooManySubscriptions is returned when a port's table is full.
var ErrTooManySubscriptions = errors.New("too many subscriptions on port")

// Dispatcher is the per-port registration table shared by transport
// implementations. Handlers are keyed by the Handle returned from
// Subscribe, never by function identity.
type Dispatcher struct {
	mu     sync.RWMutex
	next   Handle
	tables map[string]map[Handle]Handler
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{tables: make(map[string]map[Handle]Handler)}
}

// Subscribe registers handler for frames on portID.
func (d *Dispatcher) Subscribe(portID string, handler Handler) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	table := d.tables[portID]
	if table == nil {
		table = make(map[Handle]Handler)
		d.tables[portID] = table
	}
	if len(table) >= MaxSubscriptions {
		return 0, ErrTooManySubscriptions
	}

	d.next++
	table[d.next] = handler
	return d.next, nil
}

// Unsubscribe removes a handler. It reports whether the handle was found.
func (d *Dispatcher) Unsubscribe(portID string, handle Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	table := d.tables[portID]
	if _, ok := table[handle]; !ok {
		return false
	}
	delete(table, handle)
	if len(table) == 0 {
		delete(d.tables, portID)
	}
	return true
}

// Dispatch delivers a frame to every handler registered on portID.
// Handlers are called without the table lock held, so they may
// unsubscribe themselves.
func (d *Dispatcher) Dispatch(portID string, frame protocol.Frame) {
	d.mu.RLock()
	handlers := make([]Handler, 0, len(d.tables[portID]))
	for _, h := range d.tables[portID] {
		handlers = append(handlers, h)
	}
	d.mu.RUnlock()

	for _, h := range handlers {
		h(frame)
	}
}

// Count returns the number of handlers registered on portID.
func (d *Dispatcher) Count(portID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.tables[portID])
}

// Drop removes every handler registered on portID.
func (d *Dispatcher) Drop(portID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tables, portID)
}
