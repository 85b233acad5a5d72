package link

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moffa90/go-qbmidi/transport"
)

const (
	// UUIDLength is the length of a device identity.
	UUIDLength = 16

	// Wildcard replaces identity characters that were not received.
	Wildcard = '*'

	// RunningPrefix marks the identity of a device running a compatible
	// program.
	RunningPrefix = "QB0"
)

// UnknownUUID is the identity of a link that has not reported one.
var UnknownUUID = strings.Repeat(string(Wildcard), UUIDLength)

var runtimeIDs atomic.Uint64

// Method records which discovery technique produced a link.
type Method string

const (
	MethodEcho         Method = "message-echo"
	MethodNaiveSingle  Method = "naive-single-device"
	MethodNaiveVersion Method = "naive-by-version"
)

// Mode is the last observed device mode.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeRunning
	ModeBootloader
)

func (m Mode) String() string {
	switch m {
	case ModeRunning:
		return "running"
	case ModeBootloader:
		return "bootloader"
	default:
		return "unknown"
	}
}

// State is the operation a link is busy with. A link runs at most one
// operation at a time.
type State int

const (
	StateIdle State = iota
	StateDiscovering
	StateIdentifying
	StateUploading
	StateEnteringBootloader
	StateExitingBootloader
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscovering:
		return "discovering"
	case StateIdentifying:
		return "identifying"
	case StateUploading:
		return "uploading"
	case StateEnteringBootloader:
		return "entering-bootloader"
	case StateExitingBootloader:
		return "exiting-bootloader"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PairKey identifies a link by its port ids.
type PairKey struct {
	Input  string
	Output string
}

// Link is a paired input and output port believed to reach one device.
// A Link is mutated in place for its whole life so references held by
// callers stay valid.
type Link struct {
	mu        sync.RWMutex
	runtimeID uint64
	input     transport.Port
	output    transport.Port
	method    Method
	uuid      string
	mode      Mode
	state     State
	created   time.Time
	updated   time.Time
}

// New returns a link with a fresh runtime id and an unknown identity.
func New(input, output transport.Port, method Method) *Link {
	return &Link{
		runtimeID: runtimeIDs.Add(1),
		input:     input,
		output:    output,
		method:    method,
		uuid:      UnknownUUID,
		created:   time.Now(),
	}
}

// RuntimeID is unique within the process and never reused.
func (l *Link) RuntimeID() uint64 {
	return l.runtimeID
}

// Input returns the input port.
func (l *Link) Input() transport.Port {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.input
}

// Output returns the output port.
func (l *Link) Output() transport.Port {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.output
}

// Ports returns both ports.
func (l *Link) Ports() (input, output transport.Port) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.input, l.output
}

// Key returns the port pair identifying the link.
func (l *Link) Key() PairKey {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return PairKey{Input: l.input.ID, Output: l.output.ID}
}

// SetPorts replaces the ports after the device re-enumerated.
func (l *Link) SetPorts(input, output transport.Port) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.input = input
	l.output = output
}

// Method returns the discovery technique that produced the link.
func (l *Link) Method() Method {
	return l.method
}

// UUID returns the identity, UnknownUUID until identified.
func (l *Link) UUID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.uuid
}

// Mode returns the last observed mode.
func (l *Link) Mode() Mode {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.mode
}

// Bootloader reports whether the device was last seen in bootloader mode.
func (l *Link) Bootloader() bool {
	return l.Mode() == ModeBootloader
}

// MIDI reports whether the link can be driven: always in bootloader mode,
// otherwise only when the identity carries RunningPrefix.
func (l *Link) MIDI() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return midi(l.mode == ModeBootloader, l.uuid)
}

func midi(bootloader bool, uuid string) bool {
	return bootloader || strings.HasPrefix(uuid, RunningPrefix)
}

// SetIdentity records the result of an identification.
func (l *Link) SetIdentity(uuid string, bootloader bool, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.uuid = uuid
	l.mode = ModeRunning
	if bootloader {
		l.mode = ModeBootloader
	}
	l.updated = at
}

// SetMode records an observed mode without touching the identity.
func (l *Link) SetMode(mode Mode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mode = mode
}

// State returns the current operation.
func (l *Link) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Busy reports whether an operation is running on the link.
func (l *Link) Busy() bool {
	return l.State() != StateIdle
}

// TryBegin moves an idle link into s. It returns false when another
// operation is running.
func (l *Link) TryBegin(s State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateIdle {
		return false
	}
	l.state = s
	return true
}

// End returns the link to StateIdle.
func (l *Link) End() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateIdle
}

// Created returns when the link was discovered.
func (l *Link) Created() time.Time {
	return l.created
}

// Updated returns when the link was last identified.
func (l *Link) Updated() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.updated
}

// Info is a read-only view of a link.
type Info struct {
	RuntimeID  uint64    `json:"runtimeId"`
	Input      string    `json:"input"`
	Output     string    `json:"output"`
	Method     Method    `json:"method"`
	UUID       string    `json:"uuid"`
	Bootloader bool      `json:"bootloader"`
	MIDI       bool      `json:"midi"`
	State      string    `json:"state"`
	Created    time.Time `json:"created"`
	Updated    time.Time `json:"updated"`
}

// Info returns a consistent view of the link.
func (l *Link) Info() Info {
	l.mu.RLock()
	defer l.mu.RUnlock()

	bootloader := l.mode == ModeBootloader
	return Info{
		RuntimeID:  l.runtimeID,
		Input:      l.input.ID,
		Output:     l.output.ID,
		Method:     l.method,
		UUID:       l.uuid,
		Bootloader: bootloader,
		MIDI:       midi(bootloader, l.uuid),
		State:      l.state.String(),
		Created:    l.created,
		Updated:    l.updated,
	}
}

// String returns a short description for logs.
func (l *Link) String() string {
	i := l.Info()
	return fmt.Sprintf("link %d [%s -> %s] %s", i.RuntimeID, i.Input, i.Output, i.UUID)
}

// FilterRunningProgram returns the links running a compatible program.
func FilterRunningProgram(links []*Link) []*Link {
	out := make([]*Link, 0, len(links))
	for _, l := range links {
		if !l.Bootloader() && strings.HasPrefix(l.UUID(), RunningPrefix) {
			out = append(out, l)
		}
	}
	return out
}

// FilterBootloader returns the links last seen in bootloader mode.
func FilterBootloader(links []*Link) []*Link {
	out := make([]*Link, 0, len(links))
	for _, l := range links {
		if l.Bootloader() {
			out = append(out, l)
		}
	}
	return out
}
