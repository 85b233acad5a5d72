// Package transport defines the contract between the link logic and the
// physical ports, and the helpers shared by transport implementations.
//
// A Transport enumerates input and output ports, opens and closes them,
// sends encoded frames to outputs and delivers received frames from inputs
// to subscribed handlers. Receiving is event driven: there is no
// request/response call, callers subscribe, send and listen for a window.
//
// Implementations live in subpackages:
//   - serialport: USB CDC serial devices via go.bug.st/serial
//   - simulator: in-process simulated devices for tests and demos
package transport
