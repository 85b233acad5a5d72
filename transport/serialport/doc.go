// Package serialport implements transport.Transport over USB CDC serial
// devices using go.bug.st/serial.
//
// Each enumerated device at path P appears as input port "in:P" and
// output port "out:P". Both share one serial handle, opened with the first
// port and closed with the last. A reader goroutine per handle reassembles
// frames from the byte stream and dispatches them to subscribers of the
// input port. The USB serial number is reported as the port version so the
// naive pairing can group the two ports of one device.
package serialport
