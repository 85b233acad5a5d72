// Package simulator provides an in-process transport populated with
// simulated devices.
//
// A simulated device exposes one input and one output port. While running
// it echoes Sync frames and answers ReadUUID with eight Data frames. It
// enters and leaves bootloader mode on command, re-enumerating under new
// port ids each time, and records the bytes streamed after StartFirmware.
// Reply frames can be dropped at random to exercise the voting logic.
//
// Example:
//
//	sim := simulator.New()
//	id := sim.Plug(simulator.Device{UUID: "QB0123456789ABCD", Version: "1"})
//	info, _ := sim.Device(id)
//	fmt.Println(info.Input.ID, info.Output.ID)
package simulator
