package protocol

// FrameSize is the number of transport bytes carrying one logical message.
const FrameSize = 3

// SyncBit is set on the first byte of every frame so receivers can
// resynchronize on a byte stream. The two trailing bytes never carry it.
const SyncBit = 0x80

// Value limits accepted by Encode.
const (
	// MaxCommand is the largest command code that fits the 4 high bits
	// of the 20-bit payload (plus one overflow value the device ignores).
	MaxCommand = 16

	// MaxByte is the largest value accepted for either payload byte.
	MaxByte = 255
)

// Command is a device command code.
type Command byte

// Command codes understood by the device firmware.
const (
	// CmdSync asks the device to echo the two payload bytes back.
	CmdSync Command = 0x0A

	// CmdEnterBootloader reboots the device into bootloader mode.
	CmdEnterBootloader Command = 0x0B

	// CmdStartFirmware resets the bootloader write pointer to ProgramAddress.
	CmdStartFirmware Command = 0x0C

	// CmdData carries two bytes: firmware data towards the device, UUID
	// characters from the device.
	CmdData Command = 0x0D

	// CmdExitBootloader leaves bootloader mode and starts the application.
	CmdExitBootloader Command = 0x0E

	// CmdReadUUID asks a running application to report its UUID as a
	// sequence of CmdData frames.
	CmdReadUUID Command = 0x0F
)

// Firmware layout.
const (
	// PageSize is the flash page size; firmware images are padded to a
	// multiple of it before transfer.
	PageSize = 128

	// ProgramAddress is where the bootloader starts writing.
	ProgramAddress = 0

	// MaxProgramSize is the application flash left by the bootloader
	// (32 KiB flash, 4 KiB bootloader section).
	MaxProgramSize = 28 * 1024
)

// String returns the command name.
func (c Command) String() string {
	switch c {
	case CmdSync:
		return "Sync"
	case CmdEnterBootloader:
		return "EnterBootloader"
	case CmdStartFirmware:
		return "StartFirmware"
	case CmdData:
		return "Data"
	case CmdExitBootloader:
		return "ExitBootloader"
	case CmdReadUUID:
		return "ReadUUID"
	default:
		return "Unknown"
	}
}
