// Package bootloader drives devices between running and bootloader mode
// and uploads firmware to them.
//
// # Overview
//
// This package orchestrates the mode transitions and the upload sequence:
//   - Entering bootloader mode (always commanded)
//   - Waiting for the device to re-enumerate and following its new ports
//   - Streaming the padded firmware image two bytes per Data frame
//   - Exiting bootloader mode and re-identifying the link
//
// # Basic Usage
//
// The simplest way to program a link found by discovery:
//
//	id := link.NewIdentifier(tr)
//	prog := bootloader.New(tr, id)
//
//	hex, err := os.ReadFile("firmware.hex")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := prog.Upload(context.Background(), l, string(hex)); err != nil {
//	    log.Fatal(err)
//	}
//
// # Mode Transitions
//
// A device re-enumerates under new port ids when it changes mode. After
// sending EnterBootloader or ExitBootloader the programmer closes the link
// ports, waits for them to disappear and for new ports to appear, then
// reopens and records the new ports on the link. When a wait runs out the
// old ports are used again. The resulting mode is then confirmed by
// voting over bootloader samples:
//
//	if err := prog.EnterBootloader(ctx, l); err != nil {
//	    var confErr *bootloader.ConfirmationError
//	    if errors.As(err, &confErr) {
//	        // device stayed in confErr.Observed mode
//	    }
//	}
//
// Exiting is skipped when the device already reports running mode, and
// waits a settle delay before confirming so the boot animation does not
// read as bootloader mode.
//
// # Progress Tracking
//
// Track upload progress with a callback:
//
//	prog := bootloader.New(tr, id,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("[%s] %.1f%% %d/%d bytes\n",
//	            p.Phase, p.Percentage, p.BytesWritten, p.TotalBytes)
//	    }),
//	)
//
// # Configuration Options
//
// Customize behavior with functional options:
//
//	prog := bootloader.New(tr, id,
//	    bootloader.WithLogger(log),
//	    bootloader.WithReconnect(40, 250*time.Millisecond),
//	    bootloader.WithSettleDelay(3*time.Second),
//	    bootloader.WithRetries(10, time.Second),
//	    bootloader.WithPacing(1000, 100*time.Millisecond),
//	)
//
// # Error Handling
//
// The package provides structured error types:
//   - ConfirmationError: the device reports another mode than requested
//     (matches ErrConfirmationFailed)
//   - ConnectionError: a re-enumeration wait ran out (matches
//     ErrConnectionNeverAppeared or ErrConnectionNeverDisappeared); only
//     logged by the programmer, which falls back to the old ports
//   - TransferError: every transfer attempt failed
//
// ErrLinkBusy is returned when another operation runs on the link.
package bootloader
