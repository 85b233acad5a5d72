package bootloader

import (
	"errors"
	"fmt"

	"github.com/moffa90/go-qbmidi/link"
)

var (
	// ErrConfirmationFailed matches ConfirmationError.
	ErrConfirmationFailed = errors.New("confirmation failed")

	// ErrConnectionNeverAppeared matches a ConnectionError raised while
	// waiting for new ports.
	ErrConnectionNeverAppeared = errors.New("connection never appeared")

	// ErrConnectionNeverDisappeared matches a ConnectionError raised while
	// waiting for the old ports to go away.
	ErrConnectionNeverDisappeared = errors.New("connection never disappeared")

	// ErrLinkBusy is returned when another operation runs on the link.
	ErrLinkBusy = errors.New("link is busy")
)

// ConfirmationError indicates that the mode observed after a transition
// is not the requested one.
type ConfirmationError struct {
	RuntimeID uint64
	Requested link.Mode
	Observed  link.Mode
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("link %d confirmation failed: requested %s mode, device reports %s",
		e.RuntimeID, e.Requested, e.Observed)
}

// Is reports whether target is ErrConfirmationFailed.
func (e *ConfirmationError) Is(target error) bool {
	return target == ErrConfirmationFailed
}

// ConnectionError indicates that the bounded wait for a device to
// re-enumerate ran out.
type ConnectionError struct {
	// Port is the port that was expected to disappear. Empty when waiting
	// for new ports.
	Port     string
	Appear   bool
	Attempts int
}

func (e *ConnectionError) Error() string {
	if e.Appear {
		return fmt.Sprintf("connection never appeared after %d attempts", e.Attempts)
	}
	return fmt.Sprintf("port %s never disappeared after %d attempts", e.Port, e.Attempts)
}

// Is matches ErrConnectionNeverAppeared or ErrConnectionNeverDisappeared.
func (e *ConnectionError) Is(target error) bool {
	if e.Appear {
		return target == ErrConnectionNeverAppeared
	}
	return target == ErrConnectionNeverDisappeared
}

// TransferError indicates that every firmware transfer attempt failed.
type TransferError struct {
	Attempts int
	Err      error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("firmware transfer failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
