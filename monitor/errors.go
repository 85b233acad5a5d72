package monitor

import (
	"errors"

	"github.com/moffa90/go-qbmidi/queue"
)

var (
	// ErrNotMidiEnabled is returned for links that cannot take commands.
	ErrNotMidiEnabled = errors.New("link is not midi enabled")

	// ErrNotRunning is returned by requests made before Init or after
	// Destroy.
	ErrNotRunning = errors.New("monitor is not running")

	// ErrLinkRemoved completes requests whose link left the roster before
	// they were handled.
	ErrLinkRemoved = errors.New("link removed")

	// ErrAlreadyInProgress is returned when the link already has a request
	// of the same kind queued.
	ErrAlreadyInProgress = queue.ErrAlreadyInProgress

	// ErrRequestTimeout is returned when a request was not handled in time.
	ErrRequestTimeout = queue.ErrRequestTimeout
)
