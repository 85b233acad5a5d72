package bootloader

import "time"

// Upload phases reported through Progress.Phase.
const (
	PhaseEntering    = "entering"
	PhaseProgramming = "programming"
	PhaseExiting     = "exiting"
	PhaseIdentifying = "identifying"
	PhaseComplete    = "complete"
)

// Progress contains information about the upload progress.
// Passed to ProgressCallback during Upload.
type Progress struct {
	// Phase is one of the Phase constants.
	Phase string

	// Attempt is the transfer attempt, starting at 1. Zero outside the
	// programming phase.
	Attempt int

	// BytesWritten is the number of firmware bytes sent in this attempt
	BytesWritten int

	// TotalBytes is the padded firmware size
	TotalBytes int

	// Percentage is the completion percentage (0.0 to 100.0)
	Percentage float64

	// ElapsedTime is the time elapsed since the upload started
	ElapsedTime time.Duration
}

// ProgressCallback is called during Upload to report progress.
// Implementations should return quickly to avoid stalling the transfer.
//
// Example:
//
//	prog := bootloader.New(tr, id,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("[%s] %.1f%% %d/%d bytes\n",
//	            p.Phase, p.Percentage, p.BytesWritten, p.TotalBytes)
//	    }),
//	)
type ProgressCallback func(Progress)
