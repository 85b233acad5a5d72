package bootloader

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/moffa90/go-qbmidi/transport"
)

// Config holds the programmer configuration.
type Config struct {
	// ProgressCallback is called during Upload to report progress (optional)
	ProgressCallback ProgressCallback

	Logger zerolog.Logger

	// Filter selects the ports considered while waiting for a device to
	// re-enumerate.
	Filter transport.Filter

	// ReconnectAttempts bounds each wait for ports to disappear or appear
	ReconnectAttempts int

	// ReconnectDelay is the pause between reconnect checks
	ReconnectDelay time.Duration

	// SettleDelay is waited after leaving bootloader mode before the mode
	// is confirmed, while the device plays its boot animation.
	SettleDelay time.Duration

	// TransferAttempts bounds the firmware transfer retries
	TransferAttempts int

	// TransferBackoff is the pause between transfer attempts
	TransferBackoff time.Duration

	// PaceEvery and PaceDelay pause the transfer for PaceDelay each time
	// the byte count crosses a multiple of PaceEvery. Zero PaceEvery
	// disables pacing.
	PaceEvery int
	PaceDelay time.Duration

	// ConfirmDelay is waited after the last Data frame.
	ConfirmDelay time.Duration
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		Logger:            zerolog.Nop(),
		Filter:            transport.DefaultFilter(),
		ReconnectAttempts: 40,
		ReconnectDelay:    250 * time.Millisecond,
		SettleDelay:       3 * time.Second,
		TransferAttempts:  10,
		TransferBackoff:   time.Second,
		PaceEvery:         1000,
		PaceDelay:         100 * time.Millisecond,
		ConfirmDelay:      30 * time.Millisecond,
	}
}

// Option is a functional option for configuring the Programmer.
type Option func(*Config)

// WithProgressCallback sets a callback function to track upload progress.
//
// Example:
//
//	prog := bootloader.New(tr, id,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("%.1f%% complete\n", p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets the logger for the programmer operations.
//
// Example:
//
//	prog := bootloader.New(tr, id, bootloader.WithLogger(log))
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithFilter sets the port filter used while reconnecting.
func WithFilter(filter transport.Filter) Option {
	return func(c *Config) {
		c.Filter = filter
	}
}

// WithReconnect sets how many times and how often the programmer checks
// for the device to re-enumerate after a mode change.
//
// Example:
//
//	prog := bootloader.New(tr, id, bootloader.WithReconnect(40, 250*time.Millisecond))
func WithReconnect(attempts int, delay time.Duration) Option {
	return func(c *Config) {
		if attempts > 0 {
			c.ReconnectAttempts = attempts
		}
		if delay >= 0 {
			c.ReconnectDelay = delay
		}
	}
}

// WithSettleDelay sets the wait after leaving bootloader mode.
//
// Example:
//
//	prog := bootloader.New(tr, id, bootloader.WithSettleDelay(3*time.Second))
func WithSettleDelay(d time.Duration) Option {
	return func(c *Config) {
		c.SettleDelay = d
	}
}

// WithRetries sets the number of transfer attempts and the pause between
// them.
//
// Example:
//
//	prog := bootloader.New(tr, id, bootloader.WithRetries(10, time.Second))
func WithRetries(attempts int, backoff time.Duration) Option {
	return func(c *Config) {
		if attempts > 0 {
			c.TransferAttempts = attempts
		}
		if backoff >= 0 {
			c.TransferBackoff = backoff
		}
	}
}

// WithPacing pauses the transfer for delay after every n bytes.
//
// Example:
//
//	prog := bootloader.New(tr, id, bootloader.WithPacing(1000, 100*time.Millisecond))
func WithPacing(n int, delay time.Duration) Option {
	return func(c *Config) {
		c.PaceEvery = n
		c.PaceDelay = delay
	}
}

// WithConfirmDelay sets the wait after the last Data frame.
func WithConfirmDelay(d time.Duration) Option {
	return func(c *Config) {
		c.ConfirmDelay = d
	}
}
