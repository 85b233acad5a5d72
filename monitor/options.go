package monitor

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/moffa90/go-qbmidi/bootloader"
	"github.com/moffa90/go-qbmidi/internal/telemetry"
	"github.com/moffa90/go-qbmidi/link"
	"github.com/moffa90/go-qbmidi/lock"
	"github.com/moffa90/go-qbmidi/queue"
	"github.com/moffa90/go-qbmidi/transport"
)

// DefaultRosterKey is the store key of the shared roster snapshot.
const DefaultRosterKey = "qbmidi:roster"

// Config holds Monitor settings.
type Config struct {
	// Interval is the pause between two completed cycles.
	Interval time.Duration

	// RetryDelay and RetryJitter set the pause after a skipped cycle:
	// RetryDelay plus a random share of RetryJitter.
	RetryDelay  time.Duration
	RetryJitter time.Duration

	// RequestTimeout bounds how long a caller waits for its request.
	RequestTimeout time.Duration

	// RosterKey is the store key of the shared roster.
	RosterKey string

	// Owner is the lock owner id. Defaults to a random UUID.
	Owner string

	// Active reports whether this context should do work. Cycles are
	// skipped while it returns false.
	Active func() bool

	Filter    transport.Filter
	Logger    zerolog.Logger
	Telemetry *telemetry.Telemetry

	IdentifyOptions   []link.IdentifyOption
	BootloaderOptions []bootloader.Option
	LockOptions       []lock.Option
}

func defaultConfig() *Config {
	return &Config{
		Interval:       time.Second,
		RetryDelay:     200 * time.Millisecond,
		RetryJitter:    100 * time.Millisecond,
		RequestTimeout: queue.DefaultTimeout,
		RosterKey:      DefaultRosterKey,
		Active:         func() bool { return true },
		Filter:         transport.DefaultFilter(),
		Logger:         zerolog.Nop(),
	}
}

// Option configures a Monitor.
type Option func(*Config)

// WithInterval sets the pause between cycles.
func WithInterval(d time.Duration) Option {
	return func(c *Config) {
		c.Interval = d
	}
}

// WithRetry sets the pause after a skipped cycle.
func WithRetry(delay, jitter time.Duration) Option {
	return func(c *Config) {
		c.RetryDelay = delay
		c.RetryJitter = jitter
	}
}

// WithRequestTimeout sets how long request calls wait.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.RequestTimeout = d
	}
}

// WithRosterKey sets the store key of the shared roster.
func WithRosterKey(key string) Option {
	return func(c *Config) {
		c.RosterKey = key
	}
}

// WithOwner sets the lock owner id.
func WithOwner(owner string) Option {
	return func(c *Config) {
		c.Owner = owner
	}
}

// WithActiveFunc sets the function deciding whether cycles run.
//
// Example:
//
//	var paused atomic.Bool
//	m := monitor.New(tr, st, monitor.WithActiveFunc(func() bool { return !paused.Load() }))
func WithActiveFunc(fn func() bool) Option {
	return func(c *Config) {
		if fn != nil {
			c.Active = fn
		}
	}
}

// WithFilter sets the port filter used by discovery and reconnection.
func WithFilter(filter transport.Filter) Option {
	return func(c *Config) {
		c.Filter = filter
	}
}

// WithLogger sets the logger. It is handed to every component.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithTelemetry sets the counters and tracer.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(c *Config) {
		c.Telemetry = t
	}
}

// WithIdentifyOptions passes options to the link identifier.
func WithIdentifyOptions(opts ...link.IdentifyOption) Option {
	return func(c *Config) {
		c.IdentifyOptions = append(c.IdentifyOptions, opts...)
	}
}

// WithBootloaderOptions passes options to the programmer.
func WithBootloaderOptions(opts ...bootloader.Option) Option {
	return func(c *Config) {
		c.BootloaderOptions = append(c.BootloaderOptions, opts...)
	}
}

// WithLockOptions passes options to the shared lock.
func WithLockOptions(opts ...lock.Option) Option {
	return func(c *Config) {
		c.LockOptions = append(c.LockOptions, opts...)
	}
}
