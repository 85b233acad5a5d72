package lock

import (
	"time"

	"github.com/rs/zerolog"
)

// DefaultKey is the store key holding the lock record.
const DefaultKey = "qbmidi:lock"

// Config holds Mutex settings.
type Config struct {
	Key         string
	StaleAfter  time.Duration
	VerifyDelay time.Duration
	Attempts    int
	RetryDelay  time.Duration
	Now         func() time.Time
	Logger      zerolog.Logger
}

func defaultConfig() *Config {
	return &Config{
		Key:         DefaultKey,
		StaleAfter:  45 * time.Second,
		VerifyDelay: 10 * time.Millisecond,
		Attempts:    225,
		RetryDelay:  200 * time.Millisecond,
		Now:         time.Now,
		Logger:      zerolog.Nop(),
	}
}

// Option configures a Mutex.
type Option func(*Config)

// WithKey sets the store key of the lock record.
func WithKey(key string) Option {
	return func(c *Config) {
		c.Key = key
	}
}

// WithStaleAfter sets the age after which a held lock is considered
// abandoned and may be taken by another owner.
func WithStaleAfter(d time.Duration) Option {
	return func(c *Config) {
		c.StaleAfter = d
	}
}

// WithVerifyDelay sets the pause between writing the record and reading
// it back.
func WithVerifyDelay(d time.Duration) Option {
	return func(c *Config) {
		c.VerifyDelay = d
	}
}

// WithRetry sets how many times Lock tries and the delay between tries.
//
// Example:
//
//	m := lock.New(st, owner, lock.WithRetry(10, 50*time.Millisecond))
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Config) {
		c.Attempts = attempts
		c.RetryDelay = delay
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		c.Now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}
