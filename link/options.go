package link

import (
	"time"

	"github.com/rs/zerolog"
)

// IdentifyConfig holds identification settings.
type IdentifyConfig struct {
	// UUIDSamples is the number of ReadUUID exchanges voted over.
	UUIDSamples int

	// StatusSamples is the number of bootloader samples voted over.
	StatusSamples int

	// ListenWindow is how long replies to ReadUUID are collected.
	ListenWindow time.Duration

	// EchoWindow is how long an echo is awaited.
	EchoWindow time.Duration

	// RefreshInterval throttles Refresh per link.
	RefreshInterval time.Duration

	Logger zerolog.Logger
}

// IdentifyOption configures an Identifier.
type IdentifyOption func(*IdentifyConfig)

func defaultIdentifyConfig() *IdentifyConfig {
	return &IdentifyConfig{
		UUIDSamples:     100,
		StatusSamples:   20,
		ListenWindow:    10 * time.Millisecond,
		EchoWindow:      30 * time.Millisecond,
		RefreshInterval: 5 * time.Second,
		Logger:          zerolog.Nop(),
	}
}

// WithSamples sets how many UUID and bootloader samples are voted over.
//
// Example:
//
//	id := link.NewIdentifier(tr, link.WithSamples(50, 10))
func WithSamples(uuid, status int) IdentifyOption {
	return func(c *IdentifyConfig) {
		c.UUIDSamples = uuid
		c.StatusSamples = status
	}
}

// WithListenWindow sets how long replies to each ReadUUID are collected.
func WithListenWindow(d time.Duration) IdentifyOption {
	return func(c *IdentifyConfig) {
		c.ListenWindow = d
	}
}

// WithEchoWindow sets how long an echo is awaited.
func WithEchoWindow(d time.Duration) IdentifyOption {
	return func(c *IdentifyConfig) {
		c.EchoWindow = d
	}
}

// WithRefreshInterval sets the minimum time between identifications of
// the same link.
func WithRefreshInterval(d time.Duration) IdentifyOption {
	return func(c *IdentifyConfig) {
		c.RefreshInterval = d
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) IdentifyOption {
	return func(c *IdentifyConfig) {
		c.Logger = l
	}
}
