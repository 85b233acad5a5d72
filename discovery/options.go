package discovery

import (
	"github.com/rs/zerolog"

	"github.com/moffa90/go-qbmidi/transport"
)

// Config holds discovery settings.
type Config struct {
	// Filter selects the ports of supported devices.
	Filter transport.Filter

	Logger zerolog.Logger
}

// Option configures a Finder.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		Filter: transport.DefaultFilter(),
		Logger: zerolog.Nop(),
	}
}

// WithFilter sets the port filter.
//
// Example:
//
//	f := discovery.New(tr, id, discovery.WithFilter(transport.Filter{Match: []string{"Quirkbot", "Arduino"}}))
func WithFilter(filter transport.Filter) Option {
	return func(c *Config) {
		c.Filter = filter
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}
