package simulator

import "time"

// Config holds simulator settings.
type Config struct {
	Name         string
	Manufacturer string

	// DropRate is the probability (0-1) that a reply frame is lost.
	DropRate float64

	// ReenumerateDelay is how long a device stays absent after a mode
	// change. Zero re-enumerates immediately.
	ReenumerateDelay time.Duration

	// Seed seeds the drop decisions.
	Seed int64
}

// Option configures a Simulator.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		Name:         DefaultName,
		Manufacturer: DefaultName,
		Seed:         1,
	}
}

// WithName sets the port name and manufacturer reported for devices.
func WithName(name, manufacturer string) Option {
	return func(c *Config) {
		c.Name = name
		c.Manufacturer = manufacturer
	}
}

// WithDropRate sets the probability of losing a reply frame.
//
// Example:
//
//	sim := simulator.New(simulator.WithDropRate(0.2))
func WithDropRate(rate float64) Option {
	return func(c *Config) {
		c.DropRate = rate
	}
}

// WithReenumerateDelay keeps a device absent for d after each mode change.
func WithReenumerateDelay(d time.Duration) Option {
	return func(c *Config) {
		c.ReenumerateDelay = d
	}
}

// WithSeed seeds the random source used for dropped frames.
func WithSeed(seed int64) Option {
	return func(c *Config) {
		c.Seed = seed
	}
}
