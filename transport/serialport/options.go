package serialport

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds serial transport settings.
type Config struct {
	// BaudRate is ignored by USB CDC devices but required by the driver.
	BaudRate int

	// ReadTimeout bounds each blocking read of the reader goroutine.
	ReadTimeout time.Duration

	// USBOnly skips serial devices that are not USB.
	USBOnly bool

	// Vendors maps upper-case USB vendor ids to manufacturer names.
	Vendors map[string]string

	Logger zerolog.Logger

	List ListFunc
	Open OpenFunc
}

// Option configures a Transport.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		BaudRate:    115200,
		ReadTimeout: 50 * time.Millisecond,
		USBOnly:     true,
		Vendors: map[string]string{
			"F055": "Quirkbot",
			"2341": "Arduino",
		},
		Logger: zerolog.Nop(),
	}
}

func (c *Config) manufacturer(vid string) string {
	if name, ok := c.Vendors[strings.ToUpper(vid)]; ok {
		return name
	}
	return vid
}

// WithBaudRate sets the serial baud rate.
func WithBaudRate(rate int) Option {
	return func(c *Config) {
		c.BaudRate = rate
	}
}

// WithReadTimeout sets the per-read timeout of the reader goroutine.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ReadTimeout = d
	}
}

// WithAllPorts includes serial devices that are not USB.
func WithAllPorts() Option {
	return func(c *Config) {
		c.USBOnly = false
	}
}

// WithVendor maps a USB vendor id to the manufacturer name reported on
// its ports.
//
// Example:
//
//	tr := serialport.New(serialport.WithVendor("1209", "Quirkbot"))
func WithVendor(vid, name string) Option {
	return func(c *Config) {
		c.Vendors[strings.ToUpper(vid)] = name
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithEnumerator replaces the port enumeration.
func WithEnumerator(list ListFunc) Option {
	return func(c *Config) {
		c.List = list
	}
}

// WithOpener replaces how serial devices are opened.
func WithOpener(open OpenFunc) Option {
	return func(c *Config) {
		c.Open = open
	}
}
