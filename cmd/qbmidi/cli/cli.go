// Package cli holds the qbmidi commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/alecthomas/kong"
	"go.opentelemetry.io/otel"

	"github.com/moffa90/go-qbmidi/bootloader"
	"github.com/moffa90/go-qbmidi/internal/config"
	"github.com/moffa90/go-qbmidi/internal/logger"
	"github.com/moffa90/go-qbmidi/internal/telemetry"
	"github.com/moffa90/go-qbmidi/link"
	"github.com/moffa90/go-qbmidi/lock"
	"github.com/moffa90/go-qbmidi/monitor"
	"github.com/moffa90/go-qbmidi/transport"
)

// CLI is the root command structure for qbmidi.
type CLI struct {
	LogLevel  string   `name:"log-level" help:"Log level (trace, debug, info, warn, error)." default:"${log_level}"`
	LogFormat string   `name:"log-format" help:"Log format (console, json)." default:"${log_format}" enum:"console,json"`
	Transport string   `name:"transport" short:"t" help:"Port backend." default:"${transport}" enum:"serial,simulator"`
	Match     []string `name:"match" help:"Port name or manufacturer substrings to accept." default:"${match}"`
	Store     string   `name:"store" short:"s" help:"Shared state backend." default:"${store}" enum:"memory,redis,sqlite"`
	Simulate  int      `name:"simulate" help:"Number of simulated devices when --transport=simulator." default:"1"`

	Monitor         MonitorCmd         `cmd:"" help:"Run the monitor loop until interrupted."`
	List            ListCmd            `cmd:"" help:"List discovered links."`
	Upload          UploadCmd          `cmd:"" help:"Upload an Intel HEX firmware image to a link."`
	EnterBootloader EnterBootloaderCmd `cmd:"" name:"enter-bootloader" help:"Switch a link to bootloader mode."`
	ExitBootloader  ExitBootloaderCmd  `cmd:"" name:"exit-bootloader" help:"Switch a link back to its program."`

	config *config.ServiceConfig
	out    io.Writer
}

// New returns a CLI whose defaults come from cfg.
func New(cfg *config.ServiceConfig) *CLI {
	return &CLI{config: cfg, out: os.Stdout}
}

// KongOptions returns the Kong configuration options for the CLI.
func KongOptions(cfg *config.ServiceConfig) []kong.Option {
	match := ""
	for i, m := range cfg.Transport.Match {
		if i > 0 {
			match += ","
		}
		match += m
	}

	return []kong.Option{
		kong.Name("qbmidi"),
		kong.Description("Discover Quirkbot boards and program them."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"log_level":  cfg.Logging.Level,
			"log_format": cfg.Logging.Format,
			"transport":  cfg.Transport.Kind,
			"match":      match,
			"store":      cfg.Store.Backend,
		},
	}
}

// PrintOut writes s to the command output.
func (c *CLI) PrintOut(format string, args ...any) error {
	_, err := fmt.Fprintf(c.out, format, args...)
	return err
}

// Logger creates the logger configured by flags.
func (c *CLI) Logger() logger.Logger {
	return logger.New(c.LogLevel, c.LogFormat)
}

// Runtime wires transport, store and monitor together.
func (c *CLI) Runtime(ctx context.Context) (*Runtime, error) {
	log := c.Logger()
	cfg := c.config

	tel, err := telemetry.New(otel.GetMeterProvider(), otel.GetTracerProvider())
	if err != nil {
		return nil, err
	}

	filter := transport.Filter{Match: c.Match}

	tr, err := c.transport(log)
	if err != nil {
		return nil, err
	}

	st, err := c.openStore(ctx, log)
	if err != nil {
		return nil, err
	}

	m := monitor.New(tr, st,
		monitor.WithLogger(log.Logger),
		monitor.WithTelemetry(tel),
		monitor.WithFilter(filter),
		monitor.WithInterval(cfg.Monitor.Interval),
		monitor.WithRetry(cfg.Monitor.RetryDelay, cfg.Monitor.RetryJitter),
		monitor.WithRequestTimeout(cfg.Monitor.RequestTimeout),
		monitor.WithIdentifyOptions(
			link.WithSamples(cfg.Identify.UUIDSamples, cfg.Identify.StatusSamples),
			link.WithListenWindow(cfg.Identify.ListenWindow),
			link.WithEchoWindow(cfg.Identify.EchoWindow),
			link.WithRefreshInterval(cfg.Monitor.IdentifyInterval),
		),
		monitor.WithBootloaderOptions(
			bootloader.WithReconnect(cfg.Bootloader.ReconnectAttempts, cfg.Bootloader.ReconnectDelay),
			bootloader.WithSettleDelay(cfg.Bootloader.SettleDelay),
			bootloader.WithRetries(cfg.Bootloader.TransferAttempts, cfg.Bootloader.TransferBackoff),
			bootloader.WithPacing(cfg.Bootloader.PaceEvery, cfg.Bootloader.PaceDelay),
			bootloader.WithProgressCallback(func(p bootloader.Progress) {
				log.Info().
					Str("phase", p.Phase).
					Int("attempt", p.Attempt).
					Float64("percentage", p.Percentage).
					Msg("upload progress")
			}),
		),
		monitor.WithLockOptions(
			lock.WithKey(cfg.Lock.Key),
			lock.WithStaleAfter(cfg.Lock.StaleAfter),
			lock.WithVerifyDelay(cfg.Lock.VerifyDelay),
			lock.WithRetry(cfg.Lock.Attempts, cfg.Lock.RetryDelay),
		),
	)

	return &Runtime{Monitor: m, store: st, log: log}, nil
}

func (c *CLI) selector(uuid string, runtimeID uint64) string {
	switch {
	case uuid != "":
		return uuid
	case runtimeID != 0:
		return "#" + strconv.FormatUint(runtimeID, 10)
	default:
		return "single link"
	}
}
