package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moffa90/go-qbmidi/internal/config"
	"github.com/moffa90/go-qbmidi/internal/logger"
	"github.com/moffa90/go-qbmidi/link"
	"github.com/moffa90/go-qbmidi/monitor"
	"github.com/moffa90/go-qbmidi/store"
	"github.com/moffa90/go-qbmidi/store/memory"
	"github.com/moffa90/go-qbmidi/store/redisstore"
	"github.com/moffa90/go-qbmidi/store/sqlitestore"
	"github.com/moffa90/go-qbmidi/transport"
	"github.com/moffa90/go-qbmidi/transport/serialport"
	"github.com/moffa90/go-qbmidi/transport/simulator"
)

// ErrLinkNotFound is returned when no link matches a selector in time.
var ErrLinkNotFound = errors.New("link not found")

// Runtime is a started or startable monitor with the store it owns.
type Runtime struct {
	Monitor *monitor.Monitor

	store store.Store
	log   logger.Logger
}

// Start runs the monitor.
func (r *Runtime) Start(ctx context.Context) error {
	return r.Monitor.Init(ctx)
}

// Close stops the monitor and closes the store.
func (r *Runtime) Close(ctx context.Context) {
	if err := r.Monitor.Destroy(ctx); err != nil {
		r.log.Warn().Err(err).Msg("stop monitor")
	}
	if err := r.store.Close(); err != nil {
		r.log.Warn().Err(err).Msg("close store")
	}
}

// FindLink polls the roster until a link matches uuid, or runtimeID when
// uuid is empty, or wait elapses.
func (r *Runtime) FindLink(ctx context.Context, uuid string, runtimeID uint64, wait time.Duration) (*link.Link, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		var (
			l  *link.Link
			ok bool
		)
		switch {
		case uuid != "":
			l, ok = r.Monitor.LinkByUUID(uuid)
		case runtimeID != 0:
			l, ok = r.Monitor.LinkByRuntimeID(runtimeID)
		default:
			if links := r.Monitor.Links(); len(links) == 1 {
				l, ok = links[0], true
			}
		}
		if ok {
			return l, nil
		}

		select {
		case <-ctx.Done():
			return nil, ErrLinkNotFound
		case <-ticker.C:
		}
	}
}

func (c *CLI) transport(log logger.Logger) (transport.Transport, error) {
	switch c.Transport {
	case config.TransportSerial:
		opts := []serialport.Option{
			serialport.WithBaudRate(c.config.Transport.BaudRate),
			serialport.WithLogger(log.Logger),
		}
		if c.config.Transport.AllPorts {
			opts = append(opts, serialport.WithAllPorts())
		}
		return serialport.New(opts...), nil
	case config.TransportSimulator:
		sim := simulator.New()
		for i := range c.Simulate {
			sim.Plug(simulator.Device{
				UUID:    fmt.Sprintf("QB0SIMULATED%04d", i+1),
				Version: fmt.Sprintf("sim-%d", i+1),
			})
		}
		return sim, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", c.Transport)
	}
}

func (c *CLI) openStore(ctx context.Context, log logger.Logger) (store.Store, error) {
	cfg := c.config.Store

	switch c.Store {
	case config.BackendMemory:
		return memory.NewBackend().Open(), nil
	case config.BackendRedis:
		return redisstore.New(ctx, redisstore.Config{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
			Channel:  cfg.RedisChannel,
		}, log.Logger)
	case config.BackendSQLite:
		return sqlitestore.New(ctx, cfg.SQLitePath,
			sqlitestore.WithPollInterval(cfg.PollInterval),
			sqlitestore.WithLogger(log.Logger),
		)
	default:
		return nil, fmt.Errorf("unknown store backend %q", c.Store)
	}
}
