package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/moffa90/go-qbmidi/bootloader"
	"github.com/moffa90/go-qbmidi/discovery"
	"github.com/moffa90/go-qbmidi/internal/logger"
	"github.com/moffa90/go-qbmidi/internal/telemetry"
	"github.com/moffa90/go-qbmidi/link"
	"github.com/moffa90/go-qbmidi/lock"
	"github.com/moffa90/go-qbmidi/queue"
	"github.com/moffa90/go-qbmidi/store"
	"github.com/moffa90/go-qbmidi/transport"
)

// Monitor discovers links and serves requests on them. Several Monitors
// may share one transport and one store; the lock serializes their
// cycles and the roster snapshot keeps their link lists in step.
type Monitor struct {
	transport transport.Transport
	store     store.Store
	config    *Config
	log       logger.Logger
	telemetry *telemetry.Telemetry

	identifier *link.Identifier
	finder     *discovery.Finder
	programmer *bootloader.Programmer
	mutex      *lock.Mutex

	mu    sync.Mutex
	state *State
}

// State is everything owned by one Init/Destroy lifetime.
type State struct {
	Roster  *link.Roster
	Uploads *queue.Queue
	Enters  *queue.Queue
	Exits   *queue.Queue

	cancel context.CancelFunc
	done   chan struct{}
}

func newState() *State {
	return &State{
		Roster:  link.NewRoster(),
		Uploads: queue.New(queue.KindUpload),
		Enters:  queue.New(queue.KindEnterBootloader),
		Exits:   queue.New(queue.KindExitBootloader),
		done:    make(chan struct{}),
	}
}

func (s *State) queues() []*queue.Queue {
	return []*queue.Queue{s.Uploads, s.Enters, s.Exits}
}

// New creates a Monitor. Nothing runs until Init.
//
// Example:
//
//	m := monitor.New(tr, st,
//	    monitor.WithLogger(log),
//	    monitor.WithInterval(time.Second),
//	)
//	if err := m.Init(ctx); err != nil {
//	    return err
//	}
//	defer m.Destroy(ctx)
func New(tr transport.Transport, st store.Store, opts ...Option) *Monitor {
	if tr == nil {
		panic("transport cannot be nil")
	}
	if st == nil {
		panic("store cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Owner == "" {
		cfg.Owner = uuid.NewString()
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.NewNoop()
	}

	log := cfg.Logger.With().Str("component", "monitor").Str("owner_id", cfg.Owner).Logger()

	identifier := link.NewIdentifier(tr, append([]link.IdentifyOption{link.WithLogger(log)}, cfg.IdentifyOptions...)...)

	return &Monitor{
		transport:  tr,
		store:      st,
		config:     cfg,
		log:        logger.Logger{Logger: log},
		telemetry:  cfg.Telemetry,
		identifier: identifier,
		finder:     discovery.New(tr, identifier, discovery.WithFilter(cfg.Filter), discovery.WithLogger(log)),
		programmer: bootloader.New(tr, identifier,
			append([]bootloader.Option{bootloader.WithFilter(cfg.Filter), bootloader.WithLogger(log)}, cfg.BootloaderOptions...)...),
		mutex: lock.New(st, cfg.Owner,
			append([]lock.Option{lock.WithLogger(log)}, cfg.LockOptions...)...),
	}
}

// Owner returns the lock owner id of this monitor.
func (m *Monitor) Owner() string {
	return m.config.Owner
}

// Init loads the shared roster and starts the monitor loop. Calling Init
// on a running monitor does nothing.
func (m *Monitor) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != nil {
		return nil
	}

	st := newState()
	m.loadSnapshot(ctx, st.Roster)

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	changes, err := m.store.Watch(loopCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("watch store: %w", err)
	}

	st.cancel = cancel
	m.state = st
	go m.run(loopCtx, st, changes)

	m.log.Info().Int("links", st.Roster.Len()).Msg("monitor started")
	return nil
}

// Destroy stops the loop, fails pending requests and releases the lock
// if this monitor holds it. Calling Destroy on a stopped monitor does
// nothing.
func (m *Monitor) Destroy(ctx context.Context) error {
	m.mu.Lock()
	st := m.state
	m.state = nil
	m.mu.Unlock()

	if st == nil {
		return nil
	}

	st.cancel()
	select {
	case <-st.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, q := range st.queues() {
		q.Close()
	}

	err := m.mutex.Unlock(ctx)
	if err != nil && !errors.Is(err, lock.ErrNotLocked) && !errors.Is(err, lock.ErrNotOwner) {
		return fmt.Errorf("release lock: %w", err)
	}

	m.log.Info().Msg("monitor stopped")
	return nil
}

func (m *Monitor) current() *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Links returns the links of the roster in discovery order.
func (m *Monitor) Links() []*link.Link {
	st := m.current()
	if st == nil {
		return nil
	}
	return st.Roster.Links()
}

// LinkByUUID returns the link with identity uuid.
func (m *Monitor) LinkByUUID(uuid string) (*link.Link, bool) {
	st := m.current()
	if st == nil {
		return nil, false
	}
	return st.Roster.ByUUID(uuid)
}

// LinkByRuntimeID returns the link with runtime id id.
func (m *Monitor) LinkByRuntimeID(id uint64) (*link.Link, bool) {
	st := m.current()
	if st == nil {
		return nil, false
	}
	return st.Roster.ByRuntimeID(id)
}

// UploadFirmware queues an upload of a textual Intel HEX image to l and
// waits for the loop to handle it.
func (m *Monitor) UploadFirmware(ctx context.Context, l *link.Link, image string) (*link.Link, error) {
	return m.request(ctx, func(st *State) *queue.Queue { return st.Uploads }, l, image)
}

// EnterBootloaderMode queues a switch of l to bootloader mode and waits
// for the loop to handle it.
func (m *Monitor) EnterBootloaderMode(ctx context.Context, l *link.Link) (*link.Link, error) {
	return m.request(ctx, func(st *State) *queue.Queue { return st.Enters }, l, "")
}

// ExitBootloaderMode queues a switch of l back to its program and waits
// for the loop to handle it.
func (m *Monitor) ExitBootloaderMode(ctx context.Context, l *link.Link) (*link.Link, error) {
	return m.request(ctx, func(st *State) *queue.Queue { return st.Exits }, l, "")
}

func (m *Monitor) request(ctx context.Context, pick func(*State) *queue.Queue, l *link.Link, payload string) (*link.Link, error) {
	st := m.current()
	if st == nil {
		return l, ErrNotRunning
	}
	if l == nil {
		return nil, errors.New("link cannot be nil")
	}
	if !l.MIDI() {
		return l, fmt.Errorf("link %d: %w", l.RuntimeID(), ErrNotMidiEnabled)
	}

	q := pick(st)
	r, err := q.Enqueue(l, payload)
	if err != nil {
		return l, err
	}

	m.log.Debug().
		Uint64("link_runtime_id", l.RuntimeID()).
		Str("kind", string(q.Kind())).
		Msg("request queued")

	return l, r.Wait(ctx, m.config.RequestTimeout)
}

// run is the monitor loop. Skipped cycles wait RetryDelay plus jitter,
// completed ones wait Interval. Roster changes from other contexts are
// merged while waiting.
func (m *Monitor) run(ctx context.Context, st *State, changes <-chan store.Change) {
	defer close(st.done)

	for {
		delay := m.config.Interval

		switch {
		case !m.config.Active():
			m.log.Debug().Msg("context inactive, skipping cycle")
			delay = m.retryDelay()
		default:
			if err := m.cycle(ctx, st); err != nil {
				if ctx.Err() != nil {
					return
				}
				m.log.Warn().Err(err).Msg("cycle skipped")
				delay = m.retryDelay()
			}
		}

		if !m.sleep(ctx, st, delay, &changes) {
			return
		}
	}
}

func (m *Monitor) retryDelay() time.Duration {
	d := m.config.RetryDelay
	if m.config.RetryJitter > 0 {
		d += rand.N(m.config.RetryJitter)
	}
	return d
}

func (m *Monitor) sleep(ctx context.Context, st *State, d time.Duration, changes *<-chan store.Change) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			return true
		case c, ok := <-*changes:
			if !ok {
				*changes = nil
				continue
			}
			m.applyChange(st, c)
		}
	}
}

// cycle runs one locked pass: prune dead links, pair new ones, identify,
// drain one request per queue and persist the roster.
func (m *Monitor) cycle(ctx context.Context, st *State) error {
	ctx, span := m.telemetry.Start(ctx, "monitor.cycle", attribute.String("owner_id", m.config.Owner))
	defer span.End()

	log := m.log.WithContext(ctx)

	if err := m.mutex.Lock(ctx); err != nil {
		m.telemetry.Add(ctx, telemetry.LockFailures, 1)
		span.SetStatus(codes.Error, "lock")
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer func() {
		if err := m.mutex.Unlock(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("release lock failed")
		}
	}()

	dirty := false

	inputs, outputs, err := m.finder.ValidPorts()
	if err != nil {
		log.Warn().Err(err).Msg("list ports failed")
		inputs, outputs = nil, nil
	} else {
		removed := m.finder.PruneDeadLinks(st.Roster, inputs)
		for _, l := range removed {
			m.closeLink(l)
		}
		m.telemetry.Add(ctx, telemetry.LinksRemoved, len(removed))

		found := m.findLinks(ctx, st.Roster, inputs, outputs)
		m.telemetry.Add(ctx, telemetry.LinksFound, len(found))

		dirty = len(removed)+len(found) > 0
		logLinks(log, "links removed", removed)
		logLinks(log, "links found", found)
	}

	if m.refresh(ctx, st.Roster) {
		dirty = true
	}

	for _, q := range st.queues() {
		if m.handleNext(ctx, st, q) {
			dirty = true
		}
	}

	if dirty {
		if err := m.persist(ctx, st.Roster); err != nil {
			log.Warn().Err(err).Msg("persist roster failed")
		}
	}

	span.SetAttributes(attribute.Int("links", st.Roster.Len()))
	return ctx.Err()
}

// findLinks pairs new ports, identifies the resulting links and adds the
// identified ones to the roster.
func (m *Monitor) findLinks(ctx context.Context, r *link.Roster, inputs, outputs []transport.Port) []*link.Link {
	candidates, err := m.finder.PossibleLinks(ctx, r, inputs, outputs)
	if err != nil {
		m.log.Warn().Err(err).Msg("find links failed")
		return nil
	}

	found := make([]*link.Link, 0, len(candidates))
	for _, l := range candidates {
		if err := m.identifier.Identify(ctx, l); err != nil {
			m.log.Warn().Err(err).Uint64("link_runtime_id", l.RuntimeID()).Msg("identify new link failed")
			m.closeLink(l)
			continue
		}
		if !r.Add(l) {
			continue
		}
		found = append(found, l)
	}
	return found
}

// refresh re-identifies idle links whose identity is older than the
// refresh interval.
func (m *Monitor) refresh(ctx context.Context, r *link.Roster) bool {
	changed := false
	for _, l := range r.Links() {
		if !l.TryBegin(link.StateIdentifying) {
			continue
		}
		ran, err := m.identifier.Refresh(ctx, l)
		l.End()

		if err != nil {
			m.log.Debug().Err(err).Uint64("link_runtime_id", l.RuntimeID()).Msg("refresh failed")
			continue
		}
		changed = changed || ran
	}
	return changed
}

// handleNext takes one request from q, runs it and completes it. It
// reports whether a request was handled.
func (m *Monitor) handleNext(ctx context.Context, st *State, q *queue.Queue) bool {
	r, ok := q.Next()
	if !ok {
		return false
	}

	ctx, span := m.telemetry.Start(ctx, "monitor.request",
		attribute.String("kind", string(q.Kind())),
		attribute.Int64("link_runtime_id", int64(r.Link.RuntimeID())),
	)
	defer span.End()

	var err error
	switch {
	case !st.Roster.Contains(r.Link):
		err = fmt.Errorf("link %d: %w", r.Link.RuntimeID(), ErrLinkRemoved)
	default:
		err = m.execute(ctx, q.Kind(), r)
	}

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	m.telemetry.Request(ctx, string(q.Kind()), err)

	m.log.Info().
		Err(err).
		Uint64("link_runtime_id", r.Link.RuntimeID()).
		Str("uuid", r.Link.UUID()).
		Str("kind", string(q.Kind())).
		Bool("success", err == nil).
		Msg("request handled")

	q.Complete(r, err)
	return true
}

func (m *Monitor) execute(ctx context.Context, kind queue.Kind, r *queue.Request) error {
	switch kind {
	case queue.KindUpload:
		return m.programmer.Upload(ctx, r.Link, r.Payload)
	case queue.KindEnterBootloader:
		return m.programmer.EnterBootloader(ctx, r.Link)
	case queue.KindExitBootloader:
		return m.programmer.ExitBootloader(ctx, r.Link)
	default:
		return fmt.Errorf("unknown request kind %q", kind)
	}
}

func (m *Monitor) persist(ctx context.Context, r *link.Roster) error {
	return store.SetJSON(ctx, m.store, m.config.RosterKey, r.Snapshot(m.config.Owner))
}

// loadSnapshot merges the persisted roster, if any, into r.
func (m *Monitor) loadSnapshot(ctx context.Context, r *link.Roster) {
	var snap link.Snapshot
	err := store.GetJSON(ctx, m.store, m.config.RosterKey, &snap)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		m.log.Warn().Err(err).Msg("load roster failed")
		return
	}
	m.merge(r, snap)
}

func (m *Monitor) applyChange(st *State, c store.Change) {
	if c.Key != m.config.RosterKey || c.Deleted {
		return
	}

	var snap link.Snapshot
	if err := json.Unmarshal(c.Value, &snap); err != nil {
		m.log.Warn().Err(err).Msg("decode shared roster failed")
		return
	}
	m.merge(st.Roster, snap)
}

func (m *Monitor) merge(r *link.Roster, snap link.Snapshot) {
	if snap.Version != link.SnapshotVersion {
		m.log.Warn().Int("version", snap.Version).Msg("ignoring roster snapshot of unknown version")
		return
	}

	inputs, outputs, err := m.finder.ValidPorts()
	if err != nil {
		m.log.Warn().Err(err).Msg("list ports failed")
		return
	}

	res := r.Merge(snap, inputs, outputs)
	for _, l := range res.Added {
		m.openLink(l)
	}
	for _, l := range res.Removed {
		m.closeLink(l)
	}
	if res.Changed() {
		m.log.Debug().
			Str("from", snap.Owner).
			Int("added", len(res.Added)).
			Int("updated", len(res.Updated)).
			Int("removed", len(res.Removed)).
			Msg("merged shared roster")
	}
}

func (m *Monitor) openLink(l *link.Link) {
	in, out := l.Ports()
	for _, p := range []transport.Port{in, out} {
		if err := m.transport.Open(p); err != nil {
			m.log.Debug().Err(err).Str("port", p.ID).Msg("open port failed")
		}
	}
}

func (m *Monitor) closeLink(l *link.Link) {
	in, out := l.Ports()
	for _, p := range []transport.Port{in, out} {
		if err := m.transport.Close(p); err != nil {
			m.log.Debug().Err(err).Str("port", p.ID).Msg("close port failed")
		}
	}
}

func logLinks(log zerolog.Logger, msg string, links []*link.Link) {
	for _, l := range links {
		log.Info().
			Uint64("link_runtime_id", l.RuntimeID()).
			Str("uuid", l.UUID()).
			Str("input", l.Input().ID).
			Str("output", l.Output().ID).
			Bool("bootloader", l.Bootloader()).
			Msg(msg)
	}
}
