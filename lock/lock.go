package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/moffa90/go-qbmidi/internal/wait"
	"github.com/moffa90/go-qbmidi/store"
)

// Record is the persisted lock.
type Record struct {
	Owner     string `json:"runtimeId"`
	Timestamp int64  `json:"ts"`
}

// Time returns the record timestamp.
func (r Record) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// Mutex is a lock shared through a store.
type Mutex struct {
	store  store.Store
	owner  string
	config *Config
	logger zerolog.Logger
}

// New creates a Mutex for owner on st.
func New(st store.Store, owner string, opts ...Option) *Mutex {
	if st == nil {
		panic("store cannot be nil")
	}
	if owner == "" {
		panic("owner cannot be empty")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return &Mutex{
		store:  st,
		owner:  owner,
		config: cfg,
		logger: cfg.Logger.With().Str("component", "lock").Str("owner_id", owner).Logger(),
	}
}

// Owner returns the id this Mutex locks as.
func (m *Mutex) Owner() string {
	return m.owner
}

// Read returns the current record. ok is false when there is none.
func (m *Mutex) Read(ctx context.Context) (Record, bool, error) {
	var r Record
	err := store.GetJSON(ctx, m.store, m.config.Key, &r)
	if errors.Is(err, store.ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return r, true, nil
}

// TryLock makes one attempt to take the lock. A record held by another
// owner blocks it unless it is older than the stale threshold. After
// writing, the record is read back to detect a concurrent writer.
func (m *Mutex) TryLock(ctx context.Context) error {
	current, ok, err := m.Read(ctx)
	if err != nil {
		return fmt.Errorf("read lock: %w", err)
	}
	if ok && current.Owner != m.owner {
		age := m.config.Now().Sub(current.Time())
		if age <= m.config.StaleAfter {
			return &ContentionError{Owner: current.Owner, Age: age}
		}
		m.logger.Warn().
			Str("stale_owner", current.Owner).
			Dur("age", age).
			Msg("taking over stale lock")
	}

	if err := m.write(ctx); err != nil {
		return err
	}

	if err := wait.Sleep(ctx, m.config.VerifyDelay); err != nil {
		return err
	}

	return m.verify(ctx)
}

// Lock retries TryLock until it succeeds, the attempts run out or ctx is
// done. Read errors stop the retry.
func (m *Mutex) Lock(ctx context.Context) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := m.TryLock(ctx)
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, ErrLockContention), errors.Is(err, ErrLockVerificationFailed):
			m.logger.Debug().Err(err).Msg("lock busy")
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(m.config.RetryDelay)),
		backoff.WithMaxTries(uint(max(m.config.Attempts, 1))),
	)
	if err != nil {
		return err
	}

	m.logger.Debug().Msg("locked")
	return nil
}

// Refresh rewrites the timestamp of a lock this Mutex holds.
func (m *Mutex) Refresh(ctx context.Context) error {
	if err := m.checkOwner(ctx); err != nil {
		return err
	}
	return m.write(ctx)
}

// Unlock deletes the record if this Mutex holds it.
func (m *Mutex) Unlock(ctx context.Context) error {
	if err := m.checkOwner(ctx); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, m.config.Key); err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	m.logger.Debug().Msg("unlocked")
	return nil
}

func (m *Mutex) write(ctx context.Context) error {
	r := Record{Owner: m.owner, Timestamp: m.config.Now().UnixMilli()}
	if err := store.SetJSON(ctx, m.store, m.config.Key, r); err != nil {
		return fmt.Errorf("write lock: %w", err)
	}
	return nil
}

func (m *Mutex) verify(ctx context.Context) error {
	r, ok, err := m.Read(ctx)
	if err != nil {
		return fmt.Errorf("verify lock: %w", err)
	}
	if !ok {
		return &VerificationError{Expected: m.owner}
	}
	if r.Owner != m.owner {
		return &VerificationError{Expected: m.owner, Observed: r.Owner}
	}
	return nil
}

func (m *Mutex) checkOwner(ctx context.Context) error {
	r, ok, err := m.Read(ctx)
	if err != nil {
		return fmt.Errorf("read lock: %w", err)
	}
	if !ok {
		return ErrNotLocked
	}
	if r.Owner != m.owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, r.Owner)
	}
	return nil
}
