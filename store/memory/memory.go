// Package memory implements store.Store in process. Every Store opened
// from one Backend behaves like a separate context sharing the backend.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/moffa90/go-qbmidi/store"
)

// watchBuffer is the per-watcher notification buffer. Changes beyond it
// are dropped for that watcher.
const watchBuffer = 64

var errClosed = errors.New("store is closed")

// Backend holds the shared data.
type Backend struct {
	mu       sync.Mutex
	data     map[string][]byte
	watchers map[*watcher]struct{}
}

type watcher struct {
	origin *Store
	ch     chan store.Change
}

// NewBackend returns an empty backend.
func NewBackend() *Backend {
	return &Backend{
		data:     make(map[string][]byte),
		watchers: make(map[*watcher]struct{}),
	}
}

// Open returns a new view of the backend.
func (b *Backend) Open() *Store {
	return &Store{backend: b}
}

// Store is one context's view of a Backend.
type Store struct {
	backend *Backend
	mu      sync.Mutex
	closed  bool
}

var _ store.Store = (*Store)(nil)

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Get implements store.Store.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	if s.isClosed() {
		return nil, errClosed
	}

	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	v, ok := b.data[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set implements store.Store.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	if s.isClosed() {
		return errClosed
	}

	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data[key] = append([]byte(nil), value...)
	b.notify(s, store.Change{Key: key, Value: append([]byte(nil), value...)})
	return nil
}

// Delete implements store.Store.
func (s *Store) Delete(_ context.Context, key string) error {
	if s.isClosed() {
		return errClosed
	}

	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.data[key]; !ok {
		return nil
	}
	delete(b.data, key)
	b.notify(s, store.Change{Key: key, Deleted: true})
	return nil
}

// Watch implements store.Store.
func (s *Store) Watch(ctx context.Context) (<-chan store.Change, error) {
	if s.isClosed() {
		return nil, errClosed
	}

	w := &watcher{origin: s, ch: make(chan store.Change, watchBuffer)}

	b := s.backend
	b.mu.Lock()
	b.watchers[w] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.watchers, w)
		close(w.ch)
		b.mu.Unlock()
	}()

	return w.ch, nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// notify must be called with b.mu held.
func (b *Backend) notify(origin *Store, c store.Change) {
	for w := range b.watchers {
		if w.origin == origin {
			continue
		}
		select {
		case w.ch <- c:
		default:
		}
	}
}
