// Package redisstore implements store.Store on Redis. Writes are announced
// on a pub/sub channel tagged with the writer's origin id.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/moffa90/go-qbmidi/store"
)

// DefaultChannel is the pub/sub channel carrying change notifications.
const DefaultChannel = "qbmidi:changes"

// Config holds the Redis connection settings.
type Config struct {
	Address  string
	Password string
	DB       int

	// Prefix is prepended to every key.
	Prefix string

	// Channel carries change notifications.
	Channel string
}

type message struct {
	Origin  string `json:"origin"`
	Key     string `json:"key"`
	Value   []byte `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Store is a store.Store on Redis.
type Store struct {
	client *redis.Client
	owned  bool
	config Config
	origin string
	logger zerolog.Logger
}

var _ store.Store = (*Store)(nil)

// New connects to Redis and checks the connection.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Address, err)
	}

	s := NewWithClient(client, cfg, logger)
	s.owned = true
	return s, nil
}

// NewWithClient wraps an existing client. Close does not close it.
func NewWithClient(client *redis.Client, cfg Config, logger zerolog.Logger) *Store {
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}

	return &Store{
		client: client,
		config: cfg,
		origin: uuid.NewString(),
		logger: logger.With().Str("component", "redisstore").Logger(),
	}
}

func (s *Store) key(k string) string {
	return s.config.Prefix + k
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, nil
}

// Set implements store.Store.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return s.publish(ctx, message{Origin: s.origin, Key: key, Value: value})
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	n, err := s.client.Del(ctx, s.key(key)).Result()
	if err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	if n == 0 {
		return nil
	}
	return s.publish(ctx, message{Origin: s.origin, Key: key, Deleted: true})
}

func (s *Store) publish(ctx context.Context, m message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	if err := s.client.Publish(ctx, s.config.Channel, payload).Err(); err != nil {
		return fmt.Errorf("publish change for %s: %w", m.Key, err)
	}
	return nil
}

// Watch implements store.Store. It returns once the subscription is
// active.
func (s *Store) Watch(ctx context.Context) (<-chan store.Change, error) {
	pubsub := s.client.Subscribe(ctx, s.config.Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", s.config.Channel, err)
	}

	out := make(chan store.Change, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var m message
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					s.logger.Warn().Err(err).Msg("dropping malformed change")
					continue
				}
				if m.Origin == s.origin {
					continue
				}
				select {
				case out <- store.Change{Key: m.Key, Value: m.Value, Deleted: m.Deleted}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
