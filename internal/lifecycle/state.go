package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"fx-scalper-bot/internal/market"
)

const stateKeyPrefix = "fxscalper:trade:"

// StateStore persists open-trade state across restarts so a crashed
// process can resume monitoring its positions.
type StateStore interface {
	Save(ctx context.Context, t market.ActiveTrade) error
	Delete(ctx context.Context, instrument string) error
	LoadAll(ctx context.Context) ([]market.ActiveTrade, error)
}

// RedisStateStore keeps open trades in Redis with a generous TTL.
type RedisStateStore struct {
	client *redis.Client
	logger zerolog.Logger
	ttl    time.Duration
}

// NewRedisStateStore creates the store. addr like "localhost:6379".
func NewRedisStateStore(addr, password string, db int, logger zerolog.Logger) *RedisStateStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStateStore{
		client: client,
		logger: logger.With().Str("component", "TradeStateStore").Logger(),
		ttl:    24 * time.Hour,
	}
}

// Ping verifies connectivity.
func (s *RedisStateStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStateStore) Save(ctx context.Context, t market.ActiveTrade) error {
	blob, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trade state: %w", err)
	}
	return s.client.Set(ctx, stateKeyPrefix+t.Instrument, blob, s.ttl).Err()
}

func (s *RedisStateStore) Delete(ctx context.Context, instrument string) error {
	return s.client.Del(ctx, stateKeyPrefix+instrument).Err()
}

func (s *RedisStateStore) LoadAll(ctx context.Context) ([]market.ActiveTrade, error) {
	keys, err := s.client.Keys(ctx, stateKeyPrefix+"*").Result()
	if err != nil {
		return nil, err
	}
	var out []market.ActiveTrade
	for _, key := range keys {
		blob, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, err
		}
		var t market.ActiveTrade
		if err := json.Unmarshal(blob, &t); err != nil {
			s.logger.Warn().Str("key", key).Err(err).Msg("dropping unreadable trade state")
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Close releases the client.
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}

// MemoryStateStore is the fallback when Redis is not configured; state
// does not survive a restart. Safe for concurrent use: engine workers
// save while the monitor deletes.
type MemoryStateStore struct {
	mu     sync.Mutex
	trades map[string]market.ActiveTrade
}

// NewMemoryStateStore creates the in-memory fallback.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{trades: make(map[string]market.ActiveTrade)}
}

func (s *MemoryStateStore) Save(_ context.Context, t market.ActiveTrade) error {
	s.mu.Lock()
	s.trades[t.Instrument] = t
	s.mu.Unlock()
	return nil
}

func (s *MemoryStateStore) Delete(_ context.Context, instrument string) error {
	s.mu.Lock()
	delete(s.trades, instrument)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStateStore) LoadAll(_ context.Context) ([]market.ActiveTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]market.ActiveTrade, 0, len(s.trades))
	for _, t := range s.trades {
		out = append(out, t)
	}
	return out, nil
}
