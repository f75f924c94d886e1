package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/cryptosim/sim-engine/internal/model"
)

// Key layout. One JSON document per concern, the Go counterpart of the
// per-key browser storage the simulator replaces.
const (
	stateKey = "cryptosim:portfolio"
	prefsKey = "cryptosim:preferences"
)

// RedisStore implements Store on a Redis key-value pair per document.
// Values never expire; the portfolio must survive restarts.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) LoadState(ctx context.Context) (*model.PortfolioState, error) {
	data, err := s.rdb.Get(ctx, stateKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var state model.PortfolioState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *RedisStore) SaveState(ctx context.Context, state *model.PortfolioState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, stateKey, data, 0).Err()
}

func (s *RedisStore) LoadPreferences(ctx context.Context) (model.Preferences, error) {
	data, err := s.rdb.Get(ctx, prefsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Preferences{}, ErrNotFound
	}
	if err != nil {
		return model.Preferences{}, err
	}

	var prefs model.Preferences
	if err := json.Unmarshal(data, &prefs); err != nil {
		return model.Preferences{}, err
	}
	return prefs, nil
}

func (s *RedisStore) SavePreferences(ctx context.Context, prefs model.Preferences) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, prefsKey, data, 0).Err()
}
