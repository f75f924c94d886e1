package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cryptosim/sim-engine/internal/model"
)

// MemoryStore implements Store with in-memory copies. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu    sync.RWMutex
	state []byte // JSON copy, nil until first save
	prefs []byte
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) LoadState(_ context.Context) (*model.PortfolioState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == nil {
		return nil, ErrNotFound
	}
	var state model.PortfolioState
	if err := json.Unmarshal(s.state, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *MemoryStore) SaveState(_ context.Context, state *model.PortfolioState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = data
	return nil
}

func (s *MemoryStore) LoadPreferences(_ context.Context) (model.Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.prefs == nil {
		return model.Preferences{}, ErrNotFound
	}
	var prefs model.Preferences
	if err := json.Unmarshal(s.prefs, &prefs); err != nil {
		return model.Preferences{}, err
	}
	return prefs, nil
}

func (s *MemoryStore) SavePreferences(_ context.Context, prefs model.Preferences) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs = data
	return nil
}
