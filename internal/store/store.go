// Package store defines the persistence contract for the simulator:
// portfolio state is loaded once at startup and saved after every
// mutation. Implementations include PostgreSQL (source of truth), Redis
// (simple key-value, mirroring the browser-local storage the simulator
// replaces), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/cryptosim/sim-engine/internal/model"
)

// ErrNotFound is returned by Load operations when nothing has been saved
// yet. Callers start from a fresh state in that case.
var ErrNotFound = errors.New("store: not found")

// Store persists the ledger state and user display preferences.
type Store interface {
	// LoadState returns the persisted portfolio state, or ErrNotFound
	// when no state has been saved yet.
	LoadState(ctx context.Context) (*model.PortfolioState, error)

	// SaveState persists the full portfolio state. Called after every
	// successful ledger mutation.
	SaveState(ctx context.Context, state *model.PortfolioState) error

	// LoadPreferences returns the persisted display preferences, or
	// ErrNotFound when none have been saved.
	LoadPreferences(ctx context.Context) (model.Preferences, error)

	// SavePreferences persists the display preferences.
	SavePreferences(ctx context.Context, prefs model.Preferences) error
}
