package portfolio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aristath/brokersync/internal/domain"
	"github.com/aristath/brokersync/internal/storage"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	ledgerPrefix = "ledgers/"
	ledgerSuffix = ".msgpack"
)

// LedgerRepository persists ledgers as msgpack blobs, one object per portfolio.
// Loaded ledgers are kept in memory; callers always receive copies.
type LedgerRepository struct {
	store storage.Store
	mu    sync.RWMutex
	cache map[string]*Ledger
	log   zerolog.Logger
}

// NewLedgerRepository creates a repository on top of store
func NewLedgerRepository(store storage.Store, log zerolog.Logger) *LedgerRepository {
	return &LedgerRepository{
		store: store,
		cache: make(map[string]*Ledger),
		log:   log.With().Str("repo", "ledger").Logger(),
	}
}

func ledgerKey(portfolioID string) string {
	return ledgerPrefix + portfolioID + ledgerSuffix
}

// Load returns the ledger of a portfolio or domain.ErrNotFound
func (r *LedgerRepository) Load(ctx context.Context, portfolioID string) (*Ledger, error) {
	r.mu.RLock()
	cached, ok := r.cache[portfolioID]
	r.mu.RUnlock()
	if ok {
		return cached.clone(), nil
	}

	data, err := r.store.Load(ctx, ledgerKey(portfolioID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("portfolio %s: %w", portfolioID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load ledger %s: %w", portfolioID, err)
	}

	var ledger Ledger
	if err := msgpack.Unmarshal(data, &ledger); err != nil {
		return nil, fmt.Errorf("failed to decode ledger %s: %w", portfolioID, err)
	}

	r.mu.Lock()
	r.cache[portfolioID] = ledger.clone()
	r.mu.Unlock()
	return &ledger, nil
}

// Save writes the ledger and refreshes the cache
func (r *LedgerRepository) Save(ctx context.Context, ledger *Ledger) error {
	id := ledger.Portfolio.ID
	data, err := msgpack.Marshal(ledger)
	if err != nil {
		return fmt.Errorf("failed to encode ledger %s: %w", id, err)
	}
	if err := r.store.Save(ctx, ledgerKey(id), data); err != nil {
		return fmt.Errorf("failed to save ledger %s: %w", id, err)
	}

	r.mu.Lock()
	r.cache[id] = ledger.clone()
	r.mu.Unlock()

	r.log.Debug().
		Str("portfolio_id", id).
		Int("positions", len(ledger.Positions)).
		Int("transactions", len(ledger.Transactions)).
		Msg("Ledger saved")
	return nil
}

// Delete removes the ledger
func (r *LedgerRepository) Delete(ctx context.Context, portfolioID string) error {
	if err := r.store.Delete(ctx, ledgerKey(portfolioID)); err != nil {
		return fmt.Errorf("failed to delete ledger %s: %w", portfolioID, err)
	}
	r.mu.Lock()
	delete(r.cache, portfolioID)
	r.mu.Unlock()
	return nil
}

// IDs lists the ids of all persisted portfolios, sorted
func (r *LedgerRepository) IDs(ctx context.Context) ([]string, error) {
	keys, err := r.store.List(ctx, ledgerPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledgers: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		if !strings.HasSuffix(k, ledgerSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(k, ledgerPrefix), ledgerSuffix))
	}
	return ids, nil
}
