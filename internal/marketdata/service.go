// Package marketdata selects between the gateway and the public fallback feed for quotes and history.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/brokersync/internal/domain"
)

// Source provides quotes and history
type Source interface {
	Name() string
	Quote(ctx context.Context, symbol string) (domain.Quote, error)
	Quotes(ctx context.Context, symbols []string) ([]domain.Quote, error)
	History(ctx context.Context, symbol, period, interval string) ([]domain.Bar, error)
}

// PrimarySource is a Source whose availability depends on a live connection
type PrimarySource interface {
	Source
	Available() bool
}

// Metrics counts served quotes by source
type Metrics interface {
	ObserveQuote(source string)
}

// DefaultCacheTTL bounds how long a primary quote is reused
const DefaultCacheTTL = 10 * time.Second

type cachedQuote struct {
	quote     domain.Quote
	expiresAt time.Time
}

// Service is the single place where the primary/fallback decision is made.
// Only primary quotes are cached; fallback quotes are always fetched fresh.
type Service struct {
	primary  PrimarySource
	fallback Source
	ttl      time.Duration
	now      func() time.Time
	metrics  Metrics
	log      zerolog.Logger

	mu    sync.RWMutex
	cache map[string]cachedQuote
}

// NewService creates a market data service. fallback may be nil.
func NewService(primary PrimarySource, fallback Source, ttl time.Duration, log zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Service{
		primary:  primary,
		fallback: fallback,
		ttl:      ttl,
		now:      time.Now,
		log:      log.With().Str("service", "marketdata").Logger(),
		cache:    make(map[string]cachedQuote),
	}
}

// SetMetrics attaches a metrics sink
func (s *Service) SetMetrics(m Metrics) {
	s.metrics = m
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (s *Service) observe(q domain.Quote) {
	if s.metrics != nil {
		s.metrics.ObserveQuote(q.Source)
	}
}

func (s *Service) fromCache(symbol string) (domain.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.cache[symbol]
	if !ok || s.now().After(entry.expiresAt) {
		return domain.Quote{}, false
	}
	return entry.quote, true
}

func (s *Service) store(q domain.Quote) {
	if q.Source != domain.QuoteSourcePrimary {
		return
	}
	s.mu.Lock()
	s.cache[q.Symbol] = cachedQuote{quote: q, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()
}

func markFallback(q domain.Quote, source string) domain.Quote {
	q.Fallback = true
	if q.Source == "" {
		q.Source = source
	}
	return q
}

// Quote returns a quote for symbol from the primary source when connected, else from the fallback
func (s *Service) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	sym := normalize(symbol)
	if sym == "" {
		return domain.Quote{}, domain.NewValidationError("symbol", "is required")
	}

	var primaryErr error
	if s.primary != nil && s.primary.Available() {
		if q, ok := s.fromCache(sym); ok {
			s.observe(q)
			return q, nil
		}
		q, err := s.primary.Quote(ctx, sym)
		if err == nil {
			s.store(q)
			s.observe(q)
			return q, nil
		}
		primaryErr = err
		s.log.Warn().Err(err).Str("symbol", sym).Msg("Primary quote failed, using fallback")
	}

	if s.fallback == nil {
		if primaryErr != nil {
			return domain.Quote{}, primaryErr
		}
		return domain.Quote{}, &domain.NotConnectedError{Op: "Quote"}
	}

	q, err := s.fallback.Quote(ctx, sym)
	if err != nil {
		return domain.Quote{}, errors.Join(primaryErr, fmt.Errorf("fallback quote for %s: %w", sym, err))
	}
	q = markFallback(q, s.fallback.Name())
	s.observe(q)
	return q, nil
}

// Quotes returns quotes in request order. Symbols the primary cannot serve are
// fetched from the fallback; an error is returned only for symbols no source could serve.
func (s *Service) Quotes(ctx context.Context, symbols []string) ([]domain.Quote, error) {
	wanted := make([]string, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, raw := range symbols {
		sym := normalize(raw)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		wanted = append(wanted, sym)
	}
	if len(wanted) == 0 {
		return nil, domain.NewValidationError("symbols", "at least one symbol is required")
	}

	found := make(map[string]domain.Quote, len(wanted))
	missing := wanted

	if s.primary != nil && s.primary.Available() {
		uncached := make([]string, 0, len(wanted))
		for _, sym := range wanted {
			if q, ok := s.fromCache(sym); ok {
				found[sym] = q
				continue
			}
			uncached = append(uncached, sym)
		}

		if len(uncached) > 0 {
			quotes, err := s.primary.Quotes(ctx, uncached)
			if err != nil {
				s.log.Warn().Err(err).Int("requested", len(uncached)).Int("received", len(quotes)).Msg("Primary quotes incomplete")
			}
			for _, q := range quotes {
				s.store(q)
				found[q.Symbol] = q
			}
		}

		missing = missing[:0:0]
		for _, sym := range wanted {
			if _, ok := found[sym]; !ok {
				missing = append(missing, sym)
			}
		}
	}

	var fallbackErr error
	if len(missing) > 0 && s.fallback != nil {
		quotes, err := s.fallback.Quotes(ctx, missing)
		fallbackErr = err
		for _, q := range quotes {
			found[q.Symbol] = markFallback(q, s.fallback.Name())
		}
	}

	result := make([]domain.Quote, 0, len(wanted))
	var unserved []string
	for _, sym := range wanted {
		q, ok := found[sym]
		if !ok {
			unserved = append(unserved, sym)
			continue
		}
		s.observe(q)
		result = append(result, q)
	}

	if len(unserved) > 0 {
		err := fmt.Errorf("no quote available for %s", strings.Join(unserved, ", "))
		if fallbackErr != nil {
			err = fmt.Errorf("%w: %v", err, fallbackErr)
		}
		return result, err
	}
	return result, nil
}

// History returns bars from the primary source when connected, falling back on error.
// The result names the source that served it and is marked when it came from the fallback.
func (s *Service) History(ctx context.Context, symbol, period, interval string) (domain.History, error) {
	sym := normalize(symbol)
	if sym == "" {
		return domain.History{}, domain.NewValidationError("symbol", "is required")
	}

	var primaryErr error
	if s.primary != nil && s.primary.Available() {
		bars, err := s.primary.History(ctx, sym, period, interval)
		if err == nil {
			return newHistory(sym, s.primary.Name(), bars, false), nil
		}
		primaryErr = err
		s.log.Warn().Err(err).Str("symbol", sym).Msg("Primary history failed, using fallback")
	}

	if s.fallback == nil {
		if primaryErr != nil {
			return domain.History{}, primaryErr
		}
		return domain.History{}, &domain.NotConnectedError{Op: "History"}
	}
	bars, err := s.fallback.History(ctx, sym, period, interval)
	if err != nil {
		return domain.History{}, errors.Join(primaryErr, fmt.Errorf("fallback history for %s: %w", sym, err))
	}
	return newHistory(sym, s.fallback.Name(), bars, true), nil
}

func newHistory(symbol, source string, bars []domain.Bar, fallback bool) domain.History {
	if bars == nil {
		bars = []domain.Bar{}
	}
	return domain.History{Symbol: symbol, Source: source, Bars: bars, Fallback: fallback}
}

// Purge drops expired cache entries
func (s *Service) Purge() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for sym, entry := range s.cache {
		if now.After(entry.expiresAt) {
			delete(s.cache, sym)
			removed++
		}
	}
	return removed
}
