package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"GridSentinel/internal/calculator"
	"GridSentinel/internal/model"
)

// DateLayout is the calendar-day key of cached records.
const DateLayout = "2006-01-02"

// HistoryYears is the lookback of the percentile computation.
const HistoryYears = 10

// Today returns the local calendar day of t in the cache's date format.
func Today(t time.Time) string {
	return t.Local().Format(DateLayout)
}

// HistoryFetcher returns daily bars for a symbol, oldest first.
type HistoryFetcher interface {
	FetchPriceHistory(ctx context.Context, symbol string, years int) ([]model.OHLCV, error)
}

// Store persists the whole symbol to record map.
type Store interface {
	Load(ctx context.Context) (map[string]model.AnalysisRecord, error)
	Save(ctx context.Context, records map[string]model.AnalysisRecord) error
}

// Cache holds one percentile per symbol per calendar day. An absent
// percentile is cached like any other result, so a failed computation is not
// retried until the next day. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	records map[string]model.AnalysisRecord

	saveMu  sync.Mutex
	store   Store
	fetcher HistoryFetcher
	group   singleflight.Group
	log     zerolog.Logger
}

// NewCache creates a Cache seeded from store. An unreadable store starts the
// cache empty.
func NewCache(ctx context.Context, store Store, fetcher HistoryFetcher, log zerolog.Logger) *Cache {
	c := &Cache{
		records: make(map[string]model.AnalysisRecord),
		store:   store,
		fetcher: fetcher,
		log:     log.With().Str("component", "analysis").Logger(),
	}
	records, err := store.Load(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("analysis cache unreadable, starting empty")
		return c
	}
	for k, v := range records {
		c.records[k] = v
	}
	return c
}

// Get returns the cached percentile for symbol on day today, if any.
func (c *Cache) Get(symbol, today string) (*float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[symbol]
	if !ok || rec.Date != today {
		return nil, false
	}
	return copyPtr(rec.PricePercentile), true
}

// GetOrRefresh returns today's percentile for symbol, computing and
// persisting it at most once per day. The returned error only reports a
// failure to persist; the percentile is valid regardless.
func (c *Cache) GetOrRefresh(ctx context.Context, symbol, today string) (*float64, error) {
	if p, ok := c.Get(symbol, today); ok {
		return p, nil
	}
	p, computed := c.refresh(ctx, symbol, today)
	if !computed {
		return p, nil
	}
	return p, c.persist(ctx)
}

// RefreshAll brings every symbol up to date and persists once.
func (c *Cache) RefreshAll(ctx context.Context, symbols []string, today string) error {
	computed := false
	for _, symbol := range symbols {
		if ctx.Err() != nil {
			break
		}
		if _, ok := c.Get(symbol, today); ok {
			continue
		}
		if _, ok := c.refresh(ctx, symbol, today); ok {
			computed = true
		}
	}
	if !computed {
		return nil
	}
	return c.persist(ctx)
}

// refresh computes the percentile for symbol unless a concurrent caller
// already did. computed reports whether this call stored a new record.
func (c *Cache) refresh(ctx context.Context, symbol, today string) (*float64, bool) {
	v, _, shared := c.group.Do(symbol+"|"+today, func() (interface{}, error) {
		if p, ok := c.Get(symbol, today); ok {
			return p, nil
		}
		p := c.compute(ctx, symbol)
		c.mu.Lock()
		c.records[symbol] = model.AnalysisRecord{Date: today, PricePercentile: copyPtr(p)}
		c.mu.Unlock()
		return p, nil
	})
	p, _ := v.(*float64)
	return copyPtr(p), !shared
}

func (c *Cache) compute(ctx context.Context, symbol string) *float64 {
	bars, err := c.fetcher.FetchPriceHistory(ctx, symbol, HistoryYears)
	if err != nil {
		c.log.Warn().Str("symbol", symbol).Err(err).Msg("price history unavailable")
		return nil
	}
	pct, err := calculator.HistoryPercentile(bars)
	if err != nil {
		c.log.Warn().Str("symbol", symbol).Err(err).Msg("percentile unavailable")
		return nil
	}
	c.log.Info().Str("symbol", symbol).Float64("percentile", pct).Msg("percentile refreshed")
	return &pct
}

func (c *Cache) persist(ctx context.Context) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	snapshot := make(map[string]model.AnalysisRecord, len(c.records))
	for k, v := range c.records {
		snapshot[k] = v
	}
	c.mu.Unlock()

	if err := c.store.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("save analysis cache: %w", err)
	}
	return nil
}

func copyPtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
