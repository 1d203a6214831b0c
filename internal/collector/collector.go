package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"GridSentinel/internal/analysis"
	"GridSentinel/internal/model"
)

// MockFeed returns controllable fixed data for development and testing.
type MockFeed struct {
	mu      sync.Mutex
	prices  map[string]decimal.Decimal
	errs    map[string]error
	history map[string][]model.OHLCV
	calls   map[string]int
}

// NewMockFeed creates an empty MockFeed.
func NewMockFeed() *MockFeed {
	return &MockFeed{
		prices:  make(map[string]decimal.Decimal),
		errs:    make(map[string]error),
		history: make(map[string][]model.OHLCV),
		calls:   make(map[string]int),
	}
}

func (m *MockFeed) Name() string { return "mock" }

// SetPrice sets the next quoted price for symbol and clears any error.
func (m *MockFeed) SetPrice(symbol string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
	delete(m.errs, symbol)
}

// SetError makes quotes for symbol fail.
func (m *MockFeed) SetError(symbol string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[symbol] = err
}

// SetHistory sets the bars returned for symbol.
func (m *MockFeed) SetHistory(symbol string, bars []model.OHLCV) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[symbol] = bars
}

// Calls returns how many quotes were requested for symbol.
func (m *MockFeed) Calls(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[symbol]
}

func (m *MockFeed) FetchQuote(_ context.Context, symbol string) (*model.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[symbol]++
	if err := m.errs[symbol]; err != nil {
		return nil, err
	}
	p, ok := m.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("mock %s: %w", symbol, ErrNoPrice)
	}
	return &model.Quote{Symbol: symbol, Price: p, FetchedAt: time.Now()}, nil
}

func (m *MockFeed) FetchPriceHistory(_ context.Context, symbol string, years int) ([]model.OHLCV, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bars, ok := m.history[symbol]; ok {
		return bars, nil
	}
	p, ok := m.prices[symbol]
	if !ok {
		return nil, nil
	}
	return generateMockBars(p.InexactFloat64(), years*252), nil
}

func generateMockBars(basePrice float64, count int) []model.OHLCV {
	bars := make([]model.OHLCV, count)
	for i := 0; i < count; i++ {
		p := basePrice * (1 + float64(i-count/2)*0.001)
		bars[i] = model.OHLCV{
			Time:   time.Now().AddDate(0, 0, -(count - i)),
			Open:   p * 0.999,
			High:   p * 1.005,
			Low:    p * 0.995,
			Close:  p,
			Volume: 1000000,
		}
	}
	return bars
}

// PercentileSource supplies a symbol's price percentile for a calendar day,
// computing it when the day has no entry yet. A non-nil error only reports
// that the result could not be persisted.
type PercentileSource interface {
	GetOrRefresh(ctx context.Context, symbol, today string) (*float64, error)
}

// Collector turns provider quotes into grid samples. Provider calls are
// bounded by a weighted semaphore shared by every caller.
type Collector struct {
	feed        Feed
	percentiles PercentileSource
	sem         *semaphore.Weighted
	timeout     time.Duration
	log         zerolog.Logger
	now         func() time.Time
}

// NewCollector creates a Collector allowing at most maxConcurrent provider
// calls at once, each limited to timeout.
func NewCollector(feed Feed, percentiles PercentileSource, maxConcurrent int64, timeout time.Duration, log zerolog.Logger) *Collector {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Collector{
		feed:        feed,
		percentiles: percentiles,
		sem:         semaphore.NewWeighted(maxConcurrent),
		timeout:     timeout,
		log:         log.With().Str("component", "collector").Logger(),
		now:         time.Now,
	}
}

// SetPercentileSource attaches the percentile lookup. It must be called
// before the collector is shared between goroutines.
func (c *Collector) SetPercentileSource(p PercentileSource) {
	c.percentiles = p
}

// Sample fetches a quote for symbol and attaches today's percentile.
func (c *Collector) Sample(ctx context.Context, symbol string) (model.Sample, error) {
	q, err := c.quote(ctx, symbol)
	if err != nil {
		return model.Sample{}, err
	}

	s := model.Sample{Quote: *q}
	if c.percentiles == nil {
		return s, nil
	}
	// outside the semaphore: a refresh fetches history through it
	p, err := c.percentiles.GetOrRefresh(ctx, symbol, analysis.Today(c.now()))
	if err != nil {
		c.log.Warn().Str("symbol", symbol).Err(err).Msg("persist percentile")
	}
	s.Percentile = p
	return s, nil
}

func (c *Collector) quote(ctx context.Context, symbol string) (*model.Quote, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	fetchCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	q, err := c.feed.FetchQuote(fetchCtx, symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch quote %s from %s: %w", symbol, c.feed.Name(), err)
	}
	if !q.Price.IsPositive() {
		return nil, fmt.Errorf("fetch quote %s from %s: %w", symbol, c.feed.Name(), ErrNoPrice)
	}
	return q, nil
}

// FetchPriceHistory passes through to the feed under the same concurrency bound.
func (c *Collector) FetchPriceHistory(ctx context.Context, symbol string, years int) ([]model.OHLCV, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)
	return c.feed.FetchPriceHistory(ctx, symbol, years)
}
