package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GridSentinel/internal/model"
)

const chartBody = `{"chart":{"result":[{
	"meta":{"regularMarketPrice":%s},
	"timestamp":[1704153600,1704067200,1704240000],
	"indicators":{"quote":[{
		"open":[10.1,10.0,null],
		"high":[10.5,10.2,null],
		"low":[9.9,9.8,null],
		"close":[10.4,10.1,null],
		"volume":[1000,900,null]
	}]}
}],"error":null}}`

func chartServer(t *testing.T, price string, gotPath *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotPath != nil {
			*gotPath = r.URL.Path + "?" + r.URL.RawQuery
		}
		assert.Equal(t, "Mozilla/5.0", r.Header.Get("User-Agent"))
		fmt.Fprintf(w, chartBody, price)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestChartFeed(url string) *ChartFeed {
	f := NewChartFeed("")
	f.BaseURL = url + "/chart/"
	return f
}

func TestChartFeed_FetchPriceHistory(t *testing.T) {
	var path string
	srv := chartServer(t, "10.6", &path)

	bars, err := newTestChartFeed(srv.URL).FetchPriceHistory(context.Background(), "SPX", 10)
	require.NoError(t, err)

	assert.Equal(t, "/chart/^GSPC?interval=1d&range=10y", path)
	require.Len(t, bars, 2, "null bar dropped")
	assert.True(t, bars[0].Time.Before(bars[1].Time), "sorted oldest first")
	assert.Equal(t, 10.1, bars[0].Close)
	assert.Equal(t, 10.4, bars[1].Close)
}

func TestChartFeed_FetchQuote(t *testing.T) {
	srv := chartServer(t, "10.6", nil)
	q, err := newTestChartFeed(srv.URL).FetchQuote(context.Background(), "510300.SS")
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("10.6")))
	assert.Nil(t, q.TrailingPE)
	assert.Nil(t, q.DividendYield)
}

func TestChartFeed_FetchQuoteFallsBackToLastClose(t *testing.T) {
	srv := chartServer(t, "0", nil)
	q, err := newTestChartFeed(srv.URL).FetchQuote(context.Background(), "510300.SS")
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("10.4")))
}

func TestChartFeed_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("range") {
		case "5d":
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, "slow down")
		default:
			fmt.Fprint(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`)
		}
	}))
	defer srv.Close()
	f := newTestChartFeed(srv.URL)

	_, err := f.FetchQuote(context.Background(), "X")
	assert.ErrorContains(t, err, "status 429")

	_, err = f.FetchPriceHistory(context.Background(), "X", 1)
	assert.ErrorContains(t, err, "No data found")
}

func TestMockFeed(t *testing.T) {
	m := NewMockFeed()
	ctx := context.Background()

	_, err := m.FetchQuote(ctx, "SPY")
	assert.ErrorIs(t, err, ErrNoPrice)

	m.SetPrice("SPY", decimal.NewFromInt(500))
	q, err := m.FetchQuote(ctx, "SPY")
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(500)))

	m.SetError("SPY", errors.New("boom"))
	_, err = m.FetchQuote(ctx, "SPY")
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 3, m.Calls("SPY"))

	bars, err := m.FetchPriceHistory(ctx, "SPY", 1)
	require.NoError(t, err)
	assert.Len(t, bars, 252)
}

type staticPercentiles map[string]float64

func (s staticPercentiles) GetOrRefresh(_ context.Context, symbol, _ string) (*float64, error) {
	v, ok := s[symbol]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

// dayPercentiles records the day each lookup asked for.
type dayPercentiles struct {
	mu   sync.Mutex
	days []string
	err  error
}

func (d *dayPercentiles) GetOrRefresh(_ context.Context, _, today string) (*float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.days = append(d.days, today)
	v := 12.5
	return &v, d.err
}

func TestCollector_Sample(t *testing.T) {
	feed := NewMockFeed()
	feed.SetPrice("SPY", decimal.NewFromInt(500))
	feed.SetPrice("ZERO", decimal.Zero)
	c := NewCollector(feed, staticPercentiles{"SPY": 42}, 2, time.Second, zerolog.Nop())

	s, err := c.Sample(context.Background(), "SPY")
	require.NoError(t, err)
	assert.True(t, s.Price.Equal(decimal.NewFromInt(500)))
	require.NotNil(t, s.Percentile)
	assert.Equal(t, 42.0, *s.Percentile)

	_, err = c.Sample(context.Background(), "ZERO")
	assert.ErrorIs(t, err, ErrNoPrice)

	_, err = c.Sample(context.Background(), "MISSING")
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestCollector_SetPercentileSource(t *testing.T) {
	feed := NewMockFeed()
	feed.SetPrice("SPY", decimal.NewFromInt(500))
	c := NewCollector(feed, nil, 1, time.Second, zerolog.Nop())

	s, err := c.Sample(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Nil(t, s.Percentile)

	c.SetPercentileSource(staticPercentiles{"SPY": 7})
	s, err = c.Sample(context.Background(), "SPY")
	require.NoError(t, err)
	require.NotNil(t, s.Percentile)
	assert.Equal(t, 7.0, *s.Percentile)
}

func TestCollector_SampleUsesTodaysPercentile(t *testing.T) {
	feed := NewMockFeed()
	feed.SetPrice("SPY", decimal.NewFromInt(500))
	src := &dayPercentiles{err: errors.New("disk full")}
	c := NewCollector(feed, src, 1, time.Second, zerolog.Nop())
	c.now = func() time.Time { return time.Date(2026, 3, 9, 10, 0, 0, 0, time.Local) }

	// a persist failure still yields the percentile
	s, err := c.Sample(context.Background(), "SPY")
	require.NoError(t, err)
	require.NotNil(t, s.Percentile)
	assert.Equal(t, 12.5, *s.Percentile)
	assert.Equal(t, []string{"2026-03-09"}, src.days)
}

// historyPercentiles refreshes through the collector it is attached to.
type historyPercentiles struct{ c *Collector }

func (h historyPercentiles) GetOrRefresh(ctx context.Context, symbol, _ string) (*float64, error) {
	bars, err := h.c.FetchPriceHistory(ctx, symbol, 1)
	if err != nil {
		return nil, err
	}
	v := float64(len(bars))
	return &v, nil
}

func TestCollector_RefreshDoesNotHoldSemaphore(t *testing.T) {
	feed := NewMockFeed()
	feed.SetPrice("SPY", decimal.NewFromInt(500))
	c := NewCollector(feed, nil, 1, time.Second, zerolog.Nop())
	c.SetPercentileSource(historyPercentiles{c: c})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := c.Sample(ctx, "SPY")
	require.NoError(t, err)
	require.NotNil(t, s.Percentile)
	assert.Equal(t, 252.0, *s.Percentile)
}

// slowFeed records the highest number of overlapping quote calls.
type slowFeed struct {
	active, peak atomic.Int32
}

func (f *slowFeed) Name() string { return "slow" }

func (f *slowFeed) FetchQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	return &model.Quote{Symbol: symbol, Price: decimal.NewFromInt(1)}, nil
}

func (f *slowFeed) FetchPriceHistory(context.Context, string, int) ([]model.OHLCV, error) {
	return nil, nil
}

func TestCollector_BoundsConcurrency(t *testing.T) {
	feed := &slowFeed{}
	c := NewCollector(feed, nil, 2, time.Second, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Sample(context.Background(), fmt.Sprintf("S%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, feed.peak.Load(), int32(2))
	assert.GreaterOrEqual(t, feed.peak.Load(), int32(1))
}

type blockingFeed struct{ slowFeed }

func (f *blockingFeed) FetchQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCollector_Timeout(t *testing.T) {
	c := NewCollector(&blockingFeed{}, nil, 1, 20*time.Millisecond, zerolog.Nop())

	start := time.Now()
	_, err := c.Sample(context.Background(), "SPY")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runWithContext(ctx, func() (int, error) {
		time.Sleep(50 * time.Millisecond)
		return 1, nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	v, err := runWithContext(context.Background(), func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}
