package analysis

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"GridSentinel/internal/model"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchPriceHistory(ctx context.Context, symbol string, years int) ([]model.OHLCV, error) {
	args := m.Called(ctx, symbol, years)
	bars, _ := args.Get(0).([]model.OHLCV)
	return bars, args.Error(1)
}

// countingFetcher is safe for concurrent calls and slow enough for callers to overlap.
type countingFetcher struct {
	calls atomic.Int32
	bars  []model.OHLCV
}

func (f *countingFetcher) FetchPriceHistory(ctx context.Context, symbol string, years int) ([]model.OHLCV, error) {
	f.calls.Add(1)
	time.Sleep(20 * time.Millisecond)
	return f.bars, nil
}

func bars(closes ...float64) []model.OHLCV {
	out := make([]model.OHLCV, len(closes))
	start := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		out[i] = model.OHLCV{Time: start.AddDate(0, 0, i), Close: c}
	}
	return out
}

func TestGetOrRefresh_OncePerDay(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "analysis_cache.json")
	f := new(mockFetcher)
	f.On("FetchPriceHistory", mock.Anything, "SPY", HistoryYears).Return(bars(1, 2, 3, 4), nil).Once()

	c := NewCache(ctx, NewFileStore(path), f, zerolog.Nop())

	p, err := c.GetOrRefresh(ctx, "SPY", "2024-05-06")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.InDelta(t, 100.0, *p, 1e-9)

	p, err = c.GetOrRefresh(ctx, "SPY", "2024-05-06")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.InDelta(t, 100.0, *p, 1e-9)

	f.AssertNumberOfCalls(t, "FetchPriceHistory", 1)
}

func TestGetOrRefresh_CachesFailure(t *testing.T) {
	ctx := context.Background()
	f := new(mockFetcher)
	f.On("FetchPriceHistory", mock.Anything, "BAD", HistoryYears).Return(nil, errors.New("timeout")).Once()

	c := NewCache(ctx, NewFileStore(filepath.Join(t.TempDir(), "cache.json")), f, zerolog.Nop())

	for i := 0; i < 3; i++ {
		p, err := c.GetOrRefresh(ctx, "BAD", "2024-05-06")
		require.NoError(t, err)
		assert.Nil(t, p)
	}
	f.AssertExpectations(t)

	p, ok := c.Get("BAD", "2024-05-06")
	assert.True(t, ok, "absent result is cached")
	assert.Nil(t, p)
}

func TestGetOrRefresh_EmptyHistory(t *testing.T) {
	ctx := context.Background()
	f := new(mockFetcher)
	f.On("FetchPriceHistory", mock.Anything, "NEW", HistoryYears).Return([]model.OHLCV{}, nil).Once()

	c := NewCache(ctx, NewFileStore(filepath.Join(t.TempDir(), "cache.json")), f, zerolog.Nop())
	p, err := c.GetOrRefresh(ctx, "NEW", "2024-05-06")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestGetOrRefresh_NewDayRecomputes(t *testing.T) {
	ctx := context.Background()
	f := new(mockFetcher)
	f.On("FetchPriceHistory", mock.Anything, "SPY", HistoryYears).Return(bars(4, 3, 2, 1), nil).Twice()

	c := NewCache(ctx, NewFileStore(filepath.Join(t.TempDir(), "cache.json")), f, zerolog.Nop())
	_, err := c.GetOrRefresh(ctx, "SPY", "2024-05-06")
	require.NoError(t, err)
	_, err = c.GetOrRefresh(ctx, "SPY", "2024-05-07")
	require.NoError(t, err)

	f.AssertExpectations(t)
}

func TestGetOrRefresh_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "analysis_cache.json")

	first := new(mockFetcher)
	first.On("FetchPriceHistory", mock.Anything, "SPY", HistoryYears).Return(nil, errors.New("down")).Once()
	c := NewCache(ctx, NewFileStore(path), first, zerolog.Nop())
	_, err := c.GetOrRefresh(ctx, "SPY", "2024-05-06")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"SPY": {"date": "2024-05-06", "price_percentile": null}}`, string(data))

	second := new(mockFetcher)
	restarted := NewCache(ctx, NewFileStore(path), second, zerolog.Nop())
	p, err := restarted.GetOrRefresh(ctx, "SPY", "2024-05-06")
	require.NoError(t, err)
	assert.Nil(t, p)
	second.AssertNotCalled(t, "FetchPriceHistory", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetOrRefresh_ConcurrentCallersShareComputation(t *testing.T) {
	ctx := context.Background()
	f := &countingFetcher{bars: bars(1, 2, 3)}
	c := NewCache(ctx, NewFileStore(filepath.Join(t.TempDir(), "cache.json")), f, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := c.GetOrRefresh(ctx, "QQQ", "2024-05-06")
			assert.NoError(t, err)
			assert.NotNil(t, p)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
}

func TestRefreshAll(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "analysis_cache.json")
	f := new(mockFetcher)
	f.On("FetchPriceHistory", mock.Anything, "A", HistoryYears).Return(bars(1, 2), nil).Once()
	f.On("FetchPriceHistory", mock.Anything, "B", HistoryYears).Return(nil, errors.New("no data")).Once()

	c := NewCache(ctx, NewFileStore(path), f, zerolog.Nop())
	require.NoError(t, c.RefreshAll(ctx, []string{"A", "B"}, "2024-05-06"))
	require.NoError(t, c.RefreshAll(ctx, []string{"A", "B"}, "2024-05-06"))
	f.AssertExpectations(t)

	records, err := NewFileStore(path).Load(ctx)
	require.NoError(t, err)
	require.Contains(t, records, "A")
	require.Contains(t, records, "B")
	assert.NotNil(t, records["A"].PricePercentile)
	assert.Nil(t, records["B"].PricePercentile)
}

func TestNewCache_UnreadableStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analysis_cache.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	c := NewCache(context.Background(), NewFileStore(path), new(mockFetcher), zerolog.Nop())
	_, ok := c.Get("SPY", "2024-05-06")
	assert.False(t, ok)
}

func TestToday(t *testing.T) {
	ts := time.Date(2024, 12, 31, 23, 59, 0, 0, time.Local)
	assert.Equal(t, "2024-12-31", Today(ts))
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	key := "gridsentinel:test:" + t.Name()

	rs, err := NewRedisStore(ctx, RedisConfig{Addr: addr, Key: key})
	require.NoError(t, err)
	defer rs.Close()
	defer rs.client.Del(ctx, key)

	p := 42.5
	in := map[string]model.AnalysisRecord{
		"SPY": {Date: "2024-05-06", PricePercentile: &p},
		"BAD": {Date: "2024-05-06"},
	}
	require.NoError(t, rs.Save(ctx, in))

	out, err := rs.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestOpenStore_FallsBackToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	s := OpenStore(context.Background(), path, RedisConfig{}, zerolog.Nop())
	assert.IsType(t, &FileStore{}, s)

	s = OpenStore(context.Background(), path, RedisConfig{Addr: "127.0.0.1:1"}, zerolog.Nop())
	assert.IsType(t, &FileStore{}, s)
}
