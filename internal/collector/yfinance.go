package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/wnjoon/go-yfinance/pkg/models"
	"github.com/wnjoon/go-yfinance/pkg/ticker"

	"GridSentinel/internal/model"
)

// YFinanceFeed implements Feed with go-yfinance. Quotes carry trailing P/E and
// dividend yield when Yahoo reports them.
type YFinanceFeed struct {
	log zerolog.Logger
}

// NewYFinanceFeed creates a YFinanceFeed.
func NewYFinanceFeed(log zerolog.Logger) *YFinanceFeed {
	return &YFinanceFeed{log: log.With().Str("component", "yfinance").Logger()}
}

func (f *YFinanceFeed) Name() string { return "yfinance" }

// FetchQuote resolves the price from the quote, then the info current price,
// then the last close of a short history.
func (f *YFinanceFeed) FetchQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	return runWithContext(ctx, func() (*model.Quote, error) {
		t, err := ticker.New(symbol)
		if err != nil {
			return nil, fmt.Errorf("create ticker %s: %w", symbol, err)
		}
		defer t.Close()

		q := &model.Quote{Symbol: symbol, FetchedAt: time.Now()}
		var price float64

		if quote, err := t.Quote(); err == nil && quote != nil {
			price = quote.RegularMarketPrice
		} else if err != nil {
			f.log.Debug().Str("symbol", symbol).Err(err).Msg("quote unavailable")
		}

		if info, err := t.Info(); err == nil && info != nil {
			if price <= 0 && info.CurrentPrice > 0 {
				price = info.CurrentPrice
			}
			if info.TrailingPE > 0 {
				pe := info.TrailingPE
				q.TrailingPE = &pe
			}
			if info.DividendYield > 0 {
				dy := info.DividendYield
				q.DividendYield = &dy
			}
		} else if err != nil {
			f.log.Debug().Str("symbol", symbol).Err(err).Msg("info unavailable")
		}

		if price <= 0 {
			bars, err := t.History(models.HistoryParams{Period: "5d", Interval: "1d", AutoAdjust: true})
			if err == nil && len(bars) > 0 {
				price = bars[len(bars)-1].Close
			}
		}
		if price <= 0 {
			return nil, fmt.Errorf("yfinance %s: %w", symbol, ErrNoPrice)
		}
		q.Price = decimal.NewFromFloat(price)
		return q, nil
	})
}

func (f *YFinanceFeed) FetchPriceHistory(ctx context.Context, symbol string, years int) ([]model.OHLCV, error) {
	if years <= 0 {
		years = 1
	}
	return runWithContext(ctx, func() ([]model.OHLCV, error) {
		t, err := ticker.New(symbol)
		if err != nil {
			return nil, fmt.Errorf("create ticker %s: %w", symbol, err)
		}
		defer t.Close()

		bars, err := t.History(models.HistoryParams{
			Period:     fmt.Sprintf("%dy", years),
			Interval:   "1d",
			AutoAdjust: true,
		})
		if err != nil {
			return nil, fmt.Errorf("history %s: %w", symbol, err)
		}

		out := make([]model.OHLCV, 0, len(bars))
		for _, b := range bars {
			if b.Close <= 0 {
				continue
			}
			out = append(out, model.OHLCV{
				Time:   b.Date,
				Open:   b.Open,
				High:   b.High,
				Low:    b.Low,
				Close:  b.Close,
				Volume: float64(b.Volume),
			})
		}
		return out, nil
	})
}

// runWithContext returns when fn finishes or ctx is done, whichever is first.
// The client has no context support, so an abandoned call finishes in the background.
func runWithContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
