package collector

import (
	"context"
	"errors"

	"GridSentinel/internal/model"
)

// ErrNoPrice is returned when a provider answers without a usable price.
var ErrNoPrice = errors.New("no price available")

// Feed is a market-data provider.
type Feed interface {
	// FetchQuote returns the live price with optional P/E and dividend yield.
	FetchQuote(ctx context.Context, symbol string) (*model.Quote, error)
	// FetchPriceHistory returns daily bars covering the last years, oldest first.
	FetchPriceHistory(ctx context.Context, symbol string, years int) ([]model.OHLCV, error)
	Name() string
}
