package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OHLCV represents a single candlestick bar.
type OHLCV struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Quote is a live price observation with its optional valuation fields.
type Quote struct {
	Symbol        string
	Price         decimal.Decimal
	TrailingPE    *float64
	DividendYield *float64 // fraction, 0.025 means 2.5%
	FetchedAt     time.Time
}

// Sample is what the grid consumes for one asset in one cycle.
type Sample struct {
	Quote
	Percentile *float64 // 10-year price percentile, 0~100
}

// AnalysisRecord is one day's cached percentile for a symbol.
// A nil percentile is a valid cached result.
type AnalysisRecord struct {
	Date            string   `json:"date"`
	PricePercentile *float64 `json:"price_percentile"`
}
