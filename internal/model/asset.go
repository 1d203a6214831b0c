package model

import "github.com/shopspring/decimal"

// Mode is the suspension state of an asset's grid.
type Mode string

const (
	ModeMonitoring   Mode = "MONITORING"
	ModeAwaitingBuy  Mode = "AWAITING_BUY_CONFIRMATION"
	ModeAwaitingSell Mode = "AWAITING_SELL_CONFIRMATION"
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeMonitoring, ModeAwaitingBuy, ModeAwaitingSell:
		return true
	}
	return false
}

// Strategy defaults used when the asset file omits a field.
var (
	DefaultBuyGrid        = decimal.RequireFromString("0.04")
	DefaultSellGrid       = decimal.RequireFromString("0.04")
	DefaultTakeProfitLine = decimal.RequireFromString("0.15")
)

// AssetConfig holds identity and strategy parameters for one monitored instrument.
type AssetConfig struct {
	TickerSymbol   string          `json:"ticker_symbol"`
	Remark         string          `json:"remark"`
	Enabled        bool            `json:"enabled"`
	BuyGrid        decimal.Decimal `json:"buy_grid"`
	SellGrid       decimal.Decimal `json:"sell_grid"`
	TakeProfitLine decimal.Decimal `json:"take_profit_line"`
}

// Label returns the display name of the asset.
func (c AssetConfig) Label() string {
	if c.Remark == "" {
		return c.TickerSymbol
	}
	return c.Remark + "(" + c.TickerSymbol + ")"
}

// AssetState is the mutable, persisted part of an asset.
// CostPrice changes only on a confirmed execution.
type AssetState struct {
	BuyPriceAlert  decimal.Decimal `json:"buy_price_alert"`
	SellPriceAlert decimal.Decimal `json:"sell_price_alert"`
	CostPrice      decimal.Decimal `json:"cost_price"`
	Mode           Mode            `json:"mode"`
}

// Equal compares two states by value.
func (s AssetState) Equal(o AssetState) bool {
	return s.Mode == o.Mode &&
		s.BuyPriceAlert.Equal(o.BuyPriceAlert) &&
		s.SellPriceAlert.Equal(o.SellPriceAlert) &&
		s.CostPrice.Equal(o.CostPrice)
}

// Asset is one entry of the asset file.
type Asset struct {
	AssetConfig
	AssetState
}

// Awaiting reports whether the asset is suspended pending a confirmation.
func (a Asset) Awaiting() bool {
	return a.Mode == ModeAwaitingBuy || a.Mode == ModeAwaitingSell
}
