package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an execution.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SideBuy, nil
	case "SELL":
		return SideSell, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

// Confirmation is the human-supplied record of a real execution.
type Confirmation struct {
	Symbol       string          `json:"ticker_symbol"`
	Side         Side            `json:"side"`
	ActualPrice  decimal.Decimal `json:"actual_price"`
	NewCostPrice decimal.Decimal `json:"new_cost_price"`
}

// TransactionRecord is one confirmed execution. Never mutated once written.
type TransactionRecord struct {
	Timestamp    time.Time
	TickerSymbol string
	Remark       string
	Side         Side
	TriggerPrice decimal.Decimal
	ActualPrice  decimal.Decimal
	NewCostPrice decimal.Decimal
}
