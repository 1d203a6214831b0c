package model

import "github.com/shopspring/decimal"

// EventType indicates what a grid evaluation produced.
type EventType string

const (
	EventStatus    EventType = "STATUS"
	EventWaiting   EventType = "WAITING"
	EventBuyAlert  EventType = "BUY_ALERT"
	EventSellAlert EventType = "SELL_ALERT"
)

// Event is the output of one grid evaluation.
type Event struct {
	Type      EventType
	Asset     AssetConfig
	Sample    Sample
	Trigger   decimal.Decimal // level that fired, or the pending level while waiting
	BuyLevel  decimal.Decimal // levels after the evaluation
	SellLevel decimal.Decimal
	ProfitPct float64 // sell alerts only; +Inf when cost price is not positive
	Waiting   Side    // waiting events only
}

// IsAlert reports whether the event needs human attention.
func (e Event) IsAlert() bool {
	return e.Type == EventBuyAlert || e.Type == EventSellAlert
}
