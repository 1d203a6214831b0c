package strategy

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"GridSentinel/internal/model"
)

// Policy selects how levels advance after a trigger fires.
type Policy string

const (
	// PolicyConfirm suspends the asset until a human confirms the real execution.
	PolicyConfirm Policy = "confirm"
	// PolicyAuto advances the fired level by one grid step and keeps monitoring.
	PolicyAuto Policy = "auto"
)

// ParsePolicy validates a policy name from configuration.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyConfirm, PolicyAuto:
		return p, nil
	}
	return "", fmt.Errorf("unknown grid policy %q", s)
}

var (
	// ErrNotAwaiting means the asset is not suspended on the confirmed side.
	ErrNotAwaiting = errors.New("asset is not awaiting this confirmation")
	// ErrInvalidConfirmation means the confirmation input was rejected; the
	// asset keeps waiting.
	ErrInvalidConfirmation = errors.New("invalid confirmation")
)

// levelPlaces is the precision levels are stored at. Buy levels round down and
// sell levels round up so an advance never lands back on the crossed price.
const levelPlaces = 4

var one = decimal.NewFromInt(1)

// Machine evaluates grid transitions for a single asset at a time. It holds no
// per-asset state and is safe to share.
type Machine struct {
	policy      Policy
	gridPercent decimal.Decimal
}

// NewMachine creates a Machine. gridPercent is the step used by the auto
// policy when an asset has no positive grid of its own.
func NewMachine(policy Policy, gridPercent decimal.Decimal) *Machine {
	return &Machine{policy: policy, gridPercent: gridPercent}
}

// Policy returns the configured policy.
func (m *Machine) Policy() Policy { return m.policy }

// Evaluate applies one price sample to the asset and returns the next asset
// value with the events it produced. The input asset is not modified.
func (m *Machine) Evaluate(a model.Asset, s model.Sample) (model.Asset, []model.Event) {
	if !s.Price.IsPositive() {
		return a, nil
	}
	if m.policy == PolicyAuto {
		return m.evaluateAuto(a, s)
	}
	return m.evaluateConfirm(a, s)
}

func (m *Machine) evaluateConfirm(a model.Asset, s model.Sample) (model.Asset, []model.Event) {
	if ev, ok := WaitingEvent(a); ok {
		ev.Sample = s
		return a, []model.Event{ev}
	}

	events := []model.Event{newEvent(model.EventStatus, a, s)}
	switch {
	case s.Price.LessThanOrEqual(a.BuyPriceAlert):
		a.Mode = model.ModeAwaitingBuy
		ev := newEvent(model.EventBuyAlert, a, s)
		ev.Trigger = a.BuyPriceAlert
		events = append(events, ev)
	case s.Price.GreaterThanOrEqual(a.SellPriceAlert):
		a.Mode = model.ModeAwaitingSell
		ev := newEvent(model.EventSellAlert, a, s)
		ev.Trigger = a.SellPriceAlert
		ev.ProfitPct = ProfitPct(s.Price, a.CostPrice)
		events = append(events, ev)
	}
	return a, events
}

func (m *Machine) evaluateAuto(a model.Asset, s model.Sample) (model.Asset, []model.Event) {
	a.Mode = model.ModeMonitoring
	events := []model.Event{newEvent(model.EventStatus, a, s)}

	switch {
	case s.Price.LessThanOrEqual(a.BuyPriceAlert):
		trigger := a.BuyPriceAlert
		a.BuyPriceAlert = stepDown(trigger, m.step(a.BuyGrid))
		ev := newEvent(model.EventBuyAlert, a, s)
		ev.Trigger = trigger
		events = append(events, ev)
	case s.Price.GreaterThanOrEqual(a.SellPriceAlert):
		trigger := a.SellPriceAlert
		a.SellPriceAlert = stepUp(trigger, m.step(a.SellGrid))
		ev := newEvent(model.EventSellAlert, a, s)
		ev.Trigger = trigger
		ev.ProfitPct = ProfitPct(s.Price, a.CostPrice)
		events = append(events, ev)
	}
	return a, events
}

// WaitingEvent describes a suspended asset without a price sample. ok is
// false when the asset is monitoring.
func WaitingEvent(a model.Asset) (model.Event, bool) {
	var ev model.Event
	switch a.Mode {
	case model.ModeAwaitingBuy:
		ev = newEvent(model.EventWaiting, a, model.Sample{})
		ev.Waiting = model.SideBuy
		ev.Trigger = a.BuyPriceAlert
	case model.ModeAwaitingSell:
		ev = newEvent(model.EventWaiting, a, model.Sample{})
		ev.Waiting = model.SideSell
		ev.Trigger = a.SellPriceAlert
	default:
		return ev, false
	}
	return ev, true
}

// Confirm applies a human-confirmed execution to a suspended asset. On error
// the returned asset is the input unchanged.
func (m *Machine) Confirm(a model.Asset, c model.Confirmation, now time.Time) (model.Asset, model.TransactionRecord, error) {
	if err := validate(a, c); err != nil {
		return a, model.TransactionRecord{}, err
	}

	rec := model.TransactionRecord{
		Timestamp:    now,
		TickerSymbol: a.TickerSymbol,
		Remark:       a.Remark,
		Side:         c.Side,
		ActualPrice:  c.ActualPrice,
		NewCostPrice: c.NewCostPrice,
	}

	next := a
	switch c.Side {
	case model.SideBuy:
		if a.Mode != model.ModeAwaitingBuy {
			return a, model.TransactionRecord{}, fmt.Errorf("%w: %s is %s", ErrNotAwaiting, a.TickerSymbol, a.Mode)
		}
		rec.TriggerPrice = a.BuyPriceAlert
		next.BuyPriceAlert = stepDown(c.ActualPrice, a.BuyGrid)
		next.SellPriceAlert = stepUp(c.NewCostPrice, a.TakeProfitLine)
	case model.SideSell:
		if a.Mode != model.ModeAwaitingSell {
			return a, model.TransactionRecord{}, fmt.Errorf("%w: %s is %s", ErrNotAwaiting, a.TickerSymbol, a.Mode)
		}
		rec.TriggerPrice = a.SellPriceAlert
		next.SellPriceAlert = stepUp(c.ActualPrice, a.SellGrid)
	}
	next.CostPrice = c.NewCostPrice
	next.Mode = model.ModeMonitoring
	return next, rec, nil
}

func validate(a model.Asset, c model.Confirmation) error {
	if c.Symbol != a.TickerSymbol {
		return fmt.Errorf("%w: symbol %q does not match %q", ErrInvalidConfirmation, c.Symbol, a.TickerSymbol)
	}
	if c.Side != model.SideBuy && c.Side != model.SideSell {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidConfirmation, c.Side)
	}
	if !c.ActualPrice.IsPositive() {
		return fmt.Errorf("%w: actual price must be positive", ErrInvalidConfirmation)
	}
	if c.NewCostPrice.IsNegative() {
		return fmt.Errorf("%w: cost price must not be negative", ErrInvalidConfirmation)
	}
	return nil
}

// ParseConfirmation builds a Confirmation from free-form text input.
func ParseConfirmation(symbol, side, actualText, costText string) (model.Confirmation, error) {
	sd, err := model.ParseSide(side)
	if err != nil {
		return model.Confirmation{}, fmt.Errorf("%w: %v", ErrInvalidConfirmation, err)
	}
	actual, err := decimal.NewFromString(strings.TrimSpace(actualText))
	if err != nil {
		return model.Confirmation{}, fmt.Errorf("%w: actual price %q is not a number", ErrInvalidConfirmation, actualText)
	}
	cost, err := decimal.NewFromString(strings.TrimSpace(costText))
	if err != nil {
		return model.Confirmation{}, fmt.Errorf("%w: cost price %q is not a number", ErrInvalidConfirmation, costText)
	}
	return model.Confirmation{
		Symbol:       strings.ToUpper(strings.TrimSpace(symbol)),
		Side:         sd,
		ActualPrice:  actual,
		NewCostPrice: cost,
	}, nil
}

// ProfitPct is the percentage gain of price over cost, +Inf when cost is not positive.
func ProfitPct(price, cost decimal.Decimal) float64 {
	if !cost.IsPositive() {
		return math.Inf(1)
	}
	return price.Div(cost).Sub(one).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

// step is the auto policy's advance for an asset grid.
func (m *Machine) step(grid decimal.Decimal) decimal.Decimal {
	if grid.IsPositive() {
		return grid
	}
	return m.gridPercent
}

func stepDown(level, grid decimal.Decimal) decimal.Decimal {
	return level.Mul(one.Sub(grid)).RoundFloor(levelPlaces)
}

func stepUp(level, grid decimal.Decimal) decimal.Decimal {
	return level.Mul(one.Add(grid)).RoundCeil(levelPlaces)
}

func newEvent(t model.EventType, a model.Asset, s model.Sample) model.Event {
	return model.Event{
		Type:      t,
		Asset:     a.AssetConfig,
		Sample:    s,
		BuyLevel:  a.BuyPriceAlert,
		SellLevel: a.SellPriceAlert,
	}
}
