package store

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"GridSentinel/internal/model"
)

// Legacy keys written by the flag-based confirmation flow. Read, never written.
const (
	legacyWaitingBuy  = "is_waiting_for_buy_input"
	legacyWaitingSell = "is_waiting_for_sell_input"
)

// InvalidAsset is an entry of the asset file that could not be decoded. It is
// written back unchanged on every save.
type InvalidAsset struct {
	Symbol string
	Err    error
}

// Snapshot is an in-memory copy of the asset file at one point in time.
type Snapshot struct {
	Assets  []model.Asset
	Invalid []InvalidAsset

	entries []entry
	top     map[string]json.RawMessage
	hash    [sha256.Size]byte
}

// entry keeps file order. Valid entries point into Assets; invalid ones only
// carry their raw bytes.
type entry struct {
	raw    json.RawMessage
	fields map[string]json.RawMessage
	index  int
}

type assetRecord struct {
	TickerSymbol   string           `json:"ticker_symbol"`
	Remark         string           `json:"remark"`
	Enabled        bool             `json:"enabled"`
	CostPrice      decimal.Decimal  `json:"cost_price"`
	BuyGrid        *decimal.Decimal `json:"buy_grid"`
	SellGrid       *decimal.Decimal `json:"sell_grid"`
	TakeProfitLine *decimal.Decimal `json:"take_profit_line"`
	BuyPriceAlert  *decimal.Decimal `json:"buy_price_alert"`
	SellPriceAlert *decimal.Decimal `json:"sell_price_alert"`
	Mode           model.Mode       `json:"mode"`
	WaitingBuy     bool             `json:"is_waiting_for_buy_input"`
	WaitingSell    bool             `json:"is_waiting_for_sell_input"`
}

func decodeSnapshot(data []byte) (*Snapshot, error) {
	snap := &Snapshot{hash: sha256.Sum256(data)}
	if err := json.Unmarshal(data, &snap.top); err != nil {
		return nil, err
	}
	if snap.top == nil {
		return nil, errors.New("document is not an object")
	}

	var raws []json.RawMessage
	if rawAssets, ok := snap.top["assets"]; ok {
		if err := json.Unmarshal(rawAssets, &raws); err != nil {
			return nil, fmt.Errorf("assets: %w", err)
		}
	}

	seen := make(map[string]bool, len(raws))
	for i, raw := range raws {
		e := entry{raw: raw, index: -1}
		a, fields, err := decodeAsset(raw)
		if err == nil && seen[a.TickerSymbol] {
			err = errors.New("duplicate ticker_symbol")
		}
		if err != nil {
			symbol := a.TickerSymbol
			if symbol == "" {
				symbol = fmt.Sprintf("#%d", i)
			}
			snap.Invalid = append(snap.Invalid, InvalidAsset{Symbol: symbol, Err: err})
			snap.entries = append(snap.entries, e)
			continue
		}
		seen[a.TickerSymbol] = true
		e.fields = fields
		e.index = len(snap.Assets)
		snap.Assets = append(snap.Assets, a)
		snap.entries = append(snap.entries, e)
	}
	return snap, nil
}

func decodeAsset(raw json.RawMessage) (model.Asset, map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return model.Asset{}, nil, err
	}
	var rec assetRecord
	if sym, ok := fields["ticker_symbol"]; ok {
		_ = json.Unmarshal(sym, &rec.TickerSymbol)
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.Asset{AssetConfig: model.AssetConfig{TickerSymbol: strings.TrimSpace(rec.TickerSymbol)}}, nil, err
	}

	a := model.Asset{
		AssetConfig: model.AssetConfig{
			TickerSymbol:   strings.TrimSpace(rec.TickerSymbol),
			Remark:         rec.Remark,
			Enabled:        rec.Enabled,
			BuyGrid:        orDefault(rec.BuyGrid, model.DefaultBuyGrid),
			SellGrid:       orDefault(rec.SellGrid, model.DefaultSellGrid),
			TakeProfitLine: orDefault(rec.TakeProfitLine, model.DefaultTakeProfitLine),
		},
		AssetState: model.AssetState{
			CostPrice: rec.CostPrice,
			Mode:      migrateMode(rec),
		},
	}
	if a.TickerSymbol == "" {
		return a, nil, errors.New("missing ticker_symbol")
	}
	if rec.BuyPriceAlert == nil || rec.SellPriceAlert == nil {
		return a, nil, errors.New("missing buy_price_alert or sell_price_alert")
	}
	a.BuyPriceAlert = *rec.BuyPriceAlert
	a.SellPriceAlert = *rec.SellPriceAlert

	if err := validateAsset(a); err != nil {
		return a, nil, err
	}
	return a, fields, nil
}

// migrateMode derives the mode of files written before mode existed.
func migrateMode(rec assetRecord) model.Mode {
	if rec.Mode != "" {
		return rec.Mode
	}
	switch {
	case rec.WaitingBuy:
		return model.ModeAwaitingBuy
	case rec.WaitingSell:
		return model.ModeAwaitingSell
	}
	return model.ModeMonitoring
}

func validateAsset(a model.Asset) error {
	one := decimal.NewFromInt(1)
	switch {
	case !a.Mode.Valid():
		return fmt.Errorf("unknown mode %q", a.Mode)
	case a.CostPrice.IsNegative():
		return errors.New("cost_price is negative")
	case a.BuyGrid.IsNegative() || a.BuyGrid.GreaterThanOrEqual(one):
		return errors.New("buy_grid must be in [0, 1)")
	case a.SellGrid.IsNegative():
		return errors.New("sell_grid is negative")
	case a.TakeProfitLine.IsNegative():
		return errors.New("take_profit_line is negative")
	case a.BuyPriceAlert.IsNegative() || a.SellPriceAlert.IsNegative():
		return errors.New("price alert is negative")
	}
	return nil
}

func orDefault(v *decimal.Decimal, def decimal.Decimal) decimal.Decimal {
	if v == nil {
		return def
	}
	return *v
}

func (s *Snapshot) encode() ([]byte, error) {
	assets := make([]json.RawMessage, 0, len(s.entries))
	for _, e := range s.entries {
		if e.index < 0 {
			assets = append(assets, e.raw)
			continue
		}
		raw, err := encodeAsset(s.Assets[e.index], e.fields)
		if err != nil {
			return nil, err
		}
		assets = append(assets, raw)
	}

	top := make(map[string]json.RawMessage, len(s.top)+1)
	for k, v := range s.top {
		top[k] = v
	}
	rawAssets, err := json.Marshal(assets)
	if err != nil {
		return nil, err
	}
	top["assets"] = rawAssets

	data, err := json.MarshalIndent(top, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// encodeAsset overlays the known fields on the entry's original object so
// keys this program does not know about survive a rewrite. Decimals are
// written as plain JSON numbers, the way the file is edited by hand.
func encodeAsset(a model.Asset, original map[string]json.RawMessage) (json.RawMessage, error) {
	fields := make(map[string]json.RawMessage, len(original)+10)
	for k, v := range original {
		fields[k] = v
	}
	delete(fields, legacyWaitingBuy)
	delete(fields, legacyWaitingSell)

	for k, v := range map[string]decimal.Decimal{
		"buy_grid":         a.BuyGrid,
		"sell_grid":        a.SellGrid,
		"take_profit_line": a.TakeProfitLine,
		"cost_price":       a.CostPrice,
		"buy_price_alert":  a.BuyPriceAlert,
		"sell_price_alert": a.SellPriceAlert,
	} {
		fields[k] = json.RawMessage(v.String())
	}
	for k, v := range map[string]any{
		"ticker_symbol": a.TickerSymbol,
		"remark":        a.Remark,
		"enabled":       a.Enabled,
		"mode":          a.Mode,
	} {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		fields[k] = raw
	}
	return json.Marshal(fields)
}

// Find returns the valid asset with the given symbol.
func (s *Snapshot) Find(symbol string) (model.Asset, bool) {
	for _, a := range s.Assets {
		if a.TickerSymbol == symbol {
			return a, true
		}
	}
	return model.Asset{}, false
}

// SetState replaces the state of the asset with a's symbol and reports
// whether anything changed.
func (s *Snapshot) SetState(a model.Asset) bool {
	for i := range s.Assets {
		if s.Assets[i].TickerSymbol != a.TickerSymbol {
			continue
		}
		if s.Assets[i].AssetState.Equal(a.AssetState) {
			return false
		}
		s.Assets[i].AssetState = a.AssetState
		return true
	}
	return false
}

// Enabled returns the valid assets that are switched on, in file order.
func (s *Snapshot) Enabled() []model.Asset {
	var out []model.Asset
	for _, a := range s.Assets {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out
}
