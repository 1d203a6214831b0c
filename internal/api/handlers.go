package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"GridSentinel/internal/model"
	"GridSentinel/internal/scheduler"
	"GridSentinel/internal/strategy"
)

// Backend is what the HTTP surface drives.
type Backend interface {
	ConfirmExecution(ctx context.Context, c model.Confirmation) (model.Asset, model.TransactionRecord, error)
	Assets(ctx context.Context) ([]model.Asset, error)
}

// Handlers contains the HTTP handlers for confirmations and asset status.
type Handlers struct {
	backend Backend
	log     zerolog.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(b Backend, log zerolog.Logger) *Handlers {
	return &Handlers{
		backend: b,
		log:     log.With().Str("handler", "grid").Logger(),
	}
}

// RegisterRoutes mounts the handlers on r.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/assets", h.HandleGetAssets)
		r.Post("/confirmations", h.HandleConfirm)
	})
}

type assetView struct {
	TickerSymbol   string          `json:"ticker_symbol"`
	Remark         string          `json:"remark"`
	Enabled        bool            `json:"enabled"`
	Mode           model.Mode      `json:"mode"`
	CostPrice      decimal.Decimal `json:"cost_price"`
	BuyGrid        decimal.Decimal `json:"buy_grid"`
	SellGrid       decimal.Decimal `json:"sell_grid"`
	TakeProfitLine decimal.Decimal `json:"take_profit_line"`
	BuyPriceAlert  decimal.Decimal `json:"buy_price_alert"`
	SellPriceAlert decimal.Decimal `json:"sell_price_alert"`
}

func newAssetView(a model.Asset) assetView {
	return assetView{
		TickerSymbol:   a.TickerSymbol,
		Remark:         a.Remark,
		Enabled:        a.Enabled,
		Mode:           a.Mode,
		CostPrice:      a.CostPrice,
		BuyGrid:        a.BuyGrid,
		SellGrid:       a.SellGrid,
		TakeProfitLine: a.TakeProfitLine,
		BuyPriceAlert:  a.BuyPriceAlert,
		SellPriceAlert: a.SellPriceAlert,
	}
}

type confirmationRequest struct {
	TickerSymbol string      `json:"ticker_symbol"`
	Side         string      `json:"side"`
	ActualPrice  json.Number `json:"actual_price"`
	NewCostPrice json.Number `json:"new_cost_price"`
}

type confirmationResponse struct {
	Asset       assetView       `json:"asset"`
	Side        model.Side      `json:"side"`
	Trigger     decimal.Decimal `json:"trigger_price"`
	ActualPrice decimal.Decimal `json:"actual_price"`
	Timestamp   string          `json:"timestamp"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleHealth reports liveness.
// GET /healthz
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleGetAssets returns every valid asset with its levels and mode.
// GET /api/assets
func (h *Handlers) HandleGetAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.backend.Assets(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load assets")
		h.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	views := make([]assetView, 0, len(assets))
	for _, a := range assets {
		views = append(views, newAssetView(a))
	}
	h.writeJSON(w, http.StatusOK, views)
}

// HandleConfirm applies a confirmed execution.
// POST /api/confirmations
func (h *Handlers) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	c, err := strategy.ParseConfirmation(req.TickerSymbol, req.Side, req.ActualPrice.String(), req.NewCostPrice.String())
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	a, rec, err := h.backend.ConfirmExecution(r.Context(), c)
	if err != nil {
		h.log.Warn().Err(err).Str("symbol", c.Symbol).Msg("Confirmation rejected")
		h.writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, confirmationResponse{
		Asset:       newAssetView(a),
		Side:        rec.Side,
		Trigger:     rec.TriggerPrice,
		ActualPrice: rec.ActualPrice,
		Timestamp:   rec.Timestamp.Format("2006-01-02 15:04:05"),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, strategy.ErrInvalidConfirmation):
		return http.StatusBadRequest
	case errors.Is(err, scheduler.ErrUnknownAsset):
		return http.StatusNotFound
	case errors.Is(err, strategy.ErrNotAwaiting), errors.Is(err, scheduler.ErrAutoMode):
		return http.StatusConflict
	case errors.Is(err, scheduler.ErrStopped):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
