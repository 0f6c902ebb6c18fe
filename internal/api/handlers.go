package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"epex-trade-report/internal/aggregator"
	"go.uber.org/zap"
)

// Ledger is the read side the handlers report from.
// Both aggregator.Aggregator and reportclient.Client implement it.
type Ledger interface {
	TotalVolume(ctx context.Context, side string) (float64, error)
	PnL(ctx context.Context, strategyID string) (float64, error)
	Strategies(ctx context.Context) ([]string, error)
	Summarize(ctx context.Context, strategyIDs []string) (*aggregator.Summary, error)
}

// VolumeResponse is the body of /api/volume.
type VolumeResponse struct {
	Side   string  `json:"side"`
	Volume float64 `json:"volume"`
}

// PnLResponse is the body of /api/pnl.
type PnLResponse struct {
	Strategy string  `json:"strategy"`
	PnL      float64 `json:"pnl"`
}

// StrategiesResponse is the body of /api/strategies.
type StrategiesResponse struct {
	Strategies []string `json:"strategies"`
}

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log    *zap.Logger
	ledger Ledger
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, ledger Ledger) *APIHandler {
	return &APIHandler{log: log, ledger: ledger}
}

// Routes registers the API endpoints on a new mux.
func (h *APIHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/volume", h.VolumeHandler)
	mux.HandleFunc("/api/pnl", h.PnLHandler)
	mux.HandleFunc("/api/strategies", h.StrategiesHandler)
	mux.HandleFunc("/api/summary", h.SummaryHandler)
	mux.HandleFunc("/health", h.HealthHandler)
	return mux
}

// VolumeHandler returns the total traded volume for ?side=.
// A missing or unknown side is not an error, it just sums nothing.
func (h *APIHandler) VolumeHandler(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	side := r.URL.Query().Get("side")

	volume, err := h.ledger.TotalVolume(r.Context(), side)
	if err != nil {
		h.log.Error("Failed to compute total volume", zap.String("side", side), zap.Error(err))
		http.Error(w, "Failed to compute total volume", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, VolumeResponse{Side: side, Volume: volume})
}

// PnLHandler returns the PnL of ?strategy=.
func (h *APIHandler) PnLHandler(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	strategy := r.URL.Query().Get("strategy")

	pnl, err := h.ledger.PnL(r.Context(), strategy)
	if err != nil {
		h.log.Error("Failed to compute PnL", zap.String("strategy", strategy), zap.Error(err))
		http.Error(w, "Failed to compute PnL", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, PnLResponse{Strategy: strategy, PnL: pnl})
}

// StrategiesHandler lists the strategy ids present in the ledger.
func (h *APIHandler) StrategiesHandler(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	ids, err := h.ledger.Strategies(r.Context())
	if err != nil {
		h.log.Error("Failed to list strategies", zap.Error(err))
		http.Error(w, "Failed to list strategies", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, StrategiesResponse{Strategies: ids})
}

// SummaryHandler returns buy/sell volume plus PnL for every ?strategy= given,
// or for all strategies when none is.
func (h *APIHandler) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	strategies := r.URL.Query()["strategy"]

	summary, err := h.ledger.Summarize(r.Context(), strategies)
	if err != nil {
		h.log.Error("Failed to build summary", zap.Strings("strategies", strategies), zap.Error(err))
		http.Error(w, "Failed to build summary", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, summary)
}

// HealthHandler reports liveness.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to write response", zap.Error(err))
	}
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}
