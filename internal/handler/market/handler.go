package market

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	authmodel "github.com/medsurplus/vendorchat/internal/model/auth"
	marketmodel "github.com/medsurplus/vendorchat/internal/model/market"
	marketservice "github.com/medsurplus/vendorchat/internal/service/market"
	"github.com/medsurplus/vendorchat/pkg/utils"
)

// Sessions exposes the active session.
type Sessions interface {
	Current() (authmodel.Session, bool)
}

// Handler serves the market valuation endpoint.
type Handler struct {
	market   *marketservice.Service
	sessions Sessions
	logger   *zap.Logger
}

func New(market *marketservice.Service, sessions Sessions, logger *zap.Logger) *Handler {
	return &Handler{market: market, sessions: sessions, logger: logger}
}

// RegisterRoutes mounts the market endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/market/lookup", h.handleLookup)
}

type lookupPayload struct {
	Items   []marketmodel.Item `json:"items"`
	Sources []string           `json:"sources,omitempty"`
}

func (h *Handler) handleLookup(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessions.Current()
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var payload lookupPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(payload.Items) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "at least one item is required")
		return
	}

	sources := payload.Sources
	if len(sources) == 0 {
		sources = h.market.DefaultSources()
	}

	result, err := h.market.Lookup(r.Context(), sess.Token, payload.Items, sources)
	if err != nil {
		h.logger.Error("market lookup failed", zap.Error(err))
		utils.RespondError(w, http.StatusBadGateway, "market lookup unavailable")
		return
	}

	utils.RespondJSON(w, http.StatusOK, result)
}
