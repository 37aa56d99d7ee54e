package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	authmodel "github.com/medsurplus/vendorchat/internal/model/auth"
	reportmodel "github.com/medsurplus/vendorchat/internal/model/report"
	reportservice "github.com/medsurplus/vendorchat/internal/service/report"
	"github.com/medsurplus/vendorchat/pkg/utils"
)

const spreadsheetMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Sessions exposes the active session.
type Sessions interface {
	Current() (authmodel.Session, bool)
}

// Handler serves the report retrieval endpoints.
type Handler struct {
	reports  *reportservice.Service
	sessions Sessions
	logger   *zap.Logger
}

func New(reports *reportservice.Service, sessions Sessions, logger *zap.Logger) *Handler {
	return &Handler{reports: reports, sessions: sessions, logger: logger}
}

// RegisterRoutes mounts the report endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/reports/{kind}/spreadsheet", h.handleSpreadsheet)
	r.Post("/reports/sql", h.handleSQL)
	r.Post("/reports/{kind}", h.handleRows)
}

// parseKind maps the URL segment onto a report kind.
func parseKind(segment string) (reportmodel.Kind, bool) {
	kind := reportmodel.Kind(strings.ReplaceAll(segment, "-", "_"))
	return kind, kind.Valid()
}

// scopeParams restricts report parameters to the caller's own vendor unless
// they are an administrator. A vendor account without a slug cannot be
// mapped to report data, so it is refused outright.
func scopeParams(user authmodel.User, p *reportmodel.Params) error {
	if user.IsAdministrator() {
		return nil
	}
	if user.VendorSlug == "" {
		return fmt.Errorf("vendor account %q has no vendor mapping", user.Email)
	}
	p.VendorID = user.ID
	return nil
}

func (h *Handler) handleSpreadsheet(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessions.Current()
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	kind, ok := parseKind(chi.URLParam(r, "kind"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "unknown report")
		return
	}

	params := reportmodel.Params{
		Months:     queryInt(r, "months"),
		MinQuality: queryFloat(r, "min_quality"),
	}
	if err := scopeParams(sess.User, &params); err != nil {
		utils.RespondError(w, http.StatusForbidden, err.Error())
		return
	}

	result, err := h.reports.FetchSpreadsheet(r.Context(), sess.Token, kind, params)
	if err != nil {
		h.respondReportError(w, kind, err)
		return
	}
	if !result.Success {
		utils.RespondJSON(w, http.StatusOK, result)
		return
	}

	w.Header().Set("Content-Type", spreadsheetMIME)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", result.Artifact.Filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Artifact.Blob); err != nil {
		h.logger.Warn("failed to stream spreadsheet", zap.Error(err))
	}
}

type rowsPayload struct {
	Months      int     `json:"months,omitempty"`
	MinQuality  float64 `json:"min_quality,omitempty"`
	Limit       int     `json:"limit,omitempty"`
	Skip        int     `json:"skip,omitempty"`
	DownloadCSV bool    `json:"download_csv,omitempty"`
}

func (h *Handler) handleRows(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessions.Current()
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	kind, ok := parseKind(chi.URLParam(r, "kind"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "unknown report")
		return
	}

	var payload rowsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	params := reportmodel.Params{
		Months:     payload.Months,
		MinQuality: payload.MinQuality,
		Limit:      payload.Limit,
		Skip:       payload.Skip,
	}
	if err := scopeParams(sess.User, &params); err != nil {
		utils.RespondError(w, http.StatusForbidden, err.Error())
		return
	}

	result, err := h.reports.FetchRows(r.Context(), sess.Token, kind, params, payload.DownloadCSV)
	if err != nil {
		h.respondReportError(w, kind, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, result)
}

type sqlPayload struct {
	Query string `json:"query"`
}

type sqlResponse struct {
	Success bool              `json:"success"`
	Results []reportmodel.Row `json:"results,omitempty"`
	Message string            `json:"message"`
}

// handleSQL forwards a raw query to the SQL passthrough webhook. Raw SQL
// bypasses vendor scoping entirely, so only administrators may reach it.
func (h *Handler) handleSQL(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessions.Current()
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	if !sess.User.IsAdministrator() {
		utils.RespondError(w, http.StatusForbidden, "administrator role required")
		return
	}

	var payload sqlPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || strings.TrimSpace(payload.Query) == "" {
		utils.RespondError(w, http.StatusBadRequest, "query is required")
		return
	}

	rows, err := h.reports.RunSQL(r.Context(), sess.Token, payload.Query)
	if err != nil {
		h.logger.Error("sql passthrough failed", zap.Error(err))
		utils.RespondJSON(w, http.StatusOK, sqlResponse{
			Message: "There was an error executing your query. Please check your query syntax and try again.",
		})
		return
	}

	utils.RespondJSON(w, http.StatusOK, sqlResponse{
		Success: true,
		Results: rows,
		Message: "Query executed successfully",
	})
}

func (h *Handler) respondReportError(w http.ResponseWriter, kind reportmodel.Kind, err error) {
	var repErr *reportservice.Error
	if errors.As(err, &repErr) && repErr.Status == http.StatusUnauthorized {
		utils.RespondError(w, http.StatusUnauthorized, "session expired")
		return
	}
	h.logger.Error("report fetch failed", zap.String("kind", string(kind)), zap.Error(err))
	utils.RespondError(w, http.StatusBadGateway, "report backend unavailable")
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return v
}

func queryFloat(r *http.Request, key string) float64 {
	v, err := strconv.ParseFloat(r.URL.Query().Get(key), 64)
	if err != nil {
		return 0
	}
	return v
}
