package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	authmodel "github.com/medsurplus/vendorchat/internal/model/auth"
	authservice "github.com/medsurplus/vendorchat/internal/service/auth"
	"github.com/medsurplus/vendorchat/pkg/utils"
)

// Handler serves session endpoints, including the restricted-origin
// token handoff used when the chat runs embedded in the marketplace site.
type Handler struct {
	gateway      *authservice.Service
	parentOrigin string
	logger       *zap.Logger
}

// New creates the auth handler.
func New(gateway *authservice.Service, parentOrigin string, logger *zap.Logger) *Handler {
	return &Handler{
		gateway:      gateway,
		parentOrigin: parentOrigin,
		logger:       logger,
	}
}

// RegisterRoutes mounts the session endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/logout", h.handleLogout)
	r.Get("/auth/session", h.handleSession)
	r.Get("/auth/handshake", h.handleHandshakeReady)
	r.Post("/auth/handshake", h.handleHandshake)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Username == "" || payload.Password == "" {
		utils.RespondError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	sess, err := h.gateway.Login(r.Context(), payload.Username, payload.Password)
	if err != nil {
		var authErr *authservice.Error
		if errors.As(err, &authErr) {
			status := authErr.Status
			if status == 0 || status >= 500 {
				status = http.StatusUnauthorized
			}
			utils.RespondError(w, status, authErr.Message)
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "login failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.gateway.Logout(); err != nil {
		h.logger.Error("logout failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.gateway.Current()
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	utils.RespondJSON(w, http.StatusOK, sess)
}

// handleHandshakeReady announces readiness to the hosting parent.
func (h *Handler) handleHandshakeReady(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

// handleHandshake accepts a one-time token+profile handoff, but only from
// the fixed expected parent origin. Anything else is silently ignored: the
// response carries no hint that the handoff was rejected.
func (h *Handler) handleHandshake(w http.ResponseWriter, r *http.Request) {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin != h.parentOrigin {
		h.logger.Debug("ignored handshake from unexpected origin", zap.String("origin", origin))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var payload struct {
		Token string         `json:"token"`
		User  authmodel.User `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Token == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.gateway.Adopt(authmodel.Session{Token: payload.Token, User: payload.User}); err != nil {
		h.logger.Error("failed to adopt handed-off session", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "handshake failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RequireSession rejects requests when no session is active. When the
// caller supplies a bearer token it must match the active session's.
func RequireSession(gateway *authservice.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := gateway.Current()
			if !ok {
				utils.RespondError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			if header := r.Header.Get("Authorization"); header != "" {
				token := strings.TrimPrefix(header, "Bearer ")
				if token != sess.Token {
					utils.RespondError(w, http.StatusUnauthorized, "token mismatch")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
