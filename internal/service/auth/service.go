// Package auth implements the session gateway: it exchanges credentials for
// a bearer token at the marketplace auth endpoint and tracks the
// process-wide session.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/medsurplus/vendorchat/internal/config"
	authmodel "github.com/medsurplus/vendorchat/internal/model/auth"
)

// Error is an authentication failure: rejected credentials, an expired
// token, or a transport failure reaching the auth endpoint.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("auth failed (%d): %s", e.Status, e.Message)
	}
	return "auth failed: " + e.Message
}

// Service is the session gateway. The current session is process-wide state
// written only by Login, Logout and Adopt.
type Service struct {
	client *resty.Client
	creds  CredentialStore
	logger *zap.Logger

	mu      sync.RWMutex
	current *authmodel.Session
}

// CredentialStore persists the session across restarts.
type CredentialStore interface {
	SaveSession(authmodel.Session) error
	LoadSession() (authmodel.Session, bool, error)
	Clear() error
}

// NewService wires the gateway against the configured token endpoint.
func NewService(cfg config.AuthConfig, creds CredentialStore, logger *zap.Logger) *Service {
	client := resty.New()
	client.SetBaseURL(cfg.TokenURL)
	client.SetTimeout(cfg.Timeout)

	return &Service{
		client: client,
		creds:  creds,
		logger: logger,
	}
}

// Restore loads a persisted session into memory, surviving a restart.
func (s *Service) Restore() error {
	sess, ok, err := s.creds.LoadSession()
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	if !ok {
		return nil
	}

	s.mu.Lock()
	s.current = &sess
	s.mu.Unlock()

	s.logger.Info("restored persisted session", zap.String("email", sess.User.Email))
	return nil
}

// tokenResponse mirrors the auth collaborator's payload. Roles may arrive as
// an array or as an object keyed by index, so they are decoded leniently.
type tokenResponse struct {
	Token           string          `json:"token"`
	UserEmail       string          `json:"user_email"`
	UserNicename    string          `json:"user_nicename"`
	UserDisplayName string          `json:"user_display_name"`
	UserRoles       json.RawMessage `json:"user_roles"`
	UserID          int64           `json:"user_id"`
	VendorSlug      string          `json:"vendor_slug"`
}

type tokenError struct {
	Message string `json:"message"`
}

// Login exchanges credentials for a session. No retry policy: a failure
// surfaces immediately to the caller.
func (s *Service) Login(ctx context.Context, username, password string) (authmodel.Session, error) {
	var body tokenResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"username": username, "password": password}).
		SetResult(&body).
		Post("")
	if err != nil {
		return authmodel.Session{}, &Error{Message: err.Error()}
	}

	if resp.IsError() {
		msg := "invalid credentials"
		var te tokenError
		if json.Unmarshal(resp.Body(), &te) == nil && te.Message != "" {
			msg = te.Message
		}
		s.logger.Warn("login rejected",
			zap.Int("status", resp.StatusCode()),
			zap.String("username", username))
		return authmodel.Session{}, &Error{Status: resp.StatusCode(), Message: msg}
	}

	sess := authmodel.Session{
		Token: body.Token,
		User: authmodel.User{
			ID:          body.UserID,
			Email:       body.UserEmail,
			Username:    body.UserNicename,
			DisplayName: body.UserDisplayName,
			Roles:       decodeRoles(body.UserRoles),
			VendorSlug:  body.VendorSlug,
		},
	}

	if err := s.creds.SaveSession(sess); err != nil {
		return authmodel.Session{}, fmt.Errorf("persist session: %w", err)
	}

	s.mu.Lock()
	s.current = &sess
	s.mu.Unlock()

	s.logger.Info("login succeeded", zap.String("email", sess.User.Email))
	return sess, nil
}

// Adopt installs a session handed off by the hosting parent window.
func (s *Service) Adopt(sess authmodel.Session) error {
	if err := s.creds.SaveSession(sess); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	s.mu.Lock()
	s.current = &sess
	s.mu.Unlock()

	s.logger.Info("adopted handed-off session", zap.String("email", sess.User.Email))
	return nil
}

// Logout clears the persisted and in-memory session unconditionally.
// Idempotent: a second call is a no-op.
func (s *Service) Logout() error {
	if err := s.creds.Clear(); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}

	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	return nil
}

// Current returns the active session, if any. Read-only, never blocks on IO.
func (s *Service) Current() (authmodel.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return authmodel.Session{}, false
	}
	return *s.current, true
}

// IsAuthenticated reports whether a session is active.
func (s *Service) IsAuthenticated() bool {
	_, ok := s.Current()
	return ok
}

// HasRole reports whether the active session carries the given role.
func (s *Service) HasRole(role string) bool {
	sess, ok := s.Current()
	return ok && sess.User.HasRole(role)
}

// decodeRoles accepts either a JSON array of roles or an object whose values
// are roles, as the auth backend emits both shapes.
func decodeRoles(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}

	var keyed map[string]string
	if err := json.Unmarshal(raw, &keyed); err == nil {
		out := make([]string, 0, len(keyed))
		for _, role := range keyed {
			out = append(out, role)
		}
		sort.Strings(out)
		return out
	}

	return nil
}
