package report

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medsurplus/vendorchat/internal/config"
	authmodel "github.com/medsurplus/vendorchat/internal/model/auth"
	reportservice "github.com/medsurplus/vendorchat/internal/service/report"
)

type fakeSessions struct {
	sess *authmodel.Session
}

func (f *fakeSessions) Current() (authmodel.Session, bool) {
	if f.sess == nil {
		return authmodel.Session{}, false
	}
	return *f.sess, true
}

func vendorSession() *fakeSessions {
	return &fakeSessions{sess: &authmodel.Session{
		Token: "jwt",
		User: authmodel.User{
			ID:         7,
			Email:      "vendor@example.com",
			Roles:      []string{"vendor"},
			VendorSlug: "acme",
		},
	}}
}

func adminSession() *fakeSessions {
	return &fakeSessions{sess: &authmodel.Session{
		Token: "jwt",
		User:  authmodel.User{ID: 1, Email: "admin@example.com", Roles: []string{"administrator"}},
	}}
}

func setupRouter(t *testing.T, backend http.Handler, sessions *fakeSessions) *chi.Mux {
	t.Helper()
	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)

	svc := reportservice.New(config.ReportConfig{
		WebhookBaseURL: server.URL,
		APIBaseURL:     server.URL,
		Timeout:        5 * time.Second,
	}, zap.NewNop())

	r := chi.NewRouter()
	New(svc, sessions, zap.NewNop()).RegisterRoutes(r)
	return r
}

func TestSpreadsheetDownload(t *testing.T) {
	r := setupRouter(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/reports/nearly-expired-products" {
			t.Errorf("unexpected backend path %s", req.URL.Path)
		}
		if got := req.URL.Query().Get("months"); got != "6" {
			t.Errorf("expected months=6 forwarded, got %q", got)
		}
		w.Header().Set("Content-Disposition", `attachment; filename="expiring.xlsx"`)
		w.Write([]byte("xlsx-bytes"))
	}), vendorSession())

	req := httptest.NewRequest(http.MethodGet, "/reports/nearly-expired/spreadsheet?months=6", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if got := resp.Header().Get("Content-Type"); got != spreadsheetMIME {
		t.Errorf("unexpected content type %q", got)
	}
	if got := resp.Header().Get("Content-Disposition"); got != `attachment; filename="expiring.xlsx"` {
		t.Errorf("unexpected disposition %q", got)
	}
	if resp.Body.String() != "xlsx-bytes" {
		t.Errorf("unexpected body %q", resp.Body.String())
	}
}

func TestSpreadsheetEmptyResult(t *testing.T) {
	r := setupRouter(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), vendorSession())

	req := httptest.NewRequest(http.MethodGet, "/reports/recalled/spreadsheet", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body map[string]any
	json.Unmarshal(resp.Body.Bytes(), &body)
	if body["success"] != false {
		t.Fatalf("expected success false, got %v", body)
	}
	if body["message"] != "No matching products found." {
		t.Errorf("unexpected message %v", body["message"])
	}
}

func TestSpreadsheetUnknownKind(t *testing.T) {
	r := setupRouter(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		t.Error("no backend call expected for an unknown kind")
	}), vendorSession())

	req := httptest.NewRequest(http.MethodGet, "/reports/best-sellers/spreadsheet", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestRowsScopedToVendor(t *testing.T) {
	var received map[string]any
	r := setupRouter(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		json.NewDecoder(req.Body).Decode(&received)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"products": []map[string]any{{"name": "Saline"}},
			},
		})
	}), vendorSession())

	payload, _ := json.Marshal(map[string]any{"months": 3, "limit": 25})
	req := httptest.NewRequest(http.MethodPost, "/reports/nearly-expired", bytes.NewReader(payload))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	// A vendor can only query their own data regardless of the payload.
	if received["vendor_id"] != float64(7) {
		t.Errorf("expected vendor_id forced to the caller's id, got %v", received["vendor_id"])
	}
}

func TestRowsAdminUnscoped(t *testing.T) {
	var received map[string]any
	r := setupRouter(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		json.NewDecoder(req.Body).Decode(&received)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"products": []map[string]any{{"name": "Saline"}},
			},
		})
	}), adminSession())

	payload, _ := json.Marshal(map[string]any{"min_quality": 8.5})
	req := httptest.NewRequest(http.MethodPost, "/reports/high-quality", bytes.NewReader(payload))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if _, ok := received["vendor_id"]; ok {
		t.Errorf("administrators must not be vendor-scoped, got %v", received)
	}
}

func TestRowsVendorWithoutSlugRefused(t *testing.T) {
	sessions := &fakeSessions{sess: &authmodel.Session{
		Token: "jwt",
		User:  authmodel.User{ID: 9, Email: "orphan@example.com", Roles: []string{"vendor"}},
	}}
	r := setupRouter(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		t.Error("no backend call expected for an unmapped vendor")
	}), sessions)

	payload, _ := json.Marshal(map[string]any{})
	req := httptest.NewRequest(http.MethodPost, "/reports/recalled", bytes.NewReader(payload))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestRowsUnauthenticated(t *testing.T) {
	r := setupRouter(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		t.Error("no backend call expected without a session")
	}), &fakeSessions{})

	payload, _ := json.Marshal(map[string]any{})
	req := httptest.NewRequest(http.MethodPost, "/reports/recalled", bytes.NewReader(payload))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestSQLPassthroughAdminOnly(t *testing.T) {
	r := setupRouter(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		t.Error("no backend call expected for a vendor session")
	}), vendorSession())

	payload, _ := json.Marshal(map[string]any{"query": "SELECT 1"})
	req := httptest.NewRequest(http.MethodPost, "/reports/sql", bytes.NewReader(payload))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a vendor session, got %d", resp.Code)
	}
}

func TestSQLPassthroughForwardsQuery(t *testing.T) {
	r := setupRouter(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/run-sql-query" {
			t.Errorf("unexpected backend path %s", req.URL.Path)
		}
		if got := req.URL.Query().Get("query"); got != "SELECT count(*) FROM products" {
			t.Errorf("expected query forwarded, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{{"count": 42}})
	}), adminSession())

	payload, _ := json.Marshal(map[string]any{"query": "SELECT count(*) FROM products"})
	req := httptest.NewRequest(http.MethodPost, "/reports/sql", bytes.NewReader(payload))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body sqlResponse
	json.Unmarshal(resp.Body.Bytes(), &body)
	if !body.Success {
		t.Fatalf("expected success, got %+v", body)
	}
	if len(body.Results) != 1 {
		t.Fatalf("expected 1 result row, got %d", len(body.Results))
	}
}

func TestSQLPassthroughBackendFailure(t *testing.T) {
	r := setupRouter(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}), adminSession())

	payload, _ := json.Marshal(map[string]any{"query": "SELEC typo"})
	req := httptest.NewRequest(http.MethodPost, "/reports/sql", bytes.NewReader(payload))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body sqlResponse
	json.Unmarshal(resp.Body.Bytes(), &body)
	if body.Success {
		t.Fatal("expected success=false for a backend failure")
	}
	if body.Message == "" {
		t.Fatal("expected a user-facing error message")
	}
}

func TestBackendUnauthorizedPropagates(t *testing.T) {
	r := setupRouter(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}), vendorSession())

	req := httptest.NewRequest(http.MethodGet, "/reports/recalled/spreadsheet", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an expired backend session, got %d", resp.Code)
	}
}
