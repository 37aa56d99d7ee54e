package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every setting the gateway needs.
type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Assistant AssistantConfig
	Store     StoreConfig
	Reports   ReportConfig
	Market    MarketConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	assistant, err := loadAssistantConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	reports, err := loadReportConfig()
	if err != nil {
		return nil, err
	}

	market, err := loadMarketConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		Auth:      auth,
		Assistant: assistant,
		Store:     store,
		Reports:   reports,
		Market:    market,
	}, nil
}

// ServerConfig describes the HTTP listener and browser-facing origins.
type ServerConfig struct {
	Addr string
	// ParentOrigin is the only origin allowed to hand off a session via the
	// cross-window handshake endpoint. Requests from any other origin are
	// silently ignored.
	ParentOrigin string
	// CORSOrigin is echoed in Access-Control-Allow-Origin.
	CORSOrigin string
	// CredentialsPath locates the SQLite file backing the credential store.
	CredentialsPath string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	cfg := ServerConfig{
		ParentOrigin:    getEnvOrDefault("PARENT_ORIGIN", "http://127.0.0.1:8000"),
		CORSOrigin:      getEnvOrDefault("CORS_ORIGIN", "*"),
		CredentialsPath: getEnvOrDefault("CREDENTIALS_DB", "credentials.db"),
	}

	if strings.Contains(port, ":") {
		// Allow ":8080" or "127.0.0.1:8080" directly.
		cfg.Addr = port
		return cfg, nil
	}
	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	cfg.Addr = ":" + port
	return cfg, nil
}

// AuthConfig locates the credential-exchange endpoint.
type AuthConfig struct {
	TokenURL string
	Timeout  time.Duration
}

func loadAuthConfig() (AuthConfig, error) {
	url := strings.TrimSpace(os.Getenv("AUTH_TOKEN_URL"))
	if url == "" {
		return AuthConfig{}, fmt.Errorf("AUTH_TOKEN_URL is required")
	}

	timeout, err := parseDurationEnv("AUTH_TIMEOUT", 15*time.Second)
	if err != nil {
		return AuthConfig{}, err
	}

	return AuthConfig{TokenURL: url, Timeout: timeout}, nil
}

// AssistantConfig describes the remote assistant workflow and the run
// lifecycle knobs.
type AssistantConfig struct {
	WebhookURL   string
	Timeout      time.Duration
	PollInterval time.Duration
	PollTimeout  time.Duration
	// EvictThreshold is the minimum in-process history length before a
	// token-limit error triggers eviction of the oldest entries.
	EvictThreshold int
	// EvictCount is how many of the oldest entries are dropped per eviction.
	EvictCount int
	// RetryLimit bounds automatic token-limit retries per send.
	RetryLimit int
}

func loadAssistantConfig() (AssistantConfig, error) {
	url := strings.TrimSpace(os.Getenv("ASSISTANT_WEBHOOK_URL"))
	if url == "" {
		return AssistantConfig{}, fmt.Errorf("ASSISTANT_WEBHOOK_URL is required")
	}

	timeout, err := parseDurationEnv("ASSISTANT_TIMEOUT", 2*time.Minute)
	if err != nil {
		return AssistantConfig{}, err
	}
	pollInterval, err := parseDurationEnv("POLL_INTERVAL", time.Second)
	if err != nil {
		return AssistantConfig{}, err
	}
	pollTimeout, err := parseDurationEnv("POLL_TIMEOUT", 2*time.Minute)
	if err != nil {
		return AssistantConfig{}, err
	}

	evictThreshold, err := parseIntEnv("HISTORY_EVICT_THRESHOLD", 10)
	if err != nil {
		return AssistantConfig{}, err
	}
	evictCount, err := parseIntEnv("HISTORY_EVICT_COUNT", 2)
	if err != nil {
		return AssistantConfig{}, err
	}
	retryLimit, err := parseIntEnv("TOKEN_LIMIT_RETRIES", 1)
	if err != nil {
		return AssistantConfig{}, err
	}

	return AssistantConfig{
		WebhookURL:     url,
		Timeout:        timeout,
		PollInterval:   pollInterval,
		PollTimeout:    pollTimeout,
		EvictThreshold: evictThreshold,
		EvictCount:     evictCount,
		RetryLimit:     retryLimit,
	}, nil
}

// StoreConfig locates the conversation persistence backend.
type StoreConfig struct {
	BaseURL    string
	ServiceKey string
	Timeout    time.Duration
}

func loadStoreConfig() (StoreConfig, error) {
	url := strings.TrimSpace(os.Getenv("STORE_BASE_URL"))
	if url == "" {
		return StoreConfig{}, fmt.Errorf("STORE_BASE_URL is required")
	}

	timeout, err := parseDurationEnv("STORE_TIMEOUT", 15*time.Second)
	if err != nil {
		return StoreConfig{}, err
	}

	return StoreConfig{
		BaseURL:    url,
		ServiceKey: strings.TrimSpace(os.Getenv("STORE_SERVICE_KEY")),
		Timeout:    timeout,
	}, nil
}

// ReportConfig locates the report backend. The webhook base serves binary
// spreadsheet blobs; the API base serves JSON rows plus hosted CSV URLs.
type ReportConfig struct {
	WebhookBaseURL string
	APIBaseURL     string
	Timeout        time.Duration
}

// Enabled reports whether any report endpoint was configured.
func (c ReportConfig) Enabled() bool {
	return c.WebhookBaseURL != "" || c.APIBaseURL != ""
}

func loadReportConfig() (ReportConfig, error) {
	timeout, err := parseDurationEnv("REPORT_TIMEOUT", time.Minute)
	if err != nil {
		return ReportConfig{}, err
	}

	return ReportConfig{
		WebhookBaseURL: strings.TrimSpace(os.Getenv("REPORT_WEBHOOK_BASE_URL")),
		APIBaseURL:     strings.TrimSpace(os.Getenv("REPORT_API_BASE_URL")),
		Timeout:        timeout,
	}, nil
}

// MarketConfig describes the market-value search collaborator.
type MarketConfig struct {
	WebhookBaseURL string
	APIKey         string
	Sources        []string
	Timeout        time.Duration
}

// Enabled reports whether market lookups were configured.
func (c MarketConfig) Enabled() bool {
	return c.WebhookBaseURL != "" && c.APIKey != ""
}

func loadMarketConfig() (MarketConfig, error) {
	timeout, err := parseDurationEnv("MARKET_TIMEOUT", 30*time.Second)
	if err != nil {
		return MarketConfig{}, err
	}

	sources := splitCSVEnv("MARKET_SOURCES")
	if len(sources) == 0 {
		sources = []string{"synergysurgical.com", "dotmed.com"}
	}

	return MarketConfig{
		WebhookBaseURL: strings.TrimSpace(os.Getenv("MARKET_WEBHOOK_BASE_URL")),
		APIKey:         strings.TrimSpace(os.Getenv("SERP_API_KEY")),
		Sources:        sources,
		Timeout:        timeout,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

func splitCSVEnv(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
