// Package report fetches pre-aggregated vendor reports from the report
// backend, in both retrieval modes: direct spreadsheet blobs for immediate
// download and JSON row data with a separately hosted CSV URL.
package report

import (
	"context"
	"fmt"
	"mime"
	"net/url"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/medsurplus/vendorchat/internal/config"
	reportmodel "github.com/medsurplus/vendorchat/internal/model/report"
)

const spreadsheetMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Error is a report retrieval failure. An empty result set is NOT an Error:
// it is a distinct, user-visible outcome carried in Result.
type Error struct {
	Kind   reportmodel.Kind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("report %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("report %s: backend returned %d", e.Kind, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// Result is the outcome of one report request. Success is false with a
// user-facing Message when no products matched.
type Result struct {
	Success  bool                 `json:"success"`
	Artifact reportmodel.Artifact `json:"artifact"`
	Message  string               `json:"message,omitempty"`
}

// Service is the report/export bridge.
type Service struct {
	webhook *resty.Client
	api     *resty.Client
	logger  *zap.Logger
}

// New wires the bridge against the configured report endpoints.
func New(cfg config.ReportConfig, logger *zap.Logger) *Service {
	svc := &Service{logger: logger}

	if cfg.WebhookBaseURL != "" {
		svc.webhook = resty.New().
			SetBaseURL(cfg.WebhookBaseURL).
			SetTimeout(cfg.Timeout)
	}
	if cfg.APIBaseURL != "" {
		svc.api = resty.New().
			SetBaseURL(cfg.APIBaseURL).
			SetTimeout(cfg.Timeout)
	}

	return svc
}

func blobEndpoint(kind reportmodel.Kind) string {
	switch kind {
	case reportmodel.KindNearlyExpired:
		return "/reports/nearly-expired-products"
	case reportmodel.KindRecalled:
		return "/reports/recalled-products"
	default:
		return "/reports/high-quality-products"
	}
}

func rowsEndpoint(kind reportmodel.Kind) string {
	switch kind {
	case reportmodel.KindNearlyExpired:
		return "/products/nearly-expired"
	case reportmodel.KindRecalled:
		return "/products/recalled"
	default:
		return "/products/high-quality"
	}
}

func defaultFilename(kind reportmodel.Kind, ext string) string {
	switch kind {
	case reportmodel.KindNearlyExpired:
		return "nearly-expired-products." + ext
	case reportmodel.KindRecalled:
		return "recalled-products." + ext
	default:
		return "high-quality-products." + ext
	}
}

// FetchSpreadsheet retrieves a report as a binary spreadsheet blob, deriving
// the filename from Content-Disposition when the backend provides one.
func (s *Service) FetchSpreadsheet(ctx context.Context, token string, kind reportmodel.Kind, p reportmodel.Params) (*Result, error) {
	if s.webhook == nil {
		return nil, &Error{Kind: kind, Err: fmt.Errorf("spreadsheet endpoint not configured")}
	}

	req := s.webhook.R().
		SetContext(ctx).
		SetHeader("Accept", spreadsheetMIME)
	if token != "" {
		req.SetAuthToken(token)
	}

	switch kind {
	case reportmodel.KindNearlyExpired:
		if p.Months > 0 {
			req.SetQueryParam("months", fmt.Sprintf("%d", p.Months))
		}
	case reportmodel.KindHighQuality:
		if p.MinQuality > 0 {
			req.SetQueryParam("min_score", fmt.Sprintf("%g", p.MinQuality))
		}
	}

	resp, err := req.Get(blobEndpoint(kind))
	if err != nil {
		return nil, &Error{Kind: kind, Err: err}
	}
	if resp.IsError() {
		return nil, &Error{Kind: kind, Status: resp.StatusCode()}
	}

	blob := resp.Body()
	if len(blob) == 0 {
		return &Result{Success: false, Message: "No matching products found."}, nil
	}

	filename := filenameFromDisposition(resp.Header().Get("Content-Disposition"))
	if filename == "" {
		filename = defaultFilename(kind, "xlsx")
	}

	s.logger.Info("fetched report spreadsheet",
		zap.String("kind", string(kind)),
		zap.Int("bytes", len(blob)),
		zap.String("filename", filename))

	return &Result{
		Success: true,
		Artifact: reportmodel.Artifact{
			Kind:     kind,
			Blob:     blob,
			Filename: filename,
		},
	}, nil
}

type rowsEnvelope struct {
	Data struct {
		Products []reportmodel.Row `json:"products"`
		CSVURL   string            `json:"csv_url"`
	} `json:"data"`
	Message string `json:"message"`
}

// FetchRows retrieves a report as JSON row data. With withCSV set, the
// backend also materializes a hosted CSV and returns its URL.
func (s *Service) FetchRows(ctx context.Context, token string, kind reportmodel.Kind, p reportmodel.Params, withCSV bool) (*Result, error) {
	if s.api == nil {
		return nil, &Error{Kind: kind, Err: fmt.Errorf("report API endpoint not configured")}
	}

	body := map[string]any{}
	switch kind {
	case reportmodel.KindNearlyExpired:
		if p.Months > 0 {
			body["months"] = p.Months
		}
		if p.Limit > 0 {
			body["limit"] = p.Limit
		}
		if p.Skip > 0 {
			body["skip"] = p.Skip
		}
	case reportmodel.KindHighQuality:
		if p.MinQuality > 0 {
			body["min_quality"] = p.MinQuality
		}
		if p.Limit > 0 {
			body["limit"] = p.Limit
		}
	}
	if p.VendorID > 0 {
		body["vendor_id"] = p.VendorID
	}
	if withCSV {
		body["download_csv"] = true
	}

	var envelope rowsEnvelope
	req := s.api.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&envelope)
	if token != "" {
		req.SetAuthToken(token)
	}

	resp, err := req.Post(rowsEndpoint(kind))
	if err != nil {
		return nil, &Error{Kind: kind, Err: err}
	}
	if resp.IsError() {
		return nil, &Error{Kind: kind, Status: resp.StatusCode()}
	}

	if len(envelope.Data.Products) == 0 && envelope.Data.CSVURL == "" {
		return &Result{Success: false, Message: "No matching products found."}, nil
	}

	filename := defaultFilename(kind, "csv")
	if envelope.Data.CSVURL != "" {
		if derived := filenameFromURL(envelope.Data.CSVURL); derived != "" {
			filename = derived
		}
	}

	return &Result{
		Success: true,
		Artifact: reportmodel.Artifact{
			Kind:        kind,
			Rows:        envelope.Data.Products,
			DownloadURL: envelope.Data.CSVURL,
			Filename:    filename,
		},
	}, nil
}

// RunSQL forwards a raw query to the SQL passthrough webhook used by the
// assistant workflow.
func (s *Service) RunSQL(ctx context.Context, token, query string) ([]reportmodel.Row, error) {
	if s.webhook == nil {
		return nil, fmt.Errorf("sql webhook not configured")
	}

	var rows []reportmodel.Row
	req := s.webhook.R().
		SetContext(ctx).
		SetQueryParam("query", query).
		SetResult(&rows)
	if token != "" {
		req.SetAuthToken(token)
	}

	resp, err := req.Get("/run-sql-query")
	if err != nil {
		return nil, fmt.Errorf("run sql query: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("run sql query: backend returned %d", resp.StatusCode())
	}
	return rows, nil
}

func filenameFromDisposition(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}

func filenameFromURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	path := parsed.Path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			path = path[i+1:]
			break
		}
	}
	if len(path) > 4 && path[len(path)-4:] == ".csv" {
		return path
	}
	return ""
}
