// Package market looks up per-item market values through the search
// collaborator and aggregates per-source price estimates into an average.
package market

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/medsurplus/vendorchat/internal/config"
	marketmodel "github.com/medsurplus/vendorchat/internal/model/market"
)

// priceTextRe recovers "$1,234.56"-style prices from listing text when the
// search backend supplies no structured price field.
var priceTextRe = regexp.MustCompile(`\$\s?(\d+(?:,\d+)?(?:\.\d+)?)`)

// Service is the market-value lookup bridge.
type Service struct {
	client  *resty.Client
	apiKey  string
	sources []string
	logger  *zap.Logger
}

// New wires the bridge against the configured search webhook.
func New(cfg config.MarketConfig, logger *zap.Logger) *Service {
	client := resty.New()
	client.SetBaseURL(cfg.WebhookBaseURL)
	client.SetTimeout(cfg.Timeout)

	return &Service{
		client:  client,
		apiKey:  cfg.APIKey,
		sources: cfg.Sources,
		logger:  logger,
	}
}

// DefaultSources returns the configured source sites.
func (s *Service) DefaultSources() []string {
	out := make([]string, len(s.sources))
	copy(out, s.sources)
	return out
}

type searchResponse struct {
	OrganicResults []organicResult `json:"organic_results"`
}

type organicResult struct {
	Title       string       `json:"title"`
	Link        string       `json:"link"`
	Snippet     string       `json:"snippet"`
	RichSnippet *richSnippet `json:"rich_snippet"`
}

type richSnippet struct {
	Bottom struct {
		DetectedExtensions struct {
			Price float64 `json:"price"`
		} `json:"detected_extensions"`
	} `json:"bottom"`
}

// Lookup values each item against every source. A source failure is
// isolated: it is recorded on that source's estimate and never aborts the
// other sources or items. Items with zero price hits end up with a nil
// average, which is "no market data", not zero.
func (s *Service) Lookup(ctx context.Context, token string, items []marketmodel.Item, sources []string) (marketmodel.LookupResult, error) {
	if len(sources) == 0 {
		sources = s.sources
	}

	results := make([]marketmodel.ItemValuation, 0, len(items))
	valued := 0

	for _, item := range items {
		valuation := marketmodel.ItemValuation{Item: item}

		for _, source := range sources {
			estimate := s.searchSource(ctx, token, item, source)
			valuation.Sources = append(valuation.Sources, estimate)
		}

		// Average across sources that produced at least one price.
		sum := decimal.Zero
		hits := 0
		for _, est := range valuation.Sources {
			if est.Average != nil {
				sum = sum.Add(*est.Average)
				hits++
			}
		}
		if hits > 0 {
			avg := sum.Div(decimal.NewFromInt(int64(hits)))
			valuation.AveragePrice = &avg
			valued++
		}

		results = append(results, valuation)
	}

	return marketmodel.LookupResult{
		Success: true,
		Items:   results,
		Message: fmt.Sprintf("Found market values for %d out of %d items", valued, len(items)),
	}, nil
}

func (s *Service) searchSource(ctx context.Context, token string, item marketmodel.Item, source string) marketmodel.SourceEstimate {
	estimate := marketmodel.SourceEstimate{Source: source}

	query := item.Name + " site:" + source

	var body searchResponse
	req := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"query":   query,
			"site":    source,
			"api_key": s.apiKey,
		}).
		SetResult(&body)
	if token != "" {
		req.SetAuthToken(token)
	}

	resp, err := req.Get("/lookup-market-values")
	if err != nil {
		s.logger.Warn("market source lookup failed",
			zap.String("source", source),
			zap.String("sku", item.SKU),
			zap.Error(err))
		estimate.Error = err.Error()
		return estimate
	}
	if resp.IsError() {
		msg := fmt.Sprintf("search backend returned %d", resp.StatusCode())
		s.logger.Warn("market source lookup failed",
			zap.String("source", source),
			zap.String("sku", item.SKU),
			zap.Int("status", resp.StatusCode()))
		estimate.Error = msg
		return estimate
	}

	sum := decimal.Zero
	for _, result := range body.OrganicResults {
		price, ok := extractPrice(result)
		if !ok {
			continue
		}
		estimate.Prices = append(estimate.Prices, marketmodel.PriceHit{
			Title: result.Title,
			Link:  result.Link,
			Price: price,
		})
		sum = sum.Add(price)
	}

	estimate.Results = len(estimate.Prices)
	if estimate.Results > 0 {
		estimate.Found = true
		avg := sum.Div(decimal.NewFromInt(int64(estimate.Results)))
		estimate.Average = &avg
	}
	return estimate
}

// extractPrice prefers the structured price annotation and falls back to a
// text pattern over the title and snippet.
func extractPrice(result organicResult) (decimal.Decimal, bool) {
	if result.RichSnippet != nil {
		if price := result.RichSnippet.Bottom.DetectedExtensions.Price; price > 0 {
			return decimal.NewFromFloat(price), true
		}
	}

	for _, text := range []string{result.Title, result.Snippet} {
		match := priceTextRe.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		raw := strings.ReplaceAll(match[1], ",", "")
		if price, err := decimal.NewFromString(raw); err == nil {
			return price, true
		}
	}

	return decimal.Decimal{}, false
}
