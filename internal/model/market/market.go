package market

import "github.com/shopspring/decimal"

// Item identifies one inventory item to value.
type Item struct {
	Name           string `json:"name"`
	SKU            string `json:"sku"`
	ExpirationDate string `json:"expiration_date,omitempty"`
	UnitOfMeasure  string `json:"uom,omitempty"`
}

// PriceHit is one listing with a recovered price.
type PriceHit struct {
	Title string          `json:"title"`
	Link  string          `json:"link"`
	Price decimal.Decimal `json:"price"`
}

// SourceEstimate aggregates the hits from a single marketplace site. A failed
// source records Error and leaves Average nil; it never aborts the batch.
type SourceEstimate struct {
	Source  string           `json:"source"`
	Found   bool             `json:"found"`
	Results int              `json:"results_count"`
	Prices  []PriceHit       `json:"price_data,omitempty"`
	Average *decimal.Decimal `json:"average_price,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// ItemValuation is the per-item outcome. AveragePrice is nil when no source
// produced a price: "no market data", which is distinct from a free item.
type ItemValuation struct {
	Item
	Sources      []SourceEstimate `json:"sources"`
	AveragePrice *decimal.Decimal `json:"average_market_price,omitempty"`
}

// LookupResult is the batch outcome. Success stays true even when individual
// items found no market data.
type LookupResult struct {
	Success bool            `json:"success"`
	Items   []ItemValuation `json:"results"`
	Message string          `json:"message"`
}
