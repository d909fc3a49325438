package model

import (
	"time"

	"github.com/google/uuid"
)

// ProductRecord is the structured result of extracting a single product
// page. Pointer fields distinguish "not found" from genuine zero values;
// the extractor's record policy decides whether missing numeric fields
// stay nil or are materialized as zeros (see extract.RecordPolicy).
type ProductRecord struct {
	URL           string            `json:"url"`
	Name          *string           `json:"name"`
	Price         *float64          `json:"price"`
	BasePrice     *float64          `json:"base_price,omitempty"`
	Stock         *string           `json:"stock,omitempty"`
	StockQuantity *int              `json:"stock_quantity"`
	InStock       bool              `json:"in_stock"`
	Variations    []VariationRecord `json:"variations,omitempty"`
	Error         string            `json:"error,omitempty"`

	SEOH1              *string `json:"seo_h1,omitempty"`
	SEOTitle           *string `json:"seo_title,omitempty"`
	SEOMetaDescription *string `json:"seo_meta_description,omitempty"`
}

// VariationRecord is one independently priced/stocked product option
// (size, color, etc.). Missing price or stock is valid partial data.
type VariationRecord struct {
	Type       string            `json:"type"`
	Value      string            `json:"value"`
	Price      *float64          `json:"price,omitempty"`
	Stock      *int              `json:"stock,omitempty"`
	InStock    bool              `json:"in_stock"`
	VariantID  string            `json:"variant_id,omitempty"`
	SKU        string            `json:"sku,omitempty"`
	URL        string            `json:"url,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// BatchMetrics captures the outcome of one processed batch. Records are
// append-only: once stored in the performance history they are never
// mutated.
type BatchMetrics struct {
	URLsCount   int           `json:"urls_count"`
	Successes   int           `json:"successes"`
	Errors      int           `json:"errors"`
	SuccessRate float64       `json:"success_rate"`
	Duration    time.Duration `json:"duration"`
	URLsPerSec  float64       `json:"urls_per_sec"`
	Timestamp   time.Time     `json:"timestamp"`
}

// BatchSummary is the caller-facing result of a full batch run. Failures
// are reported here explicitly rather than raised.
type BatchSummary struct {
	RunID            uuid.UUID `json:"run_id"`
	ScrapedProducts  int       `json:"scraped_products"`
	Variations       int       `json:"variations"`
	FailedURLs       []string  `json:"failed_urls"`
	BatchesCompleted int       `json:"batches_completed"`
}
