// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"strings"
	"time"
)

// ItemRef identifies a marketplace listing. It is derived once from the
// URL a caller submits and never re-derived during a request.
type ItemRef struct {
	// RawURL is the URL exactly as submitted.
	RawURL string `json:"raw_url" yaml:"raw_url"`

	// ItemID is the platform item identifier (e.g. "MLM123456789"). Empty
	// when no extraction strategy matched.
	ItemID string `json:"item_id,omitempty" yaml:"item_id,omitempty"`

	// SiteCode is the three-letter site prefix (e.g. "MLM") that selects
	// the locale and domain suffix.
	SiteCode string `json:"site_code" yaml:"site_code"`
}

// HasItemID reports whether an item identifier was resolved.
func (r ItemRef) HasItemID() bool {
	return r.ItemID != ""
}

// Product is a snapshot of listing metadata produced by one acquisition
// call. Fields are never merged across sources except for the name
// enrichment described on acquire.Orchestrator.
type Product struct {
	ID       int64    `json:"id,omitempty" yaml:"id,omitempty"`
	Name     string   `json:"name" yaml:"name"`
	Price    *float64 `json:"price,omitempty" yaml:"price,omitempty"`
	Currency string   `json:"currency,omitempty" yaml:"currency,omitempty"`
	Platform string   `json:"platform" yaml:"platform"`
	URL      string   `json:"url" yaml:"url"`
	// SourceURL is the URL the caller submitted. URL stays the canonical
	// listing link reported by the tier.
	SourceURL   string   `json:"source_url,omitempty" yaml:"source_url,omitempty"`
	ImageURL    string   `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	ReviewCount int      `json:"review_count" yaml:"review_count"`
	Rating      *float64 `json:"rating,omitempty" yaml:"rating,omitempty"`
	// Source names the acquisition tier that produced the snapshot
	// ("api", "item-page", "raw-url" or "placeholder").
	Source    string    `json:"source" yaml:"source"`
	FetchedAt time.Time `json:"fetched_at" yaml:"fetched_at"`
}

// DefaultRating is assigned to reviews that carry no star rating.
const DefaultRating = 3.0

// Review is a single customer review as acquired from the marketplace.
type Review struct {
	ID        int64     `json:"id,omitempty" yaml:"id,omitempty"`
	ProductID int64     `json:"product_id,omitempty" yaml:"product_id,omitempty"`
	Author    string    `json:"author" yaml:"author"`
	Rating    float64   `json:"rating" yaml:"rating"`
	Text      string    `json:"text" yaml:"text"`
	Date      time.Time `json:"date" yaml:"date"`
	Platform  string    `json:"platform" yaml:"platform"`
}

// placeholderNames lists product names that mean "nothing useful was
// found". Comparison is case-insensitive on the trimmed value.
var placeholderNames = map[string]bool{
	"":                true,
	"unknown":         true,
	"unknown product": true,
	"undefined":       true,
}

// IsPlaceholderName reports whether name carries no real product name.
func IsPlaceholderName(name string) bool {
	return placeholderNames[strings.ToLower(strings.TrimSpace(name))]
}
