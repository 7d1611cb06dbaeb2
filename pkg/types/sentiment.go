// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Label is the polarity bucket of a sentiment score.
type Label string

const (
	LabelPositive Label = "positive"
	LabelNeutral  Label = "neutral"
	LabelNegative Label = "negative"
)

// Distribution holds the share of reviews per label as percentages
// rounded to one decimal.
type Distribution struct {
	Positive float64 `json:"positive" yaml:"positive"`
	Neutral  float64 `json:"neutral" yaml:"neutral"`
	Negative float64 `json:"negative" yaml:"negative"`
}

// SentimentSummary is derived from a review batch in full on every call.
// Positive+Neutral+Negative always equals Total.
type SentimentSummary struct {
	AverageScore float64      `json:"avg_sentiment" yaml:"avg_sentiment"`
	Label        Label        `json:"sentiment_label" yaml:"sentiment_label"`
	Total        int          `json:"total_reviews" yaml:"total_reviews"`
	Positive     int          `json:"positive_count" yaml:"positive_count"`
	Negative     int          `json:"negative_count" yaml:"negative_count"`
	Neutral      int          `json:"neutral_count" yaml:"neutral_count"`
	Keywords     []string     `json:"keywords" yaml:"keywords"`
	Distribution Distribution `json:"sentiment_distribution" yaml:"sentiment_distribution"`

	// Stars maps AverageScore onto the 0-5 star scale.
	Stars float64 `json:"stars" yaml:"stars"`

	// Opinion is a one-paragraph human-readable digest of the summary.
	Opinion string `json:"opinion_summary" yaml:"opinion_summary"`
}

// Analysis is a stored sentiment run for one product.
type Analysis struct {
	ID          int64            `json:"id" yaml:"id"`
	RunID       string           `json:"run_id" yaml:"run_id"`
	ProductID   int64            `json:"product_id" yaml:"product_id"`
	ProductName string           `json:"product_name" yaml:"product_name"`
	Summary     SentimentSummary `json:"summary" yaml:"summary"`
	AnalyzedAt  time.Time        `json:"analyzed_at" yaml:"analyzed_at"`
}
