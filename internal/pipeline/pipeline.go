// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline runs the analyze workflow: acquire a product and its
// reviews, persist them, score the reviews and persist the analysis.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/review-engine/internal/acquire"
	"github.com/pdiddy/review-engine/internal/logging"
	"github.com/pdiddy/review-engine/internal/metrics"
	"github.com/pdiddy/review-engine/internal/sentiment"
	"github.com/pdiddy/review-engine/internal/store"
	"github.com/pdiddy/review-engine/pkg/types"
)

// ErrEmptyURL is returned when Analyze is called without a product URL.
var ErrEmptyURL = errors.New("product URL is required")

// Acquirer fetches listing data. *acquire.Orchestrator satisfies it.
type Acquirer interface {
	FetchProduct(ctx context.Context, ref types.ItemRef) types.Product
	FetchReviews(ctx context.Context, ref types.ItemRef, limit int) []types.Review
}

// Result is the outcome of one analyze run.
type Result struct {
	Product  types.Product  `json:"product" yaml:"product"`
	Reviews  []types.Review `json:"reviews,omitempty" yaml:"reviews,omitempty"`
	Analysis types.Analysis `json:"analysis" yaml:"analysis"`
}

// Pipeline composes acquisition, sentiment analysis and storage.
type Pipeline struct {
	acq      Acquirer
	analyzer sentiment.Analyzer
	store    *store.Store
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New creates a Pipeline.
func New(acq Acquirer, st *store.Store, cfg types.SentimentConfig, log *slog.Logger) *Pipeline {
	return &Pipeline{
		acq:      acq,
		analyzer: sentiment.Analyzer{KeywordLimit: cfg.KeywordLimit},
		store:    st,
		log:      logging.OrDiscard(log),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithMetrics records analysis counts and durations on m.
func (p *Pipeline) WithMetrics(m *metrics.Metrics) *Pipeline {
	p.metrics = m
	return p
}

// Analyzer returns the sentiment analyzer the pipeline scores with.
func (p *Pipeline) Analyzer() sentiment.Analyzer {
	return p.analyzer
}

// Analyze fetches the product at rawURL and up to limit reviews, stores
// both, and stores and returns the sentiment analysis. Acquisition never
// fails; only storage errors are returned.
func (p *Pipeline) Analyze(ctx context.Context, rawURL string, limit int) (*Result, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, ErrEmptyURL
	}
	defer p.metrics.ObserveAnalysis(time.Now())
	runID := uuid.NewString()
	log := p.log.With("run_id", runID)

	ref := acquire.ParseItemRef(rawURL)
	log.Info("analysis started", "url", ref.RawURL, "item_id", ref.ItemID, "site", ref.SiteCode)

	product := p.acq.FetchProduct(ctx, ref)
	// Key the row by the submitted URL so repeated runs update one product.
	product.SourceURL = ref.RawURL
	if err := p.store.SaveProduct(ctx, &product); err != nil {
		return nil, fmt.Errorf("saving product: %w", err)
	}

	reviews := p.acq.FetchReviews(ctx, ref, limit)
	if err := p.store.SaveReviews(ctx, product.ID, reviews); err != nil {
		return nil, fmt.Errorf("saving reviews: %w", err)
	}

	analysis, err := p.record(ctx, runID, product, reviews)
	if err != nil {
		return nil, err
	}
	log.Info("analysis complete", "product_id", product.ID, "source", product.Source,
		"reviews", len(reviews), "label", analysis.Summary.Label, "avg", analysis.Summary.AverageScore)

	return &Result{Product: product, Reviews: reviews, Analysis: analysis}, nil
}

// Reanalyze scores the stored reviews of a product again without fetching.
func (p *Pipeline) Reanalyze(ctx context.Context, productID int64) (*Result, error) {
	product, err := p.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	reviews, err := p.store.ListReviews(ctx, productID)
	if err != nil {
		return nil, err
	}
	analysis, err := p.record(ctx, uuid.NewString(), product, reviews)
	if err != nil {
		return nil, err
	}
	return &Result{Product: product, Reviews: reviews, Analysis: analysis}, nil
}

func (p *Pipeline) record(ctx context.Context, runID string, product types.Product, reviews []types.Review) (types.Analysis, error) {
	a := types.Analysis{
		RunID:       runID,
		ProductID:   product.ID,
		ProductName: product.Name,
		Summary:     sentiment.Digest(p.analyzer.Analyze(reviews)),
		AnalyzedAt:  p.now(),
	}
	if err := p.store.SaveAnalysis(ctx, &a); err != nil {
		return types.Analysis{}, fmt.Errorf("saving analysis: %w", err)
	}
	return a, nil
}
