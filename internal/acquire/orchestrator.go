// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package acquire fetches product metadata and reviews for a marketplace
// listing. Lookups walk an ordered chain of tiers (the official API, the
// canonical listing page, the submitted URL) and always return a usable
// result: failures are logged and turn into a placeholder product or an
// empty review list.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/pdiddy/review-engine/internal/httputil"
	"github.com/pdiddy/review-engine/internal/logging"
	"github.com/pdiddy/review-engine/internal/metrics"
	"github.com/pdiddy/review-engine/pkg/types"
)

// Tier names recorded in types.Product.Source.
const (
	TierAPI         = "api"
	TierItemPage    = "item-page"
	TierRawURL      = "raw-url"
	TierPlaceholder = "placeholder"
)

// Defaults applied by New when the config leaves a field zero.
const (
	DefaultAPIBase     = "https://api.mercadolibre.com"
	DefaultReviewLimit = 50
	DefaultCourtesyMin = 1 * time.Second
	DefaultCourtesyMax = 2 * time.Second
	DefaultScrapeRate  = 1.0
	DefaultUserAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

var tracer = otel.Tracer("github.com/pdiddy/review-engine/internal/acquire")

// PlaceholderName is the name given to a product no tier could resolve.
const PlaceholderName = "Unknown product"

var (
	// ErrNoCredential short-circuits the API tier when no access token is
	// loaded. It is not retried.
	ErrNoCredential = errors.New("no marketplace access token")

	// ErrNoItemID means the tier needs an item ID that the URL did not carry.
	ErrNoItemID = errors.New("no item id resolved")

	// ErrNotApplicable marks a tier that does not apply to the reference.
	ErrNotApplicable = errors.New("tier not applicable")
)

// ParseError reports a malformed upstream payload or page. It always
// counts as a tier failure.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TierResult is the outcome of one tier.
type TierResult struct {
	OK      bool
	Product types.Product
	Err     error
}

// ProductTier is one strategy in the product fallback chain.
type ProductTier interface {
	Name() string
	Fetch(ctx context.Context, ref types.ItemRef) TierResult
}

// ReviewTier is one strategy in the review fallback chain.
type ReviewTier interface {
	Name() string
	Fetch(ctx context.Context, ref types.ItemRef, limit int) ([]types.Review, error)
}

// Orchestrator runs the fallback chains. It is safe for concurrent use.
type Orchestrator struct {
	client  *httputil.Client
	tokens  httputil.TokenSource
	cfg     types.AcquisitionConfig
	log     *slog.Logger
	metrics *metrics.Metrics

	// pacers hold one scrape limiter per page host for the life of the
	// Orchestrator. Hosts do not wait on each other.
	pacerMu sync.Mutex
	pacers  map[string]*rate.Limiter

	// pageURL builds the canonical listing page URL. Tests point it at an
	// httptest server.
	pageURL func(types.ItemRef) string

	// sleep waits between batch API calls.
	sleep func(ctx context.Context, d time.Duration) error

	productTiers []ProductTier
	reviewTiers  []ReviewTier
}

// New creates an Orchestrator. tokens supplies the API bearer token and may
// be nil, in which case the API tier never runs.
func New(client *httputil.Client, tokens httputil.TokenSource, cfg types.AcquisitionConfig, log *slog.Logger) *Orchestrator {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.ReviewLimit <= 0 {
		cfg.ReviewLimit = DefaultReviewLimit
	}
	if cfg.CourtesyMin <= 0 && cfg.CourtesyMax <= 0 {
		cfg.CourtesyMin, cfg.CourtesyMax = DefaultCourtesyMin, DefaultCourtesyMax
	}
	if cfg.CourtesyMax < cfg.CourtesyMin {
		cfg.CourtesyMax = cfg.CourtesyMin
	}
	if cfg.ScrapeRate <= 0 {
		cfg.ScrapeRate = DefaultScrapeRate
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if client == nil {
		client = httputil.NewClient(nil, cfg.APIBase, tokens, cfg.UserAgent, log)
	}

	o := &Orchestrator{
		client:  client,
		tokens:  tokens,
		cfg:     cfg,
		pacers:  make(map[string]*rate.Limiter),
		log:     logging.OrDiscard(log),
		pageURL: ItemPageURL,
		sleep:   sleepCtx,
	}
	o.productTiers = []ProductTier{
		apiProductTier{o},
		pageProductTier{o: o, name: TierItemPage},
		pageProductTier{o: o, name: TierRawURL},
	}
	o.reviewTiers = []ReviewTier{
		apiReviewTier{o},
		pageReviewTier{o},
	}
	return o
}

// WithMetrics records page fetches on m.
func (o *Orchestrator) WithMetrics(m *metrics.Metrics) *Orchestrator {
	o.metrics = m
	return o
}

// Tiers returns the names of the product tiers in the order they run.
func (o *Orchestrator) Tiers() []string {
	names := make([]string, len(o.productTiers))
	for i, t := range o.productTiers {
		names[i] = t.Name()
	}
	return names
}

// FetchProduct returns the first usable snapshot from the tier chain.
// It never fails: when every tier fails it logs and returns a placeholder.
//
// When the API tier wins with a placeholder name, the listing page is
// consulted for the name unless Strict is set. A missing API image is
// filled from the listing page regardless of Strict. No other field is
// merged across tiers.
//
// Worst-case latency is the sum over tiers of Timeout*(1+MaxRetries) plus
// one credential refresh; ChainBudget caps it when non-zero.
func (o *Orchestrator) FetchProduct(ctx context.Context, ref types.ItemRef) types.Product {
	p, _ := o.fetchProduct(ctx, ref)
	return p
}

// fetchProduct also reports whether the API tier produced the result.
func (o *Orchestrator) fetchProduct(ctx context.Context, ref types.ItemRef) (types.Product, bool) {
	ctx, cancel := o.budget(ctx)
	defer cancel()

	var errs []error
	for _, tier := range o.productTiers {
		tctx, span := tracer.Start(ctx, "product tier "+tier.Name())
		span.SetAttributes(attribute.String("item_id", ref.ItemID), attribute.String("site", ref.SiteCode))
		res := tier.Fetch(tctx, ref)
		if res.Err != nil && !errors.Is(res.Err, ErrNotApplicable) {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
		span.End()
		if !res.OK {
			if !errors.Is(res.Err, ErrNotApplicable) {
				o.log.Info("product tier failed", "tier", tier.Name(), "url", ref.RawURL, "error", res.Err)
				errs = append(errs, fmt.Errorf("%s: %w", tier.Name(), res.Err))
			}
			continue
		}
		p := res.Product
		p.Source = tier.Name()
		if p.Platform == "" {
			p.Platform = Platform
		}
		if p.URL == "" {
			p.URL = ref.RawURL
		}
		if p.FetchedAt.IsZero() {
			p.FetchedAt = time.Now().UTC()
		}
		api := tier.Name() == TierAPI
		if api {
			o.enrich(ctx, ref, &p)
		}
		o.log.Debug("product resolved", "tier", p.Source, "item_id", ref.ItemID, "name", p.Name)
		return p, api
	}

	o.log.Warn("all product tiers failed", "url", ref.RawURL, "error", errors.Join(errs...))
	return o.placeholder(ref), false
}

// enrich fills a placeholder name (unless Strict) and a missing image from
// the listing page.
func (o *Orchestrator) enrich(ctx context.Context, ref types.ItemRef, p *types.Product) {
	wantName := types.IsPlaceholderName(p.Name) && !o.cfg.Strict
	wantImage := p.ImageURL == ""
	if !wantName && !wantImage {
		return
	}
	doc, err := o.fetchPage(ctx, o.pageURL(ref), ref, "enrich")
	if err != nil {
		o.log.Info("enrichment page unavailable", "item_id", ref.ItemID, "error", err)
		return
	}
	d := extractPage(doc)
	if wantName && !types.IsPlaceholderName(d.Name) {
		p.Name = d.Name
	}
	if wantImage && d.ImageURL != "" {
		p.ImageURL = d.ImageURL
	}
}

func (o *Orchestrator) placeholder(ref types.ItemRef) types.Product {
	return types.Product{
		Name:      PlaceholderName,
		Platform:  Platform,
		URL:       ref.RawURL,
		Currency:  SiteFor(ref.SiteCode).Currency,
		Source:    TierPlaceholder,
		FetchedAt: time.Now().UTC(),
	}
}

// FetchReviews returns up to limit reviews from the API, falling back to the
// listing page. It never fails: when both tiers fail it returns an empty
// slice. limit <= 0 uses the configured ReviewLimit.
func (o *Orchestrator) FetchReviews(ctx context.Context, ref types.ItemRef, limit int) []types.Review {
	reviews, _ := o.fetchReviews(ctx, ref, limit)
	return reviews
}

func (o *Orchestrator) fetchReviews(ctx context.Context, ref types.ItemRef, limit int) ([]types.Review, bool) {
	if limit <= 0 {
		limit = o.cfg.ReviewLimit
	}
	ctx, cancel := o.budget(ctx)
	defer cancel()

	for _, tier := range o.reviewTiers {
		tctx, span := tracer.Start(ctx, "review tier "+tier.Name())
		span.SetAttributes(attribute.String("item_id", ref.ItemID), attribute.Int("limit", limit))
		reviews, err := tier.Fetch(tctx, ref, limit)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if err != nil {
			o.log.Info("review tier failed", "tier", tier.Name(), "url", ref.RawURL, "error", err)
			continue
		}
		o.log.Debug("reviews resolved", "tier", tier.Name(), "item_id", ref.ItemID, "count", len(reviews))
		return reviews, tier.Name() == TierAPI
	}
	return []types.Review{}, false
}

// BatchItem is the outcome of one reference in FetchBatch.
type BatchItem struct {
	Ref     types.ItemRef  `json:"ref" yaml:"ref"`
	Product types.Product  `json:"product" yaml:"product"`
	Reviews []types.Review `json:"reviews" yaml:"reviews"`
}

// FetchBatch fetches product and reviews for each reference in order. After
// every API call that succeeded, except the last call of the batch, it
// pauses for a random delay in [CourtesyMin, CourtesyMax) to stay clear of
// upstream throttling. limit < 0 skips reviews.
func (o *Orchestrator) FetchBatch(ctx context.Context, refs []types.ItemRef, limit int) []BatchItem {
	items := make([]BatchItem, 0, len(refs))
	for i, ref := range refs {
		if ctx.Err() != nil {
			break
		}
		last := i == len(refs)-1

		item := BatchItem{Ref: ref, Reviews: []types.Review{}}
		p, viaAPI := o.fetchProduct(ctx, ref)
		item.Product = p
		if viaAPI && !(last && limit < 0) {
			o.courtesy(ctx)
		}

		if limit >= 0 {
			reviews, viaAPI := o.fetchReviews(ctx, ref, limit)
			item.Reviews = reviews
			if viaAPI && !last {
				o.courtesy(ctx)
			}
		}
		items = append(items, item)
	}
	return items
}

func (o *Orchestrator) courtesy(ctx context.Context) {
	d := o.cfg.CourtesyMin
	if span := o.cfg.CourtesyMax - o.cfg.CourtesyMin; span > 0 {
		d += time.Duration(rand.Int64N(int64(span)))
	}
	if err := o.sleep(ctx, d); err != nil {
		o.log.Debug("courtesy pause interrupted", "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (o *Orchestrator) budget(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.ChainBudget > 0 {
		return context.WithTimeout(ctx, o.cfg.ChainBudget)
	}
	return context.WithCancel(ctx)
}

func (o *Orchestrator) getOptions() httputil.GetOptions {
	opts := httputil.GetOptions{
		Timeout:    o.cfg.Timeout,
		MaxRetries: o.cfg.MaxRetries,
	}
	if o.cfg.RetryServerErrors {
		opts.RetryStatus = httputil.RetryServerErrors
	}
	return opts
}

// getAPI fetches an API path. A 401 that survived the refresh comes back as
// httputil.ErrAuthExpired.
func (o *Orchestrator) getAPI(ctx context.Context, path string) (*http.Response, error) {
	if o.tokens == nil || o.tokens.AccessToken() == "" {
		return nil, ErrNoCredential
	}
	h := http.Header{}
	h.Set("Accept", "application/json")
	resp, err := o.client.Get(ctx, o.cfg.APIBase+path, h, o.getOptions())
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, httputil.ErrAuthExpired
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, path)
	}
	return resp, nil
}

// pacer returns the scrape limiter for the host of pageURL.
func (o *Orchestrator) pacer(pageURL string) *rate.Limiter {
	host := pageURL
	if u, err := url.Parse(pageURL); err == nil && u.Host != "" {
		host = u.Host
	}
	o.pacerMu.Lock()
	defer o.pacerMu.Unlock()
	l, ok := o.pacers[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(o.cfg.ScrapeRate), 1)
		o.pacers[host] = l
	}
	return l
}

// fetchPage loads and parses an HTML page, paced per host. tier labels the
// scrape metrics.
func (o *Orchestrator) fetchPage(ctx context.Context, pageURL string, ref types.ItemRef, tier string) (*goquery.Document, error) {
	if err := o.pacer(pageURL).Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	defer o.metrics.ObserveScrape(tier, start)
	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", SiteFor(ref.SiteCode).Language)
	resp, err := o.client.Get(ctx, pageURL, h, o.getOptions())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, pageURL)
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &ParseError{Source: pageURL, Err: err}
	}
	return doc, nil
}

type apiProductTier struct{ o *Orchestrator }

func (apiProductTier) Name() string { return TierAPI }

func (t apiProductTier) Fetch(ctx context.Context, ref types.ItemRef) TierResult {
	if !ref.HasItemID() {
		return TierResult{Err: ErrNoItemID}
	}
	resp, err := t.o.getAPI(ctx, "/items/"+url.PathEscape(ref.ItemID))
	if err != nil {
		return TierResult{Err: err}
	}
	defer resp.Body.Close()
	p, err := decodeItem(resp.Body, ref)
	if err != nil {
		return TierResult{Err: err}
	}
	return TierResult{OK: true, Product: p}
}

// pageProductTier scrapes either the canonical listing page (item-page,
// needs an item ID) or the submitted URL (raw-url, only without one).
type pageProductTier struct {
	o    *Orchestrator
	name string
}

func (t pageProductTier) Name() string { return t.name }

func (t pageProductTier) Fetch(ctx context.Context, ref types.ItemRef) TierResult {
	var target string
	switch {
	case t.name == TierItemPage && ref.HasItemID():
		target = t.o.pageURL(ref)
	case t.name == TierRawURL && !ref.HasItemID() && ref.RawURL != "":
		target = ref.RawURL
	default:
		return TierResult{Err: ErrNotApplicable}
	}

	doc, err := t.o.fetchPage(ctx, target, ref, t.name)
	if err != nil {
		return TierResult{Err: err}
	}
	d := extractPage(doc)
	if types.IsPlaceholderName(d.Name) {
		return TierResult{Err: &ParseError{Source: target, Err: errors.New("no product name on page")}}
	}
	currency := d.Currency
	if currency == "" {
		currency = SiteFor(ref.SiteCode).Currency
	}
	return TierResult{OK: true, Product: types.Product{
		Name:        d.Name,
		Price:       d.Price,
		Currency:    currency,
		Platform:    Platform,
		URL:         target,
		ImageURL:    d.ImageURL,
		ReviewCount: d.ReviewCount,
		Rating:      d.Rating,
	}}
}

type apiReviewTier struct{ o *Orchestrator }

func (apiReviewTier) Name() string { return TierAPI }

func (t apiReviewTier) Fetch(ctx context.Context, ref types.ItemRef, limit int) ([]types.Review, error) {
	if !ref.HasItemID() {
		return nil, ErrNoItemID
	}
	path := fmt.Sprintf("/reviews/item/%s?limit=%d", url.PathEscape(ref.ItemID), limit)
	resp, err := t.o.getAPI(ctx, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeReviews(resp.Body, limit)
}

// pageReviewTier scrapes the listing page, or the submitted URL when no
// item ID was resolved.
type pageReviewTier struct{ o *Orchestrator }

func (pageReviewTier) Name() string { return TierItemPage }

func (t pageReviewTier) Fetch(ctx context.Context, ref types.ItemRef, limit int) ([]types.Review, error) {
	target := ref.RawURL
	if ref.HasItemID() {
		target = t.o.pageURL(ref)
	}
	if target == "" {
		return nil, ErrNotApplicable
	}
	doc, err := t.o.fetchPage(ctx, target, ref, "reviews")
	if err != nil {
		return nil, err
	}
	return extractReviews(doc, limit)
}
