// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/review-engine/internal/httputil"
	"github.com/pdiddy/review-engine/internal/metrics"
	"github.com/pdiddy/review-engine/internal/oauth"
	"github.com/pdiddy/review-engine/pkg/types"
)

const testItemURL = "https://articulo.mercadolibre.com.ar/MLA-1234567890-zapatillas-_JM"

// staticTokens serves a fixed access token and never refreshes.
type staticTokens string

func (s staticTokens) AccessToken() string                         { return string(s) }
func (s staticTokens) RefreshIfStale(context.Context, string) bool { return false }

// counter wraps a handler and counts requests.
type counter struct {
	n atomic.Int32
	h http.HandlerFunc
}

func (c *counter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.n.Add(1)
	c.h(w, r)
}

func serve(t *testing.T, h http.HandlerFunc) (*httptest.Server, *counter) {
	t.Helper()
	c := &counter{h: h}
	ts := httptest.NewServer(c)
	t.Cleanup(ts.Close)
	return ts, c
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if strings.HasPrefix(body, "{") || strings.HasPrefix(body, "[") {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}

func newTestOrchestrator(apiURL, pageBase string, tokens httputil.TokenSource, mod func(*types.AcquisitionConfig)) *Orchestrator {
	cfg := types.AcquisitionConfig{
		APIBase:     apiURL,
		ScrapeRate:  1000,
		CourtesyMin: time.Millisecond,
		CourtesyMax: 2 * time.Millisecond,
	}
	cfg.Timeout = 2 * time.Second
	cfg.MaxRetries = -1
	if mod != nil {
		mod(&cfg)
	}
	client := httputil.NewClient(nil, apiURL, tokens, "review-engine-test", nil)
	o := New(client, tokens, cfg, nil)
	o.pageURL = func(ref types.ItemRef) string { return pageBase + "/" + ref.ItemID }
	return o
}

func TestTiersOrder(t *testing.T) {
	o := New(nil, nil, types.AcquisitionConfig{}, nil)
	assert.Equal(t, []string{TierAPI, TierItemPage, TierRawURL}, o.Tiers())
}

func TestFetchProduct_APITierWins(t *testing.T) {
	api, apiCalls := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/items/MLA1234567890", r.URL.Path)
		assert.Equal(t, "Bearer live", r.Header.Get("Authorization"))
		w.Write([]byte(sampleItem))
	})
	page, pageCalls := serve(t, respond(http.StatusOK, ogPage))

	o := newTestOrchestrator(api.URL, page.URL, staticTokens("live"), nil)
	p := o.FetchProduct(context.Background(), ParseItemRef(testItemURL))

	assert.Equal(t, TierAPI, p.Source)
	assert.Equal(t, "Zapatillas Running Pro", p.Name)
	assert.Equal(t, "https://http2.mlstatic.com/p1.jpg", p.ImageURL)
	assert.False(t, p.FetchedAt.IsZero())
	assert.Equal(t, int32(1), apiCalls.n.Load())
	assert.Equal(t, int32(0), pageCalls.n.Load(), "complete API result needs no page")
}

func TestFetchProduct_401WithoutRefreshCredsFallsToItemPage(t *testing.T) {
	api, apiCalls := serve(t, respond(http.StatusUnauthorized, `{"message":"invalid_token"}`))
	page, _ := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/MLA1234567890", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(ogPage))
	})

	// Access token present but no client secret or refresh token.
	tokens := oauth.NewRefresher(nil, types.OAuthConfig{AccessToken: "expired", ClientID: "app"}, nil)
	o := newTestOrchestrator(api.URL, page.URL, tokens, nil)
	p := o.FetchProduct(context.Background(), ParseItemRef(testItemURL))

	assert.Equal(t, TierItemPage, p.Source)
	assert.False(t, types.IsPlaceholderName(p.Name))
	assert.Equal(t, "Zapatillas Running Pro", p.Name)
	assert.Equal(t, "https://http2.mlstatic.com/og.jpg", p.ImageURL)
	require.NotNil(t, p.Price)
	assert.Equal(t, int32(1), apiCalls.n.Load(), "no second API attempt after a failed refresh")
}

func TestFetchProduct_401RefreshThenSuccess(t *testing.T) {
	tokenSrv, _ := serve(t, respond(http.StatusOK, `{"access_token":"fresh","refresh_token":"r2"}`))
	api, apiCalls := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(sampleItem))
	})
	page, _ := serve(t, respond(http.StatusOK, ogPage))

	tokens := oauth.NewRefresher(nil, types.OAuthConfig{
		ClientID: "app", ClientSecret: "s3cret", AccessToken: "stale", RefreshToken: "r1", TokenURL: tokenSrv.URL,
	}, nil)
	o := newTestOrchestrator(api.URL, page.URL, tokens, nil)
	p := o.FetchProduct(context.Background(), ParseItemRef(testItemURL))

	assert.Equal(t, TierAPI, p.Source)
	assert.Equal(t, int32(2), apiCalls.n.Load())
	assert.Equal(t, "fresh", tokens.AccessToken())
}

func TestFetchProduct_NoCredentialSkipsAPI(t *testing.T) {
	api, apiCalls := serve(t, respond(http.StatusOK, sampleItem))
	page, _ := serve(t, respond(http.StatusOK, ogPage))

	o := newTestOrchestrator(api.URL, page.URL, staticTokens(""), nil)
	p := o.FetchProduct(context.Background(), ParseItemRef(testItemURL))

	assert.Equal(t, TierItemPage, p.Source)
	assert.Equal(t, int32(0), apiCalls.n.Load())
}

func TestFetchProduct_RawURLTierWithoutItemID(t *testing.T) {
	api, apiCalls := serve(t, respond(http.StatusOK, sampleItem))
	page, _ := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tienda/zapatillas", r.URL.Path)
		w.Write([]byte(twitterPage))
	})

	o := newTestOrchestrator(api.URL, page.URL, staticTokens("live"), nil)
	ref := ParseItemRef(page.URL + "/tienda/zapatillas")
	require.False(t, ref.HasItemID())
	p := o.FetchProduct(context.Background(), ref)

	assert.Equal(t, TierRawURL, p.Source)
	assert.Equal(t, "Auriculares Inalambricos", p.Name)
	assert.Equal(t, ref.RawURL, p.URL)
	assert.Equal(t, int32(0), apiCalls.n.Load())
}

func TestFetchProduct_AllTiersFailReturnsPlaceholder(t *testing.T) {
	api, _ := serve(t, respond(http.StatusNotFound, `{"message":"not found"}`))
	page, _ := serve(t, respond(http.StatusInternalServerError, "boom"))

	o := newTestOrchestrator(api.URL, page.URL, staticTokens("live"), nil)
	p := o.FetchProduct(context.Background(), ParseItemRef(testItemURL))

	assert.Equal(t, TierPlaceholder, p.Source)
	assert.True(t, types.IsPlaceholderName(p.Name))
	assert.Equal(t, testItemURL, p.URL)
	assert.Equal(t, "ARS", p.Currency)
}

func TestFetchProduct_PageWithoutNameIsTierFailure(t *testing.T) {
	api, _ := serve(t, respond(http.StatusNotFound, ""))
	page, _ := serve(t, respond(http.StatusOK, srcsetPage))

	o := newTestOrchestrator(api.URL, page.URL, staticTokens("live"), nil)
	p := o.FetchProduct(context.Background(), ParseItemRef(testItemURL))
	assert.Equal(t, TierPlaceholder, p.Source)
}

const namelessItem = `{"title":"undefined","price":100,"currency_id":"ARS","permalink":"https://x/MLA1"}`

func TestFetchProduct_NameEnrichment(t *testing.T) {
	api, _ := serve(t, respond(http.StatusOK, namelessItem))
	page, pageCalls := serve(t, respond(http.StatusOK, ogPage))

	o := newTestOrchestrator(api.URL, page.URL, staticTokens("live"), nil)
	p := o.FetchProduct(context.Background(), ParseItemRef(testItemURL))

	assert.Equal(t, TierAPI, p.Source)
	assert.Equal(t, "Zapatillas Running Pro", p.Name)
	assert.Equal(t, "https://http2.mlstatic.com/og.jpg", p.ImageURL)
	require.NotNil(t, p.Price)
	assert.Equal(t, 100.0, *p.Price, "price is never merged from the page")
	assert.Equal(t, int32(1), pageCalls.n.Load())
}

func TestFetchProduct_StrictKeepsNameButStillEnrichesImage(t *testing.T) {
	api, _ := serve(t, respond(http.StatusOK, namelessItem))
	page, _ := serve(t, respond(http.StatusOK, ogPage))

	o := newTestOrchestrator(api.URL, page.URL, staticTokens("live"), func(c *types.AcquisitionConfig) {
		c.Strict = true
	})
	p := o.FetchProduct(context.Background(), ParseItemRef(testItemURL))

	assert.Equal(t, TierAPI, p.Source)
	assert.Equal(t, "undefined", p.Name)
	assert.Equal(t, "https://http2.mlstatic.com/og.jpg", p.ImageURL)
}

func TestFetchProduct_ChainBudget(t *testing.T) {
	slow := func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}
	api, _ := serve(t, slow)
	page, _ := serve(t, slow)

	o := newTestOrchestrator(api.URL, page.URL, staticTokens("live"), func(c *types.AcquisitionConfig) {
		c.ChainBudget = 50 * time.Millisecond
	})
	start := time.Now()
	p := o.FetchProduct(context.Background(), ParseItemRef(testItemURL))

	assert.Equal(t, TierPlaceholder, p.Source)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestFetchReviews_API(t *testing.T) {
	api, _ := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reviews/item/MLA1234567890", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		w.Write([]byte(sampleReviews))
	})
	page, pageCalls := serve(t, respond(http.StatusOK, widgetPage))

	o := newTestOrchestrator(api.URL, page.URL, staticTokens("live"), nil)
	reviews := o.FetchReviews(context.Background(), ParseItemRef(testItemURL), 2)

	require.Len(t, reviews, 2)
	assert.Equal(t, "COMPRADOR1", reviews[0].Author)
	assert.Equal(t, int32(0), pageCalls.n.Load())
}

func TestFetchReviews_FallsBackToPage(t *testing.T) {
	api, _ := serve(t, respond(http.StatusUnauthorized, ""))
	page, _ := serve(t, respond(http.StatusOK, widgetPage))

	o := newTestOrchestrator(api.URL, page.URL, staticTokens("live"), nil)
	reviews := o.FetchReviews(context.Background(), ParseItemRef(testItemURL), 10)

	require.Len(t, reviews, 2)
	assert.Equal(t, "Muy buena calidad", reviews[0].Text)
}

func TestFetchReviews_TotalFailureIsEmpty(t *testing.T) {
	api, _ := serve(t, respond(http.StatusInternalServerError, ""))
	page, _ := serve(t, respond(http.StatusOK, "<html><body>nothing here</body></html>"))

	o := newTestOrchestrator(api.URL, page.URL, staticTokens("live"), nil)
	reviews := o.FetchReviews(context.Background(), ParseItemRef(testItemURL), 10)

	require.NotNil(t, reviews)
	assert.Empty(t, reviews)
}

// sleepRecorder replaces the orchestrator's courtesy sleep.
type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return nil
}

func TestFetchBatch_CourtesyBetweenAPICalls(t *testing.T) {
	api, _ := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/items/MLA1234567890" || r.URL.Path == "/items/MLA2222222222" {
			w.Write([]byte(sampleItem))
			return
		}
		w.Write([]byte(sampleReviews))
	})
	page, _ := serve(t, respond(http.StatusOK, ogPage))

	o := newTestOrchestrator(api.URL, page.URL, staticTokens("live"), func(c *types.AcquisitionConfig) {
		c.CourtesyMin = 10 * time.Millisecond
		c.CourtesyMax = 20 * time.Millisecond
	})
	rec := &sleepRecorder{}
	o.sleep = rec.sleep

	refs := []types.ItemRef{
		ParseItemRef(testItemURL),
		ParseItemRef("https://articulo.mercadolibre.com.ar/MLA-2222222222-x"),
	}
	items := o.FetchBatch(context.Background(), refs, 5)

	require.Len(t, items, 2)
	for _, it := range items {
		assert.Equal(t, TierAPI, it.Product.Source)
		assert.Len(t, it.Reviews, 3)
	}
	// Four API calls, no pause after the last one.
	require.Len(t, rec.waits, 3)
	for _, d := range rec.waits {
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.Less(t, d, 20*time.Millisecond)
	}
}

func TestFetchBatch_NoCourtesyForScrapes(t *testing.T) {
	page, _ := serve(t, respond(http.StatusOK, ogPage))

	o := newTestOrchestrator("http://127.0.0.1:1", page.URL, nil, nil)
	rec := &sleepRecorder{}
	o.sleep = rec.sleep

	items := o.FetchBatch(context.Background(), []types.ItemRef{ParseItemRef(testItemURL), ParseItemRef(testItemURL)}, -1)
	require.Len(t, items, 2)
	assert.Equal(t, TierItemPage, items[0].Product.Source)
	assert.Empty(t, items[0].Reviews)
	assert.Empty(t, rec.waits)
}

func TestFetchProduct_SingleLookupNeverSleeps(t *testing.T) {
	api, _ := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/items/MLA1234567890" {
			w.Write([]byte(sampleItem))
			return
		}
		w.Write([]byte(sampleReviews))
	})
	o := newTestOrchestrator(api.URL, "http://127.0.0.1:1", staticTokens("live"), nil)
	rec := &sleepRecorder{}
	o.sleep = rec.sleep

	o.FetchProduct(context.Background(), ParseItemRef(testItemURL))
	o.FetchReviews(context.Background(), ParseItemRef(testItemURL), 5)
	assert.Empty(t, rec.waits)
}

func TestFetchPage_PacesPerHost(t *testing.T) {
	pageA, _ := serve(t, respond(http.StatusOK, ogPage))
	pageB, _ := serve(t, respond(http.StatusOK, ogPage))
	o := newTestOrchestrator("http://127.0.0.1:1", pageA.URL, nil, func(c *types.AcquisitionConfig) {
		c.ScrapeRate = 0.01
	})
	ref := ParseItemRef(testItemURL)

	_, err := o.fetchPage(context.Background(), pageA.URL+"/one", ref, TierItemPage)
	require.NoError(t, err)

	// Host A has spent its token; the next wait would outlast the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = o.fetchPage(ctx, pageA.URL+"/two", ref, TierItemPage)
	assert.Error(t, err)

	// Host B has its own limiter.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel2()
	_, err = o.fetchPage(ctx2, pageB.URL+"/one", ref, TierItemPage)
	assert.NoError(t, err)
	assert.Len(t, o.pacers, 2)
}

func TestFetchProduct_RecordsScrapeMetrics(t *testing.T) {
	page, _ := serve(t, respond(http.StatusOK, ogPage))
	o := newTestOrchestrator("http://127.0.0.1:1", page.URL, nil, nil)
	m := metrics.New()
	o.WithMetrics(m)

	p := o.FetchProduct(context.Background(), ParseItemRef(testItemURL))
	require.Equal(t, TierItemPage, p.Source)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `scrape_requests_total{tier="item-page"} 1`)
}
