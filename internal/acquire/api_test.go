// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/review-engine/pkg/types"
)

const sampleItem = `{
  "id": "MLA1234567890",
  "title": "Zapatillas Running Pro",
  "price": 45999.5,
  "currency_id": "ARS",
  "permalink": "https://articulo.mercadolibre.com.ar/MLA-1234567890-zapatillas-_JM",
  "thumbnail": "http://http2.mlstatic.com/thumb.jpg",
  "pictures": [{"url": "http://http2.mlstatic.com/p1.jpg", "secure_url": "https://http2.mlstatic.com/p1.jpg"}],
  "reviews": {"total": 37, "rating_average": 4.4}
}`

const sampleReviews = `{
  "paging": {"total": 3},
  "rating_average": 4.0,
  "reviews": [
    {"reviewer": {"nickname": "COMPRADOR1"}, "rate": 5, "content": "Excelente producto", "date_created": "2024-03-01T10:00:00.000-0400"},
    {"reviewer": {"nickname": ""}, "rate": 0, "title": "Regular", "content": "", "date_created": "2024-03-02T11:30:00Z"},
    {"reviewer": {"nickname": "C3"}, "rate": 2, "content": "Malo", "date_created": "not a date"}
  ]
}`

func TestDecodeItem(t *testing.T) {
	ref := types.ItemRef{ItemID: "MLA1234567890", SiteCode: "MLA"}
	p, err := decodeItem(strings.NewReader(sampleItem), ref)
	require.NoError(t, err)

	assert.Equal(t, "Zapatillas Running Pro", p.Name)
	require.NotNil(t, p.Price)
	assert.Equal(t, 45999.5, *p.Price)
	assert.Equal(t, "ARS", p.Currency)
	assert.Equal(t, "https://http2.mlstatic.com/p1.jpg", p.ImageURL)
	assert.Equal(t, 37, p.ReviewCount)
	require.NotNil(t, p.Rating)
	assert.Equal(t, 4.4, *p.Rating)
	assert.Equal(t, Platform, p.Platform)
}

func TestDecodeItem_Fallbacks(t *testing.T) {
	ref := types.ItemRef{RawURL: "https://example.com/x", ItemID: "MLM1", SiteCode: "MLM"}
	p, err := decodeItem(strings.NewReader(`{"title":"","thumbnail":"http://t.jpg"}`), ref)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/x", p.URL)
	assert.Equal(t, "MXN", p.Currency)
	assert.Equal(t, "http://t.jpg", p.ImageURL)
	assert.Nil(t, p.Price)
	assert.Nil(t, p.Rating)
}

func TestDecodeItem_Malformed(t *testing.T) {
	_, err := decodeItem(strings.NewReader(`{"title":`), types.ItemRef{})
	var pe *ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestDecodeReviews(t *testing.T) {
	reviews, err := decodeReviews(strings.NewReader(sampleReviews), 10)
	require.NoError(t, err)
	require.Len(t, reviews, 3)

	assert.Equal(t, "COMPRADOR1", reviews[0].Author)
	assert.Equal(t, 5.0, reviews[0].Rating)
	want := time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)
	assert.True(t, reviews[0].Date.Equal(want), "got %v", reviews[0].Date)

	assert.Equal(t, "anonymous", reviews[1].Author)
	assert.Equal(t, types.DefaultRating, reviews[1].Rating)
	assert.Equal(t, "Regular", reviews[1].Text)

	assert.True(t, reviews[2].Date.IsZero())
}

func TestDecodeReviews_Limit(t *testing.T) {
	reviews, err := decodeReviews(strings.NewReader(sampleReviews), 2)
	require.NoError(t, err)
	assert.Len(t, reviews, 2)
}

func TestParseReviewDate(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"2024-03-01T10:00:00.000-0400", time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC), false},
		{"2024-03-01T10:00:00+0530", time.Date(2024, 3, 1, 4, 30, 0, 0, time.UTC), false},
		{"2024-03-01T10:00:00-04:00", time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC), false},
		{"2024-03-01T10:00:00Z", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), false},
		{"2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), false},
		{"", time.Time{}, true},
		{"yesterday", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseReviewDate(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "parseReviewDate(%q) = %v, want %v", tt.in, got, tt.want)
		})
	}
}
