// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/pdiddy/review-engine/pkg/types"
)

// apiItem mirrors the fields of GET /items/{id} that we use.
type apiItem struct {
	Title           string   `json:"title"`
	Price           *float64 `json:"price"`
	CurrencyID      string   `json:"currency_id"`
	Permalink       string   `json:"permalink"`
	Thumbnail       string   `json:"thumbnail"`
	SecureThumbnail string   `json:"secure_thumbnail"`
	Pictures        []struct {
		URL       string `json:"url"`
		SecureURL string `json:"secure_url"`
	} `json:"pictures"`
	Reviews *struct {
		Total         int      `json:"total"`
		RatingAverage *float64 `json:"rating_average"`
	} `json:"reviews"`
}

// apiReviews mirrors GET /reviews/item/{id}.
type apiReviews struct {
	Reviews []struct {
		Reviewer struct {
			Nickname string `json:"nickname"`
		} `json:"reviewer"`
		Rate        float64 `json:"rate"`
		Title       string  `json:"title"`
		Content     string  `json:"content"`
		DateCreated string  `json:"date_created"`
	} `json:"reviews"`
	RatingAverage *float64 `json:"rating_average"`
	Paging        struct {
		Total int `json:"total"`
	} `json:"paging"`
}

// decodeItem converts an items payload into a Product.
func decodeItem(r io.Reader, ref types.ItemRef) (types.Product, error) {
	var item apiItem
	if err := json.NewDecoder(r).Decode(&item); err != nil {
		return types.Product{}, &ParseError{Source: "items API", Err: err}
	}

	p := types.Product{
		Name:     strings.TrimSpace(item.Title),
		Price:    item.Price,
		Currency: item.CurrencyID,
		Platform: Platform,
		URL:      item.Permalink,
		ImageURL: itemImage(item),
	}
	if p.URL == "" {
		p.URL = ref.RawURL
	}
	if p.Currency == "" {
		p.Currency = SiteFor(ref.SiteCode).Currency
	}
	if item.Reviews != nil {
		p.ReviewCount = item.Reviews.Total
		p.Rating = item.Reviews.RatingAverage
	}
	return p, nil
}

func itemImage(item apiItem) string {
	for _, pic := range item.Pictures {
		if pic.SecureURL != "" {
			return pic.SecureURL
		}
		if pic.URL != "" {
			return pic.URL
		}
	}
	if item.SecureThumbnail != "" {
		return item.SecureThumbnail
	}
	return item.Thumbnail
}

// decodeReviews converts a reviews payload into at most limit reviews.
func decodeReviews(r io.Reader, limit int) ([]types.Review, error) {
	var payload apiReviews
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, &ParseError{Source: "reviews API", Err: err}
	}

	reviews := make([]types.Review, 0, len(payload.Reviews))
	for _, raw := range payload.Reviews {
		if limit > 0 && len(reviews) >= limit {
			break
		}
		text := strings.TrimSpace(raw.Content)
		if text == "" {
			text = strings.TrimSpace(raw.Title)
		}
		date, _ := parseReviewDate(raw.DateCreated)
		reviews = append(reviews, newReview(raw.Reviewer.Nickname, raw.Rate, text, date))
	}
	return reviews, nil
}

func newReview(author string, rating float64, text string, date time.Time) types.Review {
	author = strings.TrimSpace(author)
	if author == "" {
		author = "anonymous"
	}
	if rating <= 0 || rating > 5 {
		rating = types.DefaultRating
	}
	return types.Review{
		Author:   author,
		Rating:   rating,
		Text:     text,
		Date:     date,
		Platform: Platform,
	}
}

// compactOffset matches a trailing "+HHMM" or "-HHMM" zone offset.
var compactOffset = regexp.MustCompile(`([+-])(\d{2})(\d{2})$`)

// parseReviewDate parses an ISO-8601 timestamp whose zone offset may be
// written without a colon ("2024-03-01T10:00:00.000-0400").
func parseReviewDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	s = compactOffset.ReplaceAllString(s, "$1$2:$3")
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &ParseError{Source: "review date", Err: fmt.Errorf("unrecognized timestamp %q", s)}
}
