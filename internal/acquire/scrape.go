// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pdiddy/review-engine/pkg/types"
)

// pageData is what a listing page yields. Zero values mean "not found".
type pageData struct {
	Name        string
	Price       *float64
	Currency    string
	ImageURL    string
	Rating      *float64
	ReviewCount int
}

// extractPage reads product fields from a listing page. Each field is
// taken from the first source that has it, in this order: OpenGraph meta
// tags, the Twitter Card tags, JSON-LD Product data, then the page body
// (title heading, price fraction, gallery image).
func extractPage(doc *goquery.Document) pageData {
	var d pageData

	d.Name = metaContent(doc, "og:title")
	d.ImageURL = metaContent(doc, "og:image")
	d.Price = parsePrice(metaContent(doc, "product:price:amount"))
	d.Currency = metaContent(doc, "product:price:currency")

	if d.Name == "" {
		d.Name = metaContent(doc, "twitter:title")
	}
	if d.ImageURL == "" {
		d.ImageURL = metaContent(doc, "twitter:image")
	}

	if ld, ok := findLDProduct(doc); ok {
		if d.Name == "" {
			d.Name = ld.Name
		}
		if d.ImageURL == "" {
			d.ImageURL = ld.Image
		}
		if d.Price == nil {
			d.Price = ld.Price
		}
		if d.Currency == "" {
			d.Currency = ld.Currency
		}
		d.Rating = ld.Rating
		d.ReviewCount = ld.ReviewCount
	}

	if d.Name == "" {
		d.Name = strings.TrimSpace(doc.Find("h1.ui-pdp-title").First().Text())
	}
	if d.Price == nil {
		d.Price = parsePrice(strings.NewReplacer(".", "", ",", "").Replace(
			strings.TrimSpace(doc.Find("span.andes-money-amount__fraction").First().Text())))
	}
	if d.ImageURL == "" {
		d.ImageURL = galleryImage(doc)
	}
	return d
}

// metaContent returns the content of the first meta tag whose property or
// name attribute equals key.
func metaContent(doc *goquery.Document, key string) string {
	var out string
	doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.AttrOr("property", "") == key || s.AttrOr("name", "") == key {
			out = strings.TrimSpace(s.AttrOr("content", ""))
			if out != "" {
				return false
			}
		}
		return true
	})
	return out
}

// galleryImage picks the best image of the listing gallery. An explicit
// zoom image wins, then the widest srcset candidate, then src.
func galleryImage(doc *goquery.Document) string {
	imgs := doc.Find("figure img")
	if imgs.Length() == 0 {
		imgs = doc.Find(".ui-pdp-gallery img")
	}

	var zoom, best, plain string
	bestWidth := -1
	imgs.Each(func(_ int, s *goquery.Selection) {
		if zoom == "" {
			zoom = strings.TrimSpace(s.AttrOr("data-zoom", ""))
		}
		for _, key := range []string{"srcset", "data-srcset"} {
			if u, w := largestSrcset(s.AttrOr(key, "")); u != "" && w > bestWidth {
				best, bestWidth = u, w
			}
		}
		if plain == "" {
			plain = strings.TrimSpace(s.AttrOr("src", ""))
			if plain == "" {
				plain = strings.TrimSpace(s.AttrOr("data-src", ""))
			}
		}
	})
	switch {
	case zoom != "":
		return zoom
	case best != "":
		return best
	default:
		return plain
	}
}

// largestSrcset returns the candidate with the largest descriptor from a
// srcset value such as "a.jpg 1x, b.jpg 2x" or "a.jpg 480w, b.jpg 1200w".
// Candidates without a descriptor count as 1x.
func largestSrcset(srcset string) (string, int) {
	bestURL, bestSize := "", -1
	for _, cand := range strings.Split(srcset, ",") {
		fields := strings.Fields(cand)
		if len(fields) == 0 {
			continue
		}
		size := 1
		if len(fields) > 1 {
			desc := fields[1]
			scale := 1.0
			switch {
			case strings.HasSuffix(desc, "w"):
				desc = strings.TrimSuffix(desc, "w")
			case strings.HasSuffix(desc, "x"):
				desc = strings.TrimSuffix(desc, "x")
				scale = 1000
			}
			if v, err := strconv.ParseFloat(desc, 64); err == nil {
				size = int(v * scale)
			}
		}
		if size > bestSize {
			bestURL, bestSize = fields[0], size
		}
	}
	return bestURL, bestSize
}

var priceChars = regexp.MustCompile(`[^\d.]`)

// parsePrice parses a plain decimal amount, ignoring currency symbols.
func parsePrice(s string) *float64 {
	s = priceChars.ReplaceAllString(s, "")
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return nil
	}
	return &v
}

// ldProduct is the subset of a schema.org Product we read.
type ldProduct struct {
	Name        string
	Image       string
	Price       *float64
	Currency    string
	Rating      *float64
	ReviewCount int
	Reviews     []types.Review
}

// findLDProduct scans JSON-LD scripts for the first Product node,
// including nodes nested under "@graph".
func findLDProduct(doc *goquery.Document) (ldProduct, bool) {
	var (
		found ldProduct
		ok    bool
	)
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var raw any
		if err := json.Unmarshal([]byte(s.Text()), &raw); err != nil {
			return true
		}
		if node := productNode(raw); node != nil {
			found, ok = readLDProduct(node), true
			return false
		}
		return true
	})
	return found, ok
}

func productNode(v any) map[string]any {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if n := productNode(item); n != nil {
				return n
			}
		}
	case map[string]any:
		if hasType(t["@type"], "Product") {
			return t
		}
		if graph, ok := t["@graph"]; ok {
			return productNode(graph)
		}
	}
	return nil
}

func hasType(v any, want string) bool {
	switch t := v.(type) {
	case string:
		return t == want
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

func readLDProduct(node map[string]any) ldProduct {
	p := ldProduct{
		Name:  strings.TrimSpace(ldString(node["name"])),
		Image: ldImage(node["image"]),
	}

	offers := node["offers"]
	if list, ok := offers.([]any); ok && len(list) > 0 {
		offers = list[0]
	}
	if o, ok := offers.(map[string]any); ok {
		p.Price = ldNumber(o["price"])
		if p.Price == nil {
			p.Price = ldNumber(o["lowPrice"])
		}
		p.Currency = ldString(o["priceCurrency"])
	}

	if agg, ok := node["aggregateRating"].(map[string]any); ok {
		p.Rating = ldNumber(agg["ratingValue"])
		for _, key := range []string{"reviewCount", "ratingCount"} {
			if n := ldNumber(agg[key]); n != nil {
				p.ReviewCount = int(*n)
				break
			}
		}
	}

	reviews, _ := node["review"].([]any)
	for _, item := range reviews {
		r, ok := item.(map[string]any)
		if !ok {
			continue
		}
		var rating float64
		if rr, ok := r["reviewRating"].(map[string]any); ok {
			if n := ldNumber(rr["ratingValue"]); n != nil {
				rating = *n
			}
		}
		author := ldString(r["author"])
		if a, ok := r["author"].(map[string]any); ok {
			author = ldString(a["name"])
		}
		date, _ := parseReviewDate(ldString(r["datePublished"]))
		p.Reviews = append(p.Reviews, newReview(author, rating, strings.TrimSpace(ldString(r["reviewBody"])), date))
	}
	return p
}

func ldString(v any) string {
	s, _ := v.(string)
	return s
}

func ldNumber(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return &f
		}
	}
	return nil
}

func ldImage(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		for _, item := range t {
			if s := ldImage(item); s != "" {
				return s
			}
		}
	case map[string]any:
		return ldString(t["url"])
	}
	return ""
}

// reviewBlock selectors for the listing page's review widget.
const (
	reviewSelector       = "article.ui-review-capability-comments__comment"
	reviewTextSelector   = ".ui-review-capability-comments__comment__content"
	reviewRatingSelector = ".ui-review-capability-comments__comment__rating"
	reviewDateSelector   = ".ui-review-capability-comments__comment__date"
	reviewAuthorSelector = ".ui-review-capability-comments__comment__author"
)

var ratingText = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(?:de|of)\s*5`)

// extractReviews reads reviews from a listing page: JSON-LD reviews when
// present, otherwise the review widget markup.
func extractReviews(doc *goquery.Document, limit int) ([]types.Review, error) {
	var reviews []types.Review
	if ld, ok := findLDProduct(doc); ok {
		reviews = ld.Reviews
	}

	if len(reviews) == 0 {
		doc.Find(reviewSelector).Each(func(_ int, s *goquery.Selection) {
			text := strings.TrimSpace(s.Find(reviewTextSelector).First().Text())
			if text == "" {
				return
			}
			var rating float64
			if m := ratingText.FindStringSubmatch(s.Find(reviewRatingSelector).Text()); m != nil {
				rating, _ = strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
			}
			if rating == 0 {
				rating = float64(s.Find(reviewRatingSelector + " svg.ui-review-capability-comments__comment__rating__star--filled").Length())
			}
			date, _ := parseReviewDate(s.Find(reviewDateSelector).AttrOr("datetime", ""))
			author := strings.TrimSpace(s.Find(reviewAuthorSelector).First().Text())
			reviews = append(reviews, newReview(author, rating, text, date))
		})
	}

	if len(reviews) == 0 {
		return nil, &ParseError{Source: "review page", Err: errors.New("no reviews found")}
	}
	if limit > 0 && len(reviews) > limit {
		reviews = reviews[:limit]
	}
	return reviews, nil
}
