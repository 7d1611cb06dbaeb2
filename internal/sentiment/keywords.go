// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sentiment

import (
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pdiddy/review-engine/pkg/types"
)

// intensityFloor is the minimum distance from neutral a review needs to
// contribute sentiment-weighted keywords.
const intensityFloor = 0.05

// minWeight is the smallest weight a contributing token receives.
const minWeight = 0.1

// stopWords holds English and Spanish function words plus generic review
// vocabulary that never makes a useful keyword.
var stopWords = wordSet(
	"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for", "of",
	"with", "is", "was", "are", "were", "been", "be", "have", "has", "had", "do",
	"does", "did", "will", "would", "could", "should", "may", "might", "must",
	"can", "this", "that", "these", "those", "i", "you", "he", "she", "it", "we",
	"they", "what", "which", "who", "when", "where", "why", "how", "all", "each",
	"every", "both", "few", "more", "most", "other", "some", "such", "no", "nor",
	"not", "only", "own", "same", "so", "than", "too", "very", "just", "from",
	"about", "into", "through", "during", "before", "after", "above", "below",
	"between", "under", "again", "further", "then", "once", "here", "there",
	"also", "its", "my", "your", "their", "our", "his", "her", "them", "us",
	"me", "him", "himself", "herself", "itself", "ourselves", "yourselves",
	"themselves",
	"el", "la", "los", "las", "un", "una", "unos", "unas", "y", "o", "pero",
	"en", "de", "con", "para", "por", "es", "son", "fue", "eran", "han", "ha",
	"haber", "tiene", "tener", "tuvo", "tuvieron", "puede", "podria", "debe",
	"deberia", "pueden", "estas", "esta", "este", "estos", "yo", "tu", "usted",
	"ustedes", "vos", "vosotros", "nosotros", "ellos", "ellas", "que", "cual",
	"quien", "cuando", "donde", "porque", "como", "todos", "cada", "ambos",
	"pocos", "mas", "menos", "otra", "otros", "algunos", "tal", "ninguno", "ni",
	"solo", "mismo", "asi", "muy", "desde", "sobre", "entre", "durante", "antes",
	"despues", "arriba", "abajo", "aqui", "alli", "tambien", "su", "mis", "tus",
	"sus", "nuestro", "nuestra", "nuestros", "nuestras", "mi", "le", "les", "lo",
	"se",
	"review", "reviews", "reseña", "reseñas", "opinion", "opiniones", "producto",
	"libro", "pelicula", "film", "movie", "page", "site", "website", "content",
	"texto", "ejemplo", "muestra", "sample", "placeholder", "text", "example",
	"mock",
)

// candidate strips non-word characters from raw and reports whether the
// result is a usable keyword: longer than three letters, alphabetic and
// not a stopword.
func candidate(raw string) (string, bool) {
	w := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return r
		}
		return -1
	}, raw)
	if utf8.RuneCountInString(w) <= 3 {
		return "", false
	}
	for _, r := range w {
		if !unicode.IsLetter(r) {
			return "", false
		}
	}
	if _, stop := stopWords[w]; stop {
		return "", false
	}
	return w, true
}

// ExtractKeywords ranks tokens by accumulated sentiment weight. Reviews
// within intensityFloor of neutral contribute nothing; each token of a
// positive or negative review gains max(minWeight, |score-0.5|). When the
// weighted pass yields fewer than max(5, limit/2) words, plain frequency
// over all review text fills the remainder.
func ExtractKeywords(scored []Scored, limit int) []string {
	result := []string{}
	if len(scored) == 0 || limit <= 0 {
		return result
	}

	weights := make(map[string]float64)
	for _, s := range scored {
		text := strings.ToLower(s.Text)
		if text == "" {
			continue
		}
		intensity := math.Abs(s.Score - NeutralScore)
		if intensity <= intensityFloor {
			continue
		}
		if s.Label != types.LabelPositive && s.Label != types.LabelNegative {
			continue
		}
		w := math.Max(minWeight, intensity)
		for _, raw := range strings.Fields(text) {
			if tok, ok := candidate(raw); ok {
				weights[tok] += w
			}
		}
	}

	ranked := make([]string, 0, len(weights))
	for k := range weights {
		ranked = append(ranked, k)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if weights[ranked[i]] != weights[ranked[j]] {
			return weights[ranked[i]] > weights[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})

	seen := make(map[string]bool)
	for _, k := range ranked {
		if len(result) >= limit {
			break
		}
		seen[k] = true
		result = append(result, k)
	}

	if len(result) >= max(5, limit/2) {
		return result
	}

	texts := make([]string, 0, len(scored))
	for _, s := range scored {
		if s.Text != "" {
			texts = append(texts, s.Text)
		}
	}
	for _, k := range FrequentWords(strings.Join(texts, " "), limit) {
		if len(result) >= limit {
			break
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		result = append(result, k)
	}
	return result
}

// FrequentWords returns up to limit keyword candidates of text ordered by
// occurrence count, ties broken by first appearance.
func FrequentWords(text string, limit int) []string {
	if text == "" || limit <= 0 {
		return nil
	}
	counts := make(map[string]int)
	var order []string
	for _, raw := range strings.Fields(strings.ToLower(text)) {
		tok, ok := candidate(raw)
		if !ok {
			continue
		}
		if counts[tok] == 0 {
			order = append(order, tok)
		}
		counts[tok]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > limit {
		order = order[:limit]
	}
	return order
}
