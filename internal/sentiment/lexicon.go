// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package sentiment scores review text against a bilingual lexicon and
// aggregates review batches into a SentimentSummary. Everything here is
// pure: the same input always yields the same output.
package sentiment

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/pdiddy/review-engine/pkg/types"
)

// Label thresholds. A score at or above PositiveThreshold is positive, at
// or below NegativeThreshold is negative, anything between is neutral.
const (
	PositiveThreshold = 0.6
	NegativeThreshold = 0.4
	NeutralScore      = 0.5
)

var (
	// whitespaceRun includes the Unicode separators; scraped text carries
	// U+00A0 from &nbsp; entities.
	whitespaceRun = regexp.MustCompile(`[\s\p{Z}]+`)
	// disallowed matches anything outside word characters, whitespace and
	// basic punctuation. Letters are matched by Unicode class so accented
	// Spanish text survives cleaning.
	disallowed = regexp.MustCompile(`[^\p{L}\p{N}_\s.,!?-]`)
)

// positiveWords and negativeWords are the English + Spanish lexicon. The
// Spanish entries are stored without diacritics; tokens are folded before
// lookup.
var positiveWords = wordSet(
	"good", "great", "excellent", "amazing", "wonderful", "fantastic", "love",
	"perfect", "best", "awesome", "outstanding", "superb", "happy", "satisfied",
	"recommend", "quality", "fast", "easy",
	"bueno", "excelente", "increible", "maravilloso", "fantastico", "mejor",
	"perfecto", "encanta", "recomiendo", "satisfecho", "feliz", "calidad",
	"rapido", "facil", "cumple", "funciona", "genial",
)

var negativeWords = wordSet(
	"bad", "terrible", "awful", "horrible", "worst", "poor", "hate",
	"disappointed", "waste", "broken", "defective", "useless", "slow",
	"difficult", "problem", "issue", "never", "not", "dont",
	"malo", "peor", "defectuoso", "roto", "lento", "dificil", "problema",
	"fallo", "nunca", "no", "decepcionado", "odio", "pobre", "nofunciona",
	"engano", "estafa",
)

func wordSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// CleanText collapses whitespace runs and strips characters outside the
// word and basic-punctuation classes.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	text = whitespaceRun.ReplaceAllString(text, " ")
	text = disallowed.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// LabelFor converts a score into its polarity label.
func LabelFor(score float64) types.Label {
	switch {
	case score >= PositiveThreshold:
		return types.LabelPositive
	case score <= NegativeThreshold:
		return types.LabelNegative
	default:
		return types.LabelNeutral
	}
}

// TextScore returns positive/(positive+negative) lexicon hits for text, or
// NeutralScore when no lexicon word occurs. Text should already be cleaned.
func TextScore(text string) float64 {
	pos, neg := lexiconHits(text)
	if pos+neg == 0 {
		return NeutralScore
	}
	return float64(pos) / float64(pos+neg)
}

func lexiconHits(text string) (pos, neg int) {
	lower := fold(strings.ToLower(text))
	lower = strings.ReplaceAll(lower, "no funciona", "nofunciona")
	for _, tok := range strings.Fields(lower) {
		tok = strings.Trim(tok, ".,!?-")
		if _, ok := positiveWords[tok]; ok {
			pos++
		}
		if _, ok := negativeWords[tok]; ok {
			neg++
		}
	}
	return pos, neg
}

// fold strips diacritics so "rápido" matches the lexicon entry "rapido".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
