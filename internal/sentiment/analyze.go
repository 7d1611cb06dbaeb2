// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sentiment

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pdiddy/review-engine/pkg/types"
)

// DefaultKeywordLimit is the number of keywords Analyze returns.
const DefaultKeywordLimit = 15

// Scored is the per-review outcome of combining text and rating signals.
type Scored struct {
	Text  string
	Score float64
	Label types.Label
}

// ScoreReview combines the lexicon score of the cleaned text with the star
// rating normalized to [0,1]. A rating <= 0 counts as absent. When the
// text is empty the rating alone decides; otherwise the two are averaged.
func ScoreReview(text string, rating float64) Scored {
	cleaned := CleanText(text)
	textScore := TextScore(cleaned)

	var combined float64
	switch {
	case rating <= 0:
		combined = textScore
	case textScore == NeutralScore && cleaned == "":
		combined = normalizeRating(rating)
	default:
		combined = (textScore + normalizeRating(rating)) / 2
	}
	return Scored{Text: cleaned, Score: combined, Label: LabelFor(combined)}
}

func normalizeRating(rating float64) float64 {
	return math.Max(0, math.Min(1, rating/5))
}

// EmptySummary is the canonical result for a batch with no reviews.
func EmptySummary() types.SentimentSummary {
	return types.SentimentSummary{
		AverageScore: NeutralScore,
		Label:        types.LabelNeutral,
		Keywords:     []string{},
	}
}

// Analyzer aggregates review batches. The zero value uses
// DefaultKeywordLimit.
type Analyzer struct {
	KeywordLimit int
}

// Analyze reduces reviews to a SentimentSummary with the default keyword
// limit.
func Analyze(reviews []types.Review) types.SentimentSummary {
	return Analyzer{}.Analyze(reviews)
}

// Analyze reduces reviews to a SentimentSummary. The summary is recomputed
// from scratch; an empty batch yields EmptySummary.
func (a Analyzer) Analyze(reviews []types.Review) types.SentimentSummary {
	if len(reviews) == 0 {
		return EmptySummary()
	}
	limit := a.KeywordLimit
	if limit <= 0 {
		limit = DefaultKeywordLimit
	}

	scored := make([]Scored, len(reviews))
	var sum float64
	var pos, neg int
	for i, r := range reviews {
		s := ScoreReview(r.Text, r.Rating)
		scored[i] = s
		sum += s.Score
		switch s.Label {
		case types.LabelPositive:
			pos++
		case types.LabelNegative:
			neg++
		}
	}

	total := len(scored)
	neu := total - pos - neg
	avg := sum / float64(total)

	return types.SentimentSummary{
		AverageScore: round(avg, 3),
		Label:        LabelFor(avg),
		Total:        total,
		Positive:     pos,
		Negative:     neg,
		Neutral:      neu,
		Keywords:     ExtractKeywords(scored, limit),
		Distribution: types.Distribution{
			Positive: percent(pos, total),
			Neutral:  percent(neu, total),
			Negative: percent(neg, total),
		},
	}
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return round(float64(n)/float64(total)*100, 1)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Digest fills Stars and Opinion from the computed fields of s.
func Digest(s types.SentimentSummary) types.SentimentSummary {
	s.Stars = round(math.Max(0, math.Min(5, s.AverageScore*5)), 1)
	s.Opinion = opinion(s)
	return s
}

var labelPhrases = map[types.Label]string{
	types.LabelPositive: "Overall perception is positive.",
	types.LabelNegative: "Overall perception is negative.",
	types.LabelNeutral:  "Perception is mixed or neutral.",
}

func opinion(s types.SentimentSummary) string {
	base, ok := labelPhrases[s.Label]
	if !ok {
		base = labelPhrases[types.LabelNeutral]
	}
	parts := []string{
		base,
		formatFloat("Average %s stars across %d reviews.", s.Stars, s.Total),
	}
	if s.Total > 0 {
		parts = append(parts, distributionSentence(s.Distribution))
	}
	if len(s.Keywords) > 0 {
		top := s.Keywords
		if len(top) > 6 {
			top = top[:6]
		}
		parts = append(parts, "Top themes: "+strings.Join(top, ", ")+".")
	}
	return strings.Join(parts, " ")
}

func formatFloat(format string, v float64, n int) string {
	return fmt.Sprintf(format, strconv.FormatFloat(v, 'f', 1, 64), n)
}

func distributionSentence(d types.Distribution) string {
	return fmt.Sprintf("Distribution: %s%% positive, %s%% neutral, %s%% negative.",
		strconv.FormatFloat(d.Positive, 'f', 1, 64),
		strconv.FormatFloat(d.Neutral, 'f', 1, 64),
		strconv.FormatFloat(d.Negative, 'f', 1, 64))
}
