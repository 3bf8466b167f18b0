package analyzer

import (
	"strings"

	"github.com/rs/zerolog"
)

// TextSimilarity scores how much an open-ended answer overlaps with the
// evaluator's earlier answers. Used by the integrity check to detect
// recycled free-text content.
type TextSimilarity interface {
	Normalize(text string) string
	Similarity(text1, text2 string) float64
	BestMatch(text string, corpus []string) (int, float64)
}

type textSimilarity struct {
	logger zerolog.Logger
}

func NewTextSimilarity(logger zerolog.Logger) TextSimilarity {
	return &textSimilarity{logger: logger}
}

func (a *textSimilarity) Normalize(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	return strings.ToLower(text)
}

// Similarity is the Jaccard index over normalized token sets. Word order is
// ignored: reshuffling a recycled answer does not hide it.
func (a *textSimilarity) Similarity(text1, text2 string) float64 {
	text1 = a.Normalize(text1)
	text2 = a.Normalize(text2)

	if text1 == "" || text2 == "" {
		return 0.0
	}

	set1 := make(map[string]bool)
	for _, token := range strings.Fields(text1) {
		set1[token] = true
	}

	set2 := make(map[string]bool)
	for _, token := range strings.Fields(text2) {
		set2[token] = true
	}

	intersection := 0
	for token := range set1 {
		if set2[token] {
			intersection++
		}
	}

	union := len(set1) + len(set2) - intersection
	if union == 0 {
		return 0.0
	}

	return float64(intersection) / float64(union)
}

// BestMatch returns the index and score of the closest corpus entry, or
// (-1, 0) for an empty corpus.
func (a *textSimilarity) BestMatch(text string, corpus []string) (int, float64) {
	bestIdx := -1
	bestScore := 0.0

	for i, candidate := range corpus {
		score := a.Similarity(text, candidate)
		if score > bestScore {
			bestIdx = i
			bestScore = score
		}
	}

	a.logger.Debug().
		Int("corpus_size", len(corpus)).
		Float64("best_score", bestScore).
		Msg("Similarity scan completed")

	return bestIdx, bestScore
}
