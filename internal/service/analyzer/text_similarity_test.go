package analyzer

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
)

func newTestAnalyzer() TextSimilarity {
	return NewTextSimilarity(zerolog.Nop())
}

func TestNormalize(t *testing.T) {
	a := newTestAnalyzer()

	tests := []struct {
		in   string
		want string
	}{
		{"  Hello   World  ", "hello world"},
		{"ALREADY\tnormalized\ntext", "already normalized text"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := a.Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSimilarity(t *testing.T) {
	a := newTestAnalyzer()

	tests := []struct {
		name   string
		text1  string
		text2  string
		want   float64
	}{
		{"identical", "great course overall", "great course overall", 1},
		{"reordered", "great course overall", "overall great course", 1},
		{"case insensitive", "Great Course", "great course", 1},
		{"disjoint", "great course", "poor pacing", 0},
		{"empty side", "", "great course", 0},
		// Token sets {a,b,c} and {b,c,d}: 2 shared of 4 distinct.
		{"partial overlap", "a b c", "b c d", 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Similarity(tt.text1, tt.text2)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Similarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBestMatch(t *testing.T) {
	a := newTestAnalyzer()

	idx, score := a.BestMatch("anything", nil)
	if idx != -1 || score != 0 {
		t.Errorf("BestMatch on empty corpus = (%d, %v), want (-1, 0)", idx, score)
	}

	corpus := []string{
		"completely unrelated remark",
		"the lectures were clear and well organized",
		"somewhat related lectures",
	}
	idx, score = a.BestMatch("the lectures were clear and well organized", corpus)
	if idx != 1 {
		t.Errorf("BestMatch index = %d, want 1", idx)
	}
	if score != 1 {
		t.Errorf("BestMatch score = %v, want 1", score)
	}
}
