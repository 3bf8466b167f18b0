package service

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestMedian(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"empty", nil, 0},
		{"single", []float64{42}, 42},
		{"odd", []float64{3, 1, 2}, 2},
		{"even", []float64{4, 1, 3, 2}, 2.5},
		{"unsorted even", []float64{100, 0, 50, 75}, 62.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := median(tt.values); !almostEqual(got, tt.want) {
				t.Errorf("median(%v) = %v, want %v", tt.values, got, tt.want)
			}
		})
	}
}

func TestMedianDoesNotMutateInput(t *testing.T) {
	values := []float64{3, 1, 2}
	median(values)
	if values[0] != 3 || values[1] != 1 || values[2] != 2 {
		t.Errorf("median mutated its input: %v", values)
	}
}

func TestMean(t *testing.T) {
	if got := mean(nil); got != 0 {
		t.Errorf("mean(nil) = %v, want 0", got)
	}
	if got := mean([]float64{80, 90}); !almostEqual(got, 85) {
		t.Errorf("mean = %v, want 85", got)
	}
}

func TestSampleStdDev(t *testing.T) {
	if got := sampleStdDev(nil); got != 0 {
		t.Errorf("sampleStdDev(nil) = %v, want 0", got)
	}
	if got := sampleStdDev([]float64{10}); got != 0 {
		t.Errorf("sampleStdDev of one value = %v, want 0", got)
	}

	// Two values 80 and 90: sample variance is 50, stddev sqrt(50).
	got := sampleStdDev([]float64{80, 90})
	want := math.Sqrt(50)
	if !almostEqual(got, want) {
		t.Errorf("sampleStdDev = %v, want %v", got, want)
	}
}

func TestZScore(t *testing.T) {
	if got := zScore(95, 85, 0); got != 0 {
		t.Errorf("zScore with zero stddev = %v, want 0", got)
	}

	stdDev := math.Sqrt(50)
	if got := zScore(90, 85, stdDev); !almostEqual(got, 5/stdDev) {
		t.Errorf("zScore = %v, want %v", got, 5/stdDev)
	}
	if got := zScore(80, 85, stdDev); !almostEqual(got, -5/stdDev) {
		t.Errorf("zScore = %v, want %v", got, -5/stdDev)
	}
}
