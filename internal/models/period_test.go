package models

import (
	"testing"
	"time"
)

func TestAcceptsSubmissions(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	window := func(status PeriodStatus, start, end time.Time) *EvaluationPeriod {
		return &EvaluationPeriod{Status: status, StartAt: start, EndAt: end}
	}

	tests := []struct {
		name   string
		period *EvaluationPeriod
		want   bool
	}{
		{"active inside window", window(PeriodActive, now.Add(-time.Hour), now.Add(time.Hour)), true},
		{"active at start boundary", window(PeriodActive, now, now.Add(time.Hour)), true},
		{"active at end boundary", window(PeriodActive, now.Add(-time.Hour), now), false},
		{"active before window", window(PeriodActive, now.Add(time.Minute), now.Add(time.Hour)), false},
		{"scheduled inside window", window(PeriodScheduled, now.Add(-time.Hour), now.Add(time.Hour)), false},
		{"closed inside window", window(PeriodClosed, now.Add(-time.Hour), now.Add(time.Hour)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.period.AcceptsSubmissions(now); got != tt.want {
				t.Errorf("AcceptsSubmissions = %v, want %v", got, tt.want)
			}
		})
	}
}
