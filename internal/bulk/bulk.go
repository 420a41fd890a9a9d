// Package bulk reads and writes the precomputed appointment export that
// answers aggregate questions without touching the live practice API.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"practice-insights/internal/planner"
)

// Row is one result record, keyed by column name.
type Row = map[string]interface{}

var (
	ErrUnsupportedIntent = errors.New("BULK_UNSUPPORTED_INTENT")
	ErrInvalidFilter     = errors.New("BULK_INVALID_FILTER")
)

// Reader answers bulk intents from an export store.
type Reader interface {
	Read(ctx context.Context, intent planner.Intent, plan planner.DataPlan) ([]Row, error)
}

// Default look-back windows per aggregate.
const (
	ServiceStatsWindow  = 30 * 24 * time.Hour
	NoShowWindow        = 30 * 24 * time.Hour
	ProviderLoadWindow  = 7 * 24 * time.Hour
	DefaultStreakLength = 2
)

// NoShowStatuses are the appointment statuses counted as missed visits.
var NoShowStatuses = []string{"NO_SHOW", "MISSED", "CANCELLED"}

// since resolves filters["since"] (YYYY-MM-DD) or now minus window.
func since(plan planner.DataPlan, now time.Time, window time.Duration) (time.Time, error) {
	if s, ok := plan.FilterString("since"); ok {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: since=%q", ErrInvalidFilter, s)
		}
		return t, nil
	}
	return now.Add(-window), nil
}

func limit(plan planner.DataPlan) int {
	if plan.SoftCap > 0 {
		return plan.SoftCap
	}
	return planner.DefaultSoftCap
}

// streakLength resolves filters["minStreak"], defaulting to DefaultStreakLength.
func streakLength(plan planner.DataPlan) int {
	switch v := plan.Filters["minStreak"].(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64:
		if v >= 1 {
			return int(v)
		}
	}
	return DefaultStreakLength
}

// fileIDs resolves filters["fileIds"] from either []string or decoded JSON.
func fileIDs(plan planner.DataPlan) []string {
	switch v := plan.Filters["fileIds"].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, id := range v {
			if s, ok := id.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
