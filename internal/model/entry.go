package model

import (
	"fmt"
)

// MetricType identifies a body metric tracked as progress entries.
type MetricType string

const (
	MetricWeight   MetricType = "weight"
	MetricWater    MetricType = "water"
	MetricSteps    MetricType = "steps"
	MetricCalories MetricType = "calories"
	MetricSleep    MetricType = "sleep"
	MetricBodyFat  MetricType = "body_fat"
)

// ParseMetricType decodes a stored metric type string.
func ParseMetricType(s string) (MetricType, error) {
	switch MetricType(s) {
	case MetricWeight, MetricWater, MetricSteps, MetricCalories, MetricSleep, MetricBodyFat:
		return MetricType(s), nil
	}
	return "", fmt.Errorf("invalid metric type %q", s)
}

// Cumulative reports whether same-day samples of the metric accumulate.
// Cumulative metrics add into one row per calendar day; point metrics
// replace that day's measurement.
func (m MetricType) Cumulative() bool {
	switch m {
	case MetricWater, MetricSteps, MetricCalories:
		return true
	}
	return false
}

// ProgressEntry is a single body-metric sample. For cumulative metrics
// a row is the running total for its calendar day.
type ProgressEntry struct {
	SyncRecord
	MetricType MetricType `db:"metric_type" json:"metric_type"`
	Value      float64    `db:"value" json:"value"`
	Unit       string     `db:"unit" json:"unit"`
}
