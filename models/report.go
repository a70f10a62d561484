package models

import "time"

// Anomaly marks the sample at which a gap was detected.
type Anomaly struct {
	TimestampMillis int64 `json:"timestamp_ms"`
}

// GapReport is the outcome of a completed detection pass.
type GapReport struct {
	DeviceID       string    `json:"device_id,omitempty"`
	Threshold      float64   `json:"threshold"`
	PointsAnalyzed int       `json:"points_analyzed"`
	Anomalies      []Anomaly `json:"anomalies"`
	ProcessedAt    time.Time `json:"processed_at"`
}

// Bounds is the visible time-axis range of the live series.
type Bounds struct {
	MinMillis int64 `json:"min_ms"`
	MaxMillis int64 `json:"max_ms"`
}

// WindowStats summarizes the magnitudes in the live window.
type WindowStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}
