package analytics

import (
	"errors"
	"fmt"
	"math"

	"accel-gap-monitor/models"
)

// MinPoints is the smallest window the gap detector can evaluate.
const MinPoints = 3

var (
	ErrInsufficientData = errors.New("insufficient data for analysis: at least 3 points are required")
	ErrInvalidThreshold = errors.New("threshold must be a positive finite number")
)

// Detect flags every interior point where the magnitude was rising and then
// falls, with a second-order difference larger than threshold.
//
// An empty result means the window was evaluated and no gaps were found; a
// window that is too short yields ErrInsufficientData instead.
func Detect(points []models.MagnitudePoint, threshold float64) ([]models.Anomaly, error) {
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) || threshold <= 0 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidThreshold, threshold)
	}

	if len(points) < MinPoints {
		return nil, ErrInsufficientData
	}

	anomalies := make([]models.Anomaly, 0)
	for i := 1; i < len(points)-1; i++ {
		increase := points[i+1].Magnitude - points[i].Magnitude
		decrease := points[i].Magnitude - points[i-1].Magnitude
		delta2 := increase - decrease

		if increase < 0 && decrease > 0 && math.Abs(delta2) > threshold {
			anomalies = append(anomalies, models.Anomaly{TimestampMillis: points[i].TimestampMillis})
		}
	}

	return anomalies, nil
}
