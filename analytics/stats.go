package analytics

import (
	"accel-gap-monitor/models"

	"github.com/montanaflynn/stats"
)

// Summarize computes descriptive statistics over the magnitudes in points.
func Summarize(points []models.MagnitudePoint) (models.WindowStats, error) {
	if len(points) == 0 {
		return models.WindowStats{}, nil
	}

	data := make(stats.Float64Data, len(points))
	for i, p := range points {
		data[i] = p.Magnitude
	}

	mean, err := data.Mean()
	if err != nil {
		return models.WindowStats{}, err
	}
	stdDev, err := data.StandardDeviationPopulation()
	if err != nil {
		return models.WindowStats{}, err
	}
	lo, err := data.Min()
	if err != nil {
		return models.WindowStats{}, err
	}
	hi, err := data.Max()
	if err != nil {
		return models.WindowStats{}, err
	}

	return models.WindowStats{
		Count:  len(points),
		Mean:   mean,
		StdDev: stdDev,
		Min:    lo,
		Max:    hi,
	}, nil
}
