package storage

import (
	"testing"

	"accel-gap-monitor/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveSeriesPushEvictsAndBounds(t *testing.T) {
	s := NewLiveSeries(30)
	_, ok := s.Bounds()
	assert.False(t, ok)

	for i := 1; i <= 35; i++ {
		s.Push(models.MagnitudePoint{TimestampMillis: int64(i) * 10, Magnitude: 1})
	}

	assert.Equal(t, 30, s.Len())
	b, ok := s.Bounds()
	require.True(t, ok)
	assert.Equal(t, models.Bounds{MinMillis: 60, MaxMillis: 350}, b)
}

func TestLiveSeriesPushBatch(t *testing.T) {
	s := NewLiveSeries(3)
	s.Push(
		models.MagnitudePoint{TimestampMillis: 1},
		models.MagnitudePoint{TimestampMillis: 2},
		models.MagnitudePoint{TimestampMillis: 3},
		models.MagnitudePoint{TimestampMillis: 4},
	)

	points := s.Points()
	require.Len(t, points, 3)
	assert.Equal(t, int64(2), points[0].TimestampMillis)
	b, _ := s.Bounds()
	assert.Equal(t, models.Bounds{MinMillis: 2, MaxMillis: 4}, b)
}

func TestLiveSeriesKeepsArrivalOrder(t *testing.T) {
	s := NewLiveSeries(5)
	s.Push(
		models.MagnitudePoint{TimestampMillis: 300},
		models.MagnitudePoint{TimestampMillis: 100},
		models.MagnitudePoint{TimestampMillis: 200},
	)

	points := s.Points()
	assert.Equal(t, []int64{300, 100, 200}, []int64{points[0].TimestampMillis, points[1].TimestampMillis, points[2].TimestampMillis})
	b, _ := s.Bounds()
	assert.Equal(t, models.Bounds{MinMillis: 100, MaxMillis: 300}, b)
}

func TestLiveSeriesReset(t *testing.T) {
	s := NewLiveSeries(2)
	s.Push(models.MagnitudePoint{TimestampMillis: 1}, models.MagnitudePoint{TimestampMillis: 2}, models.MagnitudePoint{TimestampMillis: 3})
	assert.Equal(t, []models.MagnitudePoint{{TimestampMillis: 2}, {TimestampMillis: 3}}, s.Points())

	s.Reset()
	assert.Equal(t, 0, s.Len())
	_, ok := s.Bounds()
	assert.False(t, ok)
}
