package ingest

import (
	"testing"
	"time"

	"accel-gap-monitor/models"
	"accel-gap-monitor/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshAppliesDrainedBatch(t *testing.T) {
	buffer := storage.NewSampleBuffer(100)
	series := storage.NewLiveSeries(30)
	rec := &pointsRecorder{}
	r := NewWindowRefresher(buffer, series, time.Hour, rec.record, discardLogger())

	assert.Equal(t, 0, r.refresh())

	buffer.Append("1,0,0,100")
	buffer.Append("0,2,0,200")
	buffer.Append("0,0,3,300")

	assert.Equal(t, 3, r.refresh())
	assert.Equal(t, []models.MagnitudePoint{
		{TimestampMillis: 100, Magnitude: 1},
		{TimestampMillis: 200, Magnitude: 2},
		{TimestampMillis: 300, Magnitude: 3},
	}, series.Points())
	assert.Len(t, buffer.AllPoints(), 3)
	require.Len(t, rec.batches, 1)
	assert.Len(t, rec.batches[0], 3)

	assert.Equal(t, 0, r.refresh())
	assert.Len(t, rec.batches, 1)
}

func TestRefreshSkipsBadEntries(t *testing.T) {
	buffer := storage.NewSampleBuffer(100)
	series := storage.NewLiveSeries(30)
	r := NewWindowRefresher(buffer, series, time.Hour, nil, discardLogger())

	buffer.Append("1,0,0,100")
	buffer.Append("garbage")
	buffer.Append("0,0,1,300")

	assert.Equal(t, 2, r.refresh())
	points := series.Points()
	require.Len(t, points, 2)
	assert.Equal(t, int64(300), points[1].TimestampMillis)
}

func TestRefreshEvictsAtVisibleCap(t *testing.T) {
	buffer := storage.NewSampleBuffer(1000)
	series := storage.NewLiveSeries(30)
	r := NewWindowRefresher(buffer, series, time.Hour, nil, discardLogger())

	for i := 1; i <= 50; i++ {
		buffer.Append(models.FormatSample(models.Sample{Z: 1, TimestampMillis: int64(i)}))
	}
	r.refresh()

	assert.Equal(t, 30, series.Len())
	assert.Len(t, buffer.AllPoints(), 50)
	b, _ := series.Bounds()
	assert.Equal(t, models.Bounds{MinMillis: 21, MaxMillis: 50}, b)
}

func TestWindowRefresherStartStop(t *testing.T) {
	buffer := storage.NewSampleBuffer(100)
	series := storage.NewLiveSeries(30)
	r := NewWindowRefresher(buffer, series, 10*time.Millisecond, nil, discardLogger())

	r.Start()
	buffer.Append("0,0,1,100")

	require.Eventually(t, func() bool {
		return series.Len() == 1
	}, time.Second, 5*time.Millisecond)

	r.Stop()
	r.Stop()

	// Nothing drains after Stop returns.
	buffer.Append("0,0,1,200")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, series.Len())
	assert.Equal(t, 1, buffer.Stats().Pending)
}

func TestWindowRefresherStopWithoutStart(t *testing.T) {
	r := NewWindowRefresher(storage.NewSampleBuffer(1), storage.NewLiveSeries(1), time.Millisecond, nil, discardLogger())
	r.Stop()
}
