package ingest

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"accel-gap-monitor/models"
	"accel-gap-monitor/storage"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const topic = "/dev-1/data/accelerometer"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pointsRecorder collects batches passed to a PointsFunc.
type pointsRecorder struct {
	mu      sync.Mutex
	batches [][]models.MagnitudePoint
}

func (r *pointsRecorder) record(points []models.MagnitudePoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, points)
}

func (r *pointsRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func TestParseFeedMode(t *testing.T) {
	m, err := ParseFeedMode("direct")
	require.NoError(t, err)
	assert.Equal(t, FeedDirect, m)

	m, err = ParseFeedMode("refresh")
	require.NoError(t, err)
	assert.Equal(t, FeedRefresh, m)

	_, err = ParseFeedMode("poll")
	assert.Error(t, err)
}

func TestIngestorMalformedLeavesBufferUnchanged(t *testing.T) {
	for _, mode := range []FeedMode{FeedDirect, FeedRefresh} {
		t.Run(string(mode), func(t *testing.T) {
			buffer := storage.NewSampleBuffer(30)
			series := storage.NewLiveSeries(30)
			rec := &pointsRecorder{}
			in := NewIngestor("dev-1", mode, buffer, series, rec.record, discardLogger())

			in.OnMessage(topic, []byte("1.0,2.0,3.0,100"))
			before := buffer.Stats()
			beforeRaw := buffer.SnapshotAll()

			in.OnMessage(topic, []byte("1.0,2.0,bad,1000"))
			in.OnMessage(topic, []byte("1.0,2.0"))

			assert.Equal(t, before, buffer.Stats())
			assert.Equal(t, beforeRaw, buffer.SnapshotAll())
			assert.Equal(t, int64(3), in.Received())
			assert.Equal(t, int64(2), in.Dropped())

			// Later valid messages are still accepted.
			in.OnMessage(topic, []byte("0,0,1,200"))
			assert.Equal(t, 2, buffer.Stats().RawEntries)
		})
	}
}

func TestIngestorRefreshModeOnlyAppendsRaw(t *testing.T) {
	buffer := storage.NewSampleBuffer(30)
	series := storage.NewLiveSeries(30)
	rec := &pointsRecorder{}
	in := NewIngestor("dev-1", FeedRefresh, buffer, series, rec.record, discardLogger())

	in.OnMessage(topic, []byte("3,4,0,100"))

	assert.Equal(t, []string{"3,4,0,100"}, buffer.SnapshotAll())
	assert.Empty(t, buffer.AllPoints())
	assert.Equal(t, 0, series.Len())
	assert.Equal(t, 0, rec.count())
}

func TestIngestorDirectModeFeedsSeries(t *testing.T) {
	buffer := storage.NewSampleBuffer(30)
	series := storage.NewLiveSeries(30)
	rec := &pointsRecorder{}
	in := NewIngestor("dev-1", FeedDirect, buffer, series, rec.record, discardLogger())

	for i := 1; i <= 40; i++ {
		in.OnMessage(topic, []byte(models.FormatSample(models.Sample{X: 3, Y: 4, TimestampMillis: int64(i) * 100})))
	}

	assert.Equal(t, 40, buffer.Stats().RawEntries)
	assert.Len(t, buffer.AllPoints(), 30)
	require.Equal(t, 30, series.Len())

	points := series.Points()
	assert.Equal(t, int64(1100), points[0].TimestampMillis)
	assert.InDelta(t, 5.0, points[0].Magnitude, 1e-12)

	b, ok := series.Bounds()
	require.True(t, ok)
	assert.Equal(t, models.Bounds{MinMillis: 1100, MaxMillis: 4000}, b)
	assert.Equal(t, 40, rec.count())
}

func TestIngestorIgnoresMessagesAfterClose(t *testing.T) {
	buffer := storage.NewSampleBuffer(30)
	series := storage.NewLiveSeries(30)
	rec := &pointsRecorder{}
	in := NewIngestor("dev-closed", FeedDirect, buffer, series, rec.record, discardLogger())

	in.OnMessage(topic, []byte("0,0,1,100"))
	labels := testutil.CollectAndCount(rawLogEntries)

	in.Close()
	assert.Equal(t, labels-1, testutil.CollectAndCount(rawLogEntries))

	in.OnMessage(topic, []byte("0,0,1,200"))
	assert.Equal(t, 1, buffer.Stats().RawEntries)
	assert.Equal(t, 1, series.Len())
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, int64(1), in.Received())
	assert.Equal(t, labels-1, testutil.CollectAndCount(rawLogEntries))
}
