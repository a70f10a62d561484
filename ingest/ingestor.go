package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"accel-gap-monitor/models"
	"accel-gap-monitor/storage"
)

// FeedMode selects who moves samples into the live series.
type FeedMode string

const (
	// FeedDirect pushes each point into the live series on arrival.
	FeedDirect FeedMode = "direct"
	// FeedRefresh leaves points to the WindowRefresher.
	FeedRefresh FeedMode = "refresh"
)

func ParseFeedMode(s string) (FeedMode, error) {
	switch FeedMode(s) {
	case FeedDirect, FeedRefresh:
		return FeedMode(s), nil
	default:
		return "", fmt.Errorf("unknown feed mode %q (want %q or %q)", s, FeedDirect, FeedRefresh)
	}
}

// PointsFunc is notified with every batch of points added to the live series.
type PointsFunc func(points []models.MagnitudePoint)

// Ingestor is the subscription callback for one device's sample topic.
type Ingestor struct {
	deviceID string
	mode     FeedMode
	buffer   *storage.SampleBuffer
	series   *storage.LiveSeries
	onPoints PointsFunc
	logger   *slog.Logger

	received atomic.Int64
	dropped  atomic.Int64

	// mu serializes deliveries with Close.
	mu     sync.Mutex
	closed bool
}

func NewIngestor(deviceID string, mode FeedMode, buffer *storage.SampleBuffer, series *storage.LiveSeries, onPoints PointsFunc, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		deviceID: deviceID,
		mode:     mode,
		buffer:   buffer,
		series:   series,
		onPoints: onPoints,
		logger:   logger.With("device_id", deviceID),
	}
}

// OnMessage handles one delivered message. Malformed payloads are logged
// and dropped; they never reach the buffer. Messages arriving after Close
// are ignored.
func (in *Ingestor) OnMessage(topic string, payload []byte) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return
	}

	in.received.Add(1)
	messagesReceivedTotal.WithLabelValues(in.deviceID).Inc()

	raw := string(payload)
	sample, err := models.Normalize(raw)
	if err != nil {
		in.dropped.Add(1)
		reason := "unknown"
		var perr *models.ParseError
		if errors.As(err, &perr) {
			reason = perr.Kind.String()
		}
		messagesDroppedTotal.WithLabelValues(in.deviceID, reason).Inc()
		in.logger.Warn("dropping malformed sample", "topic", topic, "error", err)
		return
	}

	if in.mode == FeedDirect {
		p := sample.Point()
		in.buffer.Record(raw, p)
		in.series.Push(p)
		if in.onPoints != nil {
			in.onPoints([]models.MagnitudePoint{p})
		}
	} else {
		in.buffer.Append(raw)
	}
	rawLogEntries.WithLabelValues(in.deviceID).Inc()
}

// Received is the number of messages delivered so far, including dropped ones.
func (in *Ingestor) Received() int64 {
	return in.received.Load()
}

func (in *Ingestor) Dropped() int64 {
	return in.dropped.Load()
}

// Close waits for an in-flight message, stops accepting new ones and drops
// the per-device buffer gauge.
func (in *Ingestor) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closed = true
	rawLogEntries.DeleteLabelValues(in.deviceID)
}
