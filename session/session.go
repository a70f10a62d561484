package session

import (
	"context"
	"time"

	"accel-gap-monitor/ingest"
	"accel-gap-monitor/live"
	"accel-gap-monitor/models"
	"accel-gap-monitor/storage"
)

// Session is one logged-in user's pipeline: the device subscription, its
// sample buffer, the live series and, in refresh mode, the refresher.
type Session struct {
	Username  string
	DeviceID  string
	Topic     string
	StartedAt time.Time

	buffer    *storage.SampleBuffer
	series    *storage.LiveSeries
	ingestor  *ingest.Ingestor
	refresher *ingest.WindowRefresher
	hub       *live.Hub
	stopHub   context.CancelFunc
	hubDone   chan struct{}
}

// Stats describes the session for status endpoints.
type Stats struct {
	Username   string              `json:"username"`
	DeviceID   string              `json:"device_id"`
	Topic      string              `json:"topic"`
	StartedAt  time.Time           `json:"started_at"`
	Received   int64               `json:"received"`
	Dropped    int64               `json:"dropped"`
	Buffer     storage.BufferStats `json:"buffer"`
	LivePoints int                 `json:"live_points"`
}

// DrainNew returns raw samples not yet returned by a previous drain.
func (s *Session) DrainNew() []string {
	return s.buffer.DrainNew()
}

// SnapshotAll returns every raw sample of the session.
func (s *Session) SnapshotAll() []string {
	return s.buffer.SnapshotAll()
}

// History returns the buffer's capped chart history.
func (s *Session) History() []models.MagnitudePoint {
	return s.buffer.AllPoints()
}

// Points returns the visible window, oldest first.
func (s *Session) Points() []models.MagnitudePoint {
	return s.series.Points()
}

func (s *Session) Bounds() (models.Bounds, bool) {
	return s.series.Bounds()
}

func (s *Session) Hub() *live.Hub {
	return s.hub
}

func (s *Session) Stats() Stats {
	return Stats{
		Username:   s.Username,
		DeviceID:   s.DeviceID,
		Topic:      s.Topic,
		StartedAt:  s.StartedAt,
		Received:   s.ingestor.Received(),
		Dropped:    s.ingestor.Dropped(),
		Buffer:     s.buffer.Stats(),
		LivePoints: s.series.Len(),
	}
}

// close stops delivery and background work before clearing state, so
// nothing writes to the buffer after the reset.
func (s *Session) close() {
	s.ingestor.Close()
	if s.refresher != nil {
		s.refresher.Stop()
	}
	s.stopHub()
	<-s.hubDone
	s.buffer.Reset()
	s.series.Reset()
}
