package storage

import (
	"sync"

	"accel-gap-monitor/analytics"
	"accel-gap-monitor/models"
)

// LiveSeries is the visible window consumed by the chart and the gap
// detector. Bounds are recomputed once per Push call, not per point.
type LiveSeries struct {
	mu        sync.RWMutex
	window    *analytics.RollingWindow
	bounds    models.Bounds
	hasBounds bool
}

func NewLiveSeries(visiblePoints int) *LiveSeries {
	return &LiveSeries{window: analytics.NewRollingWindow(visiblePoints)}
}

// Push appends points in order, evicting the oldest beyond the visible cap.
func (s *LiveSeries) Push(points ...models.MagnitudePoint) {
	if len(points) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		s.window.Add(p)
	}
	s.bounds, s.hasBounds = s.window.Bounds()
}

func (s *LiveSeries) Points() []models.MagnitudePoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.window.Points()
}

func (s *LiveSeries) Bounds() (models.Bounds, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bounds, s.hasBounds
}

func (s *LiveSeries) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.window.Len()
}

func (s *LiveSeries) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window.Reset()
	s.bounds, s.hasBounds = models.Bounds{}, false
}
