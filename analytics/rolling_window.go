package analytics

import "accel-gap-monitor/models"

// RollingWindow keeps the most recent windowSize points in arrival order,
// evicting the oldest on overflow. It is not safe for concurrent use.
type RollingWindow struct {
	windowSize int
	values     []models.MagnitudePoint
	index      int
	count      int
}

func NewRollingWindow(size int) *RollingWindow {
	if size < 1 {
		size = 1
	}
	return &RollingWindow{
		windowSize: size,
		values:     make([]models.MagnitudePoint, size),
		index:      0,
		count:      0,
	}
}

// Add appends p and reports whether an older point was evicted.
func (rw *RollingWindow) Add(p models.MagnitudePoint) bool {
	evicted := rw.count == rw.windowSize
	rw.values[rw.index] = p
	rw.index = (rw.index + 1) % rw.windowSize
	if !evicted {
		rw.count++
	}
	return evicted
}

func (rw *RollingWindow) Len() int {
	return rw.count
}

func (rw *RollingWindow) Cap() int {
	return rw.windowSize
}

// Points returns a copy ordered oldest first.
func (rw *RollingWindow) Points() []models.MagnitudePoint {
	out := make([]models.MagnitudePoint, 0, rw.count)
	start := rw.index - rw.count
	if start < 0 {
		start += rw.windowSize
	}
	for i := 0; i < rw.count; i++ {
		out = append(out, rw.values[(start+i)%rw.windowSize])
	}
	return out
}

// Bounds returns the smallest and largest timestamps among retained points.
func (rw *RollingWindow) Bounds() (models.Bounds, bool) {
	if rw.count == 0 {
		return models.Bounds{}, false
	}
	start := rw.index - rw.count
	if start < 0 {
		start += rw.windowSize
	}
	first := rw.values[start].TimestampMillis
	b := models.Bounds{MinMillis: first, MaxMillis: first}
	for i := 1; i < rw.count; i++ {
		ts := rw.values[(start+i)%rw.windowSize].TimestampMillis
		b.MinMillis = min(b.MinMillis, ts)
		b.MaxMillis = max(b.MaxMillis, ts)
	}
	return b, true
}

func (rw *RollingWindow) Reset() {
	clear(rw.values)
	rw.index = 0
	rw.count = 0
}
