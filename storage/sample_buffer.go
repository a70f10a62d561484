package storage

import (
	"sync"

	"accel-gap-monitor/analytics"
	"accel-gap-monitor/models"
)

// SampleBuffer holds one session's raw sample log and its chart history.
//
// The raw log grows without bound until Reset; only the chart history is
// capped. A single mutex guards both so readers never observe a raw entry
// without the point recorded alongside it.
type SampleBuffer struct {
	mu          sync.Mutex
	raw         []string
	lastFetched int
	points      *analytics.RollingWindow
}

// BufferStats is a point-in-time view of buffer occupancy.
type BufferStats struct {
	RawEntries int `json:"raw_entries"`
	Pending    int `json:"pending"`
	Points     int `json:"points"`
}

func NewSampleBuffer(pointCapacity int) *SampleBuffer {
	return &SampleBuffer{
		raw:    make([]string, 0, 256),
		points: analytics.NewRollingWindow(pointCapacity),
	}
}

func (b *SampleBuffer) Append(raw string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.raw = append(b.raw, raw)
}

// Record appends a raw entry and its derived point as one update.
func (b *SampleBuffer) Record(raw string, p models.MagnitudePoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.raw = append(b.raw, raw)
	b.points.Add(p)
}

// DrainNew returns every entry appended since the previous drain and moves
// the cursor to the end of the log. The result is never nil.
func (b *SampleBuffer) DrainNew() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, len(b.raw)-b.lastFetched)
	copy(out, b.raw[b.lastFetched:])
	b.lastFetched = len(b.raw)
	return out
}

// SnapshotAll returns a copy of the whole log without moving the cursor.
func (b *SampleBuffer) SnapshotAll() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, len(b.raw))
	copy(out, b.raw)
	return out
}

func (b *SampleBuffer) AppendPoint(p models.MagnitudePoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.points.Add(p)
}

func (b *SampleBuffer) AppendPoints(ps []models.MagnitudePoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range ps {
		b.points.Add(p)
	}
}

func (b *SampleBuffer) AllPoints() []models.MagnitudePoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.points.Points()
}

func (b *SampleBuffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		RawEntries: len(b.raw),
		Pending:    len(b.raw) - b.lastFetched,
		Points:     b.points.Len(),
	}
}

// Reset empties both sequences and rewinds the cursor.
func (b *SampleBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.raw = make([]string, 0, 256)
	b.lastFetched = 0
	b.points.Reset()
}
