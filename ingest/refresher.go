package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"accel-gap-monitor/models"
	"accel-gap-monitor/storage"
)

// WindowRefresher periodically drains new raw samples from the buffer into
// the live series, decoupling broker delivery from consumer refresh.
type WindowRefresher struct {
	buffer    *storage.SampleBuffer
	series    *storage.LiveSeries
	interval  time.Duration
	onPoints  PointsFunc
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	logger    *slog.Logger
}

func NewWindowRefresher(buffer *storage.SampleBuffer, series *storage.LiveSeries, interval time.Duration, onPoints PointsFunc, logger *slog.Logger) *WindowRefresher {
	ctx, cancel := context.WithCancel(context.Background())
	return &WindowRefresher{
		buffer:   buffer,
		series:   series,
		interval: interval,
		onPoints: onPoints,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
}

func (r *WindowRefresher) Start() {
	r.startOnce.Do(func() {
		r.waitGroup.Add(1)
		go func() {
			defer r.waitGroup.Done()
			ticker := time.NewTicker(r.interval)
			defer ticker.Stop()
			for {
				select {
				case <-r.ctx.Done():
					return
				case <-ticker.C:
					r.refresh()
				}
			}
		}()
	})
}

// Stop cancels the loop and waits for an in-flight tick to finish. After
// Stop returns the refresher no longer touches the buffer or series.
func (r *WindowRefresher) Stop() {
	r.stopOnce.Do(func() {
		r.cancel()
		r.waitGroup.Wait()
	})
}

// refresh applies one drained batch and returns the number of points added.
func (r *WindowRefresher) refresh() int {
	entries := r.buffer.DrainNew()
	if len(entries) == 0 {
		return 0
	}

	points := make([]models.MagnitudePoint, 0, len(entries))
	for _, raw := range entries {
		sample, err := models.Normalize(raw)
		if err != nil {
			r.logger.Warn("skipping buffered sample", "error", err)
			continue
		}
		points = append(points, sample.Point())
	}
	if len(points) == 0 {
		return 0
	}

	r.buffer.AppendPoints(points)
	r.series.Push(points...)
	refreshBatchSize.Observe(float64(len(points)))
	if r.onPoints != nil {
		r.onPoints(points)
	}
	return len(points)
}
