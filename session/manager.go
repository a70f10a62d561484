package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"accel-gap-monitor/analytics"
	"accel-gap-monitor/ingest"
	"accel-gap-monitor/live"
	"accel-gap-monitor/models"
	"accel-gap-monitor/storage"
	"accel-gap-monitor/transport"
)

var (
	ErrDeviceNotConfigured    = errors.New("device is not configured for the user")
	ErrThresholdNotConfigured = errors.New("no acceleration threshold is set for the user")
	ErrConfigIncomplete       = errors.New("sampling frequency and exit threshold must both be set")
	ErrNoSession              = errors.New("no active session for the user")
	ErrSessionStarting        = errors.New("a session for the user is already starting")
)

// Store is the slice of the device-configuration store the pipeline needs.
type Store interface {
	GetDeviceConfig(ctx context.Context, username string) (models.DeviceConfig, error)
	SaveGapReport(ctx context.Context, report models.GapReport) error
}

// Broker is the publish/subscribe capability of the messaging transport.
type Broker interface {
	Subscribe(ctx context.Context, topic string, handler transport.MessageHandler) error
	Unsubscribe(ctx context.Context, topic string) error
	Publish(ctx context.Context, topic string, payload []byte) error
}

type Settings struct {
	FeedMode        ingest.FeedMode
	RefreshInterval time.Duration
	VisiblePoints   int
	HistoryPoints   int
}

// GapsCallback is told how many gaps a completed analysis found.
type GapsCallback func(deviceID string, count int)

// Manager owns the active sessions, one per user.
type Manager struct {
	store    Store
	broker   Broker
	settings Settings
	onGaps   GapsCallback
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	starting map[string]struct{}
}

func NewManager(store Store, broker Broker, settings Settings, onGaps GapsCallback, logger *slog.Logger) *Manager {
	if settings.FeedMode == "" {
		settings.FeedMode = ingest.FeedRefresh
	}
	if settings.RefreshInterval <= 0 {
		settings.RefreshInterval = 200 * time.Millisecond
	}
	if settings.VisiblePoints <= 0 {
		settings.VisiblePoints = 30
	}
	if settings.HistoryPoints <= 0 {
		settings.HistoryPoints = 1000
	}
	return &Manager{
		store:    store,
		broker:   broker,
		settings: settings,
		onGaps:   onGaps,
		logger:   logger,
		sessions: make(map[string]*Session),
		starting: make(map[string]struct{}),
	}
}

// Start opens a session for username and subscribes to its device. An
// existing session is returned unchanged. The username is reserved while
// the store and broker are consulted, so other users are not blocked.
func (m *Manager) Start(ctx context.Context, username string) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[username]; ok {
		m.mu.Unlock()
		return s, nil
	}
	if _, ok := m.starting[username]; ok {
		m.mu.Unlock()
		return nil, ErrSessionStarting
	}
	m.starting[username] = struct{}{}
	m.mu.Unlock()

	s, err := m.open(ctx, username)

	m.mu.Lock()
	delete(m.starting, username)
	if err == nil {
		m.sessions[username] = s
	}
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	m.logger.Info("session started", "username", username, "device_id", s.DeviceID, "feed_mode", m.settings.FeedMode)
	return s, nil
}

func (m *Manager) open(ctx context.Context, username string) (*Session, error) {
	cfg, err := m.store.GetDeviceConfig(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("load device config: %w", err)
	}
	if !cfg.HasDevice() {
		return nil, ErrDeviceNotConfigured
	}

	s := m.newSession(username, *cfg.DeviceID)
	if err := m.broker.Subscribe(ctx, s.Topic, s.ingestor.OnMessage); err != nil {
		s.close()
		return nil, err
	}
	if s.refresher != nil {
		s.refresher.Start()
	}
	return s, nil
}

func (m *Manager) newSession(username, deviceID string) *Session {
	logger := m.logger.With("username", username)

	// Direct feed keeps only the visible window; refresh mode keeps the
	// longer history used to seed newly opened views.
	capacity := m.settings.HistoryPoints
	if m.settings.FeedMode == ingest.FeedDirect {
		capacity = m.settings.VisiblePoints
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	s := &Session{
		Username:  username,
		DeviceID:  deviceID,
		Topic:     models.AccelerometerTopic(deviceID),
		StartedAt: time.Now().UTC(),
		buffer:    storage.NewSampleBuffer(capacity),
		series:    storage.NewLiveSeries(m.settings.VisiblePoints),
		hub:       live.NewHub(logger),
		stopHub:   stopHub,
		hubDone:   make(chan struct{}),
	}
	go func() {
		defer close(s.hubDone)
		s.hub.Run(hubCtx)
	}()

	s.ingestor = ingest.NewIngestor(deviceID, m.settings.FeedMode, s.buffer, s.series, s.hub.BroadcastPoints, logger)
	if m.settings.FeedMode == ingest.FeedRefresh {
		s.refresher = ingest.NewWindowRefresher(s.buffer, s.series, m.settings.RefreshInterval, s.hub.BroadcastPoints, logger)
	}
	return s
}

// Stop ends the user's session: the refresher is stopped, the device is
// unsubscribed and the buffer reset.
func (m *Manager) Stop(ctx context.Context, username string) error {
	m.mu.Lock()
	s, ok := m.sessions[username]
	delete(m.sessions, username)
	m.mu.Unlock()

	if !ok {
		return ErrNoSession
	}

	err := m.broker.Unsubscribe(ctx, s.Topic)
	if err != nil {
		m.logger.Warn("unsubscribe failed", "username", username, "topic", s.Topic, "error", err)
	}
	s.close()
	m.logger.Info("session stopped", "username", username)
	return err
}

// StopAll ends every session, e.g. before a broker disconnect.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		_ = m.Stop(ctx, name)
	}
}

func (m *Manager) Get(username string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[username]
	if !ok {
		return nil, ErrNoSession
	}
	return s, nil
}

func (m *Manager) List() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Stats, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Stats())
	}
	return out
}

// AnalyzeGaps runs gap detection over the user's visible window with the
// threshold currently stored for the user.
func (m *Manager) AnalyzeGaps(ctx context.Context, username string) (models.GapReport, error) {
	s, err := m.Get(username)
	if err != nil {
		return models.GapReport{}, err
	}

	cfg, err := m.store.GetDeviceConfig(ctx, username)
	if err != nil {
		return models.GapReport{}, fmt.Errorf("load device config: %w", err)
	}
	if cfg.ExitThreshold == nil {
		return models.GapReport{}, ErrThresholdNotConfigured
	}
	threshold := *cfg.ExitThreshold

	points := s.Points()
	anomalies, err := analytics.Detect(points, threshold)
	if err != nil {
		return models.GapReport{}, err
	}

	report := models.GapReport{
		DeviceID:       s.DeviceID,
		Threshold:      threshold,
		PointsAnalyzed: len(points),
		Anomalies:      anomalies,
		ProcessedAt:    time.Now().UTC(),
	}

	if len(anomalies) > 0 {
		m.logger.Info("gaps detected", "device_id", s.DeviceID, "count", len(anomalies), "threshold", threshold)
		if m.onGaps != nil {
			m.onGaps(s.DeviceID, len(anomalies))
		}
	}

	if err := m.store.SaveGapReport(ctx, report); err != nil {
		m.logger.Warn("failed to cache gap report", "device_id", s.DeviceID, "error", err)
	}

	return report, nil
}

// WindowStats summarizes the user's visible window.
func (m *Manager) WindowStats(username string) (models.WindowStats, error) {
	s, err := m.Get(username)
	if err != nil {
		return models.WindowStats{}, err
	}
	return analytics.Summarize(s.Points())
}

// PushConfig publishes the stored sampling frequency and exit threshold to
// the user's device.
func (m *Manager) PushConfig(ctx context.Context, username string) (string, error) {
	cfg, err := m.store.GetDeviceConfig(ctx, username)
	if err != nil {
		return "", fmt.Errorf("load device config: %w", err)
	}
	if !cfg.HasDevice() {
		return "", ErrDeviceNotConfigured
	}
	if cfg.SamplingFrequency == nil || cfg.ExitThreshold == nil {
		return "", ErrConfigIncomplete
	}

	topic := models.ConfigTopic(*cfg.DeviceID)
	payload := models.ConfigPushPayload(*cfg.SamplingFrequency, *cfg.ExitThreshold)
	if err := m.broker.Publish(ctx, topic, []byte(payload)); err != nil {
		return "", err
	}

	m.logger.Info("config pushed", "username", username, "topic", topic)
	return topic, nil
}
