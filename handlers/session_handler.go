package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"accel-gap-monitor/analytics"
	"accel-gap-monitor/live"
	"accel-gap-monitor/models"
	"accel-gap-monitor/session"
	"accel-gap-monitor/transport"

	"github.com/gorilla/mux"
)

// DeviceStore is the device-configuration record store.
type DeviceStore interface {
	session.Store
	SaveDeviceConfig(ctx context.Context, username string, in models.DeviceConfigInput) error
	ClearDeviceID(ctx context.Context, username string) error
	GetGapReport(ctx context.Context, deviceID string) (*models.GapReport, error)
	Ping(ctx context.Context) error
}

// BrokerClient is the messaging transport plus its user-driven lifecycle.
type BrokerClient interface {
	session.Broker
	Connect(ctx context.Context) error
	Disconnect() error
	Status() transport.Status
}

type SessionHandler struct {
	devices  DeviceStore
	broker   BrokerClient
	sessions *session.Manager
	logger   *slog.Logger
}

func NewSessionHandler(devices DeviceStore, broker BrokerClient, settings session.Settings, logger *slog.Logger) *SessionHandler {
	onGaps := func(deviceID string, count int) {
		gapsDetectedTotal.WithLabelValues(deviceID).Add(float64(count))
	}

	return &SessionHandler{
		devices:  devices,
		broker:   broker,
		sessions: session.NewManager(devices, broker, settings, onGaps, logger),
		logger:   logger,
	}
}

// Sessions exposes the session manager, e.g. for shutdown.
func (h *SessionHandler) Sessions() *session.Manager {
	return h.sessions
}

// Register mounts every route on r.
func (h *SessionHandler) Register(r *mux.Router) {
	r.Use(instrument)

	r.HandleFunc("/health", h.HandleHealth).Methods("GET")

	r.HandleFunc("/broker/status", h.HandleBrokerStatus).Methods("GET")
	r.HandleFunc("/broker/connect", h.HandleBrokerConnect).Methods("POST")
	r.HandleFunc("/broker/disconnect", h.HandleBrokerDisconnect).Methods("POST")

	r.HandleFunc("/devices/{username}", h.HandleGetDevice).Methods("GET")
	r.HandleFunc("/devices/{username}", h.HandleSaveDevice).Methods("PUT")
	r.HandleFunc("/devices/{username}/device-id", h.HandleClearDeviceID).Methods("DELETE")

	r.HandleFunc("/sessions", h.HandleListSessions).Methods("GET")
	r.HandleFunc("/sessions/{username}", h.HandleStartSession).Methods("POST")
	r.HandleFunc("/sessions/{username}", h.HandleSessionStats).Methods("GET")
	r.HandleFunc("/sessions/{username}", h.HandleStopSession).Methods("DELETE")
	r.HandleFunc("/sessions/{username}/samples", h.HandleSnapshot).Methods("GET")
	r.HandleFunc("/sessions/{username}/samples/new", h.HandleDrainNew).Methods("GET")
	r.HandleFunc("/sessions/{username}/points", h.HandlePoints).Methods("GET")
	r.HandleFunc("/sessions/{username}/stats", h.HandleWindowStats).Methods("GET")
	r.HandleFunc("/sessions/{username}/gaps", h.HandleAnalyzeGaps).Methods("POST")
	r.HandleFunc("/sessions/{username}/gaps/last", h.HandleLastReport).Methods("GET")
	r.HandleFunc("/sessions/{username}/config/push", h.HandlePushConfig).Methods("POST")
	r.HandleFunc("/sessions/{username}/live", h.HandleLive).Methods("GET")
}

// HandleHealth reports the store and broker state. Only an unreachable
// store makes the service unhealthy; the broker is reconnected on demand.
func (h *SessionHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	code, status := http.StatusOK, "healthy"
	redisStatus := "ok"
	if err := h.devices.Ping(r.Context()); err != nil {
		code, status = http.StatusServiceUnavailable, "unhealthy"
		redisStatus = err.Error()
	}

	writeJSON(w, code, map[string]any{
		"status":           status,
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
		"redis":            redisStatus,
		"broker_connected": h.broker.Status().Connected,
	})
}

func (h *SessionHandler) HandleBrokerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.broker.Status())
}

// HandleBrokerConnect is the only path that (re)connects to the broker.
func (h *SessionHandler) HandleBrokerConnect(w http.ResponseWriter, r *http.Request) {
	if err := h.broker.Connect(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.broker.Status())
}

func (h *SessionHandler) HandleBrokerDisconnect(w http.ResponseWriter, r *http.Request) {
	h.sessions.StopAll(r.Context())
	if err := h.broker.Disconnect(); err != nil {
		h.logger.Warn("broker disconnect failed", "error", err)
	}
	writeJSON(w, http.StatusOK, h.broker.Status())
}

func (h *SessionHandler) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.devices.GetDeviceConfig(r.Context(), mux.Vars(r)["username"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *SessionHandler) HandleSaveDevice(w http.ResponseWriter, r *http.Request) {
	var in models.DeviceConfigInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeStatus(w, http.StatusBadRequest, "invalid_json", "Invalid JSON format")
		return
	}
	if err := in.Validate(); err != nil {
		writeStatus(w, http.StatusBadRequest, "invalid_config", err.Error())
		return
	}

	username := mux.Vars(r)["username"]
	if err := h.devices.SaveDeviceConfig(r.Context(), username, in); err != nil {
		h.writeError(w, err)
		return
	}
	h.HandleGetDevice(w, r)
}

func (h *SessionHandler) HandleClearDeviceID(w http.ResponseWriter, r *http.Request) {
	if err := h.devices.ClearDeviceID(r.Context(), mux.Vars(r)["username"]); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.List())
}

func (h *SessionHandler) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Start(r.Context(), mux.Vars(r)["username"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.Stats())
}

func (h *SessionHandler) HandleSessionStats(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Stats())
}

func (h *SessionHandler) HandleStopSession(w http.ResponseWriter, r *http.Request) {
	err := h.sessions.Stop(r.Context(), mux.Vars(r)["username"])
	if errors.Is(err, session.ErrNoSession) {
		h.writeError(w, err)
		return
	}
	// An unsubscribe failure still ends the session locally.
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"samples": s.SnapshotAll()})
}

func (h *SessionHandler) HandleDrainNew(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"samples": s.DrainNew()})
}

type pointsResponse struct {
	Points []models.MagnitudePoint `json:"points"`
	Bounds *models.Bounds          `json:"bounds,omitempty"`
}

func (h *SessionHandler) HandlePoints(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	resp := pointsResponse{Points: s.Points()}
	if b, ok := s.Bounds(); ok {
		resp.Bounds = &b
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SessionHandler) HandleWindowStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.sessions.WindowStats(mux.Vars(r)["username"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type gapsResponse struct {
	Status string `json:"status"`
	models.GapReport
}

func (h *SessionHandler) HandleAnalyzeGaps(w http.ResponseWriter, r *http.Request) {
	report, err := h.sessions.AnalyzeGaps(r.Context(), mux.Vars(r)["username"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	status := "no_gaps"
	if len(report.Anomalies) > 0 {
		status = "gaps_found"
	}
	writeJSON(w, http.StatusOK, gapsResponse{Status: status, GapReport: report})
}

func (h *SessionHandler) HandleLastReport(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	report, err := h.devices.GetGapReport(r.Context(), s.DeviceID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if report == nil {
		writeStatus(w, http.StatusNotFound, "no_report", "no gap report cached for the device")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *SessionHandler) HandlePushConfig(w http.ResponseWriter, r *http.Request) {
	topic, err := h.sessions.PushConfig(r.Context(), mux.Vars(r)["username"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent", "topic": topic})
}

func (h *SessionHandler) HandleLive(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := live.ServeWS(s.Hub(), w, r, s.History()); err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
	}
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(mux.Vars(r)["username"])
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return s, true
}

// writeError maps pipeline outcomes to distinct HTTP states.
func (h *SessionHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNoSession):
		writeStatus(w, http.StatusNotFound, "no_session", err.Error())
	case errors.Is(err, session.ErrSessionStarting):
		writeStatus(w, http.StatusConflict, "session_starting", err.Error())
	case errors.Is(err, session.ErrDeviceNotConfigured):
		writeStatus(w, http.StatusPreconditionFailed, "device_not_configured", err.Error())
	case errors.Is(err, session.ErrThresholdNotConfigured):
		writeStatus(w, http.StatusPreconditionFailed, "threshold_not_configured", err.Error())
	case errors.Is(err, analytics.ErrInvalidThreshold):
		writeStatus(w, http.StatusPreconditionFailed, "threshold_invalid", err.Error())
	case errors.Is(err, session.ErrConfigIncomplete):
		writeStatus(w, http.StatusPreconditionFailed, "config_incomplete", err.Error())
	case errors.Is(err, analytics.ErrInsufficientData):
		writeStatus(w, http.StatusUnprocessableEntity, "insufficient_data", err.Error())
	case errors.Is(err, transport.ErrInvalidBrokerURL):
		writeStatus(w, http.StatusBadRequest, "invalid_broker_url", err.Error())
	case errors.Is(err, transport.ErrNotConnected):
		writeStatus(w, http.StatusServiceUnavailable, "broker_disconnected", err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		writeStatus(w, http.StatusBadGateway, "upstream_error", err.Error())
	}
}

func writeStatus(w http.ResponseWriter, code int, status, message string) {
	writeJSON(w, code, map[string]string{"status": status, "error": message})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
