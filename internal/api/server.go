package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"prativedak/internal/config"
	"prativedak/internal/events"
	"prativedak/internal/ingest"
	"prativedak/internal/metrics"
	"prativedak/internal/model"
	"prativedak/internal/monitor"
	"prativedak/internal/pipeline"
	"prativedak/internal/sequencer"
	"prativedak/internal/storage"
	"prativedak/internal/validate"
)

type Emergency interface {
	State() model.SequenceState
	Cancel() bool
	CallNow(ctx context.Context) ([]model.DispatchResult, error)
}

type PermissionView interface {
	Snapshot() map[model.Permission]bool
}

// Deps are the components the API reads and controls. Store, Hub and
// Permissions may be nil.
type Deps struct {
	Config      *config.Manager
	Monitor     *monitor.Monitor
	Pipeline    *pipeline.Pipeline
	Emergency   Emergency
	Events      *events.Store
	Summaries   *metrics.Store
	Store       storage.Store
	Hub         *ingest.Hub
	Permissions PermissionView
	Logger      *slog.Logger
	Version     string
}

type Server struct {
	Deps
}

type statusResponse struct {
	Status           string                    `json:"status"`
	Time             string                    `json:"time"`
	Version          string                    `json:"version"`
	ConfigPath       string                    `json:"config_path"`
	Monitoring       bool                      `json:"monitoring"`
	AccidentDetected bool                      `json:"accident_detected"`
	Sequence         model.SequenceStatus      `json:"sequence"`
	Permissions      map[model.Permission]bool `json:"permissions,omitempty"`
	Sensors          *ingest.HubStatus         `json:"sensors,omitempty"`
	Ingest           ingestStatus              `json:"ingest"`
	API              apiStatus                 `json:"api"`
	Storage          bool                      `json:"storage"`
	Redis            bool                      `json:"redis"`
	Twilio           bool                      `json:"twilio"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	FileTail  bool `json:"file_tail"`
	TCPStream bool `json:"tcp_stream"`
	Kafka     bool `json:"kafka"`
	MQTT      bool `json:"mqtt"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type startRequest struct {
	User     model.User      `json:"user"`
	Location *model.Location `json:"location"`
}

func NewServer(deps Deps) *Server {
	return &Server{Deps: deps}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/sensors/current", s.handleSensorsCurrent)
	mux.HandleFunc("/sensors/history", s.handleSensorsHistory)
	mux.HandleFunc("/monitor/start", s.handleMonitorStart)
	mux.HandleFunc("/monitor/stop", s.handleMonitorStop)
	mux.HandleFunc("/monitor/clear", s.handleMonitorClear)
	mux.HandleFunc("/detections", s.handleDetections)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/emergency/start", s.handleEmergencyStart)
	mux.HandleFunc("/emergency/state", s.handleEmergencyState)
	mux.HandleFunc("/emergency/cancel", s.handleEmergencyCancel)
	mux.HandleFunc("/emergency/call-now", s.handleEmergencyCallNow)
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/summaries", s.handleSummaries)
	mux.HandleFunc("/summaries/", s.handleSummaries)
	mux.HandleFunc("/config/detection", s.handleDetectionConfig)
	mux.HandleFunc("/admin/clear", s.handleClear)
	return mux
}

func Start(ctx context.Context, deps Deps) *http.Server {
	if deps.Config == nil {
		return nil
	}
	logger := deps.Logger
	current := deps.Config.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           NewServer(deps).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.Config.Get()
	resp := statusResponse{
		Status:           "ok",
		Time:             time.Now().UTC().Format(time.RFC3339Nano),
		Version:          s.Version,
		ConfigPath:       s.Config.Path(),
		Monitoring:       s.Monitor.Running(),
		AccidentDetected: s.Monitor.AccidentDetected(),
		Sequence:         s.Emergency.State().Status,
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
			MQTT:      cfg.Ingest.MQTT.Enabled,
		},
		API:     apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Storage: s.Store != nil,
		Redis:   cfg.Redis.Enabled,
		Twilio:  cfg.Twilio.Enabled,
	}
	if s.Permissions != nil {
		resp.Permissions = s.Permissions.Snapshot()
	}
	if s.Hub != nil {
		st := s.Hub.Status()
		resp.Sensors = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSensorsCurrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sample":            s.Monitor.CurrentData(),
		"accident_detected": s.Monitor.AccidentDetected(),
	})
}

func (s *Server) handleSensorsHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	history := s.Monitor.History()
	if limit := queryLimit(r); limit > 0 && limit < len(history) {
		history = history[len(history)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"samples": history,
		"count":   len(history),
	})
}

func (s *Server) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ok, err := s.Pipeline.StartMonitoring()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"status": "denied",
			"error":  "location permission required",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "monitoring": true})
}

func (s *Server) handleMonitorStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.Pipeline.StopMonitoring()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "monitoring": false})
}

func (s *Server) handleMonitorClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.Monitor.ClearAccident()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := queryLimit(r)
	if s.Store != nil {
		n := limit
		if n <= 0 {
			n = 100
		}
		list, err := s.Store.RecentDetections(r.Context(), n)
		if err != nil {
			if s.Logger != nil {
				s.Logger.Error("load detections failed", "err", err)
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"detections": list, "count": len(list)})
		return
	}
	evs := s.Events.ListType(model.EventDetection, limit)
	list := make([]any, 0, len(evs))
	for _, ev := range evs {
		list = append(list, ev.Data)
	}
	writeJSON(w, http.StatusOK, map[string]any{"detections": list, "count": len(list)})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	var list []model.Event
	switch {
	case q.Get("since") != "":
		ts, err := time.Parse(time.RFC3339, q.Get("since"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.Events.Since(ts)
	case q.Get("session") != "":
		list = s.Events.Session(q.Get("session"))
	case q.Get("type") != "":
		list = s.Events.ListType(model.EventType(q.Get("type")), queryLimit(r))
	default:
		list = s.Events.List(queryLimit(r))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": list,
		"count":  len(list),
	})
}

func (s *Server) handleEmergencyStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req startRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}
	// an empty user falls back to the configured profile
	if req.User.Name == "" && len(req.User.EmergencyContacts) == 0 {
		if profile := s.Config.Get().Emergency.Profile; profile != nil {
			req.User = *profile
		}
	}
	id, err := s.Pipeline.StartSequence(req.User, req.Location)
	if err != nil {
		var verrs validate.Errors
		switch {
		case errors.As(err, &verrs):
			writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []validate.ValidationError(verrs)})
		case errors.Is(err, sequencer.ErrDispatchInProgress):
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, http.StatusServiceUnavailable, err)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"session_id": id,
		"state":      s.Emergency.State(),
	})
}

func (s *Server) handleEmergencyState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.Emergency.State())
}

func (s *Server) handleEmergencyCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.Emergency.Cancel() {
		writeJSON(w, http.StatusConflict, map[string]any{
			"cancelled": false,
			"state":     s.Emergency.State(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cancelled": true,
		"state":     s.Emergency.State(),
	})
}

func (s *Server) handleEmergencyCallNow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	results, err := s.Emergency.CallNow(r.Context())
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.Store == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	limit := queryLimit(r)
	if limit <= 0 {
		limit = 50
	}
	list, err := s.Store.RecentSessions(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list, "count": len(list)})
}

func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/summaries")
	path = strings.TrimPrefix(path, "/")
	if path != "" {
		summary, updated, ok := s.Summaries.Get(path)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id": path,
			"updated_at": updated.Format(time.RFC3339Nano),
			"summary":    summary,
		})
		return
	}
	all := s.Summaries.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"summaries": all,
		"count":     len(all),
	})
}

func (s *Server) handleDetectionConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"detection": s.Config.Get().Detection,
		})
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		current := s.Config.Get()
		next := *current
		// fields missing from the body keep their current values
		if err := json.Unmarshal(body, &next.Detection); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := config.ValidateDetection(next.Detection); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.Config.Update(&next); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.Monitor.UpdateConfig(next.Detection)
		if s.Logger != nil {
			s.Logger.Info("detection thresholds updated",
				"collision", next.Detection.CollisionThreshold,
				"rollover", next.Detection.RolloverThreshold,
				"sudden_stop", next.Detection.SuddenStopThreshold,
				"speed_delta", next.Detection.SpeedDeltaThreshold,
			)
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "detection": next.Detection})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.Events.Clear()
		s.Summaries.Clear()
		s.Monitor.ResetHistory()
		s.Pipeline.Reset()
		if s.Hub != nil {
			s.Hub.Reset()
		}
	case "events":
		s.Events.Clear()
	case "summaries":
		s.Summaries.Clear()
	case "history":
		s.Monitor.ResetHistory()
	case "sensors":
		if s.Hub != nil {
			s.Hub.Reset()
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "target": target})
}

func queryLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
