package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/matthiufungho/linksys-velop/internal/actions"
	"github.com/matthiufungho/linksys-velop/internal/config"
	"github.com/matthiufungho/linksys-velop/internal/diagnostics"
	"github.com/matthiufungho/linksys-velop/internal/event"
	"github.com/matthiufungho/linksys-velop/internal/jnap"
	"github.com/matthiufungho/linksys-velop/internal/mesh"
	"github.com/matthiufungho/linksys-velop/internal/metrics"
	"github.com/matthiufungho/linksys-velop/internal/model"
	"github.com/matthiufungho/linksys-velop/internal/store"
)

// Mesh is the mesh surface the HTTP API reads from.
type Mesh interface {
	Current() *model.Mesh
	GatherDetails(ctx context.Context) (*model.Mesh, error)
	SpeedtestStage(ctx context.Context) (string, error)
	LatestSpeedtestResult(ctx context.Context) (*model.SpeedtestResult, error)
}

// Tracker exposes the presence state the bridge loop maintains. The loop
// mutates its registry concurrently, so implementations return a copy.
type Tracker interface {
	Tracked() []store.TrackedDevice
}

// Server provides the local bridge HTTP API.
type Server struct {
	cfg     config.Config
	mesh    Mesh
	actions *actions.Handler
	hub     *event.Hub
	tracker Tracker
	log     *logrus.Entry
}

// NewServer constructs the bridge API server. The tracker may be nil when
// device tracking is not configured.
func NewServer(cfg config.Config, meshClient Mesh, handler *actions.Handler, bus *event.Bus, tracker Tracker, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		cfg:     cfg,
		mesh:    meshClient,
		actions: handler,
		hub:     event.NewHub(bus, log),
		tracker: tracker,
		log:     log.WithField("component", "server"),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/mesh", s.handleMesh)
	mux.HandleFunc("/nodes", s.handleNodes)
	mux.HandleFunc("/devices", s.handleDevices)
	mux.HandleFunc("/actions", s.handleActions)
	mux.HandleFunc("/actions/", s.handleActionInvoke)
	mux.HandleFunc("/speedtest", s.handleSpeedtest)
	mux.HandleFunc("/tracker", s.handleTracker)
	mux.HandleFunc("/diagnostics", s.handleDiagnostics)
	mux.Handle("/events", s.hub)
	return mux
}

// ListenAndServe runs the HTTP server on the configured listen address.
func (s *Server) ListenAndServe() error {
	server := &http.Server{
		Addr:              s.cfg.Bridge.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.log.WithField("listen", s.cfg.Bridge.Listen).Info("bridge API listening")
	return server.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// snapshot returns the cached snapshot, polling once when no poll has
// happened yet.
func (s *Server) snapshot(r *http.Request) (*model.Mesh, error) {
	if snap := s.mesh.Current(); snap != nil {
		return snap, nil
	}
	return s.mesh.GatherDetails(r.Context())
}

func (s *Server) handleMesh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap, err := s.snapshot(r)
	if err != nil {
		writeJSONError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap, err := s.snapshot(r)
	if err != nil {
		writeJSONError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": snap.Nodes})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap, err := s.snapshot(r)
	if err != nil {
		writeJSONError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": snap.Devices})
}

// handleActions serves the action schema document.
func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "yaml") {
		data, err := actions.Marshal(s.actions.Document())
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(data)
		return
	}
	writeJSON(w, http.StatusOK, s.actions.Document())
}

func (s *Server) handleActionInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/actions/")
	if name == "" || strings.Contains(name, "/") {
		writeJSONError(w, http.StatusNotFound, "unknown action")
		return
	}

	payload := map[string]any{}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &payload); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := s.actions.Invoke(r.Context(), name, payload); err != nil {
		writeJSONError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "action": name})
}

func (s *Server) handleSpeedtest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stage, err := s.mesh.SpeedtestStage(r.Context())
	if err != nil {
		writeJSONError(w, statusForError(err), err.Error())
		return
	}
	latest, err := s.mesh.LatestSpeedtestResult(r.Context())
	if err != nil {
		writeJSONError(w, statusForError(err), err.Error())
		return
	}

	resp := map[string]any{
		"running": stage != "",
		"stage":   stage,
		"latest":  latest,
	}

	if s.cfg.Bridge != nil && s.cfg.Bridge.SpeedtestHistory != "" {
		history, err := metrics.ReadCSV(s.cfg.Bridge.SpeedtestHistory)
		if err == nil {
			resp["summary_24h"] = metrics.Summarize(history, time.Now().Add(-24*time.Hour))
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTracker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.tracker == nil {
		writeJSON(w, http.StatusOK, map[string]any{"devices": []store.TrackedDevice{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": s.tracker.Tracked()})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	payload, err := diagnostics.Build(s.cfg, s.mesh.Current())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// statusForError maps action and mesh errors onto HTTP statuses: caller
// mistakes are 4xx, mesh-side failures are 502.
func statusForError(err error) int {
	switch {
	case errors.Is(err, actions.ErrUnknownAction),
		errors.Is(err, mesh.ErrNodeNotFound),
		errors.Is(err, mesh.ErrDeviceNotFound),
		errors.Is(err, jnap.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, actions.ErrUnknownField),
		errors.Is(err, actions.ErrMissingField),
		errors.Is(err, actions.ErrWrongType),
		errors.Is(err, mesh.ErrDeviceIdentifier):
		return http.StatusBadRequest
	case errors.Is(err, mesh.ErrDeviceOnline),
		errors.Is(err, mesh.ErrPrimaryNotAllowed),
		errors.Is(err, mesh.ErrAmbiguousDevice):
		return http.StatusConflict
	case errors.Is(err, jnap.ErrInvalidCredentials):
		return http.StatusBadGateway
	case errors.Is(err, jnap.ErrBadResponse):
		return http.StatusBadGateway
	default:
		var resultErr *jnap.ResultError
		if errors.As(err, &resultErr) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
