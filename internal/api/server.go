package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"zoneguard/internal/alerts"
	"zoneguard/internal/config"
	"zoneguard/internal/metrics"
	"zoneguard/internal/model"
	"zoneguard/internal/registry"
)

// FeedControl is the part of the pipeline supervisor the API drives.
type FeedControl interface {
	Start(feedID int) error
	Stop(feedID int) bool
	Running() []int
	Subscribe(feedID int) (<-chan model.FrameResult, func())
}

type Server struct {
	cfg      *config.Manager
	registry *registry.Registry
	alerts   *alerts.Log
	metrics  *metrics.Store
	feeds    FeedControl
	logger   *slog.Logger
	version  string
	started  time.Time
	upgrader websocket.Upgrader
}

type statusResponse struct {
	Status       string       `json:"status"`
	Time         string       `json:"time"`
	Version      string       `json:"version"`
	Uptime       string       `json:"uptime"`
	ConfigPath   string       `json:"config_path"`
	FeedsRunning []int        `json:"feeds_running"`
	Alerts       int          `json:"alerts"`
	Ingest       ingestStatus `json:"ingest"`
	API          apiStatus    `json:"api"`
	Storage      bool         `json:"storage"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	TCPStream bool `json:"tcp_stream"`
	Replay    bool `json:"replay"`
	Kafka     bool `json:"kafka"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

func NewServer(cfg *config.Manager, reg *registry.Registry, alertLog *alerts.Log, metricsStore *metrics.Store, feeds FeedControl, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:      cfg,
		registry: reg,
		alerts:   alertLog,
		metrics:  metricsStore,
		feeds:    feeds,
		logger:   logger,
		version:  version,
		started:  time.Now().UTC(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /metrics/{feed}", s.handleFeedMetrics)

	mux.HandleFunc("GET /alerts", s.handleAlerts)
	mux.HandleFunc("GET /alerts/{id}", s.handleAlert)
	mux.HandleFunc("POST /alerts/{id}/ack", s.handleAck)
	mux.HandleFunc("POST /alerts/{id}/resolve", s.handleResolve)
	mux.HandleFunc("POST /admin/clear", s.handleClear)

	mux.HandleFunc("GET /zones", s.handleListZones)
	mux.HandleFunc("POST /zones", s.handleCreateZone)
	mux.HandleFunc("GET /zones/{id}", s.handleGetZone)
	mux.HandleFunc("PUT /zones/{id}", s.handleUpdateZone)
	mux.HandleFunc("DELETE /zones/{id}", s.handleDeleteZone)

	mux.HandleFunc("GET /doors", s.handleListDoors)
	mux.HandleFunc("POST /doors", s.handleCreateDoor)
	mux.HandleFunc("PUT /doors/{id}", s.handleUpdateDoor)
	mux.HandleFunc("DELETE /doors/{id}", s.handleDeleteDoor)

	mux.HandleFunc("GET /areas", s.handleListAreas)
	mux.HandleFunc("PUT /areas", s.handleSetAreas)

	mux.HandleFunc("GET /roles", s.handleListRoles)
	mux.HandleFunc("POST /roles", s.handleAddRole)
	mux.HandleFunc("DELETE /roles/{role}", s.handleDeleteRole)

	mux.HandleFunc("GET /feeds", s.handleFeeds)
	mux.HandleFunc("POST /feeds/{id}/start", s.handleStartFeed)
	mux.HandleFunc("POST /feeds/{id}/stop", s.handleStopFeed)
	mux.HandleFunc("GET /feeds/{id}/live", s.handleLive)
	return mux
}

func Start(ctx context.Context, cfg *config.Manager, server *Server, logger *slog.Logger) *http.Server {
	if cfg == nil || server == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler()}
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

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfg.Get()
	now := time.Now().UTC()
	resp := statusResponse{
		Status:       "ok",
		Time:         now.Format(time.RFC3339Nano),
		Version:      s.version,
		Uptime:       now.Sub(s.started).Truncate(time.Second).String(),
		ConfigPath:   s.cfg.Path(),
		FeedsRunning: []int{},
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Replay:    cfg.Ingest.Replay.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
		},
		API:     apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Storage: cfg.Storage.Enabled,
	}
	if s.feeds != nil {
		resp.FeedsRunning = s.feeds.Running()
	}
	if s.alerts != nil {
		resp.Alerts = s.alerts.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	all := s.metrics.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": all,
		"totals":  s.metrics.Totals(),
		"count":   len(all),
	})
}

func (s *Server) handleFeedMetrics(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("feed"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid feed id")
		return
	}
	stats, ok := s.metrics.Get(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state, err := alerts.ParseState(q.Get("state"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := alerts.Filter{State: state}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since")
			return
		}
		filter.Since = ts
	}
	if v := q.Get("feed_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid feed_id")
			return
		}
		filter.FeedID = &id
	}
	list := s.alerts.List(filter)
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.alerts.Get(r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	alert, err := s.alerts.Acknowledge(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := readJSON(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	alert, err := s.alerts.Resolve(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target"`
	}
	if err := readJSON(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid clear request: "+err.Error())
		return
	}
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		if err := s.alerts.ClearAll(r.Context()); err != nil {
			s.fail(w, err)
			return
		}
		s.metrics.Clear()
	case "alerts", "logs":
		if err := s.alerts.ClearAll(r.Context()); err != nil {
			s.fail(w, err)
			return
		}
	case "metrics":
		s.metrics.Clear()
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleListZones(w http.ResponseWriter, r *http.Request) {
	var feed *int
	if v := r.URL.Query().Get("feed_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid feed_id")
			return
		}
		feed = &id
	}
	zones := s.registry.Zones(feed)
	writeJSON(w, http.StatusOK, map[string]any{"zones": zones, "count": len(zones)})
}

func (s *Server) handleGetZone(w http.ResponseWriter, r *http.Request) {
	z, err := s.registry.Zone(r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, z)
}

func (s *Server) handleCreateZone(w http.ResponseWriter, r *http.Request) {
	z := model.Zone{Active: true}
	if err := readJSON(w, r, &z, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := s.registry.CreateZone(r.Context(), z)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleUpdateZone merges the body onto the stored zone; fields absent from the body keep their value.
func (s *Server) handleUpdateZone(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var decodeErr error
	updated, err := s.registry.UpdateZone(r.Context(), r.PathValue("id"), func(z *model.Zone) error {
		next, err := mergeJSON(*z, body)
		if err != nil {
			decodeErr = err
			return err
		}
		next.ID = z.ID
		*z = next
		return nil
	})
	if decodeErr != nil {
		writeError(w, http.StatusBadRequest, decodeErr.Error())
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteZone(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.DeleteZone(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDoors(w http.ResponseWriter, _ *http.Request) {
	doors := s.registry.Doors()
	writeJSON(w, http.StatusOK, map[string]any{"doors": doors, "count": len(doors)})
}

func (s *Server) handleCreateDoor(w http.ResponseWriter, r *http.Request) {
	var d model.Door
	if err := readJSON(w, r, &d, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := s.registry.CreateDoor(r.Context(), d)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateDoor(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var decodeErr error
	updated, err := s.registry.UpdateDoor(r.Context(), r.PathValue("id"), func(d *model.Door) error {
		next, err := mergeJSON(*d, body)
		if err != nil {
			decodeErr = err
			return err
		}
		next.ID = d.ID
		*d = next
		return nil
	})
	if decodeErr != nil {
		writeError(w, http.StatusBadRequest, decodeErr.Error())
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteDoor(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.DeleteDoor(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAreas(w http.ResponseWriter, _ *http.Request) {
	areas := s.registry.Areas()
	writeJSON(w, http.StatusOK, map[string]any{"areas": areas, "count": len(areas)})
}

func (s *Server) handleSetAreas(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Areas []model.DoorArea `json:"areas"`
	}
	if err := readJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	areas, err := s.registry.SetAreas(r.Context(), req.Areas)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"areas": areas, "count": len(areas)})
}

func (s *Server) handleListRoles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"roles": s.registry.Roles()})
}

func (s *Server) handleAddRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role string `json:"role"`
	}
	if err := readJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.registry.AddRole(r.Context(), req.Role); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": s.registry.Roles()})
}

func (s *Server) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.DeleteRole(r.Context(), r.PathValue("role")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": s.registry.Roles()})
}

func (s *Server) handleFeeds(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfg.Get()
	running := map[int]bool{}
	for _, id := range s.feeds.Running() {
		running[id] = true
	}
	type feedStatus struct {
		ID      int    `json:"id"`
		Name    string `json:"name,omitempty"`
		Polling bool   `json:"polling"`
		Running bool   `json:"running"`
	}
	out := make([]feedStatus, 0, len(cfg.Feeds)+len(running))
	for _, f := range cfg.Feeds {
		out = append(out, feedStatus{ID: f.ID, Name: f.Name, Polling: f.DetectorURL != "", Running: running[f.ID]})
		delete(running, f.ID)
	}
	for _, id := range s.feeds.Running() {
		if running[id] {
			out = append(out, feedStatus{ID: id, Running: true})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"feeds": out})
}

func (s *Server) handleStartFeed(w http.ResponseWriter, r *http.Request) {
	id, ok := pathFeedID(w, r)
	if !ok {
		return
	}
	if err := s.feeds.Start(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "feed_id": id, "running": true})
}

func (s *Server) handleStopFeed(w http.ResponseWriter, r *http.Request) {
	id, ok := pathFeedID(w, r)
	if !ok {
		return
	}
	if !s.feeds.Stop(id) {
		writeError(w, http.StatusNotFound, "feed not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "feed_id": id, "running": false})
}

// fail maps domain errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, alerts.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrInvalidZone),
		errors.Is(err, registry.ErrInvalidDoor),
		errors.Is(err, registry.ErrInvalidArea),
		errors.Is(err, registry.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		if s.logger != nil {
			s.logger.Error("api request failed", "err", err)
		}
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathFeedID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 0 {
		writeError(w, http.StatusBadRequest, "invalid feed id")
		return 0, false
	}
	return id, true
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
}

// readJSON decodes the request body into v. An empty body is accepted when optional is set.
func readJSON(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		if optional {
			return nil
		}
		return errors.New("request body is empty")
	}
	return json.Unmarshal(body, v)
}

// mergeJSON overlays body on a deep copy of cur, so a failed or rejected patch never
// touches slices still shared with the stored value.
func mergeJSON[T any](cur T, body []byte) (T, error) {
	base, err := json.Marshal(cur)
	if err != nil {
		return cur, err
	}
	var next T
	if err := json.Unmarshal(base, &next); err != nil {
		return cur, err
	}
	if err := json.Unmarshal(body, &next); err != nil {
		return cur, err
	}
	return next, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
