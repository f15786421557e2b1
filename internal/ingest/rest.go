package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"zoneguard/internal/config"
	"zoneguard/internal/model"
)

type RESTServer struct {
	out    chan<- model.DetectionBatch
	logger *slog.Logger
}

func NewRESTServer(out chan<- model.DetectionBatch, logger *slog.Logger) *RESTServer {
	return &RESTServer{out: out, logger: logger}
}

// Handler serves POST /detections and POST /feeds/{id}/detections.
func (s *RESTServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/detections", s.handleDetections)
	mux.HandleFunc("/feeds/{id}/detections", s.handleDetections)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

func StartREST(ctx context.Context, cfg *config.Manager, out chan<- model.DetectionBatch, logger *slog.Logger) *http.Server {
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.Addr)
	}
	server := NewRESTServer(out, logger)
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *RESTServer) handleDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil || len(body) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var batches []model.DetectionBatch
	if raw := r.PathValue("id"); raw != "" {
		feedID, convErr := strconv.Atoi(raw)
		if convErr != nil || feedID < 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		batches, err = ParseFeedJSON(body, feedID)
	} else {
		batches, err = ParseJSONBytes(body)
	}
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("rest decode error", "err", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": err.Error()})
		return
	}

	accepted, dropped := 0, 0
	for _, b := range batches {
		if SendNonBlocking(r.Context(), s.out, b, s.logger) {
			accepted++
		} else {
			dropped++
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if dropped > 0 && accepted == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusAccepted)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"accepted": accepted,
		"dropped":  dropped,
	})
}
