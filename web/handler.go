// Package web exposes the engine's control surface over HTTP: task
// submission, inspection and cancellation, remote worker registration, and
// rate-limit configuration. Local (in-process) workers cannot be registered
// here; their handlers only exist inside the embedding process.
package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/taskmill/taskmill/pkg/core"
	"github.com/taskmill/taskmill/pkg/engine"
)

// Handler builds the HTTP mux for an engine.
func Handler(eng *engine.Engine, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &server{engine: eng, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /submit", s.submit)
	mux.HandleFunc("GET /{$}", s.list)
	mux.HandleFunc("GET /{id}", s.get)
	mux.HandleFunc("POST /cancel/{id}", s.cancel)

	mux.HandleFunc("POST /workers", s.registerWorker)
	mux.HandleFunc("GET /workers", s.listWorkers)
	mux.HandleFunc("DELETE /workers/{id}", s.removeWorker)

	mux.HandleFunc("PUT /ratelimits", s.putRateLimit)
	mux.HandleFunc("GET /ratelimits", s.listRateLimits)
	mux.HandleFunc("DELETE /ratelimits/{pattern}", s.removeRateLimit)

	mux.HandleFunc("GET /stats", s.stats)
	mux.HandleFunc("GET /healthz", s.healthz)
	return mux
}

type server struct {
	engine *engine.Engine
	logger *slog.Logger
}

func (s *server) submit(w http.ResponseWriter, r *http.Request) {
	var spec core.TaskSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	task, err := s.engine.Submit(r.Context(), spec)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, task)
}

func (s *server) get(w http.ResponseWriter, r *http.Request) {
	task, err := s.engine.Get(r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *server) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := engine.ListFilter{
		Status:      core.Status(q.Get("status")),
		Type:        q.Get("type"),
		Platform:    q.Get("platform"),
		SubmittedBy: q.Get("submittedBy"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	s.writeJSON(w, http.StatusOK, s.engine.List(filter))
}

func (s *server) cancel(w http.ResponseWriter, r *http.Request) {
	task, err := s.engine.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *server) registerWorker(w http.ResponseWriter, r *http.Request) {
	var spec core.WorkerSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if spec.Type != core.WorkerRemote {
		s.writeError(w, http.StatusBadRequest, "only remote workers can be registered over HTTP")
		return
	}

	worker, err := s.engine.RegisterWorker(r.Context(), spec)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, worker)
}

func (s *server) listWorkers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Workers())
}

func (s *server) removeWorker(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RemoveWorker(r.Context(), r.PathValue("id")); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rateLimitRequest struct {
	Pattern    string `json:"pattern"`
	MaxPerHour int    `json:"maxPerHour"`
	MaxPerDay  int    `json:"maxPerDay"`
}

func (s *server) putRateLimit(w http.ResponseWriter, r *http.Request) {
	var req rateLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	limit, err := s.engine.ConfigureRateLimit(r.Context(), req.Pattern, req.MaxPerHour, req.MaxPerDay)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, limit)
}

func (s *server) listRateLimits(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.RateLimits())
}

func (s *server) removeRateLimit(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RemoveRateLimit(r.Context(), r.PathValue("pattern")); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) stats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *server) healthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func (s *server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps engine errors onto HTTP statuses: lookups to 404,
// lifecycle to 503, everything else (validation) to 400.
func (s *server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrTaskNotFound), errors.Is(err, core.ErrWorkerNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrEngineStopped):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.writeError(w, http.StatusBadRequest, err.Error())
	}
}
