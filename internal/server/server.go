// Package server exposes the orchestrator over HTTP for agents that
// prefer an API to the CLI: sandbox CRUD, liveness heartbeats, and warm
// pool claim/release.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/qaforge/qasandbox/internal/config"
	"github.com/qaforge/qasandbox/internal/pool"
	"github.com/qaforge/qasandbox/internal/sandbox"
	"github.com/qaforge/qasandbox/internal/sberr"
	"github.com/qaforge/qasandbox/internal/shortid"
)

// Lifecycle is the slice of the sandbox manager the server needs.
type Lifecycle interface {
	Init(ctx context.Context, name string, limits sandbox.Limits) (string, error)
	Kill(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (sandbox.Record, error)
	List(ctx context.Context) ([]sandbox.Record, error)
	Touch(ctx context.Context, id string) error
}

type Server struct {
	cfg     config.Config
	manager Lifecycle
	pool    *pool.Pool
}

// New creates a server. The pool may be nil when warm pooling is
// disabled; pool endpoints then report exhaustion.
func New(cfg config.Config, manager Lifecycle, p *pool.Pool) *Server {
	return &Server{cfg: cfg, manager: manager, pool: p}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/sandboxes", s.handleList)
		r.Post("/sandboxes", s.handleCreate)
		r.Delete("/sandboxes/{id}", s.handleKill)
		r.Post("/sandboxes/{id}/heartbeat", s.handleHeartbeat)
		r.Post("/pool/claim", s.handlePoolClaim)
		r.Post("/pool/release", s.handlePoolRelease)
	})

	return r
}

type createRequest struct {
	Name   string `json:"name"`
	Memory string `json:"memory"`
	CPUs   string `json:"cpus"`
}

type createResponse struct {
	SandboxID string `json:"sandbox_id"`
	ShortID   string `json:"short_id"`
	Host      string `json:"host"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	var limits sandbox.Limits
	var err error
	if req.Memory != "" {
		if limits.Memory, err = config.ParseMemory(req.Memory); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.CPUs != "" {
		if limits.NanoCPUs, err = config.ParseCPUs(req.CPUs); err != nil {
			writeError(w, err)
			return
		}
	}

	id, err := s.manager.Init(r.Context(), req.Name, limits)
	if err != nil {
		writeError(w, err)
		return
	}

	short := shortid.From(id)
	writeJSON(w, http.StatusCreated, createResponse{
		SandboxID: id,
		ShortID:   short,
		Host:      shortid.URL(short, s.cfg.BaseDomain),
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := s.manager.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Kill(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Touch(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type claimResponse struct {
	SandboxID string `json:"sandbox_id,omitempty"`
	Empty     bool   `json:"empty"`
}

func (s *Server) handlePoolClaim(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		writeJSON(w, http.StatusOK, claimResponse{Empty: true})
		return
	}
	id, ok := s.pool.Claim(r.Context())
	if !ok {
		// Exhaustion is not an error; the caller cold-starts instead.
		writeJSON(w, http.StatusOK, claimResponse{Empty: true})
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{SandboxID: id})
}

type releaseRequest struct {
	SandboxID string `json:"sandbox_id"`
}

func (s *Server) handlePoolRelease(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SandboxID == "" {
		http.Error(w, "sandbox_id is required", http.StatusBadRequest)
		return
	}
	if s.pool != nil {
		s.pool.Release(req.SandboxID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sberr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, sberr.ErrInvalidConfig):
		status = http.StatusBadRequest
	case errors.Is(err, sberr.ErrResourceExhausted):
		status = http.StatusServiceUnavailable
	case errors.Is(err, sberr.ErrExecutionTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, sberr.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, sberr.ErrConfigConflict):
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}
