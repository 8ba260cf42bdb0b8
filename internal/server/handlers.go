package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/content"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/query"
	"github.com/hyperjump/kotae/internal/storage"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if !s.orchestrator.Enabled() {
		respondError(w, http.StatusForbidden, query.ErrAssistantDisabled.Error())
		return
	}
	var req models.QueryRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request data")
		return
	}
	s.logger.Debug("query request", zap.String("query", req.Query), zap.Bool("stream", req.Stream))

	if req.Stream {
		s.streamQuery(w, r, &req)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout())
	defer cancel()
	answer, err := s.orchestrator.Answer(ctx, &req)
	if err != nil {
		s.respondQueryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, answer)
}

// streamQuery writes one JSON event per line, flushing after each. Headers are written with
// the first event so that failures before it still get a plain error response.
func (s *Server) streamQuery(w http.ResponseWriter, r *http.Request, req *models.QueryRequest) {
	flusher, _ := w.(http.Flusher)
	started := false
	enc := json.NewEncoder(w)

	err := s.orchestrator.Stream(r.Context(), req, func(ev models.StreamEvent) error {
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := enc.Encode(ev); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return r.Context().Err()
	})
	if err != nil && !started {
		s.respondQueryError(w, err)
	}
}

func (s *Server) respondQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrEmptyQuery):
		respondError(w, http.StatusBadRequest, "Query is required")
	case errors.Is(err, query.ErrAssistantDisabled):
		respondError(w, http.StatusForbidden, query.ErrAssistantDisabled.Error())
	case errors.Is(err, query.ErrDegraded):
		var degraded *query.DegradedError
		if errors.As(err, &degraded) {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error":     err.Error(),
				"embedder":  degraded.Report.Embedder,
				"vector_db": degraded.Report.VectorDB,
				"llm":       degraded.Report.LLM,
			})
			return
		}
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("query failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Error processing query: "+err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.orchestrator.Health(r.Context())
	status := http.StatusOK
	if report.Status != models.StatusOK {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, report)
}

type adminIndexRequest struct {
	ContentID string   `json:"content_id"`
	Rebuild   bool     `json:"rebuild"`
	PageTypes []string `json:"page_types"`
}

func (s *Server) handleAdminIndex(w http.ResponseWriter, r *http.Request) {
	var req adminIndexRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request data")
		return
	}
	s.runAdmin(w, func() (any, error) {
		return s.admin.IndexAll(r.Context(), indexer.IndexOptions{
			ContentID: req.ContentID,
			Rebuild:   req.Rebuild,
			PageTypes: req.PageTypes,
		})
	})
}

func (s *Server) handleAdminSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Force bool `json:"force"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request data")
		return
	}
	s.runAdmin(w, func() (any, error) {
		return s.admin.Sync(r.Context(), req.Force)
	})
}

func (s *Server) handleAdminRemove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	purge, _ := strconv.ParseBool(r.URL.Query().Get("purge"))
	s.runAdmin(w, func() (any, error) {
		var err error
		if purge {
			err = s.admin.Purge(r.Context(), id)
		} else {
			err = s.admin.Remove(r.Context(), id)
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"content_id": id, "purged": purge, "status": "removed"}, nil
	})
}

func (s *Server) handleAdminRemoveAll(w http.ResponseWriter, r *http.Request) {
	s.runAdmin(w, func() (any, error) {
		return s.admin.RemoveAll(r.Context())
	})
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.admin.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// runAdmin runs one maintenance operation at a time.
func (s *Server) runAdmin(w http.ResponseWriter, fn func() (any, error)) {
	if !s.adminMu.TryLock() {
		respondError(w, http.StatusConflict, "another index operation is running")
		return
	}
	defer s.adminMu.Unlock()

	out, err := fn()
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, out)
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, content.ErrNotFound), errors.Is(err, indexer.ErrNotLive):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("admin operation failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeBody decodes a JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
