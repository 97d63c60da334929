package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/ragchat/internal/models"
	"github.com/hyperjump/ragchat/internal/retrieval"
	"github.com/hyperjump/ragchat/internal/storage"
	"go.uber.org/zap"
)

// RetrieveResponse is the body of a successful POST /api/v1/retrieve.
type RetrieveResponse struct {
	*models.RankedResult
	Explanations []models.Explanation `json:"explanations,omitempty"`
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req models.RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg := req.Apply(s.base)
	s.logger.Debug("retrieve request", zap.String("query", req.Query),
		zap.Bool("vector", cfg.Vector.Enabled), zap.Bool("keyword", cfg.Keyword.Enabled), zap.Bool("rerank", cfg.Reranker.Enabled))

	result, explanations, err := s.retriever.Retrieve(r.Context(), retrieval.Query{Text: req.Query}, cfg)
	if err != nil {
		status := StatusFor(err)
		switch {
		case status == StatusClientClosedRequest:
			s.logger.Debug("retrieve cancelled by client", zap.String("query", req.Query))
		case status >= http.StatusInternalServerError:
			s.logger.Error("retrieve failed", zap.Error(err))
		}
		s.respondJSON(w, status, errorBody{Error: err.Error(), Kind: string(models.KindOf(err))})
		return
	}
	resp := RetrieveResponse{RankedResult: result}
	if req.Explain {
		resp.Explanations = explanations
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// StatusClientClosedRequest is returned when the client cancels a query before it finishes.
const StatusClientClosedRequest = 499

// StatusFor maps a pipeline error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded) && models.KindOf(err) == "":
		return http.StatusGatewayTimeout
	}
	switch models.KindOf(err) {
	case models.KindConfiguration:
		return http.StatusBadRequest
	case models.KindNoCandidates:
		return http.StatusNotFound
	case models.KindRerankerFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleGetChunk(w http.ResponseWriter, r *http.Request) {
	chunk, err := s.store.GetChunk(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, chunk)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docCount, err := s.store.CountDocuments(ctx)
	if err != nil {
		s.logger.Error("status: count documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	chunkCount, err := s.store.CountChunks(ctx)
	if err != nil {
		s.logger.Error("status: count chunks failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"documents":  docCount,
		"chunks":     chunkCount,
		"retrievers": s.base.Enabled(),
		"reranker":   s.base.Reranker.Enabled,
	}
	if s.vectors != nil {
		resp["vector_index_size"] = s.vectors.Size()
	}
	if len(s.diskPaths) > 0 {
		if n, err := storage.DiskUsageBytes(s.diskPaths...); err == nil {
			resp["disk_usage_bytes"] = n
		} else {
			s.logger.Warn("status: disk usage failed", zap.Error(err))
		}
	}
	if len(s.info) > 0 {
		resp["config"] = s.info
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Error("store lookup failed", zap.Error(err))
	s.respondError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, errorBody{Error: message})
}
