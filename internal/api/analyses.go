package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dmoralesc/vigia/internal/model"
	"github.com/dmoralesc/vigia/internal/publish"
	"github.com/dmoralesc/vigia/internal/remote"
	"github.com/dmoralesc/vigia/internal/store"
	"github.com/dmoralesc/vigia/internal/track"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxUploadSize    = 64 << 20 // 64 MB
	maxBodySize      = 1 << 20  // 1 MB, JSON bodies only
)

// listAnalysesResponse wraps the paginated list response.
type listAnalysesResponse struct {
	Analyses []*model.Analysis `json:"analyses"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// publishResponse is the JSON response for POST /v1/analyses/:id/publish.
type publishResponse struct {
	ID         string `json:"id"`
	TargetLink string `json:"target_link"`
}

func (s *Server) handleSubmitAnalysis(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "file part is required")
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		s.logger.Error("read upload", "error", err)
		s.writeError(w, http.StatusBadRequest, "failed to read file part")
		return
	}

	a, err := s.engine.Submit(r.Context(), header.Filename, payload)
	if errors.Is(err, remote.ErrNoSession) {
		s.writeError(w, http.StatusUnauthorized, "no active session")
		return
	}
	if err != nil {
		s.logger.Error("submit analysis", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit analysis")
		return
	}

	s.writeJSON(w, http.StatusAccepted, a)
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a, err := s.store.GetAnalysis(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "analysis not found")
		return
	}
	if err != nil {
		s.logger.Error("get analysis", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get analysis")
		return
	}

	s.writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	analyses, total, err := s.store.ListAnalyses(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list analyses", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list analyses")
		return
	}

	if analyses == nil {
		analyses = []*model.Analysis{}
	}

	s.writeJSON(w, http.StatusOK, listAnalysesResponse{
		Analyses: analyses,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

func (s *Server) handleCancelAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.engine.Cancel(id); errors.Is(err, track.ErrNotTracking) {
		// Distinguish unknown jobs from already-finished ones.
		if _, gerr := s.store.GetAnalysis(r.Context(), id); errors.Is(gerr, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "analysis not found")
			return
		}
		s.writeError(w, http.StatusConflict, "analysis is not being tracked")
		return
	}

	a, err := s.store.GetAnalysis(r.Context(), id)
	if err != nil {
		s.logger.Error("get canceled analysis", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve analysis")
		return
	}

	s.writeJSON(w, http.StatusOK, a)
}

func (s *Server) handlePublishAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	link, err := s.engine.Publish(r.Context(), id)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, publishResponse{ID: id, TargetLink: link})
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "analysis not found")
	case errors.Is(err, publish.ErrNotEligible):
		s.writeError(w, http.StatusConflict, "analysis does not qualify for publishing")
	case errors.Is(err, publish.ErrUploadInProgress):
		s.writeError(w, http.StatusConflict, "publish already in progress")
	case errors.Is(err, publish.ErrAlreadyUploaded):
		s.writeError(w, http.StatusConflict, "analysis already published")
	default:
		s.logger.Error("publish analysis", "id", id, "error", err)
		s.writeError(w, http.StatusBadGateway, "publish failed")
	}
}

// handleIngestSnapshot accepts a change-feed snapshot over HTTP, for backends
// that push instead of going through the feed source.
func (s *Server) handleIngestSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var snap model.Snapshot
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if snap.Status == "" {
		s.writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	s.engine.Ingest(id, snap)
	w.WriteHeader(http.StatusAccepted)
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
