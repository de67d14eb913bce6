package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/drafterd/drafter/internal/da"
	"github.com/drafterd/drafter/internal/engine"
	"github.com/drafterd/drafter/internal/model"
	"github.com/drafterd/drafter/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// argumentReq is one named argument in a submission. Kind is inferred: a
// url makes it a resource reference, otherwise it is a literal value.
type argumentReq struct {
	Value     string            `json:"value,omitempty"`
	URL       string            `json:"url,omitempty"`
	Verb      string            `json:"verb,omitempty"`
	Optional  bool              `json:"optional,omitempty"`
	LocalName string            `json:"localName,omitempty"`
	PathInZip string            `json:"pathInZip,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// submitJobRequest is the JSON body for POST /v1/jobs.
type submitJobRequest struct {
	Template  string                 `json:"template"`
	Arguments map[string]argumentReq `json:"arguments"`
}

// listJobsResponse wraps the paginated list response.
type listJobsResponse struct {
	Jobs   []*model.Job `json:"jobs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Template == "" {
		s.writeError(w, http.StatusBadRequest, "template is required")
		return
	}

	args := make(map[string]da.Argument, len(req.Arguments))
	for name, a := range req.Arguments {
		arg := da.Argument{
			Value:     a.Value,
			URL:       a.URL,
			Verb:      a.Verb,
			Optional:  a.Optional,
			LocalName: a.LocalName,
			PathInZip: a.PathInZip,
			Headers:   a.Headers,
		}
		if a.URL != "" {
			arg.Kind = da.KindResource
		} else {
			arg.Kind = da.KindValue
		}
		args[name] = arg
	}

	job, err := s.engine.Submit(r.Context(), req.Template, args)
	switch {
	case errors.Is(err, da.ErrUnknownTemplate):
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, da.ErrMissingArgument), errors.Is(err, da.ErrUnsupportedArgument):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("submit job", "template", req.Template, "error", err)
		s.writeError(w, http.StatusBadGateway, "failed to submit job")
		return
	}

	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.engine.Status(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := s.engine.Result(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	case errors.Is(err, engine.ErrJobNotFinished):
		s.writeError(w, http.StatusConflict, "job has not finished")
		return
	case err != nil:
		s.logger.Error("job result", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job result")
		return
	}

	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	jobs, total, err := s.store.ListJobs(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	if jobs == nil {
		jobs = []*model.Job{}
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:   jobs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
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
