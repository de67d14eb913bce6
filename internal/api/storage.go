package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/drafterd/drafter/internal/oss"
)

// Storage is the slice of the signed-resource client the HTTP surface
// exposes: callers stage inputs and mint signed URLs here before submitting
// jobs.
type Storage interface {
	CreateBucket(ctx context.Context, bucket string) error
	CollectObjects(ctx context.Context, bucket, prefix string) ([]oss.Object, error)
	SignedURL(ctx context.Context, bucket, key string, access oss.Access, ttlMinutes int) (string, error)
}

type signedURLResponse struct {
	SignedURL string `json:"signedUrl"`
}

func (s *Server) requireStorage(w http.ResponseWriter) bool {
	if s.storage == nil {
		s.writeError(w, http.StatusServiceUnavailable, "storage backend not configured")
		return false
	}
	return true
}

func (s *Server) handleCreateBucket(w http.ResponseWriter, r *http.Request) {
	if !s.requireStorage(w) {
		return
	}
	bucket := chi.URLParam(r, "bucket")

	if err := s.storage.CreateBucket(r.Context(), bucket); err != nil {
		s.logger.Error("create bucket", "bucket", bucket, "error", err)
		s.writeError(w, http.StatusBadGateway, "failed to create bucket")
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"bucket": bucket})
}

func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request) {
	if !s.requireStorage(w) {
		return
	}
	bucket := chi.URLParam(r, "bucket")
	prefix := r.URL.Query().Get("beginsWith")

	objects, err := s.storage.CollectObjects(r.Context(), bucket, prefix)
	if err != nil {
		s.logger.Error("list objects", "bucket", bucket, "error", err)
		s.writeError(w, http.StatusBadGateway, "failed to list objects")
		return
	}
	if objects == nil {
		objects = []oss.Object{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"objects": objects})
}

func (s *Server) handleSignObject(w http.ResponseWriter, r *http.Request) {
	if !s.requireStorage(w) {
		return
	}
	bucket := chi.URLParam(r, "bucket")
	key := chi.URLParam(r, "key")

	access := oss.AccessRead
	if r.URL.Query().Get("access") == "write" {
		access = oss.AccessWrite
	}
	minutes := parseIntQuery(r, "minutes", 0) // 0 falls back to the client default

	u, err := s.storage.SignedURL(r.Context(), bucket, key, access, minutes)
	if err != nil {
		s.logger.Error("sign object", "bucket", bucket, "key", key, "error", err)
		s.writeError(w, http.StatusBadGateway, "failed to sign object url")
		return
	}
	s.writeJSON(w, http.StatusOK, signedURLResponse{SignedURL: u})
}
