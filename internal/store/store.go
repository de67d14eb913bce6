package store

import (
	"context"
	"errors"

	"github.com/drafterd/drafter/internal/model"
)

// ErrNotFound is returned when a job is not found.
var ErrNotFound = errors.New("job not found")

// ErrInvalidTransition is returned when a job phase transition is not allowed.
var ErrInvalidTransition = errors.New("invalid phase transition")

// JobStats holds aggregate job statistics.
type JobStats struct {
	Total           int            `json:"total"`
	CountByPhase    map[string]int `json:"count_by_phase"`
	CountByTemplate map[string]int `json:"count_by_template"`
	AvgDurationMS   float64        `json:"avg_duration_ms"`
}

// Store defines the bookkeeping operations for jobs. All state is held in
// process memory; job-template registrations live remotely and survive
// restarts independently of this store.
type Store interface {
	CreateJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error)
	UpdateJobPhase(ctx context.Context, id, phase string) error
	UpdateJob(ctx context.Context, j *model.Job) error
	GetJobStats(ctx context.Context) (*JobStats, error)
	Close() error
}
