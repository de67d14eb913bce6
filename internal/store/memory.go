package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/drafterd/drafter/internal/model"
)

// Compile-time interface satisfaction check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store with an in-process map. Jobs do not survive
// a restart; the remote engine remains the source of truth for anything
// longer-lived.
type MemoryStore struct {
	mu    sync.RWMutex
	jobs  map[string]*model.Job
	order []string // ids in insertion order, oldest first
}

// NewMemoryStore creates an empty in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*model.Job),
	}
}

// Close releases nothing; it exists to satisfy the Store contract.
func (s *MemoryStore) Close() error { return nil }

// CreateJob records a new job.
func (s *MemoryStore) CreateJob(_ context.Context, j *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[j.ID]; exists {
		return fmt.Errorf("job %s already exists", j.ID)
	}

	cp := *j
	s.jobs[j.ID] = &cp
	s.order = append(s.order, j.ID)
	return nil
}

// GetJob retrieves a job by ID.
func (s *MemoryStore) GetJob(_ context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

// ListJobs returns a paginated list of jobs ordered newest first, along with
// the total count.
func (s *MemoryStore) ListJobs(_ context.Context, limit, offset int) ([]*model.Job, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := len(s.order)
	if offset >= total {
		return nil, total, nil
	}

	var jobs []*model.Job
	// Walk insertion order backwards so newest jobs come first.
	for i := total - 1 - offset; i >= 0 && len(jobs) < limit; i-- {
		cp := *s.jobs[s.order[i]]
		jobs = append(jobs, &cp)
	}
	return jobs, total, nil
}

// UpdateJobPhase transitions a job to a new phase, validating the transition.
// Terminal phases also set the finished timestamp.
func (s *MemoryStore) UpdateJobPhase(_ context.Context, id, phase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !model.ValidTransition(j.Phase, phase) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Phase, phase)
	}

	j.Phase = phase
	now := time.Now().UTC()
	if phase == model.PhaseInProgress && j.StartedAt == nil {
		j.StartedAt = &now
	}
	if model.Terminal(phase) {
		j.FinishedAt = &now
	}
	return nil
}

// UpdateJob merges completion fields onto an existing job. The phase, when
// changed, must be a valid transition.
func (s *MemoryStore) UpdateJob(_ context.Context, in *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[in.ID]
	if !ok {
		return ErrNotFound
	}
	if in.Phase != "" && in.Phase != j.Phase {
		if !model.ValidTransition(j.Phase, in.Phase) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Phase, in.Phase)
		}
		j.Phase = in.Phase
	}

	if in.WorkItemID != "" {
		j.WorkItemID = in.WorkItemID
	}
	if in.OutputURLs != nil {
		j.OutputURLs = in.OutputURLs
	}
	if in.ReportURL != "" {
		j.ReportURL = in.ReportURL
	}
	if in.Error != "" {
		j.Error = in.Error
	}
	if in.DurationMS != nil {
		j.DurationMS = in.DurationMS
	}
	if in.StartedAt != nil {
		j.StartedAt = in.StartedAt
	}
	if in.FinishedAt != nil {
		j.FinishedAt = in.FinishedAt
	}
	if in.SecondaryBlob != "" {
		j.SecondaryBlob = in.SecondaryBlob
	}
	return nil
}

// GetJobStats aggregates counts by phase and template plus the average
// duration of finished jobs.
func (s *MemoryStore) GetJobStats(_ context.Context) (*JobStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &JobStats{
		Total:           len(s.jobs),
		CountByPhase:    make(map[string]int),
		CountByTemplate: make(map[string]int),
	}

	var durSum, durCount int
	for _, j := range s.jobs {
		stats.CountByPhase[j.Phase]++
		stats.CountByTemplate[j.Template]++
		if j.DurationMS != nil {
			durSum += *j.DurationMS
			durCount++
		}
	}
	if durCount > 0 {
		stats.AvgDurationMS = float64(durSum) / float64(durCount)
	}
	return stats, nil
}
