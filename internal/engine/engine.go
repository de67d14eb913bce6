package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/drafterd/drafter/internal/da"
	"github.com/drafterd/drafter/internal/model"
	"github.com/drafterd/drafter/internal/store"
)

// Completion-detection strategies. Callback is preferred when a public
// callback URL is configured; polling always works.
type Strategy string

const (
	StrategyPolling  Strategy = "polling"
	StrategyCallback Strategy = "callback"
)

const (
	// DefaultPollInterval is the default gap between status probes.
	DefaultPollInterval = 5 * time.Second

	// DefaultJobTimeout bounds how long a job may stay unfinished before it
	// is marked failed.
	DefaultJobTimeout = 10 * time.Minute
)

// ErrUnknownWorkItem is returned when a callback names a work item this
// process is not tracking.
var ErrUnknownWorkItem = errors.New("unknown work item")

// ErrJobTimeout marks jobs that exceeded the configured timeout.
var ErrJobTimeout = errors.New("job timed out")

// ErrJobNotFinished is returned when a result is requested for a job that
// has not reached a terminal phase yet.
var ErrJobNotFinished = errors.New("job has not finished")

// Submitter is the slice of the execution-engine client the tracker needs.
type Submitter interface {
	SubmitWorkItem(ctx context.Context, activity string, def da.WorkItemDefinition) (string, error)
	WorkItemStatus(ctx context.Context, id string) (da.WorkItemStatus, error)
}

// SecondaryTarget mirrors job outputs into directly-accessible blob storage
// so callers are not tied to the engine's short-lived signed URLs.
type SecondaryTarget interface {
	SignedUploadURL(ctx context.Context, name string) (string, error)
	Exists(ctx context.Context, name string) (bool, error)
	BlobURL(name string) string
}

// Result is the caller-facing outcome of a finished job.
type Result struct {
	Success      bool   `json:"success"`
	OutputURL    string `json:"outputUrl,omitempty"`
	ReportURL    string `json:"reportUrl,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Config carries the engine's collaborators and tuning knobs.
type Config struct {
	Store     store.Store
	Engine    Submitter
	Catalogue *da.Catalogue

	// Secondary is optional; when nil jobs carry only engine-signed output
	// URLs.
	Secondary SecondaryTarget

	Logger       *slog.Logger
	PollInterval time.Duration
	JobTimeout   time.Duration
	Strategy     Strategy
}

// Engine orchestrates asynchronous job execution against the remote
// design-automation engine: submission, completion tracking, and result
// bookkeeping.
type Engine struct {
	store     store.Store
	engine    Submitter
	catalogue *da.Catalogue
	secondary SecondaryTarget
	logger    *slog.Logger

	pollInterval time.Duration
	jobTimeout   time.Duration

	mu       sync.Mutex
	strategy Strategy
	pending  map[string]chan da.WorkItemStatus // work item id -> delivery channel

	wg      sync.WaitGroup
	rootCtx context.Context
	cancel  context.CancelFunc
}

// New creates an engine. Zero durations fall back to the package defaults;
// an empty strategy means polling.
func New(cfg Config) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyPolling
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:        cfg.Store,
		engine:       cfg.Engine,
		catalogue:    cfg.Catalogue,
		secondary:    cfg.Secondary,
		logger:       cfg.Logger,
		pollInterval: cfg.PollInterval,
		jobTimeout:   cfg.JobTimeout,
		strategy:     cfg.Strategy,
		pending:      make(map[string]chan da.WorkItemStatus),
		rootCtx:      ctx,
		cancel:       cancel,
	}
}

// Catalogue returns the engine's template catalogue.
func (e *Engine) Catalogue() *da.Catalogue { return e.catalogue }

// CurrentStrategy returns the active completion-detection strategy.
func (e *Engine) CurrentStrategy() Strategy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.strategy
}

// SetStrategy switches the completion-detection strategy for jobs submitted
// from now on. In-flight jobs keep the strategy they started with.
func (e *Engine) SetStrategy(s Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategy = s
}

// ForceStrategy switches the strategy and returns a func restoring the
// previous one, for callers that need a strategy only for a bounded stretch
// of work.
func (e *Engine) ForceStrategy(s Strategy) (restore func()) {
	e.mu.Lock()
	prev := e.strategy
	e.strategy = s
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		e.strategy = prev
		e.mu.Unlock()
	}
}

// Submit resolves the template, translates its arguments into a work item,
// submits it to the remote engine, and launches completion tracking. The
// returned job is already recorded in the store.
func (e *Engine) Submit(ctx context.Context, template string, args map[string]da.Argument) (*model.Job, error) {
	tpl, merged, err := e.catalogue.Resolve(template, args)
	if err != nil {
		return nil, err
	}

	job := &model.Job{
		ID:        model.NewID(),
		Template:  tpl.Name,
		Phase:     model.PhasePending,
		CreatedAt: time.Now().UTC(),
	}

	// Attach a direct-upload output when secondary storage is configured.
	// Failure to sign is not fatal: the job still runs with engine-signed
	// outputs only.
	if e.secondary != nil {
		name := secondaryBlobName(job.ID, merged)
		uploadURL, err := e.secondary.SignedUploadURL(ctx, name)
		if err != nil {
			e.logger.Warn("secondary upload url unavailable", "job_id", job.ID, "error", err)
		} else {
			merged["secondaryCopy"] = da.Argument{
				Kind:     da.KindResource,
				URL:      uploadURL,
				Verb:     "put",
				Optional: true,
			}
			job.SecondaryBlob = name
		}
	}

	def, err := da.BuildWorkItem(merged)
	if err != nil {
		return nil, fmt.Errorf("build work item for %s: %w", tpl.Name, err)
	}

	if err := e.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	workItemID, err := e.engine.SubmitWorkItem(ctx, tpl.Name, def)
	if err != nil {
		e.failJob(job.ID, fmt.Sprintf("submit work item: %v", err), "")
		return nil, err
	}

	now := time.Now().UTC()
	update := &model.Job{
		ID:         job.ID,
		Phase:      model.PhaseInProgress,
		WorkItemID: workItemID,
		StartedAt:  &now,
	}
	if err := e.store.UpdateJob(ctx, update); err != nil {
		e.logger.Error("failed to transition job to inprogress", "job_id", job.ID, "error", err)
	}
	job.Phase = model.PhaseInProgress
	job.WorkItemID = workItemID
	job.StartedAt = &now

	jobsSubmittedTotal.WithLabelValues(tpl.Name).Inc()

	// Callbacks are accepted regardless of strategy; the strategy only
	// decides whether we also poll.
	ch := e.registerPending(workItemID)
	strategy := e.CurrentStrategy()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.track(job.ID, workItemID, tpl, strategy, ch)
	}()

	return job, nil
}

// Status returns the current job record.
func (e *Engine) Status(ctx context.Context, id string) (*model.Job, error) {
	return e.store.GetJob(ctx, id)
}

// Result reports the outcome of a terminal job. Non-terminal jobs yield
// ErrJobNotFinished.
func (e *Engine) Result(ctx context.Context, id string) (Result, error) {
	job, err := e.store.GetJob(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if !model.Terminal(job.Phase) {
		return Result{}, ErrJobNotFinished
	}

	res := Result{
		Success:      job.Phase == model.PhaseSucceeded,
		ReportURL:    job.ReportURL,
		ErrorMessage: job.Error,
	}
	if len(job.OutputURLs) > 0 {
		res.OutputURL = job.OutputURLs[0]
	}
	return res, nil
}

// ResolveCallback delivers a terminal notification from the remote engine to
// the goroutine tracking the named work item. A non-terminal status is a
// progress notification: the tracker stays registered and keeps waiting.
func (e *Engine) ResolveCallback(workItemID, status, reportURL string) error {
	terminal := da.TerminalStatus(status)

	e.mu.Lock()
	ch, ok := e.pending[workItemID]
	if ok && terminal {
		delete(e.pending, workItemID)
	}
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorkItem, workItemID)
	}
	if !terminal {
		e.logger.Info("work item progress callback", "work_item_id", workItemID, "status", status)
		return nil
	}
	// Buffered channel, single producer after the map delete: never blocks.
	ch <- da.WorkItemStatus{ID: workItemID, Status: status, ReportURL: reportURL}
	return nil
}

// Shutdown stops all tracking goroutines. In-flight jobs are left in their
// current phase; the remote engine keeps running them.
func (e *Engine) Shutdown() {
	e.cancel()
}

// Wait blocks until all tracking goroutines have returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) registerPending(workItemID string) chan da.WorkItemStatus {
	ch := make(chan da.WorkItemStatus, 1)
	e.mu.Lock()
	e.pending[workItemID] = ch
	e.mu.Unlock()
	return ch
}

func (e *Engine) unregisterPending(workItemID string) {
	e.mu.Lock()
	delete(e.pending, workItemID)
	e.mu.Unlock()
}

// track watches one work item to completion. Callback deliveries win over
// polling when both fire; under the callback strategy the only probe is a
// final one at timeout.
func (e *Engine) track(jobID, workItemID string, tpl da.Template, strategy Strategy, ch chan da.WorkItemStatus) {
	defer e.unregisterPending(workItemID)

	ctx, cancel := context.WithTimeout(e.rootCtx, e.jobTimeout)
	defer cancel()

	var tick <-chan time.Time
	if strategy == StrategyPolling {
		ticker := time.NewTicker(e.pollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case st := <-ch:
			// Only terminal statuses are delivered on the channel.
			e.finalize(jobID, tpl, st)
			return

		case <-tick:
			st, err := e.engine.WorkItemStatus(ctx, workItemID)
			if err != nil {
				e.logger.Warn("work item status probe failed", "job_id", jobID, "work_item_id", workItemID, "error", err)
				continue
			}
			if da.TerminalStatus(st.Status) {
				e.finalize(jobID, tpl, st)
				return
			}

		case <-ctx.Done():
			if e.rootCtx.Err() != nil {
				// Shutdown: leave the job as-is for the next process.
				return
			}
			// One last probe so a completion that raced the timeout is not
			// reported as a timeout.
			st, err := e.engine.WorkItemStatus(context.Background(), workItemID)
			if err == nil && da.TerminalStatus(st.Status) {
				e.finalize(jobID, tpl, st)
				return
			}
			e.failJob(jobID, fmt.Sprintf("%v after %s", ErrJobTimeout, e.jobTimeout), "")
			return
		}
	}
}

// finalize records a terminal engine status on the job.
func (e *Engine) finalize(jobID string, tpl da.Template, st da.WorkItemStatus) {
	ctx := context.Background()

	if st.Status != da.WorkItemSuccess {
		msg := tpl.FailureMessage
		if msg == "" {
			msg = fmt.Sprintf("job %s", st.Status)
		}
		e.failJob(jobID, msg, st.ReportURL)
		return
	}

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		e.logger.Error("finalize: job lookup failed", "job_id", jobID, "error", err)
		return
	}

	now := time.Now().UTC()
	update := &model.Job{
		ID:         jobID,
		Phase:      model.PhaseSucceeded,
		ReportURL:  st.ReportURL,
		FinishedAt: &now,
	}
	if job.StartedAt != nil {
		dur := int(now.Sub(*job.StartedAt).Milliseconds())
		update.DurationMS = &dur
	}

	// Prefer the stable secondary URL when the mirrored copy actually landed;
	// the output upload is marked optional, so verify before advertising it.
	if e.secondary != nil && job.SecondaryBlob != "" {
		ok, err := e.secondary.Exists(ctx, job.SecondaryBlob)
		if err != nil {
			e.logger.Warn("secondary existence check failed", "job_id", jobID, "blob", job.SecondaryBlob, "error", err)
		} else if ok {
			update.OutputURLs = []string{e.secondary.BlobURL(job.SecondaryBlob)}
		}
	}

	if err := e.store.UpdateJob(ctx, update); err != nil {
		e.logger.Error("failed to record job success", "job_id", jobID, "error", err)
	}
	jobsFinishedTotal.WithLabelValues(job.Template, model.PhaseSucceeded).Inc()
}

// failJob marks a job failed with the given message.
func (e *Engine) failJob(jobID, msg, reportURL string) {
	ctx := context.Background()
	now := time.Now().UTC()

	update := &model.Job{
		ID:         jobID,
		Phase:      model.PhaseFailed,
		Error:      msg,
		ReportURL:  reportURL,
		FinishedAt: &now,
	}
	template := ""
	if job, err := e.store.GetJob(ctx, jobID); err == nil {
		template = job.Template
		if job.StartedAt != nil {
			dur := int(now.Sub(*job.StartedAt).Milliseconds())
			update.DurationMS = &dur
		}
	}

	if err := e.store.UpdateJob(ctx, update); err != nil {
		e.logger.Error("failed to record job failure", "job_id", jobID, "error", err)
	}
	jobsFinishedTotal.WithLabelValues(template, model.PhaseFailed).Inc()
}

// secondaryBlobName derives the mirrored blob's name from the job id,
// keeping the extension of the first write output so downloads open with
// the right application.
func secondaryBlobName(jobID string, args map[string]da.Argument) string {
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	ext := ""
	for _, name := range names {
		arg := args[name]
		if arg.Kind != da.KindResource || arg.Verb == "" || arg.Verb == "read" || arg.Verb == "get" {
			continue
		}
		u, err := url.Parse(arg.URL)
		if err != nil {
			continue
		}
		if e := path.Ext(u.Path); e != "" {
			ext = e
			break
		}
	}
	return jobID + ext
}
