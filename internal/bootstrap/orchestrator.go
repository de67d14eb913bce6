// Package bootstrap registers the template catalogue with the remote engine
// at process start. Registration is best-effort and per-template: one broken
// template never blocks the rest, and the HTTP surface is already serving
// while it runs.
package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/drafterd/drafter/internal/da"
	"github.com/drafterd/drafter/internal/engine"
)

// DefaultSettleDelay gives the remote APIs a moment after process start
// before the registration burst.
const DefaultSettleDelay = 15 * time.Second

// Registrar is the slice of the engine client the orchestrator uses.
type Registrar interface {
	RegisterTemplate(ctx context.Context, t da.Template) error
	DeleteTemplate(ctx context.Context, t da.Template) error
}

// StrategySwitcher pins the completion-detection strategy for the duration
// of a bootstrap run.
type StrategySwitcher interface {
	ForceStrategy(s engine.Strategy) (restore func())
}

// Config gates what the orchestrator does at startup.
type Config struct {
	InitOnStart  bool
	ClearOnStart bool
	SettleDelay  time.Duration

	// ClientID is this process's identity; OwnerID is the identity that owns
	// shared templates. Shared resources are only deleted when they match.
	ClientID string
	OwnerID  string
}

// Report summarizes one orchestrator run.
type Report struct {
	Registered []string `json:"registered,omitempty"`
	Skipped    []string `json:"skipped,omitempty"`
	Failed     []string `json:"failed,omitempty"`
	Deleted    []string `json:"deleted,omitempty"`
}

// Orchestrator drives startup template registration and cleanup.
type Orchestrator struct {
	cfg       Config
	catalogue *da.Catalogue
	registrar Registrar
	switcher  StrategySwitcher
	logger    *slog.Logger
}

// New creates an orchestrator. A zero settle delay falls back to the
// default.
func New(cfg Config, catalogue *da.Catalogue, registrar Registrar, switcher StrategySwitcher, logger *slog.Logger) *Orchestrator {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	return &Orchestrator{
		cfg:       cfg,
		catalogue: catalogue,
		registrar: registrar,
		switcher:  switcher,
		logger:    logger,
	}
}

// Run executes the configured startup work: wait out the settle delay, then
// clear and/or register per the config flags. Cancellation stops further
// remote calls; nothing already done is rolled back.
func (o *Orchestrator) Run(ctx context.Context) {
	if !o.cfg.InitOnStart && !o.cfg.ClearOnStart {
		return
	}

	select {
	case <-time.After(o.cfg.SettleDelay):
	case <-ctx.Done():
		o.logger.Info("bootstrap cancelled during settle delay")
		return
	}

	if o.cfg.ClearOnStart {
		report := o.ClearAll(ctx, false)
		o.logger.Info("bootstrap clear finished",
			"deleted", len(report.Deleted), "skipped", len(report.Skipped), "failed", len(report.Failed))
	}
	if o.cfg.InitOnStart {
		report := o.InitializeAll(ctx)
		o.logger.Info("bootstrap registration finished",
			"registered", len(report.Registered), "skipped", len(report.Skipped), "failed", len(report.Failed))
	}
}

// InitializeAll registers every catalogue template in order. Completion
// detection is pinned to polling for the duration so registrations are not
// mistaken for push-tracked jobs; the prior strategy is restored on every
// path out.
func (o *Orchestrator) InitializeAll(ctx context.Context) Report {
	restore := o.switcher.ForceStrategy(engine.StrategyPolling)
	defer restore()

	var report Report
	for _, tpl := range o.catalogue.List() {
		if ctx.Err() != nil {
			o.logger.Info("bootstrap cancelled, remaining templates not registered", "next", tpl.Name)
			break
		}

		err := o.registrar.RegisterTemplate(ctx, tpl)
		switch {
		case errors.Is(err, da.ErrArtifactMissing):
			o.logger.Warn("template skipped, bundle package missing", "template", tpl.Name, "package", tpl.Package)
			report.Skipped = append(report.Skipped, tpl.Name)
		case err != nil:
			o.logger.Error("template registration failed", "template", tpl.Name, "error", err)
			report.Failed = append(report.Failed, tpl.Name)
		default:
			o.logger.Info("template registered", "template", tpl.Name)
			report.Registered = append(report.Registered, tpl.Name)
		}
	}
	return report
}

// ClearAll deletes registered templates. Shared templates are skipped unless
// allowShared is set and this process's identity is the shared owner.
func (o *Orchestrator) ClearAll(ctx context.Context, allowShared bool) Report {
	var report Report
	for _, tpl := range o.catalogue.List() {
		if ctx.Err() != nil {
			break
		}

		if tpl.Shared {
			if !allowShared {
				report.Skipped = append(report.Skipped, tpl.Name)
				continue
			}
			if o.cfg.ClientID != o.cfg.OwnerID {
				o.logger.Warn("shared template not deleted, not the owning identity", "template", tpl.Name)
				report.Skipped = append(report.Skipped, tpl.Name)
				continue
			}
		}

		if err := o.registrar.DeleteTemplate(ctx, tpl); err != nil {
			o.logger.Error("template deletion failed", "template", tpl.Name, "error", err)
			report.Failed = append(report.Failed, tpl.Name)
			continue
		}
		report.Deleted = append(report.Deleted, tpl.Name)
	}
	return report
}

// CleanupAll removes every registered template unconditionally, shared ones
// included. For teardown of throwaway environments.
func (o *Orchestrator) CleanupAll(ctx context.Context) Report {
	var report Report
	for _, tpl := range o.catalogue.List() {
		if ctx.Err() != nil {
			break
		}
		if err := o.registrar.DeleteTemplate(ctx, tpl); err != nil {
			o.logger.Error("template deletion failed", "template", tpl.Name, "error", err)
			report.Failed = append(report.Failed, tpl.Name)
			continue
		}
		report.Deleted = append(report.Deleted, tpl.Name)
	}
	return report
}
