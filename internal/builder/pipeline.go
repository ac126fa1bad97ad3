// Package builder drives one package build from a validated request to the
// build container's outcome.
package builder

import (
	"context"
	"log/slog"
	"time"

	"github.com/asgardahost/rpmbuilder/internal/config"
	"github.com/asgardahost/rpmbuilder/internal/container"
	rerrors "github.com/asgardahost/rpmbuilder/internal/errors"
	"github.com/asgardahost/rpmbuilder/internal/logfields"
	"github.com/asgardahost/rpmbuilder/internal/metrics"
	"github.com/asgardahost/rpmbuilder/internal/models"
	"github.com/asgardahost/rpmbuilder/internal/source"
	"github.com/asgardahost/rpmbuilder/internal/workspace"
)

// Stage names one step of the pipeline.
type Stage string

const (
	StageValidate       Stage = "validate"
	StageResolveRootDir Stage = "resolve_root_dir"
	StageResolveSource  Stage = "resolve_source"
	StageScaffold       Stage = "scaffold_workspace"
	StageAcquire        Stage = "acquire_sources"
	StageInvokeBuild    Stage = "invoke_build"
	StageReport         Stage = "report"
)

// DefaultContainerUser is the uid:gid the build container runs as.
const DefaultContainerUser = "991:988"

// HistoryStore records build runs. Failures are logged, never fatal.
type HistoryStore interface {
	CreateBuildRecord(rec *models.BuildRecord) error
	FinishBuildRecord(rec *models.BuildRecord) error
}

// Pipeline runs the build stages in order and stops at the first error.
type Pipeline struct {
	settings      config.Provider
	sources       source.Set
	runner        container.Runner
	containerUser string
	history       HistoryStore
	recorder      metrics.Recorder
	now           func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHistory records every run in store.
func WithHistory(store HistoryStore) Option {
	return func(p *Pipeline) { p.history = store }
}

// WithRecorder sends stage and outcome metrics to r.
func WithRecorder(r metrics.Recorder) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.recorder = r
		}
	}
}

// WithContainerUser overrides DefaultContainerUser.
func WithContainerUser(user string) Option {
	return func(p *Pipeline) {
		if user != "" {
			p.containerUser = user
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a pipeline over the given settings, source strategies
// and container runner.
func NewPipeline(settings config.Provider, sources source.Set, runner container.Runner, opts ...Option) *Pipeline {
	p := &Pipeline{
		settings:      settings,
		sources:       sources,
		runner:        runner,
		containerUser: DefaultContainerUser,
		recorder:      metrics.NoopRecorder{},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// run carries the state one build accumulates across stages.
type run struct {
	req      *models.BuildRequest
	report   *Report
	ws       *workspace.Workspace
	strategy source.Strategy
	target   *source.Target
	inputs   *source.Inputs
	record   *models.BuildRecord
}

// Run executes the pipeline. The returned report is never nil and describes
// how far the run got; the error is the typed failure that stopped it,
// including a non-zero container exit.
func (p *Pipeline) Run(ctx context.Context, req *models.BuildRequest) (*Report, error) {
	r := &run{
		req:    req,
		report: &Report{Request: req, StartedAt: p.now().UTC()},
	}

	slog.Info("Starting build", slog.String("arguments", req.String()))

	err := p.execute(ctx, r)

	r.report.FinishedAt = p.now().UTC()
	r.report.Duration = r.report.FinishedAt.Sub(r.report.StartedAt).Round(time.Millisecond).String()
	if err != nil {
		r.report.Error = err.Error()
		r.report.ExitCode = rerrors.ExitCode(err)
	}

	p.recorder.ObserveBuildDuration(r.report.FinishedAt.Sub(r.report.StartedAt))
	p.recorder.IncBuildOutcome(string(req.SourceMethod), outcomeLabel(err))
	p.finishRecord(r, err)

	return r.report, err
}

func (p *Pipeline) execute(ctx context.Context, r *run) error {
	req := r.req

	if err := p.stage(r, StageValidate, func() error {
		if err := req.Validate(); err != nil {
			return err
		}
		return req.Normalize()
	}); err != nil {
		return err
	}

	if err := p.stage(r, StageResolveRootDir, func() error {
		root, err := p.settings.RootDir()
		if err != nil {
			return err
		}
		r.ws = workspace.New(root, req.RepositoryName, req.Branch, req.CurrentTime)
		r.report.Workspace = r.ws.Name
		r.report.WorkspacePath = r.ws.Path()
		return nil
	}); err != nil {
		return err
	}

	if err := p.stage(r, StageResolveSource, func() error {
		strategy, err := p.sources.For(req.SourceMethod)
		if err != nil {
			return rerrors.Wrap(err, rerrors.KindUnknownSourceMethod, "cannot acquire sources")
		}
		r.strategy = strategy

		target, err := strategy.Resolve(ctx, req)
		if err != nil {
			return err
		}
		r.target = target
		r.report.ProjectID = target.ProjectID
		r.report.Warnings = append(r.report.Warnings, target.Warnings...)
		return nil
	}); err != nil {
		return err
	}

	if err := p.stage(r, StageScaffold, func() error {
		if err := r.ws.Scaffold(); err != nil {
			return err
		}
		slog.Info("Build directory created", logfields.Workspace(r.ws.Path()))
		return nil
	}); err != nil {
		return err
	}

	// Only a run that created its workspace owns the history row for it.
	p.startRecord(r)

	if err := p.stage(r, StageAcquire, func() error {
		inputs, err := r.strategy.Acquire(ctx, req, r.target, r.ws)
		if err != nil {
			return err
		}
		r.inputs = inputs
		return nil
	}); err != nil {
		return err
	}

	if err := p.stage(r, StageInvokeBuild, func() error {
		opts := p.runOptions(r)
		r.report.ContainerArgs = opts.Args

		outcome, err := p.runner.Run(ctx, opts)
		r.report.Outcome = &outcome
		p.recorder.SetContainerExitCode(outcome.ExitCode)
		return err
	}); err != nil {
		return err
	}

	if err := p.stage(r, StageReport, func() error {
		outcome := r.report.Outcome
		slog.Info("Build command finished",
			logfields.ExitCode(outcome.ExitCode),
			slog.String("message", outcome.Message))
		slog.Info("Build directory", logfields.Workspace(r.ws.Path()))
		return nil
	}); err != nil {
		return err
	}

	if outcome := r.report.Outcome; !outcome.Succeeded() {
		return rerrors.New(rerrors.KindBuildFailed, "build container exited with code %d", outcome.ExitCode).
			WithContext("exit_code", outcome.ExitCode).
			WithContext("workspace", r.ws.Name)
	}
	return nil
}

// runOptions assembles the container invocation for the staged workspace.
func (p *Pipeline) runOptions(r *run) container.RunOptions {
	req := r.req
	return container.RunOptions{
		Image:       req.BuildContainerImage,
		Name:        r.ws.Name,
		User:        p.containerUser,
		Interactive: true,
		Mounts:      r.inputs.Mounts,
		Volumes: []container.Mount{
			{Source: r.ws.Path(), Target: source.ContainerWorkDir},
		},
		Args: []string{
			r.inputs.SourceArg,
			req.Branch,
			req.PackageVersion,
			string(req.SourceMethod),
			req.SpecFileName(),
			req.ReleaseVersion,
		},
	}
}

// stage runs fn as the named stage, logging and timing it.
func (p *Pipeline) stage(r *run, name Stage, fn func() error) error {
	r.report.Stage = name
	start := p.now()
	slog.Debug("Stage started", logfields.Stage(string(name)))

	err := fn()

	d := p.now().Sub(start)
	p.recorder.ObserveStageDuration(string(name), d)
	ms := float64(d.Microseconds()) / 1000

	if err != nil {
		p.recorder.IncStageResult(string(name), metrics.ResultFatal)
		slog.Error("Stage failed",
			logfields.Stage(string(name)),
			logfields.DurationMS(ms),
			logfields.ExitCode(rerrors.ExitCode(err)),
			logfields.Error(err))
		return err
	}

	p.recorder.IncStageResult(string(name), metrics.ResultSuccess)
	slog.Debug("Stage finished", logfields.Stage(string(name)), logfields.DurationMS(ms))
	return nil
}

func (p *Pipeline) startRecord(r *run) {
	if p.history == nil {
		return
	}

	req := r.req
	rec := &models.BuildRecord{
		Workspace:      r.ws.Name,
		WorkspacePath:  r.ws.Path(),
		RepositoryName: req.RepositoryName,
		Branch:         req.Branch,
		SourceMethod:   req.SourceMethod,
		PackageVersion: req.PackageVersion,
		ReleaseVersion: req.ReleaseVersion,
		Image:          req.BuildContainerImage,
		ProjectID:      r.report.ProjectID,
		Status:         models.BuildStatusRunning,
		Stage:          string(r.report.Stage),
		StartedAt:      r.report.StartedAt,
	}
	if err := p.history.CreateBuildRecord(rec); err != nil {
		slog.Warn("Failed to record build", logfields.Workspace(r.ws.Name), logfields.Error(err))
		return
	}
	r.record = rec
}

func (p *Pipeline) finishRecord(r *run, err error) {
	if r.record == nil {
		return
	}

	rec := r.record
	rec.Stage = string(r.report.Stage)
	rec.ProjectID = r.report.ProjectID
	finished := r.report.FinishedAt
	rec.FinishedAt = &finished
	rec.Status = models.BuildStatusSucceeded
	if err != nil {
		rec.Status = models.BuildStatusFailed
		rec.ErrorMessage = err.Error()
	}
	if o := r.report.Outcome; o != nil {
		code := o.ExitCode
		rec.ExitCode = &code
		rec.Message = o.Message
	}

	if err := p.history.FinishBuildRecord(rec); err != nil {
		slog.Warn("Failed to update build record", logfields.Workspace(rec.Workspace), logfields.Error(err))
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSucceeded
	case rerrors.IsKind(err, rerrors.KindBuildFailed):
		return metrics.OutcomeFailed
	default:
		return metrics.OutcomeError
	}
}
