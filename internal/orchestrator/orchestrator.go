// Package orchestrator drives an upload session from creation to its terminal status.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"s3syncdash/internal/api"
	"s3syncdash/internal/broker"
	"s3syncdash/internal/checkpoint"
	"s3syncdash/internal/keys"
	"s3syncdash/internal/metrics"
	"s3syncdash/internal/model"
	"s3syncdash/internal/transfer"
	"s3syncdash/internal/worker"
)

// DefaultPatchTimeout bounds the terminal status patch once the run context is gone
const DefaultPatchTimeout = 30 * time.Second

// SessionRepository is the narrow contract used to create and settle sessions
type SessionRepository interface {
	CreateSession(ctx context.Context, cred api.Credential, req api.CreateSessionRequest) (*model.Session, error)
	UpdateSessionStatus(ctx context.Context, cred api.Credential, id int64, status model.SessionStatus) (*model.Session, error)
}

// Recorder receives per-file and per-session measurements
type Recorder interface {
	RecordUploaded(bytes int64, d time.Duration)
	RecordFailed(stage string, d time.Duration)
	RecordSession(status string)
	IncInflight()
	DecInflight()
}

// Ledger persists per-file outcomes
type Ledger interface {
	SaveOutcome(record *checkpoint.OutcomeRecord) error
}

// Orchestrator creates sessions, runs their transfers and reconciles terminal status
type Orchestrator struct {
	repo         SessionRepository
	broker       broker.Broker
	transferer   transfer.Transferer
	strategy     worker.Strategy
	ledger       Ledger
	recorder     Recorder
	opener       worker.OpenFunc
	patchTimeout time.Duration
	logger       *zap.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithStrategy sets the transfer strategy. The default is worker.Sequential.
func WithStrategy(s worker.Strategy) Option {
	return func(o *Orchestrator) { o.strategy = s }
}

// WithLedger records every per-file outcome
func WithLedger(l Ledger) Option {
	return func(o *Orchestrator) { o.ledger = l }
}

// WithRecorder reports measurements
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithOpener replaces how local files are opened
func WithOpener(open worker.OpenFunc) Option {
	return func(o *Orchestrator) { o.opener = open }
}

// WithPatchTimeout bounds the status patch. It runs detached from the run
// context so an interrupted run still records its terminal status.
func WithPatchTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.patchTimeout = d }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an orchestrator
func New(repo SessionRepository, b broker.Broker, t transfer.Transferer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		repo:         repo,
		broker:       b,
		transferer:   t,
		strategy:     worker.Sequential{},
		patchTimeout: DefaultPatchTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.patchTimeout <= 0 {
		o.patchTimeout = DefaultPatchTimeout
	}
	return o
}

// Result summarizes one run over a session's files
type Result struct {
	Session       *model.Session
	Status        model.SessionStatus
	Outcomes      []model.FileOutcome
	Uploaded      int
	Failed        int
	TotalBytes    int64
	UploadedBytes int64
	Progress      map[string]model.FileState
}

// Err combines every per-file error, or returns nil when all files were uploaded
func (r *Result) Err() error {
	var err error
	for _, o := range r.Outcomes {
		err = multierr.Append(err, o.Err)
	}
	return err
}

// CreateSession validates the selection and creates a pending session.
// A *ValidationError is returned before any request is issued.
func (o *Orchestrator) CreateSession(ctx context.Context, cred api.Credential, project *model.Project, cycle *model.Cycle, files []model.FileSpec, cfg model.SessionConfig) (*model.Session, error) {
	if err := validateSelection(project, cycle, files); err != nil {
		return nil, err
	}

	if cfg.Source == "" {
		cfg.Source = model.BrowserUploadSource
	}
	if cfg.Prefix == "" {
		cfg.Prefix = cycle.Prefix
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}

	cycleID := cycle.ID
	session, err := o.repo.CreateSession(ctx, cred, api.CreateSessionRequest{
		ProjectID:     project.ID,
		CycleID:       &cycleID,
		SessionConfig: cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if binder, ok := o.broker.(broker.SessionBinder); ok {
		binder.Bind(session)
	}

	o.logger.Info("Session created",
		zap.Int64("session_id", session.ID),
		zap.Int64("project_id", project.ID),
		zap.Int64("cycle_id", cycle.ID),
		zap.String("prefix", session.Prefix),
		zap.Int("files", len(files)),
	)

	return session, nil
}

func validateSelection(project *model.Project, cycle *model.Cycle, files []model.FileSpec) error {
	switch {
	case project == nil:
		return &ValidationError{Field: "project", Reason: "no project selected"}
	case cycle == nil:
		return &ValidationError{Field: "cycle", Reason: "no cycle selected"}
	case !project.IsActive:
		return &ValidationError{Field: "project", Reason: fmt.Sprintf("project %d is not active", project.ID)}
	case cycle.ProjectID != 0 && cycle.ProjectID != project.ID:
		return &ValidationError{Field: "cycle", Reason: fmt.Sprintf("cycle %d belongs to project %d", cycle.ID, cycle.ProjectID)}
	case !cycle.Selectable():
		return &ValidationError{Field: "cycle", Reason: fmt.Sprintf("cycle %d is completed", cycle.ID)}
	case len(files) == 0:
		return &ValidationError{Field: "files", Reason: "no files selected"}
	}
	return nil
}

// RunTransfer attempts every file, then issues exactly one terminal status patch.
// Per-file failures are recorded in the result. The returned error is a
// *ValidationError or a *ReconciliationError; in the latter case the result still
// carries every outcome.
func (o *Orchestrator) RunTransfer(ctx context.Context, cred api.Credential, session *model.Session, files []model.FileSpec, progress *ProgressMap) (*Result, error) {
	if session == nil {
		return nil, &ValidationError{Field: "session", Reason: "no session"}
	}
	if session.Status.IsTerminal() {
		return nil, &ValidationError{Field: "session", Reason: fmt.Sprintf("session %d is already %s", session.ID, session.Status)}
	}
	if len(files) == 0 {
		return nil, &ValidationError{Field: "files", Reason: "no files selected"}
	}

	result := o.run(ctx, cred, session, files, progress)

	status := ReconcileStatus(result.Outcomes)
	result.Status = status

	patched, err := o.patchStatus(ctx, cred, session.ID, status)
	if err != nil {
		o.logger.Error("Failed to reconcile session status",
			zap.Int64("session_id", session.ID),
			zap.String("status", string(status)),
			zap.Int("uploaded", result.Uploaded),
			zap.Int("failed", result.Failed),
			zap.Error(err),
		)
		return result, &ReconciliationError{SessionID: session.ID, Status: status, Err: err}
	}
	result.Session = settled(session, patched, status)

	if o.recorder != nil {
		o.recorder.RecordSession(string(status))
	}
	o.logger.Info("Session reconciled",
		zap.Int64("session_id", session.ID),
		zap.String("status", string(status)),
		zap.Int("uploaded", result.Uploaded),
		zap.Int("failed", result.Failed),
	)

	return result, nil
}

// Retry re-attempts files of an existing session. A terminal session is never
// patched; a session that is still non-terminal is settled from allOutcomes, which
// the caller assembles from previously recorded outcomes plus this run's.
func (o *Orchestrator) Retry(ctx context.Context, cred api.Credential, session *model.Session, files []model.FileSpec, progress *ProgressMap) (*Result, error) {
	if session == nil {
		return nil, &ValidationError{Field: "session", Reason: "no session"}
	}
	if binder, ok := o.broker.(broker.SessionBinder); ok {
		binder.Bind(session)
	}
	if len(files) == 0 {
		return &Result{Session: session, Status: session.Status, Progress: map[string]model.FileState{}}, nil
	}

	result := o.run(ctx, cred, session, files, progress)
	result.Status = session.Status
	return result, nil
}

// Settle patches a non-terminal session with the status reconciled from outcomes.
// A session already in a terminal status is returned unchanged.
func (o *Orchestrator) Settle(ctx context.Context, cred api.Credential, session *model.Session, outcomes []model.FileOutcome) (*model.Session, error) {
	status := ReconcileStatus(outcomes)
	if !model.CanTransition(session.Status, status) {
		return session, nil
	}

	patched, err := o.patchStatus(ctx, cred, session.ID, status)
	if err != nil {
		return nil, &ReconciliationError{SessionID: session.ID, Status: status, Err: err}
	}
	if o.recorder != nil {
		o.recorder.RecordSession(string(status))
	}
	return settled(session, patched, status), nil
}

// ReconcileStatus is failed only when no file was uploaded, and completed otherwise
func ReconcileStatus(outcomes []model.FileOutcome) model.SessionStatus {
	for _, o := range outcomes {
		if o.State == model.FileUploaded {
			return model.SessionCompleted
		}
	}
	return model.SessionFailed
}

// patchStatus keeps the run context's values but not its cancellation: every
// per-file attempt has resolved by now and the terminal status must still be sent.
func (o *Orchestrator) patchStatus(ctx context.Context, cred api.Credential, id int64, status model.SessionStatus) (*model.Session, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.patchTimeout)
	defer cancel()
	return o.repo.UpdateSessionStatus(ctx, cred, id, status)
}

func settled(local, patched *model.Session, status model.SessionStatus) *model.Session {
	if patched != nil {
		return patched
	}
	s := *local
	s.Status = status
	return &s
}

func (o *Orchestrator) run(ctx context.Context, cred api.Credential, session *model.Session, files []model.FileSpec, progress *ProgressMap) *Result {
	if progress == nil {
		progress = NewProgressMap()
	}

	tasks := make([]worker.Task, len(files))
	fileKeys := make([]string, len(files))
	var totalBytes int64
	for i, f := range files {
		key := keys.Destination(f.RelativePath)
		tasks[i] = worker.Task{Index: i, SessionID: session.ID, Key: key, File: f}
		fileKeys[i] = key
		totalBytes += f.Size
	}
	progress.reset(fileKeys)

	processor := worker.NewProcessor(o.broker, o.transferer, cred, o.logger)
	if o.opener != nil {
		processor.WithOpener(o.opener)
	}

	attempt := processor.Attempt
	if o.recorder != nil {
		attempt = func(ctx context.Context, task worker.Task) error {
			o.recorder.IncInflight()
			defer o.recorder.DecInflight()
			return processor.Attempt(ctx, task)
		}
	}

	logger := o.logger.With(zap.Int64("session_id", session.ID))
	done := func(r worker.Result) {
		outcome := toOutcome(r)
		progress.set(outcome.Key, outcome.State)
		o.record(logger, session.ID, outcome, r.Duration)
	}

	results := o.strategy.Run(ctx, tasks, attempt, done)

	result := &Result{
		Session:    session,
		Outcomes:   make([]model.FileOutcome, len(results)),
		TotalBytes: totalBytes,
	}
	for i, r := range results {
		outcome := toOutcome(r)
		result.Outcomes[i] = outcome
		if outcome.State == model.FileUploaded {
			result.Uploaded++
			result.UploadedBytes += outcome.Size
		} else {
			result.Failed++
		}
	}
	result.Progress = progress.Snapshot()

	return result
}

func toOutcome(r worker.Result) model.FileOutcome {
	outcome := model.FileOutcome{
		Key:       r.Task.Key,
		LocalPath: r.Task.File.LocalPath,
		Size:      r.Task.File.Size,
		State:     model.FileUploaded,
		Attempts:  r.Attempts,
		Err:       r.Err,
	}
	if r.Err != nil {
		outcome.State = model.FileFailed
	}
	return outcome
}

func (o *Orchestrator) record(logger *zap.Logger, sessionID int64, outcome model.FileOutcome, d time.Duration) {
	if outcome.State == model.FileUploaded {
		logger.Info("File uploaded",
			zap.String("key", outcome.Key),
			zap.Int64("size", outcome.Size),
			zap.Int("attempts", outcome.Attempts),
			zap.Duration("duration", d),
		)
		if o.recorder != nil {
			o.recorder.RecordUploaded(outcome.Size, d)
		}
	} else {
		logger.Warn("File failed",
			zap.String("key", outcome.Key),
			zap.Int("attempts", outcome.Attempts),
			zap.Error(outcome.Err),
		)
		if o.recorder != nil {
			o.recorder.RecordFailed(failureStage(outcome.Err), d)
		}
	}

	if o.ledger == nil {
		return
	}
	record := &checkpoint.OutcomeRecord{
		SessionID: sessionID,
		Key:       outcome.Key,
		LocalPath: outcome.LocalPath,
		Size:      outcome.Size,
		Status:    checkpoint.StatusUploaded,
		Attempts:  outcome.Attempts,
	}
	if outcome.Err != nil {
		record.Status = checkpoint.StatusFailed
		record.LastError = outcome.Err.Error()
	}
	if err := o.ledger.SaveOutcome(record); err != nil {
		logger.Warn("Failed to record outcome", zap.String("key", outcome.Key), zap.Error(err))
	}
}

func failureStage(err error) string {
	var authErr *broker.AuthorizationError
	if errors.As(err, &authErr) {
		return metrics.StageAuthorize
	}
	return metrics.StageTransfer
}
