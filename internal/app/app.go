package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"s3syncdash/internal/api"
	"s3syncdash/internal/broker"
	"s3syncdash/internal/checkpoint"
	"s3syncdash/internal/config"
	"s3syncdash/internal/metrics"
	"s3syncdash/internal/model"
	"s3syncdash/internal/observer"
	"s3syncdash/internal/orchestrator"
	"s3syncdash/internal/progress"
	"s3syncdash/internal/storage"
	"s3syncdash/internal/transfer"
	"s3syncdash/internal/worker"
)

// Uploader represents the main upload application
type Uploader struct {
	cfg        *config.Config
	logger     *zap.Logger
	client     *api.Client
	cred       api.Credential
	transferer transfer.Transferer
	checkpoint checkpoint.Store
	metrics    *metrics.Collector
	out        io.Writer
}

// New creates a new uploader instance
func New(cfg *config.Config, logger *zap.Logger) (*Uploader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	checkpointStore, err := checkpoint.NewSQLiteStore(cfg.Checkpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	return &Uploader{
		cfg:        cfg,
		logger:     logger,
		client:     api.NewClient(cfg.API.BaseURL, nil, cfg.API.Timeout, logger),
		cred:       api.Credential{Token: cfg.API.Token},
		transferer: transfer.NewHTTPClient(nil),
		checkpoint: checkpointStore,
		metrics:    metrics.New(),
		out:        os.Stdout,
	}, nil
}

// SetOutput redirects command output (watch lines, summaries)
func (u *Uploader) SetOutput(w io.Writer) {
	u.out = w
}

// Metrics returns the metrics collector
func (u *Uploader) Metrics() *metrics.Collector {
	return u.metrics
}

func (u *Uploader) startMetricsServer() {
	if u.cfg.MetricsAddr == "" {
		return
	}
	go func() {
		if err := u.metrics.StartServer(u.cfg.MetricsAddr); err != nil {
			u.logger.Error("Failed to start metrics server", zap.Error(err))
		}
	}()
}

// Upload lists the configured directory, creates a session and transfers every file
func (u *Uploader) Upload(ctx context.Context) (*orchestrator.Result, error) {
	if err := u.cfg.ValidateUpload(); err != nil {
		return nil, err
	}

	lister := NewFileLister(u.cfg.Upload.UseFind, u.cfg.Upload.Extensions, u.logger)
	files, err := lister.List(ctx, u.cfg.Upload.Directory)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	if len(files) == 0 {
		return nil, &orchestrator.ValidationError{Field: "files", Reason: fmt.Sprintf("no files found in %s", u.cfg.Upload.Directory)}
	}

	project, err := u.client.GetProject(ctx, u.cred, u.cfg.Upload.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project %d: %w", u.cfg.Upload.ProjectID, err)
	}
	cycle, err := u.client.GetCycle(ctx, u.cred, u.cfg.Upload.CycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cycle %d: %w", u.cfg.Upload.CycleID, err)
	}

	b, err := u.newBroker(ctx, project)
	if err != nil {
		return nil, err
	}
	orch := u.newOrchestrator(b)

	source, err := filepath.Abs(u.cfg.Upload.Directory)
	if err != nil {
		return nil, err
	}
	workers, retries := u.effectiveLimits()
	session, err := orch.CreateSession(ctx, u.cred, project, cycle, files, model.SessionConfig{
		Source:      source,
		Prefix:      u.cfg.Upload.Prefix,
		Profile:     u.cfg.Upload.Profile,
		MaxWorkers:  workers,
		RetryBudget: retries,
		UseFind:     u.cfg.Upload.UseFind,
	})
	if err != nil {
		return nil, err
	}

	u.logger.Info("Starting upload",
		zap.Int64("session_id", session.ID),
		zap.String("bucket", project.BucketName),
		zap.String("prefix", session.Prefix),
		zap.String("strategy", u.cfg.Upload.Strategy),
		zap.Int("files", len(files)),
	)

	u.startMetricsServer()
	stopDisplay := u.startDisplay(session.ID, files)
	result, err := orch.RunTransfer(ctx, u.cred, session, files, nil)
	stopDisplay()

	if result != nil {
		u.logger.Info("Upload finished",
			zap.Int64("session_id", session.ID),
			zap.String("status", string(result.Status)),
			zap.Int("uploaded", result.Uploaded),
			zap.Int("failed", result.Failed),
			zap.String("bytes", progress.FormatBytes(result.UploadedBytes)),
		)
	}
	return result, err
}

func (u *Uploader) startDisplay(sessionID int64, files []model.FileSpec) func() {
	count, size := CountFiles(files)
	u.metrics.SetTotalCounts(count, size)

	if !u.cfg.ShowProgress || !progress.IsTerminalSupported() {
		u.logger.Debug("Progress display disabled")
		return func() {}
	}

	display := progress.NewDisplay(u.metrics.GetProgressTracker(), 2*time.Second)
	display.SetTitle(fmt.Sprintf("Upload progress (session %d)", sessionID))
	display.Start()
	return display.Stop
}

// Retry re-attempts the files recorded as failed for a session
func (u *Uploader) Retry(ctx context.Context, sessionID int64) (*orchestrator.Result, error) {
	session, err := u.client.GetSession(ctx, u.cred, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %d: %w", sessionID, err)
	}

	records, err := u.checkpoint.ListFailed(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read outcome ledger: %w", err)
	}
	if len(records) == 0 {
		u.logger.Info("No failed files recorded", zap.Int64("session_id", sessionID))
		return &orchestrator.Result{Session: session, Status: session.Status}, nil
	}

	project, err := u.client.GetProject(ctx, u.cred, session.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project %d: %w", session.ProjectID, err)
	}
	b, err := u.newBroker(ctx, project)
	if err != nil {
		return nil, err
	}
	orch := u.newOrchestrator(b)

	// Relative paths carry a leading folder segment that key derivation strips
	base := filepath.Base(session.Source)
	files := make([]model.FileSpec, len(records))
	for i, r := range records {
		files[i] = model.FileSpec{
			RelativePath: path.Join(base, r.Key),
			LocalPath:    r.LocalPath,
			Size:         r.Size,
		}
	}

	u.startMetricsServer()
	stopDisplay := u.startDisplay(session.ID, files)
	result, err := orch.Retry(ctx, u.cred, session, files, nil)
	stopDisplay()
	if err != nil {
		return nil, err
	}

	u.logger.Info("Retry finished",
		zap.Int64("session_id", sessionID),
		zap.Int("recovered", result.Uploaded),
		zap.Int("still_failed", result.Failed),
	)

	if session.Status.IsTerminal() {
		return result, nil
	}

	all, err := u.checkpoint.ListOutcomes(sessionID)
	if err != nil {
		return result, fmt.Errorf("failed to read outcome ledger: %w", err)
	}
	settled, err := orch.Settle(ctx, u.cred, session, fromRecords(all))
	if err != nil {
		return result, err
	}
	result.Session = settled
	result.Status = settled.Status
	return result, nil
}

func fromRecords(records []*checkpoint.OutcomeRecord) []model.FileOutcome {
	outcomes := make([]model.FileOutcome, len(records))
	for i, r := range records {
		outcomes[i] = model.FileOutcome{
			Key:       r.Key,
			LocalPath: r.LocalPath,
			Size:      r.Size,
			State:     model.FileFailed,
			Attempts:  r.Attempts,
		}
		if r.Status == checkpoint.StatusUploaded {
			outcomes[i].State = model.FileUploaded
		} else if r.LastError != "" {
			outcomes[i].Err = errors.New(r.LastError)
		}
	}
	return outcomes
}

// Watch polls a session and prints each snapshot until it is terminal or ctx ends
func (u *Uploader) Watch(ctx context.Context, sessionID int64) (*model.Session, error) {
	obs := observer.New(u.client, u.cred, sessionID, u.cfg.Watch.Interval, u.logger).WithRecorder(u.metrics)
	obs.Start(ctx)
	defer obs.Stop()

	for {
		select {
		case s := <-obs.Updates():
			u.printSnapshot(s)
		case <-obs.Done():
			// drain a final snapshot published just before exit
			select {
			case s := <-obs.Updates():
				u.printSnapshot(s)
			default:
			}
			return obs.Snapshot(), ctx.Err()
		case <-ctx.Done():
			return obs.Snapshot(), ctx.Err()
		}
	}
}

func (u *Uploader) printSnapshot(s *model.Session) {
	fmt.Fprintf(u.out, "session %d: %s %d/%d uploaded, %d failed (%d%%)\n",
		s.ID, s.Status, s.FilesUploaded, s.TotalFiles, s.FilesFailed, s.ProgressPercent())
}

// VerifyReport describes the destination of the configured project and cycle
type VerifyReport struct {
	Bucket  string
	Prefix  string
	Exists  bool
	Objects int64
	Bytes   int64
}

// Verify checks that the destination bucket is reachable and counts what the prefix already holds
func (u *Uploader) Verify(ctx context.Context) (*VerifyReport, error) {
	if u.cfg.Upload.ProjectID <= 0 {
		return nil, errors.New("project id is required")
	}
	project, err := u.client.GetProject(ctx, u.cred, u.cfg.Upload.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project %d: %w", u.cfg.Upload.ProjectID, err)
	}
	prefix := u.cfg.Upload.Prefix
	if prefix == "" && u.cfg.Upload.CycleID > 0 {
		cycle, err := u.client.GetCycle(ctx, u.cred, u.cfg.Upload.CycleID)
		if err != nil {
			return nil, fmt.Errorf("failed to load cycle %d: %w", u.cfg.Upload.CycleID, err)
		}
		prefix = cycle.Prefix
	}

	store, err := u.newStorage(project)
	if err != nil {
		return nil, err
	}
	return verify(ctx, store, project.BucketName, prefix)
}

func verify(ctx context.Context, store storage.Client, bucket, prefix string) (*VerifyReport, error) {
	report := &VerifyReport{Bucket: bucket, Prefix: prefix}

	exists, err := store.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	report.Exists = exists
	if !exists {
		return report, nil
	}

	objCh, errCh := store.ListObjects(ctx, bucket, prefix)
	for {
		select {
		case obj, ok := <-objCh:
			if !ok {
				return report, nil
			}
			report.Objects++
			report.Bytes += obj.Size
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return report, fmt.Errorf("error listing objects: %w", err)
			}
		case <-ctx.Done():
			return report, ctx.Err()
		}
	}
}

func (u *Uploader) newStorage(project *model.Project) (*storage.MinIOClient, error) {
	endpoint := u.cfg.S3.Endpoint
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}
	region := project.Region
	if region == "" {
		region = u.cfg.S3.Region
	}
	client, err := storage.NewMinIOClient(storage.Config{
		Endpoint:  endpoint,
		AccessKey: u.cfg.S3.AccessKey,
		SecretKey: u.cfg.S3.SecretKey,
		Region:    region,
		Secure:    u.cfg.S3.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return client, nil
}

func (u *Uploader) newBroker(ctx context.Context, project *model.Project) (broker.Broker, error) {
	switch u.cfg.Broker.Mode {
	case config.BrokerS3:
		region := project.Region
		if region == "" {
			region = u.cfg.S3.Region
		}
		profile := u.cfg.S3.Profile
		if profile == "" {
			profile = u.cfg.Upload.Profile
		}
		p, err := broker.NewS3Presigner(ctx, broker.S3Config{
			Bucket:      project.BucketName,
			Region:      region,
			Profile:     profile,
			EndpointURL: u.cfg.S3.Endpoint,
			AccessKey:   u.cfg.S3.AccessKey,
			SecretKey:   u.cfg.S3.SecretKey,
			Expires:     u.cfg.Broker.ExpiresIn,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 broker: %w", err)
		}
		return p, nil
	case config.BrokerMinIO:
		store, err := u.newStorage(project)
		if err != nil {
			return nil, err
		}
		return broker.NewMinIOPresigner(store, project.BucketName, u.cfg.Broker.ExpiresIn), nil
	default:
		return broker.NewAPIBroker(u.client), nil
	}
}

// effectiveLimits returns the worker count and retry budget the configured
// strategy actually applies. The sequential strategy runs one attempt per file.
func (u *Uploader) effectiveLimits() (workers, retries int) {
	if u.cfg.Upload.Strategy == config.StrategyParallel {
		return u.cfg.Upload.MaxWorkers, u.cfg.Upload.Retries
	}
	if u.cfg.Upload.MaxWorkers > 1 || u.cfg.Upload.Retries > 0 {
		u.logger.Warn("Sequential strategy ignores workers and retries; use --strategy parallel to apply them",
			zap.Int("workers", u.cfg.Upload.MaxWorkers),
			zap.Int("retries", u.cfg.Upload.Retries),
		)
	}
	return 1, 0
}

func (u *Uploader) newStrategy() worker.Strategy {
	if u.cfg.Upload.Strategy == config.StrategyParallel {
		return worker.NewPool(worker.Config{
			Workers:        u.cfg.Upload.MaxWorkers,
			Retries:        u.cfg.Upload.Retries,
			RetryBackoffMs: u.cfg.Upload.RetryBackoffMs,
		}, transfer.IsRetriable, u.logger)
	}
	return worker.Sequential{}
}

func (u *Uploader) newOrchestrator(b broker.Broker) *orchestrator.Orchestrator {
	return orchestrator.New(u.client, b, u.transferer,
		orchestrator.WithStrategy(u.newStrategy()),
		orchestrator.WithLedger(u.checkpoint),
		orchestrator.WithRecorder(u.metrics),
		orchestrator.WithLogger(u.logger),
	)
}

// Close cleans up resources
func (u *Uploader) Close() error {
	if u.checkpoint != nil {
		return u.checkpoint.Close()
	}
	return nil
}
