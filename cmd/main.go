package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"s3syncdash/internal/app"
	"s3syncdash/internal/config"
	"s3syncdash/internal/logger"
	"s3syncdash/internal/model"
	"s3syncdash/internal/orchestrator"
	"s3syncdash/internal/progress"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:           "s3syncdash",
	Short:         "Upload local folders to S3-compatible storage through the upload dashboard",
	Long:          `Creates upload sessions on the dashboard API, transfers files with presigned URLs, and reports session status.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Create a session for a folder and upload its files",
	Args:  cobra.NoArgs,
	RunE:  runUpload,
}

var watchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Poll a session until it completes or fails",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

var retryCmd = &cobra.Command{
	Use:   "retry <session-id>",
	Short: "Re-attempt the files recorded as failed for a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runRetry,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that the destination bucket is reachable and inspect the prefix",
	Args:  cobra.NoArgs,
	RunE:  runVerify,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (YAML)")
	pf.String("api-url", "http://localhost:8000", "Dashboard API base URL")
	pf.String("token", "", "Bearer token for the dashboard API")
	pf.Duration("api-timeout", 0, "Timeout for API requests")
	pf.String("broker", config.BrokerAPI, "How presigned URLs are obtained (api/s3/minio)")
	pf.Duration("expires-in", 0, "Expiry of locally signed URLs")
	pf.String("s3-region", "", "Storage region when the project has none")
	pf.String("s3-profile", "", "Shared AWS profile for s3 signing")
	pf.String("s3-endpoint", "", "S3-compatible endpoint")
	pf.String("s3-access-key", "", "Storage access key")
	pf.String("s3-secret-key", "", "Storage secret key")
	pf.Bool("s3-secure", true, "Use HTTPS for the storage endpoint")
	pf.String("checkpoint", "./uploads.db", "Outcome ledger database file")
	pf.String("metrics-addr", "", "Serve prometheus metrics on this address")
	pf.String("log-level", "info", "Log level (debug/info/warn/error)")
	pf.String("log-format", "console", "Log format (console/json)")

	for _, cmd := range []*cobra.Command{uploadCmd, retryCmd} {
		f := cmd.Flags()
		f.String("strategy", config.StrategySequential, "Transfer strategy (sequential/parallel)")
		f.Int("workers", 1, "Parallel transfers for the parallel strategy")
		f.Int("retries", 3, "Retries per file for the parallel strategy")
		f.Int("retry-backoff-ms", 500, "Initial retry backoff in milliseconds")
		f.Bool("show-progress", true, "Show progress display")
	}

	uf := uploadCmd.Flags()
	uf.Int64("project", 0, "Project id (required)")
	uf.Int64("cycle", 0, "Cycle id (required)")
	uf.String("dir", "", "Folder to upload (required)")
	uf.String("prefix", "", "Destination prefix (default is the cycle prefix)")
	uf.String("profile", "default", "Storage profile recorded on the session")
	uf.Bool("use-find", false, "Enumerate files with the find command")
	uf.StringSlice("ext", nil, "Only upload files with these extensions")

	watchCmd.Flags().Duration("interval", 0, "Polling interval")

	vf := verifyCmd.Flags()
	vf.Int64("project", 0, "Project id (required)")
	vf.Int64("cycle", 0, "Cycle id whose prefix is inspected")
	vf.String("prefix", "", "Prefix to inspect")

	rootCmd.AddCommand(uploadCmd, watchCmd, retryCmd, verifyCmd)
}

// setup loads configuration, builds the logger and the uploader, and returns a
// context cancelled on SIGINT/SIGTERM
func setup(cmd *cobra.Command) (context.Context, *app.Uploader, *zap.Logger, func(), error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	uploader, err := app.New(cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, nil, nil, nil, fmt.Errorf("failed to create uploader: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			log.Info("Received shutdown signal, stopping...")
			cancel()
		case <-ctx.Done():
		}
	}()

	cleanup := func() {
		signal.Stop(sigChan)
		cancel()
		if err := uploader.Close(); err != nil {
			log.Error("Error closing uploader", zap.Error(err))
		}
		_ = log.Sync()
	}

	return ctx, uploader, log, cleanup, nil
}

func parseSessionID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid session id %q", arg)
	}
	return id, nil
}

func printSummary(res *orchestrator.Result) {
	if res == nil {
		return
	}
	fmt.Printf("session %d: %s, %d uploaded, %d failed, %s of %s\n",
		res.Session.ID, res.Status, res.Uploaded, res.Failed,
		progress.FormatBytes(res.UploadedBytes), progress.FormatBytes(res.TotalBytes))
}

func runUpload(cmd *cobra.Command, _ []string) error {
	ctx, uploader, log, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := uploader.Upload(ctx)
	printSummary(res)

	var recErr *orchestrator.ReconciliationError
	if errors.As(err, &recErr) {
		log.Error("Session status is unknown, verify it on the dashboard", zap.Int64("session_id", recErr.SessionID))
	}
	if err != nil {
		return err
	}
	if res.Status == model.SessionFailed {
		return fmt.Errorf("session %d failed: no file was uploaded", res.Session.ID)
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	id, err := parseSessionID(args[0])
	if err != nil {
		return err
	}

	ctx, uploader, _, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	session, err := uploader.Watch(ctx, id)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return err
	}
	if session != nil && session.Status == model.SessionFailed {
		return fmt.Errorf("session %d failed", id)
	}
	return nil
}

func runRetry(cmd *cobra.Command, args []string) error {
	id, err := parseSessionID(args[0])
	if err != nil {
		return err
	}

	ctx, uploader, _, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := uploader.Retry(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("session %d: %d recovered, %d still failed (status %s)\n", id, res.Uploaded, res.Failed, res.Status)
	return nil
}

func runVerify(cmd *cobra.Command, _ []string) error {
	ctx, uploader, _, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := uploader.Verify(ctx)
	if err != nil {
		return err
	}
	if !report.Exists {
		return fmt.Errorf("bucket %s does not exist or is not accessible", report.Bucket)
	}
	fmt.Printf("bucket %s is reachable; prefix %q holds %d objects (%s)\n",
		report.Bucket, report.Prefix, report.Objects, progress.FormatBytes(report.Bytes))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
