package run

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"sftpmirror/pkg/config"
	"sftpmirror/pkg/logger"
	"sftpmirror/pkg/metrics"
	"sftpmirror/pkg/mirror"
	"sftpmirror/pkg/storage"
)

const (
	ExitOK         = 0
	ExitInternal   = 1
	ExitPartial    = 2
	ExitConnection = 3
	ExitListing    = 4

	shipTimeout = 5 * time.Minute
)

// DialFunc opens a session with one endpoint.
type DialFunc func(ctx context.Context, cfg *config.EndpointConfig) (storage.Client, error)

// ArchiveFunc builds the backend the run log is archived to when log.s3 is set.
type ArchiveFunc func(cfg *config.S3Config) (storage.StorageBackend, error)

type Options struct {
	Dial        DialFunc
	Archive     ArchiveFunc
	Staging     afero.Fs
	Console     io.Writer
	CommandLine []string
	Now         func() time.Time
}

func DialSFTP(ctx context.Context, cfg *config.EndpointConfig) (storage.Client, error) {
	return storage.Dial(ctx, cfg)
}

func createS3Archive(cfg *config.S3Config) (storage.StorageBackend, error) {
	return storage.NewStorageFactory().CreateS3Backend(cfg)
}

func (o *Options) setDefaults() {
	if o.Dial == nil {
		o.Dial = DialSFTP
	}
	if o.Archive == nil {
		o.Archive = createS3Archive
	}
	if o.Staging == nil {
		o.Staging = afero.NewOsFs()
	}
	if o.Console == nil {
		o.Console = os.Stdout
	}
	if o.CommandLine == nil {
		o.CommandLine = os.Args
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Execute performs one complete run: it opens the day's run log, connects to
// both endpoints, mirrors, and ships the run log to the destination. The log
// is shipped whatever the outcome of the mirror. A nil summary means the run
// could not start at all.
func Execute(ctx context.Context, cfg *config.Config, opts Options) (*mirror.Summary, error) {
	opts.setDefaults()

	started := opts.Now()
	runID := uuid.NewString()

	runLog, err := logger.OpenRunLog(cfg.Log.Dir, cfg.Log.FilePrefix, started)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	defer func() { _ = runLog.Close() }()

	log := runLog.Tee(opts.Console, logger.ParseLevel(cfg.Log.Level)).With(map[string]any{
		"run_id": runID,
	})

	log.Info("program started", map[string]any{
		"command_line": strings.Join(opts.CommandLine, " "),
	})

	summary, runErr := mirrorOnce(ctx, cfg, opts, runID, log)

	fields := map[string]any{
		"status":   string(summary.Status),
		"copied":   summary.Copied,
		"failed":   summary.Failed,
		"skipped":  summary.Skipped,
		"duration": summary.Duration().String(),
	}
	if runErr != nil {
		log.Error("run failed", runErr, fields)
	}
	log.Info("program ended", fields)

	metrics.ReportRun(string(summary.Status), summary.Duration().Seconds())

	if cfg.Log.Ship {
		shipLog(ctx, cfg, opts, runLog, log)
	}

	return summary, runErr
}

func mirrorOnce(ctx context.Context, cfg *config.Config, opts Options, runID string, log *logger.Logger) (*mirror.Summary, error) {
	failed := func(err error) (*mirror.Summary, error) {
		summary := &mirror.Summary{RunID: runID, StartedAt: opts.Now()}
		summary.Finish(err, opts.Now())
		return summary, err
	}

	log.Info("connecting to source", map[string]any{"addr": cfg.Source.Addr()})
	source, err := opts.Dial(ctx, &cfg.Source)
	if err != nil {
		return failed(mirror.NewConnectionError("source "+cfg.Source.Addr(), err))
	}
	defer closeClient(source, "source", log)

	log.Info("connecting to destination", map[string]any{"addr": cfg.Destination.Addr()})
	destination, err := opts.Dial(ctx, &cfg.Destination)
	if err != nil {
		return failed(mirror.NewConnectionError("destination "+cfg.Destination.Addr(), err))
	}
	defer closeClient(destination, "destination", log)

	mirrorOpts := mirror.OptionsFromConfig(cfg)
	mirrorOpts.RunID = runID

	m := mirror.New(source, destination, opts.Staging, mirrorOpts, log)
	return m.Run(ctx)
}

func closeClient(client storage.Client, name string, log *logger.Logger) {
	if err := client.Close(); err != nil {
		log.Warn("failed to close connection", map[string]any{
			"endpoint": name,
			"error":    err.Error(),
		})
	}
}

// shipLog uploads the run log over a fresh destination connection, and to S3
// when configured. Failures are only logged.
func shipLog(ctx context.Context, cfg *config.Config, opts Options, runLog *logger.RunLog, log *logger.Logger) {
	shipCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shipTimeout)
	defer cancel()

	shipDir := path.Join(cfg.Destination.BaseDir, cfg.Log.ShipDir)
	key := path.Join(shipDir, runLog.Name)
	log.Info("shipping run log", map[string]any{
		"local":       runLog.Path,
		"destination": key,
	})

	if err := runLog.Sync(); err != nil {
		log.Warn("failed to flush run log", map[string]any{"error": err.Error()})
	}

	if err := shipToDestination(shipCtx, cfg, opts, runLog.Path, shipDir, key); err != nil {
		log.Error("failed to ship run log to destination", err, map[string]any{
			"destination": key,
		})
	}

	if cfg.Log.S3 == nil {
		return
	}
	archive, err := opts.Archive(cfg.Log.S3)
	if err != nil {
		log.Error("failed to create log archive backend", err, nil)
		return
	}
	defer func() { _ = archive.Close() }()

	s3Key := path.Join(cfg.Log.ShipDir, runLog.Name)
	err = archive.UploadFile(shipCtx, runLog.Path, s3Key, &storage.UploadOptions{
		ContentType:          "text/plain",
		Overwrite:            true,
		EnableIntegrityCheck: true,
	})
	if err != nil {
		log.Error("failed to archive run log", err, map[string]any{
			"backend": string(archive.GetBackendType()),
			"key":     s3Key,
		})
	}
}

func shipToDestination(ctx context.Context, cfg *config.Config, opts Options, localPath, shipDir, key string) error {
	client, err := opts.Dial(ctx, &cfg.Destination)
	if err != nil {
		return mirror.NewConnectionError("destination "+cfg.Destination.Addr(), err)
	}
	defer func() { _ = client.Close() }()

	if err := mirror.NewRemoteEnsurer(client, cfg.Mirror.MaxDepth).EnsureDir(shipDir); err != nil {
		return err
	}

	backend, err := storage.NewStorageFactory().CreateSFTPBackend(client, afero.NewOsFs(), false)
	if err != nil {
		return err
	}
	return backend.UploadFile(ctx, localPath, key, &storage.UploadOptions{Overwrite: true})
}

// ExitCode maps the outcome of Execute to the process exit status.
func ExitCode(summary *mirror.Summary, err error) int {
	if summary == nil && err != nil {
		return ExitInternal
	}
	switch mirror.StatusOf(summary, err) {
	case mirror.StatusSuccess:
		return ExitOK
	case mirror.StatusPartial:
		return ExitPartial
	case mirror.StatusConnectionFailed:
		return ExitConnection
	case mirror.StatusListingFailed:
		return ExitListing
	default:
		return ExitInternal
	}
}
