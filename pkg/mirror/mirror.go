package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"

	"sftpmirror/pkg/config"
	"sftpmirror/pkg/logger"
	"sftpmirror/pkg/metrics"
	"sftpmirror/pkg/storage"
)

type Options struct {
	RunID           string
	SourceRoot      string
	DestinationRoot string
	StagingRoot     string
	// TransferCap ends the run once more than this many files were copied.
	// Negative disables it.
	TransferCap         int
	LegacyRelativePaths bool
	MaxDepth            int
	EnableResume        bool
	ShowProgress        bool
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SourceRoot:          cfg.Source.BaseDir,
		DestinationRoot:     cfg.Destination.BaseDir,
		StagingRoot:         cfg.Mirror.StagingDir,
		TransferCap:         cfg.Mirror.TransferCap,
		LegacyRelativePaths: cfg.Mirror.LegacyRelativePaths,
		MaxDepth:            cfg.Mirror.MaxDepth,
		EnableResume:        cfg.Mirror.EnableResume,
		ShowProgress:        cfg.Mirror.ShowProgress,
	}
}

// Mirror copies the files present under the source root but missing under
// the destination root, staging each one on the local filesystem.
type Mirror struct {
	source      storage.Client
	destination storage.Client
	staging     afero.Fs
	uploader    storage.StorageBackend
	local       *LocalEnsurer
	remote      *RemoteEnsurer
	opts        Options
	logger      *logger.Logger
	now         func() time.Time
}

func New(source, destination storage.Client, staging afero.Fs, opts Options, log *logger.Logger) *Mirror {
	if staging == nil {
		staging = afero.NewOsFs()
	}
	if log == nil {
		log = logger.Default()
	}
	return &Mirror{
		source:      source,
		destination: destination,
		staging:     staging,
		uploader:    storage.NewSFTPBackend(destination, staging, opts.EnableResume),
		local:       NewLocalEnsurer(staging),
		remote:      NewRemoteEnsurer(destination, opts.MaxDepth),
		opts:        opts,
		logger:      log,
		now:         time.Now,
	}
}

// Run performs one mirror pass. Listing failures abort the run before any
// transfer; per-file failures are recorded in the summary and the run goes
// on. The returned summary is never nil.
func (m *Mirror) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{RunID: m.opts.RunID, StartedAt: m.now()}

	err := m.run(ctx, summary)
	summary.Finish(err, m.now())
	return summary, err
}

func (m *Mirror) run(ctx context.Context, summary *Summary) error {
	m.logger.Info("retrieving the file list from the source directory", map[string]any{
		"dir": m.opts.SourceRoot,
	})
	sourceListing, err := m.list(ctx, m.source, m.opts.SourceRoot)
	if err != nil {
		return err
	}

	m.logger.Info("retrieving the file list from the destination directory", map[string]any{
		"dir": m.opts.DestinationRoot,
	})
	destinationListing, err := m.list(ctx, m.destination, m.opts.DestinationRoot)
	if err != nil {
		return err
	}

	pending := missing(sourceListing, destinationListing)
	summary.SourceFiles = len(sourceListing.Entries)
	summary.Pending = len(pending)
	summary.Skipped = summary.SourceFiles - summary.Pending
	metrics.FilesSkippedCounter.Add(float64(summary.Skipped))

	m.logger.Info("compared source and destination", map[string]any{
		"source_files":      summary.SourceFiles,
		"destination_files": len(destinationListing.Entries),
		"pending":           summary.Pending,
	})

	var staged []string
	var runErr error
	for _, entry := range pending {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("mirror interrupted: %w", err)
			break
		}

		record := m.transfer(ctx, entry)
		summary.record(record)
		if record.Outcome != OutcomeSuccess {
			metrics.FilesFailedCounter.Inc()
			continue
		}

		metrics.FilesCopiedCounter.Inc()
		staged = append(staged, record.StagingPath)
		if m.opts.TransferCap >= 0 && summary.Copied > m.opts.TransferCap {
			summary.CapReached = true
			m.logger.Info("transfer cap reached, stopping", map[string]any{
				"copied": summary.Copied,
				"cap":    m.opts.TransferCap,
			})
			break
		}
	}

	m.logger.Info(fmt.Sprintf("successfully copied %d files", summary.Copied), map[string]any{
		"failed": summary.Failed,
		"bytes":  summary.Bytes,
	})

	m.cleanup(staged, summary)
	return runErr
}

func (m *Mirror) list(ctx context.Context, client storage.Client, root string) (*Listing, error) {
	return ListFiles(ctx, client, root, ListOptions{
		LegacyRelativePaths: m.opts.LegacyRelativePaths,
		MaxDepth:            m.opts.MaxDepth,
		Logger:              m.logger,
	})
}

// missing returns the source entries whose relative path is absent from the
// destination, in source listing order.
func missing(source, destination *Listing) []Entry {
	present := destination.Keys()
	var pending []Entry
	for _, e := range source.Entries {
		if _, ok := present[relKey(e.RelPath)]; !ok {
			pending = append(pending, e)
		}
	}
	return pending
}

func (m *Mirror) transfer(ctx context.Context, entry Entry) TransferRecord {
	key := relKey(entry.RelPath)
	record := TransferRecord{
		SourcePath:      entry.AbsPath,
		StagingPath:     filepath.Join(m.opts.StagingRoot, filepath.FromSlash(key)),
		DestinationPath: path.Join(m.opts.DestinationRoot, key),
	}
	fields := map[string]any{
		"source":      record.SourcePath,
		"local":       record.StagingPath,
		"destination": record.DestinationPath,
	}

	fail := func(err error) TransferRecord {
		record.Outcome = OutcomeFailure
		record.Err = err
		m.logger.Error("failed to copy file", err, fields)
		return record
	}

	if err := m.local.EnsureFor(record.StagingPath); err != nil {
		return fail(err)
	}

	n, err := m.download(ctx, entry, record.StagingPath)
	if err != nil {
		m.discard(record.StagingPath)
		return fail(newError(ErrorTypeTransfer, "failed to download", record.SourcePath, err))
	}
	record.Bytes = n
	metrics.ReportBytes(metrics.DirectionDownload, n)
	m.logger.Info("successfully copied source to local", fields)

	if err := m.remote.EnsureFor(record.DestinationPath); err != nil {
		m.discard(record.StagingPath)
		return fail(err)
	}

	opts := &storage.UploadOptions{Progress: m.progress(n, "upload "+path.Base(key))}
	if err := m.uploader.UploadFile(ctx, record.StagingPath, record.DestinationPath, opts); err != nil {
		m.discard(record.StagingPath)
		return fail(newError(ErrorTypeTransfer, "failed to upload", record.DestinationPath, err))
	}
	metrics.ReportBytes(metrics.DirectionUpload, n)
	m.logger.Info("successfully copied local to destination", fields)

	record.Outcome = OutcomeSuccess
	return record
}

func (m *Mirror) download(ctx context.Context, entry Entry, stagingPath string) (int64, error) {
	src, err := m.source.Open(entry.AbsPath)
	if err != nil {
		return 0, fmt.Errorf("open source file: %w", err)
	}
	defer func() { _ = src.Close() }()

	dst, err := m.staging.Create(stagingPath)
	if err != nil {
		return 0, fmt.Errorf("create staging file: %w", err)
	}

	var in io.Reader = src
	if p := m.progress(entry.Size, "download "+path.Base(entry.AbsPath)); p != nil {
		in = io.TeeReader(src, p)
	}

	n, err := storage.CopyWithContext(ctx, dst, in)
	if err != nil {
		_ = dst.Close()
		return n, fmt.Errorf("copy file data: %w", err)
	}
	if err := dst.Close(); err != nil {
		return n, fmt.Errorf("close staging file: %w", err)
	}
	return n, nil
}

func (m *Mirror) progress(size int64, description string) io.Writer {
	if !m.opts.ShowProgress {
		return nil
	}
	return progressbar.DefaultBytes(size, description)
}

// discard removes a staged file left behind by a failed transfer.
func (m *Mirror) discard(stagingPath string) {
	err := m.staging.Remove(stagingPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Error("failed to remove staged file", err, map[string]any{
			"file_path": stagingPath,
		})
	}
}

func (m *Mirror) cleanup(staged []string, summary *Summary) {
	if len(staged) == 0 {
		return
	}

	m.logger.Info("removing files from local directory", map[string]any{
		"dir":   m.opts.StagingRoot,
		"count": len(staged),
	})

	for _, p := range staged {
		if err := m.staging.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			cleanupErr := newError(ErrorTypeCleanup, "failed to remove staged file", p, err)
			summary.CleanupErrors = append(summary.CleanupErrors, cleanupErr.Error())
			m.logger.Error("failed to remove staged file", err, map[string]any{
				"file_path": p,
			})
			continue
		}
		m.cleanupEmptyDirectories(filepath.Dir(p))
	}
}

// cleanupEmptyDirectories removes dirPath and its parents while they are
// empty, never going above the staging root.
func (m *Mirror) cleanupEmptyDirectories(dirPath string) {
	root := filepath.Clean(m.opts.StagingRoot)
	for dirPath = filepath.Clean(dirPath); dirPath != root && len(dirPath) > len(root); dirPath = filepath.Dir(dirPath) {
		empty, err := afero.IsEmpty(m.staging, dirPath)
		if err != nil || !empty {
			return
		}
		if err := m.staging.Remove(dirPath); err != nil {
			return
		}
		m.logger.Debug("removed empty directory", map[string]any{
			"dir_path": dirPath,
		})
	}
}
