package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sftpmirror/pkg/logger"
	"sftpmirror/pkg/storage/storagetest"
)

type fixture struct {
	source      *storagetest.MemClient
	destination *storagetest.MemClient
	staging     afero.Fs
	opts        Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		source:      storagetest.NewMemClient(),
		destination: storagetest.NewMemClient(),
		staging:     afero.NewMemMapFs(),
		opts: Options{
			RunID:           "test-run",
			SourceRoot:      "/src",
			DestinationRoot: "/dst",
			StagingRoot:     "/staging",
			TransferCap:     -1,
			MaxDepth:        64,
			EnableResume:    true,
		},
	}
	require.NoError(t, f.source.Fs.MkdirAll("/src", 0o755))
	require.NoError(t, f.destination.Fs.MkdirAll("/dst", 0o755))
	return f
}

func (f *fixture) run(t *testing.T, ctx context.Context) (*Summary, error) {
	t.Helper()
	m := New(f.source, f.destination, f.staging, f.opts, logger.New(io.Discard))
	summary, err := m.Run(ctx)
	require.NotNil(t, summary)
	return summary, err
}

func (f *fixture) stagedFiles(t *testing.T) []string {
	t.Helper()
	var files []string
	_ = afero.Walk(f.staging, "/", func(p string, info os.FileInfo, err error) error {
		if err == nil && info.Mode().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	return files
}

func TestMirrorCopiesMissingFiles(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.source.WriteFile("/src/a.txt", "alpha"))
	require.NoError(t, f.source.WriteFile("/src/sub/b.txt", "bravo"))
	require.NoError(t, f.source.WriteFile("/src/sub/deep/c.txt", "charlie"))
	require.NoError(t, f.destination.WriteFile("/dst/a.txt", "an older alpha"))

	summary, err := f.run(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.SourceFiles)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 2, summary.Copied)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, int64(len("bravo")+len("charlie")), summary.Bytes)
	assert.Equal(t, StatusSuccess, summary.Status)
	assert.Equal(t, "test-run", summary.RunID)
	assert.NoError(t, summary.Err())

	content, err := f.destination.ReadFile("/dst/sub/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "bravo", content)
	content, err = f.destination.ReadFile("/dst/sub/deep/c.txt")
	require.NoError(t, err)
	assert.Equal(t, "charlie", content)

	// presence is the only criterion, existing files are never rewritten
	content, err = f.destination.ReadFile("/dst/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "an older alpha", content)

	require.Len(t, summary.Records, 2)
	assert.Equal(t, TransferRecord{
		SourcePath:      "/src/sub/b.txt",
		StagingPath:     "/staging/sub/b.txt",
		DestinationPath: "/dst/sub/b.txt",
		Outcome:         OutcomeSuccess,
		Bytes:           5,
	}, summary.Records[0])

	assert.Empty(t, f.stagedFiles(t))
	exists, _ := afero.Exists(f.staging, "/staging/sub")
	assert.False(t, exists)
}

func TestMirrorIsIdempotent(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 4; i++ {
		require.NoError(t, f.source.WriteFile(fmt.Sprintf("/src/d%d/f.txt", i), "data"))
	}

	first, err := f.run(t, context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, first.Copied)

	f.destination.ResetOps()
	second, err := f.run(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, second.Pending)
	assert.Equal(t, 0, second.Copied)
	assert.Equal(t, 4, second.Skipped)
	for _, op := range f.destination.Ops() {
		assert.Regexp(t, `^ReadDir `, op)
	}
}

func TestMirrorTransferCap(t *testing.T) {
	tests := []struct {
		name       string
		cap        int
		files      int
		copied     int
		capReached bool
	}{
		{"disabled", -1, 15, 15, false},
		{"default cap", 10, 15, 11, true},
		{"fewer files than cap", 10, 5, 5, false},
		{"exactly one over", 10, 11, 11, true},
		{"zero cap", 0, 3, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.opts.TransferCap = tt.cap
			for i := 0; i < tt.files; i++ {
				require.NoError(t, f.source.WriteFile(fmt.Sprintf("/src/f%02d.txt", i), "x"))
			}

			summary, err := f.run(t, context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.copied, summary.Copied)
			assert.Equal(t, tt.capReached, summary.CapReached)
			assert.Equal(t, tt.files, summary.Pending)
			assert.Empty(t, f.stagedFiles(t))
		})
	}
}

func TestMirrorCapResumesOnNextRun(t *testing.T) {
	f := newFixture(t)
	f.opts.TransferCap = 10
	for i := 0; i < 15; i++ {
		require.NoError(t, f.source.WriteFile(fmt.Sprintf("/src/f%02d.txt", i), "x"))
	}

	first, err := f.run(t, context.Background())
	require.NoError(t, err)
	assert.Equal(t, 11, first.Copied)

	second, err := f.run(t, context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, second.Copied)
	assert.False(t, second.CapReached)
	assert.Equal(t, 11, second.Skipped)
}

func TestMirrorFailuresDoNotCountTowardCap(t *testing.T) {
	f := newFixture(t)
	f.opts.TransferCap = 1
	require.NoError(t, f.source.WriteFile("/src/a.txt", "a"))
	require.NoError(t, f.source.WriteFile("/src/b.txt", "b"))
	require.NoError(t, f.source.WriteFile("/src/c.txt", "c"))
	f.source.FailOn("Open", "/src/a.txt", errors.New("connection reset"))

	summary, err := f.run(t, context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, summary.Copied)
	assert.True(t, summary.CapReached)
	assert.Equal(t, StatusPartial, summary.Status)
}

func TestMirrorListingFailureAbortsBeforeTransfers(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{"source", func(f *fixture) {
			f.source.FailOn("ReadDir", "/src/sub", errors.New("permission denied"))
		}},
		{"destination", func(f *fixture) {
			f.destination.FailOn("ReadDir", "/dst", errors.New("permission denied"))
		}},
		{"missing destination root", func(f *fixture) {
			f.opts.DestinationRoot = "/nope"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.source.WriteFile("/src/a.txt", "a"))
			require.NoError(t, f.source.WriteFile("/src/sub/b.txt", "b"))
			tt.setup(f)

			summary, err := f.run(t, context.Background())
			require.Error(t, err)
			assert.True(t, IsType(err, ErrorTypeListing), "got %v", err)
			assert.Equal(t, StatusListingFailed, summary.Status)
			assert.Equal(t, 0, summary.Copied)
			assert.Empty(t, summary.Records)
			assert.NotEmpty(t, summary.RunError)

			for _, op := range f.destination.Ops() {
				assert.Regexp(t, `^ReadDir `, op)
			}
			assert.Empty(t, f.stagedFiles(t))
		})
	}
}

func TestMirrorDownloadFailureContinues(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.source.WriteFile("/src/a.txt", "alpha"))
	require.NoError(t, f.source.WriteFile("/src/b.txt", "bravo"))
	f.source.FailOn("Open", "/src/a.txt", errors.New("connection reset"))

	summary, err := f.run(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Copied)
	assert.Equal(t, StatusPartial, summary.Status)
	assert.True(t, IsType(summary.Err(), ErrorTypeTransfer))
	assert.Contains(t, summary.Records[0].Error, "connection reset")

	assert.False(t, f.destination.Exists("/dst/a.txt"))
	assert.True(t, f.destination.Exists("/dst/b.txt"))
	assert.Empty(t, f.stagedFiles(t))
}

func TestMirrorUploadFailureRemovesStagedFile(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.source.WriteFile("/src/a.txt", "alpha"))
	tempKey := fmt.Sprintf("/dst/.a.txt.%016x", xxhash.Sum64String("alpha"))
	f.destination.FailOn("Rename", tempKey, errors.New("disk full"))

	summary, err := f.run(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.True(t, IsType(summary.Err(), ErrorTypeTransfer))
	assert.False(t, f.destination.Exists("/dst/a.txt"))
	assert.Empty(t, f.stagedFiles(t))
}

func TestMirrorDirectoryCreationFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.source.WriteFile("/src/sub/a.txt", "alpha"))
	require.NoError(t, f.source.WriteFile("/src/b.txt", "bravo"))
	// a plain file where the destination needs a directory
	require.NoError(t, f.destination.WriteFile("/dst/sub", "in the way"))

	summary, err := f.run(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Copied)
	assert.True(t, IsType(summary.Err(), ErrorTypeDirectoryCreation))
	assert.Empty(t, f.stagedFiles(t))
}

func TestMirrorLegacyRelativePaths(t *testing.T) {
	f := newFixture(t)
	f.opts.LegacyRelativePaths = true
	f.opts.SourceRoot = "/src/"
	require.NoError(t, f.source.WriteFile("/src/a.txt", "alpha"))
	require.NoError(t, f.source.WriteFile("/src/sub/b.txt", "bravo"))
	require.NoError(t, f.destination.WriteFile("/dst/a.txt", "alpha"))

	summary, err := f.run(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Copied)
	assert.True(t, f.destination.Exists("/dst/sub/b.txt"))
}

func TestMirrorLegacyRelativeRootsConverge(t *testing.T) {
	f := newFixture(t)
	f.opts.LegacyRelativePaths = true
	f.opts.SourceRoot = "./src"
	f.opts.DestinationRoot = "./dst"
	require.NoError(t, f.source.WriteFile("src/a.txt", "alpha"))
	require.NoError(t, f.source.WriteFile("src/sub/b.txt", "bravo"))
	require.NoError(t, f.destination.Fs.MkdirAll("dst", 0o755))

	summary, err := f.run(t, context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Copied)
	require.Len(t, summary.Records, 2)
	assert.Equal(t, "dst/a.txt", summary.Records[0].DestinationPath)
	assert.True(t, f.destination.Exists("dst/sub/b.txt"))
	assert.False(t, f.destination.Exists("dst/src/a.txt"))

	summary, err = f.run(t, context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 0, summary.Copied)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, StatusSuccess, summary.Status)
}

type failingRemoveFs struct {
	afero.Fs
}

func (failingRemoveFs) Remove(name string) error {
	return &os.PathError{Op: "remove", Path: name, Err: os.ErrPermission}
}

func TestMirrorCleanupFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.staging = failingRemoveFs{afero.NewMemMapFs()}
	require.NoError(t, f.source.WriteFile("/src/a.txt", "alpha"))
	require.NoError(t, f.source.WriteFile("/src/b.txt", "bravo"))

	summary, err := f.run(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Copied)
	assert.Equal(t, StatusSuccess, summary.Status)
	require.Len(t, summary.CleanupErrors, 2)
	assert.Contains(t, summary.CleanupErrors[0], "cleanup")
}

func TestMirrorCancelledContext(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.source.WriteFile("/src/a.txt", "alpha"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := f.run(t, ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusFailed, summary.Status)
	assert.Equal(t, 0, summary.Copied)
}
