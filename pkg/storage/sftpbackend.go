package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
)

// SFTPBackend uploads local files to an SFTP endpoint atomically: data goes
// to a hidden temporary key next to the target and is renamed into place
// once complete. Parent directories must already exist.
type SFTPBackend struct {
	client       Client
	local        afero.Fs
	enableResume bool
}

func NewSFTPBackend(client Client, local afero.Fs, enableResume bool) *SFTPBackend {
	if local == nil {
		local = afero.NewOsFs()
	}
	return &SFTPBackend{
		client:       client,
		local:        local,
		enableResume: enableResume,
	}
}

func (s *SFTPBackend) GetBackendType() BackendType {
	return BackendTypeSFTP
}

// Close closes the underlying client.
func (s *SFTPBackend) Close() error {
	return s.client.Close()
}

func (s *SFTPBackend) UploadFile(ctx context.Context, filePath, key string, opts *UploadOptions) error {
	if opts == nil {
		opts = &UploadOptions{}
	}

	if opts.Overwrite {
		exists, err := s.remoteExists(key)
		if err != nil {
			return fmt.Errorf("check file exists: %w", err)
		}
		if exists {
			if err := s.client.Remove(path.Clean(key)); err != nil {
				return fmt.Errorf("remove file: %w", err)
			}
		}
	}

	localSize, err := s.getLocalFileSize(filePath)
	if err != nil {
		return fmt.Errorf("get local file size: %w", err)
	}

	fileHash, err := s.calculateFileHash(filePath)
	if err != nil {
		return fmt.Errorf("calculate file hash: %w", err)
	}
	tempKey := generateTempKey(key, fileHash)
	remoteSize, exists, err := s.getRemoteFileSize(tempKey)
	if err != nil {
		return fmt.Errorf("get remote file size: %w", err)
	}

	startOffset := int64(0)
	skipUpload := false
	if s.enableResume && exists {
		if remoteSize == localSize {
			skipUpload = true
		} else if remoteSize > 0 && remoteSize < localSize {
			startOffset = remoteSize
		}
	}

	if !skipUpload {
		if err := s.uploadWithResume(ctx, filePath, tempKey, startOffset, opts.Progress); err != nil {
			return fmt.Errorf("upload with resume: %w", err)
		}
	}

	if err := s.client.Rename(path.Clean(tempKey), path.Clean(key)); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

func (s *SFTPBackend) remoteExists(key string) (bool, error) {
	_, exists, err := s.getRemoteFileSize(key)
	return exists, err
}

func (s *SFTPBackend) calculateFileHash(filePath string) (string, error) {
	file, err := s.local.Open(filePath)
	if err != nil {
		return "", err
	}
	defer func() { _ = file.Close() }()

	h := xxhash.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", err
	}

	return fmt.Sprintf("%016x", h.Sum64()), nil
}

func (s *SFTPBackend) getLocalFileSize(filePath string) (int64, error) {
	stat, err := s.local.Stat(filePath)
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}

func (s *SFTPBackend) getRemoteFileSize(remoteKey string) (int64, bool, error) {
	stat, err := s.client.Stat(path.Clean(remoteKey))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("stat remote file: %w", err)
	}

	return stat.Size(), true, nil
}

func generateTempKey(key, hash string) string {
	dir := path.Dir(key)
	filename := path.Base(key)
	tempFilename := fmt.Sprintf(".%s.%s", filename, hash)

	if dir == "." {
		return tempFilename
	}
	return path.Join(dir, tempFilename)
}

func (s *SFTPBackend) uploadWithResume(ctx context.Context, filePath, tempKey string, startOffset int64, progress io.Writer) error {
	remotePath := path.Clean(tempKey)

	localFile, err := s.local.Open(filePath)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer func() { _ = localFile.Close() }()

	if startOffset > 0 {
		if _, err := localFile.Seek(startOffset, io.SeekStart); err != nil {
			return fmt.Errorf("seek local file: %w", err)
		}
	}

	var remoteFile io.WriteCloser
	if startOffset > 0 {
		remoteFile, err = s.client.OpenFile(remotePath, os.O_WRONLY|os.O_APPEND)
	} else {
		remoteFile, err = s.client.Create(remotePath)
	}
	if err != nil {
		return fmt.Errorf("open remote file: %w", err)
	}

	var src io.Reader = localFile
	if progress != nil {
		src = io.TeeReader(localFile, progress)
	}

	if _, err := CopyWithContext(ctx, remoteFile, src); err != nil {
		_ = remoteFile.Close()
		return fmt.Errorf("copy file data: %w", err)
	}

	if err := remoteFile.Close(); err != nil {
		return fmt.Errorf("close remote file: %w", err)
	}
	return nil
}

type readerFunc func(p []byte) (n int, err error)

func (rf readerFunc) Read(p []byte) (n int, err error) { return rf(p) }

// CopyWithContext is io.Copy that stops between reads once ctx is done.
func CopyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, readerFunc(func(p []byte) (int, error) {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
			return src.Read(p)
		}
	}))
}
