package storage

import (
	"fmt"

	"github.com/spf13/afero"

	"sftpmirror/pkg/config"
	"sftpmirror/pkg/s3"
)

type StorageFactory struct{}

func NewStorageFactory() *StorageFactory {
	return &StorageFactory{}
}

func (f *StorageFactory) CreateS3Backend(cfg *config.S3Config) (StorageBackend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("S3 configuration is required")
	}

	s3Client, err := s3.NewArchiveClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return NewS3Backend(s3Client, cfg), nil
}

func (f *StorageFactory) CreateSFTPBackend(client Client, local afero.Fs, enableResume bool) (StorageBackend, error) {
	if client == nil {
		return nil, fmt.Errorf("SFTP client is required")
	}
	return NewSFTPBackend(client, local, enableResume), nil
}
