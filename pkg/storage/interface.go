package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// StorageBackend receives finished local files: mirrored files on the
// destination endpoint and the run log on its archive targets.
type StorageBackend interface {
	GetBackendType() BackendType
	UploadFile(ctx context.Context, filePath, key string, opts *UploadOptions) error
	Close() error
}

type UploadOptions struct {
	ContentType string `json:"content_type,omitempty"`
	// Overwrite replaces an existing object at key. Mirrored files never set it.
	Overwrite            bool `json:"overwrite"`
	EnableIntegrityCheck bool `json:"enable_integrity_check"`
	// Progress, when set, receives every byte sent.
	Progress io.Writer `json:"-"`
}

type BackendType string

const (
	BackendTypeS3   BackendType = "s3"
	BackendTypeSFTP BackendType = "sftp"
)

type StorageError struct {
	Type    ErrorType
	Message string
	Cause   error
}

type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeAccessDenied ErrorType = "access_denied"
	ErrorTypeNetworkError ErrorType = "network_error"
	ErrorTypeInternal     ErrorType = "internal_error"
	ErrorTypeInvalidInput ErrorType = "invalid_input"
)

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// IsStorageErrorType reports whether err carries a StorageError of type t.
func IsStorageErrorType(err error, t ErrorType) bool {
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		return false
	}
	return storageErr.Type == t
}
