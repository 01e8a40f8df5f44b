package storage

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"sftpmirror/pkg/config"
)

const defaultS3UploadTimeout = 5 * time.Minute

// S3Backend archives local files (the run log) into a bucket.
type S3Backend struct {
	client s3iface.S3API
	bucket string
	prefix string
	config *config.S3Config
}

func NewS3Backend(client s3iface.S3API, cfg *config.S3Config) *S3Backend {
	return &S3Backend{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		config: cfg,
	}
}

func (s *S3Backend) GetBackendType() BackendType {
	return BackendTypeS3
}

func (s *S3Backend) Close() error {
	return nil
}

func (s *S3Backend) objectKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

func (s *S3Backend) UploadFile(ctx context.Context, filePath, key string, opts *UploadOptions) error {
	if opts == nil {
		opts = &UploadOptions{}
	}

	file, err := os.Open(filePath)
	if err != nil {
		return &StorageError{
			Type:    ErrorTypeInvalidInput,
			Message: "failed to open file",
			Cause:   err,
		}
	}
	defer func() {
		_ = file.Close()
	}()

	var contentMD5 string
	if opts.EnableIntegrityCheck {
		contentMD5, err = s.calculateFileMD5(file)
		if err != nil {
			return &StorageError{
				Type:    ErrorTypeInternal,
				Message: "failed to calculate file MD5",
				Cause:   err,
			}
		}

		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return &StorageError{
				Type:    ErrorTypeInternal,
				Message: "failed to reset file pointer",
				Cause:   err,
			}
		}
	}

	timeout := time.Duration(s.config.UploadTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultS3UploadTimeout
	}
	uploadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	putInput := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   file,
	}
	if opts.ContentType != "" {
		putInput.ContentType = aws.String(opts.ContentType)
	}
	if contentMD5 != "" {
		putInput.ContentMD5 = aws.String(contentMD5)
	}

	if _, err := s.client.PutObjectWithContext(uploadCtx, putInput); err != nil {
		return s.convertS3Error(err)
	}

	return nil
}

func (s *S3Backend) calculateFileMD5(file *os.File) (string, error) {
	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(hash.Sum(nil)), nil
}

func (s *S3Backend) convertS3Error(err error) error {
	if err == nil {
		return nil
	}

	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case "NoSuchBucket", "NoSuchKey", "NotFound":
			return &StorageError{
				Type:    ErrorTypeNotFound,
				Message: "resource not found",
				Cause:   err,
			}
		case "AccessDenied", "Forbidden":
			return &StorageError{
				Type:    ErrorTypeAccessDenied,
				Message: "access denied",
				Cause:   err,
			}
		case "RequestTimeout", "ServiceUnavailable", "Throttling", "ThrottlingException":
			return &StorageError{
				Type:    ErrorTypeNetworkError,
				Message: "service temporarily unavailable",
				Cause:   err,
			}
		default:
			if strings.Contains(strings.ToLower(aerr.Message()), "timeout") {
				return &StorageError{
					Type:    ErrorTypeNetworkError,
					Message: "request timeout",
					Cause:   err,
				}
			}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &StorageError{
			Type:    ErrorTypeNetworkError,
			Message: "upload timeout",
			Cause:   err,
		}
	}

	return &StorageError{
		Type:    ErrorTypeInternal,
		Message: "internal storage error",
		Cause:   err,
	}
}
