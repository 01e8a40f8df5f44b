package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sftpmirror/pkg/config"
)

type fakeS3 struct {
	s3iface.S3API
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, input *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	f.input = input
	if input.Body != nil {
		f.body, _ = io.ReadAll(input.Body)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func writeTempLog(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "run.log")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestS3BackendUploadFile(t *testing.T) {
	client := &fakeS3{}
	backend := NewS3Backend(client, &config.S3Config{Bucket: "archive", Prefix: "/mirror/"})

	logPath := writeTempLog(t, "time=x level=info msg=done\n")
	err := backend.UploadFile(context.Background(), logPath, "/logs/run.log", &UploadOptions{
		ContentType:          "text/plain",
		EnableIntegrityCheck: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "archive", aws.StringValue(client.input.Bucket))
	assert.Equal(t, "mirror/logs/run.log", aws.StringValue(client.input.Key))
	assert.Equal(t, "text/plain", aws.StringValue(client.input.ContentType))
	assert.NotEmpty(t, aws.StringValue(client.input.ContentMD5))
	assert.Equal(t, "time=x level=info msg=done\n", string(client.body))
}

func TestS3BackendConvertsErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorType
	}{
		{"access denied", awserr.New("AccessDenied", "denied", nil), ErrorTypeAccessDenied},
		{"missing bucket", awserr.New("NoSuchBucket", "gone", nil), ErrorTypeNotFound},
		{"throttled", awserr.New("Throttling", "slow down", nil), ErrorTypeNetworkError},
		{"deadline", context.DeadlineExceeded, ErrorTypeNetworkError},
		{"other", assert.AnError, ErrorTypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := NewS3Backend(&fakeS3{err: tt.err}, &config.S3Config{Bucket: "b"})
			err := backend.UploadFile(context.Background(), writeTempLog(t, "x"), "k", nil)
			assert.True(t, IsStorageErrorType(err, tt.expected), "got %v", err)
		})
	}
}

func TestS3BackendMissingLocalFile(t *testing.T) {
	backend := NewS3Backend(&fakeS3{}, &config.S3Config{Bucket: "b"})
	err := backend.UploadFile(context.Background(), filepath.Join(t.TempDir(), "nope"), "k", nil)
	assert.True(t, IsStorageErrorType(err, ErrorTypeInvalidInput))
}
