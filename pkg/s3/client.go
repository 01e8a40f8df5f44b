// Package s3 builds the client used to archive run logs.
package s3

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"sftpmirror/pkg/config"
)

// NewArchiveClient returns a path-style client for an S3-compatible log
// archive. Request deadlines come from the caller's context.
func NewArchiveClient(cfg *config.S3Config) (*s3.S3, error) {
	sess, err := session.NewSession(&aws.Config{
		Region:           aws.String(cfg.Region),
		Endpoint:         aws.String(cfg.Endpoint),
		S3ForcePathStyle: aws.Bool(true),
		MaxRetries:       aws.Int(cfg.MaxRetries),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 session: %w", err)
	}
	return s3.New(sess), nil
}
