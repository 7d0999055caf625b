// Package artifacts archives run outputs (plans, deploy logs) to S3 so a run
// leaves an audit trail beyond the database row.
package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures the S3 archiver.
type S3Config struct {
	Bucket string
	Prefix string
	Region string
}

// S3Archiver uploads run artifacts to AWS S3. A nil archiver is valid and
// drops every upload; archival is optional.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Archiver loads AWS config and prepares an archiver.
func NewS3Archiver(ctx context.Context, cfg S3Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	loadOpts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	return &S3Archiver{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ArchivePlan uploads the run's plan as JSON and returns a s3:// URI.
func (a *S3Archiver) ArchivePlan(ctx context.Context, runID string, plan any) (string, error) {
	if a == nil {
		return "", nil
	}
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return "", err
	}
	return a.put(ctx, a.objectKey("runs", runID, "plan.json"), data, "application/json")
}

// ArchiveDeployLog uploads the captured deploy log excerpt and returns a
// s3:// URI.
func (a *S3Archiver) ArchiveDeployLog(ctx context.Context, runID string, attempt int, log string) (string, error) {
	if a == nil || log == "" {
		return "", nil
	}
	key := a.objectKey("runs", runID, fmt.Sprintf("deploy-%d.log", attempt))
	return a.put(ctx, key, []byte(log), "text/plain")
}

func (a *S3Archiver) put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &a.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}

func (a *S3Archiver) objectKey(parts ...string) string {
	if a.prefix == "" {
		return path.Join(parts...)
	}
	return path.Join(append([]string{a.prefix}, parts...)...)
}
