package artifact

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/offertracker/internal/pkg/logger"
)

// S3Config describes the optional artifact upload target.
type S3Config struct {
	Bucket string
	Prefix string // e.g. "offertracker/runs/"
	Region string
}

// S3Uploader mirrors finished run artifacts into an S3 bucket so runs on
// throwaway machines still leave a durable trail.
type S3Uploader struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Uploader loads the default AWS credential chain and verifies the
// bucket is reachable. A failed bucket check logs and continues; the
// bucket may simply not exist yet.
func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
		if region == "" {
			region = "us-east-1"
		}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("artifact: loading aws config: %w", err)
	}

	u := &S3Uploader{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}
	if _, err := u.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		logger.Warn("s3 bucket access check failed", "bucket", cfg.Bucket, "error", err.Error())
	}
	return u, nil
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case ".md":
		return "text/markdown"
	default:
		return "application/octet-stream"
	}
}

// UploadFile pushes one local artifact and returns its object key.
func (u *S3Uploader) UploadFile(ctx context.Context, runID, localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("artifact: reading %s for upload: %w", localPath, err)
	}
	key := u.prefix + runID + "/" + filepath.Base(localPath)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentTypeFor(localPath)),
	})
	if err != nil {
		return "", fmt.Errorf("artifact: uploading %s: %w", key, err)
	}
	return key, nil
}

// UploadArtifacts pushes every recorded artifact path; per-file failures
// are logged and skipped so one bad upload never loses the rest.
func (u *S3Uploader) UploadArtifacts(ctx context.Context, runID string, artifacts map[string]string) map[string]string {
	keys := make(map[string]string, len(artifacts))
	for name, path := range artifacts {
		if path == "" {
			continue
		}
		key, err := u.UploadFile(ctx, runID, path)
		if err != nil {
			logger.Warn("artifact upload failed", "artifact", name, "error", err.Error())
			continue
		}
		keys[name] = key
	}
	return keys
}
