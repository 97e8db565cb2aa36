package export

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/chainguard/core/pkg/contracts"
)

// S3ArchiverConfig holds a bucket plus an optional custom endpoint and
// path-style addressing for MinIO/LocalStack in development, and an
// optional key prefix for multi-tenant buckets.
type S3ArchiverConfig struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// S3Archiver writes audit batches to S3 (or an S3-compatible store).
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Archiver(ctx context.Context, cfg S3ArchiverConfig) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("export: S3 bucket is required")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("export: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Archiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Archive is idempotent: it HEADs the content-addressed key first and
// skips the PutObject entirely if the batch was already archived.
func (a *S3Archiver) Archive(ctx context.Context, entries []contracts.AuditEntry) (string, error) {
	batch, err := NewBatch(a.prefix, entries)
	if err != nil {
		return "", err
	}

	_, err = a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(batch.Key),
	})
	if err == nil {
		return batch.Key, nil
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(batch.Key),
		Body:        bytes.NewReader(batch.Body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("export: s3 put failed: %w", err)
	}
	return batch.Key, nil
}
