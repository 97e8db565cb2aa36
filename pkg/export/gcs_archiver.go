//go:build gcp

package export

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"

	"github.com/chainguard/core/pkg/contracts"
)

// GCSArchiverConfig configures the GCS archiver.
type GCSArchiverConfig struct {
	Bucket string
	Prefix string
}

// GCSArchiver writes audit batches to Google Cloud Storage. Kept behind the
// gcp build tag so deployments that never use GCS don't pull in its client
// by default, split the same way the always-on S3 archiver is split from
// this gcp-tagged one.
type GCSArchiver struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCSArchiver(ctx context.Context, cfg GCSArchiverConfig) (*GCSArchiver, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("export: create GCS client: %w", err)
	}
	return &GCSArchiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (a *GCSArchiver) Archive(ctx context.Context, entries []contracts.AuditEntry) (string, error) {
	batch, err := NewBatch(a.prefix, entries)
	if err != nil {
		return "", err
	}

	obj := a.client.Bucket(a.bucket).Object(batch.Key)
	if _, err := obj.Attrs(ctx); err == nil {
		return batch.Key, nil
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		return "", fmt.Errorf("export: gcs attrs: %w", err)
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(batch.Body); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("export: gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("export: gcs close failed: %w", err)
	}
	return batch.Key, nil
}

func (a *GCSArchiver) Close() error {
	return a.client.Close()
}
