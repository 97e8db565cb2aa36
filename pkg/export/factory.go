package export

import (
	"context"
	"fmt"
)

// Config is the provider-agnostic configuration accepted by NewArchiver.
// Endpoint is only meaningful for the s3 provider (MinIO/LocalStack).
type Config struct {
	Provider string // "s3" or "gcs"
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// NewArchiver builds the Archiver named by cfg.Provider. "gcs" requires the
// binary to be built with -tags gcp; without that tag it returns an error
// rather than silently downgrading to a different provider.
func NewArchiver(ctx context.Context, cfg Config) (Archiver, error) {
	switch cfg.Provider {
	case "s3":
		return NewS3Archiver(ctx, S3ArchiverConfig{
			Bucket:   cfg.Bucket,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
			Prefix:   cfg.Prefix,
		})
	case "gcs":
		return newGCSArchiver(ctx, cfg)
	default:
		return nil, fmt.Errorf("export: unrecognized provider %q", cfg.Provider)
	}
}
