//go:build gcp

package export

import "context"

func newGCSArchiver(ctx context.Context, cfg Config) (Archiver, error) {
	return NewGCSArchiver(ctx, GCSArchiverConfig{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
}
