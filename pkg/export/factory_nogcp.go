//go:build !gcp

package export

import (
	"context"
	"fmt"
)

func newGCSArchiver(ctx context.Context, cfg Config) (Archiver, error) {
	return nil, fmt.Errorf("export: gcs provider requires building with -tags gcp")
}
