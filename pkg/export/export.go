// Package export archives audit entries to cold object storage, beyond
// the Postgres mirror pkg/audit writes for hot queries. An entry is
// archived as it stands when a batch is taken; an execution result
// attached to it afterwards is not re-archived. Content-
// addressed keys, an idempotent existence check before every write, and a
// build-tag split between the always-available S3 path and the optional
// GCS path.
package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/chainguard/core/pkg/contracts"
)

// Archiver writes a batch of audit entries to durable object storage and
// reports back the location it wrote to. Implementations must be
// idempotent: archiving the same batch twice must not create two objects.
type Archiver interface {
	Archive(ctx context.Context, entries []contracts.AuditEntry) (location string, err error)
}

// Batch canonicalizes a slice of audit entries into the bytes that get
// written to object storage, plus the content-addressed key under which
// they're stored. Entries are sorted by ID first so the same logical batch
// always serializes identically regardless of call order, which is what
// makes Archive idempotent.
type Batch struct {
	Key  string
	Body []byte
}

// NewBatch canonicalizes entries into a Batch. An empty slice is rejected;
// an archival run with nothing to archive should simply not call Archive.
func NewBatch(prefix string, entries []contracts.AuditEntry) (Batch, error) {
	if len(entries) == 0 {
		return Batch{}, fmt.Errorf("export: empty batch")
	}
	sorted := make([]contracts.AuditEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	body, err := json.Marshal(sorted)
	if err != nil {
		return Batch{}, fmt.Errorf("export: marshal batch: %w", err)
	}

	sum := sha256.Sum256(body)
	first, last := sorted[0].ID, sorted[len(sorted)-1].ID
	key := fmt.Sprintf("%s%d-%d-%s.json", withTrailingSlash(prefix), first, last, hex.EncodeToString(sum[:])[:16])
	return Batch{Key: key, Body: body}, nil
}

func withTrailingSlash(prefix string) string {
	if prefix == "" {
		return ""
	}
	if prefix[len(prefix)-1] == '/' {
		return prefix
	}
	return prefix + "/"
}
