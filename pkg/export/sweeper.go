package export

import (
	"context"
	"log/slog"
	"time"

	"github.com/chainguard/core/pkg/contracts"
)

// EntryLister is the slice of audit.Log's interface the sweeper needs. It
// is declared here rather than imported from pkg/audit to keep export
// dependency-free of the audit package's storage internals.
type EntryLister interface {
	EntriesInRange(start, end *uint64) []contracts.AuditEntry
}

// Sweeper periodically batches newly-recorded audit entries off to cold
// storage via a ticker loop: NewSweeper starts nothing; the caller runs
// Run on its own goroutine, which wakes on a fixed interval and stops on
// context cancellation.
type Sweeper struct {
	log      EntryLister
	archiver Archiver
	interval time.Duration
	lastID   uint64
}

func NewSweeper(log EntryLister, archiver Archiver, interval time.Duration) *Sweeper {
	return &Sweeper{log: log, archiver: archiver, interval: interval}
}

// Run blocks, sweeping on every tick, until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	// EntriesInRange filters by timestamp, not ID, so every tick re-lists
	// the whole log and the sweeper itself filters out what it already
	// archived. Fine at this log's in-memory scale; a persisted cursor
	// would be needed if this ever fronted a log too large to re-list.
	all := s.log.EntriesInRange(nil, nil)
	entries := make([]contracts.AuditEntry, 0, len(all))
	for _, e := range all {
		if e.ID > s.lastID {
			entries = append(entries, e)
		}
	}
	if len(entries) == 0 {
		return
	}

	location, err := s.archiver.Archive(ctx, entries)
	if err != nil {
		slog.Error("export: sweep failed", "from_id", s.lastID+1, "count", len(entries), "error", err)
		return
	}
	s.lastID = entries[len(entries)-1].ID
	slog.Info("export: archived audit batch", "location", location, "count", len(entries))
}
