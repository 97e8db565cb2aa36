// Package audit implements the append-only audit log: every evaluated
// request and its outcome, with deferred, write-once execution-result
// attachment. Modeled as a hash-chained, sequence-numbered,
// clock-injectable append log generalized to ChainGuard's single audit
// stream, with a structured-event shape for the entry fields themselves.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/chainguard/core/pkg/contracts"
	"github.com/chainguard/core/pkg/coreerr"
)

// Archive durably mirrors entries, and execution results attached to them
// later, somewhere outside process memory.
// PostgresArchive implements this; the in-memory Log stays the source of
// truth for write-once enforcement regardless of whether an Archive is
// attached, so a mirror write failure is logged, not propagated.
type Archive interface {
	Append(ctx context.Context, e contracts.AuditEntry) error
	AttachExecution(ctx context.Context, id uint64, result contracts.ExecutionResult) error
}

type Log struct {
	mu       sync.Mutex
	entries  []contracts.AuditEntry
	nextID   uint64
	headHash string
	archive  Archive
}

func New() *Log {
	return &Log{nextID: 1, headHash: "genesis"}
}

// SetArchive attaches a durable mirror. Nil (the default) disables mirroring.
func (l *Log) SetArchive(a Archive) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.archive = a
}

// Record appends a new entry. IDs are monotonic and disjoint from proposal
// IDs because they're drawn from an entirely separate counter.
func (l *Log) Record(action contracts.Action, requester contracts.Principal, result contracts.PolicyResult, proposalID *uint64, now uint64) (uint64, error) {
	l.mu.Lock()

	entry := contracts.AuditEntry{
		ID:           l.nextID,
		TraceID:      uuid.New().String(),
		Timestamp:    now,
		ActionType:   action.ActionType(),
		ActionParams: renderActionParams(action),
		Requester:    requester,
		PolicyResult: result,
		ProposalID:   proposalID,
		PrevHash:     l.headHash,
	}
	l.nextID++

	hash, err := contentHash(entry)
	if err != nil {
		l.mu.Unlock()
		return 0, fmt.Errorf("audit: hash entry: %w", err)
	}
	entry.ContentHash = hash
	l.headHash = hash

	l.entries = append(l.entries, entry)
	archive := l.archive
	l.mu.Unlock()

	if archive != nil {
		if err := archive.Append(context.Background(), entry); err != nil {
			slog.Error("audit: archive mirror failed", "entry_id", entry.ID, "error", err)
		}
	}
	return entry.ID, nil
}

// AttachExecution populates the execution_result slot exactly once; a
// second call on the same entry fails and the first value persists.
func (l *Log) AttachExecution(id uint64, result contracts.ExecutionResult) error {
	l.mu.Lock()

	for i := range l.entries {
		if l.entries[i].ID != id {
			continue
		}
		if l.entries[i].ExecutionResult != nil {
			l.mu.Unlock()
			return fmt.Errorf("audit entry %d: %w", id, coreerr.ErrIllegalTransition)
		}
		l.entries[i].ExecutionResult = &result
		archive := l.archive
		l.mu.Unlock()

		if archive != nil {
			if err := archive.AttachExecution(context.Background(), id, result); err != nil {
				slog.Error("audit: archive mirror failed", "entry_id", id, "error", err)
			}
		}
		return nil
	}
	l.mu.Unlock()
	return fmt.Errorf("audit entry %d: %w", id, coreerr.ErrNotFound)
}

// Entry returns a copy of a single entry by id.
func (l *Log) Entry(id uint64) (*contracts.AuditEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.ID == id {
			cp := e
			return &cp, true
		}
	}
	return nil, false
}

// EntriesInRange returns entries with timestamps within [start, end]
// inclusive; a nil bound is unbounded on that side.
func (l *Log) EntriesInRange(start, end *uint64) []contracts.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]contracts.AuditEntry, 0)
	for _, e := range l.entries {
		if start != nil && e.Timestamp < *start {
			continue
		}
		if end != nil && e.Timestamp > *end {
			continue
		}
		out = append(out, e)
	}
	return out
}

// contentHash computes the RFC 8785 canonical-JSON hash of the entry's
// identity-bearing fields, chained to the previous entry's hash. This is
// tamper evidence over the structured entry, never applied to
// action_params — that field's key order is fixed by the wire format
// defined in renderActionParams and must not be touched by canonicalization.
func contentHash(e contracts.AuditEntry) (string, error) {
	type hashed struct {
		ID           uint64                    `json:"id"`
		Timestamp    uint64                    `json:"timestamp"`
		ActionType   contracts.ActionType      `json:"action_type"`
		ActionParams string                    `json:"action_params"`
		Requester    contracts.Principal       `json:"requester"`
		Decision     contracts.Decision        `json:"decision"`
		ProposalID   *uint64                   `json:"proposal_id,omitempty"`
		PrevHash     string                    `json:"prev_hash"`
	}
	raw, err := jcsMarshal(hashed{
		ID:           e.ID,
		Timestamp:    e.Timestamp,
		ActionType:   e.ActionType,
		ActionParams: e.ActionParams,
		Requester:    e.Requester,
		Decision:     e.PolicyResult.Decision,
		ProposalID:   e.ProposalID,
		PrevHash:     e.PrevHash,
	})
	if err != nil {
		return "", err
	}
	return raw, nil
}

func jcsMarshal(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	hash := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(hash[:]), nil
}
