// Package proposal implements the threshold-approval state machine:
// pending proposals, signature collection, and expiry. Shaped like an
// escalation manager's intent creation, clock-injectable approval, and
// timeout sweep, generalized from a single approval template to the
// policy-driven required-signature count this domain uses, following the
// familiar M-of-N multisig proposal pattern: monotonic proposal ids,
// TTL-based expiry.
package proposal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/chainguard/core/pkg/contracts"
	"github.com/chainguard/core/pkg/coreerr"
)

// DefaultExpiryNs is the default proposal lifetime: 24h expressed in
// nanoseconds, the same unit `now` is expressed in throughout the core. A
// unit mismatch here (e.g. using seconds) causes proposals to expire
// immediately — this constant exists to make that bug impossible to
// reintroduce silently.
const DefaultExpiryNs uint64 = 86_400 * 1_000_000_000

// Persister durably mirrors proposal snapshots outside process memory.
// SQLitePersister implements this. As with audit's Archive, the in-memory
// Store stays authoritative; a mirror write failure is logged, not
// propagated to the caller whose mutation already succeeded in memory.
type Persister interface {
	Persist(ctx context.Context, p *contracts.Proposal) error
	LoadAll(ctx context.Context) ([]*contracts.Proposal, error)
}

type Store struct {
	mu              sync.Mutex
	proposals       map[uint64]*contracts.Proposal
	nextID          uint64
	defaultExpiryNs uint64
	persister       Persister
}

func New() *Store {
	return &Store{
		proposals:       make(map[uint64]*contracts.Proposal),
		nextID:          1,
		defaultExpiryNs: DefaultExpiryNs,
	}
}

// SetPersister attaches a durable mirror. Nil (the default) disables
// mirroring.
func (s *Store) SetPersister(p Persister) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persister = p
}

// Restore reloads every persisted proposal into memory, advancing nextID
// past the highest restored id. Intended for a one-shot call at startup,
// before any client traffic is accepted.
func (s *Store) Restore(ctx context.Context) error {
	s.mu.Lock()
	persister := s.persister
	s.mu.Unlock()
	if persister == nil {
		return nil
	}

	restored, err := persister.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("proposal: restore: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range restored {
		s.proposals[p.ID] = p
		if p.ID >= s.nextID {
			s.nextID = p.ID + 1
		}
	}
	return nil
}

// mirror persists a snapshot outside the lock; pass the persister captured
// while s.mu was held, since sync.Mutex isn't reentrant and every caller
// below calls this after unlocking.
func (s *Store) mirror(persister Persister, p contracts.Proposal) {
	if persister == nil {
		return
	}
	if err := persister.Persist(context.Background(), &p); err != nil {
		slog.Error("proposal: persistence mirror failed", "proposal_id", p.ID, "error", err)
	}
}

// WithDefaultExpiry overrides the default proposal lifetime, for tests.
func (s *Store) WithDefaultExpiry(ns uint64) *Store {
	s.defaultExpiryNs = ns
	return s
}

// Create assigns the next monotonic id and stamps expiry at now +
// default expiry.
func (s *Store) Create(action contracts.Action, requester contracts.Principal, required uint32, fromRoles []contracts.Role, now uint64) *contracts.Proposal {
	s.mu.Lock()

	p := &contracts.Proposal{
		ID:                 s.nextID,
		CorrelationID:      uuid.New().String(),
		Action:             action,
		Requester:          requester,
		CreatedAt:          now,
		ExpiresAt:          now + s.defaultExpiryNs,
		RequiredSignatures: required,
		FromRoles:          fromRoles,
		Status:             contracts.ProposalPending,
	}
	s.nextID++
	s.proposals[p.ID] = p
	persister := s.persister
	s.mu.Unlock()

	s.mirror(persister, *p)
	return p
}

// Sign records a signature, transitioning the proposal to Approved once the
// required count is reached. A proposal whose deadline has passed is
// transitioned to Expired as a side effect of this call, per spec.
func (s *Store) Sign(id uint64, signer contracts.Principal, now uint64) (*contracts.Proposal, error) {
	s.mu.Lock()

	p, ok := s.proposals[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("proposal %d: %w", id, coreerr.ErrNotFound)
	}

	if p.Status == contracts.ProposalPending && now > p.ExpiresAt {
		p.Status = contracts.ProposalExpired
		persister := s.persister
		snapshot := *p
		s.mu.Unlock()
		s.mirror(persister, snapshot)
		return p, fmt.Errorf("proposal %d: %w", id, coreerr.ErrExpired)
	}

	if p.Status != contracts.ProposalPending {
		s.mu.Unlock()
		return p, fmt.Errorf("proposal %d: %w", id, coreerr.ErrIllegalTransition)
	}

	for _, sig := range p.Signatures {
		if sig.Signer == signer {
			s.mu.Unlock()
			return p, fmt.Errorf("proposal %d: signer %s already signed: %w", id, signer, coreerr.ErrIllegalTransition)
		}
	}

	p.Signatures = append(p.Signatures, contracts.Signature{Signer: signer, SignedAt: now})
	if uint32(len(p.Signatures)) >= p.RequiredSignatures {
		p.Status = contracts.ProposalApproved
	}
	persister := s.persister
	snapshot := *p
	s.mu.Unlock()

	s.mirror(persister, snapshot)
	return p, nil
}

// Reject transitions a Pending proposal to Rejected.
func (s *Store) Reject(id uint64) error {
	s.mu.Lock()

	p, ok := s.proposals[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("proposal %d: %w", id, coreerr.ErrNotFound)
	}
	if p.Status != contracts.ProposalPending {
		s.mu.Unlock()
		return fmt.Errorf("proposal %d: %w", id, coreerr.ErrIllegalTransition)
	}
	p.Status = contracts.ProposalRejected
	persister := s.persister
	snapshot := *p
	s.mu.Unlock()

	s.mirror(persister, snapshot)
	return nil
}

// MarkExecuted transitions an Approved proposal to the terminal Executed
// state, regardless of whether the downstream execution itself succeeded —
// execution failure is recorded in the audit log, not retried.
func (s *Store) MarkExecuted(id uint64) error {
	s.mu.Lock()

	p, ok := s.proposals[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("proposal %d: %w", id, coreerr.ErrNotFound)
	}
	if p.Status != contracts.ProposalApproved {
		s.mu.Unlock()
		return fmt.Errorf("proposal %d: %w", id, coreerr.ErrIllegalTransition)
	}
	p.Status = contracts.ProposalExecuted
	persister := s.persister
	snapshot := *p
	s.mu.Unlock()

	s.mirror(persister, snapshot)
	return nil
}

func (s *Store) Get(id uint64) (*contracts.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, fmt.Errorf("proposal %d: %w", id, coreerr.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListPending() []contracts.Proposal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]contracts.Proposal, 0)
	for _, p := range s.proposals {
		if p.Status == contracts.ProposalPending {
			out = append(out, *p)
		}
	}
	return out
}

// SweepExpired transitions every Pending proposal past its deadline to
// Expired, returning how many were swept.
func (s *Store) SweepExpired(now uint64) int {
	s.mu.Lock()
	var swept []contracts.Proposal
	for _, p := range s.proposals {
		if p.Status == contracts.ProposalPending && now > p.ExpiresAt {
			p.Status = contracts.ProposalExpired
			swept = append(swept, *p)
		}
	}
	persister := s.persister
	s.mu.Unlock()

	for _, p := range swept {
		s.mirror(persister, p)
	}
	return len(swept)
}
