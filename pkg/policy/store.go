// Package policy holds the ordered, priority-evaluated policy set. Shaped
// like a CEL-based policy engine's fail-closed Evaluate, generalized from
// a single CEL program per policy to the closed Condition set contracts
// defines, with CEL demoted to one optional condition variant
// (Expression) for predicates the fixed vocabulary can't express.
package policy

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/chainguard/core/pkg/contracts"
	"github.com/chainguard/core/pkg/coreerr"
)

// SchemaVersion is the policy schema version this store implements.
// Policies declaring a newer version are refused at Add/Update time.
var SchemaVersion = semver.MustParse("1.0.0")

type entry struct {
	policy   contracts.Policy
	inserted int
}

type Store struct {
	mu       sync.Mutex
	entries  []entry
	nextID   uint64
	inserted int
}

func New() *Store {
	return &Store{nextID: 1}
}

// Add appends a policy and returns its assigned id. Fails if the policy
// declares a schema version newer than SchemaVersion.
func (s *Store) Add(p contracts.Policy) (uint64, error) {
	if err := checkSchemaVersion(p); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	warnMaxAmountUnderDeny(p)

	p.ID = s.nextID
	s.nextID++
	s.inserted++
	s.entries = append(s.entries, entry{policy: p, inserted: s.inserted})
	return p.ID, nil
}

// Update replaces a policy by id, keeping its original insertion order for
// tie-breaking. In-flight proposals are unaffected: they already carry the
// required-signature count frozen at creation time (see pkg/proposal).
// Fails if the policy declares a schema version newer than SchemaVersion.
func (s *Store) Update(id uint64, p contracts.Policy) error {
	if err := checkSchemaVersion(p); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	warnMaxAmountUnderDeny(p)

	for i := range s.entries {
		if s.entries[i].policy.ID == id {
			p.ID = id
			s.entries[i].policy = p
			return nil
		}
	}
	return fmt.Errorf("policy %d: %w", id, errNotFound)
}

// checkSchemaVersion refuses a policy whose declared schema version is
// newer than this store implements. An empty version targets the current
// schema and always passes; a malformed version string is rejected the
// same as an unrecognized condition/action type.
func checkSchemaVersion(p contracts.Policy) error {
	if p.SchemaVersion == "" {
		return nil
	}
	v, err := semver.NewVersion(p.SchemaVersion)
	if err != nil {
		return fmt.Errorf("policy %q: invalid schema_version %q: %w", p.Name, p.SchemaVersion, coreerr.ErrConfig)
	}
	if v.GreaterThan(SchemaVersion) {
		return fmt.Errorf("policy %q: schema_version %s newer than supported %s: %w", p.Name, v, SchemaVersion, coreerr.ErrConfig)
	}
	return nil
}

func (s *Store) Remove(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		if s.entries[i].policy.ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("policy %d: %w", id, errNotFound)
}

// List returns a snapshot ordered by ascending priority, ties broken by
// insertion order.
func (s *Store) List() []contracts.Policy {
	s.mu.Lock()
	snapshot := make([]entry, len(s.entries))
	copy(snapshot, s.entries)
	s.mu.Unlock()

	sortByPriority(snapshot)

	out := make([]contracts.Policy, len(snapshot))
	for i, e := range snapshot {
		out[i] = e.policy
	}
	return out
}

func sortByPriority(snapshot []entry) {
	sort.SliceStable(snapshot, func(i, j int) bool {
		if snapshot[i].policy.Priority != snapshot[j].policy.Priority {
			return snapshot[i].policy.Priority < snapshot[j].policy.Priority
		}
		return snapshot[i].inserted < snapshot[j].inserted
	})
}

// Evaluate runs the ascending-priority, first-match-wins algorithm. Default
// deny applies when nothing matches.
func (s *Store) Evaluate(action contracts.Action, caller contracts.Principal, dailyVolume, now uint64, lastSuccess func(contracts.Principal, contracts.ActionType) (uint64, bool)) contracts.PolicyResult {
	s.mu.Lock()
	snapshot := make([]entry, len(s.entries))
	copy(snapshot, s.entries)
	s.mu.Unlock()

	sortByPriority(snapshot)

	ctx := contracts.ConditionContext{
		Action:      action,
		Caller:      caller,
		DailyVolume: dailyVolume,
		Now:         now,
		LastSuccess: lastSuccess,
	}

	for _, e := range snapshot {
		if matches(e.policy, ctx) {
			return resultFor(e.policy)
		}
	}

	return contracts.PolicyResult{
		Decision: contracts.DecisionDenied,
		Reason:   "no matching policy",
	}
}

func matches(p contracts.Policy, ctx contracts.ConditionContext) bool {
	for _, c := range p.Conditions {
		if c == nil || !c.Match(ctx) {
			return false
		}
	}
	return true
}

func resultFor(p contracts.Policy) contracts.PolicyResult {
	switch a := p.Action.(type) {
	case contracts.Allow:
		return contracts.PolicyResult{Decision: contracts.DecisionAllowed, MatchedPolicy: p.Name}
	case contracts.Deny:
		return contracts.PolicyResult{Decision: contracts.DecisionDenied, MatchedPolicy: p.Name, Reason: "denied by policy " + p.Name}
	case contracts.RequireThreshold:
		return contracts.PolicyResult{
			Decision:      contracts.DecisionRequiresThreshold,
			MatchedPolicy: p.Name,
			RequiredSigs:  a.Required,
			FromRoles:     a.FromRoles,
		}
	default:
		// Unknown PolicyAction variant: fail closed, never match as Allow.
		return contracts.PolicyResult{Decision: contracts.DecisionDenied, Reason: "unrecognized policy action"}
	}
}

// warnMaxAmountUnderDeny flags the MaxAmount-under-Deny pitfall: a Deny
// policy whose only magnitude condition is MaxAmount fires on small
// amounts, which is rarely the intended semantics for denial. Behavior is
// unchanged; this is advisory only.
func warnMaxAmountUnderDeny(p contracts.Policy) {
	if _, deny := p.Action.(contracts.Deny); !deny {
		return
	}
	hasMax := false
	for _, c := range p.Conditions {
		switch c.(type) {
		case contracts.MaxAmount:
			hasMax = true
		case contracts.MinAmount, contracts.DailyLimit:
			return
		}
	}
	if hasMax {
		log.Printf("policy %q: Deny with MaxAmount matches small amounts, not large ones; did you mean MinAmount?", p.Name)
	}
}
