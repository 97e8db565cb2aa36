// Package dispatcher implements the top-level request flow: permission
// check -> policy evaluation -> branch (execute / propose / deny) ->
// audit, plus the signing path that can re-enter execution on behalf of
// the original requester. It is the client-facing surface
// (request_action, sign_request, reject_request, role/policy
// administration, audit reads, pause/resume), composed from the narrower
// subsystem packages (roles, policy, proposal, audit): a single logical
// owner of all mutable state, with sub-modules doing the narrow work.
//
// Shaped like a top-level Kernel/Gateway type that wires budget, policy,
// and escalation into one request path ahead of execution.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chainguard/core/pkg/audit"
	"github.com/chainguard/core/pkg/chainadapters"
	"github.com/chainguard/core/pkg/clock"
	"github.com/chainguard/core/pkg/config"
	"github.com/chainguard/core/pkg/contracts"
	"github.com/chainguard/core/pkg/cooldown"
	"github.com/chainguard/core/pkg/coreerr"
	"github.com/chainguard/core/pkg/dailyvolume"
	"github.com/chainguard/core/pkg/observability"
	"github.com/chainguard/core/pkg/policy"
	"github.com/chainguard/core/pkg/proposal"
	"github.com/chainguard/core/pkg/roles"
)

// DefaultRequiredSignatures is the global fallback threshold used when a
// matched RequireThreshold policy does not specify one.
const DefaultRequiredSignatures uint32 = 2

// Dispatcher is the single logical owner of ChainGuard's mutable state:
// roles, policies, proposals, the audit log, the paused flag, and the
// daily-volume/cooldown trackers. Every state-changing operation except
// SweepExpired executes while holding mu; read-only queries and
// SweepExpired rely on each sub-store's own lock. The outbound signer/RPC
// call runs outside mu — the
// only suspension point the concurrency model allows state mutation to
// straddle, and even then only by reserving state before the call and
// attaching results after.
type Dispatcher struct {
	mu sync.Mutex

	Roles     *roles.Store
	Policies  *policy.Store
	Proposals *proposal.Store
	AuditLog  *audit.Log

	cooldownTracker cooldown.Tracker
	dailyVolume     dailyvolume.Counter
	signer          chainadapters.Signer
	rpc             chainadapters.RPC
	clock           clock.Clock
	obs             *observability.Provider

	paused          bool
	initialized     bool
	cfg             config.InitConfig
	defaultRequired uint32

	// proposalAudit maps a proposal id to the audit entry id recorded when
	// the proposal was created, so a signing-triggered execution can patch
	// the *original* entry rather than create a new one, preserving
	// attribution to the original requester.
	proposalAudit map[uint64]uint64
}

// Option configures optional Dispatcher dependencies; backends default to
// in-memory implementations suitable for a single instance or tests.
type Option func(*Dispatcher)

func WithCooldownTracker(t cooldown.Tracker) Option {
	return func(d *Dispatcher) { d.cooldownTracker = t }
}

func WithDailyVolumeCounter(c dailyvolume.Counter) Option {
	return func(d *Dispatcher) { d.dailyVolume = c }
}

func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

func WithDefaultRequiredSignatures(n uint32) Option {
	return func(d *Dispatcher) { d.defaultRequired = n }
}

// WithObservability attaches a trace/metric provider around RequestAction
// and SignRequest's execution path. Nil is a safe no-op default.
func WithObservability(obs *observability.Provider) Option {
	return func(d *Dispatcher) { d.obs = obs }
}

// New wires the four core subsystems behind one Dispatcher, plus the
// external signer/RPC collaborators the Allow/Approved execution path
// calls.
func New(signer chainadapters.Signer, rpc chainadapters.RPC, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		Roles:           roles.New(),
		Policies:        policy.New(),
		Proposals:       proposal.New(),
		AuditLog:        audit.New(),
		cooldownTracker: cooldown.NewMemory(),
		dailyVolume:     dailyvolume.NewMemory(),
		signer:          signer,
		rpc:             rpc,
		clock:           clock.System{},
		defaultRequired: DefaultRequiredSignatures,
		proposalAudit:   make(map[uint64]uint64),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Initialize is one-shot: a second call is a ConfigError. It bootstraps
// the installing principal to Owner (the only path a role can exist
// without a Configure-authorized caller) and loads the initial policy
// set.
func (d *Dispatcher) Initialize(installer contracts.Principal, cfg config.InitConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return fmt.Errorf("initialize: already initialized: %w", coreerr.ErrConfig)
	}

	d.Roles.Bootstrap(installer)
	if cfg.DefaultThreshold.Required > 0 {
		d.defaultRequired = cfg.DefaultThreshold.Required
	}
	for _, p := range cfg.Policies {
		if _, err := d.Policies.Add(p); err != nil {
			return fmt.Errorf("initialize: policy %q: %w", p.Name, err)
		}
	}
	d.cfg = cfg
	d.initialized = true
	return nil
}

func (d *Dispatcher) GetConfig() config.InitConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// --- Role administration ---

func (d *Dispatcher) AssignRole(caller, target contracts.Principal, role contracts.Role) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.Roles.HasPermission(caller, contracts.PermConfigure) {
		return coreerr.ErrUnauthorized
	}
	d.Roles.Assign(target, role)
	return nil
}

func (d *Dispatcher) RevokeRole(caller, target contracts.Principal, role contracts.Role) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.Roles.HasPermission(caller, contracts.PermConfigure) {
		return coreerr.ErrUnauthorized
	}
	d.Roles.Revoke(target, role)
	return nil
}

func (d *Dispatcher) GetRoles(target contracts.Principal) []contracts.Role {
	return d.Roles.RolesOf(target)
}

func (d *Dispatcher) ListRoleAssignments() map[contracts.Principal][]contracts.Role {
	return d.Roles.ListAssignments()
}

// --- Policy administration ---

func (d *Dispatcher) AddPolicy(caller contracts.Principal, p contracts.Policy) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.Roles.HasPermission(caller, contracts.PermConfigure) {
		return 0, coreerr.ErrUnauthorized
	}
	return d.Policies.Add(p)
}

func (d *Dispatcher) UpdatePolicy(caller contracts.Principal, id uint64, p contracts.Policy) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.Roles.HasPermission(caller, contracts.PermConfigure) {
		return coreerr.ErrUnauthorized
	}
	return d.Policies.Update(id, p)
}

func (d *Dispatcher) RemovePolicy(caller contracts.Principal, id uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.Roles.HasPermission(caller, contracts.PermConfigure) {
		return coreerr.ErrUnauthorized
	}
	return d.Policies.Remove(id)
}

func (d *Dispatcher) ListPolicies() []contracts.Policy {
	return d.Policies.List()
}

// --- Audit reads ---

func (d *Dispatcher) GetAuditLogs(caller contracts.Principal, start, end *uint64) ([]contracts.AuditEntry, error) {
	if !d.Roles.HasPermission(caller, contracts.PermViewLogs) {
		return nil, coreerr.ErrUnauthorized
	}
	return d.AuditLog.EntriesInRange(start, end), nil
}

func (d *Dispatcher) GetAuditEntry(caller contracts.Principal, id uint64) (*contracts.AuditEntry, error) {
	if !d.Roles.HasPermission(caller, contracts.PermViewLogs) {
		return nil, coreerr.ErrUnauthorized
	}
	e, ok := d.AuditLog.Entry(id)
	if !ok {
		return nil, coreerr.ErrNotFound
	}
	return e, nil
}

// --- Emergency pause ---

func (d *Dispatcher) Pause(caller contracts.Principal) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.Roles.HasPermission(caller, contracts.PermEmergency) {
		return coreerr.ErrUnauthorized
	}
	d.paused = true
	return nil
}

func (d *Dispatcher) Resume(caller contracts.Principal) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.Roles.HasPermission(caller, contracts.PermEmergency) {
		return coreerr.ErrUnauthorized
	}
	d.paused = false
	return nil
}

// IsPaused is unrestricted: it is gated by neither pause nor permission.
func (d *Dispatcher) IsPaused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

func (d *Dispatcher) GetPendingRequests() []contracts.Proposal {
	return d.Proposals.ListPending()
}

// SweepExpired runs the opportunistic expiry sweep, a bulk sweep meant to
// be called periodically by the host. It is safe to call on a schedule
// from the host application.
func (d *Dispatcher) SweepExpired() int {
	return d.Proposals.SweepExpired(d.now())
}

func (d *Dispatcher) now() uint64 { return d.clock.NowNs() }

// trackExecution wraps the outbound signer/RPC call in a span and RED
// metrics when observability is configured; a nil provider is a no-op.
func (d *Dispatcher) trackExecution(ctx context.Context, action contracts.Action, caller contracts.Principal) (context.Context, func(error)) {
	if d.obs == nil {
		return ctx, func(error) {}
	}
	attrs := observability.ActionOperation(string(caller), string(action.ActionType()), action.ChainName())
	return d.obs.TrackOperation(ctx, "chainguard.execute", attrs...)
}

// --- Request flow ---

// RequestAction is the single entry point for submitting an action. It
// never returns an error for ordinary denial paths — those are expressed
// as a DeniedResult ActionResult — but can return an error for
// infrastructure failures (e.g. the audit log refusing a write).
func (d *Dispatcher) RequestAction(ctx context.Context, caller contracts.Principal, action contracts.Action) (contracts.ActionResult, error) {
	d.mu.Lock()
	now := d.now()

	if d.paused {
		_, _ = d.AuditLog.Record(action, caller, contracts.PolicyResult{
			Decision: contracts.DecisionDenied,
			Reason:   "system paused",
		}, nil, now)
		d.mu.Unlock()
		return contracts.DeniedResult{Reason: "system paused"}, nil
	}

	if !d.Roles.HasPermission(caller, contracts.PermExecute) {
		_, _ = d.AuditLog.Record(action, caller, contracts.PolicyResult{
			Decision: contracts.DecisionDenied,
			Reason:   "missing permission",
		}, nil, now)
		d.mu.Unlock()
		return contracts.DeniedResult{Reason: "missing permission"}, nil
	}

	dailyVol, err := d.dailyVolume.VolumeAt(ctx, now)
	if err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("dispatcher: read daily volume: %w", err)
	}
	lastSuccess := cooldown.AsFunc(ctx, d.cooldownTracker)

	result := d.Policies.Evaluate(action, caller, dailyVol, now, lastSuccess)

	switch result.Decision {
	case contracts.DecisionDenied:
		_, _ = d.AuditLog.Record(action, caller, result, nil, now)
		d.mu.Unlock()
		return contracts.DeniedResult{Reason: result.Reason}, nil

	case contracts.DecisionRequiresThreshold:
		required := result.RequiredSigs
		if required == 0 {
			required = d.defaultRequired
		}
		p := d.Proposals.Create(action, caller, required, result.FromRoles, now)
		auditID, err := d.AuditLog.Record(action, caller, result, &p.ID, now)
		if err != nil {
			d.mu.Unlock()
			return nil, fmt.Errorf("dispatcher: record audit entry: %w", err)
		}
		d.proposalAudit[p.ID] = auditID
		d.mu.Unlock()
		return contracts.PendingSignatures{Proposal: *p}, nil

	case contracts.DecisionAllowed:
		auditID, err := d.AuditLog.Record(action, caller, result, nil, now)
		if err != nil {
			d.mu.Unlock()
			return nil, fmt.Errorf("dispatcher: record audit entry: %w", err)
		}
		d.mu.Unlock() // release across the outbound suspension point

		ctx, finish := d.trackExecution(ctx, action, caller)
		execResult := chainadapters.Execute(ctx, d.signer, d.rpc, action, string(caller))
		if !execResult.Success {
			finish(fmt.Errorf("%s", execResult.Error))
		} else {
			finish(nil)
		}

		d.mu.Lock()
		_ = d.AuditLog.AttachExecution(auditID, execResult)
		if execResult.Success {
			_ = d.dailyVolume.Add(ctx, action.Amount(), now)
			_ = d.cooldownTracker.RecordSuccess(ctx, caller, action.ActionType(), now)
		}
		d.mu.Unlock()
		return contracts.Executed{Result: execResult}, nil

	default:
		_, _ = d.AuditLog.Record(action, caller, contracts.PolicyResult{Decision: contracts.DecisionDenied, Reason: "unrecognized decision"}, nil, now)
		d.mu.Unlock()
		return contracts.DeniedResult{Reason: "unrecognized decision"}, nil
	}
}

// SignRequest adds caller's signature to a pending proposal. If the
// signature makes the proposal Approved, it re-enters the execution path
// on behalf of the *original requester* within the same call, patching
// the audit entry created when the proposal was first raised.
func (d *Dispatcher) SignRequest(ctx context.Context, caller contracts.Principal, id uint64) (*contracts.Proposal, error) {
	d.mu.Lock()
	now := d.now()

	if d.paused {
		d.mu.Unlock()
		return nil, coreerr.ErrPaused
	}
	if !d.Roles.HasPermission(caller, contracts.PermSign) {
		d.mu.Unlock()
		return nil, coreerr.ErrUnauthorized
	}

	existing, err := d.Proposals.Get(id)
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	if len(existing.FromRoles) > 0 && !d.callerInRoles(caller, existing.FromRoles) {
		d.mu.Unlock()
		return nil, fmt.Errorf("signer not in required roles: %w", coreerr.ErrUnauthorized)
	}

	p, err := d.Proposals.Sign(id, caller, now)
	if err != nil {
		if errors.Is(err, coreerr.ErrExpired) {
			d.recordTerminalProposalOutcome(p, id, "expired", now)
		}
		d.mu.Unlock()
		return p, err
	}

	if p.Status != contracts.ProposalApproved {
		d.mu.Unlock()
		return p, nil
	}

	auditID, haveAuditID := d.proposalAudit[id]
	d.mu.Unlock()

	ctx, finish := d.trackExecution(ctx, p.Action, p.Requester)
	execResult := chainadapters.Execute(ctx, d.signer, d.rpc, p.Action, string(p.Requester))
	if !execResult.Success {
		finish(fmt.Errorf("%s", execResult.Error))
	} else {
		finish(nil)
	}

	d.mu.Lock()
	if haveAuditID {
		_ = d.AuditLog.AttachExecution(auditID, execResult)
	}
	if execResult.Success {
		_ = d.dailyVolume.Add(ctx, p.Action.Amount(), now)
		_ = d.cooldownTracker.RecordSuccess(ctx, p.Requester, p.Action.ActionType(), now)
	}
	_ = d.Proposals.MarkExecuted(id)
	final, _ := d.Proposals.Get(id)
	d.mu.Unlock()
	return final, nil
}

// RejectRequest transitions a pending proposal to Rejected. The reason is
// not stored on the proposal itself — it is recorded here, in the audit
// entry.
func (d *Dispatcher) RejectRequest(caller contracts.Principal, id uint64, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.Roles.HasPermission(caller, contracts.PermSign) {
		return coreerr.ErrUnauthorized
	}
	p, err := d.Proposals.Get(id)
	if err != nil {
		return err
	}
	if err := d.Proposals.Reject(id); err != nil {
		return err
	}

	now := d.now()
	result := contracts.PolicyResult{Decision: contracts.DecisionDenied, Reason: "rejected: " + reason}
	_, _ = d.AuditLog.Record(p.Action, p.Requester, result, &id, now)
	return nil
}

func (d *Dispatcher) callerInRoles(caller contracts.Principal, allowed []contracts.Role) bool {
	for _, r := range allowed {
		if d.Roles.HasRole(caller, r) {
			return true
		}
	}
	return false
}

// recordTerminalProposalOutcome appends an audit entry for a proposal
// state change discovered outside the original request_action call (e.g.
// expiry-on-sign), so an expiry that a sign attempt discovers rather than
// causes directly still gets an audit entry. SweepExpired does not call
// it: proposals expired by the bulk sweep get no audit entry.
func (d *Dispatcher) recordTerminalProposalOutcome(p *contracts.Proposal, id uint64, reason string, now uint64) {
	if p == nil {
		return
	}
	result := contracts.PolicyResult{Decision: contracts.DecisionDenied, Reason: reason}
	_, _ = d.AuditLog.Record(p.Action, p.Requester, result, &id, now)
}
