// Package contracts defines the shared data model that flows between every
// ChainGuard subsystem: actions, conditions, policies, proposals, signatures,
// and audit entries. Types here are closed sum types wherever the domain
// requires exhaustive, fail-closed handling — unrecognized variants must
// never be treated as a match.
package contracts

// Principal is an opaque, comparable identity handle obtained from the
// ambient transport. ChainGuard never constructs principals; it only
// compares and stores the values it is given.
type Principal string

// Role is one of a fixed, closed set. Owner is a superset of every
// permission; Operator and Viewer hold progressively narrower grants.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// Permission gates a single privileged operation.
type Permission string

const (
	PermExecute   Permission = "execute"
	PermConfigure Permission = "configure"
	PermViewLogs  Permission = "view_logs"
	PermSign      Permission = "sign"
	PermEmergency Permission = "emergency"
)

// RolePermissions is the fixed role -> permission table. Owner holds every
// permission; it is expanded at lookup time rather than enumerated here so
// that adding a permission to the closed set can't silently leave Owner
// behind.
var RolePermissions = map[Role]map[Permission]struct{}{
	RoleOperator: {
		PermExecute:  {},
		PermSign:     {},
		PermViewLogs: {},
	},
	RoleViewer: {
		PermViewLogs: {},
	},
}

// AllPermissions lists the closed permission set, used to expand Owner's
// grant and to validate configuration input.
var AllPermissions = []Permission{PermExecute, PermConfigure, PermViewLogs, PermSign, PermEmergency}

// ActionType names a closed Action variant.
type ActionType string

const (
	ActionTransfer        ActionType = "transfer"
	ActionSwap            ActionType = "swap"
	ActionApproveToken    ActionType = "approve_token"
	ActionBitcoinTransfer ActionType = "bitcoin_transfer"
)

// Action is a sealed interface over the closed set of action variants the
// core recognizes. The unexported marker method prevents types outside this
// package from satisfying it, keeping the set closed the way the design
// notes require for tagged variants.
type Action interface {
	ActionType() ActionType
	// Amount is the magnitude condition checks (MaxAmount, MinAmount,
	// DailyLimit) operate on.
	Amount() uint64
	// ChainName is the chain identifier AllowedChains and audit rendering
	// operate on (the Bitcoin variant's network name stands in for chain).
	ChainName() string
	// Tokens lists the action's token-identifying fields, for
	// AllowedTokens. Variants with no token field return nil.
	Tokens() []string

	isAction()
}

type Transfer struct {
	Chain string
	Token string
	To    string
	Qty   uint64
}

func (t Transfer) ActionType() ActionType { return ActionTransfer }
func (t Transfer) Amount() uint64         { return t.Qty }
func (t Transfer) ChainName() string      { return t.Chain }
func (t Transfer) Tokens() []string       { return []string{t.Token} }
func (Transfer) isAction()                {}

type Swap struct {
	Chain        string
	TokenIn      string
	TokenOut     string
	AmountIn     uint64
	MinAmountOut uint64
	FeeTier      *string
}

func (s Swap) ActionType() ActionType { return ActionSwap }
func (s Swap) Amount() uint64         { return s.AmountIn }
func (s Swap) ChainName() string      { return s.Chain }
func (s Swap) Tokens() []string       { return []string{s.TokenIn, s.TokenOut} }
func (Swap) isAction()                {}

type ApproveToken struct {
	Chain   string
	Token   string
	Spender string
	Qty     uint64
}

func (a ApproveToken) ActionType() ActionType { return ActionApproveToken }
func (a ApproveToken) Amount() uint64         { return a.Qty }
func (a ApproveToken) ChainName() string      { return a.Chain }
func (a ApproveToken) Tokens() []string       { return []string{a.Token} }
func (ApproveToken) isAction()                {}

type BitcoinTransfer struct {
	Network string
	To      string
	Qty     uint64
}

func (b BitcoinTransfer) ActionType() ActionType { return ActionBitcoinTransfer }
func (b BitcoinTransfer) Amount() uint64         { return b.Qty }
func (b BitcoinTransfer) ChainName() string      { return b.Network }
func (b BitcoinTransfer) Tokens() []string       { return nil }
func (BitcoinTransfer) isAction()                {}

// ConditionContext carries everything a Condition needs to test itself
// against a request, without the condition reaching into dispatcher state
// directly.
type ConditionContext struct {
	Action      Action
	Caller      Principal
	DailyVolume uint64
	Now         uint64
	// LastSuccess returns the last successful-execution timestamp for
	// (caller, action type), and whether one has been recorded yet.
	LastSuccess func(caller Principal, actionType ActionType) (uint64, bool)
}

// Condition is a sealed predicate evaluated inside policy matching. An
// unrecognized or misconfigured condition must evaluate false, never true —
// default-deny depends on this.
type Condition interface {
	Match(ctx ConditionContext) bool
	isCondition()
}

type MaxAmount uint64

func (m MaxAmount) Match(ctx ConditionContext) bool { return ctx.Action.Amount() <= uint64(m) }
func (MaxAmount) isCondition()                       {}

type MinAmount uint64

func (m MinAmount) Match(ctx ConditionContext) bool { return ctx.Action.Amount() >= uint64(m) }
func (MinAmount) isCondition()                       {}

type DailyLimit uint64

func (d DailyLimit) Match(ctx ConditionContext) bool {
	return ctx.DailyVolume+ctx.Action.Amount() <= uint64(d)
}
func (DailyLimit) isCondition() {}

type AllowedChains map[string]struct{}

func (a AllowedChains) Match(ctx ConditionContext) bool {
	_, ok := a[ctx.Action.ChainName()]
	return ok
}
func (AllowedChains) isCondition() {}

type AllowedTokens map[string]struct{}

func (a AllowedTokens) Match(ctx ConditionContext) bool {
	for _, tok := range ctx.Action.Tokens() {
		if _, ok := a[tok]; !ok {
			return false
		}
	}
	return true
}
func (AllowedTokens) isCondition() {}

type TimeWindow struct {
	Start uint64
	End   uint64
}

func (t TimeWindow) Match(ctx ConditionContext) bool {
	return t.Start <= ctx.Now && ctx.Now <= t.End
}
func (TimeWindow) isCondition() {}

// Cooldown matches when more than the given number of seconds has elapsed
// since the caller's last successful execution of the same action type.
type Cooldown uint64

func (c Cooldown) Match(ctx ConditionContext) bool {
	if ctx.LastSuccess == nil {
		return true
	}
	last, ok := ctx.LastSuccess(ctx.Caller, ctx.Action.ActionType())
	if !ok {
		return true
	}
	deltaNs := uint64(c) * 1_000_000_000
	return ctx.Now > last && ctx.Now-last > deltaNs
}
func (Cooldown) isCondition() {}

// PolicyAction is a sealed variant over the three dispositions a policy can
// produce.
type PolicyAction interface {
	isPolicyAction()
}

type Allow struct{}

func (Allow) isPolicyAction() {}

type Deny struct{}

func (Deny) isPolicyAction() {}

// RequireThreshold demands `Required` distinct signatures before execution.
// FromRoles, if non-empty, additionally restricts who may sign (see the
// dispatcher's eligibility enforcement); it is never consulted by the
// proposal store itself.
type RequireThreshold struct {
	Required  uint32
	FromRoles []Role
}

func (RequireThreshold) isPolicyAction() {}

// Policy is a named, prioritized rule. All conditions must hold (AND
// semantics) for the policy to match; policies are evaluated in ascending
// priority order and the first match wins.
//
// SchemaVersion is the policy-bundle schema version the author targeted,
// e.g. "1.0.0". Empty means the store's current schema version. A policy
// declaring a version newer than the store implements is refused at
// Add/Update time rather than silently accepted with unrecognized fields.
type Policy struct {
	ID            uint64
	Name          string
	Conditions    []Condition
	Action        PolicyAction
	Priority      int64
	SchemaVersion string
}

// Decision is the closed outcome set policy evaluation produces.
type Decision string

const (
	DecisionAllowed           Decision = "allowed"
	DecisionDenied            Decision = "denied"
	DecisionRequiresThreshold Decision = "requires_threshold"
)

type PolicyResult struct {
	Decision        Decision
	MatchedPolicy   string
	Reason          string
	RequiredSigs    uint32
	FromRoles       []Role
}

// ProposalStatus is the closed set of threshold-approval states.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalApproved ProposalStatus = "approved"
	ProposalExecuted ProposalStatus = "executed"
	ProposalExpired  ProposalStatus = "expired"
	ProposalRejected ProposalStatus = "rejected"
)

type Signature struct {
	Signer   Principal
	SignedAt uint64
}

type Proposal struct {
	ID                 uint64
	CorrelationID       string
	Action              Action
	Requester           Principal
	CreatedAt           uint64
	ExpiresAt           uint64
	RequiredSignatures  uint32
	FromRoles           []Role
	Signatures          []Signature
	Status              ProposalStatus
}

type ExecutionResult struct {
	Success bool
	Chain   string
	TxHash  string
	Error   string
}

// AuditEntry is append-only; ExecutionResult is the only field ever
// mutated, and only from nil to populated, exactly once.
type AuditEntry struct {
	ID              uint64
	TraceID         string
	Timestamp       uint64
	ActionType      ActionType
	ActionParams    string
	Requester       Principal
	PolicyResult    PolicyResult
	ProposalID      *uint64
	ExecutionResult *ExecutionResult
	ContentHash     string
	PrevHash        string
}

// ActionResult is the closed response set request_action produces.
type ActionResult interface {
	isActionResult()
}

type Executed struct{ Result ExecutionResult }

func (Executed) isActionResult() {}

type PendingSignatures struct{ Proposal Proposal }

func (PendingSignatures) isActionResult() {}

type DeniedResult struct{ Reason string }

func (DeniedResult) isActionResult() {}
