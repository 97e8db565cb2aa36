package dispatcher_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainguard/core/pkg/chainadapters"
	"github.com/chainguard/core/pkg/clock"
	"github.com/chainguard/core/pkg/config"
	"github.com/chainguard/core/pkg/contracts"
	"github.com/chainguard/core/pkg/dispatcher"
)

const owner = contracts.Principal("owner-1")
const operator = contracts.Principal("operator-1")

func newDispatcher(t *testing.T) (*dispatcher.Dispatcher, *chainadapters.Fake, *clock.Fixed) {
	t.Helper()
	fake := chainadapters.NewFake()
	fixed := clock.NewFixed(1_000_000_000)
	d := dispatcher.New(fake, fake, dispatcher.WithClock(fixed))
	require.NoError(t, d.Initialize(owner, config.InitConfig{}))
	require.NoError(t, d.AssignRole(owner, operator, contracts.RoleOperator))
	return d, fake, fixed
}

func transfer(qty uint64) contracts.Action {
	return contracts.Transfer{Chain: "ethereum", Token: "USDC", To: "0xabc", Qty: qty}
}

func TestRequestAction_DefaultDenyWithNoPolicies(t *testing.T) {
	d, _, _ := newDispatcher(t)

	result, err := d.RequestAction(context.Background(), operator, transfer(100))
	require.NoError(t, err)
	denied, ok := result.(contracts.DeniedResult)
	require.True(t, ok, "expected DeniedResult, got %T", result)
	require.NotEmpty(t, denied.Reason)
}

func TestRequestAction_MissingPermissionDenied(t *testing.T) {
	d, _, _ := newDispatcher(t)
	_, err := d.AddPolicy(owner, contracts.Policy{
		Name:       "allow-all",
		Conditions: []contracts.Condition{contracts.MaxAmount(1_000_000)},
		Action:     contracts.Allow{},
		Priority:   1,
	})
	require.NoError(t, err)

	result, err := d.RequestAction(context.Background(), contracts.Principal("stranger"), transfer(100))
	require.NoError(t, err)
	denied, ok := result.(contracts.DeniedResult)
	require.True(t, ok)
	require.Equal(t, "missing permission", denied.Reason)
}

func TestRequestAction_AllowedExecutesImmediately(t *testing.T) {
	d, fake, _ := newDispatcher(t)
	_, err := d.AddPolicy(owner, contracts.Policy{
		Name:       "allow-small",
		Conditions: []contracts.Condition{contracts.MaxAmount(1000)},
		Action:     contracts.Allow{},
		Priority:   1,
	})
	require.NoError(t, err)

	result, err := d.RequestAction(context.Background(), operator, transfer(100))
	require.NoError(t, err)
	executed, ok := result.(contracts.Executed)
	require.True(t, ok, "expected Executed, got %T", result)
	require.True(t, executed.Result.Success)
	require.NotEmpty(t, executed.Result.TxHash)
	_ = fake
}

func TestRequestAction_RequiresThresholdCreatesProposal(t *testing.T) {
	d, _, _ := newDispatcher(t)
	_, err := d.AddPolicy(owner, contracts.Policy{
		Name:       "require-2-of-n",
		Conditions: []contracts.Condition{contracts.MaxAmount(1_000_000)},
		Action:     contracts.RequireThreshold{Required: 2},
		Priority:   1,
	})
	require.NoError(t, err)

	result, err := d.RequestAction(context.Background(), operator, transfer(500))
	require.NoError(t, err)
	pending, ok := result.(contracts.PendingSignatures)
	require.True(t, ok, "expected PendingSignatures, got %T", result)
	require.Equal(t, uint32(2), pending.Proposal.RequiredSignatures)
	require.Equal(t, contracts.ProposalPending, pending.Proposal.Status)
	require.Equal(t, operator, pending.Proposal.Requester)
}

func TestSignRequest_ApprovalTriggersExecution(t *testing.T) {
	d, _, _ := newDispatcher(t)
	_, err := d.AddPolicy(owner, contracts.Policy{
		Name:       "require-2",
		Conditions: []contracts.Condition{contracts.MaxAmount(1_000_000)},
		Action:     contracts.RequireThreshold{Required: 2},
		Priority:   1,
	})
	require.NoError(t, err)

	secondSigner := contracts.Principal("signer-2")
	require.NoError(t, d.AssignRole(owner, secondSigner, contracts.RoleOperator))

	result, err := d.RequestAction(context.Background(), operator, transfer(500))
	require.NoError(t, err)
	pending := result.(contracts.PendingSignatures)

	p, err := d.SignRequest(context.Background(), secondSigner, pending.Proposal.ID)
	require.NoError(t, err)
	require.Equal(t, contracts.ProposalPending, p.Status, "one of two required signatures should not yet approve")

	p, err = d.SignRequest(context.Background(), owner, pending.Proposal.ID)
	require.NoError(t, err)
	require.Equal(t, contracts.ProposalExecuted, p.Status, "the threshold-meeting signature executes within the same call")

	final, err := d.SignRequest(context.Background(), operator, pending.Proposal.ID)
	require.Error(t, err, "signing an already-approved/executed proposal should fail")
	_ = final
}

func TestSignRequest_DoubleSignRejected(t *testing.T) {
	d, _, _ := newDispatcher(t)
	_, err := d.AddPolicy(owner, contracts.Policy{
		Name:       "require-2",
		Conditions: []contracts.Condition{contracts.MaxAmount(1_000_000)},
		Action:     contracts.RequireThreshold{Required: 2},
		Priority:   1,
	})
	require.NoError(t, err)

	result, err := d.RequestAction(context.Background(), operator, transfer(500))
	require.NoError(t, err)
	pending := result.(contracts.PendingSignatures)

	p, err := d.SignRequest(context.Background(), operator, pending.Proposal.ID)
	require.NoError(t, err)
	require.Equal(t, contracts.ProposalPending, p.Status, "one of two required signatures should not yet approve")

	_, err = d.SignRequest(context.Background(), operator, pending.Proposal.ID)
	require.Error(t, err, "the same signer signing twice should not count as a second distinct approval")
}

func TestSignRequest_ExpiredProposalRejectsSign(t *testing.T) {
	d, _, fixed := newDispatcher(t)
	_, err := d.AddPolicy(owner, contracts.Policy{
		Name:       "require-2",
		Conditions: []contracts.Condition{contracts.MaxAmount(1_000_000)},
		Action:     contracts.RequireThreshold{Required: 2},
		Priority:   1,
	})
	require.NoError(t, err)

	result, err := d.RequestAction(context.Background(), operator, transfer(500))
	require.NoError(t, err)
	pending := result.(contracts.PendingSignatures)

	fixed.Advance(25 * 3600 * 1_000_000_000) // past the 24h default expiry

	secondSigner := contracts.Principal("signer-2")
	require.NoError(t, d.AssignRole(owner, secondSigner, contracts.RoleOperator))
	_, err = d.SignRequest(context.Background(), secondSigner, pending.Proposal.ID)
	require.Error(t, err)
}

func TestRejectRequest_TransitionsToRejected(t *testing.T) {
	d, _, _ := newDispatcher(t)
	_, err := d.AddPolicy(owner, contracts.Policy{
		Name:       "require-2",
		Conditions: []contracts.Condition{contracts.MaxAmount(1_000_000)},
		Action:     contracts.RequireThreshold{Required: 2},
		Priority:   1,
	})
	require.NoError(t, err)

	result, err := d.RequestAction(context.Background(), operator, transfer(500))
	require.NoError(t, err)
	pending := result.(contracts.PendingSignatures)

	require.NoError(t, d.RejectRequest(owner, pending.Proposal.ID, "suspicious destination"))

	_, err = d.SignRequest(context.Background(), owner, pending.Proposal.ID)
	require.Error(t, err)
}

func TestPause_BlocksNewActionsButNotQueries(t *testing.T) {
	d, _, _ := newDispatcher(t)
	_, err := d.AddPolicy(owner, contracts.Policy{
		Name:       "allow-all",
		Conditions: []contracts.Condition{contracts.MaxAmount(1_000_000)},
		Action:     contracts.Allow{},
		Priority:   1,
	})
	require.NoError(t, err)

	require.NoError(t, d.Pause(owner))
	require.True(t, d.IsPaused())

	result, err := d.RequestAction(context.Background(), operator, transfer(100))
	require.NoError(t, err)
	_, ok := result.(contracts.DeniedResult)
	require.True(t, ok)

	require.NoError(t, d.Resume(owner))
	require.False(t, d.IsPaused())

	result2, err := d.RequestAction(context.Background(), operator, transfer(100))
	require.NoError(t, err)
	_, ok = result2.(contracts.Executed)
	require.True(t, ok)
}

func TestAuditEntryRecordedForExecutedOutcome(t *testing.T) {
	d, _, _ := newDispatcher(t)
	_, err := d.AddPolicy(owner, contracts.Policy{
		Name:       "allow-all",
		Conditions: []contracts.Condition{contracts.MaxAmount(1_000_000)},
		Action:     contracts.Allow{},
		Priority:   1,
	})
	require.NoError(t, err)

	_, err = d.RequestAction(context.Background(), operator, transfer(100))
	require.NoError(t, err)

	entries, err := d.GetAuditLogs(owner, nil, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].ExecutionResult)
	require.True(t, entries[0].ExecutionResult.Success)
}

func TestRequesterAttributionSurvivesApproval(t *testing.T) {
	d, _, _ := newDispatcher(t)
	_, err := d.AddPolicy(owner, contracts.Policy{
		Name:       "require-2",
		Conditions: []contracts.Condition{contracts.MaxAmount(1_000_000)},
		Action:     contracts.RequireThreshold{Required: 2},
		Priority:   1,
	})
	require.NoError(t, err)

	result, err := d.RequestAction(context.Background(), operator, transfer(500))
	require.NoError(t, err)
	pending := result.(contracts.PendingSignatures)

	secondSigner := contracts.Principal("signer-2")
	require.NoError(t, d.AssignRole(owner, secondSigner, contracts.RoleOperator))
	_, err = d.SignRequest(context.Background(), secondSigner, pending.Proposal.ID)
	require.NoError(t, err)
	_, err = d.SignRequest(context.Background(), owner, pending.Proposal.ID)
	require.NoError(t, err)

	entries, err := d.GetAuditLogs(owner, nil, nil)
	require.NoError(t, err)
	var entry *contracts.AuditEntry
	for i := range entries {
		if entries[i].ProposalID != nil && *entries[i].ProposalID == pending.Proposal.ID {
			entry = &entries[i]
		}
	}
	require.NotNil(t, entry, "expected an audit entry linked to the proposal")
	require.Equal(t, operator, entry.Requester)
	require.NotNil(t, entry.ExecutionResult)
	require.True(t, entry.ExecutionResult.Success)
}
