package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ChainGuard-specific semantic convention attributes covering the
// request-flow concepts the dispatcher names: actions, policy decisions,
// proposals, and chain execution.
var (
	AttrCaller     = attribute.Key("chainguard.caller")
	AttrActionType = attribute.Key("chainguard.action.type")
	AttrChain      = attribute.Key("chainguard.action.chain")

	AttrPolicyName   = attribute.Key("chainguard.policy.name")
	AttrPolicyResult = attribute.Key("chainguard.policy.decision")

	AttrProposalID       = attribute.Key("chainguard.proposal.id")
	AttrRequiredSigs     = attribute.Key("chainguard.proposal.required_signatures")
	AttrProposalStatus   = attribute.Key("chainguard.proposal.status")

	AttrExecutionSuccess = attribute.Key("chainguard.execution.success")
	AttrExecutionTxHash  = attribute.Key("chainguard.execution.tx_hash")
)

// ActionOperation creates attributes for a request_action call.
func ActionOperation(caller, actionType, chain string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCaller.String(caller),
		AttrActionType.String(actionType),
		AttrChain.String(chain),
	}
}

// PolicyOperation creates attributes for the policy decision an action
// produced.
func PolicyOperation(policyName, decision string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPolicyName.String(policyName),
		AttrPolicyResult.String(decision),
	}
}

// ProposalOperation creates attributes for a threshold-approval proposal.
func ProposalOperation(id uint64, requiredSigs uint32, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrProposalID.Int64(int64(id)),
		AttrRequiredSigs.Int64(int64(requiredSigs)),
		AttrProposalStatus.String(status),
	}
}

// ExecutionOperation creates attributes for a chain execution result.
func ExecutionOperation(success bool, txHash string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrExecutionSuccess.Bool(success),
		AttrExecutionTxHash.String(txHash),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records an error on the current span, if any.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
