// Package chainadapters defines the two external collaborators the core
// consumes after a proposal is approved or a request is directly allowed:
// the chain-signing backend and the chain-RPC backend. The core never
// inspects signature bytes and passes chain identifiers verbatim; both
// are described purely through their call contracts so tests can inject
// deterministic fakes.
package chainadapters

import (
	"context"
	"fmt"

	"github.com/chainguard/core/pkg/contracts"
)

// Signer produces threshold-ECDSA (or chain-appropriate) signed bytes for
// an action. DerivationContext is opaque to the core — it is whatever the
// signing backend needs to select a key path, and the core passes it
// through unexamined.
type Signer interface {
	Sign(ctx context.Context, action contracts.Action, derivationContext string) ([]byte, error)
}

// RPC submits signed bytes to a chain and returns a transaction hash.
type RPC interface {
	Submit(ctx context.Context, chain string, signedPayload []byte) (txHash string, err error)
}

// Execute runs the Sign-then-Submit round trip and reduces both possible
// failure points to a single ExecutionResult, never an error return:
// downstream signer/RPC failures surface inside
// ExecutionResult{success=false}, not as an exception-like failure to the
// caller.
func Execute(ctx context.Context, signer Signer, rpc RPC, action contracts.Action, derivationContext string) contracts.ExecutionResult {
	chain := action.ChainName()

	signed, err := signer.Sign(ctx, action, derivationContext)
	if err != nil {
		return contracts.ExecutionResult{Success: false, Chain: chain, Error: fmt.Sprintf("sign: %v", err)}
	}

	txHash, err := rpc.Submit(ctx, chain, signed)
	if err != nil {
		return contracts.ExecutionResult{Success: false, Chain: chain, Error: fmt.Sprintf("submit: %v", err)}
	}

	return contracts.ExecutionResult{Success: true, Chain: chain, TxHash: txHash}
}
