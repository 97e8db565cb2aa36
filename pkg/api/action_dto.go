package api

import (
	"encoding/json"
	"fmt"

	"github.com/chainguard/core/pkg/contracts"
)

// actionDTO mirrors the wire JSON shape of a request_action body. Like
// config's policy/condition DTOs, it exists because encoding/json cannot
// unmarshal directly into contracts.Action, a sealed interface.
type actionDTO struct {
	Type         string  `json:"type"`
	Chain        string  `json:"chain"`
	Token        string  `json:"token"`
	TokenIn      string  `json:"token_in"`
	TokenOut     string  `json:"token_out"`
	To           string  `json:"to"`
	Spender      string  `json:"spender"`
	Network      string  `json:"network"`
	Qty          uint64  `json:"qty"`
	AmountIn     uint64  `json:"amount_in"`
	MinAmountOut uint64  `json:"min_amount_out"`
	FeeTier      *string `json:"fee_tier,omitempty"`
}

// decodeAction parses a request_action body into the closed contracts.Action
// set. An unrecognized type is a client error, never a silent default.
func decodeAction(raw []byte) (contracts.Action, error) {
	var dto actionDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return nil, fmt.Errorf("invalid action payload: %w", err)
	}
	switch dto.Type {
	case string(contracts.ActionTransfer):
		return contracts.Transfer{Chain: dto.Chain, Token: dto.Token, To: dto.To, Qty: dto.Qty}, nil
	case string(contracts.ActionSwap):
		return contracts.Swap{
			Chain:        dto.Chain,
			TokenIn:      dto.TokenIn,
			TokenOut:     dto.TokenOut,
			AmountIn:     dto.AmountIn,
			MinAmountOut: dto.MinAmountOut,
			FeeTier:      dto.FeeTier,
		}, nil
	case string(contracts.ActionApproveToken):
		return contracts.ApproveToken{Chain: dto.Chain, Token: dto.Token, Spender: dto.Spender, Qty: dto.Qty}, nil
	case string(contracts.ActionBitcoinTransfer):
		return contracts.BitcoinTransfer{Network: dto.Network, To: dto.To, Qty: dto.Qty}, nil
	default:
		return nil, fmt.Errorf("unrecognized action type %q", dto.Type)
	}
}

// actionResultView flattens a contracts.ActionResult into a JSON-friendly
// shape; clients branch on "status" rather than a Go type switch.
type actionResultView struct {
	Status   string               `json:"status"`
	Result   *contracts.ExecutionResult `json:"result,omitempty"`
	Proposal *contracts.Proposal  `json:"proposal,omitempty"`
	Reason   string               `json:"reason,omitempty"`
}

func viewActionResult(r contracts.ActionResult) actionResultView {
	switch v := r.(type) {
	case contracts.Executed:
		return actionResultView{Status: "executed", Result: &v.Result}
	case contracts.PendingSignatures:
		return actionResultView{Status: "pending_signatures", Proposal: &v.Proposal}
	case contracts.DeniedResult:
		return actionResultView{Status: "denied", Reason: v.Reason}
	default:
		return actionResultView{Status: "unknown"}
	}
}
