package audit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chainguard/core/pkg/contracts"
)

// renderActionParams produces the deterministic, fixed-key-order textual
// form of an action. This is NOT RFC 8785 canonical JSON — JCS sorts keys
// alphabetically, which would reorder these fields away from the order the
// wire format pins them in. The two representations serve different
// purposes: this one is read by humans and tooling that depends on exact
// key order; contentHash's JCS form is tamper evidence over the entry as a
// whole and never applied to this string.
func renderActionParams(a contracts.Action) string {
	switch v := a.(type) {
	case contracts.Transfer:
		return fmt.Sprintf(`{"chain":%s,"token":%s,"to":%s,"amount":%s}`,
			q(v.Chain), q(v.Token), q(v.To), n(v.Qty))
	case contracts.Swap:
		var b strings.Builder
		fmt.Fprintf(&b, `{"chain":%s,"token_in":%s,"token_out":%s,"amount_in":%s,"min_amount_out":%s`,
			q(v.Chain), q(v.TokenIn), q(v.TokenOut), n(v.AmountIn), n(v.MinAmountOut))
		if v.FeeTier != nil {
			fmt.Fprintf(&b, `,"fee_tier":%s`, q(*v.FeeTier))
		}
		b.WriteByte('}')
		return b.String()
	case contracts.ApproveToken:
		return fmt.Sprintf(`{"chain":%s,"token":%s,"spender":%s,"amount":%s}`,
			q(v.Chain), q(v.Token), q(v.Spender), n(v.Qty))
	case contracts.BitcoinTransfer:
		return fmt.Sprintf(`{"network":%s,"to":%s,"amount":%s}`,
			q(v.Network), q(v.To), n(v.Qty))
	default:
		return `{}`
	}
}

func q(s string) string { return strconv.Quote(s) }
func n(v uint64) string { return strconv.FormatUint(v, 10) }
