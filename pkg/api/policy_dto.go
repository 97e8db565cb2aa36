package api

import (
	"github.com/chainguard/core/pkg/config"
	"github.com/chainguard/core/pkg/contracts"
)

// parsePolicyBody decodes the body of the add-policy/update-policy
// endpoints through config's tagged-union DTOs, the same condition/action
// conversion the policies embedded in an initialize(config) payload go
// through. The JSON Schema check ParseInitConfig runs first is not applied
// on this path.
func parsePolicyBody(raw []byte) (contracts.Policy, error) {
	return config.ParsePolicyPayload(raw)
}
