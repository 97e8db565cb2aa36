package config

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/chainguard/core/pkg/contracts"
	"github.com/chainguard/core/pkg/coreerr"
	"github.com/chainguard/core/pkg/policy"
)

// initConfigSchema validates the shape of an initialize(config) payload
// before any field is decoded into contracts types: load-and-validate-
// before-trust, the same way a profile loader would, but over JSON Schema
// since the client interface here is JSON-based.
const initConfigSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["name", "default_threshold", "supported_chains"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"default_threshold": {
			"type": "object",
			"required": ["required", "total"],
			"properties": {
				"required": {"type": "integer", "minimum": 1},
				"total": {"type": "integer", "minimum": 1}
			}
		},
		"supported_chains": {
			"type": "array",
			"items": {"type": "string", "minLength": 1}
		},
		"policies": {
			"type": "array",
			"items": {"$ref": "#/definitions/policy"}
		}
	},
	"definitions": {
		"policy": {
			"type": "object",
			"required": ["name", "conditions", "action", "priority"],
			"properties": {
				"name": {"type": "string", "minLength": 1},
				"priority": {"type": "integer"},
				"schema_version": {"type": "string", "minLength": 1},
				"conditions": {"type": "array", "items": {"$ref": "#/definitions/condition"}},
				"action": {"$ref": "#/definitions/policy_action"}
			}
		},
		"condition": {
			"type": "object",
			"required": ["type"],
			"properties": {
				"type": {
					"type": "string",
					"enum": ["max_amount", "min_amount", "daily_limit", "allowed_chains", "allowed_tokens", "time_window", "cooldown", "expression"]
				}
			}
		},
		"policy_action": {
			"type": "object",
			"required": ["type"],
			"properties": {
				"type": {"type": "string", "enum": ["allow", "deny", "require_threshold"]}
			}
		}
	}
}`

var compiledInitConfigSchema = mustCompileSchema(initConfigSchema)

func mustCompileSchema(doc string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("initconfig.json", bytes.NewReader([]byte(doc))); err != nil {
		panic(fmt.Sprintf("config: invalid embedded schema: %v", err))
	}
	s, err := c.Compile("initconfig.json")
	if err != nil {
		panic(fmt.Sprintf("config: failed to compile embedded schema: %v", err))
	}
	return s
}

// InitConfig is the decoded, validated form of the `initialize(config)`
// payload.
type InitConfig struct {
	Name             string
	DefaultThreshold ThresholdConfig
	SupportedChains  []string
	Policies         []contracts.Policy
}

type ThresholdConfig struct {
	Required uint32
	Total    uint32
}

// initConfigDTO mirrors the wire JSON shape; its Condition/PolicyAction
// fields are decoded through the tagged-union DTOs below before becoming
// the closed contracts.Condition/contracts.PolicyAction sum types, since
// encoding/json cannot unmarshal directly into a sealed interface.
type initConfigDTO struct {
	Name             string          `json:"name"`
	DefaultThreshold thresholdDTO    `json:"default_threshold"`
	SupportedChains  []string        `json:"supported_chains"`
	Policies         []policyDTO     `json:"policies"`
}

type thresholdDTO struct {
	Required uint32 `json:"required"`
	Total    uint32 `json:"total"`
}

type policyDTO struct {
	Name          string          `json:"name"`
	Priority      int64           `json:"priority"`
	SchemaVersion string          `json:"schema_version,omitempty"`
	Conditions    []conditionDTO  `json:"conditions"`
	Action        policyActionDTO `json:"action"`
}

type conditionDTO struct {
	Type     string   `json:"type"`
	Value    uint64   `json:"value,omitempty"`
	Tokens   []string `json:"tokens,omitempty"`
	Chains   []string `json:"chains,omitempty"`
	Start    uint64   `json:"start,omitempty"`
	End      uint64   `json:"end,omitempty"`
	Seconds  uint64   `json:"seconds,omitempty"`
	Source   string   `json:"source,omitempty"`
}

type policyActionDTO struct {
	Type      string            `json:"type"`
	Required  uint32            `json:"required,omitempty"`
	FromRoles []contracts.Role  `json:"from_roles,omitempty"`
}

// ParseInitConfig validates raw against the embedded JSON Schema, then
// decodes it into an InitConfig. Both steps must succeed before any
// field is trusted — a schema violation is a ConfigError, and so is an
// unrecognized condition/action type, since an unrecognized tagged
// variant must never silently become a no-op policy.
func ParseInitConfig(raw []byte) (InitConfig, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return InitConfig{}, fmt.Errorf("config: invalid json: %w", err)
	}
	if err := compiledInitConfigSchema.Validate(generic); err != nil {
		return InitConfig{}, fmt.Errorf("config: schema validation: %w: %w", coreerr.ErrConfig, err)
	}

	var dto initConfigDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return InitConfig{}, fmt.Errorf("config: decode: %w", err)
	}

	policies := make([]contracts.Policy, 0, len(dto.Policies))
	for _, pd := range dto.Policies {
		p, err := pd.toPolicy()
		if err != nil {
			return InitConfig{}, fmt.Errorf("config: policy %q: %w: %w", pd.Name, coreerr.ErrConfig, err)
		}
		policies = append(policies, p)
	}

	return InitConfig{
		Name: dto.Name,
		DefaultThreshold: ThresholdConfig{
			Required: dto.DefaultThreshold.Required,
			Total:    dto.DefaultThreshold.Total,
		},
		SupportedChains: dto.SupportedChains,
		Policies:        policies,
	}, nil
}

// ParsePolicyPayload decodes and converts a single policy's wire JSON (the
// body of the admin add-policy/update-policy endpoints) into a
// contracts.Policy, through the same tagged-union DTOs ParseInitConfig
// uses for the policies embedded in an initialize(config) payload.
func ParsePolicyPayload(raw []byte) (contracts.Policy, error) {
	var dto policyDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return contracts.Policy{}, fmt.Errorf("config: decode policy: %w", err)
	}
	return dto.toPolicy()
}

func (pd policyDTO) toPolicy() (contracts.Policy, error) {
	conditions := make([]contracts.Condition, 0, len(pd.Conditions))
	for _, cd := range pd.Conditions {
		c, err := cd.toCondition()
		if err != nil {
			return contracts.Policy{}, err
		}
		conditions = append(conditions, c)
	}
	action, err := pd.Action.toPolicyAction()
	if err != nil {
		return contracts.Policy{}, err
	}
	return contracts.Policy{
		Name:          pd.Name,
		Conditions:    conditions,
		Action:        action,
		Priority:      pd.Priority,
		SchemaVersion: pd.SchemaVersion,
	}, nil
}

func (cd conditionDTO) toCondition() (contracts.Condition, error) {
	switch cd.Type {
	case "max_amount":
		return contracts.MaxAmount(cd.Value), nil
	case "min_amount":
		return contracts.MinAmount(cd.Value), nil
	case "daily_limit":
		return contracts.DailyLimit(cd.Value), nil
	case "allowed_chains":
		return toSetCondition(cd.Chains), nil
	case "allowed_tokens":
		return toTokenSet(cd.Tokens), nil
	case "time_window":
		return contracts.TimeWindow{Start: cd.Start, End: cd.End}, nil
	case "cooldown":
		return contracts.Cooldown(cd.Seconds), nil
	case "expression":
		return policy.NewExpression(cd.Source)
	default:
		return nil, fmt.Errorf("unrecognized condition type %q", cd.Type)
	}
}

func toSetCondition(chains []string) contracts.AllowedChains {
	set := make(contracts.AllowedChains, len(chains))
	for _, c := range chains {
		set[c] = struct{}{}
	}
	return set
}

func toTokenSet(tokens []string) contracts.AllowedTokens {
	set := make(contracts.AllowedTokens, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func (ad policyActionDTO) toPolicyAction() (contracts.PolicyAction, error) {
	switch ad.Type {
	case "allow":
		return contracts.Allow{}, nil
	case "deny":
		return contracts.Deny{}, nil
	case "require_threshold":
		return contracts.RequireThreshold{Required: ad.Required, FromRoles: ad.FromRoles}, nil
	default:
		return nil, fmt.Errorf("unrecognized policy action type %q", ad.Type)
	}
}
