// Package validator implements the Parameter Validator (spec.md §4.2): a
// pure, side-effect-free check of a method's JSON-RPC parameters against the
// rules published by internal/registry. Grounded on the parameter-rule
// enforcement baked into
// original_source/src/application/services/rpc/method_registry.rs's
// RpcMethod definitions and mirrored in the Rust gateway's request handling.
package validator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"

	gwerrors "github.com/verus-rpc/gateway/infrastructure/errors"
	gwhex "github.com/verus-rpc/gateway/infrastructure/hex"
	"github.com/verus-rpc/gateway/internal/registry"
	"github.com/verus-rpc/gateway/internal/rpctypes"
)

// Validate checks req's parameters against def's ParameterRules. Positional
// params are matched by index, keyed params by name; a request may use
// either shape but not mix them. Excess positional parameters fail. The
// first violated constraint wins — no attempt is made to collect every
// error for a single parameter.
func Validate(def *registry.MethodDefinition, req *rpctypes.RpcRequest) *gwerrors.ServiceError {
	if def == nil {
		return gwerrors.MethodNotFound(req.Method)
	}

	switch req.Kind() {
	case rpctypes.ParamsPositional:
		values, err := req.PositionalParams()
		if err != nil {
			return gwerrors.InvalidParameters(def.Name, "params must be a JSON array")
		}
		return validatePositional(def, values)
	case rpctypes.ParamsKeyed:
		values, err := req.KeyedParams()
		if err != nil {
			return gwerrors.InvalidParameters(def.Name, "params must be a JSON object")
		}
		return validateKeyed(def, values)
	default:
		return validatePositional(def, nil)
	}
}

func validatePositional(def *registry.MethodDefinition, values []json.RawMessage) *gwerrors.ServiceError {
	if len(values) > len(def.ParameterRules) {
		return gwerrors.InvalidParameters(def.Name, "too many parameters")
	}
	for _, rule := range def.ParameterRules {
		var raw json.RawMessage
		if rule.Index < len(values) {
			raw = values[rule.Index]
		}
		if err := checkRule(def.Name, rule, raw); err != nil {
			return err
		}
	}
	return nil
}

func validateKeyed(def *registry.MethodDefinition, values map[string]json.RawMessage) *gwerrors.ServiceError {
	for _, rule := range def.ParameterRules {
		raw, present := values[rule.Name]
		if !present {
			raw = nil
		}
		if err := checkRule(def.Name, rule, raw); err != nil {
			return err
		}
	}
	return nil
}

// isAbsent reports whether raw carries no value, or an explicit JSON null.
func isAbsent(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}

func checkRule(method string, rule registry.ParameterRule, raw json.RawMessage) *gwerrors.ServiceError {
	if isAbsent(raw) {
		if rule.Required {
			return gwerrors.InvalidParameters(method, fmt.Sprintf("missing required parameter %q", rule.Name))
		}
		return nil
	}

	if err := checkType(rule.Type, raw); err != nil {
		return gwerrors.InvalidParameters(method, fmt.Sprintf("parameter %q: %s", rule.Name, err.Error()))
	}

	for _, c := range rule.Constraints {
		if err := checkConstraint(rule, c, raw); err != nil {
			return gwerrors.InvalidParameters(method, fmt.Sprintf("parameter %q: %s", rule.Name, err.Error()))
		}
	}
	return nil
}

func checkType(t registry.ParameterType, raw json.RawMessage) error {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil
	}
	switch t {
	case registry.TypeAny:
		return nil
	case registry.TypeString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("expected a string")
		}
	case registry.TypeNumber, registry.TypeFloat:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return fmt.Errorf("expected a number")
		}
	case registry.TypeInteger:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return fmt.Errorf("expected a number")
		}
		if f != float64(int64(f)) {
			return fmt.Errorf("expected an integer")
		}
	case registry.TypeBoolean:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return fmt.Errorf("expected a boolean")
		}
	case registry.TypeObject:
		if trimmed[0] != '{' {
			return fmt.Errorf("expected an object")
		}
	case registry.TypeArray:
		if trimmed[0] != '[' {
			return fmt.Errorf("expected an array")
		}
	}
	return nil
}

func checkConstraint(rule registry.ParameterRule, c registry.Constraint, raw json.RawMessage) error {
	switch c.Kind {
	case registry.MinLength:
		s, ok := stringValue(raw)
		if ok && len(s) < c.IntValue {
			return fmt.Errorf("must be at least %d characters", c.IntValue)
		}
	case registry.MaxLength:
		s, ok := stringValue(raw)
		if ok && len(s) > c.IntValue {
			return fmt.Errorf("must be at most %d characters", c.IntValue)
		}
	case registry.MinValue:
		f, ok := numberValue(raw)
		if ok && f < c.FloatValue {
			return fmt.Errorf("must be >= %v", c.FloatValue)
		}
	case registry.MaxValue:
		f, ok := numberValue(raw)
		if ok && f > c.FloatValue {
			return fmt.Errorf("must be <= %v", c.FloatValue)
		}
	case registry.Pattern:
		// Reserved for future rules; no registered method currently uses a
		// raw regex pattern constraint (enum/custom cover every string case).
		return nil
	case registry.Enum:
		s, ok := stringValue(raw)
		if !ok {
			return nil
		}
		for _, v := range c.EnumValues {
			if v == s {
				return nil
			}
		}
		return fmt.Errorf("must be one of %s", strings.Join(c.EnumValues, ", "))
	case registry.Custom:
		return checkCustom(c.StrValue, raw)
	}
	return nil
}

func checkCustom(id string, raw json.RawMessage) error {
	s, ok := stringValue(raw)
	if !ok {
		return nil
	}
	switch id {
	case registry.CustomHexString:
		if !gwhex.IsHexString(s) {
			return fmt.Errorf("must be a hex string")
		}
	case registry.CustomBlockHash:
		if !gwhex.IsHexString(s) || len(s) != 64 {
			return fmt.Errorf("must be a 64-character hex block hash")
		}
	case registry.CustomBase58String:
		if !isBase58(s) {
			return fmt.Errorf("must be a base58 string")
		}
	default:
		// Pipe-delimited enum shorthand, e.g. "sprout|sapling|orchard" or
		// "yes|no|whenkeyisnew", used by the registry instead of a separate
		// Enum constraint for address-type / rescan-mode parameters.
		if strings.Contains(id, "|") {
			for _, v := range strings.Split(id, "|") {
				if v == s {
					return nil
				}
			}
			return fmt.Errorf("must be one of %s", id)
		}
	}
	return nil
}

// isBase58 reports whether s decodes as base58 and excludes the ambiguous
// glyphs (0, O, I, l) the base58 alphabet omits by construction.
func isBase58(s string) bool {
	if s == "" {
		return false
	}
	if strings.ContainsAny(s, "0OIl") {
		return false
	}
	if _, err := base58.Decode(s); err != nil {
		return false
	}
	return true
}

func stringValue(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func numberValue(raw json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}
