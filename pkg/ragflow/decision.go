package ragflow

import (
	"encoding/json"
	"fmt"
	"strings"

	ferrors "github.com/randalmurphal/ragflow/pkg/ragflow/errors"
)

// DecisionPolicy controls how router and evaluator replies become decisions.
type DecisionPolicy int

const (
	// PolicyLenient inspects replies for keywords and never fails.
	// A router reply mentioning "direct" skips retrieval; an evaluator reply
	// mentioning both "sufficient" and "true" responds. Everything else
	// defaults to retrieval and refinement. This is the default.
	PolicyLenient DecisionPolicy = iota

	// PolicyStructured parses replies as a JSON object or key: value pairs.
	// A reply without a valid decision field aborts the run with *DecisionError.
	PolicyStructured
)

// String returns the policy name.
func (p DecisionPolicy) String() string {
	switch p {
	case PolicyStructured:
		return "structured"
	case PolicyLenient:
		return "lenient"
	default:
		return "unknown"
	}
}

// ParseDecisionPolicy maps a configuration value to a policy.
func ParseDecisionPolicy(s string) (DecisionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lenient", "substring":
		return PolicyLenient, nil
	case "structured", "strict":
		return PolicyStructured, nil
	default:
		return PolicyLenient, &ferrors.ValidationError{
			Field:   "decision_policy",
			Message: fmt.Sprintf("unknown policy %q", s),
		}
	}
}

// routeDecision interprets a router reply.
func (p DecisionPolicy) routeDecision(reply string) (Decision, error) {
	if p == PolicyLenient {
		if strings.Contains(strings.ToLower(reply), "direct") {
			return DecisionDirect, nil
		}
		return DecisionRetrieve, nil
	}

	fields, err := parseFields(reply)
	if err != nil {
		return DecisionNone, err
	}
	raw, ok := fields["route"]
	if !ok {
		return DecisionNone, &ferrors.ValidationError{Field: "route", Message: "missing"}
	}
	route, _ := raw.(string)
	switch strings.ToLower(strings.TrimSpace(route)) {
	case "query":
		return DecisionRetrieve, nil
	case "direct":
		return DecisionDirect, nil
	default:
		return DecisionNone, &ferrors.ValidationError{
			Field:   "route",
			Message: fmt.Sprintf("expected \"query\" or \"direct\", got %v", raw),
		}
	}
}

// sufficiencyDecision interprets an evaluator reply.
func (p DecisionPolicy) sufficiencyDecision(reply string) (Decision, error) {
	if p == PolicyLenient {
		lower := strings.ToLower(reply)
		if strings.Contains(lower, "sufficient") && strings.Contains(lower, "true") {
			return DecisionRespond, nil
		}
		return DecisionRefine, nil
	}

	fields, err := parseFields(reply)
	if err != nil {
		return DecisionNone, err
	}
	raw, ok := fields["sufficient"]
	if !ok {
		return DecisionNone, &ferrors.ValidationError{Field: "sufficient", Message: "missing"}
	}

	var sufficient bool
	switch v := raw.(type) {
	case bool:
		sufficient = v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true":
			sufficient = true
		case "false":
			sufficient = false
		default:
			return DecisionNone, &ferrors.ValidationError{
				Field:   "sufficient",
				Message: fmt.Sprintf("expected boolean, got %q", v),
			}
		}
	default:
		return DecisionNone, &ferrors.ValidationError{
			Field:   "sufficient",
			Message: fmt.Sprintf("expected boolean, got %T", raw),
		}
	}

	if sufficient {
		return DecisionRespond, nil
	}
	return DecisionRefine, nil
}

// parseFields extracts decision fields from a model reply.
//
// A reply containing a brace-delimited object is decoded as JSON, with
// markdown code fences ignored. Otherwise the reply is read as key: value
// pairs separated by commas or newlines; keys are lowercased and values
// have surrounding quotes removed.
func parseFields(reply string) (map[string]any, error) {
	text := stripCodeFence(strings.TrimSpace(reply))

	if start := strings.Index(text, "{"); start >= 0 {
		end := strings.LastIndex(text, "}")
		if end <= start {
			return nil, &ferrors.JSONParseError{Input: reply, Message: "unterminated object"}
		}
		fields := make(map[string]any)
		if err := json.Unmarshal([]byte(text[start:end+1]), &fields); err != nil {
			return nil, &ferrors.JSONParseError{Input: reply, Message: err.Error()}
		}
		lowered := make(map[string]any, len(fields))
		for k, v := range fields {
			lowered[strings.ToLower(k)] = v
		}
		return lowered, nil
	}

	fields := make(map[string]any)
	for _, part := range strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == '\n' }) {
		key, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.Trim(strings.TrimSpace(key), `"'`))
		if key == "" {
			continue
		}
		if _, seen := fields[key]; seen {
			continue
		}
		fields[key] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	if len(fields) == 0 {
		return nil, &ferrors.ValidationError{Message: "reply contains no decision fields"}
	}
	return fields, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
