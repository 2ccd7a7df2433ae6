package tool

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"agentcli/internal/domain"
)

// FieldError names the offending field and why it was rejected.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: %s", e.Field, e.Reason)
}

// InputSchema projects fields onto the flat object-of-strings schema the
// gateways receive. Kinds other than string are carried as strings and
// coerced back by Validate.
func InputSchema(fields []domain.Field) map[string]any {
	props := make(map[string]any, len(fields))
	for _, f := range fields {
		p := map[string]any{"type": "string"}
		if f.Description != "" {
			p["description"] = f.Description
		}
		props[f.Name] = p
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
}

// Validate checks raw arguments against the tool's fields and returns typed
// input. Tools implementing domain.InputValidator get a final say.
func Validate(t domain.Tool, args map[string]any) (domain.Input, error) {
	fields := t.Fields()
	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[f.Name] = true
	}

	unknown := make([]string, 0)
	for k := range args {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &FieldError{Field: unknown[0], Reason: "unknown field"}
	}

	in := make(domain.Input, len(fields))
	for _, f := range fields {
		raw, ok := args[f.Name]
		if !ok || raw == nil {
			if f.Required {
				return nil, &FieldError{Field: f.Name, Reason: "required"}
			}
			if f.Default != nil {
				in[f.Name] = f.Default
			}
			continue
		}
		v, err := coerce(f.Kind, raw)
		if err != nil {
			return nil, &FieldError{Field: f.Name, Reason: err.Error()}
		}
		if s, isString := v.(string); isString && f.NonEmpty && strings.TrimSpace(s) == "" {
			return nil, &FieldError{Field: f.Name, Reason: "must not be empty"}
		}
		in[f.Name] = v
	}

	if v, ok := t.(domain.InputValidator); ok {
		if err := v.Validate(in); err != nil {
			return nil, err
		}
	}
	return in, nil
}

func coerce(kind domain.FieldKind, raw any) (any, error) {
	switch kind {
	case domain.KindString, "":
		if s, ok := raw.(string); ok {
			return s, nil
		}
	case domain.KindBoolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true":
				return true, nil
			case "false", "":
				return false, nil
			}
			return nil, fmt.Errorf("expected boolean but got %q", v)
		}
	case domain.KindInteger:
		switch v := raw.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if math.Trunc(v) == v {
				return int(v), nil
			}
			return nil, fmt.Errorf("expected integer but got %v", v)
		case json.Number:
			n, err := v.Int64()
			if err != nil {
				return nil, fmt.Errorf("expected integer but got %q", v.String())
			}
			return int(n), nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("expected integer but got %q", v)
			}
			return n, nil
		}
	default:
		return nil, fmt.Errorf("unsupported field kind %q", kind)
	}
	return nil, fmt.Errorf("expected %s but got %s", kindName(kind), typeName(raw))
}

func kindName(kind domain.FieldKind) string {
	if kind == "" {
		return string(domain.KindString)
	}
	return string(kind)
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int64, json.Number:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}
