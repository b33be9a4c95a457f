package tools

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/richinex/morph/internal/callexpr"
)

// Bind maps a parsed call onto the tool's declared parameters and returns JSON arguments.
// Positional arguments bind in declaration order, keywords by name; types are checked
// against ParamType.
func Bind(meta ToolMetadata, call callexpr.Call) (json.RawMessage, error) {
	if len(call.Args) > len(meta.Parameters) {
		return nil, fmt.Errorf("%s() takes %d positional arguments but %d were given",
			meta.Name, len(meta.Parameters), len(call.Args))
	}

	bound := make(map[string]any, len(call.Args)+len(call.Kwargs))
	for i, v := range call.Args {
		bound[meta.Parameters[i].Name] = v
	}

	for _, kw := range call.Kwargs {
		if _, ok := findParam(meta, kw.Name); !ok {
			return nil, fmt.Errorf("%s() got an unexpected keyword argument '%s'", meta.Name, kw.Name)
		}
		if _, dup := bound[kw.Name]; dup {
			return nil, fmt.Errorf("%s() got multiple values for argument '%s'", meta.Name, kw.Name)
		}
		bound[kw.Name] = kw.Value
	}

	for _, p := range meta.Parameters {
		v, ok := bound[p.Name]
		if !ok {
			if p.Required {
				return nil, fmt.Errorf("%s() missing required argument: '%s'", meta.Name, p.Name)
			}
			continue
		}
		coerced, err := checkType(p, v)
		if err != nil {
			return nil, fmt.Errorf("%s(): %w", meta.Name, err)
		}
		bound[p.Name] = coerced
	}

	data, err := json.Marshal(bound)
	if err != nil {
		return nil, fmt.Errorf("%s(): cannot encode arguments: %w", meta.Name, err)
	}
	return data, nil
}

func findParam(meta ToolMetadata, name string) (ToolParameter, bool) {
	for _, p := range meta.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ToolParameter{}, false
}

func checkType(p ToolParameter, v any) (any, error) {
	if v == nil {
		if p.Required {
			return nil, fmt.Errorf("argument '%s' must not be None", p.Name)
		}
		return nil, nil
	}

	ok := true
	switch p.ParamType {
	case "", "any":
	case "string":
		_, ok = v.(string)
	case "integer":
		switch n := v.(type) {
		case int64:
		case float64:
			if n != math.Trunc(n) {
				ok = false
				break
			}
			return int64(n), nil
		default:
			ok = false
		}
	case "number":
		switch v.(type) {
		case int64, float64:
		default:
			ok = false
		}
	case "boolean":
		_, ok = v.(bool)
	case "array":
		_, ok = v.([]any)
	case "object":
		_, ok = v.(map[string]any)
	}
	if !ok {
		return nil, fmt.Errorf("argument '%s' must be %s, not %s", p.Name, p.ParamType, typeName(v))
	}
	return v, nil
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "None"
	case string:
		return "string"
	case int64:
		return "integer"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
