// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ops

import (
	"fmt"
	"math"
	"strings"
)

// object builds an argument schema with the given properties and required names.
func object(props map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		req := make([]any, len(required))
		for i, r := range required {
			req[i] = r
		}
		s["required"] = req
	}
	return s
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func integer(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("argument %q is empty", key)
	}
	return s, nil
}

func optString(args map[string]any, key, def string) string {
	if s, ok := args[key].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	return def
}

// optInt accepts float64 (decoded JSON) and int.
func optInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		if v == math.Trunc(v) {
			return int(v)
		}
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}

func optBool(args map[string]any, key string, def bool) bool {
	if b, ok := args[key].(bool); ok {
		return b
	}
	return def
}

func optObject(args map[string]any, key string) map[string]any {
	if m, ok := args[key].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
