// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Models are loose about scalar types inside otherwise valid documents. The
// decoders below accept the common variants so one odd field does not cost
// the whole report.

// flexString accepts a string, number or boolean. null leaves it empty.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexString(fmt.Sprint(b))
		return nil
	}
	return fmt.Errorf("expected a string or number, got %s", data)
}

// entityKeys are the object keys that name an entity, in preference order.
var entityKeys = []string{"name", "entity_name", "entity", "id", "label"}

// entityList accepts a single name or a list whose items are names or
// objects carrying a name under one of entityKeys.
type entityList []string

func (e *entityList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	var items []json.RawMessage
	if data[0] == '[' {
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
	} else {
		items = []json.RawMessage{data}
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		name, err := entityName(item)
		if err != nil {
			return err
		}
		if name != "" {
			out = append(out, name)
		}
	}
	*e = out
	return nil
}

func entityName(item json.RawMessage) (string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(item, &obj); err != nil {
		var s flexString
		if err := json.Unmarshal(item, &s); err != nil {
			return "", fmt.Errorf("entity must be a name or an object: %w", err)
		}
		return string(s), nil
	}
	for _, k := range entityKeys {
		if raw, ok := obj[k]; ok {
			var s flexString
			if err := json.Unmarshal(raw, &s); err == nil && s != "" {
				return string(s), nil
			}
		}
	}
	return "", fmt.Errorf("entity object has none of %s", strings.Join(entityKeys, ", "))
}

// flexParams accepts an object, or a bare query string wrapped as
// {"query": ...}. Any other value is kept under "value".
type flexParams map[string]any

func (p *flexParams) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err == nil {
		*p = m
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = map[string]any{"query": s}
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = map[string]any{"value": v}
	return nil
}
