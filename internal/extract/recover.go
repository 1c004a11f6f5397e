// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package extract recovers structured JSON documents from free-text language
// model output. Recovery tries a fixed sequence of strategies and never keeps
// state between calls: the same text and shape always produce the same bytes.
//
// Strategies, first success wins:
//
//  1. the whole trimmed text as strict JSON, returned unchanged;
//  2. embedded object candidates (fenced code block, first balanced {...},
//     greedy {...}), each repaired with json-repair when strict parsing fails;
//  3. for list shapes, the record pattern's matches wrapped as
//     {"<field>": [...]}, or the empty list when nothing matches;
//  4. a *MalformedOutputError carrying the text.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/xeipuuv/gojsonschema"
)

// Shape describes the document a caller expects the model to emit.
type Shape struct {
	// Name labels the shape in errors and logs.
	Name string

	// Field is the list field of record-list shapes (e.g. "searches").
	Field string

	// RecordPattern matches one record-shaped substring. When set, strategy 3
	// rebuilds {"<Field>": [...]} from its matches.
	RecordPattern *regexp.Regexp

	// EmptyOnMiss returns {"<Field>": []} when no strategy finds a document.
	EmptyOnMiss bool

	// Schema, when set, is a JSON Schema every candidate must satisfy.
	Schema map[string]any

	// Aliases maps alternate top-level field names to canonical ones. Into
	// renames them before decoding.
	Aliases map[string]string
}

// MalformedOutputError reports that no strategy recovered a document.
type MalformedOutputError struct {
	Shape string
	Text  string
	Cause error
}

func (e *MalformedOutputError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("malformed %s output: %v", e.Shape, e.Cause)
	}
	return fmt.Sprintf("malformed %s output", e.Shape)
}

func (e *MalformedOutputError) Unwrap() error { return e.Cause }

var (
	errNoJSON = errors.New("no JSON object found")

	fencedRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")
	greedyRe = regexp.MustCompile(`(?s)\{.*\}`)
)

// Recover returns the JSON document for shape found in text.
func Recover(text string, shape Shape) ([]byte, error) {
	trimmed := strings.TrimSpace(text)

	lastErr := errNoJSON
	if json.Valid([]byte(trimmed)) {
		err := validate([]byte(trimmed), shape)
		if err == nil {
			return []byte(trimmed), nil
		}
		lastErr = err
	}

	for _, cand := range candidates(trimmed) {
		doc, err := parseCandidate(cand, shape)
		if err == nil {
			return doc, nil
		}
		lastErr = err
	}

	if shape.Field != "" && (shape.RecordPattern != nil || shape.EmptyOnMiss) {
		records := matchRecords(trimmed, shape.RecordPattern)
		if len(records) > 0 || shape.EmptyOnMiss {
			return wrapRecords(shape.Field, records)
		}
	}

	return nil, &MalformedOutputError{Shape: shape.Name, Text: text, Cause: lastErr}
}

// Into recovers the document for shape and decodes it into v.
func Into(text string, shape Shape, v any) error {
	doc, err := Recover(text, shape)
	if err != nil {
		return err
	}
	doc, err = applyAliases(doc, shape.Aliases)
	if err != nil {
		return &MalformedOutputError{Shape: shape.Name, Text: text, Cause: err}
	}
	if err := json.Unmarshal(doc, v); err != nil {
		return &MalformedOutputError{Shape: shape.Name, Text: text, Cause: fmt.Errorf("decoding document: %w", err)}
	}
	return nil
}

// candidates returns embedded object substrings in the order they are tried,
// without duplicates.
func candidates(text string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}

	if m := fencedRe.FindStringSubmatch(text); len(m) > 1 && strings.HasPrefix(strings.TrimSpace(m[1]), "{") {
		add(m[1])
	}
	if start := strings.IndexByte(text, '{'); start >= 0 {
		if end := balancedEnd(text, start); end > 0 {
			add(text[start:end])
		} else {
			// Unterminated object: let repair close it.
			add(text[start:])
		}
	}
	if m := greedyRe.FindString(text); m != "" {
		add(m)
	}
	return out
}

// balancedEnd returns the index just past the brace closing the object that
// opens at start, or -1. Braces inside JSON strings are ignored.
func balancedEnd(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

func parseCandidate(cand string, shape Shape) ([]byte, error) {
	doc := []byte(cand)
	if !json.Valid(doc) {
		repaired, err := jsonrepair.RepairJSON(cand)
		if err != nil {
			return nil, fmt.Errorf("repairing candidate: %w", err)
		}
		doc = []byte(strings.TrimSpace(repaired))
		if !json.Valid(doc) {
			return nil, errNoJSON
		}
	}
	if !bytes.HasPrefix(doc, []byte("{")) {
		return nil, errNoJSON
	}
	if err := validate(doc, shape); err != nil {
		return nil, err
	}
	return doc, nil
}

func matchRecords(text string, pattern *regexp.Regexp) []json.RawMessage {
	if pattern == nil {
		return nil
	}
	var records []json.RawMessage
	for _, m := range pattern.FindAllString(text, -1) {
		doc := []byte(m)
		if !json.Valid(doc) {
			repaired, err := jsonrepair.RepairJSON(m)
			if err != nil {
				continue
			}
			doc = []byte(strings.TrimSpace(repaired))
			if !json.Valid(doc) || !bytes.HasPrefix(doc, []byte("{")) {
				continue
			}
		}
		records = append(records, json.RawMessage(doc))
	}
	return records
}

func wrapRecords(field string, records []json.RawMessage) ([]byte, error) {
	if records == nil {
		records = []json.RawMessage{}
	}
	data, err := json.Marshal(map[string][]json.RawMessage{field: records})
	if err != nil {
		return nil, fmt.Errorf("wrapping %s records: %w", field, err)
	}
	return data, nil
}

// validate checks doc against the shape's schema, if any.
func validate(doc []byte, shape Shape) error {
	if len(shape.Schema) == 0 {
		return nil
	}
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(shape.Schema), gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			msgs[i] = e.String()
		}
		return fmt.Errorf("document does not match %s schema: %s", shape.Name, strings.Join(msgs, "; "))
	}
	return nil
}

func applyAliases(doc []byte, aliases map[string]string) ([]byte, error) {
	for alias, canonical := range aliases {
		if gjson.GetBytes(doc, canonical).Exists() {
			continue
		}
		v := gjson.GetBytes(doc, alias)
		if !v.Exists() {
			continue
		}
		var err error
		if doc, err = sjson.SetRawBytes(doc, canonical, []byte(v.Raw)); err != nil {
			return nil, fmt.Errorf("renaming %s: %w", alias, err)
		}
		if doc, err = sjson.DeleteBytes(doc, alias); err != nil {
			return nil, fmt.Errorf("renaming %s: %w", alias, err)
		}
	}
	return doc, nil
}
