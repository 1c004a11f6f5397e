// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Op selects how a patch changes its target.
type Op int

const (
	// OpSet replaces the value at the path, creating it if missing.
	OpSet Op = iota
	// OpAppend appends the value to the list at the path, or each element
	// when the value is a slice. A missing list is created.
	OpAppend
)

func (o Op) String() string {
	if o == OpAppend {
		return "append"
	}
	return "set"
}

// Patch is one field-level change.
//
// Path is dotted with optional selectors on list segments:
//
//	status                       top-level field
//	gaps[2].searches             element by index
//	gaps[gap_id=g1].complete     first element whose gap_id is "g1"
//
// Selectors resolve against the stored document inside the store's critical
// section, after the re-read.
type Patch struct {
	Path  string
	Value any
	Op    Op
}

// Set returns an OpSet patch.
func Set(path string, value any) Patch {
	return Patch{Path: path, Value: value, Op: OpSet}
}

// Append returns an OpAppend patch.
func Append(path string, value any) Patch {
	return Patch{Path: path, Value: value, Op: OpAppend}
}

type segment struct {
	key    string
	index  int // -1 when unset
	selKey string
	selVal string
}

func parsePath(path string) ([]segment, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: empty path", ErrBadPath)
	}
	var segs []segment
	for _, part := range splitPath(path) {
		seg := segment{index: -1}
		key, sel, hasSel := strings.Cut(part, "[")
		seg.key = key
		if seg.key == "" {
			return nil, fmt.Errorf("%w: %q has an empty segment", ErrBadPath, path)
		}
		if hasSel {
			if !strings.HasSuffix(sel, "]") {
				return nil, fmt.Errorf("%w: %q has an unterminated selector", ErrBadPath, path)
			}
			sel = strings.TrimSuffix(sel, "]")
			if k, v, ok := strings.Cut(sel, "="); ok {
				if k == "" {
					return nil, fmt.Errorf("%w: %q has an empty selector key", ErrBadPath, path)
				}
				seg.selKey, seg.selVal = k, v
			} else {
				n, err := strconv.Atoi(sel)
				if err != nil || n < 0 {
					return nil, fmt.Errorf("%w: %q has a bad index %q", ErrBadPath, path, sel)
				}
				seg.index = n
			}
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

// splitPath splits on dots outside selector brackets, so selector values may
// contain dots (e.g. gaps[url=http://a.b]).
func splitPath(path string) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		case '.':
			if depth == 0 {
				parts = append(parts, path[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, path[start:])
}

var gjsonEscaper = strings.NewReplacer(`\`, `\\`, `.`, `\.`, `*`, `\*`, `?`, `\?`, `|`, `\|`, `#`, `\#`, `@`, `\@`)

// resolve turns a selector path into a gjson/sjson path for doc.
func resolve(doc []byte, path string) (string, error) {
	segs, err := parsePath(path)
	if err != nil {
		return "", err
	}
	var out []string
	for _, seg := range segs {
		out = append(out, gjsonEscaper.Replace(seg.key))
		if seg.index < 0 && seg.selKey == "" {
			continue
		}
		list := gjson.GetBytes(doc, strings.Join(out, "."))
		if !list.IsArray() {
			return "", fmt.Errorf("%w: %q: %s is not a list", ErrBadPath, path, seg.key)
		}
		elems := list.Array()
		idx := seg.index
		if seg.selKey != "" {
			idx = -1
			for i, e := range elems {
				if e.Get(gjsonEscaper.Replace(seg.selKey)).String() == seg.selVal {
					idx = i
					break
				}
			}
			if idx < 0 {
				return "", fmt.Errorf("%w: %q: no %s element with %s=%s", ErrBadPath, path, seg.key, seg.selKey, seg.selVal)
			}
		} else if idx >= len(elems) {
			return "", fmt.Errorf("%w: %q: index %d out of range (%d elements)", ErrBadPath, path, idx, len(elems))
		}
		out = append(out, strconv.Itoa(idx))
	}
	return strings.Join(out, "."), nil
}

// apply returns doc with patches applied in order.
func apply(doc []byte, patches []Patch) ([]byte, error) {
	for _, p := range patches {
		path, err := resolve(doc, p.Path)
		if err != nil {
			return nil, err
		}
		switch p.Op {
		case OpSet:
			raw, err := encode(p.Value)
			if err != nil {
				return nil, err
			}
			if doc, err = sjson.SetRawBytes(doc, path, raw); err != nil {
				return nil, fmt.Errorf("%w: setting %q: %v", ErrBadPath, p.Path, err)
			}
		case OpAppend:
			if doc, err = appendValue(doc, path, p); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown patch op %d", p.Op)
		}
	}
	return doc, nil
}

func appendValue(doc []byte, path string, p Patch) ([]byte, error) {
	cur := gjson.GetBytes(doc, path)
	var err error
	switch {
	case !cur.Exists() || cur.Type == gjson.Null:
		if doc, err = sjson.SetRawBytes(doc, path, []byte("[]")); err != nil {
			return nil, fmt.Errorf("%w: creating list %q: %v", ErrBadPath, p.Path, err)
		}
	case !cur.IsArray():
		return nil, fmt.Errorf("%w: %q is not a list", ErrBadPath, p.Path)
	}

	elems, err := elements(p.Value)
	if err != nil {
		return nil, err
	}
	for _, e := range elems {
		if doc, err = sjson.SetRawBytes(doc, path+".-1", e); err != nil {
			return nil, fmt.Errorf("%w: appending to %q: %v", ErrBadPath, p.Path, err)
		}
	}
	return doc, nil
}

// elements returns the encoded elements to append: each element of a slice
// value, or the value itself.
func elements(v any) ([][]byte, error) {
	if v != nil {
		rv := reflect.ValueOf(v)
		_, isRaw := v.(json.RawMessage)
		if !isRaw && (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Type().Elem().Kind() != reflect.Uint8 {
			out := make([][]byte, 0, rv.Len())
			for i := 0; i < rv.Len(); i++ {
				raw, err := encode(rv.Index(i).Interface())
				if err != nil {
					return nil, err
				}
				out = append(out, raw)
			}
			return out, nil
		}
	}
	raw, err := encode(v)
	if err != nil {
		return nil, err
	}
	return [][]byte{raw}, nil
}

func encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding patch value: %w", err)
	}
	return raw, nil
}

func setRaw(doc []byte, key, value string) ([]byte, error) {
	raw, err := encode(value)
	if err != nil {
		return nil, err
	}
	out, err := sjson.SetRawBytes(doc, gjsonEscaper.Replace(key), raw)
	if err != nil {
		return nil, fmt.Errorf("setting %s: %w", key, err)
	}
	return out, nil
}

func compact(doc []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
