// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ops

import (
	"context"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Operation is one named, schema-typed external capability.
type Operation interface {
	Kind() Kind
	Description() string
	// Schema is the JSON Schema of the arguments object.
	Schema() map[string]any
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// Func adapts a function to the Operation interface.
type Func struct {
	K      Kind
	Desc   string
	Params map[string]any
	Fn     func(ctx context.Context, args map[string]any) (any, error)
}

func (f *Func) Kind() Kind             { return f.K }
func (f *Func) Description() string    { return f.Desc }
func (f *Func) Schema() map[string]any { return f.Params }

func (f *Func) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return f.Fn(ctx, args)
}

// Set is an immutable, ordered collection holding at most one operation
// per kind. The zero value and nil are empty sets.
type Set struct {
	ops []Operation
}

// NewSet builds a set from ops in order. When two operations share a kind
// the first one wins.
func NewSet(ops ...Operation) *Set {
	s := &Set{}
	seen := make(map[Kind]bool)
	for _, op := range ops {
		if op == nil || seen[op.Kind()] {
			continue
		}
		seen[op.Kind()] = true
		s.ops = append(s.ops, op)
	}
	return s
}

// Select returns the operations whose kind is listed, in the set's order.
// Listing a kind twice has no effect; kinds the set lacks are ignored, so
// the result may be empty.
func (s *Set) Select(kinds ...Kind) *Set {
	want := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	out := &Set{}
	for _, op := range s.Ops() {
		if want[op.Kind()] {
			out.ops = append(out.ops, op)
		}
	}
	return out
}

// SelectNames is Select by operation name. Names that do not name any known
// kind are returned so callers can report them at startup.
func (s *Set) SelectNames(names ...string) (*Set, []string) {
	kinds, unknown := ParseKinds(names...)
	return s.Select(kinds...), unknown
}

// MissingError lists required kinds a set lacks.
type MissingError struct {
	Kinds []Kind
}

func (e *MissingError) Error() string {
	names := make([]string, len(e.Kinds))
	for i, k := range e.Kinds {
		names[i] = k.String()
	}
	return fmt.Sprintf("missing operations: %s", strings.Join(names, ", "))
}

// Require returns a *MissingError naming every listed kind the set lacks.
func (s *Set) Require(kinds ...Kind) error {
	var missing []Kind
	for _, k := range kinds {
		if _, ok := s.lookupKind(k); !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &MissingError{Kinds: missing}
	}
	return nil
}

// Lookup finds an operation by name.
func (s *Set) Lookup(name string) (Operation, bool) {
	k, ok := ParseKind(name)
	if !ok {
		return nil, false
	}
	return s.lookupKind(k)
}

func (s *Set) lookupKind(k Kind) (Operation, bool) {
	for _, op := range s.Ops() {
		if op.Kind() == k {
			return op, true
		}
	}
	return nil, false
}

// Map returns a new set with each operation replaced by fn(op).
func (s *Set) Map(fn func(Operation) Operation) *Set {
	out := make([]Operation, 0, s.Len())
	for _, op := range s.Ops() {
		out = append(out, fn(op))
	}
	return NewSet(out...)
}

// Names lists operation names in order.
func (s *Set) Names() []string {
	names := make([]string, 0, s.Len())
	for _, op := range s.Ops() {
		names = append(names, op.Kind().String())
	}
	return names
}

// Len returns the number of operations.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ops)
}

// Ops returns a copy of the operations in order.
func (s *Set) Ops() []Operation {
	if s == nil {
		return nil
	}
	return append([]Operation(nil), s.ops...)
}

// Validate checks args against the operation's schema.
func Validate(op Operation, args map[string]any) error {
	schema := op.Schema()
	if len(schema) == 0 {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			msgs[i] = e.String()
		}
		return fmt.Errorf("invalid arguments for %s: %s", op.Kind(), strings.Join(msgs, "; "))
	}
	return nil
}
