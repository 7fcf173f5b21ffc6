// Package records turns FileMaker rows into normalized records and keys
// them by identifier.
//
// A record maps every declared field name to a Value. A Value is either null,
// a string, or an ordered list of (string | null) entries. Which fields hold
// lists is decided across the whole export by Unify, never per row.
package records

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Value is one field value of a Record.
//
// The zero Value is null.
type Value struct {
	str    *string
	list   []*string
	isList bool
}

// Null returns the null scalar.
func Null() Value { return Value{} }

// String returns a string scalar.
func String(s string) Value { return Value{str: &s} }

// List returns a list value. A nil entry encodes null.
func List(entries ...*string) Value {
	out := make([]*string, len(entries))
	copy(out, entries)
	return Value{list: out, isList: true}
}

// Strings is List for entries that are all present.
func Strings(entries ...string) Value {
	out := make([]*string, len(entries))
	for i := range entries {
		s := entries[i]
		out[i] = &s
	}
	return Value{list: out, isList: true}
}

// IsList reports whether v is a list (possibly empty).
func (v Value) IsList() bool { return v.isList }

// IsNull reports whether v is the null scalar.
func (v Value) IsNull() bool { return !v.isList && v.str == nil }

// Str returns the scalar string and whether it is present.
func (v Value) Str() (string, bool) {
	if v.isList || v.str == nil {
		return "", false
	}
	return *v.str, true
}

// Entries returns the list entries; nil for scalars.
func (v Value) Entries() []*string {
	if !v.isList {
		return nil
	}
	return v.list
}

// Len is the number of list entries, or 0 for a scalar.
func (v Value) Len() int {
	if !v.isList {
		return 0
	}
	return len(v.list)
}

// wrap returns v as a one-element list. Lists are returned unchanged.
func (v Value) wrap() Value {
	if v.isList {
		return v
	}
	return Value{list: []*string{v.str}, isList: true}
}

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.isList != o.isList {
		return false
	}
	if !v.isList {
		return eqStr(v.str, o.str)
	}
	if len(v.list) != len(o.list) {
		return false
	}
	for i := range v.list {
		if !eqStr(v.list[i], o.list[i]) {
			return false
		}
	}
	return true
}

func eqStr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// String renders v for log lines.
func (v Value) String() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(b)
}

// MarshalJSON encodes null, "string" or ["a", null, ...]. HTML characters are
// not escaped so output matches the source text.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.isList {
		if v.str == nil {
			return []byte("null"), nil
		}
		return marshalNoEscape(*v.str)
	}
	entries := make([]any, len(v.list))
	for i, e := range v.list {
		if e != nil {
			entries[i] = *e
		}
	}
	return marshalNoEscape(entries)
}

// UnmarshalJSON accepts exactly the shapes MarshalJSON produces.
func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*v = Null()
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case len(b) > 0 && b[0] == '[':
		var entries []*string
		if err := json.Unmarshal(b, &entries); err != nil {
			return fmt.Errorf("list value: %w", err)
		}
		*v = List(entries...)
		return nil
	default:
		return fmt.Errorf("unsupported value %s (want null, string or list)", truncate(b, 40))
	}
}

func marshalNoEscape(x any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(x); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Record maps field name to value.
type Record map[string]Value

// Equal reports whether r and o hold the same keys and values.
func (r Record) Equal(o Record) bool {
	if len(r) != len(o) {
		return false
	}
	for k, v := range r {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Clone returns a copy of r that shares no list backing arrays with it.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		if v.isList {
			v = List(v.list...)
		}
		out[k] = v
	}
	return out
}

// Compact renders r as single-line JSON with sorted keys and the same
// unescaped text as the written document.
func (r Record) Compact() ([]byte, error) {
	return marshalNoEscape(r)
}
