// Package document models the free-form summary payload stored with each
// meeting record as a closed set of JSON value kinds.
//
// Mappings keep the key order they were decoded with so an exported file
// lists fields in the order the summary form wrote them.
package document

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindSequence
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	}
	return "unknown"
}

// Value is an immutable JSON value. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	s    string // string contents or number literal
	seq  []Value
	m    []Entry
}

// Entry is one key of a mapping.
type Entry struct {
	Key   string
	Value Value
}

func Null() Value { return Value{} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func String(s string) Value { return Value{kind: KindString, s: s} }

// Number keeps the literal as written so numbers round-trip exactly.
func Number(n json.Number) Value { return Value{kind: KindNumber, s: string(n)} }

// Sequence returns a sequence holding elems in order.
func Sequence(elems ...Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{kind: KindSequence, seq: elems}
}

// Mapping returns a mapping with entries in the given order. A repeated key
// keeps its first position and its last value.
func Mapping(entries ...Entry) Value {
	out := make([]Entry, 0, len(entries))
	idx := make(map[string]int, len(entries))
	for _, e := range entries {
		if i, ok := idx[e.Key]; ok {
			out[i].Value = e.Value
			continue
		}
		idx[e.Key] = len(out)
		out = append(out, e)
	}
	return Value{kind: KindMapping, m: out}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the contents of a string value.
func (v Value) AsString() (string, bool) {
	return v.s, v.kind == KindString
}

func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) AsNumber() (json.Number, bool) {
	return json.Number(v.s), v.kind == KindNumber
}

// Elems returns the elements of a sequence. The slice must not be modified.
func (v Value) Elems() []Value { return v.seq }

// Entries returns the entries of a mapping. The slice must not be modified.
func (v Value) Entries() []Entry { return v.m }

// Len is the number of elements or entries; zero for scalars.
func (v Value) Len() int {
	switch v.kind {
	case KindSequence:
		return len(v.seq)
	case KindMapping:
		return len(v.m)
	}
	return 0
}

// Get returns the value stored under key in a mapping.
func (v Value) Get(key string) (Value, bool) {
	for _, e := range v.m {
		if e.Key == key {
			return e.Value, true
		}
	}
	return Value{}, false
}

// Lookup follows path through nested mappings.
func (v Value) Lookup(path ...string) (Value, bool) {
	cur := v
	for _, key := range path {
		if cur.kind != KindMapping {
			return Value{}, false
		}
		next, ok := cur.Get(key)
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// Equal reports deep equality, including mapping key order.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber, KindString:
		return v.s == o.s
	case KindSequence:
		if len(v.seq) != len(o.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equal(o.seq[i]) {
				return false
			}
		}
		return true
	case KindMapping:
		if len(v.m) != len(o.m) {
			return false
		}
		for i := range v.m {
			if v.m[i].Key != o.m[i].Key || !v.m[i].Value.Equal(o.m[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}

// MapStrings returns a copy of v with fn applied to every string leaf.
// Mapping keys are left alone; sequences keep their length and order.
func MapStrings(v Value, fn func(string) string) Value {
	switch v.kind {
	case KindString:
		return String(fn(v.s))
	case KindSequence:
		out := make([]Value, len(v.seq))
		for i, e := range v.seq {
			out[i] = MapStrings(e, fn)
		}
		return Value{kind: KindSequence, seq: out}
	case KindMapping:
		out := make([]Entry, len(v.m))
		for i, e := range v.m {
			out[i] = Entry{Key: e.Key, Value: MapStrings(e.Value, fn)}
		}
		return Value{kind: KindMapping, m: out}
	}
	return v
}

// Walk calls fn for v and every nested value, depth first, parents before
// children. The path holds mapping keys and sequence indexes as strings and
// is only valid for the duration of the call.
func Walk(v Value, fn func(path []string, v Value)) {
	walk(nil, v, fn)
}

func walk(path []string, v Value, fn func([]string, Value)) {
	fn(path, v)
	switch v.kind {
	case KindSequence:
		for i, e := range v.seq {
			walk(append(path, strconv.Itoa(i)), e, fn)
		}
	case KindMapping:
		for _, e := range v.m {
			walk(append(path, e.Key), e.Value, fn)
		}
	}
}

// MarshalJSON encodes v compactly. HTML characters are not escaped.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes data into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	dv, err := Decode(data)
	if err != nil {
		return err
	}
	*v = dv
	return nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindNumber:
		if v.s == "" {
			buf.WriteByte('0')
		} else {
			buf.WriteString(v.s)
		}
	case KindString:
		return quote(buf, v.s)
	case KindSequence:
		buf.WriteByte('[')
		for i, e := range v.seq {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := e.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMapping:
		buf.WriteByte('{')
		for i, e := range v.m {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := quote(buf, e.Key); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := e.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

func quote(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}
