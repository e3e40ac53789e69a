// Package jsonvalue defines the JSON value representation the summarizer's
// structural path walks. The fingerprint serializer (internal/requestkey)
// and the persistent cache (internal/pcache) do not use it: requestkey
// builds its canonical JSON with sjson directly, and pcache stores
// parameters_json as the string it is handed.
package jsonvalue

import (
	"github.com/tidwall/gjson"
)

// Kind is the tag of a JSON sum type: Null, Bool, Number, String, Array, Object.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
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
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value wraps a gjson.Result, exposing exactly the Kind taxonomy spec.md §9
// calls for without duplicating gjson's own parse tree.
type Value struct {
	r gjson.Result
}

// Parse parses raw JSON text into a Value. The text must be a single
// well-formed JSON document; ok is false on malformed input.
func Parse(raw string) (Value, bool) {
	if !gjson.Valid(raw) {
		return Value{}, false
	}
	return Value{r: gjson.Parse(raw)}, true
}

// FromResult wraps an already-parsed gjson.Result (e.g. a child obtained via
// ForEach) without re-parsing.
func FromResult(r gjson.Result) Value {
	return Value{r: r}
}

// Kind reports the tag of this value, splitting gjson's combined JSON type
// into Array vs. Object the way the sum type in spec.md §9 requires.
func (v Value) Kind() Kind {
	switch v.r.Type {
	case gjson.Null:
		return KindNull
	case gjson.False, gjson.True:
		return KindBool
	case gjson.Number:
		return KindNumber
	case gjson.String:
		return KindString
	case gjson.JSON:
		if v.r.IsArray() {
			return KindArray
		}
		return KindObject
	default:
		return KindNull
	}
}

func (v Value) Bool() bool      { return v.r.Bool() }
func (v Value) Number() float64 { return v.r.Num }
func (v Value) String() string  { return v.r.Str }
func (v Value) Raw() string     { return v.r.Raw }

// Array returns the element values in document order. Empty if this is not
// a JSON array.
func (v Value) Array() []Value {
	if !v.r.IsArray() {
		return nil
	}
	arr := v.r.Array()
	out := make([]Value, len(arr))
	for i, e := range arr {
		out[i] = FromResult(e)
	}
	return out
}

// Each calls fn for every member of an object in document order, stopping
// early if fn returns false. No-op if this is not a JSON object.
func (v Value) Each(fn func(key string, val Value) bool) {
	if !v.r.IsObject() {
		return
	}
	v.r.ForEach(func(key, value gjson.Result) bool {
		return fn(key.Str, FromResult(value))
	})
}

// Len reports the element/member count for arrays and objects, 0 otherwise.
func (v Value) Len() int {
	if !v.r.IsArray() && !v.r.IsObject() {
		return 0
	}
	n := 0
	v.r.ForEach(func(_, _ gjson.Result) bool {
		n++
		return true
	})
	return n
}
