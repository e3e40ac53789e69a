// Package requestkey canonicalizes a (tool_name, params) pair into a stable
// fingerprint: the only key either cache tier ever looks up by.
package requestkey

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/tidwall/sjson"
)

// ErrEmptyToolName is returned by Make when tool_name is empty or all
// whitespace.
var ErrEmptyToolName = errors.New("requestkey: tool name is empty")

// Key is an immutable (tool, params) identity. Equality and hashing are
// defined solely on Fingerprint, per spec.md §3.
type Key struct {
	ToolName    string
	Params      map[string]any
	Fingerprint string
}

// Make builds a Key from a tool name and an arbitrary parameter map. A nil
// map is treated as empty. The fingerprint is a hex-encoded SHA-256 over
// tool_name || 0x00 || canonical-JSON(params), where canonical JSON sorts
// object keys by codepoint order so insertion order never affects the hash.
func Make(toolName string, params map[string]any) (Key, error) {
	if strings.TrimSpace(toolName) == "" {
		return Key{}, ErrEmptyToolName
	}
	if params == nil {
		params = map[string]any{}
	}

	canon, err := canonicalJSON(params)
	if err != nil {
		return Key{}, err
	}

	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0x00})
	h.Write([]byte(canon))

	return Key{
		ToolName:    toolName,
		Params:      params,
		Fingerprint: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// Equal reports whether two keys share a fingerprint.
func (k Key) Equal(other Key) bool {
	return k.Fingerprint == other.Fingerprint
}

// canonicalJSON renders params as compact JSON with object keys sorted by
// codepoint order at every nesting level, built incrementally with sjson so
// nested maps get the same sorted treatment as the top level.
func canonicalJSON(params map[string]any) (string, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := "{}"
	var err error
	for _, k := range keys {
		v := canonicalize(params[k])
		if raw, ok := v.(json.RawMessage); ok {
			out, err = sjson.SetRaw(out, sjsonPathFor(k), string(raw))
		} else {
			out, err = sjson.Set(out, sjsonPathFor(k), v)
		}
		if err != nil {
			return "", err
		}
	}
	return out, nil
}

// sjsonPathFor escapes a map key for use as an sjson path component: dots
// and the path-special characters must not be interpreted as path
// separators, since arbitrary tool parameter names are not under our
// control.
func sjsonPathFor(key string) string {
	r := strings.NewReplacer(".", "\\.", "*", "\\*", "?", "\\?")
	return r.Replace(key)
}

// canonicalize recursively sorts map keys within nested structures before
// handing the value to sjson, since sjson.Set otherwise preserves whatever
// key order a plain map[string]any happens to range in downstream encoding.
func canonicalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		raw := "{}"
		for _, k := range keys {
			child := canonicalize(t[k])
			if rawChild, ok := child.(json.RawMessage); ok {
				raw, _ = sjson.SetRaw(raw, sjsonPathFor(k), string(rawChild))
			} else {
				raw, _ = sjson.Set(raw, sjsonPathFor(k), child)
			}
		}
		return json.RawMessage(raw)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return v
	}
}
