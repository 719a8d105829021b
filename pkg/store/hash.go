package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// HashIDL computes a deterministic SHA-256 hash over the canonical JSON
// serialization of an IDL document. Canonical means: object keys are sorted
// recursively (lexicographic), so two IDLs equal under JSON semantics
// always hash identically regardless of field insertion order (§4.2,
// §9 "Open question — JSON hash stability").
func HashIDL(idl any) string {
	sum := sha256.Sum256(canonicalJSON(idl))
	return hex.EncodeToString(sum[:])
}

// canonicalJSON renders v as JSON bytes with every object's keys sorted.
// It works on the generic any produced by encoding/json unmarshaling
// (map[string]any, []any, and scalar types), which is what IDLCache.IDL
// holds since the IDL is treated as opaque JSON.
func canonicalJSON(v any) []byte {
	return marshalCanonical(normalize(v))
}

// normalize round-trips v through JSON so that any concrete Go struct
// becomes the same map[string]any/[]any/scalar shape a freshly parsed IDL
// would have, making the hash a pure function of JSON content, not of Go
// type.
func normalize(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func marshalCanonical(v any) []byte {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			keyJSON, _ := json.Marshal(k)
			buf = append(buf, keyJSON...)
			buf = append(buf, ':')
			buf = append(buf, marshalCanonical(val[k])...)
		}
		buf = append(buf, '}')
		return buf
	case []any:
		buf := []byte{'['}
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = append(buf, marshalCanonical(item)...)
		}
		buf = append(buf, ']')
		return buf
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return []byte("null")
		}
		return b
	}
}
