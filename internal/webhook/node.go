package webhook

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// node wraps one position of a decoded JSON document. Every accessor is
// total: a missing key, an out of range index or a value of the wrong kind
// all yield an empty node, and scalar reads take an explicit default.
type node struct {
	v any
}

func (n node) get(key string) node {
	m, ok := n.v.(map[string]any)
	if !ok {
		return node{}
	}
	return node{v: m[key]}
}

func (n node) list() []node {
	arr, ok := n.v.([]any)
	if !ok {
		return nil
	}
	out := make([]node, len(arr))
	for i := range arr {
		out[i] = node{v: arr[i]}
	}
	return out
}

func (n node) exists() bool {
	return n.v != nil
}

func (n node) isList() bool {
	_, ok := n.v.([]any)
	return ok
}

// stringOr returns the scalar as a string, or def when the value is absent
// or empty. Numbers are rendered with their original JSON text.
func (n node) stringOr(def string) string {
	switch v := n.v.(type) {
	case string:
		if v == "" {
			return def
		}
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	}
	return def
}

// Epoch seconds of 0001-01-01 and 9999-12-31T23:59:59, the range every
// supported database can store.
const (
	minEpochSeconds = -62135596800
	maxEpochSeconds = 253402300799
)

// epochOr reads epoch seconds given either as a JSON number or a numeric
// string. Values outside years 1 to 9999 yield def.
func (n node) epochOr(def time.Time) time.Time {
	var raw string
	switch v := n.v.(type) {
	case json.Number:
		raw = v.String()
	case string:
		raw = v
	default:
		return def
	}
	if raw == "" {
		return def
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(secs) || secs < minEpochSeconds || secs > maxEpochSeconds {
		return def
	}
	return time.UnixMilli(int64(secs * 1000))
}
