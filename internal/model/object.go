package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TimeFormat is the fixed-width UTC timestamp layout used for every stored
// timestamp. Fixed width keeps lexical and chronological order identical.
const TimeFormat = "2006-01-02T15:04:05.000000Z"

// Now returns the current UTC time formatted with TimeFormat.
func Now() string {
	return FormatTime(time.Now())
}

// FormatTime formats t in UTC with TimeFormat.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Object is an arbitrary JSON object. Values are nil, bool, json.Number or
// float64, string, []any or map[string]any.
type Object map[string]any

// DecodeObject parses a JSON object. Numbers are kept as json.Number so that
// stored payloads round-trip without float conversion. Empty input and a JSON
// null both decode to nil.
func DecodeObject(data []byte) (Object, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var o Object
	if err := dec.Decode(&o); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	return o, nil
}

// DecodeValue parses any JSON value with json.Number numbers.
func DecodeValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Encode returns the JSON encoding of o. A nil object encodes as "{}".
func (o Object) Encode() (string, error) {
	if o == nil {
		return "{}", nil
	}
	b, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("encode object: %w", err)
	}
	return string(b), nil
}

// Clone returns a deep copy of o.
func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	out := make(Object, len(o))
	for k, v := range o {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Object(t).Clone())
	case Object:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// AsMap reports whether v is a JSON object and returns it.
func AsMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Object:
		return t, true
	}
	return nil, false
}

// MergeOneLevel copies base and applies overrides on top of it. When both
// sides hold an object under the same key the two objects are merged key by
// key; any other override value replaces the base value outright. Neither
// argument is modified.
func MergeOneLevel(base, overrides Object) Object {
	out := base.Clone()
	if out == nil {
		out = Object{}
	}
	for k, v := range overrides {
		nv, nok := AsMap(v)
		ov, ook := AsMap(out[k])
		if nok && ook {
			merged := make(map[string]any, len(ov)+len(nv))
			for ik, iv := range ov {
				merged[ik] = iv
			}
			for ik, iv := range nv {
				merged[ik] = cloneValue(iv)
			}
			out[k] = merged
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}
