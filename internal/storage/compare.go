package storage

import (
	"bytes"
	"fmt"
	"reflect"

	"gopkg.in/yaml.v3"
)

// ContentEqualer is implemented by values whose equality ignores incidental
// fields such as the path they were read from.
type ContentEqualer interface {
	EqualContent(other any) bool
}

// SameContent reports whether a stored value and a candidate carry the same
// content. Values that differ only in Go representation (map[string]int
// against the map[string]any read back from YAML, string against []byte)
// compare equal.
func SameContent(stored, candidate any) bool {
	if eq, ok := stored.(ContentEqualer); ok {
		return eq.EqualContent(candidate)
	}
	if reflect.DeepEqual(stored, candidate) {
		return true
	}
	sb, sok := rawBytes(stored)
	cb, cok := rawBytes(candidate)
	if sok && cok {
		return bytes.Equal(sb, cb)
	}
	return sameYAML(stored, candidate)
}

// Describe renders a value as text for diagnostics.
func Describe(v any) string {
	if b, ok := rawBytes(v); ok {
		return string(b)
	}
	if exp, ok := v.(*Exposure); ok {
		return fmt.Sprintf("%s\n%s", string(exp.Data), describeYAML(exp.Metadata))
	}
	return describeYAML(v)
}

func describeYAML(v any) string {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(data)
}

func rawBytes(v any) ([]byte, bool) {
	switch val := v.(type) {
	case []byte:
		return val, true
	case string:
		return []byte(val), true
	default:
		return nil, false
	}
}

func sameYAML(a, b any) bool {
	ab, err := yaml.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := yaml.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
