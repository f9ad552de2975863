// Package dataid defines data identifiers: sets of named coordinates
// (visit, detector, filter, ...) addressing one dataset instance.
package dataid

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// DataID maps key names to values. Numeric values are carried as their
// decimal string form. A DataID has no ordering semantics.
type DataID map[string]string

// New builds a DataID from arbitrary values, formatting each with its
// natural string form (ints without padding, floats in shortest form).
func New(values map[string]any) DataID {
	id := make(DataID, len(values))
	for k, v := range values {
		id[k] = FormatValue(v)
	}
	return id
}

// FormatValue renders a single identifier value.
func FormatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(v)
	}
}

// Parse reads "key=value" pairs as given on a command line.
func Parse(pairs []string) (DataID, error) {
	id := make(DataID, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid data id pair %q: expected key=value", p)
		}
		id[k] = v
	}
	return id, nil
}

// Clone returns an independent copy. Cloning nil yields an empty DataID.
func (id DataID) Clone() DataID {
	out := make(DataID, len(id))
	maps.Copy(out, id)
	return out
}

// Merge returns a copy of id updated with the entries of other.
func (id DataID) Merge(other DataID) DataID {
	out := id.Clone()
	maps.Copy(out, other)
	return out
}

// Keys returns the set of key names.
func (id DataID) Keys() KeySet {
	ks := make(KeySet, len(id))
	for k := range id {
		ks.Add(k)
	}
	return ks
}

// Has reports whether key is present.
func (id DataID) Has(key string) bool {
	_, ok := id[key]
	return ok
}

// Equal reports whether both identifiers hold exactly the same entries.
func (id DataID) Equal(other DataID) bool {
	return maps.Equal(id, other)
}

// Subsumes reports whether every entry of partial is present in id with the same value.
func (id DataID) Subsumes(partial DataID) bool {
	for k, v := range partial {
		if got, ok := id[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// String renders the identifier canonically: keys sorted, "{k1=v1, k2=v2}".
// Backslash, comma, equals sign and braces inside keys and values are
// escaped with a backslash, so distinct identifiers never render alike.
// The form is stable and used to compose lock kinds and to deduplicate
// discovered identifiers.
func (id DataID) String() string {
	keys := slices.Sorted(maps.Keys(id))
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		writeEscaped(&b, k)
		b.WriteByte('=')
		writeEscaped(&b, id[k])
	}
	b.WriteByte('}')
	return b.String()
}

func writeEscaped(b *strings.Builder, s string) {
	if !strings.ContainsAny(s, `\,={}`) {
		b.WriteString(s)
		return
	}
	for _, r := range s {
		switch r {
		case '\\', ',', '=', '{', '}':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
}
