package dataid

import (
	"slices"
	"strings"
)

// KeySet is a set of identifier key names.
type KeySet map[string]struct{}

// NewKeySet builds a set from names.
func NewKeySet(names ...string) KeySet {
	ks := make(KeySet, len(names))
	for _, n := range names {
		ks.Add(n)
	}
	return ks
}

func (ks KeySet) Add(names ...string) {
	for _, n := range names {
		ks[n] = struct{}{}
	}
}

func (ks KeySet) Remove(names ...string) {
	for _, n := range names {
		delete(ks, n)
	}
}

func (ks KeySet) Has(name string) bool {
	_, ok := ks[name]
	return ok
}

// Update adds every member of other.
func (ks KeySet) Update(other KeySet) {
	for n := range other {
		ks[n] = struct{}{}
	}
}

// Difference returns the members of ks not in other.
func (ks KeySet) Difference(other KeySet) KeySet {
	out := make(KeySet)
	for n := range ks {
		if !other.Has(n) {
			out.Add(n)
		}
	}
	return out
}

// Intersection returns the members present in both sets.
func (ks KeySet) Intersection(other KeySet) KeySet {
	out := make(KeySet)
	for n := range ks {
		if other.Has(n) {
			out.Add(n)
		}
	}
	return out
}

// Intersects reports whether the sets share at least one member.
func (ks KeySet) Intersects(other KeySet) bool {
	for n := range ks {
		if other.Has(n) {
			return true
		}
	}
	return false
}

func (ks KeySet) Clone() KeySet {
	out := make(KeySet, len(ks))
	out.Update(ks)
	return out
}

// Sorted returns the members in lexical order.
func (ks KeySet) Sorted() []string {
	out := make([]string, 0, len(ks))
	for n := range ks {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

func (ks KeySet) String() string {
	return "[" + strings.Join(ks.Sorted(), ", ") + "]"
}
