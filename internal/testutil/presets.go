package testutil

import (
	"testing"
)

// RawTemplate is the template of the "raw" dataset type in the preset repositories.
const RawTemplate = "{visit}/{detector}.dat"

// RawRepo returns a builder for a standard repository declaring "raw"
// (bytes at RawTemplate), "calexp" (bytes derived per visit through the
// "ccdinfo" property set) and "ccdinfo".
func RawRepo(t *testing.T, dir string) *RepoBuilder {
	t.Helper()
	return NewRepo(t, dir).
		WithMapper("standard").
		WithDataset("raw", "bytes", []string{RawTemplate}).
		WithDataset("calexp", "bytes", []string{"calexp/{visit}/{ccd}.dat"},
			WithLookup("ccdinfo", []string{"visit"}, []string{"ccd"})).
		WithDataset("ccdinfo", "propertyset", []string{"info/{visit}.yaml"})
}

// ChildRepo returns a builder for a repository with no datasets of its own
// whose parents are the given URLs.
func ChildRepo(t *testing.T, dir string, parents ...string) *RepoBuilder {
	t.Helper()
	return NewRepo(t, dir).WithParents(parents...)
}
