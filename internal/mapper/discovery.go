package mapper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5/util"

	"github.com/zjrosen/butler/internal/dataid"
	"github.com/zjrosen/butler/internal/log"
	"github.com/zjrosen/butler/internal/pathtemplate"
)

// ListDatasets returns every identifier of datasetType stored in the
// repository chain that is consistent with partial. Lookups configured for
// the dataset type fill keys first; the remaining keys are discovered. The
// result is never nil.
func (r *Resolver) ListDatasets(ctx context.Context, datasetType string, partial dataid.DataID) ([]dataid.DataID, error) {
	return r.listWith(ctx, datasetType, partial, nil)
}

func (r *Resolver) listWith(ctx context.Context, datasetType string, partial dataid.DataID, stack []string) ([]dataid.DataID, error) {
	def, err := r.definition(datasetType)
	if err != nil {
		return nil, err
	}

	required, err := r.GetKeys(datasetType, true)
	if err != nil {
		return nil, err
	}
	working := partial.Clone()
	needed := required.Difference(working.Keys())
	if len(needed) > 0 && len(def.config.Lookups) > 0 {
		if plan, err := PlanLookups(datasetType, needed, working, def.config.Lookups); err == nil {
			if working, err = r.runLookups(ctx, def, plan, working, stack); err != nil {
				return nil, err
			}
			needed = required.Difference(working.Keys())
		}
	}

	found := []dataid.DataID{}
	if len(needed) == 0 {
		if r.existsIn(def, working) {
			found = append(found, working)
		}
	} else {
		found, err = r.discover(ctx, def, working, needed)
		if err != nil {
			return nil, err
		}
	}

	if def.owner != r {
		for _, p := range r.parents {
			if !p.HasConfig("datasets", datasetType) {
				continue
			}
			inherited, err := p.listWith(ctx, datasetType, partial, stack)
			if err != nil {
				return nil, err
			}
			found = appendUnique(found, inherited...)
			break
		}
	}
	log.Debug(log.CatDiscovery, "Listed datasets", "datasetType", datasetType, "partial", partial.String(), "found", len(found))
	return found, nil
}

// DatasetExists reports whether every location of id exists in this
// repository. Parents are not consulted.
func (r *Resolver) DatasetExists(ctx context.Context, datasetType string, id dataid.DataID) (bool, error) {
	def, err := r.definition(datasetType)
	if err != nil {
		return false, err
	}
	return r.existsIn(def, id), nil
}

// LocationsExist reports whether every location is present in storage.
func (r *Resolver) LocationsExist(locs []*Location) bool {
	if len(locs) == 0 {
		return false
	}
	for _, l := range locs {
		if _, err := r.fs.Stat(l.url); err != nil {
			return false
		}
	}
	return true
}

// discover asks the capability for candidates and keeps those whose every
// location exists under this repository's root.
func (r *Resolver) discover(ctx context.Context, def *datasetDef, partial dataid.DataID, missing dataid.KeySet) ([]dataid.DataID, error) {
	candidates, err := r.capability.Discover(ctx, r, Query{
		DatasetType: def.name,
		Templates:   def.templates,
		Partial:     partial,
		Missing:     missing,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover %s in %s: %w", def.name, r.source, err)
	}

	found := make([]dataid.DataID, 0, len(candidates))
	for _, c := range candidates {
		if !c.Subsumes(partial) || !r.existsIn(def, c) {
			continue
		}
		found = appendUnique(found, c)
	}
	log.Debug(log.CatDiscovery, "Discovered datasets", "datasetType", def.name, "repo", r.source,
		"candidates", len(candidates), "found", len(found))
	return found, nil
}

// existsIn substitutes every template of def with id and checks that each
// resulting path exists.
func (r *Resolver) existsIn(def *datasetDef, id dataid.DataID) bool {
	if len(def.templates) == 0 {
		return false
	}
	for _, t := range def.templates {
		url, err := t.Substitute(id)
		if err != nil {
			return false
		}
		if _, err := r.fs.Stat(r.absolute(url)); err != nil {
			return false
		}
	}
	return true
}

// globDiscover expands each template that names every missing key into a
// glob under the repository root and recovers identifiers from the matches.
func (r *Resolver) globDiscover(ctx context.Context, q Query) ([]dataid.DataID, error) {
	var found []dataid.DataID
	for _, t := range q.Templates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		keys := dataid.NewKeySet(t.Keys()...)
		if len(q.Missing.Difference(keys)) > 0 {
			continue
		}
		ids, err := r.globTemplate(t, q)
		if err != nil {
			return nil, err
		}
		found = appendUnique(found, ids...)
	}
	return found, nil
}

func (r *Resolver) globTemplate(t *pathtemplate.Template, q Query) ([]dataid.DataID, error) {
	m, err := t.ReverseMatcher(q.Partial, q.Missing)
	if err != nil {
		return nil, err
	}

	root := r.cfg.RepoPath
	pattern := m.Glob
	absolute := filepath.IsAbs(t.String())
	if !absolute && root != "" {
		pattern = filepath.Join(pathtemplate.EscapeGlob(root), m.Glob)
	}

	paths, err := util.Glob(r.fs, pattern)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}

	var ids []dataid.DataID
	for _, p := range paths {
		rel := p
		if !absolute && root != "" {
			rel, err = filepath.Rel(root, p)
			if err != nil || strings.HasPrefix(rel, "..") {
				continue
			}
		}
		id, ok := m.Match(filepath.ToSlash(rel), q.Partial)
		if !ok {
			continue
		}
		ids = append(ids, id)
	}
	log.Debug(log.CatDiscovery, "Globbed template", "pattern", pattern, "paths", len(paths), "matched", len(ids))
	return ids, nil
}

// appendUnique appends each id not already present, compared by canonical form.
func appendUnique(dst []dataid.DataID, ids ...dataid.DataID) []dataid.DataID {
	seen := make(map[string]struct{}, len(dst)+len(ids))
	for _, id := range dst {
		seen[id.String()] = struct{}{}
	}
	for _, id := range ids {
		s := id.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		dst = append(dst, id)
	}
	return dst
}
