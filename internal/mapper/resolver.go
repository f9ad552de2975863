// Package mapper resolves dataset types and partial data identifiers to
// concrete storage locations across a tree of layered repositories.
package mapper

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	billy "github.com/go-git/go-billy/v5"

	"github.com/zjrosen/butler/internal/dataid"
	"github.com/zjrosen/butler/internal/infrastructure/sqlite"
	"github.com/zjrosen/butler/internal/log"
	"github.com/zjrosen/butler/internal/pathtemplate"
	"github.com/zjrosen/butler/internal/repoconfig"
	"github.com/zjrosen/butler/internal/storage"
)

// Resolver answers configuration and location queries for one repository.
// Its configuration is immutable after construction, so a Resolver is safe
// for concurrent use.
type Resolver struct {
	source     string
	cfg        *repoconfig.RepositoryConfig
	parents    []*Resolver
	capability Capability
	handlers   *storage.Registry
	fs         billy.Filesystem

	// templates holds the parsed URL templates of locally declared dataset types.
	templates map[string][]*pathtemplate.Template

	keyMu    sync.Mutex
	keyCache map[bool]map[string]dataid.KeySet

	dbMu sync.Mutex
	db   *sqlite.DB
}

// datasetDef is a dataset type's definition as found along the parent chain.
type datasetDef struct {
	name      string
	owner     *Resolver
	config    *repoconfig.DatasetTypeConfig
	className string
	class     *repoconfig.ClassConfig
	templates []*pathtemplate.Template
}

func newResolver(source string, cfg *repoconfig.RepositoryConfig, parents []*Resolver, capability Capability, handlers *storage.Registry, fs billy.Filesystem) (*Resolver, error) {
	if cfg.RegistryURL == "" {
		cfg.RegistryURL = filepath.Join(cfg.RepoPath, repoconfig.RegistryFileName)
	}
	if err := cfg.Seal(); err != nil {
		return nil, &ConfigurationError{Source: source, Reason: "cannot index repository configuration", Err: err}
	}

	r := &Resolver{
		source:     source,
		cfg:        cfg,
		parents:    parents,
		capability: capability,
		handlers:   handlers,
		fs:         fs,
		templates:  make(map[string][]*pathtemplate.Template, len(cfg.Datasets)),
		keyCache:   map[bool]map[string]dataid.KeySet{true: {}, false: {}},
	}

	names := make([]string, 0, len(cfg.Datasets))
	for name := range cfg.Datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		dc := cfg.Datasets[name]
		if dc == nil || dc.DatasetClass == "" {
			return nil, &ConfigurationError{Source: source, Reason: fmt.Sprintf("no dataset class configured for dataset type %s", name)}
		}
		if !r.HasConfig("classes", dc.DatasetClass) {
			return nil, &ConfigurationError{Source: source, Reason: fmt.Sprintf("unknown dataset class %s for dataset type %s", dc.DatasetClass, name)}
		}
		if len(dc.URLs) == 0 {
			return nil, &ConfigurationError{Source: source, Reason: fmt.Sprintf("no URL templates configured for dataset type %s", name)}
		}
		parsed := make([]*pathtemplate.Template, len(dc.URLs))
		for i, raw := range dc.URLs {
			t, err := pathtemplate.Parse(raw)
			if err != nil {
				return nil, &ConfigurationError{Source: source, Reason: fmt.Sprintf("bad URL template for dataset type %s", name), Err: err}
			}
			parsed[i] = t
		}
		r.templates[name] = parsed
	}

	log.Debug(log.CatMapper, "Created resolver",
		"source", source, "capability", capability.Name(), "datasets", len(names), "parents", len(parents))
	return r, nil
}

// Source returns the canonical URL the resolver was created from.
func (r *Resolver) Source() string { return r.source }

// Config returns the resolved configuration document. Callers must not modify it.
func (r *Resolver) Config() *repoconfig.RepositoryConfig { return r.cfg }

// Parents returns the parent resolvers in search order.
func (r *Resolver) Parents() []*Resolver { return slices.Clone(r.parents) }

// Capability returns the capability selected by the document's mapper name.
func (r *Resolver) Capability() Capability { return r.capability }

// RepoPath returns the repository root.
func (r *Resolver) RepoPath() string { return r.cfg.RepoPath }

// HasConfig reports whether the chain of mapping keys exists in this
// repository's document or, failing that, in any parent's.
func (r *Resolver) HasConfig(keys ...string) bool {
	if r.cfg.Has(keys...) {
		return true
	}
	for _, p := range r.parents {
		if p.HasConfig(keys...) {
			return true
		}
	}
	return false
}

// DatasetTypes lists the dataset types declared here or by any parent, sorted.
func (r *Resolver) DatasetTypes() []string {
	set := dataid.NewKeySet()
	r.collectTypes(set)
	return set.Sorted()
}

func (r *Resolver) collectTypes(set dataid.KeySet) {
	for name := range r.templates {
		set.Add(name)
	}
	for _, p := range r.parents {
		p.collectTypes(set)
	}
}

// GetKeys returns the identifier keys of datasetType. With required, the
// keys are exactly those named by its URL templates; otherwise lookup rule
// inputs and outputs and defaulted keys are included. An empty datasetType
// yields the union over every dataset type.
func (r *Resolver) GetKeys(datasetType string, required bool) (dataid.KeySet, error) {
	r.keyMu.Lock()
	cached, ok := r.keyCache[required][datasetType]
	r.keyMu.Unlock()
	if ok {
		return cached.Clone(), nil
	}

	keys := dataid.NewKeySet()
	if datasetType == "" {
		for _, name := range r.DatasetTypes() {
			ks, err := r.GetKeys(name, required)
			if err != nil {
				return nil, err
			}
			keys.Update(ks)
		}
	} else {
		def, err := r.definition(datasetType)
		if err != nil {
			return nil, err
		}
		for _, t := range def.templates {
			keys.Add(t.Keys()...)
		}
		if !required {
			for _, rule := range def.config.Lookups {
				keys.Add(rule.Inputs...)
				keys.Add(rule.Outputs...)
			}
			for k := range r.defaults(datasetType) {
				keys.Add(k)
			}
		}
	}

	r.keyMu.Lock()
	r.keyCache[required][datasetType] = keys
	r.keyMu.Unlock()
	return keys.Clone(), nil
}

// definition finds datasetType locally or in the first parent declaring it.
func (r *Resolver) definition(datasetType string) (*datasetDef, error) {
	if dc, ok := r.cfg.Dataset(datasetType); ok {
		class, ok := r.class(dc.DatasetClass)
		if !ok {
			return nil, &ConfigurationError{Source: r.source, Reason: fmt.Sprintf("unknown dataset class %s for dataset type %s", dc.DatasetClass, datasetType)}
		}
		return &datasetDef{
			name:      datasetType,
			owner:     r,
			config:    dc,
			className: dc.DatasetClass,
			class:     class,
			templates: r.templates[datasetType],
		}, nil
	}
	for _, p := range r.parents {
		if p.HasConfig("datasets", datasetType) {
			return p.definition(datasetType)
		}
	}
	return nil, &UnknownDatasetTypeError{DatasetType: datasetType}
}

func (r *Resolver) class(name string) (*repoconfig.ClassConfig, bool) {
	if cl, ok := r.cfg.Class(name); ok {
		return cl, true
	}
	for _, p := range r.parents {
		if cl, ok := p.class(name); ok {
			return cl, true
		}
	}
	return nil, false
}

// defaults returns the first default key values declared for datasetType
// along the chain.
func (r *Resolver) defaults(datasetType string) map[string]any {
	if d, ok := r.cfg.Defaults[datasetType]; ok {
		return d
	}
	for _, p := range r.parents {
		if d := p.defaults(datasetType); d != nil {
			return d
		}
	}
	return nil
}

// Map resolves datasetType and id to ordered storage locations.
//
// Missing required keys are filled from configured defaults, then from the
// dataset type's lookup rules. On read, keys still missing are discovered in
// storage and must match exactly one dataset; on write they are an error.
// A dataset type inherited from a parent is read from this repository when
// stored here, and otherwise from the first parent declaring it.
func (r *Resolver) Map(ctx context.Context, datasetType string, id dataid.DataID, forWrite bool) ([]*Location, error) {
	return r.mapWith(ctx, datasetType, id, forWrite, nil)
}

func (r *Resolver) mapWith(ctx context.Context, datasetType string, id dataid.DataID, forWrite bool, stack []string) ([]*Location, error) {
	def, err := r.definition(datasetType)
	if err != nil {
		return nil, err
	}
	if forWrite || def.owner == r {
		return r.mapIn(ctx, def, id, forWrite, stack)
	}

	locs, err := r.mapIn(ctx, def, id, false, stack)
	if err == nil && r.LocationsExist(locs) {
		return locs, nil
	}
	var notFound *DatasetNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return nil, err
	}
	for _, p := range r.parents {
		if p.HasConfig("datasets", datasetType) {
			log.Debug(log.CatMapper, "Falling through to parent", "datasetType", datasetType, "parent", p.source)
			return p.mapWith(ctx, datasetType, id, false, stack)
		}
	}
	if err != nil {
		return nil, err
	}
	return locs, nil
}

// mapIn resolves def against this repository's root.
func (r *Resolver) mapIn(ctx context.Context, def *datasetDef, id dataid.DataID, forWrite bool, stack []string) ([]*Location, error) {
	names := def.class.Readers
	if forWrite {
		names = def.class.Writers
	}
	if len(names) == 0 {
		err := &NotConfiguredError{DatasetType: def.name, DatasetClass: def.className, ForWrite: forWrite}
		log.ErrorErr(log.CatMapper, "Dataset class not configured", err)
		return nil, err
	}
	if len(names) != len(def.templates) {
		err := &ConfigurationMismatchError{
			DatasetType:  def.name,
			DatasetClass: def.className,
			ForWrite:     forWrite,
			Handlers:     len(names),
			Templates:    len(def.templates),
		}
		log.ErrorErr(log.CatMapper, "Storage handlers do not match templates", err)
		return nil, err
	}

	readers := make([]storage.Reader, len(names))
	writers := make([]storage.Writer, len(names))
	for i, name := range names {
		var err error
		if forWrite {
			writers[i], err = r.handlers.Writer(name)
		} else {
			readers[i], err = r.handlers.Reader(name)
		}
		if err != nil {
			registered, _ := r.handlers.Names()
			if forWrite {
				_, registered = r.handlers.Names()
			}
			return nil, &ConfigurationError{
				Source: def.owner.source,
				Reason: fmt.Sprintf("dataset class %s (registered: %s)", def.className, strings.Join(registered, ", ")),
				Err:    err,
			}
		}
	}

	working := id.Clone()
	for k, v := range r.defaults(def.name) {
		if !working.Has(k) {
			working[k] = dataid.FormatValue(v)
		}
	}

	required, err := r.GetKeys(def.name, true)
	if err != nil {
		return nil, err
	}
	needed := required.Difference(working.Keys())

	if len(needed) > 0 && len(def.config.Lookups) > 0 {
		plan, err := PlanLookups(def.name, needed, working, def.config.Lookups)
		switch {
		case err == nil:
			if working, err = r.runLookups(ctx, def, plan, working, stack); err != nil {
				return nil, err
			}
			needed = required.Difference(working.Keys())
		case forWrite:
			log.ErrorErr(log.CatMapper, "Lookup chain unresolvable", err, "datasetType", def.name)
			return nil, err
		default:
			log.Debug(log.CatMapper, "Lookup chain unresolvable, discovering instead",
				"datasetType", def.name, "needed", needed.String())
		}
	}

	if len(needed) > 0 {
		if forWrite {
			err := &InsufficientIdentifierError{DatasetType: def.name, DataID: working, Missing: needed}
			log.ErrorErr(log.CatMapper, "Insufficient data id for write", err)
			return nil, err
		}
		candidates, err := r.discover(ctx, def, working, needed)
		if err != nil {
			return nil, err
		}
		switch len(candidates) {
		case 0:
			return nil, &DatasetNotFoundError{DatasetType: def.name, DataID: working, Missing: needed}
		case 1:
			working = candidates[0]
		default:
			err := &AmbiguousDatasetError{DatasetType: def.name, DataID: working, Candidates: candidates}
			log.ErrorErr(log.CatMapper, "Ambiguous data id", err)
			return nil, err
		}
	}

	locs := make([]*Location, len(def.templates))
	for i, t := range def.templates {
		url, err := t.Substitute(working)
		if err != nil {
			return nil, fmt.Errorf("dataset type %s: %w", def.name, err)
		}
		locs[i] = &Location{
			url:     r.absolute(url),
			handler: names[i],
			reader:  readers[i],
			writer:  writers[i],
			id:      working.Clone(),
		}
	}
	log.Debug(log.CatMapper, "Mapped dataset", "datasetType", def.name, "dataId", working.String(),
		"forWrite", forWrite, "locations", len(locs))
	return locs, nil
}

// runLookups executes plan, each rule reading its lookup dataset type with
// the identifier known so far. Only outputs not already known are merged.
func (r *Resolver) runLookups(ctx context.Context, def *datasetDef, plan []repoconfig.LookupRule, id dataid.DataID, stack []string) (dataid.DataID, error) {
	stack = append(slices.Clone(stack), def.name)
	working := id.Clone()
	for _, rule := range plan {
		if slices.Contains(stack, rule.Dataset) {
			return nil, &UnresolvableKeysError{
				DatasetType: def.name,
				Keys:        dataid.NewKeySet(rule.Outputs...),
				Reason:      fmt.Sprintf("lookup dataset type %s depends on itself", rule.Dataset),
			}
		}
		value, _, err := r.readWith(ctx, rule.Dataset, working, stack)
		if err != nil {
			return nil, fmt.Errorf("lookup %s for dataset type %s: %w", rule.Dataset, def.name, err)
		}
		outputs, err := lookupOutputs(rule, value)
		if err != nil {
			return nil, err
		}
		working = outputs.Merge(working)
		log.Debug(log.CatMapper, "Ran lookup", "datasetType", def.name, "lookup", rule.Dataset, "outputs", outputs.String())
	}
	return working, nil
}

// Read maps datasetType for reading and threads the value through its locations.
func (r *Resolver) Read(ctx context.Context, datasetType string, id dataid.DataID) (any, []*Location, error) {
	return r.readWith(ctx, datasetType, id, nil)
}

func (r *Resolver) readWith(ctx context.Context, datasetType string, id dataid.DataID, stack []string) (any, []*Location, error) {
	locs, err := r.mapWith(ctx, datasetType, id, false, stack)
	if err != nil {
		return nil, nil, err
	}
	value, err := ReadAll(ctx, locs)
	if err != nil {
		return nil, nil, err
	}
	return value, locs, nil
}

// Record notes a written dataset with the repository's capability.
func (r *Resolver) Record(ctx context.Context, datasetType string, id dataid.DataID) error {
	return r.capability.Record(ctx, r, datasetType, id)
}

// absolute places a substituted template under the repository root.
func (r *Resolver) absolute(url string) string {
	if filepath.IsAbs(url) || r.cfg.RepoPath == "" {
		return url
	}
	return filepath.Join(r.cfg.RepoPath, url)
}

// RegistryPath returns the filesystem path of the repository's registry database.
func (r *Resolver) RegistryPath() string {
	_, path, err := repoconfig.ParseURL(r.cfg.RegistryURL)
	if err != nil {
		path = r.cfg.RegistryURL
	}
	return r.absolute(path)
}

// RegistryDB opens the registry database on first use.
func (r *Resolver) RegistryDB() (*sqlite.DB, error) {
	r.dbMu.Lock()
	defer r.dbMu.Unlock()
	if r.db != nil {
		return r.db, nil
	}
	db, err := sqlite.NewDB(r.RegistryPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open registry for %s: %w", r.source, err)
	}
	r.db = db
	return db, nil
}

// PersistConfig stores the resolved document in the registry database.
func (r *Resolver) PersistConfig(ctx context.Context) error {
	doc, err := r.cfg.Marshal()
	if err != nil {
		return err
	}
	db, err := r.RegistryDB()
	if err != nil {
		return err
	}
	if err := db.ConfigStore().Save(ctx, doc); err != nil {
		return err
	}
	log.Debug(log.CatConfig, "Persisted repository configuration", "source", r.source, "path", db.Path())
	return nil
}

// Close releases the registry database if it was opened.
func (r *Resolver) Close() error {
	r.dbMu.Lock()
	defer r.dbMu.Unlock()
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}
