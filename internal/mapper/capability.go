package mapper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zjrosen/butler/internal/dataid"
	"github.com/zjrosen/butler/internal/pathtemplate"
	"github.com/zjrosen/butler/internal/repoconfig"
	"github.com/zjrosen/butler/internal/storage"
)

// Capability names.
const (
	CapabilityGlob       = "glob"
	CapabilityStandard   = "standard"
	CapabilityRegistry   = "registry"
	CapabilitySingleFile = repoconfig.SingleFileMapper
)

// SingleFileDatasetType is the dataset type a single-file repository exposes.
const SingleFileDatasetType = "input"

// Query asks a capability for candidate identifiers of one dataset type.
type Query struct {
	DatasetType string
	Templates   []*pathtemplate.Template
	Partial     dataid.DataID
	Missing     dataid.KeySet
}

// Capability is the behavior a repository document selects by its mapper
// name: how the document is completed, how datasets are discovered, and
// what happens when one is written.
type Capability interface {
	Name() string
	// Configure completes a loaded document before it is validated.
	Configure(cfg *repoconfig.RepositoryConfig) error
	// Discover lists candidate identifiers in r's repository. Candidates are
	// filtered for existence by the caller.
	Discover(ctx context.Context, r *Resolver, q Query) ([]dataid.DataID, error)
	// Record notes that a dataset was written through r.
	Record(ctx context.Context, r *Resolver, datasetType string, id dataid.DataID) error
}

// Capabilities maps mapper names to capabilities. It is safe for concurrent use.
type Capabilities struct {
	mu   sync.RWMutex
	byID map[string]Capability
}

// NewCapabilities returns an empty set.
func NewCapabilities() *Capabilities {
	return &Capabilities{byID: make(map[string]Capability)}
}

// DefaultCapabilities returns the built-in capabilities.
func DefaultCapabilities() *Capabilities {
	c := NewCapabilities()
	_ = c.Register(globCapability{name: CapabilityGlob})
	_ = c.Register(globCapability{name: CapabilityStandard, classes: builtinClasses})
	_ = c.Register(registryCapability{globCapability{name: CapabilityRegistry, classes: builtinClasses}})
	_ = c.Register(singleFileCapability{})
	return c
}

// Register adds capability under its name.
func (c *Capabilities) Register(capability Capability) error {
	if capability == nil || capability.Name() == "" {
		return errors.New("capability must have a name")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byID[capability.Name()]; exists {
		return fmt.Errorf("capability %s already registered", capability.Name())
	}
	c.byID[capability.Name()] = capability
	return nil
}

// Lookup returns the capability registered under name.
func (c *Capabilities) Lookup(name string) (Capability, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	capability, ok := c.byID[name]
	return capability, ok
}

// Names lists registered capability names, sorted.
func (c *Capabilities) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.byID))
	for n := range c.byID {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// builtinClasses are the dataset classes backed by the built-in storage handlers.
var builtinClasses = map[string]repoconfig.ClassConfig{
	"exposure":    {Readers: []string{storage.ExposureRead}, Writers: []string{storage.ExposureWrite}},
	"propertyset": {Readers: []string{storage.YAMLRead}, Writers: []string{storage.YAMLWrite}},
	"bytes":       {Readers: []string{storage.BytesRead}, Writers: []string{storage.BytesWrite}},
	"text":        {Readers: []string{storage.TextRead}, Writers: []string{storage.TextWrite}},
}

// addClasses declares each class the document does not already declare.
func addClasses(cfg *repoconfig.RepositoryConfig, classes map[string]repoconfig.ClassConfig) {
	if len(classes) == 0 {
		return
	}
	if cfg.Classes == nil {
		cfg.Classes = make(map[string]*repoconfig.ClassConfig, len(classes))
	}
	for name, cl := range classes {
		if _, ok := cfg.Classes[name]; ok {
			continue
		}
		cfg.Classes[name] = &repoconfig.ClassConfig{
			Readers: append([]string(nil), cl.Readers...),
			Writers: append([]string(nil), cl.Writers...),
		}
	}
}

// globCapability discovers datasets by matching template globs against the filesystem.
type globCapability struct {
	name    string
	classes map[string]repoconfig.ClassConfig
}

func (g globCapability) Name() string { return g.name }

func (g globCapability) Configure(cfg *repoconfig.RepositoryConfig) error {
	addClasses(cfg, g.classes)
	return nil
}

func (g globCapability) Discover(ctx context.Context, r *Resolver, q Query) ([]dataid.DataID, error) {
	return r.globDiscover(ctx, q)
}

func (g globCapability) Record(context.Context, *Resolver, string, dataid.DataID) error {
	return nil
}

// registryCapability discovers datasets through the repository's dataset
// registry and records every written identifier there.
type registryCapability struct {
	globCapability
}

func (c registryCapability) Discover(ctx context.Context, r *Resolver, q Query) ([]dataid.DataID, error) {
	db, err := r.RegistryDB()
	if err != nil {
		return nil, err
	}
	return db.DatasetRegistry().Query(ctx, q.DatasetType, q.Partial)
}

func (c registryCapability) Record(ctx context.Context, r *Resolver, datasetType string, id dataid.DataID) error {
	db, err := r.RegistryDB()
	if err != nil {
		return err
	}
	return db.DatasetRegistry().Record(ctx, datasetType, id)
}

// singleFileCapability exposes one file as the dataset type "input".
type singleFileCapability struct{}

func (singleFileCapability) Name() string { return CapabilitySingleFile }

func (singleFileCapability) Configure(cfg *repoconfig.RepositoryConfig) error {
	if cfg.SingleFilePath == "" {
		return &ConfigurationError{Reason: "single-file repository without singleFilePath"}
	}
	escaped := strings.NewReplacer("{", "{{", "}", "}}").Replace(cfg.SingleFilePath)
	cfg.Datasets = map[string]*repoconfig.DatasetTypeConfig{
		SingleFileDatasetType: {DatasetClass: "exposure", URLs: []string{escaped}},
	}
	cfg.Classes = nil
	addClasses(cfg, map[string]repoconfig.ClassConfig{"exposure": builtinClasses["exposure"]})
	return nil
}

func (singleFileCapability) Discover(ctx context.Context, r *Resolver, q Query) ([]dataid.DataID, error) {
	return r.globDiscover(ctx, q)
}

func (singleFileCapability) Record(context.Context, *Resolver, string, dataid.DataID) error {
	return nil
}
