// Package repoconfig provides the repository configuration document model,
// its YAML codec, and discovery of the document behind a repository URL.
package repoconfig

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// LookupRule declares a derivation of some identifier keys from others.
// The rule runs by reading Dataset with the identifier known so far.
type LookupRule struct {
	Dataset string   `yaml:"dataset"`
	Inputs  []string `yaml:"inputs,omitempty"`
	Outputs []string `yaml:"outputs,omitempty"`
}

// DatasetTypeConfig describes how a dataset type is stored.
type DatasetTypeConfig struct {
	DatasetClass string       `yaml:"datasetClass"`
	URLs         []string     `yaml:"urls"`
	Lookups      []LookupRule `yaml:"lookups,omitempty"`
}

// ClassConfig names the storage handlers of a dataset class, one per URL template.
type ClassConfig struct {
	Readers []string `yaml:"readers,omitempty"`
	Writers []string `yaml:"writers,omitempty"`
}

// RepositoryConfig is a repository configuration document.
type RepositoryConfig struct {
	RepoPath       string                        `yaml:"repoPath,omitempty"`
	RegistryURL    string                        `yaml:"registryUrl,omitempty"`
	Mapper         string                        `yaml:"mapper,omitempty"`
	SingleFilePath string                        `yaml:"singleFilePath,omitempty"`
	Parents        []string                      `yaml:"parents,omitempty"`
	Datasets       map[string]*DatasetTypeConfig `yaml:"datasets,omitempty"`
	Classes        map[string]*ClassConfig       `yaml:"classes,omitempty"`
	Defaults       map[string]map[string]any     `yaml:"defaults,omitempty"`

	// Extra keeps document keys this model does not name, so they survive
	// persistence and remain visible to Has.
	Extra map[string]any `yaml:",inline"`

	tree map[string]any
}

// Parse decodes a YAML configuration document.
func Parse(data []byte) (*RepositoryConfig, error) {
	var cfg RepositoryConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing repository config: %w", err)
	}
	return &cfg, nil
}

// Marshal encodes the document as YAML.
func (c *RepositoryConfig) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(c); err != nil {
		return nil, fmt.Errorf("marshaling repository config: %w", err)
	}
	_ = encoder.Close()
	return buf.Bytes(), nil
}

// Clone returns a deep copy made through the YAML codec.
func (c *RepositoryConfig) Clone() (*RepositoryConfig, error) {
	data, err := c.Marshal()
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Seal snapshots the document as a generic tree for Has. Call it once the
// document is final; later mutations are not seen by Has.
func (c *RepositoryConfig) Seal() error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	tree := map[string]any{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("building config tree: %w", err)
	}
	c.tree = tree
	return nil
}

// Has walks keys through the document's mappings and reports whether the
// full path exists.
func (c *RepositoryConfig) Has(keys ...string) bool {
	if c.tree == nil {
		if err := c.Seal(); err != nil {
			return false
		}
	}
	var node any = c.tree
	for _, k := range keys {
		m, ok := node.(map[string]any)
		if !ok {
			return false
		}
		node, ok = m[k]
		if !ok {
			return false
		}
	}
	return true
}

// Dataset returns the local definition of a dataset type.
func (c *RepositoryConfig) Dataset(name string) (*DatasetTypeConfig, bool) {
	d, ok := c.Datasets[name]
	return d, ok && d != nil
}

// Class returns the local definition of a dataset class.
func (c *RepositoryConfig) Class(name string) (*ClassConfig, bool) {
	cl, ok := c.Classes[name]
	return cl, ok && cl != nil
}
