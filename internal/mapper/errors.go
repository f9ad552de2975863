package mapper

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zjrosen/butler/internal/dataid"
)

// ErrConfiguration matches every configuration-family error via errors.Is.
var ErrConfiguration = errors.New("repository configuration error")

// ConfigurationError reports a malformed or incomplete repository document.
type ConfigurationError struct {
	Source string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := e.Reason
	if e.Source != "" {
		msg = fmt.Sprintf("%s (from %s)", msg, e.Source)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// ConfigurationMismatchError reports a dataset class whose handler count
// differs from its dataset type's template count.
type ConfigurationMismatchError struct {
	DatasetType  string
	DatasetClass string
	ForWrite     bool
	Handlers     int
	Templates    int
}

func (e *ConfigurationMismatchError) Error() string {
	return fmt.Sprintf("URL templates don't match storages for dataset type %s: class %s has %d %s for %d templates",
		e.DatasetType, e.DatasetClass, e.Handlers, handlerNoun(e.ForWrite), e.Templates)
}

func (e *ConfigurationMismatchError) Is(target error) bool { return target == ErrConfiguration }

// CyclicParentError reports a repository that is its own ancestor.
type CyclicParentError struct {
	Chain []string
}

func (e *CyclicParentError) Error() string {
	return "cyclic repository parents: " + strings.Join(e.Chain, " -> ")
}

func (e *CyclicParentError) Is(target error) bool { return target == ErrConfiguration }

// UnknownDatasetTypeError reports a dataset type no repository in the chain declares.
type UnknownDatasetTypeError struct {
	DatasetType string
}

func (e *UnknownDatasetTypeError) Error() string {
	return fmt.Sprintf("unknown dataset type %s", e.DatasetType)
}

// NotConfiguredError reports a dataset class without readers (or writers).
type NotConfiguredError struct {
	DatasetType  string
	DatasetClass string
	ForWrite     bool
}

func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("no %s configured for dataset class %s used by dataset type %s",
		handlerNoun(e.ForWrite), e.DatasetClass, e.DatasetType)
}

// InsufficientIdentifierError reports a write whose identifier lacks
// required keys that lookups could not supply.
type InsufficientIdentifierError struct {
	DatasetType string
	DataID      dataid.DataID
	Missing     dataid.KeySet
}

func (e *InsufficientIdentifierError) Error() string {
	return fmt.Sprintf("data id %s is missing keys %s required to write dataset type %s",
		e.DataID, e.Missing, e.DatasetType)
}

// UnresolvableKeysError reports keys the configured lookups cannot derive.
type UnresolvableKeysError struct {
	DatasetType string
	Keys        dataid.KeySet
	Reason      string
}

func (e *UnresolvableKeysError) Error() string {
	msg := fmt.Sprintf("cannot derive keys %s for dataset type %s from its lookups", e.Keys, e.DatasetType)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// DatasetNotFoundError reports a read whose identifier matched no stored dataset.
type DatasetNotFoundError struct {
	DatasetType string
	DataID      dataid.DataID
	Missing     dataid.KeySet
}

func (e *DatasetNotFoundError) Error() string {
	return fmt.Sprintf("unable to determine required data identifiers %s for dataset type %s and data id %s",
		e.Missing, e.DatasetType, e.DataID)
}

// AmbiguousDatasetError reports a read whose identifier matched several datasets.
type AmbiguousDatasetError struct {
	DatasetType string
	DataID      dataid.DataID
	Candidates  []dataid.DataID
}

func (e *AmbiguousDatasetError) Error() string {
	ids := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		ids[i] = c.String()
	}
	return fmt.Sprintf("found multiple (%d) matches in repository for dataset type %s and data id %s: %s",
		len(e.Candidates), e.DatasetType, e.DataID, strings.Join(ids, ", "))
}

func handlerNoun(forWrite bool) string {
	if forWrite {
		return "writers"
	}
	return "readers"
}
