package butler

import (
	"fmt"
	"strings"

	"github.com/zjrosen/butler/internal/log"
)

// AliasPrefix marks a dataset type name as an alias.
const AliasPrefix = "@"

// DefineAlias makes alias, which must start with "@", stand for datasetType
// in every operation. Redefining an alias to a different type is an error.
func (b *Butler) DefineAlias(alias, datasetType string) error {
	if !strings.HasPrefix(alias, AliasPrefix) || len(alias) == len(AliasPrefix) {
		return fmt.Errorf("alias %q must start with %s and name something", alias, AliasPrefix)
	}
	if strings.HasPrefix(datasetType, AliasPrefix) {
		target, err := b.ResolveAlias(datasetType)
		if err != nil {
			return err
		}
		datasetType = target
	}

	b.aliasMu.Lock()
	defer b.aliasMu.Unlock()
	if existing, ok := b.aliases[alias]; ok && existing != datasetType {
		return fmt.Errorf("alias %s already defined as %s", alias, existing)
	}
	b.aliases[alias] = datasetType
	log.Debug(log.CatButler, "Defined alias", "alias", alias, "datasetType", datasetType)
	return nil
}

// ResolveAlias returns the dataset type an alias stands for. Names without
// the alias prefix are returned unchanged.
func (b *Butler) ResolveAlias(name string) (string, error) {
	if !strings.HasPrefix(name, AliasPrefix) {
		return name, nil
	}
	b.aliasMu.RLock()
	defer b.aliasMu.RUnlock()
	target, ok := b.aliases[name]
	if !ok {
		return "", &UnknownAliasError{Alias: name}
	}
	return target, nil
}

// Aliases returns a copy of the defined aliases.
func (b *Butler) Aliases() map[string]string {
	b.aliasMu.RLock()
	defer b.aliasMu.RUnlock()
	out := make(map[string]string, len(b.aliases))
	for k, v := range b.aliases {
		out[k] = v
	}
	return out
}
