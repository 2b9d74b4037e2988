package bridge

import (
	"fmt"

	"github.com/thin-edge/tedge-mapper-core/internal/config"
)

// LoadFile parses a rule TOML file at path into a File, without compiling
// it — Compile is a separate step so callers can supply the three variable
// namespaces (config, connection, mapper) independently.
func LoadFile(path string) (*File, error) {
	f, err := config.LoadTOML[File](path)
	if err != nil {
		return nil, fmt.Errorf("bridge: load %s: %w", path, err)
	}
	return &f, nil
}

// NamespaceResolver builds the standard three-namespace chain resolver a
// mapper uses to compile a rule file: config, connection, then mapper,
// tried in that order for any given ${...} reference.
func NamespaceResolver(configData, connectionData, mapperData map[string]interface{}) Resolver {
	return &ChainResolver{Resolvers: []Resolver{
		&MapResolver{Namespace: "config", Data: configData},
		&MapResolver{Namespace: "connection", Data: connectionData},
		&MapResolver{Namespace: "mapper", Data: mapperData},
	}}
}
