// Package testdata holds plugin metadata documents shared by end-to-end tests.
package testdata

import (
	"embed"
	"encoding/json"
	"fmt"
)

//go:embed meta/*.json
var metaFS embed.FS

// LoadMeta returns the raw metadata document of a fixture plugin.
func LoadMeta(name string) (json.RawMessage, error) {
	data, err := metaFS.ReadFile("meta/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("load meta %s: %w", name, err)
	}
	return data, nil
}

// AddRequest wraps a fixture's metadata in an addPlugin payload.
func AddRequest(name string) (json.RawMessage, error) {
	meta, err := LoadMeta(name)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Meta json.RawMessage `json:"meta"`
	}{Meta: meta})
}

// Names lists the available fixtures.
func Names() ([]string, error) {
	entries, err := metaFS.ReadDir("meta")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		n := e.Name()
		names = append(names, n[:len(n)-len(".json")])
	}
	return names, nil
}
