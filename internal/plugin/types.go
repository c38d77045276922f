// Package plugin manages the display plugins stored on disk, one directory per plugin.
package plugin

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// File names inside a plugin directory.
const (
	MetaFile   = "meta.json"
	ScriptFile = "script.js"
)

// EnabledConfig is the name of the config the registry injects into every plugin.
const EnabledConfig = "enabled"

// Config is one named setting of a plugin.
type Config struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Default json.RawMessage `json:"default"`
	Value   json.RawMessage `json:"value,omitempty"`
}

// ConfigValue overrides the value of the config with the same name.
type ConfigValue struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

// Script locates a plugin's script: a remote URL or inline source when adding,
// the served path afterwards.
type Script struct {
	URL    *string `json:"url,omitempty"`
	Inline *string `json:"inline,omitempty"`
}

// Meta describes a plugin.
type Meta struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	URL         string   `json:"url,omitempty"`
	Description string   `json:"description,omitempty"`
	Configs     []Config `json:"configs"`
	Script      Script   `json:"script"`
}

// Removed is the payload announcing a removed plugin.
type Removed struct {
	Name string `json:"name"`
}

// ScriptURL returns the path the script of the named plugin is served at.
// The name is escaped so that characters such as '?', '#' or '%' survive.
func ScriptURL(name string) string {
	return "/script/" + url.PathEscape(name) + ".js"
}

// Canonicalize points the script at its served path and drops inline source.
func (m *Meta) Canonicalize() {
	served := ScriptURL(m.Name)
	m.Script = Script{URL: &served}
}

// Config returns the config named name, or nil.
func (m *Meta) Config(name string) *Config {
	for i := range m.Configs {
		if m.Configs[i].Name == name {
			return &m.Configs[i]
		}
	}
	return nil
}

// applyDefaults prepends the enabled config and fills every missing value
// from its default.
func (m *Meta) applyDefaults() {
	configs := make([]Config, 0, len(m.Configs)+1)
	configs = append(configs, Config{
		Name:    EnabledConfig,
		Type:    "checkbox",
		Default: json.RawMessage("false"),
	})
	for _, c := range m.Configs {
		if c.Name == EnabledConfig {
			continue
		}
		configs = append(configs, c)
	}
	for i := range configs {
		if isNull(configs[i].Value) {
			configs[i].Value = configs[i].Default
		}
	}
	m.Configs = configs
}

// apply overrides config values by name. Unknown names are ignored and a
// null value resets the config to its default.
func (m *Meta) apply(overrides []ConfigValue) {
	values := make(map[string]json.RawMessage, len(overrides))
	for _, o := range overrides {
		values[o.Name] = o.Value
	}
	for i := range m.Configs {
		v, ok := values[m.Configs[i].Name]
		if !ok {
			continue
		}
		if isNull(v) {
			v = m.Configs[i].Default
		}
		m.Configs[i].Value = v
	}
}

// metaDoc mirrors Meta with pointers so required fields can be detected.
type metaDoc struct {
	Name        *string     `json:"name"`
	Version     *string     `json:"version"`
	URL         *string     `json:"url"`
	Description *string     `json:"description"`
	Configs     []configDoc `json:"configs"`
	Script      *Script     `json:"script"`
}

type configDoc struct {
	Name    *string         `json:"name"`
	Type    *string         `json:"type"`
	Default json.RawMessage `json:"default"`
	Value   json.RawMessage `json:"value"`
}

// ParseMeta validates and decodes plugin metadata supplied by a client.
func ParseMeta(raw []byte) (*Meta, error) {
	var doc metaDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc.Name == nil {
		return nil, errors.New("missing name")
	}
	if err := ValidateName(*doc.Name); err != nil {
		return nil, err
	}
	if doc.Version == nil {
		return nil, errors.New("missing version")
	}
	if doc.Script == nil {
		return nil, errors.New("missing script")
	}

	m := &Meta{
		Name:    *doc.Name,
		Version: *doc.Version,
		Script:  *doc.Script,
		Configs: make([]Config, 0, len(doc.Configs)),
	}
	if doc.URL != nil {
		m.URL = *doc.URL
	}
	if doc.Description != nil {
		m.Description = *doc.Description
	}

	seen := make(map[string]bool, len(doc.Configs))
	for i, c := range doc.Configs {
		if c.Name == nil || c.Type == nil {
			return nil, fmt.Errorf("config %d: missing name or type", i)
		}
		if isNull(c.Default) {
			return nil, fmt.Errorf("config %q: missing default", *c.Name)
		}
		if seen[*c.Name] {
			return nil, fmt.Errorf("config %q: duplicate name", *c.Name)
		}
		seen[*c.Name] = true
		m.Configs = append(m.Configs, Config{
			Name:    *c.Name,
			Type:    *c.Type,
			Default: c.Default,
			Value:   c.Value,
		})
	}
	return m, nil
}

// parseOverrides decodes the configs list of a configure request.
func parseOverrides(raw []byte) ([]ConfigValue, error) {
	var docs []struct {
		Name  *string         `json:"name"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, err
	}
	if docs == nil {
		return nil, errors.New("configs is not a list")
	}
	overrides := make([]ConfigValue, 0, len(docs))
	for i, d := range docs {
		if d.Name == nil || len(d.Value) == 0 {
			return nil, fmt.Errorf("config value %d: missing name or value", i)
		}
		overrides = append(overrides, ConfigValue{Name: *d.Name, Value: d.Value})
	}
	return overrides, nil
}

// ValidateName rejects names that cannot be used as a single path component.
func ValidateName(name string) error {
	switch {
	case name == "":
		return errors.New("empty plugin name")
	case name == "." || name == "..":
		return fmt.Errorf("invalid plugin name %q", name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("plugin name %q must not start with a dot", name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("plugin name %q contains a path separator", name)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
