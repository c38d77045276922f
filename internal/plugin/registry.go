package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/ayusman/signboard/internal/atomicfile"
	"github.com/ayusman/signboard/internal/protocol"
)

// ErrPluginNotFound is returned when a requested plugin cannot be found.
var ErrPluginNotFound = errors.New("plugin not found")

// Fetcher retrieves remote metadata and scripts.
type Fetcher interface {
	Text(ctx context.Context, url string) (string, error)
	JSON(ctx context.Context, url string, v any) error
}

// Registry is the sole writer of the plugin directory. Mutations of the same
// plugin name are serialized; remote fetches happen before any lock is taken.
type Registry struct {
	dir     string
	fetcher Fetcher
	locks   *nameLocks
}

// NewRegistry creates a Registry rooted at dir.
func NewRegistry(dir string, fetcher Fetcher) *Registry {
	return &Registry{
		dir:     dir,
		fetcher: fetcher,
		locks:   newNameLocks(),
	}
}

// Dir returns the plugin directory path.
func (r *Registry) Dir() string {
	return r.dir
}

// Sweep removes staging and trash directories left by an interrupted run.
func (r *Registry) Sweep() error {
	entries, err := os.ReadDir(r.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() {
			continue
		}
		if strings.HasPrefix(name, stagingPrefix) || strings.HasPrefix(name, trashPrefix) {
			glog.Infof("plugin: removing leftover %s", name)
			discard(filepath.Join(r.dir, name))
		}
	}
	return nil
}

// List returns the metadata of every stored plugin, sorted by name.
// Entries whose metadata is missing or corrupt are skipped.
func (r *Registry) List(ctx context.Context) []Meta {
	plugins := make([]Meta, 0)

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			glog.Warningf("plugin: failed to read %s: %v", r.dir, err)
		}
		return plugins
	}

	for _, entry := range entries {
		if !entry.IsDir() || isHidden(entry.Name()) {
			continue
		}
		m, err := r.load(entry.Name())
		if err != nil {
			glog.V(1).Infof("plugin: skipping %s: %v", entry.Name(), err)
			continue
		}
		m.Canonicalize()
		plugins = append(plugins, *m)
	}

	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].Name < plugins[j].Name
	})
	return plugins
}

// Add installs a plugin, replacing any plugin with the same name. data holds
// either a "url" to fetch the metadata from or an inline "meta" object.
// publish, if not nil, runs after the install commits and before the name is
// unlocked, so announcements follow the order of writes.
func (r *Registry) Add(ctx context.Context, data json.RawMessage, publish func(*Meta)) (*Meta, error) {
	raw, err := r.resolveMeta(ctx, data)
	if err != nil {
		return nil, err
	}

	m, err := ParseMeta(raw)
	if err != nil {
		return nil, protocol.ValidationError("Failed to parse meta.", err)
	}
	if m.Script.Inline == nil && m.Script.URL == nil {
		return nil, protocol.ValidationError("Failed to get script.", nil)
	}
	m.applyDefaults()

	script, err := r.resolveScript(ctx, m.Script)
	if err != nil {
		return nil, err
	}
	m.Canonicalize()

	unlock := r.locks.lock(m.Name)
	defer unlock()

	tx, err := r.beginInstall(m.Name)
	if err != nil {
		return nil, err
	}
	defer tx.rollback()

	if err := tx.writeMeta(m); err != nil {
		return nil, err
	}
	if err := tx.writeScript(script); err != nil {
		return nil, err
	}
	if err := tx.commit(); err != nil {
		return nil, err
	}

	glog.Infof("plugin: installed %s %s", m.Name, m.Version)
	if publish != nil {
		publish(m)
	}
	return m, nil
}

// Remove deletes the plugin named in data. publish runs as in Add.
func (r *Registry) Remove(ctx context.Context, data json.RawMessage, publish func(*Removed)) (*Removed, error) {
	name, err := requestName(data)
	if err != nil {
		return nil, err
	}
	if ValidateName(name) != nil {
		return nil, protocol.ValidationError("Plugin not found.", ErrPluginNotFound)
	}

	unlock := r.locks.lock(name)
	defer unlock()

	dir := filepath.Join(r.dir, name)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, protocol.ValidationError("Plugin not found.", ErrPluginNotFound)
		}
		return nil, protocol.PersistenceError("Failed to remove plugin.", err)
	}

	trash := filepath.Join(r.dir, trashPrefix+uuid.NewString())
	if err := os.Rename(dir, trash); err != nil {
		return nil, protocol.PersistenceError("Failed to remove plugin.", err)
	}
	discard(trash)

	glog.Infof("plugin: removed %s", name)
	removed := &Removed{Name: name}
	if publish != nil {
		publish(removed)
	}
	return removed, nil
}

// Configure applies the config overrides in data to a stored plugin.
// publish runs as in Add.
func (r *Registry) Configure(ctx context.Context, data json.RawMessage, publish func(*Meta)) (*Meta, error) {
	name, err := requestName(data)
	if err != nil {
		return nil, err
	}

	overrides, err := parseOverrides([]byte(gjson.GetBytes(data, "configs").Raw))
	if err != nil {
		return nil, protocol.ValidationError("Failed to parse configs.", err)
	}

	if err := ValidateName(name); err != nil {
		return nil, protocol.ValidationError("Failed to read meta file.", err)
	}

	unlock := r.locks.lock(name)
	defer unlock()

	path := filepath.Join(r.dir, name, MetaFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, protocol.ValidationError("Failed to read meta file.", err)
		}
		return nil, protocol.PersistenceError("Failed to read meta file.", err)
	}

	m, err := decodeStored(name, raw)
	if err != nil {
		return nil, protocol.PersistenceError("Failed to parse meta file.", err)
	}
	m.apply(overrides)
	m.Canonicalize()

	out, err := json.Marshal(m)
	if err != nil {
		return nil, protocol.PersistenceError("Failed to serialize meta.", err)
	}
	if err := atomicfile.Write(path, out, 0644); err != nil {
		return nil, protocol.PersistenceError("Failed to update meta file.", err)
	}

	glog.V(1).Infof("plugin: configured %s (%d overrides)", name, len(overrides))
	if publish != nil {
		publish(m)
	}
	return m, nil
}

// ScriptPath returns the on-disk script of the named plugin.
func (r *Registry) ScriptPath(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", ErrPluginNotFound
	}
	return filepath.Join(r.dir, name, ScriptFile), nil
}

// AssetPath returns the on-disk path of a file shipped inside a plugin directory.
func (r *Registry) AssetPath(name, file string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", ErrPluginNotFound
	}
	clean := filepath.Clean("/" + filepath.FromSlash(file))
	if clean == string(filepath.Separator) {
		return "", ErrPluginNotFound
	}
	return filepath.Join(r.dir, name, clean), nil
}

func (r *Registry) load(name string) (*Meta, error) {
	raw, err := os.ReadFile(filepath.Join(r.dir, name, MetaFile))
	if err != nil {
		return nil, err
	}
	return decodeStored(name, raw)
}

func (r *Registry) resolveMeta(ctx context.Context, data json.RawMessage) ([]byte, error) {
	if url := gjson.GetBytes(data, "url"); url.Type == gjson.String {
		var raw json.RawMessage
		if err := r.fetcher.JSON(ctx, url.String(), &raw); err != nil {
			return nil, protocol.RemoteFetchError("Failed to get meta.", err)
		}
		return raw, nil
	}

	meta := gjson.GetBytes(data, "meta")
	if !meta.Exists() {
		return nil, protocol.ValidationError("Failed to get meta.", nil)
	}
	return []byte(meta.Raw), nil
}

func (r *Registry) resolveScript(ctx context.Context, s Script) (string, error) {
	if s.Inline != nil {
		return *s.Inline, nil
	}
	text, err := r.fetcher.Text(ctx, *s.URL)
	if err != nil {
		return "", protocol.RemoteFetchError("Failed to get the script file.", err)
	}
	return text, nil
}

// decodeStored parses a meta.json written by the registry.
func decodeStored(name string, raw []byte) (*Meta, error) {
	var m Meta
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m.Name != name {
		return nil, fmt.Errorf("meta name %q does not match directory %q", m.Name, name)
	}
	return &m, nil
}

func requestName(data json.RawMessage) (string, error) {
	name := gjson.GetBytes(data, "name")
	if name.Type != gjson.String {
		return "", protocol.ValidationError("Failed to get plugin.", nil)
	}
	return name.String(), nil
}
