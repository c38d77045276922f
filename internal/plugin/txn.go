package plugin

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/ayusman/signboard/internal/atomicfile"
	"github.com/ayusman/signboard/internal/protocol"
)

// Hidden prefixes for directories that are never listed as plugins.
const (
	stagingPrefix = ".staging-"
	trashPrefix   = ".trash-"
)

// Filesystem hooks swapped out by tests to simulate failures.
var (
	rename    = os.Rename
	writeFile = atomicfile.Write
)

// install builds a plugin in a hidden staging directory and swaps it into
// place on commit. Until commit succeeds the live directory is untouched;
// rollback discards everything the transaction created.
type install struct {
	root      string
	target    string
	staging   string
	committed bool
}

func (r *Registry) beginInstall(name string) (*install, error) {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return nil, protocol.PersistenceError("Failed to create plugin directory.", err)
	}
	staging, err := os.MkdirTemp(r.dir, stagingPrefix+"*")
	if err != nil {
		return nil, protocol.PersistenceError("Failed to create plugin directory.", err)
	}
	return &install{
		root:    r.dir,
		target:  filepath.Join(r.dir, name),
		staging: staging,
	}, nil
}

func (tx *install) writeMeta(m *Meta) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return protocol.PersistenceError("Failed to serialize meta.", err)
	}
	err = writeFile(filepath.Join(tx.staging, MetaFile), raw, 0644)
	if err == nil {
		return nil
	}
	if atomicfile.FailedStep(err) == atomicfile.StepCreate {
		return protocol.PersistenceError("Failed to create meta file.", err)
	}
	return protocol.PersistenceError("Failed to write to meta file.", err)
}

func (tx *install) writeScript(script string) error {
	err := writeFile(filepath.Join(tx.staging, ScriptFile), []byte(script), 0644)
	if err == nil {
		return nil
	}
	if atomicfile.FailedStep(err) == atomicfile.StepCreate {
		return protocol.PersistenceError("Failed to create script file.", err)
	}
	return protocol.PersistenceError("Failed to write to script file.", err)
}

// commit replaces any existing plugin directory with the staged one.
func (tx *install) commit() error {
	var trash string
	if _, err := os.Lstat(tx.target); err == nil {
		trash = filepath.Join(tx.root, trashPrefix+uuid.NewString())
		if err := rename(tx.target, trash); err != nil {
			return protocol.PersistenceError("Failed to remove old plugin.", err)
		}
	} else if !os.IsNotExist(err) {
		return protocol.PersistenceError("Failed to remove old plugin.", err)
	}

	if err := rename(tx.staging, tx.target); err != nil {
		if trash != "" {
			if rerr := rename(trash, tx.target); rerr != nil {
				glog.Errorf("plugin: failed to restore %s from %s: %v", tx.target, trash, rerr)
			}
		}
		return protocol.PersistenceError("Failed to create plugin directory.", err)
	}
	tx.committed = true

	if trash != "" {
		discard(trash)
	}
	return nil
}

// rollback removes the staging directory unless the install committed.
func (tx *install) rollback() {
	if tx.committed {
		return
	}
	discard(tx.staging)
}

// discard deletes a hidden directory. Leftovers are swept on the next start.
func discard(path string) {
	if err := os.RemoveAll(path); err != nil {
		glog.Warningf("plugin: failed to remove %s: %v", path, err)
	}
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
