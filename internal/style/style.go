// Package style stores the optional custom stylesheet shared by every display.
package style

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/glog"

	"github.com/ayusman/signboard/internal/atomicfile"
	"github.com/ayusman/signboard/internal/protocol"
)

// URL is the path the stylesheet is served at.
const URL = "/custom/style.css"

// Style references a stylesheet by URL or carries it inline.
type Style struct {
	URL    *string `json:"url,omitempty"`
	Inline *string `json:"inline,omitempty"`
}

// Served returns the canonical form of a stored stylesheet.
func Served() Style {
	url := URL
	return Style{URL: &url}
}

// Fetcher retrieves remote stylesheets.
type Fetcher interface {
	Text(ctx context.Context, url string) (string, error)
}

// Registry is the sole writer of the stylesheet file.
type Registry struct {
	path    string
	fetcher Fetcher
	mu      sync.Mutex
}

// NewRegistry creates a Registry storing the stylesheet at path.
func NewRegistry(path string, fetcher Fetcher) *Registry {
	return &Registry{path: path, fetcher: fetcher}
}

// Path returns the stylesheet location on disk.
func (r *Registry) Path() string {
	return r.path
}

// Get reports the served stylesheet, or an empty Style if none is stored.
func (r *Registry) Get(ctx context.Context) Style {
	if _, err := os.Stat(r.path); err != nil {
		return Style{}
	}
	return Served()
}

// Set replaces the stylesheet with the inline content or remote URL in data.
// publish, if not nil, runs after the write and before the next mutation.
func (r *Registry) Set(ctx context.Context, data json.RawMessage, publish func(Style)) (Style, error) {
	var req *Style
	if err := json.Unmarshal(data, &req); err != nil {
		return Style{}, protocol.ValidationError("Failed to parse data.", err)
	}
	if req == nil {
		return Style{}, protocol.ValidationError("Failed to parse data.", errors.New("data is null"))
	}
	if req.Inline == nil && req.URL == nil {
		return Style{}, protocol.ValidationError("Failed to get style.", nil)
	}

	var css string
	if req.Inline != nil {
		css = *req.Inline
	} else {
		text, err := r.fetcher.Text(ctx, *req.URL)
		if err != nil {
			return Style{}, protocol.RemoteFetchError("Failed to get style.", err)
		}
		css = text
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return Style{}, protocol.PersistenceError("Failed to open style file.", err)
	}
	if err := atomicfile.Write(r.path, []byte(css), 0644); err != nil {
		if atomicfile.FailedStep(err) == atomicfile.StepCreate {
			return Style{}, protocol.PersistenceError("Failed to open style file.", err)
		}
		return Style{}, protocol.PersistenceError("Failed to write style.", err)
	}

	glog.Infof("style: stored %d bytes", len(css))
	served := Served()
	if publish != nil {
		publish(served)
	}
	return served, nil
}

// Remove deletes the stylesheet. publish runs as in Set.
func (r *Registry) Remove(ctx context.Context, publish func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := os.Stat(r.path); err != nil {
		return protocol.ValidationError("Failed to remove style.", err)
	}
	if err := os.Remove(r.path); err != nil {
		return protocol.PersistenceError("Failed to remove style.", err)
	}

	glog.Infof("style: removed")
	if publish != nil {
		publish()
	}
	return nil
}
