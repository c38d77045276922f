// Package app wires the signboard components together and runs the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/glog"

	"github.com/ayusman/signboard/internal/config"
	"github.com/ayusman/signboard/internal/fetch"
	"github.com/ayusman/signboard/internal/hub"
	"github.com/ayusman/signboard/internal/plugin"
	"github.com/ayusman/signboard/internal/server"
	"github.com/ayusman/signboard/internal/store"
	"github.com/ayusman/signboard/internal/style"
)

// shutdownTimeout bounds how long Run waits for in-flight requests on exit.
const shutdownTimeout = 5 * time.Second

// App is the assembled hub.
type App struct {
	config  config.Config
	store   *store.Store
	plugins *plugin.Registry
	style   *style.Registry
	bus     *hub.Bus
	server  *server.Server
}

// New prepares the data directories, opens the journal and builds every component.
func New(cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.PluginDir, 0755); err != nil {
		return nil, fmt.Errorf("create plugin dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.StylePath), 0755); err != nil {
		return nil, fmt.Errorf("create style dir: %w", err)
	}

	a := &App{config: cfg}

	var opts []hub.Option
	if cfg.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		st, err := store.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		if n, err := st.Connections().CloseDangling(time.Now()); err != nil {
			glog.Warningf("app: failed to close dangling connections: %v", err)
		} else if n > 0 {
			glog.Infof("app: closed %d connections left open by a previous run", n)
		}
		a.store = st
		opts = append(opts, hub.WithObserver(&journal{repo: st.Connections()}))
	}

	f := fetch.New(cfg.FetchTimeout)
	a.plugins = plugin.NewRegistry(cfg.PluginDir, f)
	if err := a.plugins.Sweep(); err != nil {
		glog.Warningf("app: failed to sweep plugin dir: %v", err)
	}
	a.style = style.NewRegistry(cfg.StylePath, f)
	a.bus = hub.NewBus(opts...)

	a.server = server.New(server.Config{
		StaticDir:       cfg.StaticDir,
		Plugins:         a.plugins,
		Style:           a.style,
		Bus:             a.bus,
		Dispatcher:      hub.NewDispatcher(a.bus, a.plugins, a.style),
		Store:           a.store,
		MaxMessageBytes: cfg.MaxMessageBytes,
	})
	return a, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server
}

// Bus returns the client bus.
func (a *App) Bus() *hub.Bus {
	return a.bus
}

// Plugins returns the plugin registry.
func (a *App) Plugins() *plugin.Registry {
	return a.plugins
}

// Store returns the connection journal, or nil when it is disabled.
func (a *App) Store() *store.Store {
	return a.store
}

// Run serves until ctx is cancelled, then shuts the server down.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.config.Addr,
		Handler:           a.server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		glog.Infof("app: listening on %s", a.config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	glog.Info("app: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close releases the journal.
func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// journal records client connections in the store.
type journal struct {
	repo *store.ConnectionRepository
}

func (j *journal) ClientOpened(info hub.Info) {
	if err := j.repo.Opened(info.ID, info.RemoteAddr, info.ConnectedAt); err != nil {
		glog.Warningf("app: journal open %s: %v", info.ID, err)
	}
}

func (j *journal) ClientClosed(info hub.Info) {
	if err := j.repo.Closed(info.ID, time.Now()); err != nil {
		glog.Warningf("app: journal close %s: %v", info.ID, err)
	}
}
