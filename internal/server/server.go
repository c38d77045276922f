// Package server provides the HTTP server for the signboard display hub.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/ayusman/signboard/internal/hub"
	"github.com/ayusman/signboard/internal/plugin"
	"github.com/ayusman/signboard/internal/server/api"
	"github.com/ayusman/signboard/internal/store"
	"github.com/ayusman/signboard/internal/style"
)

// Config holds the server configuration.
type Config struct {
	StaticDir       string
	Plugins         *plugin.Registry
	Style           *style.Registry
	Bus             *hub.Bus
	Dispatcher      *hub.Dispatcher
	Store           *store.Store
	MaxMessageBytes int64
}

// Server represents the HTTP server for the hub.
type Server struct {
	config Config
	mux    *http.ServeMux
	hub    http.Handler
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Bus != nil && s.config.Dispatcher != nil {
		s.hub = NewHubHandler(s.config.Bus, s.config.Dispatcher, s.config.MaxMessageBytes)
		s.mux.Handle("/ws", s.hub)
	}

	if s.config.Store != nil || s.config.Bus != nil {
		s.mux.Handle("/api/connections", api.NewConnectionHandler(s.config.Store, s.config.Bus))
	}

	if s.config.Plugins != nil {
		s.mux.HandleFunc("GET /script/{file}", s.handleScript)
		s.mux.HandleFunc("GET /plugin/{name}/{file...}", s.handleAsset)
	}

	if s.config.Style != nil {
		s.mux.HandleFunc("GET "+style.URL, s.handleStyle)
	}

	s.mux.HandleFunc("/", s.handleRoot)
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleRoot upgrades WebSocket requests on "/" and serves the display pages otherwise.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if s.hub != nil && r.URL.Path == "/" && isUpgrade(r) {
		s.hub.ServeHTTP(w, r)
		return
	}
	if s.config.StaticDir == "" {
		http.NotFound(w, r)
		return
	}
	http.FileServer(http.Dir(s.config.StaticDir)).ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.config.Bus != nil {
		response["connections"] = s.config.Bus.Len()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// handleScript serves /script/{name}.js from the plugin directory.
func (s *Server) handleScript(w http.ResponseWriter, r *http.Request) {
	name, ok := strings.CutSuffix(r.PathValue("file"), ".js")
	if !ok {
		http.NotFound(w, r)
		return
	}
	path, err := s.config.Plugins.ScriptPath(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	serveFile(w, r, path)
}

// handleAsset serves files shipped inside a plugin directory.
func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	path, err := s.config.Plugins.AssetPath(r.PathValue("name"), r.PathValue("file"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	serveFile(w, r, path)
}

// handleStyle serves the custom stylesheet.
func (s *Server) handleStyle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	serveFile(w, r, s.config.Style.Path())
}

// serveFile writes a regular file or a 404.
func serveFile(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			glog.Warningf("server: open %s: %v", path, err)
		}
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}
