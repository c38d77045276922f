// Package api provides the JSON endpoints of the signboard HTTP server.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ayusman/signboard/internal/hub"
	"github.com/ayusman/signboard/internal/store"
)

// defaultRecentLimit bounds /api/connections when no limit is given.
const defaultRecentLimit = 50

// ConnectionHandler reports live clients and the connection journal.
type ConnectionHandler struct {
	store *store.Store
	bus   *hub.Bus
}

// NewConnectionHandler creates a ConnectionHandler. Either argument may be nil.
func NewConnectionHandler(s *store.Store, bus *hub.Bus) *ConnectionHandler {
	return &ConnectionHandler{store: s, bus: bus}
}

type errorResponse struct {
	Error string `json:"error"`
}

type connectionResponse struct {
	ID         string `json:"id"`
	RemoteAddr string `json:"remoteAddr,omitempty"`
	OpenedAt   string `json:"openedAt"`
	ClosedAt   string `json:"closedAt,omitempty"`
}

type listConnectionsResponse struct {
	Live   []hub.Info           `json:"live"`
	Recent []connectionResponse `json:"recent"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func toConnectionResponse(c *store.Connection) connectionResponse {
	resp := connectionResponse{
		ID:         c.ID,
		RemoteAddr: c.RemoteAddr,
		OpenedAt:   c.OpenedAt.Format(time.RFC3339),
	}
	if c.ClosedAt != nil {
		resp.ClosedAt = c.ClosedAt.Format(time.RFC3339)
	}
	return resp
}

// ServeHTTP handles GET /api/connections[?limit=N].
func (h *ConnectionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	response := listConnectionsResponse{
		Live:   []hub.Info{},
		Recent: []connectionResponse{},
	}
	if h.bus != nil {
		response.Live = h.bus.Clients()
	}
	if h.store != nil {
		conns, err := h.store.Connections().Recent(limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list connections")
			return
		}
		for _, c := range conns {
			response.Recent = append(response.Recent, toConnectionResponse(c))
		}
	}

	writeJSON(w, http.StatusOK, response)
}
