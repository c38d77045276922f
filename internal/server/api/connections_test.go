package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/signboard/internal/hub"
	"github.com/ayusman/signboard/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConnectionHandler_List(t *testing.T) {
	s := newTestStore(t)
	bus := hub.NewBus()
	live := bus.Register("10.0.0.9")

	opened := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.Connections().Opened("old", "10.0.0.1", opened))
	require.NoError(t, s.Connections().Closed("old", opened.Add(time.Minute)))
	require.NoError(t, s.Connections().Opened("new", "10.0.0.2", opened.Add(time.Hour)))

	h := NewConnectionHandler(s, bus)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/connections", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp listConnectionsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Live, 1)
	assert.Equal(t, live.ID(), resp.Live[0].ID)
	require.Len(t, resp.Recent, 2)
	assert.Equal(t, "new", resp.Recent[0].ID)
	assert.Empty(t, resp.Recent[0].ClosedAt)
	assert.Equal(t, "2026-10-01T08:01:00Z", resp.Recent[1].ClosedAt)
}

func TestConnectionHandler_Limit(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Connections().Opened(id, "", base.Add(time.Duration(i)*time.Second)))
	}
	h := NewConnectionHandler(s, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/connections?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp listConnectionsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Recent, 1)
	assert.Equal(t, "c", resp.Recent[0].ID)
	assert.Empty(t, resp.Live)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/connections?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConnectionHandler_MethodNotAllowed(t *testing.T) {
	h := NewConnectionHandler(nil, hub.NewBus())

	for _, method := range []string{http.MethodPost, http.MethodDelete} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(method, "/api/connections", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)
	}
}
