package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/ayusman/signboard/internal/hub"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// DefaultMaxMessageBytes bounds a single inbound frame.
	DefaultMaxMessageBytes = 1 << 20
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Displays are served from other origins
	},
}

// HubHandler serves the WebSocket endpoint shared by displays and the editor.
type HubHandler struct {
	bus             *hub.Bus
	dispatcher      *hub.Dispatcher
	maxMessageBytes int64
}

// NewHubHandler creates a HubHandler. A non-positive limit selects DefaultMaxMessageBytes.
func NewHubHandler(bus *hub.Bus, d *hub.Dispatcher, maxMessageBytes int64) *HubHandler {
	if maxMessageBytes <= 0 {
		maxMessageBytes = DefaultMaxMessageBytes
	}
	return &HubHandler{
		bus:             bus,
		dispatcher:      d,
		maxMessageBytes: maxMessageBytes,
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *HubHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("websocket upgrade error: %v", err)
		return
	}

	addr := remoteAddr(r)
	client := h.bus.Register(addr)
	if addr == "" {
		glog.Warningf("Unable to obtain client's IP address for %s.", client.ID())
	} else {
		glog.Infof("Connection opened from %s (%s).", addr, client.ID())
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		writePump(conn, client)
	}()

	h.readPump(conn, client)

	h.bus.Unregister(client)
	<-done
	glog.Infof("Connection closed from %s (%s).", addr, client.ID())
}

// readPump dispatches inbound frames in order until the connection fails.
func (h *HubHandler) readPump(conn *websocket.Conn, client *hub.Client) {
	conn.SetReadLimit(h.maxMessageBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				glog.V(1).Infof("websocket read error from %s: %v", client.ID(), err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		binary := messageType == websocket.BinaryMessage
		h.dispatcher.HandleFrame(context.Background(), client, binary, payload)
	}
}

// writePump is the only writer on conn. It exits when the client's outbox
// closes or a write fails, closing the connection either way.
func writePump(conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame, ok := <-client.Outbox():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				glog.V(1).Infof("websocket write error to %s: %v", client.ID(), err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// remoteAddr returns the client address, preferring proxy headers.
func remoteAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return real
	}
	if r.RemoteAddr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
