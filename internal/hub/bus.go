// Package hub tracks connected clients and routes their requests to the registries.
package hub

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/ayusman/signboard/internal/protocol"
)

// DefaultQueueSize is the number of outbound frames buffered per client.
const DefaultQueueSize = 64

// ErrClientGone is returned when sending to a client that has disconnected.
var ErrClientGone = errors.New("client disconnected")

// ErrQueueFull is returned when a client's outbound queue is full.
var ErrQueueFull = errors.New("client queue full")

// Info describes a connected client.
type Info struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remoteAddr,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Client is one open connection as seen by the bus. Frames queued for it are
// drained by the connection's writer from Outbox.
type Client struct {
	info   Info
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

// ID returns the client identifier.
func (c *Client) ID() string {
	return c.info.ID
}

// Info returns a copy of the client description.
func (c *Client) Info() Info {
	return c.info
}

// Outbox yields encoded frames to write. It is closed when the client is
// unregistered.
func (c *Client) Outbox() <-chan []byte {
	return c.send
}

func (c *Client) enqueue(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientGone
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Observer is notified when clients connect and disconnect.
type Observer interface {
	ClientOpened(info Info)
	ClientClosed(info Info)
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueSize sets the per-client outbound buffer.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithObserver registers o for connect and disconnect events.
func WithObserver(o Observer) Option {
	return func(b *Bus) {
		b.observer = o
	}
}

// Bus owns the set of open clients and delivers frames to one or all of them.
type Bus struct {
	order     sync.Mutex
	mu        sync.RWMutex
	clients   map[string]*Client
	queueSize int
	observer  Observer
}

// NewBus creates an empty Bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		clients:   make(map[string]*Client),
		queueSize: DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register adds a client. remoteAddr may be empty when the handshake did not
// provide one.
func (b *Bus) Register(remoteAddr string) *Client {
	c := &Client{
		info: Info{
			ID:          uuid.NewString(),
			RemoteAddr:  remoteAddr,
			ConnectedAt: time.Now(),
		},
		send: make(chan []byte, b.queueSize),
	}

	b.mu.Lock()
	b.clients[c.info.ID] = c
	b.mu.Unlock()

	if b.observer != nil {
		b.observer.ClientOpened(c.info)
	}
	return c
}

// Unregister removes c and closes its outbox. It is safe to call twice.
func (b *Bus) Unregister(c *Client) {
	b.mu.Lock()
	_, ok := b.clients[c.info.ID]
	delete(b.clients, c.info.ID)
	b.mu.Unlock()

	c.close()
	if ok && b.observer != nil {
		b.observer.ClientClosed(c.info)
	}
}

// Len returns the number of open clients.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Clients describes the open clients, oldest first.
func (b *Bus) Clients() []Info {
	b.mu.RLock()
	infos := make([]Info, 0, len(b.clients))
	for _, c := range b.clients {
		infos = append(infos, c.info)
	}
	b.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// Send delivers env to c only.
func (b *Bus) Send(c *Client, env protocol.Envelope) error {
	frame, err := env.Encode()
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

// Broadcast delivers env to every client open at the time of the call and
// returns how many accepted it. Broadcasts are queued in one global order.
// A client whose outbox is full is unregistered so it reconnects and reloads
// state instead of silently falling behind.
func (b *Bus) Broadcast(env protocol.Envelope) (int, error) {
	frame, err := env.Encode()
	if err != nil {
		return 0, err
	}

	b.order.Lock()
	b.mu.RLock()
	targets := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	delivered := 0
	var stalled []*Client
	for _, c := range targets {
		err := c.enqueue(frame)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrQueueFull):
			stalled = append(stalled, c)
		default:
			glog.V(1).Infof("hub: skipping %s for %s: %v", env.Type, c.info.ID, err)
		}
	}
	b.order.Unlock()

	for _, c := range stalled {
		glog.Warningf("hub: dropping %s: outbox full on %s broadcast", c.info.ID, env.Type)
		b.Unregister(c)
	}
	return delivered, nil
}
