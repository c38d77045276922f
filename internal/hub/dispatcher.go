package hub

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/golang/glog"

	"github.com/ayusman/signboard/internal/plugin"
	"github.com/ayusman/signboard/internal/protocol"
	"github.com/ayusman/signboard/internal/style"
)

// PluginRegistry is the plugin store the dispatcher routes to. Mutations call
// publish before releasing their lock so broadcasts follow the order of writes.
type PluginRegistry interface {
	List(ctx context.Context) []plugin.Meta
	Add(ctx context.Context, data json.RawMessage, publish func(*plugin.Meta)) (*plugin.Meta, error)
	Remove(ctx context.Context, data json.RawMessage, publish func(*plugin.Removed)) (*plugin.Removed, error)
	Configure(ctx context.Context, data json.RawMessage, publish func(*plugin.Meta)) (*plugin.Meta, error)
}

// StyleRegistry is the stylesheet store the dispatcher routes to.
type StyleRegistry interface {
	Get(ctx context.Context) style.Style
	Set(ctx context.Context, data json.RawMessage, publish func(style.Style)) (style.Style, error)
	Remove(ctx context.Context, publish func()) error
}

// Dispatcher decodes client frames, runs the requested operation and routes
// the outcome. Queries and failures go back to the requester only; successful
// mutations are broadcast to every client.
type Dispatcher struct {
	bus     *Bus
	plugins PluginRegistry
	styles  StyleRegistry
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(bus *Bus, plugins PluginRegistry, styles StyleRegistry) *Dispatcher {
	return &Dispatcher{
		bus:     bus,
		plugins: plugins,
		styles:  styles,
	}
}

// HandleFrame processes one inbound frame from c.
func (d *Dispatcher) HandleFrame(ctx context.Context, c *Client, binary bool, payload []byte) {
	if binary {
		d.fail(c, protocol.TypeError, protocol.ProtocolError(protocol.MsgBinaryUnsupported))
		return
	}

	env, err := protocol.Decode(payload)
	if err != nil {
		glog.V(1).Infof("hub: %s sent undecodable frame: %v", c.ID(), err)
		d.fail(c, protocol.TypeError, protocol.ProtocolError(protocol.MsgParseFailed))
		return
	}
	d.Dispatch(ctx, c, env)
}

// Dispatch runs the operation named by env. A started operation is not
// cancelled when the requester disconnects.
func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, env protocol.Envelope) {
	ctx = context.WithoutCancel(ctx)
	glog.V(1).Infof("hub: %s -> %s", c.ID(), env.Type)

	switch env.Type {
	case protocol.TypeListPlugins:
		d.reply(c, env.Type, d.plugins.List(ctx))

	case protocol.TypeAddPlugin:
		_, err := d.plugins.Add(ctx, env.Data, func(m *plugin.Meta) {
			d.publish(c, env.Type, m)
		})
		d.check(c, env.Type, err)

	case protocol.TypeRemovePlugin:
		_, err := d.plugins.Remove(ctx, env.Data, func(r *plugin.Removed) {
			d.publish(c, env.Type, r)
		})
		d.check(c, env.Type, err)

	case protocol.TypeConfigPlugin:
		_, err := d.plugins.Configure(ctx, env.Data, func(m *plugin.Meta) {
			d.publish(c, env.Type, m)
		})
		d.check(c, env.Type, err)

	case protocol.TypeGetStyle:
		d.reply(c, env.Type, d.styles.Get(ctx))

	case protocol.TypeSetStyle:
		_, err := d.styles.Set(ctx, env.Data, func(s style.Style) {
			d.publish(c, env.Type, s)
		})
		d.check(c, env.Type, err)

	case protocol.TypeRemoveStyle:
		err := d.styles.Remove(ctx, func() {
			d.publish(c, env.Type, nil)
		})
		d.check(c, env.Type, err)

	case protocol.TypeBroadcast:
		if _, err := d.bus.Broadcast(env); err != nil {
			d.fail(c, env.Type, err)
		}

	default:
		d.fail(c, env.Type, protocol.ProtocolError(protocol.MsgUnsupportedType))
	}
}

func (d *Dispatcher) reply(c *Client, t protocol.MessageType, v any) {
	env, err := protocol.New(t, v)
	if err != nil {
		d.fail(c, t, err)
		return
	}
	if err := d.bus.Send(c, env); err != nil {
		glog.Warningf("hub: reply %s to %s dropped: %v", t, c.ID(), err)
	}
}

// publish broadcasts a committed mutation. It runs inside the registry's
// critical section.
func (d *Dispatcher) publish(c *Client, t protocol.MessageType, v any) {
	env, err := protocol.New(t, v)
	if err != nil {
		glog.Errorf("hub: encode %s from %s: %v", t, c.ID(), err)
		return
	}
	n, err := d.bus.Broadcast(env)
	if err != nil {
		glog.Errorf("hub: broadcast %s from %s: %v", t, c.ID(), err)
		return
	}
	glog.V(1).Infof("hub: %s from %s broadcast to %d clients", t, c.ID(), n)
}

// check reports a failed mutation to the requester.
func (d *Dispatcher) check(c *Client, t protocol.MessageType, err error) {
	if err != nil {
		d.fail(c, t, err)
	}
}

func (d *Dispatcher) fail(c *Client, t protocol.MessageType, err error) {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		glog.Warningf("hub: %s from %s failed: %s", t, c.ID(), perr.Cause())
	} else {
		glog.Errorf("hub: %s from %s failed: %v", t, c.ID(), err)
	}

	msg := protocol.Message(err, "Internal error.")
	if err := d.bus.Send(c, protocol.ErrorEnvelope(msg)); err != nil {
		glog.Warningf("hub: error reply to %s dropped: %v", c.ID(), err)
	}
}
