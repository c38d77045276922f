package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/signboard/internal/plugin"
	"github.com/ayusman/signboard/internal/protocol"
	"github.com/ayusman/signboard/internal/style"
)

type offlineFetcher struct{}

func (offlineFetcher) Text(ctx context.Context, url string) (string, error) {
	return "", fmt.Errorf("dial %s: connection refused", url)
}

func (offlineFetcher) JSON(ctx context.Context, url string, v any) error {
	return fmt.Errorf("dial %s: connection refused", url)
}

type fixture struct {
	bus     *Bus
	d       *Dispatcher
	plugins *plugin.Registry
	styles  *style.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	bus := NewBus()
	plugins := plugin.NewRegistry(filepath.Join(dir, "plugins"), offlineFetcher{})
	styles := style.NewRegistry(filepath.Join(dir, "data", "style.css"), offlineFetcher{})
	return &fixture{
		bus:     bus,
		d:       NewDispatcher(bus, plugins, styles),
		plugins: plugins,
		styles:  styles,
	}
}

func (f *fixture) send(c *Client, frame string) {
	f.d.HandleFrame(context.Background(), c, false, []byte(frame))
}

func requireError(t *testing.T, envs []protocol.Envelope, msg string) {
	t.Helper()
	require.Len(t, envs, 1)
	assert.Equal(t, protocol.TypeError, envs[0].Type)
	var got string
	require.NoError(t, json.Unmarshal(envs[0].Data, &got))
	assert.Equal(t, msg, got)
}

func TestDispatcher_ProtocolErrors(t *testing.T) {
	f := newFixture(t)
	sender := f.bus.Register("")
	other := f.bus.Register("")

	tests := []struct {
		name   string
		binary bool
		frame  string
		msg    string
	}{
		{"binary frame", true, `{"type":"listPlugins"}`, protocol.MsgBinaryUnsupported},
		{"binary garbage", true, "\x00\x01\x02", protocol.MsgBinaryUnsupported},
		{"malformed json", false, `{"type":`, protocol.MsgParseFailed},
		{"missing type", false, `{"data":1}`, protocol.MsgParseFailed},
		{"unknown type", false, `{"type":"reboot"}`, protocol.MsgUnsupportedType},
		{"outbound-only type", false, `{"type":"error","data":"x"}`, protocol.MsgUnsupportedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.d.HandleFrame(context.Background(), sender, tt.binary, []byte(tt.frame))
			requireError(t, drain(t, sender), tt.msg)
			assert.Empty(t, drain(t, other))
		})
	}
}

func TestDispatcher_PluginLifecycle(t *testing.T) {
	f := newFixture(t)
	editor := f.bus.Register("")
	display := f.bus.Register("")

	f.send(editor, `{"type":"addPlugin","data":{"meta":{"name":"foo","version":"1","script":{"inline":"x"}}}}`)
	for _, c := range []*Client{editor, display} {
		got := drain(t, c)
		require.Len(t, got, 1)
		assert.Equal(t, protocol.TypeAddPlugin, got[0].Type)
		var m plugin.Meta
		require.NoError(t, json.Unmarshal(got[0].Data, &m))
		assert.Equal(t, "/script/foo.js", *m.Script.URL)
	}

	f.send(display, `{"type":"listPlugins"}`)
	assert.Empty(t, drain(t, editor), "list replies are unicast")
	got := drain(t, display)
	require.Len(t, got, 1)
	assert.Equal(t, protocol.TypeListPlugins, got[0].Type)
	var listed []plugin.Meta
	require.NoError(t, json.Unmarshal(got[0].Data, &listed))
	require.Len(t, listed, 1)

	f.send(editor, `{"type":"configPlugin","data":{"name":"foo","configs":[{"name":"enabled","value":true}]}}`)
	for _, c := range []*Client{editor, display} {
		got := drain(t, c)
		require.Len(t, got, 1)
		assert.Equal(t, protocol.TypeConfigPlugin, got[0].Type)
		var m plugin.Meta
		require.NoError(t, json.Unmarshal(got[0].Data, &m))
		assert.JSONEq(t, `true`, string(m.Config(plugin.EnabledConfig).Value))
	}

	f.send(editor, `{"type":"removePlugin","data":{"name":"foo"}}`)
	for _, c := range []*Client{editor, display} {
		got := drain(t, c)
		require.Len(t, got, 1)
		assert.Equal(t, protocol.TypeRemovePlugin, got[0].Type)
		assert.JSONEq(t, `{"name":"foo"}`, string(got[0].Data))
	}
}

func TestDispatcher_FailuresAreUnicast(t *testing.T) {
	f := newFixture(t)
	editor := f.bus.Register("")
	display := f.bus.Register("")

	f.send(editor, `{"type":"removePlugin","data":{"name":"ghost"}}`)
	requireError(t, drain(t, editor), "Plugin not found.")
	assert.Empty(t, drain(t, display))

	f.send(editor, `{"type":"addPlugin","data":{"meta":{"name":"remote","version":"1","script":{"url":"http://unreachable.invalid/x.js"}}}}`)
	requireError(t, drain(t, editor), "Failed to get the script file.")
	assert.Empty(t, drain(t, display))
	_, err := os.Stat(filepath.Join(f.plugins.Dir(), "remote"))
	assert.True(t, os.IsNotExist(err))

	f.send(editor, `{"type":"removeStyle"}`)
	requireError(t, drain(t, editor), "Failed to remove style.")
	assert.Empty(t, drain(t, display))
}

func TestDispatcher_StyleLifecycle(t *testing.T) {
	f := newFixture(t)
	editor := f.bus.Register("")
	display := f.bus.Register("")

	f.send(display, `{"type":"getStyle"}`)
	got := drain(t, display)
	require.Len(t, got, 1)
	assert.Equal(t, protocol.TypeGetStyle, got[0].Type)
	assert.JSONEq(t, `{}`, string(got[0].Data))

	f.send(editor, `{"type":"setStyle","data":{"inline":"body{}"}}`)
	for _, c := range []*Client{editor, display} {
		got := drain(t, c)
		require.Len(t, got, 1)
		assert.Equal(t, protocol.TypeSetStyle, got[0].Type)
		assert.JSONEq(t, `{"url":"/custom/style.css"}`, string(got[0].Data))
	}

	f.send(display, `{"type":"getStyle"}`)
	got = drain(t, display)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"url":"/custom/style.css"}`, string(got[0].Data))

	f.send(editor, `{"type":"removeStyle"}`)
	for _, c := range []*Client{editor, display} {
		got := drain(t, c)
		require.Len(t, got, 1)
		assert.Equal(t, protocol.TypeRemoveStyle, got[0].Type)
		assert.Equal(t, "null", string(got[0].Data))
	}

	f.send(display, `{"type":"getStyle"}`)
	got = drain(t, display)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{}`, string(got[0].Data))
}

func TestDispatcher_Relay(t *testing.T) {
	f := newFixture(t)
	a := f.bus.Register("")
	b := f.bus.Register("")

	f.send(a, `{"type":"broadcast","data":{"plugin":"clock","tick":42}}`)
	for _, c := range []*Client{a, b} {
		got := drain(t, c)
		require.Len(t, got, 1)
		assert.Equal(t, protocol.TypeBroadcast, got[0].Type)
		assert.JSONEq(t, `{"plugin":"clock","tick":42}`, string(got[0].Data))
	}

	entries, err := os.ReadDir(filepath.Dir(f.plugins.Dir()))
	require.NoError(t, err)
	assert.Empty(t, entries, "relay must not persist anything")
}

func TestDispatcher_DisconnectedRequester(t *testing.T) {
	f := newFixture(t)
	editor := f.bus.Register("")
	display := f.bus.Register("")
	f.bus.Unregister(editor)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.d.HandleFrame(ctx, editor, false, []byte(`{"type":"addPlugin","data":{"meta":{"name":"late","version":"1","script":{"inline":"x"}}}}`))

	got := drain(t, display)
	require.Len(t, got, 1)
	assert.Equal(t, protocol.TypeAddPlugin, got[0].Type)
	assert.Len(t, f.plugins.List(context.Background()), 1)
}

// stallingRegistry delays the first configure announcement so a second
// configure can race it.
type stallingRegistry struct {
	*plugin.Registry
	once     sync.Once
	stalling chan struct{}
}

func (s *stallingRegistry) Configure(ctx context.Context, data json.RawMessage, publish func(*plugin.Meta)) (*plugin.Meta, error) {
	return s.Registry.Configure(ctx, data, func(m *plugin.Meta) {
		s.once.Do(func() {
			close(s.stalling)
			time.Sleep(100 * time.Millisecond)
		})
		publish(m)
	})
}

func TestDispatcher_BroadcastOrderMatchesDisk(t *testing.T) {
	f := newFixture(t)
	slow := &stallingRegistry{Registry: f.plugins, stalling: make(chan struct{})}
	d := NewDispatcher(f.bus, slow, f.styles)
	editor := f.bus.Register("")
	display := f.bus.Register("")

	d.HandleFrame(context.Background(), editor, false, []byte(`{"type":"addPlugin","data":{"meta":{"name":"foo","version":"1","configs":[{"name":"size","type":"number","default":0}],"script":{"inline":"x"}}}}`))
	drain(t, editor)
	drain(t, display)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.HandleFrame(context.Background(), editor, false, []byte(`{"type":"configPlugin","data":{"name":"foo","configs":[{"name":"size","value":1}]}}`))
	}()
	<-slow.stalling
	go func() {
		defer wg.Done()
		d.HandleFrame(context.Background(), editor, false, []byte(`{"type":"configPlugin","data":{"name":"foo","configs":[{"name":"size","value":2}]}}`))
	}()
	wg.Wait()

	var sizes []string
	for _, env := range drain(t, display) {
		require.Equal(t, protocol.TypeConfigPlugin, env.Type)
		var m plugin.Meta
		require.NoError(t, json.Unmarshal(env.Data, &m))
		sizes = append(sizes, string(m.Config("size").Value))
	}
	assert.Equal(t, []string{"1", "2"}, sizes)

	listed := f.plugins.List(context.Background())
	require.Len(t, listed, 1)
	assert.JSONEq(t, "2", string(listed[0].Config("size").Value))
}

func TestDispatcher_StyleBroadcastOrderMatchesDisk(t *testing.T) {
	f := newFixture(t)
	editor := f.bus.Register("")
	display := f.bus.Register("")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			f.send(editor, `{"type":"setStyle","data":{"inline":"body{}"}}`)
		}()
		go func() {
			defer wg.Done()
			f.send(editor, `{"type":"removeStyle"}`)
		}()
	}
	wg.Wait()

	var last protocol.MessageType
	for _, env := range drain(t, display) {
		last = env.Type
	}
	_, err := os.Stat(f.styles.Path())
	if last == protocol.TypeSetStyle {
		assert.NoError(t, err)
	} else {
		assert.Equal(t, protocol.TypeRemoveStyle, last)
		assert.True(t, os.IsNotExist(err))
	}
}
