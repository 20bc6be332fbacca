package serverworker

import (
	"context"
	"testing"
	"time"

	"github.com/lemonxah/patchbay/internal/config"
	"github.com/lemonxah/patchbay/internal/graph"
	"github.com/lemonxah/patchbay/internal/instance"
	"github.com/lemonxah/patchbay/internal/persistence"
	"github.com/lemonxah/patchbay/internal/pluginabi"
	"github.com/lemonxah/patchbay/internal/rules"
	"github.com/lemonxah/patchbay/internal/transport"
	"github.com/stretchr/testify/require"
)

type fakeLoader struct{}

func (fakeLoader) Load(ctx context.Context, pluginURI string) (pluginabi.Handle, error) {
	return pluginabi.NewFakeHandle(2, 2), nil
}

func newTestWorker(t *testing.T) (*Worker, *DummyServerClient, *transport.CommandChannel, *transport.EventChannel) {
	t.Helper()
	dir := t.TempDir()
	store, err := persistence.NewStore(dir, nil)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	mirror := graph.NewMirror(nil)
	engine := rules.NewEngine(mirror, 5*time.Millisecond, nil)
	arena := instance.NewArena(fakeLoader{}, nil)
	prefStore := config.NewStore(config.Defaults())
	commands := transport.NewCommandChannel(16, nil)
	events := transport.NewEventChannel(16, nil)
	uiHost := transport.NewUIHostChannel(16, nil)
	tracker := transport.NewRequestTracker()
	server := NewDummyServerClient()

	w := New(server, mirror, engine, arena, store, prefStore, commands, events, uiHost, tracker, nil)
	return w, server, commands, events
}

func TestRunAppliesServerEventsToMirror(t *testing.T) {
	w, server, _, events := newTestWorker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	server.Push(graph.NodeAdded{ID: 1, Name: "test-node", Props: map[string]string{}})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	evt, ok := events.Receive(waitCtx)
	require.True(t, ok)
	_, isGraphChanged := evt.(transport.GraphChanged)
	require.True(t, isGraphChanged)
	require.NotNil(t, w.mirror.Node(1))
}

func TestRunHandlesAddPluginCommand(t *testing.T) {
	w, _, commands, events := newTestWorker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	commands.TrySend(transport.AddPlugin{PluginURI: "urn:example:gain"})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	for {
		evt, ok := events.Receive(waitCtx)
		if !ok {
			t.Fatal("expected AddPlugin to register an instance and post GraphChanged")
		}
		if _, ok := evt.(transport.GraphChanged); ok {
			require.Equal(t, 1, w.arena.Count())
			return
		}
	}
}

func TestRunHandlesShutdownCommand(t *testing.T) {
	w, _, commands, _ := newTestWorker(t)
	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	commands.TrySend(transport.Shutdown{})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to return after Shutdown command")
	}
}

func TestApplyRuleLinkRequestsServerLink(t *testing.T) {
	w, server, _, _ := newTestWorker(t)
	err := w.applyRuleLink(rules.PortPair{OutputPort: 3, InputPort: 4})
	require.NoError(t, err)
	require.Equal(t, graph.LinkID(1), server.nextLinkID)
}
