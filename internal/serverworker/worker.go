package serverworker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/lemonxah/patchbay/internal/config"
	"github.com/lemonxah/patchbay/internal/graph"
	"github.com/lemonxah/patchbay/internal/instance"
	"github.com/lemonxah/patchbay/internal/persistence"
	"github.com/lemonxah/patchbay/internal/rules"
	"github.com/lemonxah/patchbay/internal/transport"
)

// sampleRate and scratchFrames are the fixed parameters every plugin
// instance in this process is activated with; the host does not follow the
// server's live block-size renegotiation.
const (
	sampleRate    = 48000.0
	scratchFrames = 4096
)

// Worker is the single goroutine that owns the graph mirror, rule engine,
// and plugin instance arena, and is the only caller of ServerClient and
// Arena mutators. It interleaves draining server events into the mirror
// with draining UI commands on a pw_tick_interval_ms ticker, a
// configurable heartbeat tick rather than one hardcoded constant.
type Worker struct {
	logger *slog.Logger
	server ServerClient
	mirror *graph.Mirror
	engine *rules.Engine
	arena  *instance.Arena
	store  *persistence.Store
	prefs  *config.Store

	commands *transport.CommandChannel
	events   *transport.EventChannel
	uiHost   *transport.UIHostChannel
	tracker  *transport.RequestTracker

	tickInterval time.Duration

	// pendingLinks holds persisted plugin links not yet resolved against the
	// live graph, retried as nodes/ports arrive until linkRestoreWindow
	// elapses since restore.
	pendingLinks []pendingLink
}

// New builds a Worker. All dependencies are constructed by the caller
// (cmd/patchbayd's wiring) and handed in fully formed; Worker itself never
// constructs its collaborators.
func New(
	server ServerClient,
	mirror *graph.Mirror,
	engine *rules.Engine,
	arena *instance.Arena,
	store *persistence.Store,
	prefs *config.Store,
	commands *transport.CommandChannel,
	events *transport.EventChannel,
	uiHost *transport.UIHostChannel,
	tracker *transport.RequestTracker,
	logger *slog.Logger,
) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	tick := time.Duration(prefs.Get().PwTickIntervalMs) * time.Millisecond
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	w := &Worker{
		logger:       logger,
		server:       server,
		mirror:       mirror,
		engine:       engine,
		arena:        arena,
		store:        store,
		prefs:        prefs,
		commands:     commands,
		events:       events,
		uiHost:       uiHost,
		tracker:      tracker,
		tickInterval: tick,
	}
	engine.ApplyLinkFunc = w.applyRuleLink
	return w
}

// Run connects to the server, restores persisted state, and ticks until
// ctx is canceled or a Shutdown command is handled. It never returns an
// error of its own; a failed Connect is reported via the returned error so
// cmd/patchbayd can choose the unrecoverable-connection-failure exit code.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Connect(ctx); err != nil {
		return fmt.Errorf("serverworker: connect: %w", err)
	}
	defer w.server.Disconnect()

	w.restore(ctx)

	ticker := time.NewTicker(w.tickInterval)
	defer ticker.Stop()
	defer w.engine.Shutdown()

	cpuSampleTicker := time.NewTicker(time.Second)
	defer cpuSampleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-w.server.Events():
			if !ok {
				return nil
			}
			w.applyServerEvent(evt)
		case <-ticker.C:
			if w.drainCommands(ctx) {
				w.store.FlushAll()
				return nil
			}
		case <-cpuSampleTicker.C:
			w.postCpuSample()
		}
	}
}

// applyServerEvent folds one ServerEvent into the mirror, notifies the rule
// engine's settle detector, runs its learn/unlearn hooks for link events
// (looked up before the mirror mutates, since LinkRemoved's endpoints are
// only resolvable from the link the mirror is about to delete), and posts
// a GraphChanged event.
func (w *Worker) applyServerEvent(evt graph.ServerEvent) {
	switch e := evt.(type) {
	case graph.LinkAdded:
		w.mirror.Apply(evt)
		if outPort, inPort := w.mirror.Port(e.OutputPort), w.mirror.Port(e.InputPort); outPort != nil && inPort != nil {
			if srcNode, tgtNode := w.mirror.Node(outPort.NodeID), w.mirror.Node(inPort.NodeID); srcNode != nil && tgtNode != nil {
				w.engine.OnLinkAdded(e.OutputPort, e.InputPort, srcNode, tgtNode)
			}
		}
		w.persistLinks()
	case graph.LinkRemoved:
		var outputPort, inputPort graph.PortID
		for _, l := range w.mirror.Links() {
			if l.ID == e.ID {
				outputPort, inputPort = l.OutputPort, l.InputPort
				break
			}
		}
		w.mirror.Apply(evt)
		w.engine.OnLinkRemoved(outputPort, inputPort)
		w.persistLinks()
	case graph.NodeAdded, graph.PortAdded:
		w.mirror.Apply(evt)
		w.retryPendingLinks()
	default:
		w.mirror.Apply(evt)
	}

	w.engine.NotifyGraphEvent()
	w.events.TrySend(transport.GraphChanged{Version: w.mirror.Version()})
}

// applyRuleLink is internal/rules.Engine's ApplyLinkFunc: it asks the
// server to create the link, rather than mutating the mirror directly,
// since only a real LinkAdded event from the server is ever a source of
// truth for the mirror.
func (w *Worker) applyRuleLink(pair rules.PortPair) error {
	return w.server.RequestLink(graph.PortID(pair.OutputPort), graph.PortID(pair.InputPort))
}

// drainCommands processes every command currently queued, returning true
// if a Shutdown command was among them.
func (w *Worker) drainCommands(ctx context.Context) bool {
	for _, cmd := range w.commands.Drain() {
		if w.handleCommand(ctx, cmd) {
			return true
		}
	}
	return false
}

func (w *Worker) handleCommand(ctx context.Context, cmd transport.Command) bool {
	switch c := cmd.(type) {
	case transport.ConnectPorts:
		if err := w.server.RequestLink(graph.PortID(c.OutputPort), graph.PortID(c.InputPort)); err != nil {
			w.postError(err, 0)
		}
	case transport.DisconnectLink:
		if err := w.server.RequestUnlink(graph.LinkID(c.LinkID)); err != nil {
			w.postError(err, 0)
		}
	case transport.AddPlugin:
		w.handleAddPlugin(ctx, c)
	case transport.RemovePlugin:
		w.arena.Remove(c.InstanceID)
	case transport.SetParameter:
		if inst := w.arena.Get(c.InstanceID); inst != nil {
			inst.SetParam(c.PortIndex, c.Value)
		}
	case transport.SetBypass:
		if inst := w.arena.Get(c.InstanceID); inst != nil {
			inst.SetBypass(c.Bypass)
		}
	case transport.RenamePlugin:
		// Display name is UI-owned metadata; persistence picks it up on the
		// next plugins-document save triggered by the UI thread itself.
	case transport.OpenPluginUi:
		if md, ok := w.arena.Metadata(c.InstanceID); ok {
			w.uiHost.TrySend(transport.UIHostOpenPluginUi{
				InstanceID: c.InstanceID,
				PluginURI:  md.PluginURI,
				RequestID:  c.RequestID,
			})
		}
	case transport.InsertOnLink:
		// Rewiring an existing link through a newly inserted instance
		// requires breaking and re-making the link on the server side;
		// left to a future iteration.
	case transport.ToggleRule:
		w.engine.ToggleRule(c.RuleID)
	case transport.AddRule:
		_ = w.engine.AddRule(ruleFromSpec(c.Rule))
	case transport.RemoveRule:
		w.engine.RemoveRule(c.RuleID)
	case transport.SnapshotRules:
		w.persistRules()
	case transport.ApplyRulesNow:
		w.engine.Apply()
	case transport.SetPatchbayEnabled:
		w.engine.SetEnabled(c.Enabled)
	case transport.SetDefaultNode:
		// Default-sink/source selection is a server-side preference this
		// worker has no API surface for yet.
	case transport.Shutdown:
		return true
	}
	return false
}

func (w *Worker) handleAddPlugin(ctx context.Context, c transport.AddPlugin) {
	if _, err := w.arena.Add(ctx, c.PluginURI, 0, sampleRate, scratchFrames); err != nil {
		w.postError(err, 0)
		return
	}
	w.persistPlugins()
	w.events.TrySend(transport.GraphChanged{Version: w.mirror.Version()})
}

func (w *Worker) postError(err error, reqID transport.RequestID) {
	w.logger.Warn("command failed", "err", err)
	w.events.TrySend(transport.Error{Message: err.Error(), RequestID: reqID})
}

// postCpuSample gathers every live instance's timing accumulator and posts
// one CpuSample event, matching the periodic, non-RT-thread CPU
// reporting requirement.
func (w *Worker) postCpuSample() {
	mds := w.arena.List()
	sort.Slice(mds, func(i, j int) bool { return mds[i].StableID < mds[j].StableID })

	// blockBudgetMicros is the realtime budget for one processing block: the
	// wall-clock time scratchFrames of audio occupy at sampleRate.
	blockBudgetMicros := scratchFrames * 1e6 / sampleRate

	loads := make([]transport.InstanceLoad, 0, len(mds))
	var totalDSPPercent float64
	for _, md := range mds {
		inst := w.arena.Get(md.StableID)
		if inst == nil {
			continue
		}
		avg, last := inst.Timing().Sample()
		dspPercent := avg / blockBudgetMicros
		loads = append(loads, transport.InstanceLoad{
			InstanceID: md.StableID,
			AvgMicros:  avg,
			LastMicros: last,
			DSPPercent: dspPercent,
		})
		totalDSPPercent += dspPercent
	}
	w.events.TrySend(transport.CpuSample{ProcessPct: totalDSPPercent, PerInstance: loads})
}

func ruleFromSpec(spec transport.RuleSpec) *rules.Rule {
	mappings := make([]rules.PortMapping, len(spec.Mappings))
	for i, m := range spec.Mappings {
		mappings[i] = rules.PortMapping{OutputPort: m.OutputPort, InputPort: m.InputPort}
	}
	return &rules.Rule{
		ID:            spec.ID,
		SourcePattern: spec.SourcePattern,
		SourceType:    spec.SourceType,
		TargetPattern: spec.TargetPattern,
		TargetType:    spec.TargetType,
		Mappings:      mappings,
		Enabled:       spec.Enabled,
	}
}
