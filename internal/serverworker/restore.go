package serverworker

import (
	"context"
	"time"

	"github.com/lemonxah/patchbay/internal/graph"
	"github.com/lemonxah/patchbay/internal/instance"
	"github.com/lemonxah/patchbay/internal/persistence"
	"github.com/lemonxah/patchbay/internal/rules"
)

// linkRestoreWindow bounds how long a persisted plugin link waits for its
// endpoints to reappear after restart before being dropped.
const linkRestoreWindow = 5 * time.Second

// pendingLink is one persisted link whose endpoints could not yet be
// resolved against the live graph.
type pendingLink struct {
	rec      persistence.LinkRecord
	deadline time.Time
}

// restore loads every persisted document and rematerializes plugin
// instances and rules before the tick loop starts processing live server
// events. Rules restore first (so newly rematerialized plugin links have
// somewhere to land), then plugin instances, with link restoration
// deferred to applyServerEvent as nodes and ports for the rematerialized
// instances actually appear on the wire.
func (w *Worker) restore(ctx context.Context) {
	w.restoreRules()
	w.restorePlugins(ctx)
	w.restoreLinks()
}

func (w *Worker) restoreRules() {
	var doc persistence.RuleDocument
	if err := w.store.Load(persistence.DocRules, &doc); err != nil {
		w.logger.Warn("failed to load persisted rules", "err", err)
		return
	}
	for _, rec := range doc.Rules {
		mappings := make([]rules.PortMapping, len(rec.Mappings))
		for i, m := range rec.Mappings {
			mappings[i] = rules.PortMapping{OutputPort: m.OutputPort, InputPort: m.InputPort}
		}
		r := &rules.Rule{
			ID:            rec.ID,
			Name:          rec.Name,
			SourcePattern: rec.SourcePattern,
			SourceType:    rec.SourceType,
			TargetPattern: rec.TargetPattern,
			TargetType:    rec.TargetType,
			Mappings:      mappings,
			Enabled:       rec.Enabled,
		}
		if err := w.engine.AddRule(r); err != nil {
			w.logger.Warn("discarding persisted rule with invalid pattern", "rule_id", rec.ID, "err", err)
		}
	}
}

func (w *Worker) restorePlugins(ctx context.Context) {
	var doc persistence.PluginDocument
	if err := w.store.Load(persistence.DocPlugins, &doc); err != nil {
		w.logger.Warn("failed to load persisted plugins", "err", err)
		return
	}
	for _, rec := range doc.Instances {
		md := instanceMetadataFrom(rec)
		if err := w.arena.Rematerialize(ctx, md, sampleRate, scratchFrames); err != nil {
			// Logged inside Rematerialize; the slot is simply absent from
			// the arena and the UI will show the plugin as missing rather
			// than silently dropping its persisted record.
			continue
		}
		inst := w.arena.Get(rec.StableID)
		if inst == nil {
			continue
		}
		inst.SetBypass(rec.Bypass)
		for _, p := range rec.Params {
			inst.SetParam(p.PortIndex, p.Value)
		}
	}
}

// persistPlugins snapshots every live instance's metadata and bypass state
// into the plugins document. Per-port parameter values are written back by
// the UI thread itself as part of its own params_persist_ms debounce, since
// only the UI tracks each control's current displayed value; this keeps
// the worker's snapshot limited to state it actually owns.
func (w *Worker) persistPlugins() {
	mds := w.arena.List()
	doc := persistence.PluginDocument{Instances: make([]persistence.PluginRecord, 0, len(mds))}
	for _, md := range mds {
		inst := w.arena.Get(md.StableID)
		bypass := false
		if inst != nil {
			bypass = inst.Bypassed()
		}
		doc.Instances = append(doc.Instances, persistence.PluginRecord{
			StableID:    md.StableID,
			PluginURI:   md.PluginURI,
			DisplayName: md.DisplayName,
			Bypass:      bypass,
		})
	}
	if err := w.store.Save(persistence.DocPlugins, doc); err != nil {
		w.logger.Warn("failed to persist plugins document", "err", err)
	}
}

func (w *Worker) persistRules() {
	snap := w.engine.Snapshot()
	doc := persistence.RuleDocument{Rules: make([]persistence.RuleRecord, 0, len(snap))}
	for _, r := range snap {
		mappings := make([]persistence.RulePortPairRecord, len(r.Mappings))
		for i, m := range r.Mappings {
			mappings[i] = persistence.RulePortPairRecord{OutputPort: m.OutputPort, InputPort: m.InputPort}
		}
		doc.Rules = append(doc.Rules, persistence.RuleRecord{
			ID:            r.ID,
			Name:          r.Name,
			SourcePattern: r.SourcePattern,
			SourceType:    r.SourceType,
			TargetPattern: r.TargetPattern,
			TargetType:    r.TargetType,
			Mappings:      mappings,
			Enabled:       r.Enabled,
		})
	}
	if err := w.store.Save(persistence.DocRules, doc); err != nil {
		w.logger.Warn("failed to persist rules document", "err", err)
	}
}

// persistLinks snapshots every live link touching a plugin-filter node
// (plugin↔plugin or plugin↔node) into the links document, keyed by layout
// key and port name rather than session-scoped ids. Rule-governed wiring is
// already covered by the rules document; this one exists for the links an
// InsertOnLink or manual plugin patch creates, which no rule materializes.
func (w *Worker) persistLinks() {
	links := w.mirror.Links()
	doc := persistence.LinkDocument{Links: make([]persistence.LinkRecord, 0, len(links))}
	for _, l := range links {
		outPort, inPort := w.mirror.Port(l.OutputPort), w.mirror.Port(l.InputPort)
		if outPort == nil || inPort == nil {
			continue
		}
		outNode, inNode := w.mirror.Node(outPort.NodeID), w.mirror.Node(inPort.NodeID)
		if outNode == nil || inNode == nil {
			continue
		}
		if outNode.Classification != graph.ClassPluginFilter && inNode.Classification != graph.ClassPluginFilter {
			continue
		}
		doc.Links = append(doc.Links, persistence.LinkRecord{
			Output: persistence.LinkEndpoint{LayoutKey: outNode.LayoutKey, PortName: outPort.Name},
			Input:  persistence.LinkEndpoint{LayoutKey: inNode.LayoutKey, PortName: inPort.Name},
		})
	}
	if err := w.store.Save(persistence.DocLinks, doc); err != nil {
		w.logger.Warn("failed to persist links document", "err", err)
	}
}

// restoreLinks loads the links document and queues every record for
// resolution against the live graph as restored plugin instances and their
// surrounding nodes reappear on the wire.
func (w *Worker) restoreLinks() {
	var doc persistence.LinkDocument
	if err := w.store.Load(persistence.DocLinks, &doc); err != nil {
		w.logger.Warn("failed to load persisted links", "err", err)
		return
	}
	if len(doc.Links) == 0 {
		return
	}
	deadline := time.Now().Add(linkRestoreWindow)
	for _, rec := range doc.Links {
		w.pendingLinks = append(w.pendingLinks, pendingLink{rec: rec, deadline: deadline})
	}
}

// retryPendingLinks attempts to resolve and reconnect every still-pending
// persisted link against the current graph, dropping any whose endpoints
// have not appeared within linkRestoreWindow of restore.
func (w *Worker) retryPendingLinks() {
	if len(w.pendingLinks) == 0 {
		return
	}
	now := time.Now()
	remaining := w.pendingLinks[:0]
	for _, pl := range w.pendingLinks {
		outPort, outOK := w.resolveLinkEndpoint(pl.rec.Output, graph.DirectionOutput)
		inPort, inOK := w.resolveLinkEndpoint(pl.rec.Input, graph.DirectionInput)
		if outOK && inOK {
			if !w.mirror.LinkExists(outPort, inPort) {
				if err := w.server.RequestLink(outPort, inPort); err != nil {
					w.logger.Warn("failed to restore persisted link", "err", err)
				}
			}
			continue
		}
		if now.After(pl.deadline) {
			w.logger.Warn("dropping persisted link, endpoints never reappeared",
				"output_layout_key", pl.rec.Output.LayoutKey, "output_port", pl.rec.Output.PortName,
				"input_layout_key", pl.rec.Input.LayoutKey, "input_port", pl.rec.Input.PortName)
			continue
		}
		remaining = append(remaining, pl)
	}
	w.pendingLinks = remaining
}

// resolveLinkEndpoint finds the live port a persisted endpoint now refers
// to: its owning node by layout key, then the named port of the requested
// direction on that node.
func (w *Worker) resolveLinkEndpoint(ep persistence.LinkEndpoint, dir graph.PortDirection) (graph.PortID, bool) {
	node := w.mirror.NodeByLayoutKey(ep.LayoutKey)
	if node == nil {
		return 0, false
	}
	for _, p := range node.Ports {
		if p.Name == ep.PortName && p.Direction == dir {
			return p.ID, true
		}
	}
	return 0, false
}

func instanceMetadataFrom(rec persistence.PluginRecord) instance.Metadata {
	return instance.Metadata{StableID: rec.StableID, PluginURI: rec.PluginURI, DisplayName: rec.DisplayName}
}
