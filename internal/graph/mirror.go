package graph

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Mirror is the thread-confined, event-sourced shadow of the audio server's
// graph. Apply is the only mutator and is meant to be called exclusively
// from the server-worker thread; Snapshot is safe to call from any thread
// under a short-lived read lock.
type Mirror struct {
	mu      sync.RWMutex
	logger  *slog.Logger
	version uint64

	nodes map[NodeID]*Node
	ports map[PortID]*Port
	links map[LinkID]*Link

	// Ports that arrived before their parent node. Resolved on NodeAdded.
	orphanPorts map[NodeID][]*Port

	// layoutKeyOwners tracks, in arrival order, every live node that has
	// claimed a given layout key, so collisions can be disambiguated by
	// suffixing the second-and-later claimant with its server id.
	layoutKeyOwners map[string][]NodeID
}

// NewMirror constructs an empty Mirror.
func NewMirror(logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		logger:          logger,
		nodes:           make(map[NodeID]*Node),
		ports:           make(map[PortID]*Port),
		links:           make(map[LinkID]*Link),
		orphanPorts:     make(map[NodeID][]*Port),
		layoutKeyOwners: make(map[string][]NodeID),
	}
}

// Version returns the current graph version. The UI diffs by version to
// decide whether a re-query is needed.
func (m *Mirror) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Apply consumes one ServerEvent, maintaining invariants (i) every Port's
// parent Node exists, (ii) every Link's endpoints exist as Ports, and (iii)
// no duplicate ids. A malformed event is logged and ignored rather than
// panicking or corrupting the mirror.
func (m *Mirror) Apply(event ServerEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch e := event.(type) {
	case NodeAdded:
		m.applyNodeAdded(e)
	case NodeRemoved:
		m.applyNodeRemoved(e)
	case NodeInfo:
		m.applyNodeInfo(e)
	case PortAdded:
		m.applyPortAdded(e)
	case PortRemoved:
		m.applyPortRemoved(e)
	case LinkAdded:
		m.applyLinkAdded(e)
	case LinkRemoved:
		m.applyLinkRemoved(e)
	case LinkActiveChanged:
		m.applyLinkActiveChanged(e)
	default:
		m.logger.Warn("graph mirror received unrecognized event type", "event", fmt.Sprintf("%T", event))
		return
	}

	m.version++
}

func (m *Mirror) applyNodeAdded(e NodeAdded) {
	if _, exists := m.nodes[e.ID]; exists {
		m.logger.Warn("duplicate NodeAdded ignored", "nodeID", e.ID)
		return
	}

	layoutKey := computeLayoutKey(e.Props, e.Name)
	owners := m.layoutKeyOwners[layoutKey]
	effectiveKey := layoutKey
	if len(owners) > 0 {
		effectiveKey = fmt.Sprintf("%s#%d", layoutKey, e.ID)
	}
	m.layoutKeyOwners[layoutKey] = append(owners, e.ID)

	node := &Node{
		ID:             e.ID,
		Name:           e.Name,
		LayoutKey:      effectiveKey,
		Classification: deriveClassification(e.Props, false, false),
		MediaType:      mediaTypeFromProps(e.Props),
		Virtual:        isVirtualClass(deriveClassification(e.Props, false, false)),
		PluginFormat:   e.Props[propPluginURI],
		Props:          e.Props,
		Ports:          make(map[PortID]*Port),
	}
	m.nodes[e.ID] = node

	// Resolve any ports that arrived before this node.
	if pending, ok := m.orphanPorts[e.ID]; ok {
		for _, p := range pending {
			node.Ports[p.ID] = p
			m.ports[p.ID] = p
		}
		delete(m.orphanPorts, e.ID)
		m.reclassifyNode(node)
	}
}

func (m *Mirror) applyNodeRemoved(e NodeRemoved) {
	node, ok := m.nodes[e.ID]
	if !ok {
		m.logger.Debug("NodeRemoved for unknown node ignored", "nodeID", e.ID)
		return
	}

	for portID := range node.Ports {
		m.removePortAndLinks(portID)
	}
	delete(m.nodes, e.ID)
	delete(m.orphanPorts, e.ID)

	owners := m.layoutKeyOwners[stripSuffix(node.LayoutKey)]
	m.layoutKeyOwners[stripSuffix(node.LayoutKey)] = removeNodeID(owners, e.ID)
}

func (m *Mirror) applyNodeInfo(e NodeInfo) {
	node, ok := m.nodes[e.ID]
	if !ok {
		m.logger.Debug("NodeInfo for unknown node ignored", "nodeID", e.ID)
		return
	}
	node.Name = e.Name
	for k, v := range e.Props {
		node.Props[k] = v
	}
	m.reclassifyNode(node)
}

func (m *Mirror) applyPortAdded(e PortAdded) {
	if _, exists := m.ports[e.ID]; exists {
		m.logger.Warn("duplicate PortAdded ignored", "portID", e.ID)
		return
	}

	port := &Port{
		ID:        e.ID,
		NodeID:    e.NodeID,
		Name:      e.Name,
		Direction: e.Direction,
		MediaType: e.MediaType,
	}

	node, ok := m.nodes[e.NodeID]
	if !ok {
		// Parent not seen yet: buffer until NodeAdded resolves it.
		m.orphanPorts[e.NodeID] = append(m.orphanPorts[e.NodeID], port)
		return
	}

	node.Ports[port.ID] = port
	m.ports[port.ID] = port
	m.reclassifyNode(node)
}

func (m *Mirror) applyPortRemoved(e PortRemoved) {
	if _, ok := m.ports[e.ID]; !ok {
		m.logger.Debug("PortRemoved for unknown port ignored", "portID", e.ID)
		return
	}
	m.removePortAndLinks(e.ID)
}

// removePortAndLinks removes a port, detaching it from its node and
// removing any links that reference it. Assumes the caller holds m.mu.
func (m *Mirror) removePortAndLinks(portID PortID) {
	port, ok := m.ports[portID]
	if !ok {
		return
	}
	if node, ok := m.nodes[port.NodeID]; ok {
		delete(node.Ports, portID)
	}
	delete(m.ports, portID)

	for linkID, link := range m.links {
		if link.OutputPort == portID || link.InputPort == portID {
			delete(m.links, linkID)
		}
	}
}

func (m *Mirror) applyLinkAdded(e LinkAdded) {
	if _, exists := m.links[e.ID]; exists {
		m.logger.Warn("duplicate LinkAdded ignored", "linkID", e.ID)
		return
	}

	out, outOK := m.ports[e.OutputPort]
	in, inOK := m.ports[e.InputPort]
	if !outOK || !inOK {
		m.logger.Warn("LinkAdded references unknown port, ignored", "linkID", e.ID, "outputPort", e.OutputPort, "inputPort", e.InputPort)
		return
	}
	if out.Direction != DirectionOutput || in.Direction != DirectionInput {
		m.logger.Warn("LinkAdded endpoints have wrong directions, ignored", "linkID", e.ID)
		return
	}
	if out.NodeID == in.NodeID {
		m.logger.Warn("LinkAdded is a self-node link, ignored", "linkID", e.ID, "nodeID", out.NodeID)
		return
	}

	m.links[e.ID] = &Link{
		ID:         e.ID,
		OutputPort: e.OutputPort,
		InputPort:  e.InputPort,
		Active:     e.Active,
	}
}

func (m *Mirror) applyLinkRemoved(e LinkRemoved) {
	if _, ok := m.links[e.ID]; !ok {
		m.logger.Debug("LinkRemoved for unknown link ignored", "linkID", e.ID)
		return
	}
	delete(m.links, e.ID)
}

func (m *Mirror) applyLinkActiveChanged(e LinkActiveChanged) {
	link, ok := m.links[e.ID]
	if !ok {
		m.logger.Debug("LinkActiveChanged for unknown link ignored", "linkID", e.ID)
		return
	}
	link.Active = e.Active
}

// reclassifyNode recomputes classification/media type/virtual flag now that
// the node's port set (and hence in/out audio presence) may have changed.
func (m *Mirror) reclassifyNode(node *Node) {
	hasIn, hasOut := false, false
	for _, p := range node.Ports {
		if p.MediaType != MediaAudio {
			continue
		}
		if p.Direction == DirectionInput {
			hasIn = true
		} else {
			hasOut = true
		}
	}
	node.Classification = deriveClassification(node.Props, hasIn, hasOut)
	node.Virtual = isVirtualClass(node.Classification)
}

// Reset clears the mirror entirely, as happens on server disconnect. The
// caller is responsible for posting the single "graph reset" event to the
// UI.
func (m *Mirror) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = make(map[NodeID]*Node)
	m.ports = make(map[PortID]*Port)
	m.links = make(map[LinkID]*Link)
	m.orphanPorts = make(map[NodeID][]*Port)
	m.layoutKeyOwners = make(map[string][]NodeID)
	m.version++
}

// Node returns a copy-free pointer to the live node, or nil. Callers must not
// mutate the result.
func (m *Mirror) Node(id NodeID) *Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nodes[id]
}

// Port returns the live port, or nil.
func (m *Mirror) Port(id PortID) *Port {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ports[id]
}

// NodeByLayoutKey finds a live node by its layout key (used to restore
// viewport/layout/hidden state keyed by layout key across restarts).
func (m *Mirror) NodeByLayoutKey(layoutKey string) *Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, n := range m.nodes {
		if n.LayoutKey == layoutKey {
			return n
		}
	}
	return nil
}

// Nodes returns a stable-ordered snapshot of all live nodes.
func (m *Mirror) Nodes() []*Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Links returns a stable-ordered snapshot of all live links.
func (m *Mirror) Links() []*Link {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Link, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LinkExists reports whether a link already connects these exact ports,
// used by the rule engine to keep re-materialization idempotent.
func (m *Mirror) LinkExists(output PortID, input PortID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.links {
		if l.OutputPort == output && l.InputPort == input {
			return true
		}
	}
	return false
}

// OutputPorts returns the output ports of a node, of every media type,
// ordered by port id.
func (m *Mirror) OutputPorts(id NodeID) []*Port {
	return m.portsByDirection(id, DirectionOutput)
}

// InputPorts returns the input ports of a node, of every media type,
// ordered by port id.
func (m *Mirror) InputPorts(id NodeID) []*Port {
	return m.portsByDirection(id, DirectionInput)
}

func (m *Mirror) portsByDirection(id NodeID, dir PortDirection) []*Port {
	m.mu.RLock()
	defer m.mu.RUnlock()
	node, ok := m.nodes[id]
	if !ok {
		return nil
	}
	out := make([]*Port, 0, len(node.Ports))
	for _, p := range node.Ports {
		if p.Direction == dir {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func isVirtualClass(c Classification) bool {
	return c == ClassVirtualSink || c == ClassVirtualSource
}

func mediaTypeFromProps(props map[string]string) MediaType {
	if props[propMediaClass] == string(MediaMIDI) {
		return MediaMIDI
	}
	// Default to audio; MIDI nodes carry it explicitly in media.class.
	return MediaAudio
}

func removeNodeID(ids []NodeID, target NodeID) []NodeID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// stripSuffix removes the "#<id>" disambiguation suffix this package adds to
// colliding layout keys, recovering the original key used to index
// layoutKeyOwners.
func stripSuffix(layoutKey string) string {
	for i := len(layoutKey) - 1; i >= 0; i-- {
		if layoutKey[i] == '#' {
			return layoutKey[:i]
		}
	}
	return layoutKey
}
