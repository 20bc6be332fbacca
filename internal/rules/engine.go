package rules

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lemonxah/patchbay/internal/graph"
)

// settleDetector is reset on every server event and fires once the graph
// has been quiet for its configured duration, debouncing Apply against a
// rapidly changing graph.
type settleDetector struct {
	mu       sync.Mutex
	timer    *time.Timer
	duration time.Duration
	onFire   func()
}

func newSettleDetector(duration time.Duration, onFire func()) *settleDetector {
	return &settleDetector{duration: duration, onFire: onFire}
}

// Reset (re)starts the settle timer. Called on every graph event.
func (s *settleDetector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.duration, s.onFire)
}

// Stop cancels any pending fire, used during shutdown.
func (s *settleDetector) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
}

// SetDuration updates the settle duration for future Reset calls (e.g. a
// preference change to rule_settle_ms).
func (s *settleDetector) SetDuration(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duration = d
}

// Engine owns the live rule set and reasserts it against the graph mirror
// once the graph settles. It also learns new rules from user-authored
// links and unlearns them on user-authored disconnects.
type Engine struct {
	logger *slog.Logger
	mirror *graph.Mirror

	mu        sync.RWMutex
	rules     map[string]*Rule
	enabled   bool
	autoLearn bool

	// emittedPairs is the set of (output,input) port pairs this engine
	// itself created during its last Apply, used to distinguish
	// engine-authored links from user-authored ones.
	emittedPairs map[PortPair]struct{}

	settle *settleDetector

	// BackupFunc is called with the full rule set immediately before any
	// non-reapply mutation overwrites it, so the caller (internal/persistence)
	// can write a timestamped backup. Nil disables backups (tests).
	BackupFunc func(rules []*Rule)

	// ApplyLinkFunc performs the actual connect for one PortPair; supplied by
	// the server worker, since the engine itself has no server API access.
	ApplyLinkFunc func(pair PortPair) error
}

// NewEngine builds an Engine bound to mirror, with rule_settle_ms as
// configured (0 uses a 50ms default).
func NewEngine(mirror *graph.Mirror, settleDuration time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if settleDuration <= 0 {
		settleDuration = 50 * time.Millisecond
	}
	e := &Engine{
		logger:       logger,
		mirror:       mirror,
		rules:        make(map[string]*Rule),
		enabled:      true,
		autoLearn:    true,
		emittedPairs: make(map[PortPair]struct{}),
	}
	e.settle = newSettleDetector(settleDuration, e.onSettle)
	return e
}

// SetEnabled toggles whether Apply runs when the graph settles.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
}

// SetAutoLearn toggles learn/unlearn behavior wholesale.
func (e *Engine) SetAutoLearn(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.autoLearn = enabled
}

// SetSettleDuration updates rule_settle_ms at runtime.
func (e *Engine) SetSettleDuration(d time.Duration) {
	e.settle.SetDuration(d)
}

// NotifyGraphEvent must be called on every graph mutation to reset the
// settle timer.
func (e *Engine) NotifyGraphEvent() {
	e.settle.Reset()
}

// Shutdown cancels the pending settle timer.
func (e *Engine) Shutdown() {
	e.settle.Stop()
}

func (e *Engine) onSettle() {
	e.mu.RLock()
	enabled := e.enabled
	e.mu.RUnlock()
	if enabled {
		e.Apply()
	}
}

// AddRule registers a new rule, compiling its glob patterns. An empty ID is
// assigned a fresh uuid.
func (e *Engine) AddRule(r *Rule) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if err := r.Compile(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.backupLocked()
	e.rules[r.ID] = r
	return nil
}

// RemoveRule deletes a rule by id.
func (e *Engine) RemoveRule(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[id]; !ok {
		return
	}
	e.backupLocked()
	delete(e.rules, id)
}

// ToggleRule flips a rule's enabled flag.
func (e *Engine) ToggleRule(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rules[id]
	if !ok {
		return
	}
	e.backupLocked()
	r.Enabled = !r.Enabled
}

// Snapshot returns every rule, in no particular order.
func (e *Engine) Snapshot() []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	return out
}

// backupLocked invokes BackupFunc with the pre-mutation rule set. Caller
// must hold e.mu.
func (e *Engine) backupLocked() {
	if e.BackupFunc == nil {
		return
	}
	out := make([]*Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	e.BackupFunc(out)
}

// Apply reasserts every enabled rule's wiring against the current graph,
// idempotently: links that already exist are never duplicated. It replaces
// the engine's emitted-pairs set with exactly the pairs this run produced,
// which is what distinguishes a future user-authored link or disconnect
// from one the engine itself is responsible for.
func (e *Engine) Apply() {
	e.mu.Lock()
	rulesCopy := make([]*Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Enabled {
			rulesCopy = append(rulesCopy, r)
		}
	}
	e.mu.Unlock()

	newEmitted := make(map[PortPair]struct{})
	for _, r := range rulesCopy {
		pairs := e.materializeRule(r)
		for _, p := range pairs {
			newEmitted[p] = struct{}{}
			if e.mirror.LinkExists(graph.PortID(p.OutputPort), graph.PortID(p.InputPort)) {
				continue
			}
			if e.ApplyLinkFunc == nil {
				continue
			}
			if err := e.ApplyLinkFunc(p); err != nil {
				e.logger.Warn("rule apply failed to connect ports", "rule_id", r.ID, "output_port", p.OutputPort, "input_port", p.InputPort, "err", err)
			}
		}
	}

	e.mu.Lock()
	e.emittedPairs = newEmitted
	e.mu.Unlock()
}

// materializeRule computes the full set of port pairs one rule demands
// against the current graph: every matching source node paired with every
// matching target node, each pair expanded via explicit mapping or
// heuristic channel-designator pairing.
func (e *Engine) materializeRule(r *Rule) []PortPair {
	nodes := e.mirror.Nodes()
	var sources, targets []*graph.Node
	for _, n := range nodes {
		if r.MatchesSource(n.Name, string(n.Classification)) {
			sources = append(sources, n)
		}
		if r.MatchesTarget(n.Name, string(n.Classification)) {
			targets = append(targets, n)
		}
	}

	var pairs []PortPair
	for _, src := range sources {
		for _, tgt := range targets {
			if src.ID == tgt.ID {
				continue
			}
			pairs = append(pairs, e.pairNodes(r, src, tgt)...)
		}
	}
	return pairs
}

// pairNodes expands one matching (source, target) node pair into concrete
// port pairs.
func (e *Engine) pairNodes(r *Rule, src, tgt *graph.Node) []PortPair {
	if r.HasExplicitMapping() {
		return resolveMappings(r.Mappings, src, tgt)
	}

	outPorts := e.mirror.OutputPorts(src.ID)
	inPorts := e.mirror.InputPorts(tgt.ID)

	outByMedia := groupPortsByMedia(outPorts)
	inByMedia := groupPortsByMedia(inPorts)

	var pairs []PortPair
	for mediaType, outs := range outByMedia {
		ins, ok := inByMedia[mediaType]
		if !ok {
			continue
		}
		pairs = append(pairs, pairPortsByDesignator(toNamedPorts(outs), toNamedPorts(ins))...)
	}
	return pairs
}

// resolveMappings resolves a rule's explicit, name-based mappings against
// the current live port sets of src and tgt, producing id-based pairs. A
// mapping naming a port that no longer exists on this node (or never did)
// is silently dropped rather than connecting the wrong port.
func resolveMappings(mappings []PortMapping, src, tgt *graph.Node) []PortPair {
	pairs := make([]PortPair, 0, len(mappings))
	for _, m := range mappings {
		outPort, ok := findPortByName(src, m.OutputPort, graph.DirectionOutput)
		if !ok {
			continue
		}
		inPort, ok := findPortByName(tgt, m.InputPort, graph.DirectionInput)
		if !ok {
			continue
		}
		pairs = append(pairs, PortPair{OutputPort: uint32(outPort.ID), InputPort: uint32(inPort.ID)})
	}
	return pairs
}

func findPortByName(node *graph.Node, name string, dir graph.PortDirection) (*graph.Port, bool) {
	for _, p := range node.Ports {
		if p.Name == name && p.Direction == dir {
			return p, true
		}
	}
	return nil, false
}

func groupPortsByMedia(ports []*graph.Port) map[graph.MediaType][]*graph.Port {
	out := make(map[graph.MediaType][]*graph.Port)
	for _, p := range ports {
		out[p.MediaType] = append(out[p.MediaType], p)
	}
	return out
}

func toNamedPorts(ports []*graph.Port) []namedPort {
	out := make([]namedPort, len(ports))
	for i, p := range ports {
		out[i] = namedPort{ID: uint32(p.ID), Name: p.Name}
	}
	return out
}

// OnLinkAdded implements the learn half of the rule engine: a link whose
// endpoints are not in the engine's last-emitted set is user-authored, and
// either extends a matching rule's explicit mapping or creates a new
// single-mapping rule named after the two nodes.
func (e *Engine) OnLinkAdded(outputPort, inputPort graph.PortID, srcNode, tgtNode *graph.Node) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.autoLearn {
		return
	}
	pair := PortPair{OutputPort: uint32(outputPort), InputPort: uint32(inputPort)}
	if _, emitted := e.emittedPairs[pair]; emitted {
		return
	}

	outPort, outOK := srcNode.Ports[outputPort]
	inPort, inOK := tgtNode.Ports[inputPort]
	if !outOK || !inOK {
		return
	}
	mapping := PortMapping{OutputPort: outPort.Name, InputPort: inPort.Name}

	for _, r := range e.rules {
		if r.MatchesSource(srcNode.Name, string(srcNode.Classification)) &&
			r.MatchesTarget(tgtNode.Name, string(tgtNode.Classification)) &&
			r.HasExplicitMapping() {
			e.backupLocked()
			r.Mappings = append(r.Mappings, mapping)
			return
		}
	}

	e.backupLocked()
	newRule := &Rule{
		ID:            uuid.New().String(),
		Name:          fmt.Sprintf("%s -> %s", srcNode.Name, tgtNode.Name),
		SourcePattern: srcNode.Name,
		SourceType:    string(srcNode.Classification),
		TargetPattern: tgtNode.Name,
		TargetType:    string(tgtNode.Classification),
		Mappings:      []PortMapping{mapping},
		Enabled:       true,
	}
	if err := newRule.Compile(); err != nil {
		e.logger.Warn("learned rule failed to compile, discarding", "err", err)
		return
	}
	e.rules[newRule.ID] = newRule
}

// OnLinkRemoved implements the unlearn half: a disconnect of a pair the
// engine itself emitted is user-authored and removes that pair from its
// owning rule, deleting the rule entirely if it is left with no mappings.
func (e *Engine) OnLinkRemoved(outputPort, inputPort graph.PortID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.autoLearn {
		return
	}
	pair := PortPair{OutputPort: uint32(outputPort), InputPort: uint32(inputPort)}
	if _, emitted := e.emittedPairs[pair]; !emitted {
		return
	}
	delete(e.emittedPairs, pair)

	outPort, inPort := e.mirror.Port(outputPort), e.mirror.Port(inputPort)
	if outPort == nil || inPort == nil {
		return
	}
	mapping := PortMapping{OutputPort: outPort.Name, InputPort: inPort.Name}

	for id, r := range e.rules {
		for i, m := range r.Mappings {
			if m == mapping {
				e.backupLocked()
				r.Mappings = append(r.Mappings[:i], r.Mappings[i+1:]...)
				if len(r.Mappings) == 0 {
					delete(e.rules, id)
				}
				return
			}
		}
	}
}
