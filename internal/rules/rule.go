// Package rules implements auto-connect rules: glob-matched node pairs
// whose port-pair wiring is reasserted whenever the graph settles, plus the
// learn/unlearn bookkeeping that keeps rules in sync with user-authored
// connections.
package rules

import (
	"fmt"

	"github.com/gobwas/glob"
)

// PortPair identifies one output→input connection as live, session-scoped
// port ids, resolved against the current graph and ready to hand to
// Engine.ApplyLinkFunc or Mirror.LinkExists.
type PortPair struct {
	OutputPort uint32
	InputPort  uint32
}

// PortMapping identifies one explicit output→input connection a Rule
// demands by port name rather than id, since port ids are session-scoped
// and reassigned on every server restart while names are stable. Resolved
// to a live PortPair against the matched source/target node at apply time.
type PortMapping struct {
	OutputPort string
	InputPort  string
}

// Rule is one auto-connect rule: a pattern-matched source/target node pair
// plus an explicit or heuristic port-pair mapping.
type Rule struct {
	ID            string
	Name          string
	SourcePattern string
	SourceType    string // classification string, or "any"
	TargetPattern string
	TargetType    string
	Mappings      []PortMapping // explicit mapping, by port name; nil means "use heuristic pairing"
	Enabled       bool

	sourceGlob glob.Glob
	targetGlob glob.Glob
}

// Compile parses SourcePattern/TargetPattern into glob matchers. Must be
// called once after construction or after either pattern changes; matching
// methods panic if called before a successful Compile, since an uncompiled
// rule indicates a programming error, not a runtime condition.
func (r *Rule) Compile() error {
	sg, err := glob.Compile(r.SourcePattern, '/')
	if err != nil {
		return fmt.Errorf("rules: compile source pattern %q: %w", r.SourcePattern, err)
	}
	tg, err := glob.Compile(r.TargetPattern, '/')
	if err != nil {
		return fmt.Errorf("rules: compile target pattern %q: %w", r.TargetPattern, err)
	}
	r.sourceGlob = sg
	r.targetGlob = tg
	return nil
}

// MatchesSource reports whether this rule's source side matches a node
// with the given name and classification.
func (r *Rule) MatchesSource(name, classification string) bool {
	return r.sourceGlob.Match(name) && (r.SourceType == "any" || r.SourceType == classification)
}

// MatchesTarget reports whether this rule's target side matches a node
// with the given name and classification.
func (r *Rule) MatchesTarget(name, classification string) bool {
	return r.targetGlob.Match(name) && (r.TargetType == "any" || r.TargetType == classification)
}

// HasExplicitMapping reports whether the rule pins specific port pairs
// rather than deferring to heuristic channel-designator pairing.
func (r *Rule) HasExplicitMapping() bool {
	return len(r.Mappings) > 0
}
