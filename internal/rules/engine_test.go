package rules

import (
	"testing"
	"time"

	"github.com/lemonxah/patchbay/internal/graph"
	"github.com/stretchr/testify/require"
)

func buildTestGraph() *graph.Mirror {
	m := graph.NewMirror(nil)
	m.Apply(graph.NodeAdded{ID: 1, Name: "music-player", Props: map[string]string{"media.class": "Stream/Output/Audio", "application.name": "music-player"}})
	m.Apply(graph.NodeAdded{ID: 2, Name: "speakers", Props: map[string]string{"media.class": "Audio/Sink"}})
	m.Apply(graph.PortAdded{ID: 101, NodeID: 1, Name: "out_FL", Direction: graph.DirectionOutput, MediaType: graph.MediaAudio})
	m.Apply(graph.PortAdded{ID: 102, NodeID: 1, Name: "out_FR", Direction: graph.DirectionOutput, MediaType: graph.MediaAudio})
	m.Apply(graph.PortAdded{ID: 201, NodeID: 2, Name: "in_FL", Direction: graph.DirectionInput, MediaType: graph.MediaAudio})
	m.Apply(graph.PortAdded{ID: 202, NodeID: 2, Name: "in_FR", Direction: graph.DirectionInput, MediaType: graph.MediaAudio})
	return m
}

func TestApplyMaterializesHeuristicPairingForMatchingRule(t *testing.T) {
	m := buildTestGraph()
	eng := NewEngine(m, time.Millisecond, nil)

	var connected []PortPair
	eng.ApplyLinkFunc = func(p PortPair) error {
		connected = append(connected, p)
		m.Apply(graph.LinkAdded{ID: graph.LinkID(len(connected)), OutputPort: graph.PortID(p.OutputPort), InputPort: graph.PortID(p.InputPort), Active: true})
		return nil
	}

	r := &Rule{SourcePattern: "music-player", SourceType: "any", TargetPattern: "speakers", TargetType: "any", Enabled: true}
	require.NoError(t, eng.AddRule(r))

	eng.Apply()
	require.Len(t, connected, 2)
	require.Contains(t, connected, PortPair{OutputPort: 101, InputPort: 201})
	require.Contains(t, connected, PortPair{OutputPort: 102, InputPort: 202})
}

func TestApplyIsIdempotentAgainstExistingLinks(t *testing.T) {
	m := buildTestGraph()
	eng := NewEngine(m, time.Millisecond, nil)

	calls := 0
	eng.ApplyLinkFunc = func(p PortPair) error {
		calls++
		m.Apply(graph.LinkAdded{ID: graph.LinkID(calls), OutputPort: graph.PortID(p.OutputPort), InputPort: graph.PortID(p.InputPort), Active: true})
		return nil
	}

	r := &Rule{SourcePattern: "music-player", SourceType: "any", TargetPattern: "speakers", TargetType: "any", Enabled: true}
	require.NoError(t, eng.AddRule(r))

	eng.Apply()
	require.Equal(t, 2, calls)

	eng.Apply()
	require.Equal(t, 2, calls, "re-applying against already-connected ports must not reconnect")
}

func TestDisabledRuleIsNotMaterialized(t *testing.T) {
	m := buildTestGraph()
	eng := NewEngine(m, time.Millisecond, nil)

	calls := 0
	eng.ApplyLinkFunc = func(p PortPair) error {
		calls++
		return nil
	}

	r := &Rule{SourcePattern: "music-player", SourceType: "any", TargetPattern: "speakers", TargetType: "any", Enabled: false}
	require.NoError(t, eng.AddRule(r))
	eng.Apply()
	require.Equal(t, 0, calls)
}

func TestOnLinkAddedCreatesRuleForUnrecognizedUserLink(t *testing.T) {
	m := buildTestGraph()
	eng := NewEngine(m, time.Millisecond, nil)

	srcNode := m.Node(1)
	tgtNode := m.Node(2)
	eng.OnLinkAdded(101, 201, srcNode, tgtNode)

	rules := eng.Snapshot()
	require.Len(t, rules, 1)
	require.Equal(t, []PortMapping{{OutputPort: "out_FL", InputPort: "in_FL"}}, rules[0].Mappings)
}

func TestOnLinkAddedIgnoresEngineEmittedPair(t *testing.T) {
	m := buildTestGraph()
	eng := NewEngine(m, time.Millisecond, nil)
	eng.ApplyLinkFunc = func(p PortPair) error {
		m.Apply(graph.LinkAdded{ID: 1, OutputPort: graph.PortID(p.OutputPort), InputPort: graph.PortID(p.InputPort), Active: true})
		return nil
	}
	r := &Rule{SourcePattern: "music-player", SourceType: "any", TargetPattern: "speakers", TargetType: "any",
		Mappings: []PortMapping{{OutputPort: "out_FL", InputPort: "in_FL"}}, Enabled: true}
	require.NoError(t, eng.AddRule(r))
	eng.Apply()

	srcNode := m.Node(1)
	tgtNode := m.Node(2)
	eng.OnLinkAdded(101, 201, srcNode, tgtNode)

	require.Len(t, eng.Snapshot(), 1, "an engine-emitted pair must not spawn a second learned rule")
}

func TestOnLinkRemovedUnlearnsMappingAndDropsEmptyRule(t *testing.T) {
	m := buildTestGraph()
	eng := NewEngine(m, time.Millisecond, nil)
	eng.ApplyLinkFunc = func(p PortPair) error {
		m.Apply(graph.LinkAdded{ID: 1, OutputPort: graph.PortID(p.OutputPort), InputPort: graph.PortID(p.InputPort), Active: true})
		return nil
	}
	r := &Rule{SourcePattern: "music-player", SourceType: "any", TargetPattern: "speakers", TargetType: "any",
		Mappings: []PortMapping{{OutputPort: "out_FL", InputPort: "in_FL"}}, Enabled: true}
	require.NoError(t, eng.AddRule(r))
	eng.Apply()

	eng.OnLinkRemoved(101, 201)
	require.Empty(t, eng.Snapshot(), "removing the only mapping in a rule must delete the rule")
}

func TestAutoLearnDisabledSkipsLearning(t *testing.T) {
	m := buildTestGraph()
	eng := NewEngine(m, time.Millisecond, nil)
	eng.SetAutoLearn(false)

	eng.OnLinkAdded(101, 201, m.Node(1), m.Node(2))
	require.Empty(t, eng.Snapshot())
}

func TestExplicitMappingResolvesAgainstCurrentPortIDsAfterRestart(t *testing.T) {
	// Simulates S2: a rule persisted with an explicit mapping must still
	// connect after a restart reassigns every node/port id.
	m := graph.NewMirror(nil)
	m.Apply(graph.NodeAdded{ID: 9, Name: "music-player", Props: map[string]string{"media.class": "Stream/Output/Audio"}})
	m.Apply(graph.NodeAdded{ID: 10, Name: "speakers", Props: map[string]string{"media.class": "Audio/Sink"}})
	m.Apply(graph.PortAdded{ID: 901, NodeID: 9, Name: "out_FL", Direction: graph.DirectionOutput, MediaType: graph.MediaAudio})
	m.Apply(graph.PortAdded{ID: 1001, NodeID: 10, Name: "in_FL", Direction: graph.DirectionInput, MediaType: graph.MediaAudio})

	eng := NewEngine(m, time.Millisecond, nil)
	var connected []PortPair
	eng.ApplyLinkFunc = func(p PortPair) error {
		connected = append(connected, p)
		return nil
	}

	r := &Rule{SourcePattern: "music-player", SourceType: "any", TargetPattern: "speakers", TargetType: "any",
		Mappings: []PortMapping{{OutputPort: "out_FL", InputPort: "in_FL"}}, Enabled: true}
	require.NoError(t, eng.AddRule(r))

	eng.Apply()
	require.Equal(t, []PortPair{{OutputPort: 901, InputPort: 1001}}, connected,
		"the persisted name-based mapping must resolve to the node/port ids the restarted server actually assigned")
}

func TestBackupFuncCalledBeforeNonReapplyMutation(t *testing.T) {
	m := buildTestGraph()
	eng := NewEngine(m, time.Millisecond, nil)

	var backups int
	eng.BackupFunc = func(rules []*Rule) { backups++ }

	r := &Rule{SourcePattern: "*", SourceType: "any", TargetPattern: "*", TargetType: "any", Enabled: true}
	require.NoError(t, eng.AddRule(r))
	require.Equal(t, 1, backups)

	eng.ToggleRule(r.ID)
	require.Equal(t, 2, backups)

	eng.RemoveRule(r.ID)
	require.Equal(t, 3, backups)
}
