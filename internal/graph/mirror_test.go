package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyOrphanPortResolution(t *testing.T) {
	m := NewMirror(nil)

	// Port arrives before its parent node.
	m.Apply(PortAdded{ID: 1, NodeID: 100, Name: "output_FL", Direction: DirectionOutput, MediaType: MediaAudio})
	require.Nil(t, m.Port(1), "orphan port must not be visible until its node exists")

	m.Apply(NodeAdded{ID: 100, Name: "Firefox", Props: map[string]string{
		propAppName: "Firefox", propMediaClass: "Stream/Output/Audio",
	}})

	port := m.Port(1)
	require.NotNil(t, port)
	require.Equal(t, NodeID(100), port.NodeID)

	node := m.Node(100)
	require.NotNil(t, node)
	require.Contains(t, node.Ports, PortID(1))
}

func TestInvariantPortParentExists(t *testing.T) {
	m := NewMirror(nil)
	m.Apply(NodeAdded{ID: 1, Name: "A", Props: map[string]string{propMediaClass: "Audio/Sink"}})
	m.Apply(PortAdded{ID: 10, NodeID: 1, Name: "in_1", Direction: DirectionInput, MediaType: MediaAudio})

	for _, p := range m.Nodes()[0].Ports {
		require.Equal(t, NodeID(1), p.NodeID)
	}
}

func TestLinkRejectsSelfNodeAndBadDirection(t *testing.T) {
	m := NewMirror(nil)
	m.Apply(NodeAdded{ID: 1, Name: "A", Props: map[string]string{propMediaClass: "Audio/Duplex"}})
	m.Apply(PortAdded{ID: 10, NodeID: 1, Name: "out", Direction: DirectionOutput, MediaType: MediaAudio})
	m.Apply(PortAdded{ID: 11, NodeID: 1, Name: "in", Direction: DirectionInput, MediaType: MediaAudio})

	// Self-node link must be rejected.
	m.Apply(LinkAdded{ID: 1, OutputPort: 10, InputPort: 11})
	require.Empty(t, m.Links())

	m.Apply(NodeAdded{ID: 2, Name: "B", Props: map[string]string{propMediaClass: "Audio/Sink"}})
	m.Apply(PortAdded{ID: 20, NodeID: 2, Name: "in", Direction: DirectionInput, MediaType: MediaAudio})

	// Output->output is an invalid direction pairing.
	m.Apply(LinkAdded{ID: 2, OutputPort: 10, InputPort: 10})
	require.Empty(t, m.Links())

	// A valid cross-node output->input link is accepted.
	m.Apply(LinkAdded{ID: 3, OutputPort: 10, InputPort: 20})
	require.Len(t, m.Links(), 1)
}

func TestNodeRemovalCascadesPortsAndLinks(t *testing.T) {
	m := NewMirror(nil)
	m.Apply(NodeAdded{ID: 1, Name: "A", Props: map[string]string{propMediaClass: "Audio/Source"}})
	m.Apply(PortAdded{ID: 10, NodeID: 1, Name: "out", Direction: DirectionOutput, MediaType: MediaAudio})
	m.Apply(NodeAdded{ID: 2, Name: "B", Props: map[string]string{propMediaClass: "Audio/Sink"}})
	m.Apply(PortAdded{ID: 20, NodeID: 2, Name: "in", Direction: DirectionInput, MediaType: MediaAudio})
	m.Apply(LinkAdded{ID: 1, OutputPort: 10, InputPort: 20})
	require.Len(t, m.Links(), 1)

	m.Apply(NodeRemoved{ID: 1})
	require.Nil(t, m.Node(1))
	require.Nil(t, m.Port(10))
	require.Empty(t, m.Links(), "link must be removed when an endpoint's node is removed")
}

func TestLayoutKeyCollisionSuffixesSecondNode(t *testing.T) {
	m := NewMirror(nil)
	props := map[string]string{propAppName: "Firefox", propMediaClass: "Stream/Output/Audio"}
	m.Apply(NodeAdded{ID: 1, Name: "Firefox", Props: props})
	m.Apply(NodeAdded{ID: 2, Name: "Firefox", Props: props})

	first := m.Node(1)
	second := m.Node(2)
	require.NotEqual(t, first.LayoutKey, second.LayoutKey)
	require.Contains(t, second.LayoutKey, "#2")
	require.NotContains(t, first.LayoutKey, "#")
}

func TestGraphVersionIncrementsOnChange(t *testing.T) {
	m := NewMirror(nil)
	v0 := m.Version()
	m.Apply(NodeAdded{ID: 1, Name: "A", Props: map[string]string{propMediaClass: "Audio/Sink"}})
	require.Greater(t, m.Version(), v0)
}

func TestResetClearsEverything(t *testing.T) {
	m := NewMirror(nil)
	m.Apply(NodeAdded{ID: 1, Name: "A", Props: map[string]string{propMediaClass: "Audio/Sink"}})
	m.Reset()
	require.Empty(t, m.Nodes())
	require.Empty(t, m.Links())
}

func TestDuplicateLinkRecognizedByEndpoints(t *testing.T) {
	m := NewMirror(nil)
	m.Apply(NodeAdded{ID: 1, Name: "A", Props: map[string]string{propMediaClass: "Audio/Source"}})
	m.Apply(PortAdded{ID: 10, NodeID: 1, Name: "out", Direction: DirectionOutput, MediaType: MediaAudio})
	m.Apply(NodeAdded{ID: 2, Name: "B", Props: map[string]string{propMediaClass: "Audio/Sink"}})
	m.Apply(PortAdded{ID: 20, NodeID: 2, Name: "in", Direction: DirectionInput, MediaType: MediaAudio})

	require.False(t, m.LinkExists(10, 20))
	m.Apply(LinkAdded{ID: 1, OutputPort: 10, InputPort: 20})
	require.True(t, m.LinkExists(10, 20))
}
