package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCommandChannelTrySendReportsBusyWhenFull(t *testing.T) {
	c := NewCommandChannel(2, nil)
	require.True(t, c.TrySend(Shutdown{}))
	require.True(t, c.TrySend(Shutdown{}))
	require.False(t, c.TrySend(Shutdown{}), "third send into a capacity-2 channel must report busy, not block")
}

func TestCommandChannelDrainReturnsAllQueuedInOrder(t *testing.T) {
	c := NewCommandChannel(4, nil)
	c.TrySend(SetBypass{InstanceID: "a", Bypass: true})
	c.TrySend(SetBypass{InstanceID: "b", Bypass: false})

	drained := c.Drain()
	require.Len(t, drained, 2)
	require.Equal(t, SetBypass{InstanceID: "a", Bypass: true}, drained[0])
	require.Equal(t, SetBypass{InstanceID: "b", Bypass: false}, drained[1])

	require.Empty(t, c.Drain())
}

func TestCommandChannelReceiveUnblocksOnContextCancel(t *testing.T) {
	c := NewCommandChannel(1, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := c.Receive(ctx)
	require.False(t, ok)
}

func TestEventChannelTrySendReportsBusyWhenFull(t *testing.T) {
	e := NewEventChannel(1, nil)
	require.True(t, e.TrySend(Quit{}))
	require.False(t, e.TrySend(Quit{}))
}

func TestRequestTrackerSupersedesEarlierRequest(t *testing.T) {
	tr := NewRequestTracker()
	first := tr.Issue("inst-1")
	require.True(t, tr.IsCurrent("inst-1", first))

	second := tr.Issue("inst-1")
	require.NotEqual(t, first, second)
	require.False(t, tr.IsCurrent("inst-1", first), "superseded request must no longer be current")
	require.True(t, tr.IsCurrent("inst-1", second))
}

func TestRequestTrackerTracksInstancesIndependently(t *testing.T) {
	tr := NewRequestTracker()
	a := tr.Issue("inst-a")
	b := tr.Issue("inst-b")
	require.True(t, tr.IsCurrent("inst-a", a))
	require.True(t, tr.IsCurrent("inst-b", b))
}

func TestRequestTrackerClearForgetsInstance(t *testing.T) {
	tr := NewRequestTracker()
	id := tr.Issue("inst-1")
	tr.Clear("inst-1")
	require.False(t, tr.IsCurrent("inst-1", id))
}
