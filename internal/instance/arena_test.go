package instance

import (
	"context"
	"errors"
	"testing"

	"github.com/lemonxah/patchbay/internal/pluginabi"
	"github.com/stretchr/testify/require"
)

type fakeLoader struct {
	fail bool
}

func (f *fakeLoader) Load(ctx context.Context, pluginURI string) (pluginabi.Handle, error) {
	if f.fail {
		return nil, errors.New("plugin not found")
	}
	return pluginabi.NewFakeHandle(2, 2), nil
}

func TestArenaAddAssignsStableIDAndActivates(t *testing.T) {
	a := NewArena(&fakeLoader{}, nil)
	md, err := a.Add(context.Background(), "urn:example:gain", 42, 48000, 128)
	require.NoError(t, err)
	require.NotEmpty(t, md.StableID)
	require.Equal(t, uint32(42), md.NodeID)

	inst := a.Get(md.StableID)
	require.NotNil(t, inst)
	require.Equal(t, 1, a.Count())
}

func TestArenaRemoveDeactivatesAndForgetsInstance(t *testing.T) {
	a := NewArena(&fakeLoader{}, nil)
	md, err := a.Add(context.Background(), "urn:example:gain", 1, 48000, 128)
	require.NoError(t, err)

	a.Remove(md.StableID)
	require.Nil(t, a.Get(md.StableID))
	_, ok := a.Metadata(md.StableID)
	require.False(t, ok)
	require.Equal(t, 0, a.Count())
}

func TestArenaRemoveUnknownStableIDIsNoOp(t *testing.T) {
	a := NewArena(&fakeLoader{}, nil)
	require.NotPanics(t, func() { a.Remove("does-not-exist") })
}

func TestArenaAddSurfacesLoadError(t *testing.T) {
	a := NewArena(&fakeLoader{fail: true}, nil)
	_, err := a.Add(context.Background(), "urn:example:missing", 1, 48000, 128)
	require.Error(t, err)
	require.Equal(t, 0, a.Count())
}

func TestArenaRematerializePreservesStableID(t *testing.T) {
	a := NewArena(&fakeLoader{}, nil)
	original := Metadata{StableID: "restored-id-1", PluginURI: "urn:example:gain", NodeID: 7}

	err := a.Rematerialize(context.Background(), original, 48000, 128)
	require.NoError(t, err)

	inst := a.Get("restored-id-1")
	require.NotNil(t, inst)
	require.Equal(t, "restored-id-1", inst.StableID)

	md, ok := a.Metadata("restored-id-1")
	require.True(t, ok)
	require.Equal(t, uint32(7), md.NodeID)
}

func TestArenaRematerializeFailureLeavesSlotEmpty(t *testing.T) {
	a := NewArena(&fakeLoader{fail: true}, nil)
	err := a.Rematerialize(context.Background(), Metadata{StableID: "x", PluginURI: "urn:missing"}, 48000, 128)
	require.Error(t, err)
	require.Nil(t, a.Get("x"))
}

func TestArenaListReturnsAllLiveMetadata(t *testing.T) {
	a := NewArena(&fakeLoader{}, nil)
	_, err := a.Add(context.Background(), "urn:example:a", 1, 48000, 128)
	require.NoError(t, err)
	_, err = a.Add(context.Background(), "urn:example:b", 2, 48000, 128)
	require.NoError(t, err)

	list := a.List()
	require.Len(t, list, 2)
}
