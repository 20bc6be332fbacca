// Package instance owns the arena of live plugin instances. Other
// subsystems (rules, persistence, the UI host) hold a stable id rather than
// a direct reference, so an instance can be removed, replaced, or
// rematerialized on reload without invalidating anything held elsewhere.
package instance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/lemonxah/patchbay/internal/pluginabi"
	"github.com/lemonxah/patchbay/internal/pluginfilter"
)

// Metadata describes a plugin instance for persistence and UI purposes,
// independent of its live RT state.
type Metadata struct {
	StableID    string
	PluginURI   string
	DisplayName string
	NodeID      uint32 // the graph node this instance is inserted as
}

// Loader instantiates a plugin standard binary by URI, producing a Handle
// ready to be activated. The arena depends only on this interface so tests
// can substitute pluginabi.FakeHandle without touching cgo.
type Loader interface {
	Load(ctx context.Context, pluginURI string) (pluginabi.Handle, error)
}

// Arena owns every live plugin Instance and its Metadata, keyed by stable
// id. It is the single mutator; all reads and writes are guarded by mu.
type Arena struct {
	logger *slog.Logger
	loader Loader

	mu        sync.RWMutex
	instances map[string]*pluginfilter.Instance
	meta      map[string]Metadata
}

// NewArena builds an empty arena. logger defaults to slog.Default() if nil.
func NewArena(loader Loader, logger *slog.Logger) *Arena {
	if logger == nil {
		logger = slog.Default()
	}
	return &Arena{
		logger:    logger,
		loader:    loader,
		instances: make(map[string]*pluginfilter.Instance),
		meta:      make(map[string]Metadata),
	}
}

// Add loads pluginURI, activates it, and registers it in the arena under a
// freshly generated stable id. scratchFrames bounds the largest block size
// the RT thread will ever request.
func (a *Arena) Add(ctx context.Context, pluginURI string, nodeID uint32, sampleRate float64, scratchFrames uint32) (Metadata, error) {
	handle, err := a.loader.Load(ctx, pluginURI)
	if err != nil {
		return Metadata{}, fmt.Errorf("instance: load %q: %w", pluginURI, err)
	}

	stableID := uuid.New().String()
	inst := pluginfilter.NewInstance(stableID, handle, scratchFrames)
	if err := inst.Activate(sampleRate, scratchFrames); err != nil {
		return Metadata{}, fmt.Errorf("instance: activate %q: %w", pluginURI, err)
	}

	md := Metadata{
		StableID:    stableID,
		PluginURI:   pluginURI,
		DisplayName: pluginURI,
		NodeID:      nodeID,
	}

	a.mu.Lock()
	a.instances[stableID] = inst
	a.meta[stableID] = md
	a.mu.Unlock()

	a.logger.Info("plugin instance added", "stable_id", stableID, "plugin_uri", pluginURI, "node_id", nodeID)
	return md, nil
}

// Remove deactivates and deletes the instance with the given stable id. A
// stable id not present in the arena is a no-op, since removal requests can
// race a concurrent crash-recovery removal.
func (a *Arena) Remove(stableID string) {
	a.mu.Lock()
	inst, ok := a.instances[stableID]
	if ok {
		delete(a.instances, stableID)
		delete(a.meta, stableID)
	}
	a.mu.Unlock()

	if ok {
		inst.Deactivate()
		a.logger.Info("plugin instance removed", "stable_id", stableID)
	}
}

// Get returns the live Instance for stableID, or nil if it is not
// registered (already removed, or never existed).
func (a *Arena) Get(stableID string) *pluginfilter.Instance {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.instances[stableID]
}

// Metadata returns the registered Metadata for stableID and whether it was
// found.
func (a *Arena) Metadata(stableID string) (Metadata, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	md, ok := a.meta[stableID]
	return md, ok
}

// List returns metadata for every live instance, in no particular order.
// Callers that need a stable order (persistence, UI listing) sort it
// themselves.
func (a *Arena) List() []Metadata {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Metadata, 0, len(a.meta))
	for _, md := range a.meta {
		out = append(out, md)
	}
	return out
}

// Rematerialize recreates an instance from persisted Metadata at startup,
// preserving its original stable id so persisted parameter values and rule
// bindings keyed by that id still resolve. If loading the plugin URI fails
// (the plugin is no longer installed), it logs and returns the error rather
// than silently dropping the slot, so the caller can decide whether to keep
// the metadata around for a future retry.
func (a *Arena) Rematerialize(ctx context.Context, md Metadata, sampleRate float64, scratchFrames uint32) error {
	handle, err := a.loader.Load(ctx, md.PluginURI)
	if err != nil {
		a.logger.Warn("failed to rematerialize plugin instance", "stable_id", md.StableID, "plugin_uri", md.PluginURI, "err", err)
		return fmt.Errorf("instance: rematerialize %q: %w", md.PluginURI, err)
	}

	inst := pluginfilter.NewInstance(md.StableID, handle, scratchFrames)
	if err := inst.Activate(sampleRate, scratchFrames); err != nil {
		return fmt.Errorf("instance: activate %q: %w", md.PluginURI, err)
	}

	a.mu.Lock()
	a.instances[md.StableID] = inst
	a.meta[md.StableID] = md
	a.mu.Unlock()

	a.logger.Info("plugin instance rematerialized", "stable_id", md.StableID, "plugin_uri", md.PluginURI)
	return nil
}

// Count returns the number of live instances.
func (a *Arena) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.instances)
}
