// Package pluginui implements the single long-lived thread that owns every
// native plugin window. Widget toolkits used by plugins are not
// thread-safe with respect to the server-worker thread, so every open or
// close is serialized through one goroutine's request loop. Only that
// goroutine opens or closes windows; a mutex guards the window map so
// OpenCount can read it from other goroutines.
package pluginui

import (
	"context"
	"log/slog"
	"sync"

	"github.com/lemonxah/patchbay/internal/transport"
)

// Window is a single plugin's top-level native window.
type Window interface {
	Raise()
	Close()
}

// WindowBinding locates and creates a top-level Window for a plugin, and
// registers a parameter-writeback function that feeds UI-originated value
// edits back into the instance's parameter ring. The widget-binding state
// itself is never torn down between opens; only the per-window resource
// Create returns is.
type WindowBinding interface {
	Create(instanceID, pluginURI string, writeback func(portIndex uint32, value float32)) (Window, error)
}

// ParamWriter accepts a parameter edit made inside a plugin's own window and
// routes it back into that instance's parameter ring (see
// internal/pluginfilter.Instance.SetParam). The host resolves one per open
// request rather than holding instance references itself.
type ParamWriter interface {
	WritebackFor(instanceID string) func(portIndex uint32, value float32)
}

// Host owns every open plugin window and processes one OpenPluginUi /
// ClosePluginUi request at a time, while still servicing the shared UI
// event loop between requests so existing windows remain responsive.
type Host struct {
	logger  *slog.Logger
	binding WindowBinding
	tracker *transport.RequestTracker
	params  ParamWriter

	mu      sync.Mutex
	windows map[string]Window

	commands     chan transport.UIHostCommand
	shutdownOnce sync.Once
	done         chan struct{}
}

// NewHost builds a Host. Run must be called (typically in its own
// goroutine) for commands to be serviced.
func NewHost(binding WindowBinding, tracker *transport.RequestTracker, params ParamWriter, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		logger:   logger,
		binding:  binding,
		tracker:  tracker,
		params:   params,
		windows:  make(map[string]Window),
		commands: make(chan transport.UIHostCommand, 64),
		done:     make(chan struct{}),
	}
}

// Submit enqueues a command for the host's request loop. Non-blocking:
// reports false if the queue is full.
func (h *Host) Submit(cmd transport.UIHostCommand) bool {
	select {
	case h.commands <- cmd:
		return true
	default:
		h.logger.Warn("plugin-ui host command queue full, dropping command")
		return false
	}
}

// Run processes commands until ctx is done or a UIHostShutdown command
// arrives, running the shared UI event loop's single tick between requests
// via pumpEventLoop.
func (h *Host) Run(ctx context.Context, pumpEventLoop func()) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case cmd := <-h.commands:
			if h.handle(cmd) {
				h.closeAll()
				return
			}
		default:
			if pumpEventLoop != nil {
				pumpEventLoop()
			}
		}
	}
}

// handle processes one command, returning true if the host should stop.
func (h *Host) handle(cmd transport.UIHostCommand) bool {
	switch c := cmd.(type) {
	case transport.UIHostOpenPluginUi:
		h.open(c)
	case transport.UIHostClosePluginUi:
		h.close(c.InstanceID)
	case transport.UIHostShutdown:
		return true
	}
	return false
}

// open is raise-not-recreate: if a window already exists for this instance
// it is raised, not recreated; a stale request (one a newer OpenPluginUi
// has superseded) is dropped without side effects.
func (h *Host) open(c transport.UIHostOpenPluginUi) {
	if h.tracker != nil && !h.tracker.IsCurrent(c.InstanceID, c.RequestID) {
		h.logger.Debug("dropping superseded open-plugin-ui request", "instance_id", c.InstanceID, "request_id", c.RequestID)
		return
	}

	h.mu.Lock()
	existing, ok := h.windows[c.InstanceID]
	h.mu.Unlock()
	if ok {
		existing.Raise()
		return
	}

	writeback := func(portIndex uint32, value float32) {}
	if h.params != nil {
		if w := h.params.WritebackFor(c.InstanceID); w != nil {
			writeback = w
		}
	}

	win, err := h.binding.Create(c.InstanceID, c.PluginURI, writeback)
	if err != nil {
		h.logger.Error("failed to create plugin window", "instance_id", c.InstanceID, "plugin_uri", c.PluginURI, "err", err)
		return
	}

	h.mu.Lock()
	h.windows[c.InstanceID] = win
	h.mu.Unlock()
}

func (h *Host) close(instanceID string) {
	h.mu.Lock()
	win, ok := h.windows[instanceID]
	if ok {
		delete(h.windows, instanceID)
	}
	h.mu.Unlock()
	if ok {
		win.Close()
	}
	if h.tracker != nil {
		h.tracker.Clear(instanceID)
	}
}

func (h *Host) closeAll() {
	h.shutdownOnce.Do(func() {
		h.mu.Lock()
		windows := h.windows
		h.windows = make(map[string]Window)
		h.mu.Unlock()

		for id, win := range windows {
			win.Close()
			h.logger.Debug("closed plugin window on shutdown", "instance_id", id)
		}
		close(h.done)
	})
}

// Done returns a channel closed once the host has fully shut down.
func (h *Host) Done() <-chan struct{} {
	return h.done
}

// OpenCount reports how many windows are currently open, for diagnostics.
func (h *Host) OpenCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.windows)
}
