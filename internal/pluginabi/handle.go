// Package pluginabi defines the boundary between this host and a loaded
// plugin-standard effect: an opaque Handle whose only operations are
// activate/deactivate/run, plus the parameter metadata the host needs to
// build the UI and the parameter ring. The concrete cgo implementation lives
// in bridge.go; anything above this package (internal/pluginfilter) talks
// only to the Handle interface, so it can be exercised with a fake in unit
// tests without touching cgo.
package pluginabi

import "errors"

// ErrIncompatiblePortLayout is the sentinel for a plugin whose declared
// input/output channel counts cannot be bound to the filter node's ports.
// No code in this module returns it; it is exported for Loader
// implementations (see internal/instance) to wrap.
var ErrIncompatiblePortLayout = errors.New("pluginabi: incompatible port layout")

// ParamInfo describes one control port a plugin exposes.
type ParamInfo struct {
	Symbol    string
	PortIndex uint32
	Min       float32
	Max       float32
	Default   float32
}

// Handle is the opaque, per-instance plugin handle. All methods are called
// either at setup time (Activate/Deactivate, from the server-worker thread)
// or on the RT audio thread (Run); Run must be allocation-free and
// wait-free.
type Handle interface {
	// Activate prepares the plugin for processing at a fixed sample rate and
	// maximum block size.
	Activate(sampleRate float64, maxFrames uint32) error

	// Deactivate releases any resources Activate acquired. Safe to call from
	// the server-worker thread only; never called concurrently with Run.
	Deactivate()

	// Run executes one audio block. audioIn/audioOut are channel-major
	// slices (len == channel count, each of length frames) bound once at
	// setup and reused for the handle's lifetime; Run must not retain them
	// past the call, allocate, or block.
	Run(frames uint32, audioIn, audioOut [][]float32) error

	// SetControlInput pushes one control-port value into the plugin ahead of
	// Run. Called once per drained parameter-ring entry, on the RT thread.
	SetControlInput(portIndex uint32, value float32)

	// Params returns the plugin's control port metadata, fixed for the
	// lifetime of the handle.
	Params() []ParamInfo

	// InputChannels and OutputChannels report the plugin's fixed audio port
	// counts, used to size and channel-clamp the bypass passthrough path.
	InputChannels() int
	OutputChannels() int
}
