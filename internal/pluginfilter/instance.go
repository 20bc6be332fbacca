package pluginfilter

import (
	"sync/atomic"
	"time"

	"github.com/lemonxah/patchbay/internal/pluginabi"
)

// Instance wraps one loaded plugin handle as an RT-safe filter stage: a
// parameter slot per control port, a bypass flag, and a timing accumulator,
// all touched by Process without locks or allocation. StableID is the
// identity other subsystems (rules, persistence, UI) hold instead of a raw
// handle or array index, so the instance can be relocated in its owning
// arena without invalidating references (see internal/instance).
type Instance struct {
	StableID string

	handle pluginabi.Handle
	params *ParamSlots
	bypass atomic.Bool
	timing TimingAccumulator

	inScratch  [][]float32
	outScratch [][]float32
}

// NewInstance builds an Instance around a loaded handle; the caller
// activates it with Activate before the first Process call. scratchFrames
// bounds the maximum frames per Process call; the scratch
// buffers are allocated once here, never on the RT thread.
func NewInstance(stableID string, handle pluginabi.Handle, scratchFrames uint32) *Instance {
	numParams := len(handle.Params())
	inst := &Instance{
		StableID:   stableID,
		handle:     handle,
		params:     NewParamSlots(numParams),
		inScratch:  make([][]float32, handle.InputChannels()),
		outScratch: make([][]float32, handle.OutputChannels()),
	}
	for i := range inst.inScratch {
		inst.inScratch[i] = make([]float32, scratchFrames)
	}
	for i := range inst.outScratch {
		inst.outScratch[i] = make([]float32, scratchFrames)
	}
	return inst
}

// SetParam stages a new value for a control port. Called from the
// server-worker or UI host thread.
func (inst *Instance) SetParam(portIndex uint32, value float32) {
	inst.params.Push(portIndex, value)
}

// SetBypass toggles bypass. Safe to call from any thread; observed by the
// RT thread on its next Process call.
func (inst *Instance) SetBypass(on bool) {
	inst.bypass.Store(on)
}

// Bypassed reports the current bypass state.
func (inst *Instance) Bypassed() bool {
	return inst.bypass.Load()
}

// Timing returns the accumulator backing periodic CPU-load sampling.
func (inst *Instance) Timing() *TimingAccumulator {
	return &inst.timing
}

// Process runs the RT-thread algorithm for one audio callback: drain
// pending parameter changes, then either pass audio straight through
// (bypass) or run the plugin, and record the elapsed wall time. audioIn and
// audioOut are the node's own port buffers, sized to the node's channel
// count, which may differ from the plugin's; channel-count mismatches are
// clamped rather than treated as an error.
func (inst *Instance) Process(frames uint32, audioIn, audioOut [][]float32) error {
	start := time.Now()
	defer func() { inst.timing.Record(time.Since(start)) }()

	inst.params.Drain(func(portIndex uint32, value float32) {
		inst.handle.SetControlInput(portIndex, value)
	})

	if inst.bypass.Load() {
		passthrough(frames, audioIn, audioOut)
		return nil
	}

	in := clampChannels(inst.inScratch, audioIn, frames)
	out := clampChannels(inst.outScratch, audioOut, frames)
	if err := inst.handle.Run(frames, in, out); err != nil {
		return err
	}
	copyOut(audioOut, out, frames)
	return nil
}

// Activate starts the plugin at the given sample rate and max block size.
func (inst *Instance) Activate(sampleRate float64, maxFrames uint32) error {
	return inst.handle.Activate(sampleRate, maxFrames)
}

// Deactivate stops the plugin. Called from the server-worker thread, never
// the RT thread.
func (inst *Instance) Deactivate() {
	inst.handle.Deactivate()
}

// passthrough copies each input channel to the matching output channel,
// clamped to whichever side has fewer channels, and zeroes any remaining
// output channels. This is the bypass path's exact behavior, and also the
// under-connect policy applied on any channel-count mismatch.
func passthrough(frames uint32, audioIn, audioOut [][]float32) {
	n := len(audioIn)
	if len(audioOut) < n {
		n = len(audioOut)
	}
	for ch := 0; ch < n; ch++ {
		copyFrames(audioOut[ch], audioIn[ch], frames)
	}
	for ch := n; ch < len(audioOut); ch++ {
		zeroFrames(audioOut[ch], frames)
	}
}

// clampChannels copies as much of src into the pre-allocated scratch buffer
// as fits, leaving any extra scratch channels zeroed (for inputs) or
// untouched-then-copied-back-zeroed (for outputs), and returns scratch
// sliced to len(src) or len(scratch), whichever is smaller.
func clampChannels(scratch, src [][]float32, frames uint32) [][]float32 {
	n := len(scratch)
	if len(src) < n {
		n = len(src)
	}
	for ch := 0; ch < n; ch++ {
		copyFrames(scratch[ch], src[ch], frames)
	}
	return scratch[:n]
}

// copyOut writes the plugin's output scratch back into the node's real
// output buffers, zeroing any node output channels the plugin did not
// produce.
func copyOut(dst, src [][]float32, frames uint32) {
	n := len(src)
	if len(dst) < n {
		n = len(dst)
	}
	for ch := 0; ch < n; ch++ {
		copyFrames(dst[ch], src[ch], frames)
	}
	for ch := n; ch < len(dst); ch++ {
		zeroFrames(dst[ch], frames)
	}
}

func copyFrames(dst, src []float32, frames uint32) {
	n := frames
	if uint32(len(dst)) < n {
		n = uint32(len(dst))
	}
	if uint32(len(src)) < n {
		n = uint32(len(src))
	}
	copy(dst[:n], src[:n])
}

func zeroFrames(dst []float32, frames uint32) {
	n := frames
	if uint32(len(dst)) < n {
		n = uint32(len(dst))
	}
	for i := uint32(0); i < n; i++ {
		dst[i] = 0
	}
}
