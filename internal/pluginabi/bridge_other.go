//go:build !linux

package pluginabi

import (
	"errors"
	"unsafe"
)

// CHandle is unimplemented outside Linux; the audio server this host targets
// is Linux-only, so every method here is a stub returning
// errUnsupportedPlatform.
type CHandle struct{}

// WrapCPlugin returns a CHandle whose Activate and Run always fail off
// Linux.
func WrapCPlugin(ptr unsafe.Pointer) *CHandle {
	return &CHandle{}
}

var errUnsupportedPlatform = errors.New("pluginabi: plugin hosting is only supported on linux")

func (h *CHandle) Activate(sampleRate float64, maxFrames uint32) error { return errUnsupportedPlatform }
func (h *CHandle) Deactivate()                                         {}
func (h *CHandle) Run(frames uint32, audioIn, audioOut [][]float32) error {
	return errUnsupportedPlatform
}
func (h *CHandle) SetControlInput(portIndex uint32, value float32) {}
func (h *CHandle) Params() []ParamInfo                             { return nil }
func (h *CHandle) InputChannels() int                              { return 0 }
func (h *CHandle) OutputChannels() int                             { return 0 }

var _ Handle = (*CHandle)(nil)
