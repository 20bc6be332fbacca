//go:build linux

package pluginabi

/*
#cgo linux CFLAGS: -I.
#include <stdlib.h>
#include "plugin_abi.h"

static int patchbay_call_activate(patchbay_plugin_t *p, double sr, uint32_t maxFrames) {
    return p->vtable->activate(p, sr, maxFrames);
}
static void patchbay_call_deactivate(patchbay_plugin_t *p) {
    p->vtable->deactivate(p);
}
static int patchbay_call_run_shim(patchbay_plugin_t *p, uint32_t frames, const float **in, int numIn, float **out, int numOut) {
    return p->vtable->run(p, frames, in, numIn, out, numOut);
}
static void patchbay_call_set_control_input(patchbay_plugin_t *p, uint32_t portIndex, float value) {
    p->vtable->set_control_input(p, portIndex, value);
}
static int patchbay_call_param_count(patchbay_plugin_t *p) {
    return p->vtable->param_count(p);
}
static void patchbay_call_param_info(patchbay_plugin_t *p, int index, patchbay_param_info_t *out) {
    p->vtable->param_info(p, index, out);
}
static int patchbay_call_input_channels(patchbay_plugin_t *p) {
    return p->vtable->input_channels(p);
}
static int patchbay_call_output_channels(patchbay_plugin_t *p) {
    return p->vtable->output_channels(p);
}
static const char *patchbay_call_last_error(patchbay_plugin_t *p) {
    return p->vtable->last_error(p);
}
*/
import "C"

import (
	"errors"
	"unsafe"
)

// CHandle wraps a plugin instantiated through the C ABI declared in
// plugin_abi.h. Activate/Deactivate/Params are called from the
// server-worker thread; Run and SetControlInput are called exclusively from
// the RT audio thread. The opaque-pointer-plus-C-error-string bridging
// pattern keeps cgo call overhead off the hot path.
type CHandle struct {
	ptr *C.patchbay_plugin_t

	// inPtrs/outPtrs are the channel-pointer arrays Run marshals audioIn/
	// audioOut into for the cgo call. Sized once, in Activate, to the
	// plugin's fixed channel counts and reused for the handle's lifetime so
	// Run itself never allocates.
	inPtrs  []*C.float
	outPtrs []*C.float
}

// WrapCPlugin adopts an already-instantiated C plugin pointer (obtained by
// the out-of-scope plugin discovery library resolving the plugin's factory
// symbol and calling its constructor) as a Handle.
func WrapCPlugin(ptr unsafe.Pointer) *CHandle {
	return &CHandle{ptr: (*C.patchbay_plugin_t)(ptr)}
}

func (h *CHandle) Activate(sampleRate float64, maxFrames uint32) error {
	if C.patchbay_call_activate(h.ptr, C.double(sampleRate), C.uint32_t(maxFrames)) == 0 {
		return errors.New(C.GoString(C.patchbay_call_last_error(h.ptr)))
	}
	h.inPtrs = make([]*C.float, h.InputChannels())
	h.outPtrs = make([]*C.float, h.OutputChannels())
	return nil
}

func (h *CHandle) Deactivate() {
	C.patchbay_call_deactivate(h.ptr)
}

// Run is the RT-thread process call. It must not allocate: the channel
// pointer arrays are preallocated once, in Activate, and only overwritten
// here with this call's buffer addresses.
func (h *CHandle) Run(frames uint32, audioIn, audioOut [][]float32) error {
	for i, ch := range audioIn {
		if len(ch) > 0 {
			h.inPtrs[i] = (*C.float)(unsafe.Pointer(&ch[0]))
		}
	}
	for i, ch := range audioOut {
		if len(ch) > 0 {
			h.outPtrs[i] = (*C.float)(unsafe.Pointer(&ch[0]))
		}
	}

	var inArg **C.float
	if len(h.inPtrs) > 0 {
		inArg = (**C.float)(unsafe.Pointer(&h.inPtrs[0]))
	}
	var outArg **C.float
	if len(h.outPtrs) > 0 {
		outArg = (**C.float)(unsafe.Pointer(&h.outPtrs[0]))
	}

	ok := C.patchbay_call_run_shim(h.ptr, C.uint32_t(frames), inArg, C.int(len(audioIn)), outArg, C.int(len(audioOut)))
	if ok == 0 {
		return errors.New(C.GoString(C.patchbay_call_last_error(h.ptr)))
	}
	return nil
}

func (h *CHandle) SetControlInput(portIndex uint32, value float32) {
	C.patchbay_call_set_control_input(h.ptr, C.uint32_t(portIndex), C.float(value))
}

func (h *CHandle) Params() []ParamInfo {
	count := int(C.patchbay_call_param_count(h.ptr))
	out := make([]ParamInfo, count)
	var info C.patchbay_param_info_t
	for i := 0; i < count; i++ {
		C.patchbay_call_param_info(h.ptr, C.int(i), &info)
		out[i] = ParamInfo{
			Symbol:    C.GoString(info.symbol),
			PortIndex: uint32(info.port_index),
			Min:       float32(info.min_value),
			Max:       float32(info.max_value),
			Default:   float32(info.default_value),
		}
	}
	return out
}

func (h *CHandle) InputChannels() int  { return int(C.patchbay_call_input_channels(h.ptr)) }
func (h *CHandle) OutputChannels() int { return int(C.patchbay_call_output_channels(h.ptr)) }

var _ Handle = (*CHandle)(nil)
