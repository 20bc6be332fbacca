package pluginabi

// FakeHandle is an in-memory Handle used by tests that exercise
// internal/pluginfilter without touching cgo or a real plugin standard
// binary. It implements an identity/gain effect: each output channel is the
// matching input channel scaled by Gain (control port 0).
type FakeHandle struct {
	NumIn, NumOut int
	Gain          float32
	Activated     bool
	RunCount      int
}

// NewFakeHandle builds a FakeHandle with unity gain and the given channel
// counts.
func NewFakeHandle(numIn, numOut int) *FakeHandle {
	return &FakeHandle{NumIn: numIn, NumOut: numOut, Gain: 1.0}
}

func (f *FakeHandle) Activate(sampleRate float64, maxFrames uint32) error {
	f.Activated = true
	return nil
}

func (f *FakeHandle) Deactivate() { f.Activated = false }

func (f *FakeHandle) Run(frames uint32, audioIn, audioOut [][]float32) error {
	f.RunCount++
	for ch := range audioOut {
		var in []float32
		if ch < len(audioIn) {
			in = audioIn[ch]
		}
		for i := uint32(0); i < frames; i++ {
			var sample float32
			if int(i) < len(in) {
				sample = in[i]
			}
			audioOut[ch][i] = sample * f.Gain
		}
	}
	return nil
}

func (f *FakeHandle) SetControlInput(portIndex uint32, value float32) {
	if portIndex == 0 {
		f.Gain = value
	}
}

func (f *FakeHandle) Params() []ParamInfo {
	return []ParamInfo{{Symbol: "gain", PortIndex: 0, Min: 0, Max: 4, Default: 1}}
}

func (f *FakeHandle) InputChannels() int  { return f.NumIn }
func (f *FakeHandle) OutputChannels() int { return f.NumOut }

var _ Handle = (*FakeHandle)(nil)
