package engine

import (
	"encoding/binary"

	"github.com/smallnest/ringbuffer"
)

// DefaultLatencyWindow is the minimum K of §4.6's "first K decode tokens,
// K ≥ 64" trailing-latency window.
const DefaultLatencyWindow = 64

// Timing accumulates the latency record of §4.6: coarse tokenize/
// prefill/first-token microsecond marks, a bounded window of the first K
// decode latencies, and running min/max/avg/jitter across every decode
// token in the generation. The window lives in a smallnest/ringbuffer
// sized once at construction so recording never allocates.
type Timing struct {
	TokenizeUS   uint64
	PrefillUS    uint64
	FirstTokenUS uint64

	window    *ringbuffer.RingBuffer
	windowCap int

	count    uint64
	sum      uint64
	min, max uint64
}

// NewTiming preallocates the trailing-latency window; k is clamped up to
// DefaultLatencyWindow.
func NewTiming(k int) *Timing {
	if k < DefaultLatencyWindow {
		k = DefaultLatencyWindow
	}
	return &Timing{
		window:    ringbuffer.New(k * 8),
		windowCap: k,
	}
}

// RecordDecode folds one decode token's latency into the running
// aggregates and, while the window has room, into the first-K window.
func (t *Timing) RecordDecode(us uint64) {
	if t.count == 0 || us < t.min {
		t.min = us
	}
	if us > t.max {
		t.max = us
	}
	t.sum += us
	t.count++

	if t.window.Length()+8 <= t.windowCap*8 {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], us)
		_, _ = t.window.Write(b[:])
	}
}

// Count is the number of decode tokens recorded so far.
func (t *Timing) Count() uint64 { return t.count }

// Min is the smallest recorded decode latency.
func (t *Timing) Min() uint64 { return t.min }

// Max is the largest recorded decode latency.
func (t *Timing) Max() uint64 { return t.max }

// Avg is the mean recorded decode latency.
func (t *Timing) Avg() float64 {
	if t.count == 0 {
		return 0
	}
	return float64(t.sum) / float64(t.count)
}

// Jitter is max-min across every recorded decode token, the quantity §8
// property 8 bounds against the platform budget.
func (t *Timing) Jitter() uint64 {
	if t.count == 0 {
		return 0
	}
	return t.max - t.min
}

// Window drains and returns the first-K recorded decode latencies, in
// recording order. Intended for one-shot end-of-generation reporting.
func (t *Timing) Window() []uint64 {
	n := t.window.Length() / 8
	buf := make([]byte, n*8)
	_, _ = t.window.Read(buf)
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		out[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	return out
}
