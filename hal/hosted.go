package hal

import (
	"sync/atomic"
	"time"
)

// HostedHeap is a software Heap backed by Go's allocator, for use off real
// hardware (tests, development). It tracks outstanding allocations so tests
// can assert Init rolled back partial allocations on failure.
type HostedHeap struct {
	outstanding int64
	limit       int64 // 0 means unbounded
}

// NewHostedHeap builds a HostedHeap. A non-zero limit makes Alloc fail once
// that many bytes are outstanding, simulating OutOfMemory.
func NewHostedHeap(limit int64) *HostedHeap {
	return &HostedHeap{limit: limit}
}

func (h *HostedHeap) Alloc(size, align int) ([]byte, bool) {
	if size <= 0 {
		return nil, false
	}
	if h.limit > 0 && atomic.LoadInt64(&h.outstanding)+int64(size) > h.limit {
		return nil, false
	}
	atomic.AddInt64(&h.outstanding, int64(size))
	return make([]byte, size), true
}

func (h *HostedHeap) Free(buf []byte) {
	atomic.AddInt64(&h.outstanding, -int64(len(buf)))
}

func (h *HostedHeap) Outstanding() int64 { return atomic.LoadInt64(&h.outstanding) }

// HostedConsole collects printed lines in memory for test assertions.
type HostedConsole struct {
	Lines []string
}

func NewHostedConsole() *HostedConsole { return &HostedConsole{} }

func (c *HostedConsole) Print(line string) { c.Lines = append(c.Lines, line) }

// HostedTimer reports wall-clock microseconds since construction.
type HostedTimer struct {
	start time.Time
}

func NewHostedTimer() *HostedTimer { return &HostedTimer{start: time.Now()} }

func (t *HostedTimer) NowUS() uint64 { return uint64(time.Since(t.start).Microseconds()) }

// HostedArch counts interrupt mask/unmask calls so tests can assert the
// deterministic-mode discipline of one disable per one enable per token.
type HostedArch struct {
	Disabled int
	Enabled  int
}

func NewHostedArch() *HostedArch { return &HostedArch{} }

func (a *HostedArch) DisableInterrupts() { a.Disabled++ }
func (a *HostedArch) EnableInterrupts()  { a.Enabled++ }
