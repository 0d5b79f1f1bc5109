// Package hal declares the collaborator interfaces the engine consumes from
// whatever is running underneath it: a heap, a console, a monotonic timer,
// and the architecture's interrupt-masking primitives. On bare metal these
// are backed by the platform's memory manager, UART driver, HAL timer, and
// architecture layer respectively; this package only describes the shape of
// the collaboration, never a concrete driver.
package hal

// Heap is the physical memory manager. Alloc/Free are called only at
// Init/Shutdown when deterministic mode is on; the generation loop never
// calls into it.
type Heap interface {
	Alloc(size, align int) ([]byte, bool)
	Free(buf []byte)
}

// Console is a line-oriented, text-only diagnostic sink.
type Console interface {
	Print(line string)
}

// Timer is a monotonic microsecond clock.
type Timer interface {
	NowUS() uint64
}

// Arch exposes the architecture layer's interrupt-masking primitives, used
// inside the generation loop only when deterministic mode is enabled.
type Arch interface {
	DisableInterrupts()
	EnableInterrupts()
}
