// Package bufpool is a sync.Pool-backed byte scratch pool adapted from the
// teacher's util/bytex pool for the non-deterministic allocation path only:
// the GGUF reader's one-shot string decoding. It must never be
// used inside the generation hot loop, which deterministic mode forbids
// from allocating.
package bufpool

import "sync"

const defaultSize = 4 * 1024

type Bytes = []byte

var gp = sync.Pool{
	New: func() any {
		buf := make(Bytes, defaultSize)
		return &buf
	},
}

// Get returns a scratch buffer of at least size bytes (default 4KiB).
func Get(size ...int) Bytes {
	buf := *(gp.Get().(*Bytes))

	s := defaultSize
	if len(size) != 0 && size[0] > 0 {
		s = size[0]
	}
	if cap(buf) >= s {
		return buf[:s]
	}

	gp.Put(&buf)

	ns := s
	if ns < defaultSize {
		ns = defaultSize
	}
	buf = make(Bytes, ns)
	return buf[:s]
}

// With gets a buffer, invokes fn with it, and returns it to the pool.
func With(fn func(Bytes) error, size ...int) error {
	if fn == nil {
		return nil
	}
	buf := Get(size...)
	defer Put(buf)
	return fn(buf)
}

// Put returns buf to the pool.
func Put(buf Bytes) {
	gp.Put(&buf)
}
