// Package matmul implements the three quantized matrix-multiply kernels:
// a streaming dequant-and-dot path usable for every supported encoding, a
// fused Q8_0xQ8_1 integer fast path, and a transposed variant for tied
// embeddings. None of the kernels allocate a float buffer larger than one
// row chunk.
package matmul

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/dddimcha/embodiOS-sub002/dequant"
	"github.com/dddimcha/embodiOS-sub002/gguf"
)

// chunkSize is the row-chunk width used by Streamed: at least 64 and at
// most cols, matching §4.3.1.
const chunkSize = 256

// Scratch is the pre-allocated per-call working set Streamed and the other
// kernels borrow instead of allocating; callers own it and size it once at
// init (chunkSize floats is enough for any cols value since Streamed clamps
// its chunk width to min(chunkSize, cols)).
type Scratch struct {
	Chunk   []float32 // len >= chunkSize, reused across rows/chunks
	chunkF64 []float64 // float64 mirror of Chunk, for gonum/floats.Dot
	xF64     []float64 // float64 mirror of the x chunk
}

// NewScratch allocates a Scratch sized for this kernel set.
func NewScratch() *Scratch {
	return &Scratch{
		Chunk:    make([]float32, chunkSize),
		chunkF64: make([]float64, chunkSize),
		xF64:     make([]float64, chunkSize),
	}
}

// Streamed computes out[r] = sum_c W[r,c]*x[c] for r in [0,rows), dequantizing
// one column-chunk of one row at a time into scratch. Row-major layout:
// element (r,c) lives at block offset (r*cols+c)/QK within wData.
func Streamed(out []float32, wData []byte, encoding gguf.GGMLType, rows, cols int, x []float32, scratch *Scratch) error {
	if len(out) != rows {
		return fmt.Errorf("matmul: out length %d != rows %d", len(out), rows)
	}
	if len(x) != cols {
		return fmt.Errorf("matmul: x length %d != cols %d", len(x), cols)
	}
	trait, ok := encoding.Trait()
	if !ok {
		return fmt.Errorf("matmul: unsupported encoding %s", encoding)
	}
	qk := int(trait.BlockSize)
	if cols%qk != 0 {
		return fmt.Errorf("matmul: cols %d not a multiple of block size %d", cols, qk)
	}
	rowBytes := (cols / qk) * int(trait.BlockBytes)
	if len(wData) < rows*rowBytes {
		return fmt.Errorf("matmul: weight data has %d bytes, need %d", len(wData), rows*rowBytes)
	}

	chunk := chunkSize
	if chunk > cols {
		chunk = cols
	}
	chunk -= chunk % qk
	if chunk == 0 {
		chunk = qk
	}
	if cap(scratch.Chunk) < chunk {
		scratch.Chunk = make([]float32, chunk)
		scratch.chunkF64 = make([]float64, chunk)
		scratch.xF64 = make([]float64, chunk)
	}
	buf := scratch.Chunk[:chunk]
	bufF64 := scratch.chunkF64[:chunk]
	xF64 := scratch.xF64[:chunk]

	for r := 0; r < rows; r++ {
		rowOff := r * rowBytes
		var acc float32
		for c := 0; c < cols; c += chunk {
			w := chunk
			if c+w > cols {
				w = cols - c
			}
			blockOff := (c / qk) * int(trait.BlockBytes)
			blockLen := (w / qk) * int(trait.BlockBytes)
			if err := dequant.Dequantize(encoding, wData[rowOff+blockOff:rowOff+blockOff+blockLen], buf[:w]); err != nil {
				return err
			}
			for i := 0; i < w; i++ {
				bufF64[i] = float64(buf[i])
				xF64[i] = float64(x[c+i])
			}
			acc += float32(floats.Dot(bufF64[:w], xF64[:w]))
		}
		out[r] = acc
	}
	return nil
}
