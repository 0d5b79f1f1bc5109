package matmul

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dddimcha/embodiOS-sub002/dequant"
)

// q8_1Cols is the element count of one Q8_1 activation block. Q8_1 is an
// activation-side in-memory format (never written to disk), so there is no
// wire layout to match, unlike the weight-side Q8_0 encoding.
const q8_1Cols = 32

// Q8_1Block is one on-the-fly-quantized activation block.
type Q8_1Block struct {
	Scale float32
	Sum   float32
	Qs    [32]int8
}

// Q8Scratch is the pre-allocated scratch FusedQ8_0 quantizes activations
// into; sized once at init to cols/32 blocks (§3's "Q8_1 activation-quant
// scratch of n_ff/32 blocks", generalized to whatever cols FusedQ8_0 is
// called with).
type Q8Scratch struct {
	Blocks []Q8_1Block
}

// NewQ8Scratch allocates scratch for activation vectors up to maxCols wide.
func NewQ8Scratch(maxCols int) *Q8Scratch {
	return &Q8Scratch{Blocks: make([]Q8_1Block, maxCols/q8_1Cols)}
}

// quantizeQ8_1 fills scratch.Blocks from x, one 32-element block at a time:
// max_abs, scale = max_abs/127, sum = sum(x_i), qs_i = round(x_i/scale)
// clamped to [-128,127].
func quantizeQ8_1(x []float32, blocks []Q8_1Block) error {
	if len(x)%q8_1Cols != 0 {
		return fmt.Errorf("matmul: activation length %d not a multiple of %d", len(x), q8_1Cols)
	}
	nBlocks := len(x) / q8_1Cols
	if len(blocks) < nBlocks {
		return fmt.Errorf("matmul: q8_1 scratch has %d blocks, need %d", len(blocks), nBlocks)
	}
	for b := 0; b < nBlocks; b++ {
		chunk := x[b*q8_1Cols : (b+1)*q8_1Cols]
		var maxAbs float32
		var sum float32
		for _, v := range chunk {
			sum += v
			a := v
			if a < 0 {
				a = -a
			}
			if a > maxAbs {
				maxAbs = a
			}
		}
		scale := maxAbs / 127
		blk := &blocks[b]
		blk.Sum = sum
		blk.Scale = scale
		if scale == 0 {
			for i := range blk.Qs {
				blk.Qs[i] = 0
			}
			continue
		}
		for i, v := range chunk {
			q := int32(math.Round(float64(v / scale)))
			if q > 127 {
				q = 127
			} else if q < -128 {
				q = -128
			}
			blk.Qs[i] = int8(q)
		}
	}
	return nil
}

// FusedQ8_0 computes out[r] = sum_c W[r,c]*x[c] for a Q8_0-encoded weight,
// bypassing float dequantization: activations are quantized once into Q8_1
// blocks, then each row's dot product runs as an int8*int8 -> int16 ->
// int32 accumulation, scaled by d_weight*d_input per block.
func FusedQ8_0(out []float32, wData []byte, rows, cols int, x []float32, scratch *Q8Scratch) error {
	if len(out) != rows {
		return fmt.Errorf("matmul: out length %d != rows %d", len(out), rows)
	}
	if len(x) != cols {
		return fmt.Errorf("matmul: x length %d != cols %d", len(x), cols)
	}
	if cols%q8_1Cols != 0 {
		return fmt.Errorf("matmul: cols %d not a multiple of %d", cols, q8_1Cols)
	}
	const weightBlockBytes = 34
	nBlocks := cols / q8_1Cols
	rowBytes := nBlocks * weightBlockBytes
	if len(wData) < rows*rowBytes {
		return fmt.Errorf("matmul: weight data has %d bytes, need %d", len(wData), rows*rowBytes)
	}
	if cap(scratch.Blocks) < nBlocks {
		scratch.Blocks = make([]Q8_1Block, nBlocks)
	}
	blocks := scratch.Blocks[:nBlocks]
	if err := quantizeQ8_1(x, blocks); err != nil {
		return err
	}

	for r := 0; r < rows; r++ {
		rowOff := r * rowBytes
		var acc float32
		for b := 0; b < nBlocks; b++ {
			blockOff := rowOff + b*weightBlockBytes
			dWeight := dequant.HalfToFloat32(binary.LittleEndian.Uint16(wData[blockOff : blockOff+2]))
			wqs := wData[blockOff+2 : blockOff+weightBlockBytes]

			ib := &blocks[b]
			var isum int32
			for i := 0; i < q8_1Cols; i++ {
				// int16 widen then int32 accumulate, per the fused-path contract.
				isum += int32(int16(int8(wqs[i])) * int16(ib.Qs[i]))
			}
			acc += dWeight * ib.Scale * float32(isum)
		}
		out[r] = acc
	}
	return nil
}
