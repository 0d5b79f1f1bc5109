package matmul

import (
	"fmt"

	"github.com/dddimcha/embodiOS-sub002/dequant"
	"github.com/dddimcha/embodiOS-sub002/gguf"
)

// Transposed computes out[v] = sum_d W[d,v]*x[d] for a weight tensor stored
// [n_embd, vocab] (embedding-major), used when tied embeddings serve as the
// output head and the embedding layout is transposed (§4.3.3). Access is
// strided: it sweeps inner by rows (one embedding dimension at a time) and
// accumulates into out in-place, matching the permitted in-place sweep.
func Transposed(out []float32, wData []byte, encoding gguf.GGMLType, nEmbd, vocab int, x []float32, scratch *Scratch) error {
	if len(out) != vocab {
		return fmt.Errorf("matmul: out length %d != vocab %d", len(out), vocab)
	}
	if len(x) != nEmbd {
		return fmt.Errorf("matmul: x length %d != n_embd %d", len(x), nEmbd)
	}
	trait, ok := encoding.Trait()
	if !ok {
		return fmt.Errorf("matmul: unsupported encoding %s", encoding)
	}
	qk := int(trait.BlockSize)
	if vocab%qk != 0 {
		return fmt.Errorf("matmul: vocab %d not a multiple of block size %d", vocab, qk)
	}
	rowBytes := (vocab / qk) * int(trait.BlockBytes)
	if len(wData) < nEmbd*rowBytes {
		return fmt.Errorf("matmul: weight data has %d bytes, need %d", len(wData), nEmbd*rowBytes)
	}

	for i := range out {
		out[i] = 0
	}

	chunk := chunkSize
	if chunk > vocab {
		chunk = vocab
	}
	chunk -= chunk % qk
	if chunk == 0 {
		chunk = qk
	}
	if cap(scratch.Chunk) < chunk {
		scratch.Chunk = make([]float32, chunk)
	}
	buf := scratch.Chunk[:chunk]

	for d := 0; d < nEmbd; d++ {
		xd := x[d]
		if xd == 0 {
			continue
		}
		rowOff := d * rowBytes
		for c := 0; c < vocab; c += chunk {
			w := chunk
			if c+w > vocab {
				w = vocab - c
			}
			blockOff := (c / qk) * int(trait.BlockBytes)
			blockLen := (w / qk) * int(trait.BlockBytes)
			if err := dequant.Dequantize(encoding, wData[rowOff+blockOff:rowOff+blockOff+blockLen], buf[:w]); err != nil {
				return err
			}
			for i := 0; i < w; i++ {
				out[c+i] += buf[i] * xd
			}
		}
	}
	return nil
}
