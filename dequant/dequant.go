package dequant

import (
	"fmt"

	"github.com/dddimcha/embodiOS-sub002/gguf"
)

// blockFunc dequantizes exactly one block: len(dst) == QK(encoding).
type blockFunc func(src []byte, dst []float32)

var dispatch = map[gguf.GGMLType]blockFunc{
	gguf.GGMLTypeF32:  dequantF32,
	gguf.GGMLTypeF16:  dequantF16,
	gguf.GGMLTypeQ4_0: dequantQ4_0,
	gguf.GGMLTypeQ4_1: dequantQ4_1,
	gguf.GGMLTypeQ5_0: dequantQ5_0,
	gguf.GGMLTypeQ8_0: dequantQ8_0,
	gguf.GGMLTypeQ2_K: dequantQ2_K,
	gguf.GGMLTypeQ4_K: dequantQ4_K,
	gguf.GGMLTypeQ5_K: dequantQ5_K,
	gguf.GGMLTypeQ6_K: dequantQ6_K,
}

// Supported reports whether Dequantize knows how to handle t.
func Supported(t gguf.GGMLType) bool {
	_, ok := dispatch[t]
	return ok
}

// Dequantize converts the quantized block run in src into dst, one block at
// a time. len(dst) must be a multiple of the encoding's block size (QK),
// and src must cover exactly that many blocks' worth of bytes; dst is
// filled completely and src is never read past its covering window. An
// unsupported encoding zero-fills dst and returns an error describing it
// (the diagnostic §4.2 calls for), rather than panicking.
func Dequantize(t gguf.GGMLType, src []byte, dst []float32) error {
	fn, ok := dispatch[t]
	if !ok {
		for i := range dst {
			dst[i] = 0
		}
		return fmt.Errorf("dequant: unsupported encoding %s", t)
	}

	trait, ok := t.Trait()
	if !ok {
		for i := range dst {
			dst[i] = 0
		}
		return fmt.Errorf("dequant: no trait for encoding %s", t)
	}
	qk := int(trait.BlockSize)
	blockBytes := int(trait.BlockBytes)

	if len(dst)%qk != 0 {
		return fmt.Errorf("dequant: dst length %d not a multiple of block size %d for %s", len(dst), qk, t)
	}
	nBlocks := len(dst) / qk
	if len(src) < nBlocks*blockBytes {
		return fmt.Errorf("dequant: src has %d bytes, need %d for %d blocks of %s", len(src), nBlocks*blockBytes, nBlocks, t)
	}

	for b := 0; b < nBlocks; b++ {
		fn(src[b*blockBytes:(b+1)*blockBytes], dst[b*qk:(b+1)*qk])
	}
	return nil
}
