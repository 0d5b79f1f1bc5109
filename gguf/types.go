// Package gguf implements the GGUF binary container reader: header,
// key/value metadata, and tensor directory, plus the derived architecture
// and tokenizer metadata records the rest of the engine needs. It never
// copies tensor bytes; every TensorRef is a borrowed view into the caller's
// model blob.
package gguf

import "fmt"

// Magic is the GGUF magic number.
type Magic uint32

const (
	MagicGGUFLittleEndian Magic = 0x46554747 // "GGUF"
	MagicGGUFBigEndian    Magic = 0x47475546
)

// Version is the GGUF file format version.
type Version uint32

const (
	VersionV1 Version = iota + 1
	VersionV2
	VersionV3
)

// MetadataValueType tags the wire type of one metadata value.
type MetadataValueType uint32

const (
	ValueTypeUint8 MetadataValueType = iota
	ValueTypeInt8
	ValueTypeUint16
	ValueTypeInt16
	ValueTypeUint32
	ValueTypeInt32
	ValueTypeFloat32
	ValueTypeBool
	ValueTypeString
	ValueTypeArray
	ValueTypeUint64
	ValueTypeInt64
	ValueTypeFloat64
	valueTypeCount // sentinel
)

func (t MetadataValueType) valid() bool { return t < valueTypeCount }

// GGMLType is the tensor element encoding tag, restricted to the ten
// encodings this core supports. Values match the upstream ggml_type
// numbering so on-disk tensors decode correctly even though most of the
// upstream enum (IQ-quants, Q3_K, Q8_K, BF16, ...) is absent here.
type GGMLType uint32

const (
	GGMLTypeF32  GGMLType = 0
	GGMLTypeF16  GGMLType = 1
	GGMLTypeQ4_0 GGMLType = 2
	GGMLTypeQ4_1 GGMLType = 3
	GGMLTypeQ5_0 GGMLType = 6
	GGMLTypeQ8_0 GGMLType = 8
	GGMLTypeQ2_K GGMLType = 10
	GGMLTypeQ4_K GGMLType = 12
	GGMLTypeQ5_K GGMLType = 13
	GGMLTypeQ6_K GGMLType = 14
)

// Trait describes the block layout of one GGMLType: QK elements per block
// and the number of bytes one block occupies on disk.
type Trait struct {
	BlockSize uint64
	BlockBytes uint64
	Quantized bool
}

var traits = map[GGMLType]Trait{
	GGMLTypeF32:  {BlockSize: 1, BlockBytes: 4, Quantized: false},
	GGMLTypeF16:  {BlockSize: 1, BlockBytes: 2, Quantized: false},
	GGMLTypeQ4_0: {BlockSize: 32, BlockBytes: 18, Quantized: true},
	GGMLTypeQ4_1: {BlockSize: 32, BlockBytes: 20, Quantized: true},
	GGMLTypeQ5_0: {BlockSize: 32, BlockBytes: 22, Quantized: true},
	GGMLTypeQ8_0: {BlockSize: 32, BlockBytes: 34, Quantized: true},
	GGMLTypeQ2_K: {BlockSize: 256, BlockBytes: 84, Quantized: true},
	GGMLTypeQ4_K: {BlockSize: 256, BlockBytes: 144, Quantized: true},
	GGMLTypeQ5_K: {BlockSize: 256, BlockBytes: 176, Quantized: true},
	GGMLTypeQ6_K: {BlockSize: 256, BlockBytes: 210, Quantized: true},
}

// Trait returns the block trait for t and whether t is supported.
func (t GGMLType) Trait() (Trait, bool) {
	tr, ok := traits[t]
	return tr, ok
}

func (t GGMLType) String() string {
	switch t {
	case GGMLTypeF32:
		return "F32"
	case GGMLTypeF16:
		return "F16"
	case GGMLTypeQ4_0:
		return "Q4_0"
	case GGMLTypeQ4_1:
		return "Q4_1"
	case GGMLTypeQ5_0:
		return "Q5_0"
	case GGMLTypeQ8_0:
		return "Q8_0"
	case GGMLTypeQ2_K:
		return "Q2_K"
	case GGMLTypeQ4_K:
		return "Q4_K"
	case GGMLTypeQ5_K:
		return "Q5_K"
	case GGMLTypeQ6_K:
		return "Q6_K"
	default:
		return fmt.Sprintf("GGMLType(%d)", uint32(t))
	}
}

// RowSizeBytes returns the on-disk byte size of a row of n elements of type
// t, or an error if n is not a multiple of the block size.
func (t GGMLType) RowSizeBytes(n uint64) (uint64, error) {
	tr, ok := t.Trait()
	if !ok {
		return 0, fmt.Errorf("gguf: unsupported ggml type %s", t)
	}
	if n%tr.BlockSize != 0 {
		return 0, fmt.Errorf("gguf: row length %d not a multiple of block size %d for %s", n, tr.BlockSize, t)
	}
	return (n / tr.BlockSize) * tr.BlockBytes, nil
}
