package gguf

import (
	"sort"
)

// TensorInfo is one entry of the on-disk tensor directory.
type TensorInfo struct {
	Name       string
	NDimensions uint32
	Dimensions []uint64
	Type       GGMLType
	// Offset is relative to the start of the tensor data section.
	Offset uint64
}

// Elements returns the total element count of the tensor.
func (ti TensorInfo) Elements() uint64 {
	n := uint64(1)
	for _, d := range ti.Dimensions {
		n *= d
	}
	return n
}

// Bytes returns the on-disk byte size of the tensor, or an error if its
// element count is not block-aligned for its type.
func (ti TensorInfo) Bytes() (uint64, error) {
	return ti.Type.RowSizeBytes(ti.Elements())
}

// TensorInfos is the full tensor directory, kept sorted by name for O(log n)
// lookup as the container format's own contract promises.
type TensorInfos []TensorInfo

// Get performs a binary search by name.
func (tis TensorInfos) Get(name string) (TensorInfo, bool) {
	i := sort.Search(len(tis), func(i int) bool { return tis[i].Name >= name })
	if i < len(tis) && tis[i].Name == name {
		return tis[i], true
	}
	return TensorInfo{}, false
}

// TensorRef is a borrowed, zero-copy view of one tensor's bytes inside the
// caller-owned model blob.
type TensorRef struct {
	Info TensorInfo
	Data []byte
}

// Tensor resolves a TensorInfo to the corresponding byte window of the
// model blob, validating the offset/length against the blob bounds.
func (f *File) Tensor(name string) (TensorRef, bool) {
	ti, ok := f.TensorInfos.Get(name)
	if !ok {
		return TensorRef{}, false
	}
	n, err := ti.Bytes()
	if err != nil {
		return TensorRef{}, false
	}
	start := f.TensorDataStartOffset + int64(ti.Offset)
	end := start + int64(n)
	if start < 0 || end > int64(len(f.raw)) {
		return TensorRef{}, false
	}
	return TensorRef{Info: ti, Data: f.raw[start:end]}, true
}

func sortTensorInfos(tis TensorInfos) {
	sort.Slice(tis, func(i, j int) bool { return tis[i].Name < tis[j].Name })
}
