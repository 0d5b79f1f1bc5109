package gguf

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dddimcha/embodiOS-sub002/coreerror"
)

const defaultAlignment = 32

// Header is the fixed-size portion of a GGUF file plus its metadata KVs.
type Header struct {
	Magic           Magic
	Version         Version
	TensorCount     uint64
	MetadataKVCount uint64
	MetadataKV      MetadataKVs
}

// File is a parsed GGUF container: header, tensor directory, and a
// reference to the underlying blob the caller owns. File never copies
// tensor bytes.
type File struct {
	Header      Header
	TensorInfos TensorInfos

	Padding               int64
	TensorDataStartOffset int64

	ModelSize          BytesScalar
	ModelParameters    ParametersScalar
	ModelBitsPerWeight BitsPerWeightScalar

	raw []byte
}

// Parse reads a GGUF container out of an in-memory model blob. The blob
// must remain valid and unmodified for the lifetime of the returned File,
// since every TensorRef borrows directly from it.
func Parse(modelBytes []byte) (*File, error) {
	br := bytes.NewReader(modelBytes)

	var magicRaw uint32
	if err := binary.Read(br, binary.LittleEndian, &magicRaw); err != nil {
		return nil, coreerror.Wrap(coreerror.InvalidModel, "read magic", err)
	}
	magic := Magic(magicRaw)
	if magic != MagicGGUFLittleEndian && magic != MagicGGUFBigEndian {
		return nil, coreerror.New(coreerror.InvalidModel, fmt.Sprintf("invalid magic %#x", magicRaw))
	}
	bo := binary.ByteOrder(binary.LittleEndian)
	if magic == MagicGGUFBigEndian {
		bo = binary.BigEndian
	}

	var versionRaw uint32
	if err := binary.Read(br, bo, &versionRaw); err != nil {
		return nil, coreerror.Wrap(coreerror.InvalidModel, "read version", err)
	}
	version := Version(versionRaw)
	if version < VersionV1 || version > VersionV3 {
		return nil, coreerror.New(coreerror.InvalidModel, fmt.Sprintf("unsupported version %d", versionRaw))
	}

	rd := reader{v: version, f: br, bo: bo}

	var tensorCount, kvCount uint64
	var err error
	if version <= VersionV1 {
		tensorCount, err = rd.ReadUint64FromUint32()
	} else {
		tensorCount, err = rd.ReadUint64()
	}
	if err != nil {
		return nil, coreerror.Wrap(coreerror.InvalidModel, "read tensor count", err)
	}
	if version <= VersionV1 {
		kvCount, err = rd.ReadUint64FromUint32()
	} else {
		kvCount, err = rd.ReadUint64()
	}
	if err != nil {
		return nil, coreerror.Wrap(coreerror.InvalidModel, "read metadata kv count", err)
	}

	kvs := make(MetadataKVs, 0, kvCount)
	for i := uint64(0); i < kvCount; i++ {
		kv, err := rd.ReadMetadataKV()
		if err != nil {
			return nil, coreerror.Wrap(coreerror.InvalidModel, fmt.Sprintf("read metadata kv %d", i), err)
		}
		kvs = append(kvs, kv)
	}

	tis := make(TensorInfos, 0, tensorCount)
	for i := uint64(0); i < tensorCount; i++ {
		ti, err := rd.ReadTensorInfo()
		if err != nil {
			return nil, coreerror.Wrap(coreerror.InvalidModel, fmt.Sprintf("read tensor info %d", i), err)
		}
		if _, ok := ti.Type.Trait(); !ok {
			return nil, coreerror.New(coreerror.UnsupportedEncoding, fmt.Sprintf("tensor %q uses unsupported type %s", ti.Name, ti.Type))
		}
		tis = append(tis, ti)
	}
	sortTensorInfos(tis)

	alignment := ValueNumericOr[uint64](kvs, "general.alignment", defaultAlignment)
	if alignment == 0 {
		alignment = defaultAlignment
	}

	pos, err := br.Seek(0, 1)
	if err != nil {
		return nil, coreerror.Wrap(coreerror.InvalidModel, "seek current offset", err)
	}
	padding := int64(0)
	if rem := uint64(pos) % alignment; rem != 0 {
		padding = int64(alignment - rem)
	}
	tensorDataStart := pos + padding

	if tensorDataStart < 0 || tensorDataStart > int64(len(modelBytes)) {
		return nil, coreerror.New(coreerror.InvalidModel, "tensor data start offset out of bounds")
	}

	f := &File{
		Header: Header{
			Magic:           magic,
			Version:         version,
			TensorCount:     tensorCount,
			MetadataKVCount: kvCount,
			MetadataKV:      kvs,
		},
		TensorInfos:           tis,
		Padding:               padding,
		TensorDataStartOffset: tensorDataStart,
		raw:                   modelBytes,
	}

	var totalBytes, totalParams uint64
	for _, ti := range tis {
		n, err := ti.Bytes()
		if err != nil {
			return nil, coreerror.Wrap(coreerror.InvalidModel, fmt.Sprintf("size tensor %q", ti.Name), err)
		}
		if tensorDataStart+int64(ti.Offset)+int64(n) > int64(len(modelBytes)) {
			return nil, coreerror.New(coreerror.InvalidModel, fmt.Sprintf("tensor %q extends past end of model blob (truncated file)", ti.Name))
		}
		totalBytes += n
		totalParams += ti.Elements()
	}
	f.ModelSize = BytesScalar(totalBytes)
	f.ModelParameters = ParametersScalar(totalParams)
	if totalParams > 0 {
		f.ModelBitsPerWeight = BitsPerWeightScalar(float64(totalBytes) * 8 / float64(totalParams))
	}

	return f, nil
}

// Metadata exposes the parsed metadata KV list.
func (f *File) Metadata() MetadataKVs { return f.Header.MetadataKV }
