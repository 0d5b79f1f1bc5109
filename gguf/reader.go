package gguf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dddimcha/embodiOS-sub002/internal/bufpool"
)

// reader is the low-level byte-order-aware cursor over the in-memory model
// blob. Unlike the teacher's io.ReadSeeker-backed reader (which could also
// point at a file or an HTTP body), this one only ever wraps a
// *bytes.Reader over a single memory-resident blob, per the "no file I/O
// beyond one memory-resident model blob" restriction.
type reader struct {
	v  Version
	f  *bytes.Reader
	bo binary.ByteOrder
}

func (rd reader) ReadUint8() (v uint8, err error) {
	err = binary.Read(rd.f, rd.bo, &v)
	if err != nil {
		return 0, fmt.Errorf("read uint8: %w", err)
	}
	return v, nil
}

func (rd reader) ReadInt8() (v int8, err error) {
	err = binary.Read(rd.f, rd.bo, &v)
	if err != nil {
		return 0, fmt.Errorf("read int8: %w", err)
	}
	return v, nil
}

func (rd reader) ReadUint16() (v uint16, err error) {
	err = binary.Read(rd.f, rd.bo, &v)
	if err != nil {
		return 0, fmt.Errorf("read uint16: %w", err)
	}
	return v, nil
}

func (rd reader) ReadInt16() (v int16, err error) {
	err = binary.Read(rd.f, rd.bo, &v)
	if err != nil {
		return 0, fmt.Errorf("read int16: %w", err)
	}
	return v, nil
}

func (rd reader) ReadUint32() (v uint32, err error) {
	err = binary.Read(rd.f, rd.bo, &v)
	if err != nil {
		return 0, fmt.Errorf("read uint32: %w", err)
	}
	return v, nil
}

func (rd reader) ReadInt32() (v int32, err error) {
	err = binary.Read(rd.f, rd.bo, &v)
	if err != nil {
		return 0, fmt.Errorf("read int32: %w", err)
	}
	return v, nil
}

func (rd reader) ReadUint64FromUint32() (uint64, error) {
	v, err := rd.ReadUint32()
	return uint64(v), err
}

func (rd reader) ReadUint64() (v uint64, err error) {
	err = binary.Read(rd.f, rd.bo, &v)
	if err != nil {
		return 0, fmt.Errorf("read uint64: %w", err)
	}
	return v, nil
}

func (rd reader) ReadInt64() (v int64, err error) {
	err = binary.Read(rd.f, rd.bo, &v)
	if err != nil {
		return 0, fmt.Errorf("read int64: %w", err)
	}
	return v, nil
}

func (rd reader) ReadFloat32() (v float32, err error) {
	err = binary.Read(rd.f, rd.bo, &v)
	if err != nil {
		return 0, fmt.Errorf("read float32: %w", err)
	}
	return v, nil
}

func (rd reader) ReadFloat64() (v float64, err error) {
	err = binary.Read(rd.f, rd.bo, &v)
	if err != nil {
		return 0, fmt.Errorf("read float64: %w", err)
	}
	return v, nil
}

func (rd reader) ReadBool() (v bool, err error) {
	b, err := rd.ReadUint8()
	if err != nil {
		return false, fmt.Errorf("read bool: %w", err)
	}
	return b != 0, nil
}

func (rd reader) readLength() (uint64, error) {
	if rd.v <= VersionV1 {
		return rd.ReadUint64FromUint32()
	}
	return rd.ReadUint64()
}

// ReadString reads a length-prefixed string exactly as stored. GGUF
// strings carry their own length, so there is no padding to strip; a
// whitespace-only string (a literal "\n" or " " tokenizer piece, for
// instance) is a legitimate value and must come back unmodified, or
// decode would drop that token's text.
func (rd reader) ReadString() (string, error) {
	l, err := rd.readLength()
	if err != nil {
		return "", fmt.Errorf("read string length: %w", err)
	}
	buf := bufpool.Get(int(l))
	defer bufpool.Put(buf)
	if _, err := io.ReadFull(rd.f, buf[:l]); err != nil {
		return "", fmt.Errorf("read string: %w", err)
	}
	return string(buf[:l]), nil
}

func (rd reader) ReadArray() (ArrayValue, error) {
	var av ArrayValue

	var t uint32
	if err := binary.Read(rd.f, rd.bo, &t); err != nil {
		return av, fmt.Errorf("read array item type: %w", err)
	}
	av.Type = MetadataValueType(t)
	if !av.Type.valid() {
		return av, fmt.Errorf("invalid array item type: %d", t)
	}

	l, err := rd.readLength()
	if err != nil {
		return av, fmt.Errorf("read array length: %w", err)
	}
	av.Len = l

	av.Item = make([]any, l)
	for i := uint64(0); i < l; i++ {
		av.Item[i], err = rd.ReadValue(av.Type)
		if err != nil {
			return av, fmt.Errorf("read array item %d: %w", i, err)
		}
	}
	return av, nil
}

func (rd reader) ReadValue(vt MetadataValueType) (any, error) {
	if !vt.valid() {
		return nil, fmt.Errorf("invalid value type: %d", vt)
	}
	switch vt {
	case ValueTypeUint8:
		return rd.ReadUint8()
	case ValueTypeInt8:
		return rd.ReadInt8()
	case ValueTypeUint16:
		return rd.ReadUint16()
	case ValueTypeInt16:
		return rd.ReadInt16()
	case ValueTypeUint32:
		return rd.ReadUint32()
	case ValueTypeInt32:
		return rd.ReadInt32()
	case ValueTypeFloat32:
		return rd.ReadFloat32()
	case ValueTypeBool:
		return rd.ReadBool()
	case ValueTypeString:
		return rd.ReadString()
	case ValueTypeArray:
		return rd.ReadArray()
	case ValueTypeUint64:
		return rd.ReadUint64()
	case ValueTypeInt64:
		return rd.ReadInt64()
	case ValueTypeFloat64:
		return rd.ReadFloat64()
	default:
		return nil, fmt.Errorf("invalid value type: %d", vt)
	}
}

func (rd reader) ReadMetadataKV() (MetadataKV, error) {
	var kv MetadataKV
	key, err := rd.ReadString()
	if err != nil {
		return kv, fmt.Errorf("read key: %w", err)
	}
	kv.Key = key

	vt, err := rd.ReadUint32()
	if err != nil {
		return kv, fmt.Errorf("read value type: %w", err)
	}
	kv.ValueType = MetadataValueType(vt)
	if !kv.ValueType.valid() {
		return kv, fmt.Errorf("invalid value type for key %q: %d", kv.Key, vt)
	}

	kv.Value, err = rd.ReadValue(kv.ValueType)
	if err != nil {
		return kv, fmt.Errorf("read %s value: %w", kv.Key, err)
	}
	return kv, nil
}

func (rd reader) ReadTensorInfo() (TensorInfo, error) {
	var ti TensorInfo

	name, err := rd.ReadString()
	if err != nil {
		return ti, fmt.Errorf("read name: %w", err)
	}
	ti.Name = name

	nd, err := rd.ReadUint32()
	if err != nil {
		return ti, fmt.Errorf("read n dimensions: %w", err)
	}
	ti.NDimensions = nd

	ti.Dimensions = make([]uint64, nd)
	for i := uint32(0); i < nd; i++ {
		var d uint64
		if rd.v <= VersionV1 {
			d, err = rd.ReadUint64FromUint32()
		} else {
			d, err = rd.ReadUint64()
		}
		if err != nil {
			return ti, fmt.Errorf("read dimension %d: %w", i, err)
		}
		ti.Dimensions[i] = d
	}

	gt, err := rd.ReadUint32()
	if err != nil {
		return ti, fmt.Errorf("read type: %w", err)
	}
	ti.Type = GGMLType(gt)

	off, err := rd.ReadUint64()
	if err != nil {
		return ti, fmt.Errorf("read offset: %w", err)
	}
	ti.Offset = off

	return ti, nil
}
