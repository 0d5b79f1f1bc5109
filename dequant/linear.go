package dequant

import (
	"encoding/binary"
	"math"
)

const (
	QK32  = 32
	QK256 = 256
)

func dequantF32(src []byte, dst []float32) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
}

func dequantF16(src []byte, dst []float32) {
	for i := range dst {
		dst[i] = HalfToFloat32(binary.LittleEndian.Uint16(src[i*2:]))
	}
}

// dequantQ4_0 decodes one 18-byte Q4_0 block (32 values): fp16 scale d,
// then 16 bytes of packed nibbles centered at -8.
func dequantQ4_0(src []byte, dst []float32) {
	d := HalfToFloat32(binary.LittleEndian.Uint16(src[0:2]))
	qs := src[2:]
	for j := 0; j < 16; j++ {
		x0 := int(qs[j]&0x0F) - 8
		x1 := int(qs[j]>>4) - 8
		dst[j] = float32(x0) * d
		dst[j+16] = float32(x1) * d
	}
}

// dequantQ4_1 decodes one 20-byte Q4_1 block: fp16 d, fp16 min, then 16
// bytes of packed nibbles, unsigned (no center offset).
func dequantQ4_1(src []byte, dst []float32) {
	d := HalfToFloat32(binary.LittleEndian.Uint16(src[0:2]))
	m := HalfToFloat32(binary.LittleEndian.Uint16(src[2:4]))
	qs := src[4:]
	for j := 0; j < 16; j++ {
		x0 := int(qs[j] & 0x0F)
		x1 := int(qs[j] >> 4)
		dst[j] = float32(x0)*d + m
		dst[j+16] = float32(x1)*d + m
	}
}

// dequantQ5_0 decodes one 22-byte Q5_0 block: fp16 d, 4 bytes of high bits
// (qh), then 16 bytes of packed nibbles; 5-bit value centered at -16.
func dequantQ5_0(src []byte, dst []float32) {
	d := HalfToFloat32(binary.LittleEndian.Uint16(src[0:2]))
	qh := binary.LittleEndian.Uint32(src[2:6])
	qs := src[6:]
	for j := 0; j < 16; j++ {
		xh0 := ((qh >> uint(j)) << 4) & 0x10
		xh1 := (qh >> uint(j+12)) & 0x10
		x0 := int32(uint32(qs[j]&0x0F)|xh0) - 16
		x1 := int32(uint32(qs[j]>>4)|xh1) - 16
		dst[j] = float32(x0) * d
		dst[j+16] = float32(x1) * d
	}
}

// dequantQ8_0 decodes one 34-byte Q8_0 block: fp16 d, then 32 int8 values.
func dequantQ8_0(src []byte, dst []float32) {
	d := HalfToFloat32(binary.LittleEndian.Uint16(src[0:2]))
	for j := 0; j < 32; j++ {
		dst[j] = d * float32(int8(src[2+j]))
	}
}
