// Package dequant implements the block dequantizers for the ten encodings
// this core supports: F32, F16, Q4_0, Q4_1, Q5_0, Q8_0, Q2_K, Q4_K, Q5_K,
// Q6_K. Each dequantizer writes exactly len(dst) floats and never reads
// beyond its src window. The K-quant scale/min decoder matches llama.cpp
// bit-for-bit, resolving the asymmetric j<4/j>=4 handling and the Q6_K
// four-lane layout called out as open questions.
package dequant

import "math"

// HalfToFloat32 converts an IEEE-754 binary16 value to float32, including
// the subnormal and inf/NaN paths.
func HalfToFloat32(bits uint16) float32 {
	sign := uint32(bits>>15) & 1
	exp := uint32(bits>>10) & 0x1F
	mant := uint32(bits) & 0x3FF

	var f uint32
	switch {
	case exp == 0:
		if mant == 0 {
			f = sign << 31
		} else {
			exp = 1
			for mant&0x400 == 0 {
				mant <<= 1
				exp--
			}
			mant &= 0x3FF
			f = (sign << 31) | ((exp + 127 - 15) << 23) | (mant << 13)
		}
	case exp == 0x1F:
		f = (sign << 31) | (0xFF << 23) | (mant << 13)
	default:
		f = (sign << 31) | ((exp + 127 - 15) << 23) | (mant << 13)
	}
	return math.Float32frombits(f)
}
