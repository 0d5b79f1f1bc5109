package dequant

import "encoding/binary"

// getScaleMinK4 extracts the 6-bit scale and min for Q4_K/Q5_K sub-block j
// (j in [0,8)) from the 12-byte packed scales array. The asymmetric j<4 vs
// j>=4 handling below is required for bit-exactness against llama.cpp.
func getScaleMinK4(j int, scales []byte) (sc, m uint8) {
	if j < 4 {
		sc = scales[j] & 63
		m = scales[j+4] & 63
	} else {
		sc = (scales[j+4] & 0xF) | ((scales[j-4] >> 6) << 4)
		m = (scales[j+4] >> 4) | ((scales[j] >> 6) << 4)
	}
	return
}

// dequantQ2_K decodes one 84-byte Q2_K super-block (256 values): 16 bytes
// of packed 4-bit scale/min pairs, 64 bytes of 2-bit quants in four 2-bit
// planes, then fp16 d and fp16 dmin.
func dequantQ2_K(src []byte, dst []float32) {
	scales := src[0:16]
	qs := src[16:80]
	d := HalfToFloat32(binary.LittleEndian.Uint16(src[80:82]))
	dmin := HalfToFloat32(binary.LittleEndian.Uint16(src[82:84]))

	var idx, is int
	for n := 0; n < 256; n += 128 {
		shift := uint(0)
		for j := 0; j < 4; j++ {
			sc := scales[is]
			is++
			dl := d * float32(sc&0xF)
			ml := dmin * float32(sc>>4)
			for l := 0; l < 16; l++ {
				dst[idx] = dl*float32((qs[n/4+l]>>shift)&3) - ml
				idx++
			}

			sc = scales[is]
			is++
			dl = d * float32(sc&0xF)
			ml = dmin * float32(sc>>4)
			for l := 0; l < 16; l++ {
				dst[idx] = dl*float32((qs[n/4+16+l]>>shift)&3) - ml
				idx++
			}

			shift += 2
		}
	}
}

// dequantQ4_K decodes one 144-byte Q4_K super-block (256 values): fp16 d,
// fp16 dmin, 12 bytes of packed 6-bit scale/min pairs (8 sub-blocks of 32),
// 128 bytes of 4-bit quants.
func dequantQ4_K(src []byte, dst []float32) {
	d := HalfToFloat32(binary.LittleEndian.Uint16(src[0:2]))
	dmin := HalfToFloat32(binary.LittleEndian.Uint16(src[2:4]))
	scales := src[4:16]
	qs := src[16:]

	var idx, is int
	for j := 0; j < 256; j += 64 {
		sc1, m1 := getScaleMinK4(is, scales)
		d1 := d * float32(sc1)
		min1 := dmin * float32(m1)

		sc2, m2 := getScaleMinK4(is+1, scales)
		d2 := d * float32(sc2)
		min2 := dmin * float32(m2)

		qoff := j / 2
		for l := 0; l < 32; l++ {
			dst[idx] = d1*float32(qs[qoff+l]&0xF) - min1
			idx++
		}
		for l := 0; l < 32; l++ {
			dst[idx] = d2*float32(qs[qoff+l]>>4) - min2
			idx++
		}
		is += 2
	}
}

// dequantQ5_K decodes one 176-byte Q5_K super-block (256 values): as Q4_K
// plus 32 bytes of high-bits (qh), rotated by a pair of masks u1=1, u2=2
// that shift left by 2 after every 64-element group.
func dequantQ5_K(src []byte, dst []float32) {
	d := HalfToFloat32(binary.LittleEndian.Uint16(src[0:2]))
	dmin := HalfToFloat32(binary.LittleEndian.Uint16(src[2:4]))
	scales := src[4:16]
	qh := src[16:48]
	qs := src[48:]

	var idx, is int
	var u1, u2 uint8 = 1, 2
	var qlOff int
	for g := 0; g < 4; g++ {
		sc1, m1 := getScaleMinK4(is, scales)
		d1 := d * float32(sc1)
		min1 := dmin * float32(m1)

		sc2, m2 := getScaleMinK4(is+1, scales)
		d2 := d * float32(sc2)
		min2 := dmin * float32(m2)

		for l := 0; l < 32; l++ {
			hbit := uint8(0)
			if qh[l]&u1 != 0 {
				hbit = 16
			}
			dst[idx] = d1*float32(uint8(qs[qlOff+l]&0xF)+hbit) - min1
			idx++
		}
		for l := 0; l < 32; l++ {
			hbit := uint8(0)
			if qh[l]&u2 != 0 {
				hbit = 16
			}
			dst[idx] = d2*float32(uint8(qs[qlOff+l]>>4)+hbit) - min2
			idx++
		}
		qlOff += 32
		is += 2
		u1 <<= 2
		u2 <<= 2
	}
}

// dequantQ6_K decodes one 210-byte Q6_K super-block (256 values): 128 bytes
// ql (4-bit low), 64 bytes qh (2-bit high), 16 bytes of per-16 int8 scales,
// fp16 super-scale d. Four outputs per l emitted at l, l+32, l+64, l+96,
// each combining a distinct pair of ql/qh bits and its own int8 sub-scale —
// the llama.cpp-matching layout (not the duplicate-lane transcription bug).
func dequantQ6_K(src []byte, dst []float32) {
	ql := src[0:128]
	qh := src[128:192]
	sc := src[192:208]
	d := HalfToFloat32(binary.LittleEndian.Uint16(src[208:210]))

	var idx, qlOff, qhOff, scOff int
	for n := 0; n < 256; n += 128 {
		for l := 0; l < 32; l++ {
			is := l / 16
			q1 := int8((uint8(ql[qlOff+l])&0xF)|((qh[qhOff+l]>>0)&3)<<4) - 32
			q2 := int8((uint8(ql[qlOff+l+32])&0xF)|((qh[qhOff+l]>>2)&3)<<4) - 32
			q3 := int8((uint8(ql[qlOff+l])>>4)|((qh[qhOff+l]>>4)&3)<<4) - 32
			q4 := int8((uint8(ql[qlOff+l+32])>>4)|((qh[qhOff+l]>>6)&3)<<4) - 32
			dst[idx+l] = d * float32(int8(sc[scOff+is])) * float32(q1)
			dst[idx+l+32] = d * float32(int8(sc[scOff+is+2])) * float32(q2)
			dst[idx+l+64] = d * float32(int8(sc[scOff+is+4])) * float32(q3)
			dst[idx+l+96] = d * float32(int8(sc[scOff+is+6])) * float32(q4)
		}
		idx += 128
		qlOff += 64
		qhOff += 32
		scOff += 8
	}
}
