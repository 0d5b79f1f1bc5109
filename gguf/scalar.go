package gguf

import "github.com/dustin/go-humanize"

// BytesScalar formats a byte count in human-readable units.
type BytesScalar uint64

func (s BytesScalar) String() string { return humanize.IBytes(uint64(s)) }

// ParametersScalar formats a parameter count with thousands separators (no
// scale suffix).
type ParametersScalar uint64

func (s ParametersScalar) String() string {
	return humanize.CommafWithDigits(float64(s), 0)
}

// BitsPerWeightScalar formats the derived bits-per-weight of a model.
type BitsPerWeightScalar float64

func (s BitsPerWeightScalar) String() string {
	return humanize.CommafWithDigits(float64(s), 2) + " bpw"
}
