// Package codec provides the concrete value codecs: Number
// (scaled/shifted/rounded integers), Boolean, and HexBinary. Each
// implements exactly one of register.IntCodec/register.BinaryCodec.
package codec

import (
	"fmt"
	"math"

	"github.com/gep-client/register"
)

// Number decodes a wire int32 as scale*wire+shift, rounded to
// decimals digits, and encodes a local float64 back the same way in
// reverse.
type Number struct {
	Scale    float64
	Shift    float64
	Decimals int
}

var _ register.IntCodec = Number{}

// NewNumber validates decimals (must be >= 0) and scale (must be
// non-zero, or encoding could never recover a wire value).
func NewNumber(scale, shift float64, decimals int) (Number, error) {
	if scale == 0 {
		return Number{}, fmt.Errorf("%w: number codec scale must be non-zero", register.ErrInvalidArgument)
	}
	if decimals < 0 {
		return Number{}, fmt.Errorf("%w: number codec decimals must be non-negative", register.ErrInvalidArgument)
	}
	return Number{Scale: scale, Shift: shift, Decimals: decimals}, nil
}

func (Number) ValueType() register.ValueType { return register.ValueTypeInt }

// DecodeInt returns scale*wire+shift rounded to Decimals digits. With
// Decimals == 0 the result is an int32, matching the round-trip law
// decode(encode(l)) == l for integers; with Decimals > 0 it is a
// float64.
func (n Number) DecodeInt(wire int32) (register.Value, error) {
	v := n.Scale*float64(wire) + n.Shift
	rounded := roundTo(v, n.Decimals)
	if n.Decimals <= 0 {
		return int32(rounded), nil
	}
	return rounded, nil
}

// EncodeInt inverts DecodeInt: wire = round((local-shift)/scale).
// Fails with ErrNotConvertible if local isn't numeric or doesn't fit
// in an int32.
func (n Number) EncodeInt(local register.Value) (int32, error) {
	f, ok := asFloat64(local)
	if !ok {
		return 0, register.ErrNotConvertible
	}
	wire := (f - n.Shift) / n.Scale
	rounded := math.Round(wire)
	if rounded < math.MinInt32 || rounded > math.MaxInt32 {
		return 0, register.ErrNotConvertible
	}
	return int32(rounded), nil
}

func asFloat64(v register.Value) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func roundTo(v float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(v)
	}
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
