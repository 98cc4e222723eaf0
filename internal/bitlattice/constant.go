package bitlattice

import (
	"github.com/holiman/uint256"
)

// MaxWidth is the widest integer the lattice can convert to and from a
// concrete value.
const MaxWidth = 256

// FromConstant builds the bitstring of a concrete value. v holds the two's
// complement pattern; digits are emitted from the LSB until the value is
// exhausted or width digits were produced, and a leading ZERO is added to a
// signed value that did not fill the width.
func FromConstant(v *uint256.Int, width int, signed bool) Bitstring {
	if v.IsZero() {
		return Bitstring{Zero}
	}
	value := new(uint256.Int).Set(v)
	rev := make([]Bit, 0, width)
	bit := 0
	for ; bit < width && !value.IsZero(); bit++ {
		rev = append(rev, FromBool(value.Uint64()&1 == 1))
		value.Rsh(value, 1)
	}
	if bit < width && signed {
		rev = append(rev, Zero)
	}
	out := make(Bitstring, len(rev))
	for i, b := range rev {
		out[len(rev)-1-i] = b
	}
	return out
}

// FromInt64 is FromConstant for a host integer, sign extended to the full
// internal precision first.
func FromInt64(v int64, width int, signed bool) Bitstring {
	return FromConstant(Int64(v), width, signed)
}

// Int64 returns the 256-bit two's complement pattern of v.
func Int64(v int64) *uint256.Int {
	if v >= 0 {
		return uint256.NewInt(uint64(v))
	}
	out := uint256.NewInt(uint64(-v))
	return out.Neg(out)
}

// Mask returns 2^width - 1, saturating at 256 bits.
func Mask(width int) *uint256.Int {
	if width >= MaxWidth {
		return new(uint256.Int).Not(new(uint256.Int))
	}
	one := uint256.NewInt(1)
	m := new(uint256.Int).Lsh(one, uint(width))
	return m.Sub(m, one)
}

// ToInteger reconstructs the value described by a constant bitstring as the
// two's complement pattern of the given width. X bits read as zero; when
// signed, a leading ONE fills every bit above the bitstring.
func ToInteger(bs Bitstring, width int, signed bool) *uint256.Int {
	mustNotBeEmpty(bs)
	out := new(uint256.Int)
	n := len(bs)
	if n > width {
		n = width
	}
	for pos := 0; pos < n; pos++ {
		if bs.At(pos) == One {
			bitAt := new(uint256.Int).Lsh(uint256.NewInt(1), uint(pos))
			out.Or(out, bitAt)
		}
	}
	if signed && bs[0] == One && len(bs) < width {
		high := new(uint256.Int).Not(Mask(len(bs)))
		out.Or(out, high)
	}
	return out.And(out, Mask(width))
}

// SignedValue interprets v, a pattern of the given width, as a signed
// quantity and returns it sign extended to 256 bits.
func SignedValue(v *uint256.Int, width int) *uint256.Int {
	out := new(uint256.Int).And(v, Mask(width))
	if width <= 0 || width >= MaxWidth {
		return out
	}
	top := new(uint256.Int).Rsh(out, uint(width-1))
	if top.Uint64()&1 == 1 {
		out.Or(out, new(uint256.Int).Not(Mask(width)))
	}
	return out
}
