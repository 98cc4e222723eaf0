// Package bitlattice implements the four-valued bit lattice (0, 1, X, U)
// and the bitstrings built from it, most significant bit first.
package bitlattice

import (
	"errors"
	"fmt"
	"strings"
)

// Bit is one symbol of the bit lattice.
type Bit uint8

const (
	Zero Bit = iota
	One
	// X marks a bit whose value cannot affect any use.
	X
	// U marks a bit about which nothing is known.
	U
)

func (b Bit) String() string {
	switch b {
	case Zero:
		return "0"
	case One:
		return "1"
	case X:
		return "X"
	case U:
		return "U"
	default:
		return "?"
	}
}

// IsConcrete reports whether b is ZERO or ONE.
func (b Bit) IsConcrete() bool {
	return b == Zero || b == One
}

// FromBool returns ONE for true and ZERO for false.
func FromBool(v bool) Bit {
	if v {
		return One
	}
	return Zero
}

// InfBit merges two lattice bits: U is the identity and any disagreement
// between concrete bits or an X operand yields X.
func InfBit(a, b Bit) Bit {
	switch {
	case a == b:
		return a
	case a == X || b == X:
		return X
	case a == U:
		return b
	case b == U:
		return a
	default:
		return X
	}
}

// SupBit is the dual of InfBit: X is the identity and any disagreement or a
// U operand yields U.
func SupBit(a, b Bit) Bit {
	switch {
	case a == b:
		return a
	case a == U || b == U:
		return U
	case a == X:
		return b
	case b == X:
		return a
	default:
		return U
	}
}

// Bitstring is a sequence of lattice bits, most significant bit first.
// A valid bitstring is never empty.
type Bitstring []Bit

// ErrInvalidBitstring is returned by Parse for malformed input.
var ErrInvalidBitstring = errors.New("invalid bitstring")

// Parse converts the textual form (alphabet 0, 1, X, U) into a bitstring.
func Parse(s string) (Bitstring, error) {
	if s == "" {
		return nil, fmt.Errorf("empty input: %w", ErrInvalidBitstring)
	}
	out := make(Bitstring, 0, len(s))
	for i, r := range s {
		switch r {
		case '0':
			out = append(out, Zero)
		case '1':
			out = append(out, One)
		case 'X':
			out = append(out, X)
		case 'U':
			out = append(out, U)
		default:
			return nil, fmt.Errorf("unexpected %q at offset %d in %q: %w", r, i, s, ErrInvalidBitstring)
		}
	}
	return out, nil
}

// MustParse is Parse for literals known to be well formed.
func MustParse(s string) Bitstring {
	bs, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return bs
}

func (bs Bitstring) String() string {
	var sb strings.Builder
	sb.Grow(len(bs))
	for _, b := range bs {
		sb.WriteString(b.String())
	}
	return sb.String()
}

// Equal reports whether two bitstrings hold the same symbols.
func (bs Bitstring) Equal(other Bitstring) bool {
	if len(bs) != len(other) {
		return false
	}
	for i := range bs {
		if bs[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy that shares no storage with bs.
func (bs Bitstring) Clone() Bitstring {
	out := make(Bitstring, len(bs))
	copy(out, bs)
	return out
}

// Front returns the most significant bit.
func (bs Bitstring) Front() Bit {
	mustNotBeEmpty(bs)
	return bs[0]
}

// Back returns the least significant bit.
func (bs Bitstring) Back() Bit {
	mustNotBeEmpty(bs)
	return bs[len(bs)-1]
}

// At returns the bit at position pos counted from the LSB.
func (bs Bitstring) At(pos int) Bit {
	return bs[len(bs)-1-pos]
}

// NewU returns n unknown bits.
func NewU(n int) Bitstring {
	return fill(n, U)
}

// NewX returns n don't-care bits.
func NewX(n int) Bitstring {
	return fill(n, X)
}

// Fill returns a bitstring of n copies of b.
func Fill(n int, b Bit) Bitstring {
	return fill(n, b)
}

func fill(n int, b Bit) Bitstring {
	if n <= 0 {
		panic(fmt.Sprintf("bitlattice: bitstring length must be positive, got %d", n))
	}
	out := make(Bitstring, n)
	for i := range out {
		out[i] = b
	}
	return out
}

func mustNotBeEmpty(bs Bitstring) {
	if len(bs) == 0 {
		panic("bitlattice: empty bitstring")
	}
}

// IsConstant reports whether bs carries no U bit. X bits read as zero.
func IsConstant(bs Bitstring) bool {
	for _, b := range bs {
		if b == U {
			return false
		}
	}
	return true
}

// IsStrictConstant reports whether every bit of bs is ZERO or ONE.
func IsStrictConstant(bs Bitstring) bool {
	for _, b := range bs {
		if !b.IsConcrete() {
			return false
		}
	}
	return true
}

// IsAllU reports whether bs carries no information at all.
func IsAllU(bs Bitstring) bool {
	for _, b := range bs {
		if b != U {
			return false
		}
	}
	return true
}

// SignExtend pads bs on the MSB side up to n bits. The pad is the leading
// bit when signed or when the leading bit is X, and ZERO otherwise. A
// bitstring already n bits or longer is returned as a copy.
func SignExtend(bs Bitstring, signed bool, n int) Bitstring {
	if n <= 0 {
		panic("bitlattice: cannot sign extend to length 0")
	}
	if len(bs) == 0 {
		bs = Bitstring{X}
	}
	if len(bs) >= n {
		return bs.Clone()
	}
	pad := Zero
	if signed || bs[0] == X {
		pad = bs[0]
	}
	out := make(Bitstring, n)
	k := n - len(bs)
	for i := 0; i < k; i++ {
		out[i] = pad
	}
	copy(out[k:], bs)
	return out
}

// SignReduce drops leading bits that the implicit extension would restore.
func SignReduce(bs Bitstring, signed bool) Bitstring {
	mustNotBeEmpty(bs)
	i := 0
	for len(bs)-i > 1 {
		lead, next := bs[i], bs[i+1]
		if signed {
			if lead != U && lead == next {
				i++
				continue
			}
			break
		}
		if (lead == X && next == X) || (lead == Zero && next != X) {
			i++
			continue
		}
		break
	}
	return bs[i:].Clone()
}

// Truncate keeps the n least significant bits of bs.
func Truncate(bs Bitstring, n int) Bitstring {
	if n <= 0 {
		panic("bitlattice: cannot truncate to length 0")
	}
	if len(bs) <= n {
		return bs.Clone()
	}
	return bs[len(bs)-n:].Clone()
}

// TrailingCount counts the least significant bits for which pred holds.
func TrailingCount(bs Bitstring, pred func(Bit) bool) int {
	n := 0
	for i := len(bs) - 1; i >= 0 && pred(bs[i]); i-- {
		n++
	}
	return n
}

// Inf merges two bitstrings describing the same value of the given type.
// Disagreements become X and U is the identity, so the result is at least
// as precise as both operands. Used to fold a new round into best.
func Inf(a, b Bitstring, size int, signed, isBool bool) Bitstring {
	mustNotBeEmpty(a)
	mustNotBeEmpty(b)
	if size <= 0 {
		panic("bitlattice: size can not be zero")
	}
	if isBool {
		return Bitstring{InfBit(a.Back(), b.Back())}
	}
	longer, shorter := a, b
	if len(a) < len(b) {
		longer, shorter = b, a
	}
	longer = SignExtend(Truncate(longer, size), signed, size)
	shorter = SignExtend(Truncate(shorter, size), signed, size)
	res := make(Bitstring, size)
	for i := range res {
		res[i] = InfBit(longer[i], shorter[i])
	}
	res = SignReduce(res, signed)
	if signed {
		aSignX := a[0] == X
		bSignX := b[0] == X
		var finalSize int
		switch {
		case aSignX == bSignX:
			finalSize = minInt(len(a), len(b))
		case aSignX:
			finalSize = len(a)
		default:
			finalSize = len(b)
		}
		finalSize = minInt(size, finalSize)
		sign := res[0]
		if len(res) > finalSize {
			res = res[len(res)-finalSize:]
		}
		if sign != X && res[0] == X {
			res[0] = sign
		}
		return res
	}
	finalSize := minInt(size, minInt(len(a), len(b)))
	for len(res) > finalSize {
		if res[0] != Zero || (len(res) > 1 && res[1] != X) {
			res = res[1:]
			continue
		}
		break
	}
	return res
}

// Sup is the dual of Inf: disagreements become U and X is the identity.
// It combines the requirements of several uses, or the values reaching a
// control-flow merge.
func Sup(a, b Bitstring, size int, signed, isBool bool) Bitstring {
	if len(a) == 0 && len(b) == 0 {
		panic("bitlattice: sup of two empty bitstrings")
	}
	if size <= 0 {
		panic("bitlattice: size can not be zero")
	}
	if len(a) == 0 {
		a = Bitstring{X}
	}
	if len(b) == 0 {
		b = Bitstring{X}
	}
	if isBool {
		return Bitstring{SupBit(a.Back(), b.Back())}
	}
	ra := SignReduce(a, signed)
	rb := SignReduce(b, signed)
	if len(ra) < len(rb) {
		ra, rb = rb, ra
	}
	rb = SignExtend(rb, signed, len(ra))
	res := make(Bitstring, len(ra))
	for i := range res {
		res[i] = SupBit(ra[i], rb[i])
	}
	res = SignReduce(res, signed)
	if len(res) > size {
		res = res[len(res)-size:]
	}
	return res
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
