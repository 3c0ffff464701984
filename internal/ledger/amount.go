package ledger

import "math/bits"

// BasisPoints is the denominator of every fee and percentage in basis points.
const BasisPoints = 10_000

// MulDiv returns floor(a*b/d) without intermediate overflow. b must not exceed d.
func MulDiv(a, b, d uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	q, _ := bits.Div64(hi, lo, d)
	return q
}

// Portion returns floor(amount * bps / 10000).
func Portion(amount, bps uint64) uint64 {
	if bps > BasisPoints {
		bps = BasisPoints
	}
	return MulDiv(amount, bps, BasisPoints)
}

// Add returns a+b and false when the sum does not fit in a uint64.
func Add(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}
