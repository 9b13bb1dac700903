package registry

import "math/bits"

// Fee is the issuance price for the next identity given the current agent
// count: min(base + increment*n, cap), saturating.
func (p Policy) Fee(totalAgents uint64) uint64 {
	return bondingFee(p.FeeBase, p.FeeIncrement, p.FeeCap, totalAgents)
}

func bondingFee(base, increment, cap, n uint64) uint64 {
	fee := saturatingAdd(base, saturatingMul(increment, n))
	if fee > cap {
		return cap
	}
	return fee
}

func saturatingAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return ^uint64(0)
	}
	return sum
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

func saturatingMul(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return ^uint64(0)
	}
	return lo
}
