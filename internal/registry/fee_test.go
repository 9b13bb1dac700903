package registry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFee_Examples(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		n    uint64
		want uint64
	}{
		{0, 10_000_000},
		{1, 10_100_000},
		{10, 11_000_000},
		{9_900, 1_000_000_000},
		{9_899, 999_900_000},
		{1_000_000, 1_000_000_000},
		{math.MaxUint64, 1_000_000_000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Fee(tt.n), "Fee(%d)", tt.n)
	}
}

func TestFee_Monotonic(t *testing.T) {
	p := DefaultPolicy()
	prev := p.Fee(0)
	for n := uint64(1); n < 20_000; n += 7 {
		fee := p.Fee(n)
		if fee < prev {
			t.Fatalf("Fee(%d) = %d < Fee(previous) = %d", n, fee, prev)
		}
		if fee > p.FeeCap {
			t.Fatalf("Fee(%d) = %d exceeds cap %d", n, fee, p.FeeCap)
		}
		prev = fee
	}
}

func TestFee_FlatPolicy(t *testing.T) {
	p := FlatFeePolicy()
	for _, n := range []uint64{0, 1, 500, math.MaxUint64} {
		assert.Equal(t, uint64(10_000_000), p.Fee(n))
	}
}

func TestSaturatingArithmetic(t *testing.T) {
	const max = math.MaxUint64
	assert.Equal(t, uint64(max), saturatingAdd(max, 1))
	assert.Equal(t, uint64(max), saturatingAdd(max-1, 1))
	assert.Equal(t, uint64(3), saturatingAdd(1, 2))
	assert.Equal(t, uint64(0), saturatingSub(1, 2))
	assert.Equal(t, uint64(1), saturatingSub(3, 2))
	assert.Equal(t, uint64(max), saturatingMul(max/2+1, 2))
	assert.Equal(t, uint64(6), saturatingMul(2, 3))
	assert.Equal(t, uint64(max), bondingFee(max, max, max, max))
}
