package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testTarget() *Identity {
	var hex HexID
	for i := range hex {
		hex[i] = byte(i)
	}
	return &Identity{
		Handle: "@target",
		HexID:  hex,
		SNS:    map[string]string{"moltbook": "target_mb"},
	}
}

func TestProof_HexIDSingleByte(t *testing.T) {
	target := testTarget()
	for _, pos := range []int{0, 1, HexIDSize / 2, HexIDSize - 1} {
		p := Proof{Mode: ProofHexID, HexID: target.HexID}
		assert.NoError(t, p.verify(target))

		p.HexID[pos] ^= 0xff
		assert.ErrorIs(t, p.verify(target), ErrHexIDMismatch, "byte %d", pos)
	}
}

func TestProof_Modes(t *testing.T) {
	target := testTarget()
	tests := []struct {
		name string
		p    Proof
		want error
	}{
		{"handle", Proof{Mode: ProofHandle, Handle: "@target"}, nil},
		{"handle prefix", Proof{Mode: ProofHandle, Handle: "@targe"}, ErrHandleMismatch},
		{"handle empty", Proof{Mode: ProofHandle}, ErrHandleMismatch},
		{"sns", Proof{Mode: ProofSNS, Platform: "moltbook", ExternalHandle: "target_mb"}, nil},
		{"sns missing platform", Proof{Mode: ProofSNS, Platform: "moltx", ExternalHandle: "target_mb"}, ErrSNSNotFound},
		{"sns wrong handle", Proof{Mode: ProofSNS, Platform: "moltbook", ExternalHandle: "other"}, ErrSNSHandleMismatch},
		{"no mode", Proof{}, ErrInvalidProofMode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.verify(target)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
