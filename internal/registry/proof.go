package registry

import "crypto/subtle"

// ProofMode selects how a peer action proves knowledge of its target.
type ProofMode string

const (
	ProofHandle ProofMode = "handle"
	ProofHexID  ProofMode = "hex_id"
	ProofSNS    ProofMode = "sns"
)

// Proof names the target of a recommend or report and the evidence that the
// actor knows who the target is.
type Proof struct {
	Target         Address   `json:"target"`
	Mode           ProofMode `json:"mode"`
	Handle         string    `json:"handle,omitempty"`
	HexID          HexID     `json:"-"`
	Platform       string    `json:"platform,omitempty"`
	ExternalHandle string    `json:"external_handle,omitempty"`
}

// verify checks the proof against the target record.
func (p *Proof) verify(target *Identity) error {
	switch p.Mode {
	case ProofHandle:
		if !equalStrings(p.Handle, target.Handle) {
			return ErrHandleMismatch
		}
	case ProofHexID:
		if !EqualHexID(&p.HexID, &target.HexID) {
			return ErrHexIDMismatch
		}
	case ProofSNS:
		linked, ok := target.SNS[p.Platform]
		if !ok {
			return ErrSNSNotFound
		}
		if !equalStrings(p.ExternalHandle, linked) {
			return ErrSNSHandleMismatch
		}
	default:
		return ErrInvalidProofMode
	}
	return nil
}

// EqualHexID compares every byte of a and b in constant time.
func EqualHexID(a, b *HexID) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

func equalStrings(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
