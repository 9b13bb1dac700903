package registry

import (
	"fmt"

	"golang.org/x/crypto/sha3"
)

// WithAgentIssued returns r with one more agent counted.
func (r Registry) WithAgentIssued() Registry {
	r.TotalAgents = saturatingAdd(r.TotalAgents, 1)
	return r
}

// WithScoreChange returns r with an identity's contribution to TotalScore
// moved from old to new. The subtraction saturates at zero before the add.
func (r Registry) WithScoreChange(old, new uint64) Registry {
	r.TotalScore = saturatingAdd(saturatingSub(r.TotalScore, old), new)
	return r
}

// WithAdmins returns r with its admin set replaced.
func (r Registry) WithAdmins(admins AdminSet) Registry {
	r.Admins = admins
	return r
}

// DeriveAddress returns the program-derived address for seed:
// keccak256(seed || programID). Only the registry can move funds held by a
// derived address.
func DeriveAddress(programID, seed string) Address {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(seed))
	h.Write([]byte(programID))
	a, _ := AddressFromKey(h.Sum(nil))
	return a
}

// SumActiveScores returns the score total over active identities.
func SumActiveScores(ids []Identity) uint64 {
	var sum uint64
	for i := range ids {
		if ids[i].IsActive {
			sum = saturatingAdd(sum, ids[i].Score)
		}
	}
	return sum
}

// InvariantError reports a TotalScore that does not match the identities.
type InvariantError struct {
	TotalScore uint64
	Sum        uint64
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("registry: total score %d does not match active score sum %d", e.TotalScore, e.Sum)
}

// checkAggregate verifies TotalScore against the identity set.
func checkAggregate(r *Registry, ids []Identity) error {
	sum := SumActiveScores(ids)
	if sum != r.TotalScore {
		return &InvariantError{TotalScore: r.TotalScore, Sum: sum}
	}
	return nil
}
