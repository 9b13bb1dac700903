package registry

import (
	"encoding/json"
	"fmt"
)

// MaxAdmins is the capacity of an AdminSet.
const MaxAdmins = 10

// AdminSet is a fixed-capacity set of admin addresses rooted at an owner that
// is always a member. Contains, Insert and Remove are the only operations.
type AdminSet struct {
	owner   Address
	members []Address
	limit   int
}

// NewAdminSet returns a set holding only owner. limit caps the set size and
// is clamped to [1, MaxAdmins].
func NewAdminSet(owner Address, limit int) AdminSet {
	if limit <= 0 || limit > MaxAdmins {
		limit = MaxAdmins
	}
	return AdminSet{owner: owner, members: []Address{owner}, limit: limit}
}

// Owner returns the non-removable member.
func (s AdminSet) Owner() Address { return s.owner }

// Len returns the number of members.
func (s AdminSet) Len() int { return len(s.members) }

// Limit returns the capacity of the set.
func (s AdminSet) Limit() int { return s.limit }

// Members returns a copy of the members in insertion order.
func (s AdminSet) Members() []Address {
	return append([]Address(nil), s.members...)
}

// Contains reports whether a is a member.
func (s AdminSet) Contains(a Address) bool {
	for _, m := range s.members {
		if m == a {
			return true
		}
	}
	return false
}

// Insert returns a set with a added. The receiver is left unchanged.
func (s AdminSet) Insert(a Address) (AdminSet, error) {
	if len(s.members) >= s.limit {
		return s, ErrAdminLimitReached
	}
	if s.Contains(a) {
		return s, ErrAdminAlreadyExists
	}
	out := s
	out.members = append(s.Members(), a)
	return out, nil
}

// Remove returns a set without a. The receiver is left unchanged.
func (s AdminSet) Remove(a Address) (AdminSet, error) {
	if a == s.owner {
		return s, ErrCannotRemoveOwner
	}
	for i, m := range s.members {
		if m != a {
			continue
		}
		out := s
		out.members = make([]Address, 0, len(s.members)-1)
		out.members = append(out.members, s.members[:i]...)
		out.members = append(out.members, s.members[i+1:]...)
		return out, nil
	}
	return s, ErrAdminNotFound
}

type adminSetJSON struct {
	Owner   Address   `json:"owner"`
	Members []Address `json:"members"`
	Limit   int       `json:"limit"`
}

// MarshalJSON encodes the set with its owner and capacity.
func (s AdminSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(adminSetJSON{Owner: s.owner, Members: s.members, Limit: s.limit})
}

// UnmarshalJSON decodes a set and rejects encodings that break the owner or
// capacity invariants.
func (s *AdminSet) UnmarshalJSON(data []byte) error {
	var raw adminSetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("admin set: %w", err)
	}
	out := NewAdminSet(raw.Owner, raw.Limit)
	for _, m := range raw.Members {
		if m == raw.Owner {
			continue
		}
		var err error
		if out, err = out.Insert(m); err != nil {
			return fmt.Errorf("admin set: member %s: %w", m.Short(), err)
		}
	}
	*s = out
	return nil
}
