package registry

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(n int) Address {
	return Address(fmt.Sprintf("%064x", n))
}

func TestAdminSet_OwnerAlwaysMember(t *testing.T) {
	s := NewAdminSet(addr(1), MaxAdmins)
	assert.True(t, s.Contains(addr(1)))
	assert.Equal(t, 1, s.Len())

	_, err := s.Remove(addr(1))
	assert.ErrorIs(t, err, ErrCannotRemoveOwner)
}

func TestAdminSet_Capacity(t *testing.T) {
	s := NewAdminSet(addr(1), MaxAdmins)
	var err error
	for i := 2; i <= MaxAdmins; i++ {
		s, err = s.Insert(addr(i))
		require.NoError(t, err)
	}
	assert.Equal(t, MaxAdmins, s.Len())

	full := s
	_, err = s.Insert(addr(11))
	assert.ErrorIs(t, err, ErrAdminLimitReached)
	assert.Equal(t, full.Members(), s.Members())
}

func TestAdminSet_InsertRemove(t *testing.T) {
	s := NewAdminSet(addr(1), 3)
	s2, err := s.Insert(addr(2))
	require.NoError(t, err)
	assert.False(t, s.Contains(addr(2)), "receiver must not change")
	assert.True(t, s2.Contains(addr(2)))

	_, err = s2.Insert(addr(2))
	assert.ErrorIs(t, err, ErrAdminAlreadyExists)

	_, err = s2.Remove(addr(9))
	assert.ErrorIs(t, err, ErrAdminNotFound)

	s3, err := s2.Remove(addr(2))
	require.NoError(t, err)
	assert.False(t, s3.Contains(addr(2)))
	assert.True(t, s2.Contains(addr(2)), "receiver must not change")
}

func TestAdminSet_LimitClamped(t *testing.T) {
	assert.Equal(t, MaxAdmins, NewAdminSet(addr(1), 0).Limit())
	assert.Equal(t, MaxAdmins, NewAdminSet(addr(1), 50).Limit())
	assert.Equal(t, 1, NewAdminSet(addr(1), 1).Limit())
}

func TestAdminSet_JSON(t *testing.T) {
	s := NewAdminSet(addr(1), 4)
	s, _ = s.Insert(addr(2))
	s, _ = s.Insert(addr(3))

	raw, err := json.Marshal(s)
	require.NoError(t, err)
	var got AdminSet
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, s.Owner(), got.Owner())
	assert.Equal(t, s.Members(), got.Members())
	assert.Equal(t, 4, got.Limit())
}

func TestAdminSet_JSONRejectsOverfull(t *testing.T) {
	members := make([]Address, 0, 12)
	for i := 1; i <= 12; i++ {
		members = append(members, addr(i))
	}
	raw, err := json.Marshal(adminSetJSON{Owner: addr(1), Members: members, Limit: MaxAdmins})
	require.NoError(t, err)

	var got AdminSet
	err = json.Unmarshal(raw, &got)
	assert.ErrorIs(t, err, ErrAdminLimitReached)
}
