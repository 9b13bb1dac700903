package registry

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_Validate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())
	require.NoError(t, FlatFeePolicy().Validate())

	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"cap below base", func(p *Policy) { p.FeeCap = p.FeeBase - 1 }},
		{"no admins", func(p *Policy) { p.AdminLimit = 0 }},
		{"too many admins", func(p *Policy) { p.AdminLimit = MaxAdmins + 1 }},
		{"short handles", func(p *Policy) { p.MaxHandleLength = 1 }},
		{"negative cooldown", func(p *Policy) { p.ClaimCooldown = -1 }},
		{"non-hex suffix", func(p *Policy) { p.MintSuffix = "NEBU" }},
		{"uppercase platform", func(p *Policy) { p.Platforms = []string{"MoltX"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestPolicy_ValidHandle(t *testing.T) {
	p := DefaultPolicy()
	valid := []string{"@a", "@agent007", "@" + strings.Repeat("z", 59)}
	invalid := []string{"", "@", "a", "@A", "@a-b", "@a b", "@é", "@" + strings.Repeat("z", 60)}
	for _, h := range valid {
		assert.True(t, p.ValidHandle(h), "%q should be valid", h)
	}
	for _, h := range invalid {
		assert.False(t, p.ValidHandle(h), "%q should be invalid", h)
	}
}

func TestPolicy_ValidMint(t *testing.T) {
	p := DefaultPolicy()
	assert.True(t, p.ValidMint(addr(5)))
	assert.False(t, p.ValidMint("not-an-address"))

	p.MintSuffix = "BEEF"
	assert.True(t, p.ValidMint(addr(0xbeef)))
	assert.False(t, p.ValidMint(addr(0xbee0)))
}

func TestParseAddress(t *testing.T) {
	_, err := ParseAddress(string(addr(1)))
	require.NoError(t, err)

	for _, s := range []string{"", "00", strings.ToUpper(string(addr(0xab))), strings.Repeat("g", 64)} {
		_, err := ParseAddress(s)
		assert.ErrorIs(t, err, ErrInvalidAddress, "%q", s)
	}
}

func TestHexID_RoundTrip(t *testing.T) {
	var id HexID
	id[0], id[HexIDSize-1] = 0xab, 0xcd
	raw, err := json.Marshal(id)
	require.NoError(t, err)

	var got HexID
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, id, got)

	parsed, err := ParseHexID("0x" + id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseHexID("abcd")
	assert.ErrorIs(t, err, ErrInvalidHexID)
}

func TestParseAsset(t *testing.T) {
	a, err := ParseAsset("native")
	require.NoError(t, err)
	assert.Equal(t, AssetNative, a)

	a, err = ParseAsset("token:" + string(addr(3)))
	require.NoError(t, err)
	assert.Equal(t, TokenAsset(addr(3)), a)

	_, err = ParseAsset("gold")
	assert.Error(t, err)
}

func TestErrorKinds(t *testing.T) {
	assert.Equal(t, KindAuthorization, KindOf(ErrUnauthorized))
	assert.Equal(t, KindNotFound, KindOf(ErrIdentityNotFound))
	assert.Equal(t, "ClaimCooldown", CodeOf(ErrClaimCooldown))

	wrapped := errors.Join(errors.New("context"), ErrInsufficientBalance)
	assert.Equal(t, KindResource, KindOf(wrapped))
	assert.Equal(t, KindUnknown, KindOf(errors.New("disk on fire")))
}

func TestCheckAggregate(t *testing.T) {
	ids := []Identity{
		{Score: 10, IsActive: true},
		{Score: 99, IsActive: false},
		{Score: 5, IsActive: true},
	}
	require.NoError(t, checkAggregate(&Registry{TotalScore: 15}, ids))

	err := checkAggregate(&Registry{TotalScore: 114}, ids)
	var ie *InvariantError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, uint64(15), ie.Sum)
}

func TestWithScoreChange(t *testing.T) {
	r := Registry{TotalScore: 100}
	r = r.WithScoreChange(40, 70)
	assert.Equal(t, uint64(130), r.TotalScore)
	r = r.WithScoreChange(200, 0)
	assert.Zero(t, r.TotalScore, "subtraction saturates")
}

func TestDeriveAddress(t *testing.T) {
	a := DeriveAddress(DefaultProgramID, "vault")
	_, err := ParseAddress(string(a))
	require.NoError(t, err)
	assert.Equal(t, a, DeriveAddress(DefaultProgramID, "vault"))
	assert.NotEqual(t, a, DeriveAddress("other-program", "vault"))
}
