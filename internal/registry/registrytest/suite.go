package registrytest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssd-technologies/nebulon/internal/registry"
)

// Run exercises a Store implementation through the registry Service.
func Run(t *testing.T, open Factory) {
	tests := []struct {
		name string
		fn   func(*testing.T, Factory)
	}{
		{"Initialize", testInitialize},
		{"IssueBondingFee", testIssueBondingFee},
		{"IssueFlatFee", testIssueFlatFee},
		{"IssueDuplicateHandle", testIssueDuplicateHandle},
		{"IssueValidation", testIssueValidation},
		{"IssueInsufficientFunds", testIssueInsufficientFunds},
		{"AdminSet", testAdminSet},
		{"NonAdminRejected", testNonAdminRejected},
		{"UpdateStatus", testUpdateStatus},
		{"AssignTier", testAssignTier},
		{"Reissue", testReissue},
		{"ReissueToHolder", testReissueToHolder},
		{"UpdateSNS", testUpdateSNS},
		{"OwnerData", testOwnerData},
		{"RecommendReport", testRecommendReport},
		{"ReportSaturates", testReportSaturates},
		{"ProofModes", testProofModes},
		{"PeerActionFunds", testPeerActionFunds},
		{"ClaimRewards", testClaimRewards},
		{"ClaimEmptyPool", testClaimEmptyPool},
		{"WithdrawCurrency", testWithdrawCurrency},
		{"WithdrawTokens", testWithdrawTokens},
		{"Events", testEvents},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) { tt.fn(t, open) })
	}
}

func testInitialize(t *testing.T, open Factory) {
	f := Uninitialized(t, open)

	_, err := f.Service.Registry(f.Ctx)
	require.ErrorIs(t, err, registry.ErrNotInitialized)
	_, err = f.Service.Issue(f.Ctx, Key(2), registry.IssueRequest{Handle: "@a", Mint: Key(3)})
	require.ErrorIs(t, err, registry.ErrNotInitialized)

	reg, err := f.Service.Initialize(f.Ctx, f.Owner, registry.InitParams{RewardToken: f.Token, MinScoreThreshold: 7})
	require.NoError(t, err)
	assert.Equal(t, f.Owner, reg.Owner)
	assert.True(t, reg.Admins.Contains(f.Owner))
	assert.Equal(t, 1, reg.Admins.Len())
	assert.Equal(t, f.Service.VaultAddress(), reg.Vault)
	assert.Equal(t, uint64(7), reg.MinScoreThreshold)
	assert.Equal(t, registry.CurrentSchemaVersion, reg.SchemaVersion)

	_, err = f.Service.Initialize(f.Ctx, Key(2), registry.InitParams{RewardToken: f.Token})
	require.ErrorIs(t, err, registry.ErrAlreadyInitialized)

	snap, err := f.Service.Registry(f.Ctx)
	require.NoError(t, err)
	assert.Equal(t, f.Owner, snap.Registry.Owner)
	assert.Equal(t, uint64(10_000_000), snap.IssuanceFee)
}

func testIssueBondingFee(t *testing.T, open Factory) {
	f := NewFixture(t, open, 0)
	want := []uint64{10_000_000, 10_100_000, 10_200_000}
	var total uint64
	for i, fee := range want {
		got, err := f.Service.Fee(f.Ctx)
		require.NoError(t, err)
		require.Equal(t, fee, got, "fee before agent %d", i)

		owner := Key(10 + i)
		id := f.Issue(owner, []string{"@alpha", "@beta", "@gamma"}[i], byte(i+1))
		total += fee
		assert.Equal(t, uint32(1), id.Version)
		assert.Equal(t, uint8(registry.DeadzoneTier), id.Tier)
		assert.Zero(t, id.Score)
		assert.True(t, id.IsActive)
		assert.Zero(t, f.NativeBalance(owner))
	}

	snap, err := f.Service.Registry(f.Ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), snap.Registry.TotalAgents)
	assert.Equal(t, total, snap.VaultNative)
	assert.Equal(t, uint64(10_300_000), snap.IssuanceFee)
	f.AssertInvariant()
}

func testIssueFlatFee(t *testing.T, open Factory) {
	f := NewFixture(t, open, 0, registry.WithPolicy(registry.FlatFeePolicy()))
	for i := 0; i < 3; i++ {
		fee, err := f.Service.Fee(f.Ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(10_000_000), fee)
		f.Issue(Key(10+i), []string{"@a", "@b", "@c"}[i], byte(i+1))
	}

	require.ErrorIs(t, f.Service.AddAdmin(f.Ctx, f.Owner, Key(2)), registry.ErrAdminLimitReached)
}

func testIssueDuplicateHandle(t *testing.T, open Factory) {
	f := NewFixture(t, open, 0)
	f.Issue(Key(10), "@nebu", 1)

	other := Key(11)
	f.Fund(other, 50_000_000, 0)
	before := f.Capture(other, f.Service.VaultAddress())

	_, err := f.Service.Issue(f.Ctx, other, registry.IssueRequest{Handle: "@nebu", HexID: HexIDOf(2), Mint: Key(0x2000)})
	require.ErrorIs(t, err, registry.ErrDuplicateKey)
	assert.Equal(t, registry.KindValidation, registry.KindOf(err))

	f.RequireUnchanged(before, other, f.Service.VaultAddress())
}

func testIssueValidation(t *testing.T, open Factory) {
	p := registry.DefaultPolicy()
	p.MintSuffix = "CAFE"
	p.MaxHandleLength = 8
	f := NewFixture(t, open, 0, registry.WithPolicy(p))
	caller := Key(10)
	f.Fund(caller, 100_000_000, 0)
	vanity := Key(0xcafe)

	tests := []struct {
		name string
		req  registry.IssueRequest
		want error
	}{
		{"mint without suffix", registry.IssueRequest{Handle: "@ok", Mint: Key(0x1234)}, registry.ErrInvalidMintAddress},
		{"mint not an address", registry.IssueRequest{Handle: "@ok", Mint: "xyz"}, registry.ErrInvalidMintAddress},
		{"bad mint reported before bad handle", registry.IssueRequest{Handle: "bad", Mint: Key(0x1234)}, registry.ErrInvalidMintAddress},
		{"missing sentinel", registry.IssueRequest{Handle: "ok", Mint: vanity}, registry.ErrInvalidHandleFormat},
		{"sentinel only", registry.IssueRequest{Handle: "@", Mint: vanity}, registry.ErrInvalidHandleFormat},
		{"uppercase", registry.IssueRequest{Handle: "@Ok", Mint: vanity}, registry.ErrInvalidHandleFormat},
		{"punctuation", registry.IssueRequest{Handle: "@o_k", Mint: vanity}, registry.ErrInvalidHandleFormat},
		{"too long", registry.IssueRequest{Handle: "@abcdefgh", Mint: vanity}, registry.ErrInvalidHandleFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Service.Issue(f.Ctx, caller, tt.req)
			require.ErrorIs(t, err, tt.want)
		})
	}

	id, err := f.Service.Issue(f.Ctx, caller, registry.IssueRequest{Handle: "@abcdefg", HexID: HexIDOf(1), Mint: vanity})
	require.NoError(t, err)
	assert.Equal(t, "@abcdefg", id.Handle)

	_, err = f.Service.Issue(f.Ctx, caller, registry.IssueRequest{Handle: "@second", HexID: HexIDOf(2), Mint: vanity})
	require.ErrorIs(t, err, registry.ErrIdentityExists)
}

func testIssueInsufficientFunds(t *testing.T, open Factory) {
	f := NewFixture(t, open, 0)
	poor := Key(10)
	f.Fund(poor, 9_999_999, 0)
	before := f.Capture(poor)

	_, err := f.Service.Issue(f.Ctx, poor, registry.IssueRequest{Handle: "@poor", HexID: HexIDOf(1), Mint: Key(0x2000)})
	require.ErrorIs(t, err, registry.ErrInsufficientFunds)
	assert.Equal(t, registry.KindResource, registry.KindOf(err))
	f.RequireUnchanged(before, poor)
}

func testAdminSet(t *testing.T, open Factory) {
	f := NewFixture(t, open, 0)

	require.ErrorIs(t, f.Service.AddAdmin(f.Ctx, Key(2), Key(3)), registry.ErrUnauthorized)
	require.ErrorIs(t, f.Service.AddAdmin(f.Ctx, f.Owner, f.Owner), registry.ErrAdminAlreadyExists)

	for i := 2; i <= registry.MaxAdmins; i++ {
		require.NoError(t, f.Service.AddAdmin(f.Ctx, f.Owner, Key(i)))
	}
	err := f.Service.AddAdmin(f.Ctx, f.Owner, Key(99))
	require.ErrorIs(t, err, registry.ErrAdminLimitReached)

	// Admins other than the owner cannot manage the set.
	require.ErrorIs(t, f.Service.RemoveAdmin(f.Ctx, Key(2), Key(3)), registry.ErrUnauthorized)

	require.ErrorIs(t, f.Service.RemoveAdmin(f.Ctx, f.Owner, f.Owner), registry.ErrCannotRemoveOwner)
	require.ErrorIs(t, f.Service.RemoveAdmin(f.Ctx, f.Owner, Key(99)), registry.ErrAdminNotFound)
	require.NoError(t, f.Service.RemoveAdmin(f.Ctx, f.Owner, Key(5)))
	require.NoError(t, f.Service.AddAdmin(f.Ctx, f.Owner, Key(99)))

	snap, err := f.Service.Registry(f.Ctx)
	require.NoError(t, err)
	assert.Equal(t, registry.MaxAdmins, snap.Registry.Admins.Len())
	assert.False(t, snap.Registry.Admins.Contains(Key(5)))
	assert.True(t, snap.Registry.Admins.Contains(Key(99)))
	assert.True(t, snap.Registry.Admins.Contains(f.Owner))
}

func testNonAdminRejected(t *testing.T, open Factory) {
	f := NewFixture(t, open, 0)
	holder := Key(10)
	f.Issue(holder, "@held", 1)
	f.SetStatus("@held", 40, 5)
	f.Fund(f.Service.VaultAddress(), 0, 10_000)

	stranger := Key(66)
	f.Fund(stranger, 100_000_000, 0)
	watch := []registry.Address{stranger, holder, f.Service.VaultAddress()}
	before := f.Capture(watch...)
	uri := "https://evil.example"

	calls := map[string]func() error{
		"update_status": func() error {
			_, err := f.Service.UpdateStatus(f.Ctx, stranger, "@held", registry.StatusUpdate{Score: 1, Tier: 1, URI: &uri})
			return err
		},
		"update_sns": func() error {
			_, err := f.Service.UpdateSNS(f.Ctx, stranger, registry.SNSUpdate{Handle: "@held", Platform: "moltx", ExternalHandle: "x"})
			return err
		},
		"reissue": func() error {
			_, err := f.Service.Reissue(f.Ctx, stranger, "@held", registry.ReissueRequest{NewOwner: stranger, NewMint: Key(0x3000)})
			return err
		},
		"withdraw_currency": func() error { return f.Service.WithdrawCurrency(f.Ctx, stranger, 1) },
		"withdraw_tokens":   func() error { return f.Service.WithdrawTokens(f.Ctx, stranger, 1) },
		"add_admin":         func() error { return f.Service.AddAdmin(f.Ctx, stranger, stranger) },
		"remove_admin":      func() error { return f.Service.RemoveAdmin(f.Ctx, stranger, f.Owner) },
		"private_data":      func() error { return f.Service.UpdatePrivateData(f.Ctx, stranger, "@held", []byte("x")) },
		"public_data":       func() error { return f.Service.UpdatePublicData(f.Ctx, stranger, "@held", "x") },
		"claim": func() error {
			_, err := f.Service.ClaimRewards(f.Ctx, stranger, "@held")
			return err
		},
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			err := call()
			require.ErrorIs(t, err, registry.ErrUnauthorized)
			assert.Equal(t, registry.KindAuthorization, registry.KindOf(err))
			f.RequireUnchanged(before, watch...)
		})
	}
}

func testUpdateStatus(t *testing.T, open Factory) {
	f := NewFixture(t, open, 0)
	f.Issue(Key(10), "@one", 1)
	f.Issue(Key(11), "@two", 2)

	f.SetStatus("@one", 100, 3)
	f.AssertInvariant()
	f.SetStatus("@two", 250, 2)
	f.AssertInvariant()
	f.SetStatus("@one", 30, 6)
	f.AssertInvariant()

	snap, err := f.Service.Registry(f.Ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(280), snap.Registry.TotalScore)

	uri := "ipfs://tier2"
	id, err := f.Service.UpdateStatus(f.Ctx, f.Owner, "@two", registry.StatusUpdate{Score: 250, Tier: 2, URI: &uri})
	require.NoError(t, err)
	assert.Equal(t, uri, id.URI)

	for _, tier := range []uint8{0, 11} {
		_, err := f.Service.UpdateStatus(f.Ctx, f.Owner, "@one", registry.StatusUpdate{Score: 1, Tier: tier})
		require.ErrorIs(t, err, registry.ErrInvalidTier)
	}
	_, err = f.Service.UpdateStatus(f.Ctx, f.Owner, "@missing", registry.StatusUpdate{Score: 1, Tier: 1})
	require.ErrorIs(t, err, registry.ErrIdentityNotFound)
	assert.Equal(t, registry.KindNotFound, registry.KindOf(err))
}

func testAssignTier(t *testing.T, open Factory) {
	f := NewFixture(t, open, 0)
	f.Issue(Key(10), "@one", 1)
	f.SetStatus("@one", 77, 4)

	id, err := f.Service.AssignTier(f.Ctx, f.Owner, "@one", 2, "ipfs://tier2")
	require.NoError(t, err)
	assert.Equal(t, uint8(2), id.Tier)
	assert.Equal(t, uint64(77), id.Score)
	assert.Equal(t, "ipfs://tier2", id.URI)
	f.AssertInvariant()

	_, err = f.Service.AssignTier(f.Ctx, f.Owner, "@one", 11, "")
	require.ErrorIs(t, err, registry.ErrInvalidTier)
	_, err = f.Service.AssignTier(f.Ctx, Key(10), "@one", 1, "")
	require.ErrorIs(t, err, registry.ErrUnauthorized)
	_, err = f.Service.AssignTier(f.Ctx, f.Owner, "@missing", 1, "")
	require.ErrorIs(t, err, registry.ErrIdentityNotFound)

	got, err := f.Service.Identity(f.Ctx, "@one")
	require.NoError(t, err)
	assert.Equal(t, uint8(2), got.Tier)
}

func testReissue(t *testing.T, open Factory) {
	f := NewFixture(t, open, 0)
	oldOwner, newOwner := Key(10), Key(11)
	orig := f.Issue(oldOwner, "@lineage", 7)
	f.SetStatus("@lineage", 120, 4)
	require.NoError(t, f.Service.UpdatePrivateData(f.Ctx, oldOwner, "@lineage", []byte("old owner secret")))
	require.NoError(t, f.Service.UpdatePublicData(f.Ctx, oldOwner, "@lineage", "old bio"))

	_, err := f.Service.Reissue(f.Ctx, f.Owner, "@lineage", registry.ReissueRequest{NewOwner: newOwner, NewMint: Key(0x3000)})
	require.ErrorIs(t, err, registry.ErrInsufficientFunds)

	f.Fund(f.Owner, 5_000_000, 0)
	vaultBefore := f.NativeBalance(f.Service.VaultAddress())
	f.Clock.Advance(time.Hour)

	next, err := f.Service.Reissue(f.Ctx, f.Owner, "@lineage", registry.ReissueRequest{NewOwner: newOwner, NewMint: Key(0x3000)})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), next.Version)
	assert.Equal(t, orig.Handle, next.Handle)
	assert.Equal(t, orig.HexID, next.HexID)
	assert.Equal(t, newOwner, next.Owner)
	assert.Equal(t, Key(0x3000), next.Mint)
	assert.Equal(t, uint64(120), next.Score)
	assert.Equal(t, uint8(4), next.Tier)
	assert.True(t, next.IsActive)
	assert.Equal(t, f.Clock.Now().Unix(), next.LastClaimTimestamp)
	assert.Empty(t, next.PrivateVault, "private vault must not pass to a new owner")
	assert.Empty(t, next.PublicData)

	prev, err := f.Service.IdentityVersion(f.Ctx, "@lineage", 1)
	require.NoError(t, err)
	assert.False(t, prev.IsActive)
	assert.Equal(t, oldOwner, prev.Owner)

	latest, err := f.Service.Identity(f.Ctx, "@lineage")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), latest.Version)

	_, err = f.Service.IdentityByOwner(f.Ctx, oldOwner)
	require.ErrorIs(t, err, registry.ErrIdentityNotFound)
	byOwner, err := f.Service.IdentityByOwner(f.Ctx, newOwner)
	require.NoError(t, err)
	assert.Equal(t, "@lineage", byOwner.Handle)

	snap, err := f.Service.Registry(f.Ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Registry.TotalAgents)
	assert.Equal(t, vaultBefore+5_000_000, snap.VaultNative)
	f.AssertInvariant()

	ids, err := f.Service.Identities(f.Ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, uint32(2), ids[0].Version)

	// The retired owner may now issue a fresh identity.
	f.Issue(oldOwner, "@fresh", 8)
}

func testReissueToHolder(t *testing.T, open Factory) {
	f := NewFixture(t, open, 0, registry.WithPolicy(zeroReissueFee()))
	f.Issue(Key(10), "@first", 1)
	f.Issue(Key(11), "@second", 2)
	require.NoError(t, f.Service.UpdatePrivateData(f.Ctx, Key(10), "@first", []byte("kept")))

	_, err := f.Service.Reissue(f.Ctx, f.Owner, "@first", registry.ReissueRequest{NewOwner: Key(11), NewMint: Key(0x3000)})
	require.ErrorIs(t, err, registry.ErrIdentityExists)

	// Rotating the mint for the same owner is allowed.
	next, err := f.Service.Reissue(f.Ctx, f.Owner, "@first", registry.ReissueRequest{NewOwner: Key(10), NewMint: Key(0x3001)})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), next.Version)
	byOwner, err := f.Service.IdentityByOwner(f.Ctx, Key(10))
	require.NoError(t, err)
	assert.Equal(t, uint32(2), byOwner.Version)
	assert.Equal(t, []byte("kept"), byOwner.PrivateVault, "same owner keeps the vault")
}

func zeroReissueFee() registry.Policy {
	p := registry.DefaultPolicy()
	p.ReissueFee = 0
	return p
}

func testUpdateSNS(t *testing.T, open Factory) {
	f := NewFixture(t, open, 0)
	f.Issue(Key(10), "@social", 1)

	_, err := f.Service.UpdateSNS(f.Ctx, f.Owner, registry.SNSUpdate{Handle: "@social", Platform: "myspace", ExternalHandle: "x"})
	require.ErrorIs(t, err, registry.ErrUnsupportedPlatform)

	id, err := f.Service.UpdateSNS(f.Ctx, f.Owner, registry.SNSUpdate{Handle: "@social", Platform: "moltbook", ExternalHandle: "social_mb", Bonus: 5})
	require.NoError(t, err)
	assert.Equal(t, "social_mb", id.SNS["moltbook"])
	assert.Equal(t, uint64(5), id.Score)
	f.AssertInvariant()

	// Only the first link on a platform earns the bonus.
	id, err = f.Service.UpdateSNS(f.Ctx, f.Owner, registry.SNSUpdate{Handle: "@social", Platform: "moltbook", ExternalHandle: "social_mb", Bonus: 5})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), id.Score)
	id, err = f.Service.UpdateSNS(f.Ctx, f.Owner, registry.SNSUpdate{Handle: "@social", Platform: "moltbook", ExternalHandle: "renamed_mb", Bonus: 5})
	require.NoError(t, err)
	assert.Equal(t, "renamed_mb", id.SNS["moltbook"])
	assert.Equal(t, uint64(5), id.Score)
	f.AssertInvariant()

	_, err = f.Service.UpdateSNS(f.Ctx, f.Owner, registry.SNSUpdate{Handle: "@social", Platform: "moltx", Remove: true})
	require.NoError(t, err, "removing an absent link is not an error")

	id, err = f.Service.UpdateSNS(f.Ctx, f.Owner, registry.SNSUpdate{Handle: "@social", Platform: "moltbook", Remove: true})
	require.NoError(t, err)
	assert.NotContains(t, id.SNS, "moltbook")
	assert.Equal(t, uint64(5), id.Score)

	stored, err := f.Service.Identity(f.Ctx, "@social")
	require.NoError(t, err)
	assert.Empty(t, stored.SNS)
}

func testOwnerData(t *testing.T, open Factory) {
	f := NewFixture(t, open, 0)
	owner := Key(10)
	f.Issue(owner, "@data", 1)

	require.NoError(t, f.Service.UpdatePrivateData(f.Ctx, owner, "@data", []byte{0xde, 0xad}))
	require.NoError(t, f.Service.UpdatePublicData(f.Ctx, owner, "@data", `{"bio":"hi"}`))
	require.ErrorIs(t, f.Service.UpdatePublicData(f.Ctx, f.Owner, "@data", "x"), registry.ErrUnauthorized)

	id, err := f.Service.Identity(f.Ctx, "@data")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad}, id.PrivateVault)
	assert.Equal(t, `{"bio":"hi"}`, id.PublicData)
}

func testRecommendReport(t *testing.T, open Factory) {
	f := NewFixture(t, open, 0)
	target, actor := Key(10), Key(11)
	f.Issue(target, "@target", 1)
	f.Fund(actor, 0, 1_000)
	vault := f.Service.VaultAddress()

	proof := registry.Proof{Target: target, Mode: registry.ProofHandle, Handle: "@target"}
	id, err := f.Service.Recommend(f.Ctx, actor, proof)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), id.Score)
	assert.Equal(t, uint64(1), id.Recommendations)
	assert.Equal(t, uint64(900), f.TokenBalance(actor))
	assert.Equal(t, uint64(100), f.TokenBalance(vault))
	f.AssertInvariant()

	id, err = f.Service.Report(f.Ctx, actor, proof)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id.Score, "report floors at zero")
	assert.Equal(t, uint64(1), id.Reports)
	assert.Equal(t, uint64(850), f.TokenBalance(actor))
	assert.Equal(t, uint64(150), f.TokenBalance(vault))
	f.AssertInvariant()

	_, err = f.Service.Recommend(f.Ctx, target, proof)
	require.ErrorIs(t, err, registry.ErrSelfAction)

	_, err = f.Service.Recommend(f.Ctx, actor, registry.Proof{Target: Key(77), Mode: registry.ProofHandle, Handle: "@target"})
	require.ErrorIs(t, err, registry.ErrIdentityNotFound)
}

func testReportSaturates(t *testing.T, open Factory) {
	p := registry.DefaultPolicy()
	p.ReportDelta = 200
	f := NewFixture(t, open, 0, registry.WithPolicy(p))
	target, actor := Key(10), Key(11)
	f.Issue(target, "@sat", 1)
	f.SetStatus("@sat", 50, 5)
	f.Fund(actor, 0, 1_000)

	id, err := f.Service.Report(f.Ctx, actor, registry.Proof{Target: target, Mode: registry.ProofHexID, HexID: HexIDOf(1)})
	require.NoError(t, err)
	assert.Zero(t, id.Score)

	snap, err := f.Service.Registry(f.Ctx)
	require.NoError(t, err)
	assert.Zero(t, snap.Registry.TotalScore)
	f.AssertInvariant()
}

func testProofModes(t *testing.T, open Factory) {
	f := NewFixture(t, open, 0)
	target, actor := Key(10), Key(11)
	f.Issue(target, "@proof", 0x42)
	_, err := f.Service.UpdateSNS(f.Ctx, f.Owner, registry.SNSUpdate{Handle: "@proof", Platform: "moltx", ExternalHandle: "proof_x"})
	require.NoError(t, err)
	f.Fund(actor, 0, 10_000)

	first := HexIDOf(0x42)
	first[0] ^= 1
	last := HexIDOf(0x42)
	last[registry.HexIDSize-1] ^= 0x80

	tests := []struct {
		name  string
		proof registry.Proof
		want  error
	}{
		{"handle", registry.Proof{Mode: registry.ProofHandle, Handle: "@proof"}, nil},
		{"handle mismatch", registry.Proof{Mode: registry.ProofHandle, Handle: "@proo"}, registry.ErrHandleMismatch},
		{"hex id", registry.Proof{Mode: registry.ProofHexID, HexID: HexIDOf(0x42)}, nil},
		{"hex id first byte", registry.Proof{Mode: registry.ProofHexID, HexID: first}, registry.ErrHexIDMismatch},
		{"hex id last byte", registry.Proof{Mode: registry.ProofHexID, HexID: last}, registry.ErrHexIDMismatch},
		{"sns", registry.Proof{Mode: registry.ProofSNS, Platform: "moltx", ExternalHandle: "proof_x"}, nil},
		{"sns unlinked platform", registry.Proof{Mode: registry.ProofSNS, Platform: "moltbook", ExternalHandle: "proof_x"}, registry.ErrSNSNotFound},
		{"sns mismatch", registry.Proof{Mode: registry.ProofSNS, Platform: "moltx", ExternalHandle: "someone"}, registry.ErrSNSHandleMismatch},
		{"unknown mode", registry.Proof{Mode: "telepathy"}, registry.ErrInvalidProofMode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.proof.Target = target
			before := f.Capture(actor)
			_, err := f.Service.Recommend(f.Ctx, actor, tt.proof)
			if tt.want == nil {
				require.NoError(t, err)
				f.AssertInvariant()
				return
			}
			require.ErrorIs(t, err, tt.want)
			f.RequireUnchanged(before, actor)
		})
	}
}

func testPeerActionFunds(t *testing.T, open Factory) {
	f := NewFixture(t, open, 0)
	target, actor := Key(10), Key(11)
	f.Issue(target, "@paid", 1)
	f.Fund(actor, 0, 99)
	before := f.Capture(actor, target)

	_, err := f.Service.Recommend(f.Ctx, actor, registry.Proof{Target: target, Mode: registry.ProofHandle, Handle: "@paid"})
	require.ErrorIs(t, err, registry.ErrInsufficientFunds)
	f.RequireUnchanged(before, actor, target)

	// 99 still covers a report.
	_, err = f.Service.Report(f.Ctx, actor, registry.Proof{Target: target, Mode: registry.ProofHandle, Handle: "@paid"})
	require.NoError(t, err)
	assert.Equal(t, uint64(49), f.TokenBalance(actor))
}

func testClaimRewards(t *testing.T, open Factory) {
	f := NewFixture(t, open, 50)
	owner := Key(10)
	f.Issue(owner, "@earner", 1)
	f.Fund(f.Service.VaultAddress(), 0, 10_000)

	_, err := f.Service.ClaimRewards(f.Ctx, owner, "@earner")
	require.ErrorIs(t, err, registry.ErrTierNotEligible)

	f.SetStatus("@earner", 49, 3)
	_, err = f.Service.ClaimRewards(f.Ctx, owner, "@earner")
	require.ErrorIs(t, err, registry.ErrScoreTooLow)

	f.SetStatus("@earner", 50, 3)
	_, err = f.Service.ClaimRewards(f.Ctx, owner, "@earner")
	require.ErrorIs(t, err, registry.ErrClaimCooldown)

	f.Clock.Advance(24 * time.Hour)
	amount, err := f.Service.ClaimRewards(f.Ctx, owner, "@earner")
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), amount)
	assert.Equal(t, uint64(1_000), f.TokenBalance(owner))
	assert.Equal(t, uint64(9_000), f.TokenBalance(f.Service.VaultAddress()))

	id, err := f.Service.Identity(f.Ctx, "@earner")
	require.NoError(t, err)
	assert.Equal(t, f.Clock.Now().Unix(), id.LastClaimTimestamp)

	f.Clock.Advance(23 * time.Hour)
	_, err = f.Service.ClaimRewards(f.Ctx, owner, "@earner")
	require.ErrorIs(t, err, registry.ErrClaimCooldown)
	f.Clock.Advance(time.Hour)
	_, err = f.Service.ClaimRewards(f.Ctx, owner, "@earner")
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000), f.TokenBalance(owner))
}

func testClaimEmptyPool(t *testing.T, open Factory) {
	p := registry.DefaultPolicy()
	p.ClaimCooldown = 0
	f := NewFixture(t, open, 0, registry.WithPolicy(p))
	owner := Key(10)
	f.Issue(owner, "@broke", 1)
	f.SetStatus("@broke", 10, 1)
	f.Fund(f.Service.VaultAddress(), 0, 999)
	before := f.Capture(owner)

	_, err := f.Service.ClaimRewards(f.Ctx, owner, "@broke")
	require.ErrorIs(t, err, registry.ErrInsufficientTokenBalance)
	f.RequireUnchanged(before, owner)
}

func testWithdrawCurrency(t *testing.T, open Factory) {
	f := NewFixture(t, open, 0)
	f.Issue(Key(10), "@payer", 1)
	vault := f.Service.VaultAddress()
	available := uint64(10_000_000 - 890_880)

	require.ErrorIs(t, f.Service.WithdrawCurrency(f.Ctx, f.Owner, 0), registry.ErrInvalidAmount)
	err := f.Service.WithdrawCurrency(f.Ctx, f.Owner, available+1)
	require.ErrorIs(t, err, registry.ErrInsufficientBalance)

	require.NoError(t, f.Service.WithdrawCurrency(f.Ctx, f.Owner, available))
	assert.Equal(t, uint64(890_880), f.NativeBalance(vault))
	assert.Equal(t, available, f.NativeBalance(f.Owner))

	snap, err := f.Service.Registry(f.Ctx)
	require.NoError(t, err)
	assert.Zero(t, snap.Withdrawable)
	require.ErrorIs(t, f.Service.WithdrawCurrency(f.Ctx, f.Owner, 1), registry.ErrInsufficientBalance)

	// Any admin may withdraw, not just the owner.
	admin := Key(2)
	require.NoError(t, f.Service.AddAdmin(f.Ctx, f.Owner, admin))
	f.Issue(Key(11), "@payer2", 2)
	require.NoError(t, f.Service.WithdrawCurrency(f.Ctx, admin, 10_100_000))
	assert.Equal(t, uint64(890_880), f.NativeBalance(vault))
}

func testWithdrawTokens(t *testing.T, open Factory) {
	f := NewFixture(t, open, 0)
	vault := f.Service.VaultAddress()
	f.Fund(vault, 0, 500)

	require.ErrorIs(t, f.Service.WithdrawTokens(f.Ctx, f.Owner, 501), registry.ErrInsufficientTokenBalance)
	require.NoError(t, f.Service.WithdrawTokens(f.Ctx, f.Owner, 500))
	assert.Zero(t, f.TokenBalance(vault))
	assert.Equal(t, uint64(500), f.TokenBalance(f.Owner))
}

func testEvents(t *testing.T, open Factory) {
	f := NewFixture(t, open, 0)
	f.Issue(Key(10), "@ev", 1)
	f.SetStatus("@ev", 5, 9)

	evs, err := f.Service.Events(f.Ctx, 0, 100)
	require.NoError(t, err)
	var types []string
	for i, e := range evs {
		if i > 0 {
			require.Greater(t, e.Seq, evs[i-1].Seq)
		}
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{
		registry.EventRegistryInitialized,
		registry.EventDeposited,
		registry.EventIdentityIssued,
		registry.EventStatusUpdated,
	}, types)

	tail, err := f.Service.Events(f.Ctx, evs[1].Seq, 100)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, registry.EventIdentityIssued, tail[0].Type)
	assert.Equal(t, "@ev", tail[0].Handle)
	assert.Equal(t, uint64(10_000_000), tail[0].Amount)

	// Rejected operations append nothing.
	_, err = f.Service.UpdateStatus(f.Ctx, Key(66), "@ev", registry.StatusUpdate{Score: 1, Tier: 1})
	require.Error(t, err)
	after, err := f.Service.Events(f.Ctx, 0, 100)
	require.NoError(t, err)
	assert.Len(t, after, len(evs))
}
