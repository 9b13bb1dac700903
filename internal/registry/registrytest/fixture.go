// Package registrytest provides a backend-independent test suite for
// registry.Store implementations, plus fixtures shared by other packages'
// tests.
package registrytest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/ssd-technologies/nebulon/internal/registry"
)

// Factory opens a fresh, empty store for one test. Implementations register
// cleanup with t.
type Factory func(t *testing.T) registry.Store

// FakeClock is a settable registry.Clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a clock stopped at now.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Key returns a deterministic address for n.
func Key(n int) registry.Address {
	return registry.Address(fmt.Sprintf("%064x", n))
}

// HexIDOf returns a hex id with every byte set to b.
func HexIDOf(b byte) registry.HexID {
	var id registry.HexID
	for i := range id {
		id[i] = b
	}
	return id
}

// Fixture is an initialized registry over a fresh store.
type Fixture struct {
	T       *testing.T
	Ctx     context.Context
	Store   registry.Store
	Service *registry.Service
	Clock   *FakeClock
	Owner   registry.Address
	Token   registry.Address
}

// NewFixture opens a store, builds a Service with a fake clock and opts, and
// initializes the registry owned by Key(1) with reward token Key(0xee).
func NewFixture(t *testing.T, open Factory, minScore uint64, opts ...registry.Option) *Fixture {
	t.Helper()
	f := Uninitialized(t, open, opts...)
	_, err := f.Service.Initialize(f.Ctx, f.Owner, registry.InitParams{
		RewardToken:       f.Token,
		MinScoreThreshold: minScore,
	})
	require.NoError(t, err)
	return f
}

// Uninitialized is NewFixture without the Initialize call.
func Uninitialized(t *testing.T, open Factory, opts ...registry.Option) *Fixture {
	t.Helper()
	clock := NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := open(t)
	all := append([]registry.Option{registry.WithClock(clock)}, opts...)
	svc, err := registry.New(store, all...)
	require.NoError(t, err)
	return &Fixture{
		T:       t,
		Ctx:     context.Background(),
		Store:   store,
		Service: svc,
		Clock:   clock,
		Owner:   Key(1),
		Token:   Key(0xee),
	}
}

// Fund deposits native currency and reward tokens to a.
func (f *Fixture) Fund(a registry.Address, native, tokens uint64) {
	f.T.Helper()
	if native > 0 {
		require.NoError(f.T, f.Service.Deposit(f.Ctx, a, registry.AssetNative, native))
	}
	if tokens > 0 {
		require.NoError(f.T, f.Service.Deposit(f.Ctx, a, registry.TokenAsset(f.Token), tokens))
	}
}

// Issue funds owner with exactly the current fee and issues handle with a
// hex id derived from seed.
func (f *Fixture) Issue(owner registry.Address, handle string, seed byte) *registry.Identity {
	f.T.Helper()
	fee, err := f.Service.Fee(f.Ctx)
	require.NoError(f.T, err)
	f.Fund(owner, fee, 0)
	id, err := f.Service.Issue(f.Ctx, owner, registry.IssueRequest{
		Handle: handle,
		Name:   "agent " + handle,
		URI:    "https://example.com/" + handle,
		HexID:  HexIDOf(seed),
		Mint:   Key(0x1000 + int(seed)),
	})
	require.NoError(f.T, err)
	return id
}

// SetStatus applies an owner-signed status update.
func (f *Fixture) SetStatus(handle string, score uint64, tier uint8) {
	f.T.Helper()
	_, err := f.Service.UpdateStatus(f.Ctx, f.Owner, handle, registry.StatusUpdate{Score: score, Tier: tier})
	require.NoError(f.T, err)
}

// TokenBalance returns a's reward token balance.
func (f *Fixture) TokenBalance(a registry.Address) uint64 {
	f.T.Helper()
	b, err := f.Service.Balance(f.Ctx, a, registry.TokenAsset(f.Token))
	require.NoError(f.T, err)
	return b
}

// NativeBalance returns a's native balance.
func (f *Fixture) NativeBalance(a registry.Address) uint64 {
	f.T.Helper()
	b, err := f.Service.Balance(f.Ctx, a, registry.AssetNative)
	require.NoError(f.T, err)
	return b
}

// AssertInvariant fails the test if the aggregate total drifted.
func (f *Fixture) AssertInvariant() {
	f.T.Helper()
	require.NoError(f.T, f.Service.CheckInvariant(f.Ctx))
}

// State is everything a rejected operation must leave untouched.
type State struct {
	Snapshot   registry.Snapshot
	Identities []registry.Identity
	Events     []registry.Event
	Balances   map[registry.Address][2]uint64
}

// Capture records the current State, including balances of watch.
func (f *Fixture) Capture(watch ...registry.Address) State {
	f.T.Helper()
	snap, err := f.Service.Registry(f.Ctx)
	require.NoError(f.T, err)
	ids, err := f.Service.Identities(f.Ctx)
	require.NoError(f.T, err)
	evs, err := f.Service.Events(f.Ctx, 0, 500)
	require.NoError(f.T, err)
	bal := make(map[registry.Address][2]uint64, len(watch))
	for _, a := range watch {
		bal[a] = [2]uint64{f.NativeBalance(a), f.TokenBalance(a)}
	}
	return State{Snapshot: *snap, Identities: ids, Events: evs, Balances: bal}
}

// RequireUnchanged fails the test if the state differs from before.
func (f *Fixture) RequireUnchanged(before State, watch ...registry.Address) {
	f.T.Helper()
	after := f.Capture(watch...)
	if diff := cmp.Diff(before, after, cmp.AllowUnexported(registry.AdminSet{})); diff != "" {
		f.T.Fatalf("state changed after rejected operation (-before +after):\n%s", diff)
	}
}
