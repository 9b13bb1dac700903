package registry

import (
	"context"
	"time"
)

// Store is the host ledger. Update runs fn in one atomic read-write
// transaction: if fn returns an error nothing it did is visible, otherwise
// all of it commits together. View runs fn against a consistent snapshot.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
}

// Tx is the keyed record and token ledger surface available inside a
// transaction. Backends return ErrNotInitialized from Registry before
// CreateRegistry, ErrIdentityNotFound for missing identities,
// ErrDuplicateKey for key conflicts and ErrInsufficientFunds from Transfer.
type Tx interface {
	Registry() (*Registry, error)
	CreateRegistry(r *Registry) error
	PutRegistry(r *Registry) error

	// Identity returns the latest version of the lineage for handle.
	Identity(handle string) (*Identity, error)
	IdentityVersion(handle string, version uint32) (*Identity, error)
	// IdentityByOwner returns the active identity owned by owner.
	IdentityByOwner(owner Address) (*Identity, error)
	// CreateIdentity inserts a new version. Version 1 fails with
	// ErrDuplicateKey when any record exists for the handle.
	CreateIdentity(id *Identity) error
	// PutIdentity overwrites an existing version.
	PutIdentity(id *Identity) error
	// Identities returns the latest version of every lineage, sorted by handle.
	Identities() ([]Identity, error)

	Balance(owner Address, asset Asset) (uint64, error)
	Transfer(from, to Address, asset Asset, amount uint64) error
	// Mint credits newly deposited units from the external token system.
	Mint(to Address, asset Asset, amount uint64) error

	// AppendEvent assigns e.Seq and persists e.
	AppendEvent(e *Event) error
	// Events returns up to limit events with Seq > after, ascending.
	Events(after uint64, limit int) ([]Event, error)
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }
