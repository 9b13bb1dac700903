package registry

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// DefaultProgramID seeds derived addresses when none is configured.
const DefaultProgramID = "nebulon-sbt-identity"

// Service executes registry operations against a Store. The Service holds no
// state of its own; every call is one Store transaction.
type Service struct {
	store     Store
	policy    Policy
	clock     Clock
	log       *zap.Logger
	programID string
	notify    func([]Event)
}

// Option configures a Service.
type Option func(*Service)

// WithPolicy sets the deployment policy.
func WithPolicy(p Policy) Option { return func(s *Service) { s.policy = p } }

// WithClock sets the timestamp source.
func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

// WithProgramID sets the seed used for derived addresses.
func WithProgramID(id string) Option { return func(s *Service) { s.programID = id } }

// WithNotifier registers fn to receive the events of each committed
// transaction. fn runs after commit on the calling goroutine.
func WithNotifier(fn func([]Event)) Option { return func(s *Service) { s.notify = fn } }

// New returns a Service over store.
func New(store Store, opts ...Option) (*Service, error) {
	s := &Service{
		store:     store,
		policy:    DefaultPolicy(),
		clock:     SystemClock(),
		log:       zap.NewNop(),
		programID: DefaultProgramID,
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.policy.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Policy returns the deployment policy.
func (s *Service) Policy() Policy { return s.policy }

// VaultAddress returns the derived address that holds the pool.
func (s *Service) VaultAddress() Address {
	return DeriveAddress(s.programID, "vault")
}

// txn collects the events appended during one transaction.
type txn struct {
	Tx
	now    int64
	events []Event
}

func (t *txn) emit(e Event) error {
	e.At = t.now
	if err := t.AppendEvent(&e); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	t.events = append(t.events, e)
	return nil
}

// update runs fn in one write transaction, logs the outcome and delivers
// events after commit.
func (s *Service) update(ctx context.Context, op string, caller Address, fn func(*txn) error) error {
	var events []Event
	err := s.store.Update(ctx, func(tx Tx) error {
		t := &txn{Tx: tx, now: s.clock.Now().Unix()}
		if err := fn(t); err != nil {
			return err
		}
		events = t.events
		return nil
	})
	if err != nil {
		var rerr *Error
		if errors.As(err, &rerr) {
			s.log.Debug("operation rejected",
				zap.String("op", op),
				zap.String("caller", caller.Short()),
				zap.String("code", rerr.Code))
		} else {
			s.log.Error("operation failed",
				zap.String("op", op),
				zap.String("caller", caller.Short()),
				zap.Error(err))
		}
		return err
	}
	s.log.Info("operation committed",
		zap.String("op", op),
		zap.String("caller", caller.Short()),
		zap.Int("events", len(events)))
	if s.notify != nil && len(events) > 0 {
		s.notify(events)
	}
	return nil
}

// requireAdmin loads the registry and checks caller against the admin set.
func requireAdmin(tx Tx, caller Address) (*Registry, error) {
	reg, err := tx.Registry()
	if err != nil {
		return nil, err
	}
	if !reg.Admins.Contains(caller) {
		return nil, ErrUnauthorized
	}
	return reg, nil
}

// InitParams configures a new registry.
type InitParams struct {
	RewardToken       Address
	MinScoreThreshold uint64
}

// Initialize creates the registry with caller as owner and sole admin.
func (s *Service) Initialize(ctx context.Context, caller Address, p InitParams) (*Registry, error) {
	if _, err := ParseAddress(string(caller)); err != nil {
		return nil, err
	}
	if _, err := ParseAddress(string(p.RewardToken)); err != nil {
		return nil, err
	}
	var out *Registry
	err := s.update(ctx, "initialize", caller, func(t *txn) error {
		reg := &Registry{
			SchemaVersion:     CurrentSchemaVersion,
			Owner:             caller,
			Admins:            NewAdminSet(caller, s.policy.AdminLimit),
			RewardToken:       p.RewardToken,
			Vault:             s.VaultAddress(),
			MinScoreThreshold: p.MinScoreThreshold,
			CreatedAt:         t.now,
		}
		if err := t.CreateRegistry(reg); err != nil {
			return err
		}
		out = reg
		return t.emit(Event{Type: EventRegistryInitialized, Actor: caller})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddAdmin adds candidate to the admin set. Only the owner may call it.
func (s *Service) AddAdmin(ctx context.Context, caller, candidate Address) error {
	if _, err := ParseAddress(string(candidate)); err != nil {
		return err
	}
	return s.update(ctx, "add_admin", caller, func(t *txn) error {
		reg, err := t.Registry()
		if err != nil {
			return err
		}
		if caller != reg.Owner {
			return ErrUnauthorized
		}
		admins, err := reg.Admins.Insert(candidate)
		if err != nil {
			return err
		}
		next := reg.WithAdmins(admins)
		if err := t.PutRegistry(&next); err != nil {
			return err
		}
		return t.emit(Event{Type: EventAdminAdded, Actor: caller, Target: candidate})
	})
}

// RemoveAdmin removes target from the admin set. Only the owner may call it
// and the owner itself can never be removed.
func (s *Service) RemoveAdmin(ctx context.Context, caller, target Address) error {
	return s.update(ctx, "remove_admin", caller, func(t *txn) error {
		reg, err := t.Registry()
		if err != nil {
			return err
		}
		if caller != reg.Owner {
			return ErrUnauthorized
		}
		admins, err := reg.Admins.Remove(target)
		if err != nil {
			return err
		}
		next := reg.WithAdmins(admins)
		if err := t.PutRegistry(&next); err != nil {
			return err
		}
		return t.emit(Event{Type: EventAdminRemoved, Actor: caller, Target: target})
	})
}

// Deposit credits units arriving from the external token system. Callers
// must authenticate the operator before invoking it.
func (s *Service) Deposit(ctx context.Context, to Address, asset Asset, amount uint64) error {
	if _, err := ParseAddress(string(to)); err != nil {
		return err
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	return s.update(ctx, "deposit", to, func(t *txn) error {
		if err := t.Mint(to, asset, amount); err != nil {
			return err
		}
		return t.emit(Event{Type: EventDeposited, Actor: to, Amount: amount})
	})
}

// Snapshot is a consistent view of the aggregate and pool balances.
type Snapshot struct {
	Registry     Registry `json:"registry"`
	VaultNative  uint64   `json:"vault_native"`
	VaultTokens  uint64   `json:"vault_tokens"`
	IssuanceFee  uint64   `json:"issuance_fee"`
	Withdrawable uint64   `json:"withdrawable"`
}

// Registry returns the aggregate with pool balances and the current fee.
func (s *Service) Registry(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	err := s.store.View(ctx, func(tx Tx) error {
		reg, err := tx.Registry()
		if err != nil {
			return err
		}
		native, err := tx.Balance(reg.Vault, AssetNative)
		if err != nil {
			return err
		}
		tokens, err := tx.Balance(reg.Vault, reg.RewardAsset())
		if err != nil {
			return err
		}
		snap = Snapshot{
			Registry:     *reg,
			VaultNative:  native,
			VaultTokens:  tokens,
			IssuanceFee:  s.policy.Fee(reg.TotalAgents),
			Withdrawable: saturatingSub(native, s.policy.MinRetainedBalance),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// Fee returns the issuance fee the next identity will pay.
func (s *Service) Fee(ctx context.Context) (uint64, error) {
	var fee uint64
	err := s.store.View(ctx, func(tx Tx) error {
		reg, err := tx.Registry()
		if err != nil {
			return err
		}
		fee = s.policy.Fee(reg.TotalAgents)
		return nil
	})
	return fee, err
}

// Identity returns the latest version of the lineage for handle.
func (s *Service) Identity(ctx context.Context, handle string) (*Identity, error) {
	var out *Identity
	err := s.store.View(ctx, func(tx Tx) error {
		id, err := tx.Identity(handle)
		out = id
		return err
	})
	return out, err
}

// IdentityVersion returns one version of the lineage for handle.
func (s *Service) IdentityVersion(ctx context.Context, handle string, version uint32) (*Identity, error) {
	var out *Identity
	err := s.store.View(ctx, func(tx Tx) error {
		id, err := tx.IdentityVersion(handle, version)
		out = id
		return err
	})
	return out, err
}

// IdentityByOwner returns the active identity held by owner.
func (s *Service) IdentityByOwner(ctx context.Context, owner Address) (*Identity, error) {
	var out *Identity
	err := s.store.View(ctx, func(tx Tx) error {
		id, err := tx.IdentityByOwner(owner)
		out = id
		return err
	})
	return out, err
}

// Identities returns the latest version of every lineage.
func (s *Service) Identities(ctx context.Context) ([]Identity, error) {
	var out []Identity
	err := s.store.View(ctx, func(tx Tx) error {
		ids, err := tx.Identities()
		out = ids
		return err
	})
	return out, err
}

// Balance returns the balance of owner in asset.
func (s *Service) Balance(ctx context.Context, owner Address, asset Asset) (uint64, error) {
	var out uint64
	err := s.store.View(ctx, func(tx Tx) error {
		b, err := tx.Balance(owner, asset)
		out = b
		return err
	})
	return out, err
}

// Events returns committed events after seq.
func (s *Service) Events(ctx context.Context, after uint64, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	var out []Event
	err := s.store.View(ctx, func(tx Tx) error {
		evs, err := tx.Events(after, limit)
		out = evs
		return err
	})
	return out, err
}

// CheckInvariant verifies that TotalScore equals the sum of active scores.
func (s *Service) CheckInvariant(ctx context.Context) error {
	return s.store.View(ctx, func(tx Tx) error {
		reg, err := tx.Registry()
		if err != nil {
			return err
		}
		ids, err := tx.Identities()
		if err != nil {
			return err
		}
		return checkAggregate(reg, ids)
	})
}
