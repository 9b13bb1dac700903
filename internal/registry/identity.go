package registry

import (
	"context"
	"errors"
)

// IssueRequest carries the inputs of an issuance.
type IssueRequest struct {
	Handle string
	Name   string
	URI    string
	HexID  HexID
	// Mint is the pre-minted identity token the caller controls.
	Mint Address
}

// Issue creates a new identity owned by caller and charges the bonding-curve
// fee, priced on the agent count before the increment.
//
// Validation is fail-fast in this order: mint vanity constraint, handle
// format, handle uniqueness, one active identity per owner.
func (s *Service) Issue(ctx context.Context, caller Address, req IssueRequest) (*Identity, error) {
	if !s.policy.ValidMint(req.Mint) {
		return nil, ErrInvalidMintAddress
	}
	if !s.policy.ValidHandle(req.Handle) {
		return nil, ErrInvalidHandleFormat
	}
	var out *Identity
	err := s.update(ctx, "issue", caller, func(t *txn) error {
		reg, err := t.Registry()
		if err != nil {
			return err
		}
		if _, err := t.Identity(req.Handle); err == nil {
			return ErrDuplicateKey
		} else if !errors.Is(err, ErrIdentityNotFound) {
			return err
		}
		if err := ensureNoActiveIdentity(t, caller); err != nil {
			return err
		}

		fee := s.policy.Fee(reg.TotalAgents)
		if err := t.Transfer(caller, reg.Vault, AssetNative, fee); err != nil {
			return err
		}

		id := &Identity{
			Handle:             req.Handle,
			Version:            1,
			SchemaVersion:      CurrentSchemaVersion,
			Owner:              caller,
			Mint:               req.Mint,
			Name:               req.Name,
			HexID:              req.HexID,
			Score:              0,
			Tier:               DeadzoneTier,
			IsActive:           true,
			URI:                req.URI,
			LastClaimTimestamp: t.now,
			CreatedAt:          t.now,
			SNS:                map[string]string{},
		}
		if err := t.CreateIdentity(id); err != nil {
			return err
		}
		next := reg.WithAgentIssued()
		if err := t.PutRegistry(&next); err != nil {
			return err
		}
		out = id
		return t.emit(Event{Type: EventIdentityIssued, Actor: caller, Handle: id.Handle, Amount: fee})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func ensureNoActiveIdentity(tx Tx, owner Address) error {
	_, err := tx.IdentityByOwner(owner)
	switch {
	case err == nil:
		return ErrIdentityExists
	case errors.Is(err, ErrIdentityNotFound):
		return nil
	default:
		return err
	}
}

// ReissueRequest names the key and token that control the new version.
type ReissueRequest struct {
	NewOwner Address
	NewMint  Address
}

// Reissue deactivates the current version of handle and writes the next
// version controlled by NewOwner. Only admins may reissue. Handle, hex id,
// score, tier and metadata carry over unchanged; the claim timestamp resets
// and the record is migrated to the current schema. A new owner starts with
// an empty private vault and no public data.
func (s *Service) Reissue(ctx context.Context, caller Address, handle string, req ReissueRequest) (*Identity, error) {
	var out *Identity
	err := s.update(ctx, "reissue", caller, func(t *txn) error {
		reg, err := requireAdmin(t, caller)
		if err != nil {
			return err
		}
		if _, err := ParseAddress(string(req.NewOwner)); err != nil {
			return err
		}
		if !s.policy.ValidMint(req.NewMint) {
			return ErrInvalidMintAddress
		}
		cur, err := t.Identity(handle)
		if err != nil {
			return err
		}
		if !cur.IsActive {
			return ErrInactiveIdentity
		}
		if req.NewOwner != cur.Owner {
			if err := ensureNoActiveIdentity(t, req.NewOwner); err != nil {
				return err
			}
		}
		if s.policy.ReissueFee > 0 {
			if err := t.Transfer(caller, reg.Vault, AssetNative, s.policy.ReissueFee); err != nil {
				return err
			}
		}

		next := cur.Clone()
		next.Version = cur.Version + 1
		next.SchemaVersion = CurrentSchemaVersion
		next.Owner = req.NewOwner
		next.Mint = req.NewMint
		next.IsActive = true
		next.LastClaimTimestamp = t.now
		next.CreatedAt = t.now
		if next.Owner != cur.Owner {
			// Owner data stays with the key that wrote it.
			next.PrivateVault = nil
			next.PublicData = ""
		}

		cur.IsActive = false
		if err := t.PutIdentity(cur); err != nil {
			return err
		}
		if err := t.CreateIdentity(next); err != nil {
			return err
		}
		out = next
		return t.emit(Event{
			Type:   EventIdentityReissued,
			Actor:  caller,
			Handle: handle,
			Target: req.NewOwner,
			Amount: s.policy.ReissueFee,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StatusUpdate sets an identity's score and tier, and optionally its URI.
type StatusUpdate struct {
	Score uint64
	Tier  uint8
	URI   *string
}

// UpdateStatus applies an admin score and tier change. The aggregate total
// moves by the difference in the same transaction.
func (s *Service) UpdateStatus(ctx context.Context, caller Address, handle string, u StatusUpdate) (*Identity, error) {
	var out *Identity
	err := s.update(ctx, "update_status", caller, func(t *txn) error {
		reg, err := requireAdmin(t, caller)
		if err != nil {
			return err
		}
		if u.Tier < MinTier || u.Tier > MaxTier {
			return ErrInvalidTier
		}
		id, err := t.Identity(handle)
		if err != nil {
			return err
		}
		if !id.IsActive {
			return ErrInactiveIdentity
		}
		next := reg.WithScoreChange(id.Score, u.Score)
		id.Score = u.Score
		id.Tier = u.Tier
		if u.URI != nil {
			id.URI = *u.URI
		}
		if err := t.PutIdentity(id); err != nil {
			return err
		}
		if err := t.PutRegistry(&next); err != nil {
			return err
		}
		out = id
		return t.emit(Event{Type: EventStatusUpdated, Actor: caller, Handle: handle, Score: id.Score, Tier: id.Tier})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AssignTier sets an identity's tier and URI without touching its score.
// Ranking jobs use it so a concurrent peer action is never overwritten.
func (s *Service) AssignTier(ctx context.Context, caller Address, handle string, tier uint8, uri string) (*Identity, error) {
	var out *Identity
	err := s.update(ctx, "assign_tier", caller, func(t *txn) error {
		if _, err := requireAdmin(t, caller); err != nil {
			return err
		}
		if tier < MinTier || tier > MaxTier {
			return ErrInvalidTier
		}
		id, err := t.Identity(handle)
		if err != nil {
			return err
		}
		if !id.IsActive {
			return ErrInactiveIdentity
		}
		id.Tier = tier
		id.URI = uri
		if err := t.PutIdentity(id); err != nil {
			return err
		}
		out = id
		return t.emit(Event{Type: EventStatusUpdated, Actor: caller, Handle: handle, Score: id.Score, Tier: tier})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SNSUpdate links or unlinks an external platform handle. Bonus score points
// are granted only when a platform is linked for the first time; relinking
// or changing the handle on a linked platform grants nothing.
type SNSUpdate struct {
	Handle         string
	Platform       string
	ExternalHandle string
	Remove         bool
	Bonus          uint64
}

// UpdateSNS applies an admin SNS change. Removing an absent platform is not
// an error. External handles are not required to be unique across
// identities.
func (s *Service) UpdateSNS(ctx context.Context, caller Address, u SNSUpdate) (*Identity, error) {
	var out *Identity
	err := s.update(ctx, "update_sns", caller, func(t *txn) error {
		reg, err := requireAdmin(t, caller)
		if err != nil {
			return err
		}
		if !s.policy.SupportsPlatform(u.Platform) {
			return ErrUnsupportedPlatform
		}
		id, err := t.Identity(u.Handle)
		if err != nil {
			return err
		}
		if !id.IsActive {
			return ErrInactiveIdentity
		}
		if id.SNS == nil {
			id.SNS = map[string]string{}
		}
		if u.Remove {
			delete(id.SNS, u.Platform)
		} else {
			_, linked := id.SNS[u.Platform]
			id.SNS[u.Platform] = u.ExternalHandle
			if u.Bonus > 0 && !linked {
				old := id.Score
				id.Score = saturatingAdd(id.Score, u.Bonus)
				next := reg.WithScoreChange(old, id.Score)
				if err := t.PutRegistry(&next); err != nil {
					return err
				}
			}
		}
		if err := t.PutIdentity(id); err != nil {
			return err
		}
		out = id
		return t.emit(Event{Type: EventSNSUpdated, Actor: caller, Handle: u.Handle, Score: id.Score})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdatePrivateData replaces the owner's private vault blob.
func (s *Service) UpdatePrivateData(ctx context.Context, caller Address, handle string, blob []byte) error {
	return s.update(ctx, "update_private_data", caller, func(t *txn) error {
		id, err := ownedIdentity(t, caller, handle)
		if err != nil {
			return err
		}
		id.PrivateVault = append([]byte(nil), blob...)
		if err := t.PutIdentity(id); err != nil {
			return err
		}
		return t.emit(Event{Type: EventPrivateDataUpdated, Actor: caller, Handle: handle})
	})
}

// UpdatePublicData replaces the owner-controlled public data string.
func (s *Service) UpdatePublicData(ctx context.Context, caller Address, handle, data string) error {
	return s.update(ctx, "update_public_data", caller, func(t *txn) error {
		id, err := ownedIdentity(t, caller, handle)
		if err != nil {
			return err
		}
		id.PublicData = data
		if err := t.PutIdentity(id); err != nil {
			return err
		}
		return t.emit(Event{Type: EventPublicDataUpdated, Actor: caller, Handle: handle})
	})
}

// ownedIdentity loads the latest version of handle and checks caller owns it.
func ownedIdentity(tx Tx, caller Address, handle string) (*Identity, error) {
	id, err := tx.Identity(handle)
	if err != nil {
		return nil, err
	}
	if id.Owner != caller {
		return nil, ErrUnauthorized
	}
	return id, nil
}
