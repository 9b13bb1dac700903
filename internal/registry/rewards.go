package registry

import (
	"context"
	"errors"
)

// ClaimRewards pays the fixed reward amount from the pool to the identity
// owner. The transfer out of the vault is authorized by the registry's
// derived address, never by the caller.
func (s *Service) ClaimRewards(ctx context.Context, caller Address, handle string) (uint64, error) {
	amount := s.policy.RewardAmount
	err := s.update(ctx, "claim_rewards", caller, func(t *txn) error {
		reg, err := t.Registry()
		if err != nil {
			return err
		}
		id, err := ownedIdentity(t, caller, handle)
		if err != nil {
			return err
		}
		if !id.IsActive {
			return ErrInactiveIdentity
		}
		if id.Tier >= DeadzoneTier {
			return ErrTierNotEligible
		}
		if id.Score < reg.MinScoreThreshold {
			return ErrScoreTooLow
		}
		if cd := int64(s.policy.ClaimCooldown.Seconds()); cd > 0 && t.now-id.LastClaimTimestamp < cd {
			return ErrClaimCooldown
		}
		if err := t.Transfer(reg.Vault, caller, reg.RewardAsset(), amount); err != nil {
			if errors.Is(err, ErrInsufficientFunds) {
				return ErrInsufficientTokenBalance
			}
			return err
		}
		id.LastClaimTimestamp = t.now
		if err := t.PutIdentity(id); err != nil {
			return err
		}
		return t.emit(Event{Type: EventRewardsClaimed, Actor: caller, Handle: handle, Amount: amount, Tier: id.Tier})
	})
	if err != nil {
		return 0, err
	}
	return amount, nil
}
