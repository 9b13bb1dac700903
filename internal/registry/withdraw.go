package registry

import "context"

// WithdrawCurrency moves native currency from the vault to the calling admin,
// keeping MinRetainedBalance in the vault.
func (s *Service) WithdrawCurrency(ctx context.Context, caller Address, amount uint64) error {
	return s.update(ctx, "withdraw_currency", caller, func(t *txn) error {
		reg, err := requireAdmin(t, caller)
		if err != nil {
			return err
		}
		if amount == 0 {
			return ErrInvalidAmount
		}
		balance, err := t.Balance(reg.Vault, AssetNative)
		if err != nil {
			return err
		}
		available := saturatingSub(balance, s.policy.MinRetainedBalance)
		if amount > available {
			return ErrInsufficientBalance
		}
		if err := t.Transfer(reg.Vault, caller, AssetNative, amount); err != nil {
			return err
		}
		return t.emit(Event{Type: EventCurrencyWithdrawn, Actor: caller, Amount: amount})
	})
}

// WithdrawTokens moves reward tokens from the vault to the calling admin.
func (s *Service) WithdrawTokens(ctx context.Context, caller Address, amount uint64) error {
	return s.update(ctx, "withdraw_tokens", caller, func(t *txn) error {
		reg, err := requireAdmin(t, caller)
		if err != nil {
			return err
		}
		if amount == 0 {
			return ErrInvalidAmount
		}
		balance, err := t.Balance(reg.Vault, reg.RewardAsset())
		if err != nil {
			return err
		}
		if balance < amount {
			return ErrInsufficientTokenBalance
		}
		if err := t.Transfer(reg.Vault, caller, reg.RewardAsset(), amount); err != nil {
			return err
		}
		return t.emit(Event{Type: EventTokensWithdrawn, Actor: caller, Amount: amount})
	})
}
