package registry

import "context"

// Recommend pays the recommend fee into the pool and raises the target's
// score by the recommend delta.
func (s *Service) Recommend(ctx context.Context, caller Address, p Proof) (*Identity, error) {
	return s.peerAction(ctx, "recommend", caller, p, true)
}

// Report pays the report fee into the pool and lowers the target's score by
// the report delta, flooring at zero.
func (s *Service) Report(ctx context.Context, caller Address, p Proof) (*Identity, error) {
	return s.peerAction(ctx, "report", caller, p, false)
}

func (s *Service) peerAction(ctx context.Context, op string, caller Address, p Proof, recommend bool) (*Identity, error) {
	var out *Identity
	err := s.update(ctx, op, caller, func(t *txn) error {
		reg, err := t.Registry()
		if err != nil {
			return err
		}
		if caller == p.Target {
			return ErrSelfAction
		}
		target, err := t.IdentityByOwner(p.Target)
		if err != nil {
			return err
		}
		if !target.IsActive {
			return ErrInactiveIdentity
		}
		if err := p.verify(target); err != nil {
			return err
		}

		fee, eventType := s.policy.ReportFee, EventReported
		if recommend {
			fee, eventType = s.policy.RecommendFee, EventRecommended
		}
		if fee > 0 {
			if err := t.Transfer(caller, reg.Vault, reg.RewardAsset(), fee); err != nil {
				return err
			}
		}

		old := target.Score
		if recommend {
			target.Recommendations = saturatingAdd(target.Recommendations, 1)
			target.Score = saturatingAdd(target.Score, s.policy.RecommendDelta)
		} else {
			target.Reports = saturatingAdd(target.Reports, 1)
			target.Score = saturatingSub(target.Score, s.policy.ReportDelta)
		}
		next := reg.WithScoreChange(old, target.Score)
		if err := t.PutIdentity(target); err != nil {
			return err
		}
		if err := t.PutRegistry(&next); err != nil {
			return err
		}
		out = target
		return t.emit(Event{
			Type:   eventType,
			Actor:  caller,
			Handle: target.Handle,
			Target: target.Owner,
			Amount: fee,
			Score:  target.Score,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
