package server

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ssd-technologies/nebulon/internal/registry"
)

// limiterIdle is how long a client may stay quiet before its limiter state is
// dropped.
const limiterIdle = 10 * time.Minute

// StartWorkers launches all background goroutines. Call with a cancellable
// context for graceful shutdown; Close waits for them to exit.
func (s *Server) StartWorkers(ctx context.Context) {
	if s.authority != "" && s.opts.TierInterval > 0 {
		s.spawn(ctx, "tiers", s.opts.TierInterval, s.tierTick)
	}
	if s.opts.AuditInterval > 0 {
		s.spawn(ctx, "audit", s.opts.AuditInterval, s.auditTick)
	}
	if s.limiter != nil {
		s.spawn(ctx, "ratelimit", time.Minute, s.pruneTick)
	}
	s.spawn(ctx, "replay", time.Minute, s.replayTick)
}

// spawn runs tick every interval until ctx is canceled.
func (s *Server) spawn(ctx context.Context, name string, interval time.Duration, tick func(context.Context, *zap.Logger)) {
	log := s.log.With(zap.String("worker", name))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Debug("worker started", zap.Duration("interval", interval))
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
				tick(ctx, log)
			}
		}
	}()
}

// --- Tier Recalculation Worker ---

func (s *Server) tierTick(ctx context.Context, log *zap.Logger) {
	n, err := s.RecalculateTiers(ctx)
	if err != nil {
		log.Error("tier recalculation failed", zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("tiers recalculated", zap.Int("updated", n))
	}
}

// RecalculateTiers ranks active identities by score and applies each new
// tier with its metadata URI under the daemon's authority. Scores are left
// untouched. It returns the number of identities updated.
func (s *Server) RecalculateTiers(ctx context.Context) (int, error) {
	if s.authority == "" {
		return 0, errors.New("no authority key configured")
	}
	ids, err := s.svc.Identities(ctx)
	if err != nil {
		return 0, err
	}
	current := make(map[string]*registry.Identity, len(ids))
	for i := range ids {
		current[ids[i].Handle] = &ids[i]
	}

	updated := 0
	for _, a := range registry.RankTiers(rankEntries(ids)) {
		info, _ := registry.TierByID(a.Tier)
		id := current[a.Handle]
		if id.Tier == a.Tier && id.URI == info.MetadataURI {
			continue
		}
		_, err := s.svc.AssignTier(ctx, s.authority, a.Handle, a.Tier, info.MetadataURI)
		switch {
		case err == nil:
			updated++
			tierUpdates.Inc()
		case errors.Is(err, registry.ErrInactiveIdentity):
			// Reissued or deactivated since the listing.
		default:
			return updated, err
		}
	}
	return updated, nil
}

// --- Invariant Audit Worker ---

func (s *Server) auditTick(ctx context.Context, log *zap.Logger) {
	if err := s.Audit(ctx); err != nil {
		var inv *registry.InvariantError
		if errors.As(err, &inv) {
			log.Error("aggregate invariant violated", zap.Error(err))
			return
		}
		if !errors.Is(err, registry.ErrNotInitialized) {
			log.Error("audit failed", zap.Error(err))
		}
	}
}

// Audit checks the total score invariant and refreshes the aggregate gauges.
func (s *Server) Audit(ctx context.Context) error {
	snap, err := s.svc.Registry(ctx)
	if err != nil {
		return err
	}
	registryGauges.WithLabelValues("total_agents").Set(float64(snap.Registry.TotalAgents))
	registryGauges.WithLabelValues("total_score").Set(float64(snap.Registry.TotalScore))
	registryGauges.WithLabelValues("vault_native").Set(float64(snap.VaultNative))
	registryGauges.WithLabelValues("vault_tokens").Set(float64(snap.VaultTokens))

	if err := s.svc.CheckInvariant(ctx); err != nil {
		var inv *registry.InvariantError
		if errors.As(err, &inv) {
			invariantViolations.Inc()
		}
		return err
	}
	return nil
}

// --- Rate Limiter Pruning ---

func (s *Server) pruneTick(ctx context.Context, log *zap.Logger) {
	if n := s.limiter.Prune(limiterIdle); n > 0 {
		log.Debug("pruned idle clients", zap.Int("removed", n))
	}
}

func (s *Server) replayTick(ctx context.Context, log *zap.Logger) {
	if n := s.replay.Prune(); n > 0 {
		log.Debug("pruned expired nonces", zap.Int("removed", n), zap.Int("remaining", s.replay.Len()))
	}
}
