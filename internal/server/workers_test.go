package server

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/ssd-technologies/nebulon/internal/registry"
)

func TestRecalculateTiers(t *testing.T) {
	env := newTestEnv(t, nil)
	env.issue(t, "@alpha", 1)
	env.issue(t, "@beta", 2)
	env.issue(t, "@gamma", 3)
	for handle, score := range map[string]uint64{"@alpha": 300, "@beta": 200, "@gamma": 100} {
		rec := env.signed(t, env.owner, http.MethodPost, "/api/identities/"+handle+"/status", map[string]any{"score": score, "tier": 10})
		if rec.Code != http.StatusOK {
			t.Fatalf("status %s: %d", handle, rec.Code)
		}
	}

	n, err := env.srv.RecalculateTiers(t.Context())
	if err != nil {
		t.Fatalf("RecalculateTiers: %v", err)
	}
	if n != 3 {
		t.Errorf("updated = %d, want 3", n)
	}

	want := map[string]struct {
		tier  uint8
		score uint64
	}{
		"@alpha": {5, 300},
		"@beta":  {7, 200},
		"@gamma": {10, 100},
	}
	for handle, w := range want {
		id, err := env.svc.Identity(t.Context(), handle)
		if err != nil {
			t.Fatalf("identity %s: %v", handle, err)
		}
		info, _ := registry.TierByID(w.tier)
		if id.Tier != w.tier || id.Score != w.score || id.URI != info.MetadataURI {
			t.Errorf("%s: tier %d score %d uri %q, want tier %d score %d uri %q",
				handle, id.Tier, id.Score, id.URI, w.tier, w.score, info.MetadataURI)
		}
	}

	// Nothing changed, nothing to apply.
	n, err = env.srv.RecalculateTiers(t.Context())
	if err != nil {
		t.Fatalf("second RecalculateTiers: %v", err)
	}
	if n != 0 {
		t.Errorf("second pass updated = %d, want 0", n)
	}
	if err := env.svc.CheckInvariant(t.Context()); err != nil {
		t.Errorf("invariant: %v", err)
	}
}

func TestRecalculateTiersRequiresAdmin(t *testing.T) {
	outsider, _ := genKey(t)
	env := newTestEnv(t, &Options{Authority: outsider})
	env.issue(t, "@alpha", 1)

	_, err := env.srv.RecalculateTiers(t.Context())
	if !errors.Is(err, registry.ErrUnauthorized) {
		t.Fatalf("RecalculateTiers error = %v, want %v", err, registry.ErrUnauthorized)
	}
}

func TestAudit(t *testing.T) {
	env := newTestEnv(t, nil)
	env.issue(t, "@alpha", 1)
	rec := env.signed(t, env.owner, http.MethodPost, "/api/identities/@alpha/status", map[string]any{"score": 42, "tier": 3})
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}

	if err := env.srv.Audit(t.Context()); err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if got := testutil.ToFloat64(registryGauges.WithLabelValues("total_score")); got != 42 {
		t.Errorf("total_score gauge = %v, want 42", got)
	}
	if got := testutil.ToFloat64(registryGauges.WithLabelValues("vault_native")); got != 10_000_000 {
		t.Errorf("vault_native gauge = %v, want 10000000", got)
	}
}

func TestAuditBeforeInit(t *testing.T) {
	env := newUninitializedEnv(t, nil)
	if err := env.srv.Audit(t.Context()); !errors.Is(err, registry.ErrNotInitialized) {
		t.Fatalf("Audit error = %v, want %v", err, registry.ErrNotInitialized)
	}
}

func TestStartWorkersStopOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreDB)

	env := newTestEnv(t, &Options{
		RateLimit:     60,
		TierInterval:  10 * time.Millisecond,
		AuditInterval: 10 * time.Millisecond,
	})
	env.issue(t, "@alpha", 1)

	ctx, cancel := context.WithCancel(context.Background())
	env.srv.StartWorkers(ctx)

	// The tier worker assigns @alpha its metadata URI on its first pass.
	info, _ := registry.TierByID(registry.DeadzoneTier)
	deadline := time.Now().Add(5 * time.Second)
	for {
		id, err := env.svc.Identity(context.Background(), "@alpha")
		if err != nil {
			t.Fatalf("identity: %v", err)
		}
		if id.URI == info.MetadataURI {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("tier worker never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	env.srv.Close()
}
