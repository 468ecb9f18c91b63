package token

import (
	"context"
	"testing"
	"time"

	"github.com/pogodev/tokenbroker/internal/auth/guard"
	"github.com/pogodev/tokenbroker/internal/db/models"
	"github.com/pogodev/tokenbroker/internal/provider"
)

func TestSweep_RefreshWindow(t *testing.T) {
	ptc := &fakeAdapter{
		name:          models.ProviderPTC,
		refreshable:   true,
		refreshTokens: &provider.Tokens{AccessToken: "at", RefreshToken: "rt", ExpiresAt: time.Now().Unix() + 7200},
	}
	orch, store := newTestOrchestrator(t, ptc)
	now := orch.now().Unix()

	seed := []struct {
		username string
		ageDays  int64
		token    string
	}{
		{"alice", 10, "rt-alice"},   // in (5, 30): refreshed
		{"young", 2, "rt-young"},    // not due yet
		{"ancient", 40, "rt-ancient"}, // presumed dead, left alone
		{"edge", 30, "rt-edge"},     // 30 is outside the open window
	}
	for _, s := range seed {
		if err := store.UpsertRefreshToken(s.username, models.ProviderPTC, s.token, now-s.ageDays*day); err != nil {
			t.Fatalf("seed %s: %v", s.username, err)
		}
	}

	sched := NewScheduler(orch, store, time.Minute, 10, 0, 5)
	sched.sweep(context.Background())

	if ptc.refreshCalls.Load() != 1 {
		t.Fatalf("expected exactly one refresh, got %d", ptc.refreshCalls.Load())
	}
	if len(ptc.seenRefreshTokens) != 1 || ptc.seenRefreshTokens[0] != "rt-alice" {
		t.Fatalf("expected only alice's token to be refreshed, saw %v", ptc.seenRefreshTokens)
	}
}

func TestSweep_HonorsBatchSize(t *testing.T) {
	ptc := &fakeAdapter{
		name:          models.ProviderPTC,
		refreshable:   true,
		refreshTokens: &provider.Tokens{AccessToken: "at", RefreshToken: "rt", ExpiresAt: time.Now().Unix() + 7200},
	}
	orch, store := newTestOrchestrator(t, ptc)
	now := orch.now().Unix()

	// Oldest first: u3 (12d), u2 (11d), u1 (10d).
	for i, age := range []int64{10, 11, 12} {
		username := []string{"u1", "u2", "u3"}[i]
		if err := store.UpsertRefreshToken(username, models.ProviderPTC, "rt-"+username, now-age*day); err != nil {
			t.Fatalf("seed %s: %v", username, err)
		}
	}

	sched := NewScheduler(orch, store, time.Minute, 2, 0, 5)
	sched.sweep(context.Background())

	if ptc.refreshCalls.Load() != 2 {
		t.Fatalf("expected batch of 2, got %d", ptc.refreshCalls.Load())
	}
	if ptc.seenRefreshTokens[0] != "rt-u3" || ptc.seenRefreshTokens[1] != "rt-u2" {
		t.Fatalf("expected oldest-first order, saw %v", ptc.seenRefreshTokens)
	}
}

func TestSweep_DropsContendedAccountSilently(t *testing.T) {
	ptc := &fakeAdapter{
		name:          models.ProviderPTC,
		refreshable:   true,
		refreshTokens: &provider.Tokens{AccessToken: "at", RefreshToken: "rt", ExpiresAt: time.Now().Unix() + 7200},
	}
	g := guard.New()
	store := newTestStore(t)
	orch := New(store, []provider.Adapter{ptc}, g, 0)
	now := orch.now().Unix()

	if err := store.UpsertRefreshToken("alice", models.ProviderPTC, "rt-alice", now-10*day); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.UpsertRefreshToken("bob", models.ProviderPTC, "rt-bob", now-9*day); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Simulate a user-triggered refresh holding alice's lock.
	if !g.TryLock("alice", models.ProviderPTC) {
		t.Fatal("lock alice")
	}

	sched := NewScheduler(orch, store, time.Minute, 10, 0, 5)
	sched.sweep(context.Background())

	if ptc.refreshCalls.Load() != 1 {
		t.Fatalf("expected only bob to be refreshed, got %d calls", ptc.refreshCalls.Load())
	}
	if ptc.seenRefreshTokens[0] != "rt-bob" {
		t.Fatalf("expected bob's token, saw %v", ptc.seenRefreshTokens)
	}
}

func TestTick_SkipsOverlappingSweep(t *testing.T) {
	orch, store := newTestOrchestrator(t, &fakeAdapter{name: models.ProviderPTC, refreshable: true})
	sched := NewScheduler(orch, store, time.Minute, 10, 0, 5)

	sched.running.Store(true) // a sweep is "in flight"
	sched.tick(context.Background())
	sched.tick(context.Background())
	if got := sched.Skipped(); got != 2 {
		t.Fatalf("expected 2 skipped sweeps, got %d", got)
	}
	if !sched.running.Load() {
		t.Fatal("skipping must not clear the running flag")
	}
	sched.running.Store(false)

	// With the flag clear a tick starts a sweep and releases the flag.
	sched.tick(context.Background())
	deadline := time.After(2 * time.Second)
	for sched.running.Load() {
		select {
		case <-deadline:
			t.Fatal("sweep never finished")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	if got := sched.Skipped(); got != 2 {
		t.Fatalf("successful tick must not bump the skip counter, got %d", got)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	orch, store := newTestOrchestrator(t, &fakeAdapter{name: models.ProviderPTC, refreshable: true})
	sched := NewScheduler(orch, store, 10*time.Millisecond, 10, 0, 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
