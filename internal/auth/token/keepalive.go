package token

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/pogodev/tokenbroker/internal/db"
)

// Scheduler proactively refreshes the oldest refresh tokens so they do not
// expire upstream. It shares the orchestrator's refresh path and therefore its
// per-account lock with user-triggered requests.
type Scheduler struct {
	orch  *Orchestrator
	store *db.Store

	interval        time.Duration
	batchSize       int
	perAccountSleep time.Duration
	maxAgeDays      float64 // low bound of the refresh window, in days

	running atomic.Bool
	skipped atomic.Uint64
	now     func() time.Time
}

// NewScheduler builds a sweep scheduler. maxAgeDays is the minimum age a
// refresh token must reach before the sweep bothers refreshing it; tokens at
// or past 30 days are presumed dead and left alone.
func NewScheduler(orch *Orchestrator, store *db.Store, interval time.Duration, batchSize int, perAccountSleep time.Duration, maxAgeDays float64) *Scheduler {
	return &Scheduler{
		orch:            orch,
		store:           store,
		interval:        interval,
		batchSize:       batchSize,
		perAccountSleep: perAccountSleep,
		maxAgeDays:      maxAgeDays,
		now:             time.Now,
	}
}

// Run executes sweeps on the configured interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	log.Printf("🔄 Keep-alive sweep started (interval %s, batch %d)", s.interval, s.batchSize)

	for {
		select {
		case <-ctx.Done():
			log.Printf("🔄 Keep-alive sweep stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick starts one sweep unless the previous one is still running, in which
// case the whole sweep is skipped, counted, and reported.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		n := s.skipped.Add(1)
		log.Printf("⏭️ Previous sweep still running, skipping this interval (%d skipped total)", n)
		return
	}
	go func() {
		defer s.running.Store(false)
		s.sweep(ctx)
	}()
}

// Skipped returns how many sweeps were skipped because one was still running.
func (s *Scheduler) Skipped() uint64 {
	return s.skipped.Load()
}

// sweep refreshes up to batchSize of the oldest refreshable accounts,
// sequentially, sleeping between attempts to bound the upstream call rate.
func (s *Scheduler) sweep(ctx context.Context) {
	log.Printf("Background refreshing started")
	defer log.Printf("Background refreshing ended")

	accounts, err := s.store.ListStaleAccounts(s.batchSize)
	if err != nil {
		log.Printf("⚠️ Sweep could not list accounts: %v", err)
		return
	}

	for i := range accounts {
		if ctx.Err() != nil {
			return
		}
		acct := &accounts[i]
		if acct.RefreshToken == "" {
			continue
		}
		days := float64(s.now().Unix()-acct.LastRefreshedAt) / 86400
		if days <= s.maxAgeDays || days >= 30 {
			continue
		}

		_, err := s.orch.RefreshAccount(ctx, acct)
		switch {
		case err == nil:
		case errors.Is(err, ErrRefreshInProgress):
			// A user-triggered refresh beat us to it; move on.
		default:
			log.Printf("[%s] Sweep refresh failed: %v", acct.Username, err)
		}
		sleepCtx(ctx, s.perAccountSleep)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
