// Package token decides, per (username, provider) pair, whether to serve a
// cached access token, silently refresh it, or run a full credential exchange.
package token

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/pogodev/tokenbroker/internal/auth/guard"
	"github.com/pogodev/tokenbroker/internal/db"
	"github.com/pogodev/tokenbroker/internal/db/models"
	"github.com/pogodev/tokenbroker/internal/provider"
)

const (
	// DefaultFreshnessMargin is how much usable lifetime a cached access token
	// must have left to be served without contacting the provider.
	DefaultFreshnessMargin = 600 * time.Second

	// refreshTokenMaxAge is the age beyond which a stored refresh token is
	// presumed expired upstream and not worth attempting.
	refreshTokenMaxAge = 30 * 24 * time.Hour
)

var (
	// ErrMissingCredentials marks a request without username or password.
	ErrMissingCredentials = errors.New("missing username or password")

	// ErrUnknownProvider marks a provider name with no registered adapter.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrRefreshInProgress is returned when another refresh for the same
	// account is already in flight. Retryable.
	ErrRefreshInProgress = errors.New("refresh already in progress")
)

// Orchestrator drives the cached/refresh/full-login decision and writes
// results back through the store. The keep-alive sweep and the request handler
// share one instance so both honor the same per-account lock.
type Orchestrator struct {
	store    *db.Store
	adapters map[string]provider.Adapter
	guard    *guard.Guard

	freshnessMargin time.Duration
	now             func() time.Time
}

// New builds an orchestrator over the given adapters. A zero freshnessMargin
// selects the default.
func New(store *db.Store, adapters []provider.Adapter, g *guard.Guard, freshnessMargin time.Duration) *Orchestrator {
	if freshnessMargin <= 0 {
		freshnessMargin = DefaultFreshnessMargin
	}
	byName := make(map[string]provider.Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	return &Orchestrator{
		store:           store,
		adapters:        byName,
		guard:           g,
		freshnessMargin: freshnessMargin,
		now:             time.Now,
	}
}

// AccessToken returns a valid access token for the account, preferring the
// cached token, then a silent refresh, then a full credential exchange.
func (o *Orchestrator) AccessToken(ctx context.Context, username, providerName, password string) (string, error) {
	if username == "" || password == "" {
		return "", ErrMissingCredentials
	}
	adapter, ok := o.adapters[providerName]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, providerName)
	}

	acct, err := o.store.GetAccount(username, providerName)
	if err != nil {
		return "", err
	}
	nowUnix := o.now().Unix()

	if acct != nil && acct.AccessToken != "" && acct.AccessTokenExpiresAt > nowUnix+int64(o.freshnessMargin.Seconds()) {
		minutesLeft := (acct.AccessTokenExpiresAt - nowUnix) / 60
		log.Printf("[%s] Returning existing access token with %d minutes left", username, minutesLeft)
		return acct.AccessToken, nil
	}

	if acct != nil && adapter.SupportsRefresh() && acct.RefreshToken != "" &&
		acct.LastRefreshedAt > nowUnix-int64(refreshTokenMaxAge.Seconds()) {
		return o.RefreshAccount(ctx, acct)
	}

	return o.fullLogin(ctx, adapter, username, password)
}

// RefreshAccount runs the guarded silent-refresh step for an account that has
// a refresh token. Exactly one refresh per account may be in flight; a second
// caller gets ErrRefreshInProgress without any provider or persistence
// contact. A dead grant clears the stored refresh token before failing.
func (o *Orchestrator) RefreshAccount(ctx context.Context, acct *models.Account) (string, error) {
	adapter, ok := o.adapters[acct.Provider]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, acct.Provider)
	}
	if !adapter.SupportsRefresh() {
		return "", provider.ErrRefreshUnsupported
	}

	if !o.guard.TryLock(acct.Username, acct.Provider) {
		return "", ErrRefreshInProgress
	}
	defer o.guard.Unlock(acct.Username, acct.Provider)

	log.Printf("[%s] Trying refresh token", acct.Username)
	tokens, err := adapter.Refresh(ctx, acct.RefreshToken)
	if err != nil {
		if errors.Is(err, provider.ErrDeadGrant) {
			log.Printf("[%s] Refresh token is invalid, clearing from database", acct.Username)
			if clearErr := o.store.ClearRefreshToken(acct.Username, acct.Provider); clearErr != nil {
				return "", clearErr
			}
			return "", err
		}
		log.Printf("[%s] Unable to refresh token: %v", acct.Username, err)
		return "", err
	}

	log.Printf("[%s] Refreshed token successfully", acct.Username)
	if err := o.store.UpsertAccessToken(acct.Username, acct.Provider, tokens.AccessToken, tokens.ExpiresAt); err != nil {
		return "", err
	}
	if err := o.store.UpsertRefreshToken(acct.Username, acct.Provider, tokens.RefreshToken, o.now().Unix()); err != nil {
		return "", err
	}
	return tokens.AccessToken, nil
}

// fullLogin runs the provider's credential exchange and upserts the result.
// Not guarded: two concurrent logins for a never-seen account may race, which
// matches the handler's historical behavior.
func (o *Orchestrator) fullLogin(ctx context.Context, adapter provider.Adapter, username, password string) (string, error) {
	log.Printf("[%s] Starting full login via %s", username, adapter.Name())
	tokens, err := adapter.Login(ctx, username, password)
	if err != nil {
		log.Printf("[%s] Login failed: %v", username, err)
		return "", err
	}

	if tokens.RefreshToken != "" {
		log.Printf("[%s] Saving refresh token", username)
		if err := o.store.UpsertRefreshToken(username, adapter.Name(), tokens.RefreshToken, o.now().Unix()); err != nil {
			return "", err
		}
	}
	log.Printf("[%s] Saving access token", username)
	if err := o.store.UpsertAccessToken(username, adapter.Name(), tokens.AccessToken, tokens.ExpiresAt); err != nil {
		return "", err
	}
	return tokens.AccessToken, nil
}
