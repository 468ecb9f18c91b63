// Package provider implements the per-provider credential exchange and token
// refresh flows against the upstream identity systems.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// Tokens is the result of a successful login or refresh.
type Tokens struct {
	AccessToken  string
	RefreshToken string // empty when the provider does not issue one
	ExpiresAt    int64  // unix seconds
}

// Adapter is the request/response shape of one identity provider.
type Adapter interface {
	Name() string
	SupportsRefresh() bool
	// Login runs the full credential exchange for username/password.
	Login(ctx context.Context, username, password string) (*Tokens, error)
	// Refresh exchanges a refresh token for a new token set. Adapters without
	// a refresh flow return ErrRefreshUnsupported without network I/O.
	Refresh(ctx context.Context, refreshToken string) (*Tokens, error)
}

var (
	// ErrDeadGrant marks a refresh token the upstream reports as permanently
	// unusable. The caller clears the stored token and falls back to full
	// login next time.
	ErrDeadGrant = errors.New("refresh token is no longer valid")

	// ErrRefreshUnsupported is returned by providers without a refresh flow.
	ErrRefreshUnsupported = errors.New("provider does not support token refresh")
)

// UpstreamError carries a structured rejection from a login leg so the
// original provider's status and body can be propagated to the caller.
type UpstreamError struct {
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream rejected login (%d): %s", e.StatusCode, e.Body)
}

// deadGrantCodes are the upstream error codes that mean the refresh token is
// permanently dead rather than the call transiently failing.
var deadGrantCodes = []string{"invalid_grant", "token_inactive"}

// classifyRefreshError maps an oauth2 retrieve error to ErrDeadGrant when the
// upstream reports the grant as dead; everything else stays transient.
func classifyRefreshError(err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		var body struct {
			ErrorCode string `json:"error"`
		}
		if json.Unmarshal(retrieve.Body, &body) == nil && body.ErrorCode != "" {
			for _, code := range deadGrantCodes {
				if body.ErrorCode == code {
					return fmt.Errorf("%w: %s", ErrDeadGrant, body.ErrorCode)
				}
			}
			return err
		}
	}
	// Some endpoints answer with non-JSON bodies; fall back to matching the
	// code in the error text.
	msg := err.Error()
	for _, code := range deadGrantCodes {
		if strings.Contains(msg, code) {
			return fmt.Errorf("%w: %s", ErrDeadGrant, code)
		}
	}
	return err
}

// expiry converts an oauth2 token expiry to unix seconds, 0 when unset.
func expiry(tok *oauth2.Token) int64 {
	if tok.Expiry.IsZero() {
		return 0
	}
	return tok.Expiry.Unix()
}
