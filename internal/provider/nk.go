package provider

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/pogodev/tokenbroker/internal/db/models"
	"github.com/pogodev/tokenbroker/internal/egress"
	"golang.org/x/oauth2"
)

const nkClientID = "niantic-kids"

// NK implements the alternate identity provider. Its flow is a single password
// grant against a fixed authorization proxy endpoint and it never issues
// refresh tokens.
type NK struct {
	tokenURL string
	pool     *egress.Pool
}

// NewNK builds the nk adapter.
func NewNK(tokenURL string, pool *egress.Pool) *NK {
	return &NK{tokenURL: tokenURL, pool: pool}
}

func (n *NK) Name() string { return models.ProviderNK }

func (n *NK) SupportsRefresh() bool { return false }

// Login performs the password-grant exchange through the next rotated proxy.
func (n *NK) Login(ctx context.Context, username, password string) (*Tokens, error) {
	client, proxy := n.pool.NextClient()
	if proxy != "" {
		log.Printf("🌐 Using proxy %s for the next request", proxy)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)

	cfg := &oauth2.Config{
		ClientID: nkClientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  n.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	tok, err := cfg.PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		var retrieve *oauth2.RetrieveError
		if errors.As(err, &retrieve) {
			// Bad credentials and the like come back structured; hand the
			// upstream status and body to the caller untouched.
			return nil, &UpstreamError{StatusCode: retrieve.Response.StatusCode, Body: retrieve.Body}
		}
		return nil, fmt.Errorf("password grant failed: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("authorization proxy returned no access token")
	}
	return &Tokens{
		AccessToken: tok.AccessToken,
		ExpiresAt:   expiry(tok),
	}, nil
}

// Refresh always fails: nk tokens cannot be silently refreshed.
func (n *NK) Refresh(context.Context, string) (*Tokens, error) {
	return nil, ErrRefreshUnsupported
}
