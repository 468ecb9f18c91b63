package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/pogodev/tokenbroker/internal/db/models"
	"github.com/pogodev/tokenbroker/internal/egress"
	"golang.org/x/oauth2"
)

const (
	ptcClientID    = "pokemon-go"
	ptcRedirectURI = "https://www.pokemongolive.com/dl?app=pokemongo&dl_action=OPEN_LOGIN"
	ptcState       = "yWAw-S7ybrI4v4fG2RC_35Rg"
)

var ptcScopes = []string{"openid", "offline", "email", "dob", "pokemon_go", "member_id", "username"}

// PTC implements the primary console-style OAuth provider. Full login is two
// legs: the first-party auth helper resolves username/password into a one-time
// login code, then the code plus a PKCE verifier is exchanged for tokens at
// the provider's token endpoint. Refresh goes straight to the token endpoint.
type PTC struct {
	authHelperURL string
	authorizeURL  string
	tokenURL      string
	pool          *egress.Pool
	// helperClient talks to the first-party helper, which is not rate limited
	// and never goes through the proxy pool.
	helperClient *http.Client
}

// NewPTC builds the ptc adapter.
func NewPTC(authHelperURL, authorizeURL, tokenURL string, pool *egress.Pool) *PTC {
	return &PTC{
		authHelperURL: authHelperURL,
		authorizeURL:  authorizeURL,
		tokenURL:      tokenURL,
		pool:          pool,
		helperClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *PTC) Name() string { return models.ProviderPTC }

func (p *PTC) SupportsRefresh() bool { return true }

func (p *PTC) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:    ptcClientID,
		RedirectURL: ptcRedirectURI,
		Scopes:      ptcScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.authorizeURL,
			TokenURL:  p.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// poolContext attaches the next rotated proxy client so the oauth2 transport
// egresses through it. Called immediately before each outbound token call.
func (p *PTC) poolContext(ctx context.Context) context.Context {
	client, proxy := p.pool.NextClient()
	if proxy != "" {
		log.Printf("🌐 Using proxy %s for the next request", proxy)
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// Login exchanges username/password for a token set via the login-code helper
// and the provider's token endpoint.
func (p *PTC) Login(ctx context.Context, username, password string) (*Tokens, error) {
	verifier := oauth2.GenerateVerifier()
	authURL := p.oauthConfig().AuthCodeURL(ptcState, oauth2.S256ChallengeOption(verifier))

	loginCode, err := p.fetchLoginCode(ctx, authURL, username, password)
	if err != nil {
		return nil, err
	}
	log.Printf("[%s] Login code is %s....", username, truncate(loginCode, 10))

	tok, err := p.oauthConfig().Exchange(p.poolContext(ctx), loginCode, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("exchange login code: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned no access token")
	}
	return &Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiry(tok),
	}, nil
}

// fetchLoginCode asks the first-party helper to run the browser login and
// return a one-time code. The helper does its own upstream egress through the
// proxy we hand it; our call to the helper is direct.
func (p *PTC) fetchLoginCode(ctx context.Context, authURL, username, password string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"url":      authURL,
		"username": username,
		"password": password,
		"proxy":    p.pool.Next(),
	})
	if err != nil {
		return "", fmt.Errorf("encode login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.authHelperURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.helperClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth helper request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &UpstreamError{StatusCode: resp.StatusCode, Body: body}
	}

	var result struct {
		LoginCode string `json:"login_code"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parse auth helper response: %w", err)
	}
	if result.LoginCode == "" {
		return "", fmt.Errorf("auth helper returned no login code")
	}
	return result.LoginCode, nil
}

// Refresh exchanges a refresh token for a new token set. A dead grant is
// surfaced as ErrDeadGrant so the caller can clear the stored token.
func (p *PTC) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	source := p.oauthConfig().TokenSource(p.poolContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := source.Token()
	if err != nil {
		return nil, classifyRefreshError(err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned no access token")
	}
	newRefresh := tok.RefreshToken
	if newRefresh == "" {
		// Endpoint did not rotate; keep using the old one.
		newRefresh = refreshToken
	}
	return &Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: newRefresh,
		ExpiresAt:    expiry(tok),
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
