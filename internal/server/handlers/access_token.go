// Package handlers exposes the broker's request surface.
package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/pogodev/tokenbroker/internal/auth/token"
	"github.com/pogodev/tokenbroker/internal/db/models"
	"github.com/pogodev/tokenbroker/internal/provider"
)

type accessTokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Provider string `json:"provider"`
}

type accessTokenResponse struct {
	AccessToken string `json:"access_token"`
	Provider    string `json:"provider"`
}

// AccessTokenHandler serves POST /access_token: it hands back a cached,
// refreshed, or freshly exchanged access token for the requested account.
func AccessTokenHandler(orch *token.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req accessTokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Printf("Bad request body: %v", err)
			writeEmpty(w, http.StatusBadRequest)
			return
		}
		if req.Provider == "" {
			req.Provider = models.ProviderPTC
		}

		log.Printf("[%s] Starting", req.Username)
		accessToken, err := orch.AccessToken(r.Context(), req.Username, req.Provider, req.Password)
		if err != nil {
			writeError(w, req.Username, err)
			return
		}

		log.Printf("[%s] Returning access token", req.Username)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(accessTokenResponse{
			AccessToken: accessToken,
			Provider:    req.Provider,
		})
	}
}

// writeError maps orchestrator failures onto the wire. Upstream login
// rejections keep their original status and body; everything else is an empty
// JSON object with a classifying status code.
func writeError(w http.ResponseWriter, username string, err error) {
	var upstream *provider.UpstreamError
	switch {
	case errors.As(err, &upstream):
		log.Printf("[%s] Upstream rejected login with status %d", username, upstream.StatusCode)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(upstream.StatusCode)
		w.Write(upstream.Body)
	case errors.Is(err, token.ErrMissingCredentials), errors.Is(err, token.ErrUnknownProvider):
		log.Printf("[%s] Invalid request: %v", username, err)
		writeEmpty(w, http.StatusBadRequest)
	case errors.Is(err, token.ErrRefreshInProgress):
		log.Printf("[%s] Refresh already in progress", username)
		writeEmpty(w, http.StatusConflict)
	default:
		log.Printf("[%s] Token request failed: %v", username, err)
		writeEmpty(w, http.StatusInternalServerError)
	}
}

func writeEmpty(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte("{}"))
}
