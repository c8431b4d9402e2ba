package providers

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

// OAuthTokenConfig describes an OAuth2 client-credentials or refresh-token
// flow used to mint bearer tokens for a provider's HTTP client, for
// deployments that front Anthropic/OpenAI behind an OAuth-gated proxy rather
// than a static API key. Mirrors internal/auth's provider/token split
// without the user-identity/session side of that package, which has no
// place in a provider adapter.
type OAuthTokenConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string

	// RefreshToken seeds the token source when the caller already holds one
	// (e.g. restored from a config file) instead of performing a fresh
	// client-credentials exchange.
	RefreshToken string
}

// NewOAuthHTTPClient returns an *http.Client that transparently attaches and
// refreshes an OAuth2 bearer token on every request, for use as a provider's
// underlying transport in place of a static API key. Returns nil if cfg has
// no TokenURL configured.
func NewOAuthHTTPClient(ctx context.Context, cfg OAuthTokenConfig) *http.Client {
	if cfg.TokenURL == "" {
		return nil
	}
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       cfg.Scopes,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
	}
	var tok *oauth2.Token
	if cfg.RefreshToken != "" {
		tok = &oauth2.Token{RefreshToken: cfg.RefreshToken}
	}
	return oauthCfg.Client(ctx, tok)
}
