// Package oauthcreds provides a shared OAuth2 client-credentials token cache
// used by the webhook, Kafka (OAuthBearer), and MQTT sinks. A token is
// cached until one minute before its expiry and refreshed under a lock so
// concurrent senders never issue duplicate token requests.
package oauthcreds

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const expiryMargin = 1 * time.Minute

// Config describes a client-credentials grant.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// TokenCache wraps a clientcredentials.Config with a lock-protected cache so
// multiple goroutines sharing one sink's credentials only refresh once.
type TokenCache struct {
	conf *clientcredentials.Config

	mu     sync.Mutex
	cached *oauth2.Token
}

// New builds a TokenCache from Config.
func New(cfg Config) *TokenCache {
	return &TokenCache{
		conf: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		},
	}
}

// AccessToken returns a cached access token string, refreshing it first if
// it is absent or within expiryMargin of expiring.
func (c *TokenCache) AccessToken(ctx context.Context) (string, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return "", err
	}

	return tok.AccessToken, nil
}

// Token implements oauth2.TokenSource so the cache can be handed directly to
// transports that expect one (e.g. the Kafka OAUTHBEARER mechanism).
func (c *TokenCache) Token() (*oauth2.Token, error) {
	return c.token(context.Background())
}

func (c *TokenCache) token(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && time.Until(c.cached.Expiry) > expiryMargin {
		return c.cached, nil
	}

	tok, err := c.conf.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("oauthcreds: refresh token: %w", err)
	}

	c.cached = tok

	return tok, nil
}
