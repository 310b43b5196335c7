// Package auth supplies the bearer credential used on calls to the
// Meerkat source catalogue. Tokens are fetched from the Meerkat auth
// service with exponential backoff and cached until shortly before the
// expiry recorded in the token's claims.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/meerkat/consul/internal/platform/transport"
)

const (
	headerPrefix = "Bearer "
	// refreshMargin is how long before expiry a cached token is
	// considered stale.
	refreshMargin = 30 * time.Second
	// fallbackTTL applies when a token carries no exp claim.
	fallbackTTL = 5 * time.Minute

	maxRetries  = 8
	maxInterval = 30 * time.Second
)

// HeaderProvider yields the outbound auth headers for catalogue calls.
type HeaderProvider interface {
	AuthHeaders(ctx context.Context) (map[string]string, error)
}

// StaticHeaders is a HeaderProvider returning a fixed header map. Used in
// tests and for deployments where the catalogue is unauthenticated.
type StaticHeaders map[string]string

func (s StaticHeaders) AuthHeaders(context.Context) (map[string]string, error) {
	return s, nil
}

// TokenProvider authenticates against the Meerkat auth service and caches
// the resulting JWT.
type TokenProvider struct {
	url      string
	username string
	password string
	http     *transport.Client
	log      zerolog.Logger

	now func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewTokenProvider(url, username, password string, http *transport.Client, log zerolog.Logger) *TokenProvider {
	return &TokenProvider{
		url:      url,
		username: username,
		password: password,
		http:     http,
		log:      log,
		now:      time.Now,
	}
}

// AuthHeaders returns the Authorization header, refreshing the cached
// token when it is missing or about to expire.
func (p *TokenProvider) AuthHeaders(ctx context.Context) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token == "" || p.now().Add(refreshMargin).After(p.expires) {
		if err := p.refresh(ctx); err != nil {
			return nil, err
		}
	}
	return map[string]string{"Authorization": headerPrefix + p.token}, nil
}

// refresh fetches a new token, retrying transient failures with
// exponential backoff. Must be called with the mutex held.
func (p *TokenProvider) refresh(ctx context.Context) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(newExponential(), maxRetries), ctx)

	token, err := backoff.RetryWithData(func() (string, error) {
		tok, err := p.authenticate(ctx)
		if err != nil {
			p.log.Info().Err(err).Msg("failed to authenticate, retrying")
			return "", err
		}
		return tok, nil
	}, policy)
	if err != nil {
		return fmt.Errorf("authenticate against %s: %w", p.url, err)
	}

	p.token = token
	p.expires = p.tokenExpiry(token)
	p.log.Debug().Time("expires", p.expires).Msg("refreshed auth token")
	return nil
}

func newExponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = maxInterval
	return b
}

func (p *TokenProvider) authenticate(ctx context.Context) (string, error) {
	payload := map[string]string{"username": p.username, "password": p.password}
	resp, err := p.http.PostJSON(ctx, p.url, payload, nil)
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", fmt.Errorf("auth service returned %d", resp.StatusCode)
	}
	var body struct {
		JWT string `json:"jwt"`
	}
	if err := resp.Decode(&body); err != nil {
		return "", err
	}
	if body.JWT == "" {
		return "", fmt.Errorf("auth service returned an empty token")
	}
	return body.JWT, nil
}

// tokenExpiry reads the exp claim without verifying the signature; this
// service forwards the token, it does not validate it.
func (p *TokenProvider) tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		p.log.Debug().Err(err).Msg("token is not a parseable JWT, using fallback TTL")
		return p.now().Add(fallbackTTL)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return p.now().Add(fallbackTTL)
	}
	return exp.Time
}
