package remote

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

// ErrNoToken is returned when the token endpoint responds without an access token.
var ErrNoToken = errors.New("token endpoint returned no access token")

// AuthError reports a failure to obtain a bearer token: the token endpoint
// was unreachable or rejected the configured credentials.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("authentication: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// TokenProvider supplies bearer tokens for the remote vendor APIs.
type TokenProvider interface {
	// Token returns a valid cached token, fetching a new one if needed.
	Token(ctx context.Context) (string, error)
	// Invalidate drops the cached token when the remote rejected it.
	Invalidate(stale string)
}

// CachedTokenProvider exchanges client credentials for short-lived, scoped
// bearer tokens. The cached token is published wholesale and never mutated
// in place; concurrent refreshes collapse into one underlying fetch.
type CachedTokenProvider struct {
	conf  *clientcredentials.Config
	cur   atomic.Pointer[oauth2.Token]
	group singleflight.Group
}

var _ TokenProvider = (*CachedTokenProvider)(nil)

// NewCachedTokenProvider creates a provider using the two-legged
// client-credential grant against tokenURL.
func NewCachedTokenProvider(tokenURL, clientID, clientSecret string, scopes []string) *CachedTokenProvider {
	return &CachedTokenProvider{
		conf: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       scopes,
		},
	}
}

// Token returns the cached access token, refreshing it when absent or
// expired. Under contention at most one fetch is in flight; every waiter
// observes that fetch's outcome.
func (p *CachedTokenProvider) Token(ctx context.Context) (string, error) {
	if t := p.cur.Load(); t.Valid() {
		return t.AccessToken, nil
	}

	v, err, _ := p.group.Do("token", func() (any, error) {
		// Another caller may have refreshed while we queued.
		if t := p.cur.Load(); t.Valid() {
			return t, nil
		}
		t, err := p.conf.Token(ctx)
		if err != nil {
			return nil, &AuthError{Err: err}
		}
		if t.AccessToken == "" {
			return nil, &AuthError{Err: ErrNoToken}
		}
		p.cur.Store(t)
		return t, nil
	})
	if err != nil {
		return "", err
	}
	return v.(*oauth2.Token).AccessToken, nil
}

// Invalidate drops the cached token only if it still matches the token that
// was rejected, so a fresher token won by a concurrent refresh is kept.
func (p *CachedTokenProvider) Invalidate(stale string) {
	if t := p.cur.Load(); t != nil && t.AccessToken == stale {
		p.cur.CompareAndSwap(t, nil)
	}
}

// StaticTokenProvider returns a fixed token. Test helper.
type StaticTokenProvider string

func (s StaticTokenProvider) Token(context.Context) (string, error) { return string(s), nil }
func (s StaticTokenProvider) Invalidate(string)                     {}
