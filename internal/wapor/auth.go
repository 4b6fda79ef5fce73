package wapor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"
)

// DefaultTokenMargin is how long before expiry a token is considered stale
const DefaultTokenMargin = 600 * time.Second

// AccessToken is a bearer token issued by sign-in
type AccessToken struct {
	Value        string
	RefreshToken string
	IssuedAt     time.Time
	TTL          time.Duration
}

// FreshAt reports whether the token may still be used at now. The margin is
// capped at half the TTL so short-lived tokens are still reused.
func (t *AccessToken) FreshAt(now time.Time, margin time.Duration) bool {
	if t == nil {
		return false
	}
	if limit := t.TTL / 2; margin > limit {
		margin = limit
	}
	return now.Sub(t.IssuedAt) < t.TTL-margin
}

type signInResponse struct {
	AccessToken  string `json:"accessToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	RefreshToken string `json:"refreshToken"`
}

// TokenManager exchanges the API key for access tokens and renews them
// before they expire. It is safe for concurrent use.
type TokenManager struct {
	client *Client
	apiKey string
	margin time.Duration
	now    func() time.Time

	mu      sync.Mutex
	token   *AccessToken
	signIns int
}

// NewTokenManager creates a token manager. A zero margin uses DefaultTokenMargin.
func NewTokenManager(client *Client, apiKey string, margin time.Duration) *TokenManager {
	if margin <= 0 {
		margin = DefaultTokenMargin
	}
	return &TokenManager{
		client: client,
		apiKey: apiKey,
		margin: margin,
		now:    time.Now,
	}
}

// SetClock replaces the time source, for tests
func (m *TokenManager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Authenticate signs in with the API key and stores the new token
func (m *TokenManager) Authenticate(ctx context.Context) (*AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signIn(ctx)
}

func (m *TokenManager) signIn(ctx context.Context) (*AccessToken, error) {
	if m.apiKey == "" {
		return nil, newError(KindAuth, "sign-in", "API key is empty", nil)
	}

	header := http.Header{}
	header.Set("X-GISMGR-API-KEY", m.apiKey)

	var resp signInResponse
	if err := m.client.post(ctx, "/iam/sign-in/", header, nil, &resp); err != nil {
		return nil, newError(KindAuth, "sign-in", "", err)
	}
	if resp.AccessToken == "" {
		return nil, newError(KindAuth, "sign-in", "", errors.New("response has no access token"))
	}

	m.token = &AccessToken{
		Value:        resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		IssuedAt:     m.now(),
		TTL:          time.Duration(resp.ExpiresIn) * time.Second,
	}
	m.signIns++
	m.client.logger.Debug("signed in", "expiresIn", m.token.TTL)
	return m.token, nil
}

// EnsureFresh returns a usable bearer token, signing in again when the
// current one is within the margin of expiry
func (m *TokenManager) EnsureFresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token.FreshAt(m.now(), m.margin) {
		return m.token.Value, nil
	}

	m.client.logger.Info("access token stale, signing in again")
	token, err := m.signIn(ctx)
	if err != nil {
		return "", err
	}
	return token.Value, nil
}

// Token returns the current token, or nil before the first sign-in
func (m *TokenManager) Token() *AccessToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// SignIns returns how many times the manager has signed in
func (m *TokenManager) SignIns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signIns
}
