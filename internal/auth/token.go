// Package auth provides TokenProvider implementations for the pipeline.
// Full OAuth2 authorization-code acquisition is an external collaborator
// per spec §6.1; this package covers the piece the core cycle actually
// touches — holding a current access token and refreshing it on expiry
// or on a forced re-fetch after a 401.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"eve-market-intel/internal/logger"
)

// expiryBuffer mirrors the teacher's ensureValidTokenForSession: a token
// is treated as expired slightly before its actual expiry so a request
// in flight doesn't race the clock.
const expiryBuffer = 60 * time.Second

// Refresher exchanges a refresh token for a new access token. Supplied
// by the OAuth2 collaborator; this package never talks to the token
// endpoint itself.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (accessToken, newRefreshToken string, expiresIn time.Duration, err error)
}

// RefreshingTokenProvider holds one access token in memory, refreshing
// it when it is within expiryBuffer of expiring or when the pipeline
// forces a refresh after a 401.
type RefreshingTokenProvider struct {
	refresher Refresher

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

// NewRefreshingTokenProvider seeds the provider with an initial token
// pair, typically loaded from the OAuth2 collaborator's session store at
// startup.
func NewRefreshingTokenProvider(refresher Refresher, accessToken, refreshToken string, expiresAt time.Time) *RefreshingTokenProvider {
	return &RefreshingTokenProvider{
		refresher:    refresher,
		accessToken:  accessToken,
		refreshToken: refreshToken,
		expiresAt:    expiresAt,
	}
}

// GetToken implements pipeline.TokenProvider. forceRefresh is set by the
// pipeline after a 401 even if the token looked unexpired locally.
func (p *RefreshingTokenProvider) GetToken(ctx context.Context, forceRefresh bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !forceRefresh && time.Now().Before(p.expiresAt.Add(-expiryBuffer)) {
		return p.accessToken, nil
	}

	logger.Info("AUTH", "refreshing access token")
	access, newRefresh, expiresIn, err := p.refresher.Refresh(ctx, p.refreshToken)
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}

	p.accessToken = access
	p.refreshToken = newRefresh
	p.expiresAt = time.Now().Add(expiresIn)
	return p.accessToken, nil
}

// StaticTokenProvider always returns the same token, for deployments
// that front the pipeline with an external process managing refresh
// (e.g. a sidecar writing the current token to a file on change).
type StaticTokenProvider struct {
	token string
}

// NewStaticTokenProvider wraps a fixed token value.
func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

// GetToken implements pipeline.TokenProvider, ignoring forceRefresh.
func (p *StaticTokenProvider) GetToken(ctx context.Context, forceRefresh bool) (string, error) {
	if p.token == "" {
		return "", fmt.Errorf("no token configured")
	}
	return p.token, nil
}
