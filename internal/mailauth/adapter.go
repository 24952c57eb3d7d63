// internal/mailauth/adapter.go
package mailauth

import (
	"context"
	"errors"
	"time"

	"agentmail/internal/vault"
)

// Flow errors surfaced to the orchestrator / refresh manager.
var (
	// ErrCodeExchange: the identity provider rejected the authorization
	// code. Terminal for this attempt; the user must restart the flow.
	ErrCodeExchange = errors.New("code exchange failed")
	// ErrRefresh: the refresh-token grant was rejected, typically meaning
	// the user revoked consent. The tenant needs to re-connect.
	ErrRefresh = errors.New("token refresh failed")
)

// RefreshResult is what a provider hands back from a refresh-token grant.
// RefreshToken is usually empty (the prior one stays valid); a provider that
// rotates it returns the replacement here.
type RefreshResult struct {
	AccessToken  string
	Expiry       time.Time
	TokenType    string
	RefreshToken string
}

// Adapter is the per-provider OAuth surface. Both implementations normalize
// their provider's response shape into vault.TokenBundle at this boundary so
// nothing downstream ever branches on provider again.
type Adapter interface {
	Provider() string

	// AuthCodeURL builds the consent URL carrying the signed state. Offline
	// access and a forced consent screen are always requested so a refresh
	// token is issued.
	AuthCodeURL(state string) string

	// Exchange trades an authorization code for a normalized token bundle.
	Exchange(ctx context.Context, code string) (vault.TokenBundle, error)

	// Refresh performs the refresh-token grant.
	Refresh(ctx context.Context, refreshToken string) (RefreshResult, error)
}
