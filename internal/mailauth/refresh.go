// internal/mailauth/refresh.go
package mailauth

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"agentmail/internal/vault"
	"agentmail/pkg/tenants"
)

// Manager hands out currently-valid access tokens, refreshing transparently
// when the cached one is expired or inside the safety margin.
//
// Two concurrent callers for the same tenant may both observe "expired" and
// both refresh. That race is accepted: Google keeps the prior refresh token
// valid, and for Microsoft (which rotates) the loser's write is simply a
// bundle with an equally-usable rotated token. The vault write is atomic
// either way.
type Manager struct {
	store    tenants.Store
	vault    *vault.Vault
	adapters map[string]Adapter
	margin   time.Duration
	log      *zap.SugaredLogger

	now func() time.Time
}

func NewManager(store tenants.Store, v *vault.Vault, adapters map[string]Adapter, margin time.Duration, log *zap.SugaredLogger) *Manager {
	return &Manager{store: store, vault: v, adapters: adapters, margin: margin, log: log, now: time.Now}
}

// ValidAccessToken returns an access token with at least the safety margin
// of lifetime left. vault.ErrNoTokens when the tenant never connected,
// ErrRefresh when the provider rejects the refresh grant.
func (m *Manager) ValidAccessToken(ctx context.Context, tenantID string) (string, error) {
	t, err := m.store.Get(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if !t.Connected() {
		return "", vault.ErrNoTokens
	}
	bundle, err := m.vault.Unseal(t.TokenCiphertext)
	if err != nil {
		return "", err
	}
	if !bundle.ExpiredAt(m.now(), m.margin) {
		return bundle.AccessToken, nil
	}

	adapter, ok := m.adapters[t.EmailProvider]
	if !ok {
		return "", fmt.Errorf("no adapter for provider %q", t.EmailProvider)
	}
	m.log.Infow("refreshing access token", "tenant", tenantID, "provider", t.EmailProvider, "expiry", bundle.Expiry)
	res, err := adapter.Refresh(ctx, bundle.RefreshToken)
	if err != nil {
		m.log.Warnw("refresh rejected", "tenant", tenantID, "provider", t.EmailProvider, "err", err)
		return "", err
	}

	bundle.AccessToken = res.AccessToken
	bundle.Expiry = res.Expiry
	if res.TokenType != "" {
		bundle.TokenType = res.TokenType
	}
	// Keep the old refresh token unless the provider rotated it.
	if res.RefreshToken != "" {
		bundle.RefreshToken = res.RefreshToken
	}
	if err := m.vault.SetTokens(ctx, tenantID, bundle); err != nil {
		return "", err
	}
	return bundle.AccessToken, nil
}
