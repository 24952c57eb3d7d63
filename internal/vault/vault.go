// internal/vault/vault.go
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"agentmail/pkg/tenants"
)

// ErrNoTokens means the tenant exists but never completed OAuth (or was
// disconnected).
var ErrNoTokens = errors.New("no tokens stored for tenant")

// TokenBundle is the canonical per-tenant OAuth token set, one shape for all
// providers. RefreshToken, once obtained, is retained across access-token
// rotations (some providers only issue it on first consent).
type TokenBundle struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
	Scope        string    `json:"scope,omitempty"`
}

// ExpiredAt reports whether the access token should be treated as expired at
// t, given a safety margin against it dying mid-flight downstream.
func (b TokenBundle) ExpiredAt(t time.Time, margin time.Duration) bool {
	return !t.Before(b.Expiry.Add(-margin))
}

// Vault stores token bundles encrypted at rest, keyed by tenant. Plaintext
// tokens never appear in logs; only presence and expiry are logged.
type Vault struct {
	store  tenants.Store
	sealer *sealer
	log    *zap.SugaredLogger
}

func New(store tenants.Store, activeKeyID uint8, activeKey string, priorKeys map[uint8]string, log *zap.SugaredLogger) (*Vault, error) {
	s, err := newSealer(activeKeyID, activeKey, priorKeys)
	if err != nil {
		return nil, err
	}
	return &Vault{store: store, sealer: s, log: log}, nil
}

// Seal encrypts a bundle to the blob form the tenant store persists.
func (v *Vault) Seal(b TokenBundle) ([]byte, error) {
	plain, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	return v.sealer.seal(plain)
}

// Unseal decrypts a stored blob back into a bundle.
func (v *Vault) Unseal(blob []byte) (TokenBundle, error) {
	plain, err := v.sealer.unseal(blob)
	if err != nil {
		return TokenBundle{}, err
	}
	var b TokenBundle
	if err := json.Unmarshal(plain, &b); err != nil {
		return TokenBundle{}, ErrDecryption
	}
	return b, nil
}

// GetTokens loads and decrypts the tenant's bundle.
func (v *Vault) GetTokens(ctx context.Context, tenantID string) (TokenBundle, error) {
	t, err := v.store.Get(ctx, tenantID)
	if err != nil {
		return TokenBundle{}, err
	}
	if len(t.TokenCiphertext) == 0 {
		return TokenBundle{}, ErrNoTokens
	}
	return v.Unseal(t.TokenCiphertext)
}

// SetTokens encrypts and persists the full bundle in one write. All fields
// travel together: a refresh either updates access token, expiry and type
// atomically or not at all.
func (v *Vault) SetTokens(ctx context.Context, tenantID string, b TokenBundle) error {
	blob, err := v.Seal(b)
	if err != nil {
		return err
	}
	if err := v.store.SaveTokens(ctx, tenantID, blob); err != nil {
		return err
	}
	v.log.Infow("tokens saved", "tenant", tenantID, "expiry", b.Expiry, "has_refresh", b.RefreshToken != "")
	return nil
}
