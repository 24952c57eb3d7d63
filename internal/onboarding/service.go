// internal/onboarding/service.go
package onboarding

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"agentmail/internal/mailauth"
	"agentmail/internal/provision"
	"agentmail/internal/statetoken"
	"agentmail/internal/vault"
	"agentmail/pkg/config"
	"agentmail/pkg/tenants"
)

// ErrTokenPersist: the store rejected the token write. Terminal: nothing
// downstream can proceed without persisted tokens.
var ErrTokenPersist = errors.New("token persist failed")

// ErrProviderMismatch: the tenant already has a different provider active.
var ErrProviderMismatch = errors.New("another provider is active for tenant")

const statePurposeConnect = "connect"

// Service sequences the OAuth callback end to end: verify state, exchange
// code, persist tokens, provision engine resources. Steps after token
// persistence fail independently without invalidating the saved tokens;
// the user is never blocked by an engine outage.
type Service struct {
	cfg      config.Config
	store    tenants.Store
	vault    *vault.Vault
	adapters map[string]mailauth.Adapter
	prov     *provision.Provisioner
	signer   *statetoken.Signer
	rdb      *redis.Client
	log      *zap.SugaredLogger
}

func NewService(cfg config.Config, store tenants.Store, v *vault.Vault, adapters map[string]mailauth.Adapter, prov *provision.Provisioner, signer *statetoken.Signer, rdb *redis.Client, log *zap.SugaredLogger) *Service {
	return &Service{cfg: cfg, store: store, vault: v, adapters: adapters, prov: prov, signer: signer, rdb: rdb, log: log}
}

// Connect builds the provider consent URL for a tenant.
func (s *Service) Connect(ctx context.Context, provider, tenantID string) (string, error) {
	adapter, ok := s.adapters[provider]
	if !ok {
		return "", fmt.Errorf("unknown or disabled provider %q", provider)
	}
	state, err := s.signer.Create(statetoken.Payload{
		TenantID: tenantID,
		Provider: provider,
		Purpose:  statePurposeConnect,
	})
	if err != nil {
		return "", err
	}
	return adapter.AuthCodeURL(state), nil
}

// CallbackResult is what the HTTP handler needs to answer the redirect.
type CallbackResult struct {
	TenantID    string
	Provider    string
	RedirectURL string
}

// Callback drives the state machine for an inbound OAuth redirect.
// Failures up to and including the token write abort with an error; the
// provisioning steps afterwards are caught, counted and logged only.
func (s *Service) Callback(ctx context.Context, provider, code, state string) (CallbackResult, error) {
	adapter, ok := s.adapters[provider]
	if !ok {
		return CallbackResult{}, fmt.Errorf("unknown or disabled provider %q", provider)
	}

	payload, err := s.signer.Verify(state)
	if err != nil {
		callbacksTotal.WithLabelValues(provider, "invalid_state").Inc()
		return CallbackResult{}, err
	}
	if payload.Provider != provider || payload.Purpose != statePurposeConnect || payload.TenantID == "" {
		s.log.Warnw("state payload mismatch", "provider", provider, "state_provider", payload.Provider)
		callbacksTotal.WithLabelValues(provider, "invalid_state").Inc()
		return CallbackResult{}, statetoken.ErrInvalidState
	}
	if !s.markStateUsed(ctx, state) {
		s.log.Warnw("state replay rejected", "tenant", payload.TenantID, "provider", provider)
		callbacksTotal.WithLabelValues(provider, "invalid_state").Inc()
		return CallbackResult{}, statetoken.ErrInvalidState
	}

	bundle, err := adapter.Exchange(ctx, code)
	if err != nil {
		callbacksTotal.WithLabelValues(provider, "exchange_failed").Inc()
		return CallbackResult{}, err
	}

	blob, err := s.vault.Seal(bundle)
	if err != nil {
		callbacksTotal.WithLabelValues(provider, "persist_failed").Inc()
		return CallbackResult{}, fmt.Errorf("%w: %v", ErrTokenPersist, err)
	}
	if err := s.store.ConnectProvider(ctx, payload.TenantID, "", provider, blob); err != nil {
		callbacksTotal.WithLabelValues(provider, "persist_failed").Inc()
		return CallbackResult{}, fmt.Errorf("%w: %v", ErrTokenPersist, err)
	}
	s.log.Infow("tokens persisted", "tenant", payload.TenantID, "provider", provider, "expiry", bundle.Expiry)

	// Tokens are safe; everything from here is best-effort and retried by
	// ops if it fails.
	if err := s.provision(ctx, payload.TenantID, bundle); err != nil {
		s.log.Errorw("provisioning incomplete, manual remediation possible via ops retry",
			"tenant", payload.TenantID, "provider", provider, "err", err)
	}

	callbacksTotal.WithLabelValues(provider, "ok").Inc()
	return CallbackResult{
		TenantID:    payload.TenantID,
		Provider:    provider,
		RedirectURL: fmt.Sprintf("%s/onboarding.html?tenantId=%s&%s_success=true", s.cfg.BackendURL, payload.TenantID, provider),
	}, nil
}

// provision runs the engine-side steps under a per-tenant lease. Losing the
// lease means a concurrent attempt is already provisioning; the idempotency
// checks make any interleaving safe regardless.
func (s *Service) provision(ctx context.Context, tenantID string, bundle vault.TokenBundle) error {
	release, won := s.acquireLease(ctx, tenantID)
	if !won {
		s.log.Infow("provisioning lease held elsewhere, skipping", "tenant", tenantID)
		return nil
	}
	defer release()

	t, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return err
	}

	if _, err := s.prov.EnsureProject(ctx, t); err != nil {
		provisionFailures.WithLabelValues("project").Inc()
		s.log.Warnw("project provisioning failed", "tenant", tenantID, "err", err)
	}
	// Reload: EnsureProject may have recorded a project id.
	if t2, err := s.store.Get(ctx, tenantID); err == nil {
		t = t2
	}

	credID, err := s.prov.EnsureCredential(ctx, t, bundle)
	if err != nil {
		provisionFailures.WithLabelValues("credential").Inc()
		return err
	}

	if _, err := s.prov.EnsureWorkflow(ctx, t, credID); err != nil {
		provisionFailures.WithLabelValues("workflow").Inc()
		return err
	}

	return s.store.MarkComplete(ctx, tenantID)
}

// Provision re-runs the engine-side provisioning for a connected tenant
// (the ops retry path). Resumes from whatever the last persisted step was.
func (s *Service) Provision(ctx context.Context, tenantID string) error {
	t, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if !t.Connected() {
		return vault.ErrNoTokens
	}
	bundle, err := s.vault.Unseal(t.TokenCiphertext)
	if err != nil {
		return err
	}
	return s.provision(ctx, tenantID, bundle)
}

// Disconnect clears the tenant's mailbox connection. The active provider
// must match; engine resources stay for operational cleanup.
func (s *Service) Disconnect(ctx context.Context, provider, tenantID string) error {
	t, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if t.EmailProvider != provider {
		return ErrProviderMismatch
	}
	return s.store.Disconnect(ctx, tenantID)
}
