// internal/provision/provisioner.go
package provision

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"agentmail/internal/engine"
	"agentmail/internal/vault"
	"agentmail/pkg/config"
	"agentmail/pkg/tenants"
)

// Engine is the slice of the workflow-engine client the provisioner uses.
type Engine interface {
	CreateCredential(ctx context.Context, name, credType string, data map[string]any) (string, error)
	CreateWorkflow(ctx context.Context, workflow map[string]any) (string, error)
	ActivateWorkflow(ctx context.Context, id string) error
	FindProject(ctx context.Context, name string) (string, error)
	CreateProject(ctx context.Context, name string) (string, error)
}

// Provisioner idempotently creates the engine-side credential, workflow and
// optional project folder for a tenant. Check-before-create against the
// tenant record is the sole concurrency-correctness mechanism: a retried or
// overlapping attempt finds the recorded id and returns it instead of
// creating a duplicate.
type Provisioner struct {
	store      tenants.Store
	engine     Engine
	registry   *Registry
	providers  map[string]config.ProviderConfig
	backendURL string
	log        *zap.SugaredLogger
}

func New(store tenants.Store, eng Engine, reg *Registry, cfg config.Config, log *zap.SugaredLogger) *Provisioner {
	return &Provisioner{
		store:    store,
		engine:   eng,
		registry: reg,
		providers: map[string]config.ProviderConfig{
			tenants.ProviderGmail:   cfg.Gmail,
			tenants.ProviderOutlook: cfg.Outlook,
		},
		backendURL: cfg.BackendURL,
		log:        log,
	}
}

// EnsureCredential registers the tenant's provider tokens as an engine
// credential and returns its id. Failure is non-fatal: the credential id
// comes back nil, the state moves to credential_skipped, and the workflow is
// created without credential linkage for ops to re-link later.
func (p *Provisioner) EnsureCredential(ctx context.Context, t tenants.Tenant, bundle vault.TokenBundle) (*string, error) {
	if t.EngineCredentialID != "" {
		id := t.EngineCredentialID
		return &id, nil
	}
	tpl, err := p.registry.Get(t.EmailProvider)
	if err != nil {
		return nil, err
	}
	pc := p.providers[t.EmailProvider]
	name := fmt.Sprintf("%s-%s", t.EmailProvider, t.ID)
	id, err := p.engine.CreateCredential(ctx, name, tpl.CredentialType, credentialData(pc, bundle))
	if err != nil {
		p.log.Warnw("credential provisioning failed, continuing without linkage",
			"tenant", t.ID, "provider", t.EmailProvider, "err", err)
		if serr := p.store.SetCredential(ctx, t.ID, "", tenants.StateCredentialSkipped); serr != nil {
			return nil, serr
		}
		return nil, nil
	}
	if err := p.store.SetCredential(ctx, t.ID, id, tenants.StateCredentialCreated); err != nil {
		return nil, err
	}
	p.log.Infow("engine credential created", "tenant", t.ID, "credential", id)
	return &id, nil
}

// credentialData builds the provider-specific engine credential payload.
// The engine needs the OAuth client pair alongside the token data to run
// refreshes on its own.
func credentialData(pc config.ProviderConfig, b vault.TokenBundle) map[string]any {
	return map[string]any{
		"clientId":     pc.ClientID,
		"clientSecret": pc.ClientSecret,
		"oauthTokenData": map[string]any{
			"access_token":  b.AccessToken,
			"refresh_token": b.RefreshToken,
			"token_type":    b.TokenType,
			"scope":         b.Scope,
			"expiry_date":   b.Expiry.UnixMilli(),
		},
	}
}

// EnsureWorkflow renders the provider template, submits and activates it,
// and records the id. A workflow id already on the tenant short-circuits:
// the engine's create endpoint is never called twice for one tenant.
func (p *Provisioner) EnsureWorkflow(ctx context.Context, t tenants.Tenant, credentialID *string) (string, error) {
	if t.EngineWorkflowID != "" {
		return t.EngineWorkflowID, nil
	}
	tpl, err := p.registry.Get(t.EmailProvider)
	if err != nil {
		return "", err
	}
	wf := tpl.Render(RenderParams{
		TenantID:     t.ID,
		TenantName:   t.Name,
		BackendURL:   p.backendURL,
		ProjectID:    t.EngineProjectID,
		CredentialID: credentialID,
	})
	id, err := p.engine.CreateWorkflow(ctx, wf)
	if err != nil {
		return "", err
	}
	if err := p.store.SetWorkflow(ctx, t.ID, id); err != nil {
		return "", err
	}
	if err := p.engine.ActivateWorkflow(ctx, id); err != nil {
		// Workflow exists and is recorded; activation can be retried by ops.
		p.log.Warnw("workflow activation failed", "tenant", t.ID, "workflow", id, "err", err)
	}
	p.log.Infow("engine workflow provisioned", "tenant", t.ID, "workflow", id, "linked", credentialID != nil)
	return id, nil
}

// EnsureProject looks up or creates the tenant's namespacing folder.
// Returns "" without error when the engine edition has no project feature.
func (p *Provisioner) EnsureProject(ctx context.Context, t tenants.Tenant) (string, error) {
	if t.EngineProjectID != "" {
		return t.EngineProjectID, nil
	}
	name := t.Name
	if name == "" {
		name = t.ID
	}
	id, err := p.engine.FindProject(ctx, name)
	if errors.Is(err, engine.ErrProjectsUnsupported) {
		p.log.Infow("engine has no project support, skipping folder", "tenant", t.ID)
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if id == "" {
		id, err = p.engine.CreateProject(ctx, name)
		if errors.Is(err, engine.ErrProjectsUnsupported) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
	}
	if err := p.store.SetProject(ctx, t.ID, id); err != nil {
		return "", err
	}
	return id, nil
}
