// internal/opsapi/app.go
package opsapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"agentmail/internal/mailauth"
	"agentmail/internal/onboarding"
	"agentmail/internal/vault"
	"agentmail/pkg/config"
	"agentmail/pkg/middleware"
	"agentmail/pkg/tenants"
)

// App is the ops surface: provisioning status and retries. Bearer-guarded
// via middleware.OpsAuth; never exposes token plaintext, only presence and
// expiry.
type App struct {
	store      tenants.Store
	vault      *vault.Vault
	refresher  *mailauth.Manager
	onboarding *onboarding.Service
	log        *zap.SugaredLogger
}

func New(store tenants.Store, v *vault.Vault, refresher *mailauth.Manager, ob *onboarding.Service, log *zap.SugaredLogger) *App {
	return &App{store: store, vault: v, refresher: refresher, onboarding: ob, log: log}
}

// Register mounts the /ops routes.
func (a *App) Register(r chi.Router, cfg config.Config) {
	r.Route("/ops", func(or chi.Router) {
		or.Use(middleware.OpsAuth(cfg, a.log))
		or.Get("/tenants/{id}", a.getTenant)
		or.Post("/tenants/{id}/provision", a.retryProvision)
	})
}

func (a *App) getTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := a.store.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "tenant not found", http.StatusNotFound)
		return
	}
	out := map[string]any{
		"id":              t.ID,
		"name":            t.Name,
		"email_provider":  t.EmailProvider,
		"has_tokens":      len(t.TokenCiphertext) > 0,
		"provision_state": t.ProvisionState,
		"credential_id":   t.EngineCredentialID,
		"workflow_id":     t.EngineWorkflowID,
		"project_id":      t.EngineProjectID,
	}
	if len(t.TokenCiphertext) > 0 {
		if b, err := a.vault.Unseal(t.TokenCiphertext); err == nil {
			out["token_expiry"] = b.Expiry
			out["has_refresh_token"] = b.RefreshToken != ""
		}
	}
	writeJSON(w, out, http.StatusOK)
}

// retryProvision resumes provisioning for a connected tenant. The refresh
// manager runs first so a credential created on retry carries a live access
// token; RefreshFailed means the user revoked consent and must re-connect.
func (a *App) retryProvision(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.refresher.ValidAccessToken(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, tenants.ErrNotFound):
			http.Error(w, "tenant not found", http.StatusNotFound)
		case errors.Is(err, vault.ErrNoTokens):
			http.Error(w, "tenant has no mailbox connection", http.StatusConflict)
		case errors.Is(err, mailauth.ErrRefresh):
			http.Error(w, "refresh rejected, tenant must re-connect", http.StatusConflict)
		default:
			a.log.Errorw("ops refresh failed", "tenant", id, "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}
	if err := a.onboarding.Provision(r.Context(), id); err != nil {
		a.log.Errorw("ops provisioning retry failed", "tenant", id, "subject", middleware.OpsSubjectFrom(r.Context()), "err", err)
		http.Error(w, "provisioning failed", http.StatusBadGateway)
		return
	}
	t, err := a.store.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "tenant not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{
		"ok":              true,
		"provision_state": t.ProvisionState,
		"workflow_id":     t.EngineWorkflowID,
	}, http.StatusOK)
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
