// internal/onboarding/handler.go
package onboarding

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"agentmail/internal/mailauth"
	"agentmail/internal/statetoken"
	"agentmail/pkg/problems"
	"agentmail/pkg/tenants"
)

// RegisterHTTP mounts the OAuth connect/callback/disconnect routes.
func RegisterHTTP(r chi.Router, svc *Service, log *zap.SugaredLogger) {
	r.Get("/auth/{provider}/connect", connectHandler(svc))
	r.Get("/auth/{provider}/callback", callbackHandler(svc, log))
	r.Post("/auth/{provider}/disconnect", disconnectHandler(svc))
}

func connectHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		tenantID := r.URL.Query().Get("tenantId")
		if tenantID == "" {
			writeProblem(w, "missing-tenant", "tenantId query parameter is required", http.StatusBadRequest)
			return
		}
		url, err := svc.Connect(r.Context(), provider, tenantID)
		if err != nil {
			writeProblem(w, "unknown-provider", "provider not available", http.StatusBadRequest)
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
	}
}

func callbackHandler(svc *Service, log *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		code := r.URL.Query().Get("code")
		state := r.URL.Query().Get("state")
		if code == "" || state == "" {
			writeProblem(w, "missing-params", "code and state are required", http.StatusBadRequest)
			return
		}
		res, err := svc.Callback(r.Context(), provider, code, state)
		switch {
		case err == nil:
			http.Redirect(w, r, res.RedirectURL, http.StatusFound)
		case errors.Is(err, statetoken.ErrInvalidState):
			// One generic message for tampered and expired alike.
			writeProblem(w, "invalid-state", "the sign-in link is no longer valid, please start over", http.StatusBadRequest)
		case errors.Is(err, mailauth.ErrCodeExchange):
			writeProblem(w, "exchange-failed", "the provider rejected the sign-in attempt, please start over", http.StatusBadRequest)
		case errors.Is(err, ErrTokenPersist):
			log.Errorw("token persist failed", "provider", provider, "err", err)
			writeProblem(w, "internal", "could not complete the connection", http.StatusInternalServerError)
		default:
			log.Errorw("callback failed", "provider", provider, "err", err)
			writeProblem(w, "internal", "could not complete the connection", http.StatusInternalServerError)
		}
	}
}

func disconnectHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		tenantID := r.URL.Query().Get("tenantId")
		if tenantID == "" {
			writeProblem(w, "missing-tenant", "tenantId query parameter is required", http.StatusBadRequest)
			return
		}
		err := svc.Disconnect(r.Context(), provider, tenantID)
		switch {
		case err == nil:
			writeJSON(w, map[string]any{"ok": true}, http.StatusOK)
		case errors.Is(err, tenants.ErrNotFound):
			writeProblem(w, "unknown-tenant", "tenant not found", http.StatusNotFound)
		case errors.Is(err, ErrProviderMismatch):
			writeProblem(w, "provider-mismatch", "a different provider is connected", http.StatusConflict)
		default:
			writeProblem(w, "internal", "could not disconnect", http.StatusInternalServerError)
		}
	}
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, slug, title string, status int) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   problems.Type(slug),
		"title":  title,
		"status": status,
	})
}
