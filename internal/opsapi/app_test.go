package opsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"agentmail/internal/mailauth"
	"agentmail/internal/onboarding"
	"agentmail/internal/provision"
	"agentmail/internal/statetoken"
	"agentmail/internal/vault"
	"agentmail/pkg/config"
	"agentmail/pkg/tenants"
)

type stubAdapter struct{ refreshErr error }

func (s *stubAdapter) Provider() string              { return tenants.ProviderGmail }
func (s *stubAdapter) AuthCodeURL(st string) string  { return "https://idp.example/auth?state=" + st }
func (s *stubAdapter) Exchange(ctx context.Context, code string) (vault.TokenBundle, error) {
	return vault.TokenBundle{}, nil
}
func (s *stubAdapter) Refresh(ctx context.Context, rt string) (mailauth.RefreshResult, error) {
	if s.refreshErr != nil {
		return mailauth.RefreshResult{}, s.refreshErr
	}
	return mailauth.RefreshResult{AccessToken: "at-new", Expiry: time.Now().Add(time.Hour)}, nil
}

type stubEngine struct{ workflowErr error }

func (s *stubEngine) CreateCredential(ctx context.Context, name, credType string, data map[string]any) (string, error) {
	return "cred-1", nil
}
func (s *stubEngine) CreateWorkflow(ctx context.Context, wf map[string]any) (string, error) {
	if s.workflowErr != nil {
		return "", s.workflowErr
	}
	return "wf-1", nil
}
func (s *stubEngine) ActivateWorkflow(ctx context.Context, id string) error { return nil }
func (s *stubEngine) FindProject(ctx context.Context, name string) (string, error) {
	return "", nil
}
func (s *stubEngine) CreateProject(ctx context.Context, name string) (string, error) {
	return "proj-1", nil
}

func newOpsFixture(t *testing.T) (http.Handler, tenants.Store, *vault.Vault) {
	t.Helper()
	log := zap.NewNop().Sugar()
	cfg := config.Config{
		Env:           "dev", // OpsAuth passes through without issuer config
		BackendURL:    "https://app.example",
		StateSecret:   "ops-secret",
		StateTTL:      10 * time.Minute,
		RefreshMargin: 5 * time.Minute,
		Gmail:         config.ProviderConfig{ClientID: "g", ClientSecret: "gs"},
	}
	store := tenants.NewMemoryStore()
	v, err := vault.New(store, 1, "ops-enc-key", nil, log)
	require.NoError(t, err)
	reg, err := provision.LoadRegistry("", log)
	require.NoError(t, err)
	adapter := &stubAdapter{}
	adapters := map[string]mailauth.Adapter{tenants.ProviderGmail: adapter}
	prov := provision.New(store, &stubEngine{}, reg, cfg, log)
	signer := statetoken.NewSigner(cfg.StateSecret, cfg.StateTTL, log)
	svc := onboarding.NewService(cfg, store, v, adapters, prov, signer, nil, log)
	refresher := mailauth.NewManager(store, v, adapters, cfg.RefreshMargin, log)

	app := New(store, v, refresher, svc, log)
	r := chi.NewRouter()
	app.Register(r, cfg)
	return r, store, v
}

func connect(t *testing.T, store tenants.Store, v *vault.Vault) {
	t.Helper()
	blob, err := v.Seal(vault.TokenBundle{
		AccessToken:  "at",
		RefreshToken: "rt",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, store.ConnectProvider(context.Background(), "t1", "Acme Realty", tenants.ProviderGmail, blob))
}

func TestGetTenant(t *testing.T) {
	r, store, v := newOpsFixture(t)
	connect(t, store, v)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ops/tenants/t1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "gmail", body["email_provider"])
	assert.Equal(t, true, body["has_tokens"])
	assert.Equal(t, true, body["has_refresh_token"])
	assert.Equal(t, tenants.StateTokensSaved, body["provision_state"])
	// Plaintext must never appear in the ops response.
	assert.NotContains(t, rec.Body.String(), "\"at\"")
	assert.NotContains(t, rec.Body.String(), "\"rt\"")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ops/tenants/ghost", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetryProvision(t *testing.T) {
	r, store, v := newOpsFixture(t)
	connect(t, store, v)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ops/tenants/t1/provision", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "wf-1", body["workflow_id"])
	assert.Equal(t, tenants.StateComplete, body["provision_state"])

	tn, err := store.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", tn.EngineWorkflowID)
}

func TestRetryProvision_NotConnected(t *testing.T) {
	r, store, v := newOpsFixture(t)
	connect(t, store, v)
	require.NoError(t, store.Disconnect(context.Background(), "t1"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ops/tenants/t1/provision", nil))
	require.Equal(t, http.StatusConflict, rec.Code)
}
