package provision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"agentmail/internal/engine"
	"agentmail/internal/vault"
	"agentmail/pkg/config"
	"agentmail/pkg/tenants"
)

// fakeEngine counts engine calls and returns canned ids.
type fakeEngine struct {
	credentialCalls int
	workflowCalls   int
	activateCalls   int
	credentialErr   error
	projectErr      error
	lastWorkflow    map[string]any
}

func (f *fakeEngine) CreateCredential(ctx context.Context, name, credType string, data map[string]any) (string, error) {
	f.credentialCalls++
	if f.credentialErr != nil {
		return "", f.credentialErr
	}
	return "cred-1", nil
}
func (f *fakeEngine) CreateWorkflow(ctx context.Context, wf map[string]any) (string, error) {
	f.workflowCalls++
	f.lastWorkflow = wf
	return "wf-1", nil
}
func (f *fakeEngine) ActivateWorkflow(ctx context.Context, id string) error {
	f.activateCalls++
	return nil
}
func (f *fakeEngine) FindProject(ctx context.Context, name string) (string, error) {
	if f.projectErr != nil {
		return "", f.projectErr
	}
	return "", nil
}
func (f *fakeEngine) CreateProject(ctx context.Context, name string) (string, error) {
	if f.projectErr != nil {
		return "", f.projectErr
	}
	return "proj-1", nil
}

func testConfig() config.Config {
	return config.Config{
		BackendURL: "https://app.example",
		Gmail:      config.ProviderConfig{ClientID: "g-id", ClientSecret: "g-secret"},
		Outlook:    config.ProviderConfig{ClientID: "o-id", ClientSecret: "o-secret"},
	}
}

func newFixture(t *testing.T, eng Engine) (*Provisioner, tenants.Store) {
	t.Helper()
	reg, err := LoadRegistry("", zap.NewNop().Sugar())
	require.NoError(t, err)
	store := tenants.NewMemoryStore()
	return New(store, eng, reg, testConfig(), zap.NewNop().Sugar()), store
}

func connectTenant(t *testing.T, store tenants.Store, provider string) tenants.Tenant {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.ConnectProvider(ctx, "t1", "Acme Realty", provider, []byte{0x01, 0x02}))
	tn, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	return tn
}

func TestEnsureCredential(t *testing.T) {
	ctx := context.Background()
	bundle := vault.TokenBundle{AccessToken: "at", RefreshToken: "rt"}

	t.Run("creates and records", func(t *testing.T) {
		eng := &fakeEngine{}
		p, store := newFixture(t, eng)
		tn := connectTenant(t, store, tenants.ProviderGmail)

		id, err := p.EnsureCredential(ctx, tn, bundle)
		require.NoError(t, err)
		require.NotNil(t, id)
		assert.Equal(t, "cred-1", *id)
		assert.Equal(t, 1, eng.credentialCalls)

		got, err := store.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "cred-1", got.EngineCredentialID)
		assert.Equal(t, tenants.StateCredentialCreated, got.ProvisionState)
	})

	t.Run("idempotent on recorded id", func(t *testing.T) {
		eng := &fakeEngine{}
		p, store := newFixture(t, eng)
		tn := connectTenant(t, store, tenants.ProviderGmail)
		tn.EngineCredentialID = "cred-existing"

		id, err := p.EnsureCredential(ctx, tn, bundle)
		require.NoError(t, err)
		assert.Equal(t, "cred-existing", *id)
		assert.Zero(t, eng.credentialCalls)
	})

	t.Run("engine rejection is non-fatal", func(t *testing.T) {
		eng := &fakeEngine{credentialErr: errors.New("payload shape rejected")}
		p, store := newFixture(t, eng)
		tn := connectTenant(t, store, tenants.ProviderGmail)

		id, err := p.EnsureCredential(ctx, tn, bundle)
		require.NoError(t, err)
		assert.Nil(t, id)

		got, err := store.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, tenants.StateCredentialSkipped, got.ProvisionState)
	})
}

func TestEnsureWorkflow(t *testing.T) {
	ctx := context.Background()

	t.Run("creates activates records", func(t *testing.T) {
		eng := &fakeEngine{}
		p, store := newFixture(t, eng)
		tn := connectTenant(t, store, tenants.ProviderGmail)

		cred := "cred-1"
		id, err := p.EnsureWorkflow(ctx, tn, &cred)
		require.NoError(t, err)
		assert.Equal(t, "wf-1", id)
		assert.Equal(t, 1, eng.workflowCalls)
		assert.Equal(t, 1, eng.activateCalls)

		got, err := store.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "wf-1", got.EngineWorkflowID)
		assert.Equal(t, tenants.StateWorkflowCreated, got.ProvisionState)
	})

	t.Run("second call creates nothing", func(t *testing.T) {
		eng := &fakeEngine{}
		p, store := newFixture(t, eng)
		tn := connectTenant(t, store, tenants.ProviderGmail)

		first, err := p.EnsureWorkflow(ctx, tn, nil)
		require.NoError(t, err)

		tn, err = store.Get(ctx, "t1")
		require.NoError(t, err)
		second, err := p.EnsureWorkflow(ctx, tn, nil)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 1, eng.workflowCalls, "create-workflow must run exactly once")
	})

	t.Run("renders without credential linkage", func(t *testing.T) {
		eng := &fakeEngine{}
		p, store := newFixture(t, eng)
		tn := connectTenant(t, store, tenants.ProviderOutlook)

		_, err := p.EnsureWorkflow(ctx, tn, nil)
		require.NoError(t, err)

		nodes := eng.lastWorkflow["nodes"].([]map[string]any)
		for _, n := range nodes {
			_, ok := n["credentials"]
			assert.False(t, ok, "node %v should have no credential binding", n["name"])
		}
	})
}

func TestEnsureProject(t *testing.T) {
	ctx := context.Background()

	t.Run("creates when absent", func(t *testing.T) {
		eng := &fakeEngine{}
		p, store := newFixture(t, eng)
		tn := connectTenant(t, store, tenants.ProviderGmail)

		id, err := p.EnsureProject(ctx, tn)
		require.NoError(t, err)
		assert.Equal(t, "proj-1", id)

		got, err := store.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "proj-1", got.EngineProjectID)
	})

	t.Run("unsupported edition is silent", func(t *testing.T) {
		eng := &fakeEngine{projectErr: engine.ErrProjectsUnsupported}
		p, store := newFixture(t, eng)
		tn := connectTenant(t, store, tenants.ProviderGmail)

		id, err := p.EnsureProject(ctx, tn)
		require.NoError(t, err)
		assert.Empty(t, id)
	})
}
