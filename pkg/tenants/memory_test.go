package tenants

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "t1")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.ConnectProvider(ctx, "t1", "Acme Realty", ProviderGmail, []byte("blob-1")))
	tn, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Realty", tn.Name)
	assert.Equal(t, StateTokensSaved, tn.ProvisionState)
	assert.True(t, tn.Connected())

	t.Run("updates touch only their columns", func(t *testing.T) {
		require.NoError(t, s.SetProject(ctx, "t1", "proj-1"))
		require.NoError(t, s.SetCredential(ctx, "t1", "cred-1", StateCredentialCreated))
		require.NoError(t, s.SetWorkflow(ctx, "t1", "wf-1"))
		require.NoError(t, s.MarkComplete(ctx, "t1"))

		tn, err := s.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "proj-1", tn.EngineProjectID)
		assert.Equal(t, "cred-1", tn.EngineCredentialID)
		assert.Equal(t, "wf-1", tn.EngineWorkflowID)
		assert.Equal(t, StateComplete, tn.ProvisionState)
		assert.Equal(t, []byte("blob-1"), tn.TokenCiphertext)
	})

	t.Run("reconnect with same provider keeps name and engine ids", func(t *testing.T) {
		require.NoError(t, s.ConnectProvider(ctx, "t1", "", ProviderGmail, []byte("blob-2")))
		tn, err := s.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "Acme Realty", tn.Name)
		assert.Equal(t, []byte("blob-2"), tn.TokenCiphertext)
		assert.Equal(t, "cred-1", tn.EngineCredentialID)
		assert.Equal(t, "wf-1", tn.EngineWorkflowID)
	})

	t.Run("switching provider resets credential and workflow linkage", func(t *testing.T) {
		require.NoError(t, s.ConnectProvider(ctx, "t1", "", ProviderOutlook, []byte("blob-3")))
		tn, err := s.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, ProviderOutlook, tn.EmailProvider)
		assert.Empty(t, tn.EngineCredentialID)
		assert.Empty(t, tn.EngineWorkflowID)
		// The project folder is tenant-scoped, not provider-scoped.
		assert.Equal(t, "proj-1", tn.EngineProjectID)
	})

	t.Run("disconnect clears tokens, keeps engine ids", func(t *testing.T) {
		require.NoError(t, s.SetWorkflow(ctx, "t1", "wf-2"))
		require.NoError(t, s.Disconnect(ctx, "t1"))
		tn, err := s.Get(ctx, "t1")
		require.NoError(t, err)
		assert.False(t, tn.Connected())
		assert.Empty(t, tn.TokenCiphertext)
		assert.Equal(t, "wf-2", tn.EngineWorkflowID)
	})

	t.Run("updates against unknown tenant", func(t *testing.T) {
		assert.ErrorIs(t, s.SaveTokens(ctx, "ghost", []byte("x")), ErrNotFound)
		assert.ErrorIs(t, s.Disconnect(ctx, "ghost"), ErrNotFound)
	})
}
