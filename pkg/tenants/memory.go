// pkg/tenants/memory.go
package tenants

import (
	"context"
	"sync"
	"time"
)

// memStore is the in-memory Store used when no DATABASE_URL is configured
// (dev, tests). Mutations mirror the column scoping of the pg store.
type memStore struct {
	mu   sync.Mutex
	byID map[string]Tenant
}

func NewMemoryStore() Store {
	return &memStore{byID: map[string]Tenant{}}
}

func (m *memStore) Get(ctx context.Context, id string) (Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return t, nil
}

func (m *memStore) ConnectProvider(ctx context.Context, id, name, provider string, tokenCiphertext []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		t = Tenant{ID: id, ProvisionState: StateNotStarted, CreatedAt: time.Now()}
	}
	if name != "" {
		t.Name = name
	}
	// Credential and workflow linkage follows the provider; the project
	// folder is tenant-scoped and survives a switch.
	if t.EmailProvider != provider {
		t.EngineCredentialID = ""
		t.EngineWorkflowID = ""
	}
	t.EmailProvider = provider
	t.TokenCiphertext = tokenCiphertext
	t.ProvisionState = StateTokensSaved
	t.UpdatedAt = time.Now()
	m.byID[id] = t
	return nil
}

func (m *memStore) SaveTokens(ctx context.Context, id string, tokenCiphertext []byte) error {
	return m.update(id, func(t *Tenant) { t.TokenCiphertext = tokenCiphertext })
}

func (m *memStore) SetCredential(ctx context.Context, id, credentialID, state string) error {
	return m.update(id, func(t *Tenant) {
		t.EngineCredentialID = credentialID
		t.ProvisionState = state
	})
}

func (m *memStore) SetWorkflow(ctx context.Context, id, workflowID string) error {
	return m.update(id, func(t *Tenant) {
		t.EngineWorkflowID = workflowID
		t.ProvisionState = StateWorkflowCreated
	})
}

func (m *memStore) SetProject(ctx context.Context, id, projectID string) error {
	return m.update(id, func(t *Tenant) { t.EngineProjectID = projectID })
}

func (m *memStore) MarkComplete(ctx context.Context, id string) error {
	return m.update(id, func(t *Tenant) { t.ProvisionState = StateComplete })
}

func (m *memStore) Disconnect(ctx context.Context, id string) error {
	return m.update(id, func(t *Tenant) {
		t.EmailProvider = ""
		t.TokenCiphertext = nil
		t.ProvisionState = StateNotStarted
	})
}

func (m *memStore) update(id string, fn func(*Tenant)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	fn(&t)
	t.UpdatedAt = time.Now()
	m.byID[id] = t
	return nil
}
