package tenants

import (
	"errors"
	"time"
)

// Mail providers a tenant can connect.
const (
	ProviderGmail   = "gmail"
	ProviderOutlook = "outlook"
)

// Provisioning states for a tenant's engine resources. Each transition is
// persisted immediately so a retried callback resumes instead of re-running
// side-effecting calls.
const (
	StateNotStarted        = "not_started"
	StateTokensSaved       = "tokens_saved"
	StateCredentialCreated = "credential_created"
	StateCredentialSkipped = "credential_skipped"
	StateWorkflowCreated   = "workflow_created"
	StateComplete          = "complete"
)

var ErrNotFound = errors.New("tenant not found")

// Tenant is one onboarded agency account, the unit of data isolation.
// TokenCiphertext is the vault-sealed OAuth token bundle; at most one mail
// provider is active at a time and the ciphertext is present iff
// EmailProvider is set.
type Tenant struct {
	ID            string // uuid
	Name          string // display name (acme realty)
	EmailProvider string // gmail | outlook | "" (disconnected)

	TokenCiphertext []byte

	// Engine-side resource ids recorded by the provisioner.
	EngineCredentialID string
	EngineWorkflowID   string
	EngineProjectID    string

	ProvisionState string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Connected reports whether the tenant has a live mailbox connection.
func (t Tenant) Connected() bool { return t.EmailProvider != "" && len(t.TokenCiphertext) > 0 }
