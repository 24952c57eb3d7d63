package tenants

import (
	"context"
)

// Store persists tenants. Every mutation is a scoped write on the row keyed
// by tenant id; last-writer-wins is accepted, so each method touches only the
// columns the corresponding onboarding step owns.
type Store interface {
	Get(ctx context.Context, id string) (Tenant, error)

	// ConnectProvider upserts the tenant and writes provider + sealed token
	// bundle + provision state tokens_saved in one statement. The bundle is
	// never written partially. When the provider changes, the recorded
	// credential and workflow ids are reset so the next provisioning run
	// creates resources for the active provider; the project id survives.
	ConnectProvider(ctx context.Context, id, name, provider string, tokenCiphertext []byte) error

	// SaveTokens replaces the sealed token bundle (refresh path). The row
	// must already exist.
	SaveTokens(ctx context.Context, id string, tokenCiphertext []byte) error

	// SetCredential records the engine credential id (may be empty when
	// creation was skipped) together with the resulting provision state.
	SetCredential(ctx context.Context, id, credentialID, state string) error

	// SetWorkflow records the engine workflow id and moves the state to
	// workflow_created.
	SetWorkflow(ctx context.Context, id, workflowID string) error

	// SetProject records the engine project id (no state transition; the
	// project folder is an optional namespacing resource).
	SetProject(ctx context.Context, id, projectID string) error

	// MarkComplete finalizes provisioning.
	MarkComplete(ctx context.Context, id string) error

	// Disconnect clears provider, tokens and provision state. Engine-side
	// resources are left in place for operational cleanup.
	Disconnect(ctx context.Context, id string) error
}
