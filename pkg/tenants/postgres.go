// pkg/tenants/postgres.go
package tenants

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// pgStore implements Store backed by PostgreSQL.
type pgStore struct {
	dbPool *pgxpool.Pool
	log    *zap.SugaredLogger
}

// NewPostgresStore constructs a PostgreSQL-backed tenant store.
func NewPostgresStore(dbPool *pgxpool.Pool, log *zap.SugaredLogger) Store {
	return &pgStore{dbPool: dbPool, log: log}
}

// EnsureSchema creates required tables if they do not already exist.
// Safe to call repeatedly (idempotent).
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tenants (
  id uuid PRIMARY KEY,
  name text NOT NULL DEFAULT '',
  email_provider text NOT NULL DEFAULT '',
  email_oauth_tokens bytea,
  engine_credential_id text NOT NULL DEFAULT '',
  engine_workflow_id text NOT NULL DEFAULT '',
  engine_project_id text NOT NULL DEFAULT '',
  provision_state text NOT NULL DEFAULT 'not_started',
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
-- Backfill / ensure columns exist (for upgrades)
ALTER TABLE tenants ADD COLUMN IF NOT EXISTS email_provider text NOT NULL DEFAULT '';
ALTER TABLE tenants ADD COLUMN IF NOT EXISTS email_oauth_tokens bytea;
ALTER TABLE tenants ADD COLUMN IF NOT EXISTS engine_credential_id text NOT NULL DEFAULT '';
ALTER TABLE tenants ADD COLUMN IF NOT EXISTS engine_workflow_id text NOT NULL DEFAULT '';
ALTER TABLE tenants ADD COLUMN IF NOT EXISTS engine_project_id text NOT NULL DEFAULT '';
ALTER TABLE tenants ADD COLUMN IF NOT EXISTS provision_state text NOT NULL DEFAULT 'not_started';
`)
	return err
}

const tenantCols = `id,name,email_provider,COALESCE(email_oauth_tokens,''::bytea),engine_credential_id,engine_workflow_id,engine_project_id,provision_state,created_at,updated_at`

func scanTenant(row pgx.Row) (Tenant, error) {
	var t Tenant
	if err := row.Scan(&t.ID, &t.Name, &t.EmailProvider, &t.TokenCiphertext, &t.EngineCredentialID, &t.EngineWorkflowID, &t.EngineProjectID, &t.ProvisionState, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Tenant{}, ErrNotFound
	}
	if len(t.TokenCiphertext) == 0 {
		t.TokenCiphertext = nil
	}
	return t, nil
}

func (s *pgStore) Get(ctx context.Context, id string) (Tenant, error) {
	row := s.dbPool.QueryRow(ctx, `SELECT `+tenantCols+` FROM tenants WHERE id=$1`, id)
	return scanTenant(row)
}

func (s *pgStore) ConnectProvider(ctx context.Context, id, name, provider string, tokenCiphertext []byte) error {
	// Switching provider invalidates the recorded credential/workflow
	// linkage: those resources belong to the old provider's template. The
	// engine-side objects stay put for ops cleanup; only the record resets
	// so provisioning follows the active provider. The project folder is
	// tenant-scoped and survives.
	_, err := s.dbPool.Exec(ctx, `INSERT INTO tenants(id,name,email_provider,email_oauth_tokens,provision_state)
	  VALUES ($1,$2,$3,$4,$5)
	  ON CONFLICT (id) DO UPDATE SET
	    name=CASE WHEN EXCLUDED.name<>'' THEN EXCLUDED.name ELSE tenants.name END,
	    email_provider=EXCLUDED.email_provider,
	    email_oauth_tokens=EXCLUDED.email_oauth_tokens,
	    engine_credential_id=CASE WHEN tenants.email_provider=EXCLUDED.email_provider THEN tenants.engine_credential_id ELSE '' END,
	    engine_workflow_id=CASE WHEN tenants.email_provider=EXCLUDED.email_provider THEN tenants.engine_workflow_id ELSE '' END,
	    provision_state=EXCLUDED.provision_state,
	    updated_at=NOW()`,
		id, name, provider, tokenCiphertext, StateTokensSaved)
	return err
}

func (s *pgStore) SaveTokens(ctx context.Context, id string, tokenCiphertext []byte) error {
	tag, err := s.dbPool.Exec(ctx, `UPDATE tenants SET email_oauth_tokens=$2, updated_at=NOW() WHERE id=$1`, id, tokenCiphertext)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) SetCredential(ctx context.Context, id, credentialID, state string) error {
	_, err := s.dbPool.Exec(ctx, `UPDATE tenants SET engine_credential_id=$2, provision_state=$3, updated_at=NOW() WHERE id=$1`, id, credentialID, state)
	return err
}

func (s *pgStore) SetWorkflow(ctx context.Context, id, workflowID string) error {
	_, err := s.dbPool.Exec(ctx, `UPDATE tenants SET engine_workflow_id=$2, provision_state=$3, updated_at=NOW() WHERE id=$1`, id, workflowID, StateWorkflowCreated)
	return err
}

func (s *pgStore) SetProject(ctx context.Context, id, projectID string) error {
	_, err := s.dbPool.Exec(ctx, `UPDATE tenants SET engine_project_id=$2, updated_at=NOW() WHERE id=$1`, id, projectID)
	return err
}

func (s *pgStore) MarkComplete(ctx context.Context, id string) error {
	_, err := s.dbPool.Exec(ctx, `UPDATE tenants SET provision_state=$2, updated_at=NOW() WHERE id=$1`, id, StateComplete)
	return err
}

func (s *pgStore) Disconnect(ctx context.Context, id string) error {
	tag, err := s.dbPool.Exec(ctx, `UPDATE tenants SET email_provider='', email_oauth_tokens=NULL, provision_state=$2, updated_at=NOW() WHERE id=$1`, id, StateNotStarted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
