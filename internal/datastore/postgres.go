package datastore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Pallavikumarimdb/superglue/internal/database"
	"github.com/Pallavikumarimdb/superglue/internal/errhandling"
	"github.com/Pallavikumarimdb/superglue/pkg/superglue"
)

// schema matches §4.8: one configurations table keyed by (id, type, orgId)
// serving the API/EXTRACT/TRANSFORM config families, plus workflows, runs,
// integrations, and tenant_info tables. integration_ids is extracted into
// its own column so it can carry a GIN index for "which workflows use
// integration X" lookups.
const schema = `
CREATE TABLE IF NOT EXISTS configurations (
	id      TEXT NOT NULL,
	type    TEXT NOT NULL,
	org_id  TEXT NOT NULL,
	data    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (id, type, org_id)
);

CREATE TABLE IF NOT EXISTS workflows (
	id      TEXT NOT NULL,
	org_id  TEXT NOT NULL,
	data    JSONB NOT NULL,
	integration_ids TEXT[] NOT NULL DEFAULT '{}',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (id, org_id)
);
CREATE INDEX IF NOT EXISTS workflows_integration_ids_gin ON workflows USING GIN (integration_ids);

CREATE TABLE IF NOT EXISTS integrations (
	id      TEXT NOT NULL,
	org_id  TEXT NOT NULL,
	data    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (id, org_id)
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT NOT NULL,
	org_id     TEXT NOT NULL,
	config_id  TEXT,
	started_at TIMESTAMPTZ NOT NULL,
	data       JSONB NOT NULL,
	PRIMARY KEY (id, org_id)
);
CREATE INDEX IF NOT EXISTS runs_org_started_idx ON runs (org_id, started_at DESC);

CREATE TABLE IF NOT EXISTS tenant_info (
	org_id  TEXT PRIMARY KEY,
	data    JSONB NOT NULL DEFAULT '{}'::jsonb
);
`

// PostgresService is the DATASTORE_TYPE=postgres backend, pooled through
// pgx/v5 the same way internal/pgcaller pools connections for step execution
// — one pool per process, acquired per query and released on return.
type PostgresService struct {
	pool   *pgxpool.Pool
	cipher *Cipher
}

// NewPostgresService connects to connString and ensures the schema exists.
// cipher may be nil, storing Integration credentials in plaintext.
func NewPostgresService(ctx context.Context, connString string, cipher *Cipher) (*PostgresService, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, database.ClassifyDatabaseError(err, database.DriverPostgres, "connect", "", 0)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, database.ClassifyDatabaseError(err, database.DriverPostgres, "migrate", schema, 0)
	}
	return &PostgresService{pool: pool, cipher: cipher}, nil
}

func (p *PostgresService) GetConfig(ctx context.Context, orgID string, configType superglue.ConfigType, id string) (*superglue.ApiConfig, error) {
	row := p.pool.QueryRow(ctx, `SELECT data FROM configurations WHERE id=$1 AND type=$2 AND org_id=$3`, id, string(configType), orgID)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, database.ClassifyDatabaseError(err, database.DriverPostgres, "select", "configurations", 3)
	}
	var cfg superglue.ApiConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, errhandling.DatastoreError("unmarshaling config", err)
	}
	return &cfg, nil
}

func (p *PostgresService) ListConfigs(ctx context.Context, orgID string, configType superglue.ConfigType) ([]*superglue.ApiConfig, error) {
	rows, err := p.pool.Query(ctx, `SELECT data FROM configurations WHERE type=$1 AND org_id=$2 ORDER BY id`, string(configType), orgID)
	if err != nil {
		return nil, database.ClassifyDatabaseError(err, database.DriverPostgres, "select", "configurations", 2)
	}
	defer rows.Close()

	var out []*superglue.ApiConfig
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, database.ClassifyDatabaseError(err, database.DriverPostgres, "select", "configurations", 0)
		}
		var cfg superglue.ApiConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, errhandling.DatastoreError("unmarshaling config", err)
		}
		out = append(out, &cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, database.ClassifyDatabaseError(err, database.DriverPostgres, "select", "configurations", 0)
	}
	return out, nil
}

func (p *PostgresService) UpsertConfig(ctx context.Context, orgID string, configType superglue.ConfigType, cfg *superglue.ApiConfig) error {
	stored := cfg.Clone()
	stored.Type = configType
	data, err := json.Marshal(stored)
	if err != nil {
		return errhandling.DatastoreError("marshaling config", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO configurations (id, type, org_id, data, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id, type, org_id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, cfg.ID, string(configType), orgID, data)
	if err != nil {
		return database.ClassifyDatabaseError(err, database.DriverPostgres, "upsert", "configurations", 4)
	}
	return nil
}

func (p *PostgresService) DeleteConfig(ctx context.Context, orgID string, configType superglue.ConfigType, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM configurations WHERE id=$1 AND type=$2 AND org_id=$3`, id, string(configType), orgID)
	if err != nil {
		return database.ClassifyDatabaseError(err, database.DriverPostgres, "delete", "configurations", 3)
	}
	return nil
}

func (p *PostgresService) GetWorkflow(ctx context.Context, orgID, id string) (*superglue.Workflow, error) {
	row := p.pool.QueryRow(ctx, `SELECT data FROM workflows WHERE id=$1 AND org_id=$2`, id, orgID)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, database.ClassifyDatabaseError(err, database.DriverPostgres, "select", "workflows", 2)
	}
	var wf superglue.Workflow
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, errhandling.DatastoreError("unmarshaling workflow", err)
	}
	return &wf, nil
}

func (p *PostgresService) ListWorkflows(ctx context.Context, orgID string) ([]*superglue.Workflow, error) {
	rows, err := p.pool.Query(ctx, `SELECT data FROM workflows WHERE org_id=$1 ORDER BY id`, orgID)
	if err != nil {
		return nil, database.ClassifyDatabaseError(err, database.DriverPostgres, "select", "workflows", 1)
	}
	defer rows.Close()

	var out []*superglue.Workflow
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, database.ClassifyDatabaseError(err, database.DriverPostgres, "select", "workflows", 0)
		}
		var wf superglue.Workflow
		if err := json.Unmarshal(raw, &wf); err != nil {
			return nil, errhandling.DatastoreError("unmarshaling workflow", err)
		}
		out = append(out, &wf)
	}
	if err := rows.Err(); err != nil {
		return nil, database.ClassifyDatabaseError(err, database.DriverPostgres, "select", "workflows", 0)
	}
	return out, nil
}

func (p *PostgresService) UpsertWorkflow(ctx context.Context, orgID string, wf *superglue.Workflow) error {
	data, err := json.Marshal(wf)
	if err != nil {
		return errhandling.DatastoreError("marshaling workflow", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO workflows (id, org_id, data, integration_ids, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id, org_id) DO UPDATE SET data = EXCLUDED.data, integration_ids = EXCLUDED.integration_ids, updated_at = now()
	`, wf.ID, orgID, data, wf.IntegrationIDs)
	if err != nil {
		return database.ClassifyDatabaseError(err, database.DriverPostgres, "upsert", "workflows", 4)
	}
	return nil
}

func (p *PostgresService) DeleteWorkflow(ctx context.Context, orgID, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM workflows WHERE id=$1 AND org_id=$2`, id, orgID)
	if err != nil {
		return database.ClassifyDatabaseError(err, database.DriverPostgres, "delete", "workflows", 2)
	}
	return nil
}

func (p *PostgresService) GetIntegration(ctx context.Context, orgID, id string) (*superglue.Integration, error) {
	row := p.pool.QueryRow(ctx, `SELECT data FROM integrations WHERE id=$1 AND org_id=$2`, id, orgID)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, database.ClassifyDatabaseError(err, database.DriverPostgres, "select", "integrations", 2)
	}
	return p.decodeIntegration(raw)
}

func (p *PostgresService) ListIntegrations(ctx context.Context, orgID string) ([]*superglue.Integration, error) {
	rows, err := p.pool.Query(ctx, `SELECT data FROM integrations WHERE org_id=$1 ORDER BY id`, orgID)
	if err != nil {
		return nil, database.ClassifyDatabaseError(err, database.DriverPostgres, "select", "integrations", 1)
	}
	defer rows.Close()

	var out []*superglue.Integration
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, database.ClassifyDatabaseError(err, database.DriverPostgres, "select", "integrations", 0)
		}
		integration, err := p.decodeIntegration(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, integration)
	}
	if err := rows.Err(); err != nil {
		return nil, database.ClassifyDatabaseError(err, database.DriverPostgres, "select", "integrations", 0)
	}
	return out, nil
}

func (p *PostgresService) decodeIntegration(raw []byte) (*superglue.Integration, error) {
	var integration superglue.Integration
	if err := json.Unmarshal(raw, &integration); err != nil {
		return nil, errhandling.DatastoreError("unmarshaling integration", err)
	}
	if p.cipher != nil {
		creds, err := p.cipher.DecryptCredentials(integration.Credentials)
		if err != nil {
			return nil, err
		}
		integration.Credentials = creds
	}
	return &integration, nil
}

func (p *PostgresService) UpsertIntegration(ctx context.Context, orgID string, integration *superglue.Integration) error {
	stored := cloneIntegration(integration)
	if p.cipher != nil {
		encrypted, err := p.cipher.EncryptCredentials(stored.Credentials)
		if err != nil {
			return err
		}
		stored.Credentials = encrypted
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return errhandling.DatastoreError("marshaling integration", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO integrations (id, org_id, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id, org_id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, integration.ID, orgID, data)
	if err != nil {
		return database.ClassifyDatabaseError(err, database.DriverPostgres, "upsert", "integrations", 3)
	}
	return nil
}

func (p *PostgresService) DeleteIntegration(ctx context.Context, orgID, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM integrations WHERE id=$1 AND org_id=$2`, id, orgID)
	if err != nil {
		return database.ClassifyDatabaseError(err, database.DriverPostgres, "delete", "integrations", 2)
	}
	return nil
}

func (p *PostgresService) CreateRun(ctx context.Context, orgID string, run *superglue.WorkflowResult) error {
	return p.writeRun(ctx, orgID, run)
}

func (p *PostgresService) UpdateRun(ctx context.Context, orgID string, run *superglue.WorkflowResult) error {
	return p.writeRun(ctx, orgID, run)
}

func (p *PostgresService) writeRun(ctx context.Context, orgID string, run *superglue.WorkflowResult) error {
	data, err := json.Marshal(run)
	if err != nil {
		return errhandling.DatastoreError("marshaling run", err)
	}
	var configID *string
	if run.Config != nil && run.Config.ID != "" {
		configID = &run.Config.ID
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO runs (id, org_id, config_id, started_at, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id, org_id) DO UPDATE SET data = EXCLUDED.data, config_id = EXCLUDED.config_id
	`, run.ID, orgID, configID, run.StartedAt, data)
	if err != nil {
		return database.ClassifyDatabaseError(err, database.DriverPostgres, "upsert", "runs", 5)
	}
	return nil
}

func (p *PostgresService) ListRuns(ctx context.Context, orgID string, opts RunListOptions) ([]*superglue.WorkflowResult, error) {
	query := `SELECT data FROM runs WHERE org_id=$1`
	args := []interface{}{orgID}
	if opts.ConfigID != "" {
		args = append(args, opts.ConfigID)
		query += fmt.Sprintf(" AND config_id=$%d", len(args))
	}
	query += " ORDER BY started_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, database.ClassifyDatabaseError(err, database.DriverPostgres, "select", "runs", len(args))
	}
	defer rows.Close()

	var out []*superglue.WorkflowResult
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, database.ClassifyDatabaseError(err, database.DriverPostgres, "select", "runs", 0)
		}
		var run superglue.WorkflowResult
		if err := json.Unmarshal(raw, &run); err != nil {
			return nil, errhandling.DatastoreError("unmarshaling run", err)
		}
		out = append(out, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, database.ClassifyDatabaseError(err, database.DriverPostgres, "select", "runs", 0)
	}
	return out, nil
}

func (p *PostgresService) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return database.ClassifyDatabaseError(err, database.DriverPostgres, "ping", "", 0)
	}
	return nil
}

func (p *PostgresService) Disconnect(_ context.Context) error {
	p.pool.Close()
	return nil
}
