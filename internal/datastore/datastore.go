// Package datastore implements the pluggable persistence layer (§4.8): one
// capability set — get, list, upsert, delete, ping, disconnect — per entity
// family, satisfied by three interchangeable backends (MemoryStore,
// FileStore, PostgresService) selected by DATASTORE_TYPE. Every method is
// scoped by orgId; missing entities return (nil, nil) rather than an error,
// and list operations silently skip ids that don't resolve.
package datastore

import (
	"context"

	"github.com/Pallavikumarimdb/superglue/pkg/superglue"
)

// RunListOptions filters and paginates ListRuns (§4.8: "newest-first by
// startedAt, paginated by (limit, offset), optionally filtered by configId").
type RunListOptions struct {
	ConfigID string
	Limit    int
	Offset   int
}

// Store is the capability set every backend implements. Config* methods
// cover the API/EXTRACT/TRANSFORM config families, which all share the
// ApiConfig shape and are disambiguated only by ConfigType.
type Store interface {
	GetConfig(ctx context.Context, orgID string, configType superglue.ConfigType, id string) (*superglue.ApiConfig, error)
	ListConfigs(ctx context.Context, orgID string, configType superglue.ConfigType) ([]*superglue.ApiConfig, error)
	UpsertConfig(ctx context.Context, orgID string, configType superglue.ConfigType, cfg *superglue.ApiConfig) error
	DeleteConfig(ctx context.Context, orgID string, configType superglue.ConfigType, id string) error

	GetWorkflow(ctx context.Context, orgID, id string) (*superglue.Workflow, error)
	ListWorkflows(ctx context.Context, orgID string) ([]*superglue.Workflow, error)
	UpsertWorkflow(ctx context.Context, orgID string, wf *superglue.Workflow) error
	DeleteWorkflow(ctx context.Context, orgID, id string) error

	GetIntegration(ctx context.Context, orgID, id string) (*superglue.Integration, error)
	ListIntegrations(ctx context.Context, orgID string) ([]*superglue.Integration, error)
	UpsertIntegration(ctx context.Context, orgID string, integration *superglue.Integration) error
	DeleteIntegration(ctx context.Context, orgID, id string) error

	CreateRun(ctx context.Context, orgID string, run *superglue.WorkflowResult) error
	UpdateRun(ctx context.Context, orgID string, run *superglue.WorkflowResult) error
	ListRuns(ctx context.Context, orgID string, opts RunListOptions) ([]*superglue.WorkflowResult, error)

	Ping(ctx context.Context) error
	Disconnect(ctx context.Context) error
}
