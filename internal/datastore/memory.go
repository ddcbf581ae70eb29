package datastore

import (
	"context"
	"sort"
	"sync"

	"github.com/Pallavikumarimdb/superglue/pkg/superglue"
)

// configKey identifies one ApiConfig-shaped entity within an org's configs.
type configKey struct {
	Type superglue.ConfigType
	ID   string
}

// MemoryStore is the in-process backend (DATASTORE_TYPE=memory): no
// encryption, no persistence across restarts, useful for tests and
// single-run CLI invocations.
type MemoryStore struct {
	mu           sync.RWMutex
	configs      map[string]map[configKey]*superglue.ApiConfig
	workflows    map[string]map[string]*superglue.Workflow
	integrations map[string]map[string]*superglue.Integration
	runs         map[string][]*superglue.WorkflowResult
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs:      make(map[string]map[configKey]*superglue.ApiConfig),
		workflows:    make(map[string]map[string]*superglue.Workflow),
		integrations: make(map[string]map[string]*superglue.Integration),
		runs:         make(map[string][]*superglue.WorkflowResult),
	}
}

func cloneConfig(c *superglue.ApiConfig) *superglue.ApiConfig {
	if c == nil {
		return nil
	}
	return c.Clone()
}

func cloneWorkflow(w *superglue.Workflow) *superglue.Workflow {
	if w == nil {
		return nil
	}
	clone := *w
	clone.Steps = append([]superglue.ExecutionStep(nil), w.Steps...)
	clone.IntegrationIDs = append([]string(nil), w.IntegrationIDs...)
	return &clone
}

func cloneIntegration(i *superglue.Integration) *superglue.Integration {
	if i == nil {
		return nil
	}
	clone := *i
	if i.Credentials != nil {
		clone.Credentials = make(map[string]string, len(i.Credentials))
		for k, v := range i.Credentials {
			clone.Credentials[k] = v
		}
	}
	return &clone
}

func (m *MemoryStore) GetConfig(_ context.Context, orgID string, configType superglue.ConfigType, id string) (*superglue.ApiConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[orgID][configKey{configType, id}]
	if !ok {
		return nil, nil
	}
	return cloneConfig(cfg), nil
}

func (m *MemoryStore) ListConfigs(_ context.Context, orgID string, configType superglue.ConfigType) ([]*superglue.ApiConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*superglue.ApiConfig
	for key, cfg := range m.configs[orgID] {
		if key.Type == configType {
			out = append(out, cloneConfig(cfg))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) UpsertConfig(_ context.Context, orgID string, configType superglue.ConfigType, cfg *superglue.ApiConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.configs[orgID] == nil {
		m.configs[orgID] = make(map[configKey]*superglue.ApiConfig)
	}
	stored := cloneConfig(cfg)
	stored.Type = configType
	m.configs[orgID][configKey{configType, cfg.ID}] = stored
	return nil
}

func (m *MemoryStore) DeleteConfig(_ context.Context, orgID string, configType superglue.ConfigType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.configs[orgID], configKey{configType, id})
	return nil
}

func (m *MemoryStore) GetWorkflow(_ context.Context, orgID, id string) (*superglue.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneWorkflow(m.workflows[orgID][id]), nil
}

func (m *MemoryStore) ListWorkflows(_ context.Context, orgID string) ([]*superglue.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*superglue.Workflow
	for _, wf := range m.workflows[orgID] {
		out = append(out, cloneWorkflow(wf))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) UpsertWorkflow(_ context.Context, orgID string, wf *superglue.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.workflows[orgID] == nil {
		m.workflows[orgID] = make(map[string]*superglue.Workflow)
	}
	m.workflows[orgID][wf.ID] = cloneWorkflow(wf)
	return nil
}

func (m *MemoryStore) DeleteWorkflow(_ context.Context, orgID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workflows[orgID], id)
	return nil
}

func (m *MemoryStore) GetIntegration(_ context.Context, orgID, id string) (*superglue.Integration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneIntegration(m.integrations[orgID][id]), nil
}

func (m *MemoryStore) ListIntegrations(_ context.Context, orgID string) ([]*superglue.Integration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*superglue.Integration
	for _, integration := range m.integrations[orgID] {
		out = append(out, cloneIntegration(integration))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) UpsertIntegration(_ context.Context, orgID string, integration *superglue.Integration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.integrations[orgID] == nil {
		m.integrations[orgID] = make(map[string]*superglue.Integration)
	}
	m.integrations[orgID][integration.ID] = cloneIntegration(integration)
	return nil
}

func (m *MemoryStore) DeleteIntegration(_ context.Context, orgID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.integrations[orgID], id)
	return nil
}

func (m *MemoryStore) CreateRun(_ context.Context, orgID string, run *superglue.WorkflowResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[orgID] = append(m.runs[orgID], run)
	return nil
}

func (m *MemoryStore) UpdateRun(_ context.Context, orgID string, run *superglue.WorkflowResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.runs[orgID] {
		if existing.ID == run.ID {
			m.runs[orgID][i] = run
			return nil
		}
	}
	m.runs[orgID] = append(m.runs[orgID], run)
	return nil
}

func (m *MemoryStore) ListRuns(_ context.Context, orgID string, opts RunListOptions) ([]*superglue.WorkflowResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterAndPageRuns(m.runs[orgID], opts), nil
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

func (m *MemoryStore) Disconnect(_ context.Context) error { return nil }

// filterAndPageRuns applies ListRuns' shared filter/sort/page semantics
// (newest-first by startedAt, optional configId filter, limit/offset) so
// MemoryStore and FileStore behave identically.
func filterAndPageRuns(runs []*superglue.WorkflowResult, opts RunListOptions) []*superglue.WorkflowResult {
	var matched []*superglue.WorkflowResult
	for _, r := range runs {
		if opts.ConfigID != "" && (r.Config == nil || r.Config.ID != opts.ConfigID) {
			continue
		}
		matched = append(matched, r)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}
	return matched
}
