package datastore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Pallavikumarimdb/superglue/internal/errhandling"
	"github.com/Pallavikumarimdb/superglue/internal/logger"
	"github.com/Pallavikumarimdb/superglue/pkg/superglue"
)

// documentFileName and logFileName match §6's on-disk layout.
const (
	documentFileName = "superglue_data.json"
	logFileName      = "superglue_logs.jsonl"
)

// document is the indexed JSON file's shape: top-level keys per entity
// family, each keyed first by orgId then by the entity's own id (apis,
// extracts, and transforms share one "configs" family distinguished by
// ConfigType, mirroring the Postgres backend's single table).
type document struct {
	Configs      map[string]map[string]*superglue.ApiConfig    `json:"configs"`
	Workflows    map[string]map[string]*superglue.Workflow    `json:"workflows"`
	Integrations map[string]map[string]*superglue.Integration `json:"integrations"`
}

func newDocument() *document {
	return &document{
		Configs:      make(map[string]map[string]*superglue.ApiConfig),
		Workflows:    make(map[string]map[string]*superglue.Workflow),
		Integrations: make(map[string]map[string]*superglue.Integration),
	}
}

func configDocKey(configType superglue.ConfigType, id string) string {
	return string(configType) + ":" + id
}

// FileStore is the DATASTORE_TYPE=file backend: one indexed JSON document
// for configs/workflows/integrations, and an append-only JSONL log for
// runs. Writes to the document are atomic (temp file + rename); the run
// log is append-only and tolerates corrupted trailing lines on read.
type FileStore struct {
	dir    string
	cipher *Cipher
	mu     sync.RWMutex
}

// NewFileStore creates a FileStore rooted at dir, creating it if necessary.
// cipher may be nil, in which case Integration credentials are stored in
// plaintext — callers should always supply one when MASTER_ENCRYPTION_KEY
// is configured.
func NewFileStore(dir string, cipher *Cipher) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errhandling.DatastoreError("creating storage directory", err)
	}
	return &FileStore{dir: dir, cipher: cipher}, nil
}

func (f *FileStore) docPath() string { return filepath.Join(f.dir, documentFileName) }
func (f *FileStore) logPath() string { return filepath.Join(f.dir, logFileName) }

// load reads the indexed document, returning a fresh empty one if the file
// doesn't exist yet (first run).
func (f *FileStore) load() (*document, error) {
	data, err := os.ReadFile(f.docPath())
	if err != nil {
		if os.IsNotExist(err) {
			return newDocument(), nil
		}
		return nil, errhandling.DatastoreError("reading data file", err)
	}
	doc := newDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, errhandling.DatastoreError("parsing data file", err)
	}
	if doc.Configs == nil {
		doc.Configs = make(map[string]map[string]*superglue.ApiConfig)
	}
	if doc.Workflows == nil {
		doc.Workflows = make(map[string]map[string]*superglue.Workflow)
	}
	if doc.Integrations == nil {
		doc.Integrations = make(map[string]map[string]*superglue.Integration)
	}
	return doc, nil
}

// save writes doc atomically: temp file in the same directory, then rename,
// following the state-store idiom of writing a temp file and renaming it
// into place so a crash mid-write never corrupts the last good document.
func (f *FileStore) save(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errhandling.DatastoreError("marshaling data file", err)
	}
	tempPath := f.docPath() + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return errhandling.DatastoreError("writing temp data file", err)
	}
	if err := os.Rename(tempPath, f.docPath()); err != nil {
		_ = os.Remove(tempPath)
		return errhandling.DatastoreError("renaming data file", err)
	}
	return nil
}

func (f *FileStore) GetConfig(_ context.Context, orgID string, configType superglue.ConfigType, id string) (*superglue.ApiConfig, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	doc, err := f.load()
	if err != nil {
		return nil, err
	}
	return cloneConfig(doc.Configs[orgID][configDocKey(configType, id)]), nil
}

func (f *FileStore) ListConfigs(_ context.Context, orgID string, configType superglue.ConfigType) ([]*superglue.ApiConfig, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	doc, err := f.load()
	if err != nil {
		return nil, err
	}
	var out []*superglue.ApiConfig
	for _, cfg := range doc.Configs[orgID] {
		if cfg.Type == configType {
			out = append(out, cloneConfig(cfg))
		}
	}
	return out, nil
}

func (f *FileStore) UpsertConfig(_ context.Context, orgID string, configType superglue.ConfigType, cfg *superglue.ApiConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return err
	}
	if doc.Configs[orgID] == nil {
		doc.Configs[orgID] = make(map[string]*superglue.ApiConfig)
	}
	stored := cloneConfig(cfg)
	stored.Type = configType
	doc.Configs[orgID][configDocKey(configType, cfg.ID)] = stored
	return f.save(doc)
}

func (f *FileStore) DeleteConfig(_ context.Context, orgID string, configType superglue.ConfigType, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return err
	}
	delete(doc.Configs[orgID], configDocKey(configType, id))
	return f.save(doc)
}

func (f *FileStore) GetWorkflow(_ context.Context, orgID, id string) (*superglue.Workflow, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	doc, err := f.load()
	if err != nil {
		return nil, err
	}
	return cloneWorkflow(doc.Workflows[orgID][id]), nil
}

func (f *FileStore) ListWorkflows(_ context.Context, orgID string) ([]*superglue.Workflow, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	doc, err := f.load()
	if err != nil {
		return nil, err
	}
	var out []*superglue.Workflow
	for _, wf := range doc.Workflows[orgID] {
		out = append(out, cloneWorkflow(wf))
	}
	return out, nil
}

func (f *FileStore) UpsertWorkflow(_ context.Context, orgID string, wf *superglue.Workflow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return err
	}
	if doc.Workflows[orgID] == nil {
		doc.Workflows[orgID] = make(map[string]*superglue.Workflow)
	}
	doc.Workflows[orgID][wf.ID] = cloneWorkflow(wf)
	return f.save(doc)
}

func (f *FileStore) DeleteWorkflow(_ context.Context, orgID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return err
	}
	delete(doc.Workflows[orgID], id)
	return f.save(doc)
}

func (f *FileStore) GetIntegration(_ context.Context, orgID, id string) (*superglue.Integration, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	doc, err := f.load()
	if err != nil {
		return nil, err
	}
	integration := doc.Integrations[orgID][id]
	if integration == nil {
		return nil, nil
	}
	return f.decrypted(integration)
}

func (f *FileStore) ListIntegrations(_ context.Context, orgID string) ([]*superglue.Integration, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	doc, err := f.load()
	if err != nil {
		return nil, err
	}
	var out []*superglue.Integration
	for _, integration := range doc.Integrations[orgID] {
		decrypted, err := f.decrypted(integration)
		if err != nil {
			return nil, err
		}
		out = append(out, decrypted)
	}
	return out, nil
}

func (f *FileStore) UpsertIntegration(_ context.Context, orgID string, integration *superglue.Integration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return err
	}
	if doc.Integrations[orgID] == nil {
		doc.Integrations[orgID] = make(map[string]*superglue.Integration)
	}
	stored := cloneIntegration(integration)
	if f.cipher != nil {
		encrypted, err := f.cipher.EncryptCredentials(stored.Credentials)
		if err != nil {
			return err
		}
		stored.Credentials = encrypted
	}
	doc.Integrations[orgID][integration.ID] = stored
	return f.save(doc)
}

func (f *FileStore) DeleteIntegration(_ context.Context, orgID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return err
	}
	delete(doc.Integrations[orgID], id)
	return f.save(doc)
}

func (f *FileStore) decrypted(integration *superglue.Integration) (*superglue.Integration, error) {
	out := cloneIntegration(integration)
	if f.cipher == nil {
		return out, nil
	}
	creds, err := f.cipher.DecryptCredentials(out.Credentials)
	if err != nil {
		return nil, err
	}
	out.Credentials = creds
	return out, nil
}

// runLine is the JSONL schema for one run record, namespaced by orgId since
// the log file is shared across every tenant.
type runLine struct {
	OrgID  string                    `json:"orgId"`
	Result *superglue.WorkflowResult `json:"result"`
}

func (f *FileStore) CreateRun(_ context.Context, orgID string, run *superglue.WorkflowResult) error {
	return f.appendRun(orgID, run)
}

func (f *FileStore) UpdateRun(_ context.Context, orgID string, run *superglue.WorkflowResult) error {
	// The run log is append-only (§3: "Runs are append-only — created at
	// execution start... finalized at completion"); an update is a second
	// line for the same id, and readers keep the last one they see.
	return f.appendRun(orgID, run)
}

func (f *FileStore) appendRun(orgID string, run *superglue.WorkflowResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	line, err := json.Marshal(runLine{OrgID: orgID, Result: run})
	if err != nil {
		return errhandling.DatastoreError("marshaling run", err)
	}

	file, err := os.OpenFile(f.logPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return errhandling.DatastoreError("opening run log", err)
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return errhandling.DatastoreError("appending run", err)
	}
	return nil
}

// readRuns scans the JSONL run log, keeping the latest record per run id
// (later lines for the same id are treated as the finalized version) and
// tolerating corrupted lines by filtering entries missing id or startedAt
// and logging a warning rather than failing the whole read. Config is
// optional: a multi-step workflow run has no single ApiConfig to attach,
// so only single-step/legacy run records ever carry one.
func (f *FileStore) readRuns(orgID string) ([]*superglue.WorkflowResult, error) {
	file, err := os.Open(f.logPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errhandling.DatastoreError("opening run log", err)
	}
	defer file.Close()

	byID := make(map[string]*superglue.WorkflowResult)
	var order []string

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry runLine
		if err := json.Unmarshal(line, &entry); err != nil {
			logger.Warn("datastore: skipping corrupted run log line", "line", lineNo, "error", err.Error())
			continue
		}
		if entry.OrgID != orgID {
			continue
		}
		if entry.Result == nil || entry.Result.ID == "" || entry.Result.StartedAt.IsZero() {
			logger.Warn("datastore: skipping run log line missing id or startedAt", "line", lineNo)
			continue
		}

		if _, seen := byID[entry.Result.ID]; !seen {
			order = append(order, entry.Result.ID)
		}
		byID[entry.Result.ID] = entry.Result
	}
	if err := scanner.Err(); err != nil {
		return nil, errhandling.DatastoreError("scanning run log", err)
	}

	out := make([]*superglue.WorkflowResult, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

func (f *FileStore) ListRuns(_ context.Context, orgID string, opts RunListOptions) ([]*superglue.WorkflowResult, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	runs, err := f.readRuns(orgID)
	if err != nil {
		return nil, err
	}
	return filterAndPageRuns(runs, opts), nil
}

func (f *FileStore) Ping(_ context.Context) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if _, err := os.Stat(f.dir); err != nil {
		return errhandling.DatastoreError(fmt.Sprintf("storage directory %q is unreachable", f.dir), err)
	}
	return nil
}

func (f *FileStore) Disconnect(_ context.Context) error { return nil }
