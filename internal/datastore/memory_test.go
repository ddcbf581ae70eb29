package datastore

import (
	"context"
	"testing"
	"time"

	"github.com/Pallavikumarimdb/superglue/pkg/superglue"
)

func TestMemoryStore_ConfigCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	got, err := store.GetConfig(ctx, "org1", superglue.ConfigTypeAPI, "missing")
	if err != nil || got != nil {
		t.Fatalf("GetConfig() for a missing id = (%v, %v), want (nil, nil)", got, err)
	}

	cfg := &superglue.ApiConfig{ID: "cfg1", URLHost: "https://api.example.com"}
	if err := store.UpsertConfig(ctx, "org1", superglue.ConfigTypeAPI, cfg); err != nil {
		t.Fatalf("UpsertConfig() error: %v", err)
	}

	got, err = store.GetConfig(ctx, "org1", superglue.ConfigTypeAPI, "cfg1")
	if err != nil {
		t.Fatalf("GetConfig() error: %v", err)
	}
	if got == nil || got.URLHost != "https://api.example.com" {
		t.Fatalf("GetConfig() = %+v, want URLHost set", got)
	}
	if got.Type != superglue.ConfigTypeAPI {
		t.Errorf("GetConfig().Type = %q, want API", got.Type)
	}

	// A config with the same id but a different type/org is a distinct entity.
	got2, err := store.GetConfig(ctx, "org1", superglue.ConfigTypeExtract, "cfg1")
	if err != nil {
		t.Fatalf("GetConfig() error: %v", err)
	}
	if got2 != nil {
		t.Error("GetConfig() found a config under the wrong type, type isolation broken")
	}
	got3, err := store.GetConfig(ctx, "org2", superglue.ConfigTypeAPI, "cfg1")
	if err != nil {
		t.Fatalf("GetConfig() error: %v", err)
	}
	if got3 != nil {
		t.Error("GetConfig() found a config under the wrong org, org isolation broken")
	}

	got.URLHost = "mutated-after-read"
	reread, _ := store.GetConfig(ctx, "org1", superglue.ConfigTypeAPI, "cfg1")
	if reread.URLHost == "mutated-after-read" {
		t.Error("GetConfig() returned a live reference, not a copy")
	}

	if err := store.DeleteConfig(ctx, "org1", superglue.ConfigTypeAPI, "cfg1"); err != nil {
		t.Fatalf("DeleteConfig() error: %v", err)
	}
	if got, _ := store.GetConfig(ctx, "org1", superglue.ConfigTypeAPI, "cfg1"); got != nil {
		t.Error("GetConfig() after delete should return nil")
	}
}

func TestMemoryStore_IntegrationCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	integration := &superglue.Integration{ID: "slack", Credentials: map[string]string{"token": "abc"}}
	if err := store.UpsertIntegration(ctx, "org1", integration); err != nil {
		t.Fatalf("UpsertIntegration() error: %v", err)
	}

	got, err := store.GetIntegration(ctx, "org1", "slack")
	if err != nil {
		t.Fatalf("GetIntegration() error: %v", err)
	}
	if got.Credentials["token"] != "abc" {
		t.Errorf("GetIntegration().Credentials = %v", got.Credentials)
	}

	all, err := store.ListIntegrations(ctx, "org1")
	if err != nil || len(all) != 1 {
		t.Fatalf("ListIntegrations() = (%v, %v), want 1 entry", all, err)
	}
}

func TestMemoryStore_ListRunsNewestFirstAndPaginated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		run := &superglue.WorkflowResult{
			RunResult: superglue.RunResult{
				ID:        "run" + string(rune('0'+i)),
				StartedAt: base.Add(time.Duration(i) * time.Hour),
				Config:    &superglue.ApiConfig{ID: "cfg1"},
			},
		}
		if err := store.CreateRun(ctx, "org1", run); err != nil {
			t.Fatalf("CreateRun() error: %v", err)
		}
	}

	runs, err := store.ListRuns(ctx, "org1", RunListOptions{})
	if err != nil {
		t.Fatalf("ListRuns() error: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("ListRuns() returned %d runs, want 3", len(runs))
	}
	if runs[0].ID != "run2" || runs[2].ID != "run0" {
		t.Errorf("ListRuns() order = %v, want newest-first", []string{runs[0].ID, runs[1].ID, runs[2].ID})
	}

	paged, err := store.ListRuns(ctx, "org1", RunListOptions{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListRuns() error: %v", err)
	}
	if len(paged) != 1 || paged[0].ID != "run1" {
		t.Errorf("ListRuns(limit=1,offset=1) = %v, want [run1]", paged)
	}
}

func TestMemoryStore_ListRunsFiltersByConfigID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_ = store.CreateRun(ctx, "org1", &superglue.WorkflowResult{RunResult: superglue.RunResult{
		ID: "a", StartedAt: time.Now(), Config: &superglue.ApiConfig{ID: "cfg1"},
	}})
	_ = store.CreateRun(ctx, "org1", &superglue.WorkflowResult{RunResult: superglue.RunResult{
		ID: "b", StartedAt: time.Now(), Config: &superglue.ApiConfig{ID: "cfg2"},
	}})

	runs, err := store.ListRuns(ctx, "org1", RunListOptions{ConfigID: "cfg2"})
	if err != nil {
		t.Fatalf("ListRuns() error: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "b" {
		t.Errorf("ListRuns(configId=cfg2) = %v, want [b]", runs)
	}
}

func TestMemoryStore_PingAndDisconnect(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
	if err := store.Disconnect(context.Background()); err != nil {
		t.Errorf("Disconnect() error: %v", err)
	}
}
