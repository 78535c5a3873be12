package sql_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bcnelson/aws-org-manager/internal/domain"
	sqlstore "github.com/bcnelson/aws-org-manager/internal/storage/sql"
)

func newStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := sqlstore.New("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAPIKeys(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	key := &domain.APIKey{ID: "k1", Name: "ci", KeyHash: "hash-1", KeyPrefix: "abcd1234", Scope: domain.ScopeExecute, CreatedAt: now}
	if err := store.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}
	dup := &domain.APIKey{ID: "k2", Name: "other", KeyHash: "hash-1", KeyPrefix: "x", Scope: domain.ScopeRead, CreatedAt: now}
	if err := store.CreateAPIKey(ctx, dup); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}

	got, err := store.GetAPIKeyByHash(ctx, "hash-1")
	if err != nil {
		t.Fatalf("GetAPIKeyByHash failed: %v", err)
	}
	if got.Name != "ci" || got.Scope != domain.ScopeExecute || got.LastUsedAt != nil {
		t.Errorf("unexpected key: %+v", got)
	}

	if err := store.UpdateAPIKeyLastUsed(ctx, "k1"); err != nil {
		t.Fatalf("UpdateAPIKeyLastUsed failed: %v", err)
	}
	keys, err := store.ListAPIKeys(ctx)
	if err != nil {
		t.Fatalf("ListAPIKeys failed: %v", err)
	}
	if len(keys) != 1 || keys[0].LastUsedAt == nil {
		t.Errorf("Expected one used key, got %+v", keys)
	}

	if err := store.DeleteAPIKey(ctx, "k1"); err != nil {
		t.Fatalf("DeleteAPIKey failed: %v", err)
	}
	if err := store.DeleteAPIKey(ctx, "k1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if n, _ := store.CountAPIKeys(ctx); n != 0 {
		t.Errorf("Expected 0 keys, got %d", n)
	}
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	if _, err := store.GetLatestRun(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound on empty store, got %v", err)
	}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2"} {
		run := &domain.Run{ID: id, Mode: domain.ModeExecute, Status: domain.RunStatusRunning, MasterAccountID: "111111111111", StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun(%s) failed: %v", id, err)
		}
	}

	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}
	ops := []*domain.RunOperation{
		{Seq: 0, Kind: domain.OpCreatePolicy, Name: "deny-root-user", Status: domain.OpStatusApplied},
		{Seq: 1, Kind: domain.OpAttachPolicy, Name: "deny-root-user", OU: "Engineering", Status: domain.OpStatusSkipped},
	}
	if err := tx.AddRunOperations(ctx, "r2", ops); err != nil {
		t.Fatalf("AddRunOperations failed: %v", err)
	}
	finished := base.Add(time.Hour)
	update := &domain.Run{
		ID: "r2", Mode: domain.ModeExecute, Status: domain.RunStatusPartial, FinishedAt: &finished,
		Problems: []domain.Problem{{Severity: domain.SeverityError, Resource: "Sandbox", Message: "not empty"}},
		Orphans:  &domain.OrphanReport{OUs: []string{"Legacy"}},
	}
	if err := tx.UpdateRun(ctx, update); err != nil {
		t.Fatalf("UpdateRun failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	run, err := store.GetLatestRun(ctx)
	if err != nil {
		t.Fatalf("GetLatestRun failed: %v", err)
	}
	if run.ID != "r2" || run.Status != domain.RunStatusPartial || run.FinishedAt == nil {
		t.Errorf("unexpected run: %+v", run)
	}
	wantOps := []*domain.RunOperation{
		{RunID: "r2", Seq: 0, Kind: domain.OpCreatePolicy, Name: "deny-root-user", Status: domain.OpStatusApplied},
		{RunID: "r2", Seq: 1, Kind: domain.OpAttachPolicy, Name: "deny-root-user", OU: "Engineering", Status: domain.OpStatusSkipped},
	}
	if diff := cmp.Diff(wantOps, run.Operations); diff != "" {
		t.Errorf("operations mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(update.Problems, run.Problems); diff != "" {
		t.Errorf("problems mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(update.Orphans, run.Orphans); diff != "" {
		t.Errorf("orphans mismatch (-want +got):\n%s", diff)
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "r2" || runs[1].ID != "r1" {
		t.Errorf("Expected runs newest first, got %d runs", len(runs))
	}
	if runs[1].Orphans != nil {
		t.Errorf("Expected no orphans on r1, got %+v", runs[1].Orphans)
	}

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
