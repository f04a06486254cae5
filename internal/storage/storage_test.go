package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"assetvault/internal/models"
)

func newTestStorage(t *testing.T) (*Storage, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "assets.json")
	store, err := NewStorage(path)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	return store, path
}

func testAsset(id string) models.Asset {
	return models.Asset{
		ID:        id,
		Title:     "asset " + id,
		BlobURL:   "https://blobs.example/uploads/" + id + ".bin",
		BlobKey:   id + ".bin",
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestStorageCreateAndGet(t *testing.T) {
	store, _ := newTestStorage(t)
	ctx := context.Background()

	asset := testAsset("a1")
	if err := store.CreateAsset(ctx, asset); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	fetched, err := store.GetAsset(ctx, "a1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if fetched.Title != asset.Title || fetched.BlobKey != asset.BlobKey {
		t.Fatalf("fetched asset differs: %+v", fetched)
	}

	if err := store.CreateAsset(ctx, asset); err == nil {
		t.Fatal("expected duplicate create to fail")
	}
}

func TestStorageGetMissing(t *testing.T) {
	store, _ := newTestStorage(t)
	if _, err := store.GetAsset(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStorageListAssets(t *testing.T) {
	store, _ := newTestStorage(t)
	ctx := context.Background()

	want := map[string]bool{}
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("a%d", i)
		if err := store.CreateAsset(ctx, testAsset(id)); err != nil {
			t.Fatalf("create %s failed: %v", id, err)
		}
		want[id] = true
	}

	assets, err := store.ListAssets(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(assets) != len(want) {
		t.Fatalf("expected %d assets, got %d", len(want), len(assets))
	}
	for _, asset := range assets {
		if !want[asset.ID] {
			t.Fatalf("unexpected asset %s in list", asset.ID)
		}
	}
}

func TestStorageReplaceAsset(t *testing.T) {
	store, _ := newTestStorage(t)
	ctx := context.Background()

	asset := testAsset("a1")
	if err := store.CreateAsset(ctx, asset); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	now := time.Now().UTC()
	asset.Title = "renamed"
	asset.UpdatedAt = &now
	if err := store.ReplaceAsset(ctx, asset); err != nil {
		t.Fatalf("replace failed: %v", err)
	}

	fetched, err := store.GetAsset(ctx, "a1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if fetched.Title != "renamed" || fetched.UpdatedAt == nil {
		t.Fatalf("replace did not apply: %+v", fetched)
	}

	if err := store.ReplaceAsset(ctx, testAsset("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound replacing missing asset, got %v", err)
	}
}

func TestStorageDeleteAsset(t *testing.T) {
	store, _ := newTestStorage(t)
	ctx := context.Background()

	if err := store.CreateAsset(ctx, testAsset("a1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := store.DeleteAsset(ctx, "a1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.GetAsset(ctx, "a1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.DeleteAsset(ctx, "a1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestStoragePersistsAcrossReopen(t *testing.T) {
	store, path := newTestStorage(t)
	ctx := context.Background()

	asset := testAsset("survivor")
	if err := store.CreateAsset(ctx, asset); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	reopened, err := NewStorage(path)
	if err != nil {
		t.Fatalf("failed to reopen storage: %v", err)
	}
	fetched, err := reopened.GetAsset(ctx, "survivor")
	if err != nil {
		t.Fatalf("get after reopen failed: %v", err)
	}
	if fetched.Title != asset.Title || !fetched.CreatedAt.Equal(asset.CreatedAt) {
		t.Fatalf("reopened asset differs: %+v", fetched)
	}
}

func TestStorageRollsBackOnPersistFailure(t *testing.T) {
	store, _ := newTestStorage(t)
	ctx := context.Background()

	if err := store.CreateAsset(ctx, testAsset("keep")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	store.persistOverride = func(dataset) error {
		return fmt.Errorf("disk full")
	}

	if err := store.CreateAsset(ctx, testAsset("new")); err == nil {
		t.Fatal("expected create to surface persist failure")
	}
	if _, err := store.GetAsset(ctx, "new"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("failed create should roll back, got %v", err)
	}

	if err := store.DeleteAsset(ctx, "keep"); err == nil {
		t.Fatal("expected delete to surface persist failure")
	}
	if _, err := store.GetAsset(ctx, "keep"); err != nil {
		t.Fatalf("failed delete should roll back, got %v", err)
	}
}

func TestStorageHonorsContextCancellation(t *testing.T) {
	store, _ := newTestStorage(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.CreateAsset(ctx, testAsset("a1")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	if _, err := store.ListAssets(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestGenerateIDShape(t *testing.T) {
	id, err := NewAssetID()
	if err != nil {
		t.Fatalf("NewAssetID failed: %v", err)
	}
	if len(id) != 32 {
		t.Fatalf("expected 32 hex chars, got %q", id)
	}
	name, err := NewBlobName()
	if err != nil {
		t.Fatalf("NewBlobName failed: %v", err)
	}
	if len(name) != 36 || name[32:] != ".bin" {
		t.Fatalf("unexpected blob name %q", name)
	}
}
