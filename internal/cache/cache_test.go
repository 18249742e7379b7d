package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/chorequest/chorequest/internal/model"
)

// testStore opens a fresh store in a temporary directory.
func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return s
}

func testEntry(id, owner string, points int) *model.RewardEntry {
	now := time.Now().UTC()
	return &model.RewardEntry{
		ID:          id,
		OwnerID:     owner,
		Description: "Entry " + id,
		Points:      points,
		EarnedAt:    now,
		CreatedAt:   now,
		UpdatedAt:   now,
		SyncStatus:  model.StatusDirty,
	}
}

// TestInitSchema_Idempotent tests that schema creation is safe to repeat.
func TestInitSchema_Idempotent(t *testing.T) {
	s := testStore(t)
	if err := s.InitSchema(context.Background()); err != nil {
		t.Errorf("second InitSchema() failed: %v", err)
	}
}

// TestCacheEntry_Idempotent tests that caching the same entry twice leaves
// the store in the same observable state as caching it once.
func TestCacheEntry_Idempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	e := testEntry("e-1", "owner-1", 10)
	if err := s.CacheEntry(ctx, e); err != nil {
		t.Fatalf("CacheEntry() failed: %v", err)
	}
	if err := s.CacheEntry(ctx, e); err != nil {
		t.Fatalf("second CacheEntry() failed: %v", err)
	}

	page, err := s.GetEntries(ctx, "owner-1", EntryFilter{})
	if err != nil {
		t.Fatalf("GetEntries() failed: %v", err)
	}
	if page.TotalCount != 1 {
		t.Errorf("TotalCount = %d, want 1", page.TotalCount)
	}

	got, err := s.GetEntry(ctx, "e-1")
	if err != nil {
		t.Fatalf("GetEntry() failed: %v", err)
	}
	if got.Points != 10 {
		t.Errorf("Points = %d, want 10", got.Points)
	}

	total, err := s.GetTotalPoints(ctx, "owner-1")
	if err != nil {
		t.Fatalf("GetTotalPoints() failed: %v", err)
	}
	if total != 10 {
		t.Errorf("total = %d, want 10", total)
	}
}

// TestCacheEntry_ReplaceSemantics tests upsert by primary key.
func TestCacheEntry_ReplaceSemantics(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	e := testEntry("e-1", "owner-1", 10)
	if err := s.CacheEntry(ctx, e); err != nil {
		t.Fatalf("CacheEntry() failed: %v", err)
	}

	e.Points = 25
	e.Description = "Updated"
	e.Version = 1
	if err := s.CacheEntry(ctx, e); err != nil {
		t.Fatalf("CacheEntry() replace failed: %v", err)
	}

	got, err := s.GetEntry(ctx, "e-1")
	if err != nil {
		t.Fatalf("GetEntry() failed: %v", err)
	}
	if got.Points != 25 || got.Description != "Updated" || got.Version != 1 {
		t.Errorf("entry not replaced: %+v", got)
	}
}

// TestGetEntry_NotFound tests the missing-row sentinel.
func TestGetEntry_NotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.GetEntry(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetEntry() error = %v, want ErrNotFound", err)
	}
}

// TestGetEntries_FiltersCompose tests conjunctive filtering.
func TestGetEntries_FiltersCompose(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		e := testEntry(fmt.Sprintf("e-%d", i), "owner-1", 5)
		e.EarnedAt = base.AddDate(0, 0, i)
		if i%2 == 0 {
			e.CategoryID = "cat-chores"
			e.Description = "Cleaned room"
		} else {
			e.CategoryID = "cat-school"
			e.Description = "Homework done"
		}
		if err := s.CacheEntry(ctx, e); err != nil {
			t.Fatalf("CacheEntry() failed: %v", err)
		}
	}
	// Another owner's entry must never appear.
	if err := s.CacheEntry(ctx, testEntry("other", "owner-2", 100)); err != nil {
		t.Fatalf("CacheEntry() failed: %v", err)
	}

	from := base.AddDate(0, 0, 1)
	to := base.AddDate(0, 0, 3)
	page, err := s.GetEntries(ctx, "owner-1", EntryFilter{
		CategoryID: "cat-chores",
		From:       &from,
		To:         &to,
		Search:     "clean",
	})
	if err != nil {
		t.Fatalf("GetEntries() failed: %v", err)
	}
	if page.TotalCount != 1 {
		t.Fatalf("TotalCount = %d, want 1", page.TotalCount)
	}
	if page.Items[0].ID != "e-2" {
		t.Errorf("got %q, want e-2", page.Items[0].ID)
	}
}

// TestGetEntries_Pagination tests offset pagination and HasNextPage.
func TestGetEntries_Pagination(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		e := testEntry(fmt.Sprintf("e-%d", i), "owner-1", 1)
		e.EarnedAt = base.Add(time.Duration(i) * time.Hour)
		if err := s.CacheEntry(ctx, e); err != nil {
			t.Fatalf("CacheEntry() failed: %v", err)
		}
	}

	page1, err := s.GetEntries(ctx, "owner-1", EntryFilter{Page: 1, PageSize: 3})
	if err != nil {
		t.Fatalf("GetEntries() failed: %v", err)
	}
	if len(page1.Items) != 3 || page1.TotalCount != 7 || !page1.HasNextPage {
		t.Errorf("page 1 = %d items, total %d, next %v; want 3/7/true",
			len(page1.Items), page1.TotalCount, page1.HasNextPage)
	}
	// Newest first.
	if page1.Items[0].ID != "e-6" {
		t.Errorf("first item = %q, want e-6", page1.Items[0].ID)
	}

	page3, err := s.GetEntries(ctx, "owner-1", EntryFilter{Page: 3, PageSize: 3})
	if err != nil {
		t.Fatalf("GetEntries() failed: %v", err)
	}
	if len(page3.Items) != 1 || page3.HasNextPage {
		t.Errorf("page 3 = %d items, next %v; want 1/false", len(page3.Items), page3.HasNextPage)
	}
}

// TestDeleteEntry_Tombstone tests that deletion hides the row but keeps it
// until the remote delete is confirmed.
func TestDeleteEntry_Tombstone(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CacheEntry(ctx, testEntry("e-1", "owner-1", 10)); err != nil {
		t.Fatalf("CacheEntry() failed: %v", err)
	}
	if err := s.DeleteEntry(ctx, "e-1"); err != nil {
		t.Fatalf("DeleteEntry() failed: %v", err)
	}

	if _, err := s.GetEntry(ctx, "e-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetEntry() after delete = %v, want ErrNotFound", err)
	}

	total, err := s.GetTotalPoints(ctx, "owner-1")
	if err != nil {
		t.Fatalf("GetTotalPoints() failed: %v", err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0 (tombstoned rows excluded)", total)
	}

	// Row still physically present for retry until purged.
	var n int
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM entries WHERE id = 'e-1'`).Scan(&n); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if n != 1 {
		t.Errorf("tombstoned row count = %d, want 1", n)
	}

	if err := s.PurgeEntry(ctx, "e-1"); err != nil {
		t.Fatalf("PurgeEntry() failed: %v", err)
	}
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM entries WHERE id = 'e-1'`).Scan(&n); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if n != 0 {
		t.Errorf("row count after purge = %d, want 0", n)
	}
}

// TestDeleteEntry_Missing tests deleting a non-existent entry.
func TestDeleteEntry_Missing(t *testing.T) {
	s := testStore(t)
	if err := s.DeleteEntry(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteEntry() = %v, want ErrNotFound", err)
	}
}

// TestMarkEntrySynced tests the synced flip with the confirmed version.
func TestMarkEntrySynced(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CacheEntry(ctx, testEntry("e-1", "owner-1", 10)); err != nil {
		t.Fatalf("CacheEntry() failed: %v", err)
	}
	if err := s.MarkEntrySynced(ctx, "e-1", 3); err != nil {
		t.Fatalf("MarkEntrySynced() failed: %v", err)
	}

	got, err := s.GetEntry(ctx, "e-1")
	if err != nil {
		t.Fatalf("GetEntry() failed: %v", err)
	}
	if got.SyncStatus != model.StatusSynced || got.Version != 3 {
		t.Errorf("entry = status %q version %d, want synced/3", got.SyncStatus, got.Version)
	}
}

// TestGetTotalPoints_Sums tests the local aggregate.
func TestGetTotalPoints_Sums(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i, p := range []int{5, 10, 25} {
		if err := s.CacheEntry(ctx, testEntry(fmt.Sprintf("e-%d", i), "owner-1", p)); err != nil {
			t.Fatalf("CacheEntry() failed: %v", err)
		}
	}
	if err := s.CacheEntry(ctx, testEntry("x", "owner-2", 1000)); err != nil {
		t.Fatalf("CacheEntry() failed: %v", err)
	}

	total, err := s.GetTotalPoints(ctx, "owner-1")
	if err != nil {
		t.Fatalf("GetTotalPoints() failed: %v", err)
	}
	if total != 40 {
		t.Errorf("total = %d, want 40", total)
	}
}

// TestCategories_InUseAndDefaults tests reference checks and the
// default-preserving bulk eviction.
func TestCategories_InUseAndDefaults(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	def := &model.Category{
		ID: "cat-default", OwnerID: "owner-1", Name: "General",
		IsDefault: true, CreatedAt: now, UpdatedAt: now, SyncStatus: model.StatusSynced,
	}
	custom := &model.Category{
		ID: "cat-custom", OwnerID: "owner-1", Name: "Garden",
		CreatedAt: now, UpdatedAt: now, SyncStatus: model.StatusSynced,
	}
	for _, c := range []*model.Category{def, custom} {
		if err := s.CacheCategory(ctx, c); err != nil {
			t.Fatalf("CacheCategory() failed: %v", err)
		}
	}

	e := testEntry("e-1", "owner-1", 5)
	e.CategoryID = "cat-custom"
	if err := s.CacheEntry(ctx, e); err != nil {
		t.Fatalf("CacheEntry() failed: %v", err)
	}

	inUse, err := s.IsCategoryInUse(ctx, "cat-custom")
	if err != nil {
		t.Fatalf("IsCategoryInUse() failed: %v", err)
	}
	if !inUse {
		t.Error("cat-custom not reported in use")
	}

	inUse, err = s.IsCategoryInUse(ctx, "cat-default")
	if err != nil {
		t.Fatalf("IsCategoryInUse() failed: %v", err)
	}
	if inUse {
		t.Error("cat-default reported in use")
	}

	// Deleting the referenced entry releases the category.
	if err := s.DeleteEntry(ctx, "e-1"); err != nil {
		t.Fatalf("DeleteEntry() failed: %v", err)
	}
	inUse, err = s.IsCategoryInUse(ctx, "cat-custom")
	if err != nil {
		t.Fatalf("IsCategoryInUse() failed: %v", err)
	}
	if inUse {
		t.Error("cat-custom still in use after entry tombstoned")
	}

	if err := s.ClearNonDefaultCategories(ctx, "owner-1"); err != nil {
		t.Fatalf("ClearNonDefaultCategories() failed: %v", err)
	}
	cats, err := s.GetCategories(ctx, "owner-1")
	if err != nil {
		t.Fatalf("GetCategories() failed: %v", err)
	}
	if len(cats) != 1 || cats[0].ID != "cat-default" {
		t.Errorf("categories after clear = %+v, want only cat-default", cats)
	}
}

// TestClearCache_PreservesDefaults tests sign-out eviction.
func TestClearCache_PreservesDefaults(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.CacheEntry(ctx, testEntry("e-1", "owner-1", 5)); err != nil {
		t.Fatalf("CacheEntry() failed: %v", err)
	}
	def := &model.Category{
		ID: "cat-default", OwnerID: "owner-1", Name: "General",
		IsDefault: true, CreatedAt: now, UpdatedAt: now, SyncStatus: model.StatusSynced,
	}
	if err := s.CacheCategory(ctx, def); err != nil {
		t.Fatalf("CacheCategory() failed: %v", err)
	}

	if err := s.ClearCache(ctx, "owner-1"); err != nil {
		t.Fatalf("ClearCache() failed: %v", err)
	}

	page, err := s.GetEntries(ctx, "owner-1", EntryFilter{})
	if err != nil {
		t.Fatalf("GetEntries() failed: %v", err)
	}
	if page.TotalCount != 0 {
		t.Errorf("entries after clear = %d, want 0", page.TotalCount)
	}

	cats, err := s.GetCategories(ctx, "owner-1")
	if err != nil {
		t.Fatalf("GetCategories() failed: %v", err)
	}
	if len(cats) != 1 {
		t.Errorf("default category evicted; got %d categories", len(cats))
	}
}
