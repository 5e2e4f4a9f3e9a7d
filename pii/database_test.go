package pii

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	detectors "github.com/hannes/docguard/pii/detectors"
)

func newTestDB(t *testing.T) *SQLiteDetectionDB {
	t.Helper()
	db, err := NewSQLiteDetectionDB(context.Background(), DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close database: %v", err)
		}
	})
	return db
}

func TestSQLiteDB_InsertAndRetrieve(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	entry := HistoryEntry{
		ID:             "entry-1",
		Timestamp:      time.Now(),
		Source:         "file_collect",
		Filename:       "명단.txt",
		MaskedFilename: "명단.txt",
		Items: []detectors.DetectionItem{
			{Type: detectors.TypePhone, Value: "010-1234-5678"},
			{Type: detectors.TypeResident, Value: "900101-1234568", Status: "valid"},
		},
		Risk: &RiskVerdict{
			Level:   RiskMedium,
			Message: "조합 위험",
			Counts:  map[RiskCategory]int{CategoryIdentifier: 2},
		},
		Visibility: VisibilityBoth,
	}
	if err := db.InsertEntry(ctx, entry); err != nil {
		t.Fatalf("InsertEntry failed: %v", err)
	}

	got, err := db.RecentEntries(ctx, 10)
	if err != nil {
		t.Fatalf("RecentEntries failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(got))
	}

	stored := got[0]
	if stored.ID != "entry-1" || stored.Source != "file_collect" {
		t.Errorf("Unexpected entry identity: %+v", stored)
	}
	if len(stored.Items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(stored.Items))
	}
	if stored.Items[1].Status != "valid" {
		t.Errorf("Expected item status round trip, got %q", stored.Items[1].Status)
	}
	if stored.Risk == nil || stored.Risk.Level != RiskMedium {
		t.Errorf("Expected risk verdict round trip, got %+v", stored.Risk)
	}
	if stored.Visibility != VisibilityBoth {
		t.Errorf("Expected visibility round trip, got %s", stored.Visibility)
	}
}

func TestSQLiteDB_NilRisk(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.InsertEntry(ctx, HistoryEntry{
		ID:         "entry-1",
		Timestamp:  time.Now(),
		Source:     "event",
		Items:      []detectors.DetectionItem{{Type: detectors.TypeEmail, Value: "kim@example.com"}},
		Visibility: VisibilityBoth,
	})
	if err != nil {
		t.Fatalf("InsertEntry failed: %v", err)
	}

	got, err := db.RecentEntries(ctx, 1)
	if err != nil {
		t.Fatalf("RecentEntries failed: %v", err)
	}
	if len(got) != 1 || got[0].Risk != nil {
		t.Errorf("Expected entry without risk, got %+v", got)
	}
}

func TestSQLiteDB_RecentOrderAndLimit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		err := db.InsertEntry(ctx, HistoryEntry{
			ID:         id,
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			Source:     "event",
			Visibility: VisibilityBoth,
		})
		if err != nil {
			t.Fatalf("InsertEntry failed: %v", err)
		}
	}

	got, err := db.RecentEntries(ctx, 2)
	if err != nil {
		t.Fatalf("RecentEntries failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(got))
	}
	if got[0].ID != "new" || got[1].ID != "mid" {
		t.Errorf("Expected newest first, got [%s %s]", got[0].ID, got[1].ID)
	}
}

func TestSQLiteDB_CountAndClear(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		err := db.InsertEntry(ctx, HistoryEntry{ID: id, Timestamp: time.Now(), Source: "event", Visibility: VisibilityBoth})
		if err != nil {
			t.Fatalf("InsertEntry failed: %v", err)
		}
	}

	count, err := db.CountEntries(ctx)
	if err != nil {
		t.Fatalf("CountEntries failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected count 2, got %d", count)
	}

	if err := db.ClearEntries(ctx); err != nil {
		t.Fatalf("ClearEntries failed: %v", err)
	}
	count, err = db.CountEntries(ctx)
	if err != nil {
		t.Fatalf("CountEntries failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected count 0 after clear, got %d", count)
	}
}
