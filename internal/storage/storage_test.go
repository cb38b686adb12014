package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/crowdpulse/internal/models"
)

func sampleDocument() models.HistoryDocument {
	base := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	doc := models.NewHistoryDocument()
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * 15 * time.Minute)
		doc.City = append(doc.City, models.CityHistoryPoint{
			Timestamp:      ts,
			Weekday:        ts.Weekday(),
			Hour:           ts.Hour(),
			Score:          60 + float64(i),
			CityPressure:   55.5,
			AnomalousShare: 0.25,
			CityZ:          1.12,
			BusinessCount:  12,
			Alerted:        i == 2,
		})
		doc.Businesses["demo_1"] = append(doc.Businesses["demo_1"], models.EntityHistoryPoint{
			Timestamp:   ts,
			Weekday:     ts.Weekday(),
			Hour:        ts.Hour(),
			ProxyLoad:   50 + float64(i),
			RatingCount: 650 + i,
			OpenNow:     true,
		})
	}
	return doc
}

func assertSameHistory(t *testing.T, want, got models.HistoryDocument) {
	t.Helper()
	if len(got.City) != len(want.City) {
		t.Fatalf("expected %d city points, got %d", len(want.City), len(got.City))
	}
	for i := range want.City {
		w, g := want.City[i], got.City[i]
		if !w.Timestamp.Equal(g.Timestamp) || w.Score != g.Score || w.CityZ != g.CityZ || w.Alerted != g.Alerted {
			t.Errorf("city point %d: expected %+v, got %+v", i, w, g)
		}
	}
	if len(got.Businesses) != len(want.Businesses) {
		t.Fatalf("expected %d entities, got %d", len(want.Businesses), len(got.Businesses))
	}
	for id, points := range want.Businesses {
		gp := got.Businesses[id]
		if len(gp) != len(points) {
			t.Fatalf("entity %s: expected %d points, got %d", id, len(points), len(gp))
		}
		for i := range points {
			if !points[i].Timestamp.Equal(gp[i].Timestamp) || points[i].ProxyLoad != gp[i].ProxyLoad || points[i].RatingCount != gp[i].RatingCount {
				t.Errorf("entity %s point %d: expected %+v, got %+v", id, i, points[i], gp[i])
			}
		}
	}
}

func TestFileStore_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.json")
	s := NewFileStore(path)
	doc := sampleDocument()

	if err := s.Save(context.Background(), doc); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should not survive a successful save")
	}

	loaded, err := NewFileStore(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertSameHistory(t, doc, loaded)
}

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))
	doc, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(doc.City) != 0 || len(doc.Businesses) != 0 {
		t.Errorf("expected empty document, got %+v", doc)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := NewFileStore(path).Load(context.Background())
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}

func TestFileStore_EmptyFilePathUsesTmpDir(t *testing.T) {
	s := NewFileStore("")
	expectedSuffix := filepath.Join("crowdpulse", "history.json")
	if !strings.HasSuffix(s.Path(), expectedSuffix) {
		t.Errorf("Expected file path to end with '%s', got '%s'", expectedSuffix, s.Path())
	}
}

func TestSQLStore_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLStore(ctx, "sqlite", ":memory:", "")
	if err != nil {
		t.Fatalf("NewSQLStore failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	empty, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load on empty table failed: %v", err)
	}
	if len(empty.City) != 0 {
		t.Errorf("expected empty history, got %d points", len(empty.City))
	}

	doc := sampleDocument()
	if err := s.Save(ctx, doc); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	// Second save overwrites rather than duplicating the key.
	doc.City = doc.City[:2]
	if err := s.Save(ctx, doc); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	loaded, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertSameHistory(t, doc, loaded)
}

func TestSQLStore_SQLiteFile(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "db", "crowdpulse.db")
	s, err := NewSQLStore(ctx, "sqlite", dsn, "test:key")
	if err != nil {
		t.Fatalf("NewSQLStore failed: %v", err)
	}
	doc := sampleDocument()
	if err := s.Save(ctx, doc); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	_ = s.Close()

	reopened, err := NewSQLStore(ctx, "sqlite", dsn, "test:key")
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })
	loaded, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertSameHistory(t, doc, loaded)
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	s := NewMemoryStore()
	doc := sampleDocument()
	if err := s.Save(context.Background(), doc); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertSameHistory(t, doc, loaded)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"empty input", "", false},
		{"valid", `{"version":3,"city":[],"businesses":{}}`, false},
		{"not json", `]]`, true},
		{"missing city", `{"version":3,"businesses":{}}`, true},
		{"city not an array", `{"version":3,"city":{},"businesses":{}}`, true},
		{"old version", `{"version":2,"city":[],"businesses":{}}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Errorf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrCorrupt) {
				t.Errorf("expected ErrCorrupt, got %v", err)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Backend: "memory"})
	if err != nil {
		t.Fatalf("Open(memory) failed: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("expected *MemoryStore, got %T", s)
	}

	s, err = Open(ctx, Config{Backend: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("Open(sqlite) failed: %v", err)
	}
	_ = s.Close()

	if _, err := Open(ctx, Config{Backend: "postgres"}); err == nil {
		t.Error("expected error for postgres without dsn")
	}
	if _, err := Open(ctx, Config{Backend: "etcd"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
