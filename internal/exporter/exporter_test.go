package exporter

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/budapestdude/chess-calendar/internal/model"
	"github.com/budapestdude/chess-calendar/internal/storage"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestExporter(t *testing.T, patterns map[string]string) (*Exporter, *gorm.DB) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.Open(storage.Options{Path: filepath.Join(root, "calendar.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	exp, err := New(store.DB(), filepath.Join(root, "exports"), patterns, testLogger())
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	return exp, store.DB()
}

func seedEvent(t *testing.T, db *gorm.DB, mutate func(*model.Event)) *model.Event {
	t.Helper()
	ev := &model.Event{
		Title:     "Club Evening",
		StartDate: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		URL:       "https://example.org",
	}
	if mutate != nil {
		mutate(ev)
	}
	if err := db.Create(ev).Error; err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return ev
}

func readProjection(t *testing.T, exp *Exporter, rel string) projection {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(exp.Dir(), filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	var p projection
	if err := json.Unmarshal(b, &p); err != nil {
		t.Fatalf("decode %s: %v", rel, err)
	}
	return p
}

func TestGenerateOncePartitions(t *testing.T) {
	exp, db := newTestExporter(t, map[string]string{"women": "women"})
	ctx := context.Background()

	seedEvent(t, db, func(e *model.Event) {
		e.Title = "Tata Steel Masters"
		e.Continent = "Europe"
		e.Format = "classical"
	})
	seedEvent(t, db, func(e *model.Event) {
		e.Title = "Women's Grand Prix"
		e.Continent = "Asia"
		e.Format = "classical"
		e.Special = "true"
	})
	seedEvent(t, db, func(e *model.Event) {
		e.Title = "World Rapid Championship"
		e.Continent = "Asia"
		e.Format = "rapid"
	})

	if err := exp.GenerateOnce(ctx); err != nil {
		t.Fatalf("GenerateOnce: %v", err)
	}

	if p := readProjection(t, exp, "all.json"); p.Count != 3 || len(p.Events) != 3 {
		t.Fatalf("all.json count = %d (%d events)", p.Count, len(p.Events))
	}
	if p := readProjection(t, exp, "special.json"); p.Count != 1 || p.Events[0].Title != "Women's Grand Prix" {
		t.Fatalf("special.json = %+v", p)
	}
	if p := readProjection(t, exp, "continent/europe.json"); p.Count != 1 {
		t.Fatalf("continent/europe.json count = %d", p.Count)
	}
	if p := readProjection(t, exp, "continent/asia.json"); p.Count != 2 {
		t.Fatalf("continent/asia.json count = %d", p.Count)
	}
	if p := readProjection(t, exp, "format/rapid.json"); p.Count != 1 || p.Events[0].Title != "World Rapid Championship" {
		t.Fatalf("format/rapid.json = %+v", p)
	}
	if p := readProjection(t, exp, "category/women.json"); p.Count != 1 || p.Events[0].Title != "Women's Grand Prix" {
		t.Fatalf("category/women.json = %+v", p)
	}

	b, err := os.ReadFile(filepath.Join(exp.Dir(), "manifest.json"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var manifest manifestFile
	if err := json.Unmarshal(b, &manifest); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if manifest.EventCount != 3 {
		t.Fatalf("manifest event count = %d", manifest.EventCount)
	}
	for _, rel := range []string{"all.json", "special.json", "continent/asia.json", "format/classical.json", "category/women.json"} {
		if _, ok := manifest.Files[rel]; !ok {
			t.Fatalf("manifest misses %s: %v", rel, manifest.Files)
		}
	}
}

func TestGenerateOnceEmptyDatabase(t *testing.T) {
	exp, _ := newTestExporter(t, nil)

	if err := exp.GenerateOnce(context.Background()); err != nil {
		t.Fatalf("GenerateOnce: %v", err)
	}
	p := readProjection(t, exp, "all.json")
	if p.Count != 0 || p.Events == nil || len(p.Events) != 0 {
		t.Fatalf("all.json on empty db = %+v", p)
	}
	if p := readProjection(t, exp, "special.json"); p.Count != 0 {
		t.Fatalf("special.json on empty db = %+v", p)
	}
}

func TestGenerateOnceSkipsSoftDeleted(t *testing.T) {
	exp, db := newTestExporter(t, nil)

	keep := seedEvent(t, db, func(e *model.Event) { e.Title = "Kept" })
	gone := seedEvent(t, db, func(e *model.Event) { e.Title = "Gone" })
	if err := db.Delete(gone).Error; err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	if err := exp.GenerateOnce(context.Background()); err != nil {
		t.Fatalf("GenerateOnce: %v", err)
	}
	p := readProjection(t, exp, "all.json")
	if p.Count != 1 || p.Events[0].ID != keep.ID {
		t.Fatalf("all.json = %+v", p)
	}
}

func TestGenerateOnceRemovesStalePartitions(t *testing.T) {
	exp, db := newTestExporter(t, nil)
	ctx := context.Background()

	ev := seedEvent(t, db, func(e *model.Event) { e.Continent = "Europe" })
	if err := exp.GenerateOnce(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	stale := filepath.Join(exp.Dir(), "continent", "europe.json")
	if _, err := os.Stat(stale); err != nil {
		t.Fatalf("expected europe.json after first run: %v", err)
	}

	if err := db.Model(&model.Event{}).Where("id = ?", ev.ID).Update("continent", "Asia").Error; err != nil {
		t.Fatalf("move continent: %v", err)
	}
	if err := exp.GenerateOnce(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale europe.json still present: %v", err)
	}
	if _, err := os.Stat(filepath.Join(exp.Dir(), "continent", "asia.json")); err != nil {
		t.Fatalf("asia.json missing: %v", err)
	}
}

func TestTriggerCoalesces(t *testing.T) {
	exp, _ := newTestExporter(t, nil)

	// No worker is draining, so repeated triggers must collapse into one
	// queued token instead of blocking.
	for i := 0; i < 5; i++ {
		exp.Trigger()
	}
	if queued := len(exp.ch); queued != 1 {
		t.Fatalf("queued triggers = %d, want 1", queued)
	}
}

func TestStartServesTriggers(t *testing.T) {
	exp, db := newTestExporter(t, nil)
	seedEvent(t, db, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exp.Start(ctx)
	exp.Trigger()

	target := filepath.Join(exp.Dir(), "all.json")
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(target); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("worker never produced %s", target)
		}
		time.Sleep(20 * time.Millisecond)
	}

	p := readProjection(t, exp, "all.json")
	if p.Count != 1 {
		t.Fatalf("all.json count = %d, want 1", p.Count)
	}
}
