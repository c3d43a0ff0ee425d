// Package exporter writes the static JSON projections the public calendar
// pages are served from. The whole set is rebuilt after every successful
// mutation; rebuilds run on a background worker fed by a coalescing trigger,
// and a failed rebuild never reaches the mutation that requested it.
package exporter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/budapestdude/chess-calendar/internal/metrics"
	"github.com/budapestdude/chess-calendar/internal/model"
	"github.com/budapestdude/chess-calendar/internal/repository"
)

// Exporter generates category-partitioned projections of the active
// calendar: the full list, the special selection, one file per continent
// and format, and one file per configured text category.
type Exporter struct {
	events   repository.EventRepository
	dir      string
	patterns map[string]string // category name -> substring to match
	logger   *logrus.Logger
	ch       chan struct{}
}

// New creates an Exporter writing into dir. patterns may be nil.
func New(db *gorm.DB, dir string, patterns map[string]string, logger *logrus.Logger) (*Exporter, error) {
	if dir == "" {
		dir = "./exports"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("exporter: create dir %s: %w", dir, err)
	}
	return &Exporter{
		events:   repository.NewEventRepository(db),
		dir:      dir,
		patterns: patterns,
		logger:   logger,
		ch:       make(chan struct{}, 1),
	}, nil
}

// Dir returns the projection output directory.
func (e *Exporter) Dir() string { return e.dir }

// Trigger requests a rebuild without blocking. Triggers arriving while one
// rebuild is already queued coalesce into that run.
func (e *Exporter) Trigger() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// Start launches the rebuild worker. It exits when ctx is canceled.
func (e *Exporter) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.ch:
				if err := e.GenerateOnce(ctx); err != nil && ctx.Err() == nil {
					// The triggering mutation already returned; the
					// projections just stay stale until the next trigger.
					e.logger.WithError(err).Error("projection export failed")
				}
			}
		}
	}()
}

// projection is the envelope of every generated file.
type projection struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Count       int            `json:"count"`
	Events      []*model.Event `json:"events"`
}

// manifestFile indexes one complete export run.
type manifestFile struct {
	GeneratedAt time.Time      `json:"generated_at"`
	EventCount  int            `json:"event_count"`
	Files       map[string]int `json:"files"` // relative path -> event count
}

// GenerateOnce rebuilds every projection file synchronously.
func (e *Exporter) GenerateOnce(ctx context.Context) error {
	started := time.Now()
	events, err := e.events.ListAllActive(ctx)
	if err != nil {
		metrics.ExportRuns.WithLabelValues("error").Inc()
		return fmt.Errorf("load events: %w", err)
	}

	files := e.partition(events)
	now := time.Now().UTC()
	for rel, subset := range files {
		if err := e.writeProjection(rel, projection{GeneratedAt: now, Count: len(subset), Events: subset}); err != nil {
			metrics.ExportRuns.WithLabelValues("error").Inc()
			return err
		}
	}
	e.cleanupStale(files)

	manifest := manifestFile{GeneratedAt: now, EventCount: len(events), Files: make(map[string]int, len(files))}
	for rel, subset := range files {
		manifest.Files[rel] = len(subset)
	}
	if err := e.writeJSON("manifest.json", manifest); err != nil {
		metrics.ExportRuns.WithLabelValues("error").Inc()
		return err
	}

	metrics.ExportRuns.WithLabelValues("ok").Inc()
	metrics.ExportDuration.Observe(time.Since(started).Seconds())
	e.logger.WithFields(logrus.Fields{
		"files":  len(files) + 1,
		"events": len(events),
		"took":   time.Since(started).Round(time.Millisecond).String(),
	}).Info("projections rebuilt")
	return nil
}

// partition splits the active events into the projection files, keyed by
// path relative to the output directory.
func (e *Exporter) partition(events []*model.Event) map[string][]*model.Event {
	if events == nil {
		events = make([]*model.Event, 0)
	}
	files := map[string][]*model.Event{
		"all.json":     events,
		"special.json": make([]*model.Event, 0),
	}
	for _, ev := range events {
		if ev.IsSpecial() {
			files["special.json"] = append(files["special.json"], ev)
		}
		if slug := slugify(ev.Continent); slug != "" {
			key := "continent/" + slug + ".json"
			files[key] = append(files[key], ev)
		}
		if slug := slugify(ev.Format); slug != "" {
			key := "format/" + slug + ".json"
			files[key] = append(files[key], ev)
		}
	}
	for name, needle := range e.patterns {
		slug := slugify(name)
		if slug == "" || strings.TrimSpace(needle) == "" {
			continue
		}
		subset := make([]*model.Event, 0)
		for _, ev := range events {
			if matchesPattern(ev, needle) {
				subset = append(subset, ev)
			}
		}
		files["category/"+slug+".json"] = subset
	}
	return files
}

// matchesPattern applies the same tri-field substring contract as the list
// filter's search parameter.
func matchesPattern(ev *model.Event, needle string) bool {
	n := strings.ToLower(needle)
	return strings.Contains(strings.ToLower(ev.Title), n) ||
		strings.Contains(strings.ToLower(ev.Location), n) ||
		strings.Contains(strings.ToLower(ev.Players), n)
}

var slugCleaner = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(value string) string {
	slug := strings.ToLower(strings.TrimSpace(value))
	slug = slugCleaner.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

func (e *Exporter) writeProjection(rel string, p projection) error {
	return e.writeJSON(rel, p)
}

// writeJSON writes one file via temp + rename so readers never observe a
// partial projection.
func (e *Exporter) writeJSON(rel string, v interface{}) error {
	target := filepath.Join(e.dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(target), err)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", rel, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return fmt.Errorf("temp for %s: %w", rel, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", rel, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", rel, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("publish %s: %w", rel, err)
	}
	return nil
}

// cleanupStale removes partition files from earlier runs whose category no
// longer exists, so a renamed continent does not leave a ghost projection.
func (e *Exporter) cleanupStale(current map[string][]*model.Event) {
	for _, sub := range []string{"continent", "format", "category"} {
		entries, err := os.ReadDir(filepath.Join(e.dir, sub))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			rel := sub + "/" + entry.Name()
			if _, ok := current[rel]; ok {
				continue
			}
			if err := os.Remove(filepath.Join(e.dir, sub, entry.Name())); err != nil {
				e.logger.WithError(err).WithField("file", rel).Warn("stale projection not removed")
			}
		}
	}
}
