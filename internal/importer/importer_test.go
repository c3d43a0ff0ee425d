package importer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/budapestdude/chess-calendar/internal/model"
	"github.com/budapestdude/chess-calendar/internal/repository"
	"github.com/budapestdude/chess-calendar/internal/service"
	"github.com/budapestdude/chess-calendar/internal/storage"
)

const feedCSV = `title,start_date,end_date,location,url,rounds,special
Tata Steel Masters,2026-01-16,2026-02-01,Wijk aan Zee,https://tatasteelchess.com,13,
,2026-01-01,,Nowhere,https://example.org,,
Bad Rounds Open,2026-03-01,,Riga,https://example.org/riga,nine,
Rapid Night,2026-04-01,,Oslo,https://example.org/oslo,5,yes
`

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestImporter(t *testing.T) (*Importer, *gorm.DB) {
	t.Helper()
	store, err := storage.Open(storage.Options{Path: filepath.Join(t.TempDir(), "calendar.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	calendar := service.NewCalendarService(store.DB(), testLogger(), nil)
	return New(store.DB(), calendar, testLogger(), nil), store.DB()
}

func writeFeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write feed: %v", err)
	}
	return path
}

func TestRunImportsFileFeed(t *testing.T) {
	imp, db := newTestImporter(t)
	ctx := context.Background()

	report, err := imp.Run(ctx, writeFeed(t, feedCSV))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Total != 4 || report.Imported != 2 || report.Failed != 2 {
		t.Fatalf("report = total %d imported %d failed %d", report.Total, report.Imported, report.Failed)
	}
	if report.BatchID == "" {
		t.Fatalf("report has no batch id")
	}

	var rowErrs []model.RowError
	if err := json.Unmarshal(report.RowErrors, &rowErrs); err != nil {
		t.Fatalf("decode row errors: %v", err)
	}
	if len(rowErrs) != 2 {
		t.Fatalf("row errors = %v", rowErrs)
	}
	if rowErrs[0].Line != 3 || rowErrs[1].Line != 4 {
		t.Fatalf("error lines = %d, %d, want 3 and 4", rowErrs[0].Line, rowErrs[1].Line)
	}
	if rowErrs[1].Title != "Bad Rounds Open" {
		t.Fatalf("error title = %q", rowErrs[1].Title)
	}

	// Imported rows went through the calendar's validation and defaults.
	repo := repository.NewEventRepository(db)
	events, err := repo.ListAllActive(ctx)
	if err != nil {
		t.Fatalf("ListAllActive: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("%d events imported, want 2", len(events))
	}
	tata, rapid := events[0], events[1]
	if tata.Title != "Tata Steel Masters" || tata.Rounds == nil || *tata.Rounds != 13 {
		t.Fatalf("tata = %+v", tata)
	}
	if rapid.Title != "Rapid Night" || !rapid.IsSpecial() {
		t.Fatalf("rapid = %+v", rapid)
	}
	if !rapid.EndDate.Equal(rapid.StartDate) {
		t.Fatalf("end not defaulted: %v / %v", rapid.StartDate, rapid.EndDate)
	}

	// The report is persisted for the admin listing.
	reports, err := repository.NewReportRepository(db).ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(reports) != 1 || reports[0].BatchID != report.BatchID {
		t.Fatalf("persisted reports = %+v", reports)
	}
}

func TestRunAcceptsSpacedHeaders(t *testing.T) {
	imp, db := newTestImporter(t)

	csv := "Title, Start Date ,URL\nCandidates,2026-04-02,https://fide.com\n"
	report, err := imp.Run(context.Background(), writeFeed(t, csv))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Imported != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}

	events, err := repository.NewEventRepository(db).ListAllActive(context.Background())
	if err != nil || len(events) != 1 {
		t.Fatalf("events = %v, err %v", events, err)
	}
	if events[0].Title != "Candidates" || events[0].StartDate.Year() != 2026 {
		t.Fatalf("imported event = %+v", events[0])
	}
}

func TestRunRejectsFeedWithoutTitleColumn(t *testing.T) {
	imp, _ := newTestImporter(t)

	_, err := imp.Run(context.Background(), writeFeed(t, "name,url\nX,https://x.org\n"))
	if err == nil || !strings.Contains(err.Error(), "title") {
		t.Fatalf("Run = %v, want title column error", err)
	}
}

func TestRunMissingFile(t *testing.T) {
	imp, _ := newTestImporter(t)
	if _, err := imp.Run(context.Background(), filepath.Join(t.TempDir(), "nope.csv")); err == nil {
		t.Fatalf("Run on missing file succeeded")
	}
}

func TestRunFetchesRemoteFeed(t *testing.T) {
	imp, db := newTestImporter(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = io.WriteString(w, feedCSV)
	}))
	defer srv.Close()

	report, err := imp.Run(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Imported != 2 || report.Source != srv.URL {
		t.Fatalf("report = %+v", report)
	}

	events, err := repository.NewEventRepository(db).ListAllActive(context.Background())
	if err != nil || len(events) != 2 {
		t.Fatalf("events = %v, err %v", events, err)
	}
}

func TestRunRemoteFeedBadStatus(t *testing.T) {
	imp, _ := newTestImporter(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if _, err := imp.Run(context.Background(), srv.URL); err == nil {
		t.Fatalf("Run on 404 feed succeeded")
	}
}
