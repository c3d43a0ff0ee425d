package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/budapestdude/chess-calendar/internal/backup"
	"github.com/budapestdude/chess-calendar/internal/exporter"
	"github.com/budapestdude/chess-calendar/internal/importer"
	"github.com/budapestdude/chess-calendar/internal/model"
	"github.com/budapestdude/chess-calendar/internal/repository"
	"github.com/budapestdude/chess-calendar/internal/service"
	"github.com/budapestdude/chess-calendar/internal/storage"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// testEnv wires the full stack against a temp database, mirroring the
// server's route table.
type testEnv struct {
	router *gin.Engine
	store  *storage.Store
}

func newTestEnv(t *testing.T, adminToken string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := testLogger()
	root := t.TempDir()

	store, err := storage.Open(storage.Options{Path: filepath.Join(root, "calendar.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	exp, err := exporter.New(store.DB(), filepath.Join(root, "exports"), nil, logger)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	backups, err := backup.NewManager(store, filepath.Join(root, "backups"), logger, nil)
	if err != nil {
		t.Fatalf("new backup manager: %v", err)
	}
	calendar := service.NewCalendarService(store.DB(), logger, exp)
	dedup := service.NewDedupService(repository.NewEventRepository(store.DB()), backups, exp, logger)
	feeds := importer.New(store.DB(), calendar, logger, nil)

	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), AccessLog(logger))

	eventHandler := NewEventHandler(calendar, logger)
	r.GET("/api/events", eventHandler.ListEvents)
	r.POST("/api/events", eventHandler.CreateEvent)
	r.GET("/api/events/:id", eventHandler.GetEvent)
	r.PATCH("/api/events/:id", eventHandler.UpdateEvent)
	r.DELETE("/api/events/:id", eventHandler.DeleteEvent)
	r.POST("/api/events/:id/restore", eventHandler.RestoreEvent)

	adminHandler := NewAdminHandler(store.DB(), backups, dedup, exp, feeds, logger)
	admin := r.Group("/api/admin", RequireAdminToken(adminToken))
	admin.POST("/backups", adminHandler.CreateBackup)
	admin.GET("/backups", adminHandler.ListBackups)
	admin.POST("/backups/:name/restore", adminHandler.RestoreBackup)
	admin.DELETE("/backups/:name", adminHandler.DeleteBackup)
	admin.GET("/duplicates", adminHandler.ListDuplicates)
	admin.POST("/duplicates/delete", adminHandler.DeleteDuplicates)
	admin.POST("/export", adminHandler.TriggerExport)
	admin.POST("/import", adminHandler.RunImport)
	admin.GET("/imports", adminHandler.ListImports)

	return &testEnv{router: r, store: store}
}

// do runs one request. body may be nil, a []byte sent raw, or any value
// marshaled to JSON.
func (env *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, ok := body.([]byte)
		if !ok {
			var err error
			raw, err = json.Marshal(body)
			if err != nil {
				t.Fatalf("marshal body: %v", err)
			}
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func createEvent(t *testing.T, env *testEnv, mutate func(*model.EventInput)) uint {
	t.Helper()
	input := &model.EventInput{
		Title:     "Tata Steel Masters",
		StartDate: "2026-01-16",
		EndDate:   "2026-02-01",
		Location:  "Wijk aan Zee",
		URL:       "https://tatasteelchess.com",
	}
	if mutate != nil {
		mutate(input)
	}
	w := env.do(t, http.MethodPost, "/api/events", input, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create event = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		ID uint `json:"id"`
	}
	decodeJSON(t, w, &resp)
	return resp.ID
}

func TestEventLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, "")
	id := createEvent(t, env, nil)
	path := fmt.Sprintf("/api/events/%d", id)

	w := env.do(t, http.MethodGet, path, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get = %d: %s", w.Code, w.Body.String())
	}
	var ev model.Event
	decodeJSON(t, w, &ev)
	if ev.Title != "Tata Steel Masters" || ev.ID != id {
		t.Fatalf("event = %+v", ev)
	}

	w = env.do(t, http.MethodPatch, path, map[string]interface{}{"location": "Oslo"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("patch = %d: %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodGet, path, nil, nil)
	decodeJSON(t, w, &ev)
	if ev.Location != "Oslo" {
		t.Fatalf("patch not applied: %+v", ev)
	}

	if w = env.do(t, http.MethodDelete, path, nil, nil); w.Code != http.StatusOK {
		t.Fatalf("delete = %d", w.Code)
	}
	if w = env.do(t, http.MethodGet, path, nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("get deleted = %d", w.Code)
	}
	if w = env.do(t, http.MethodPost, path+"/restore", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("restore = %d: %s", w.Code, w.Body.String())
	}
	if w = env.do(t, http.MethodGet, path, nil, nil); w.Code != http.StatusOK {
		t.Fatalf("get restored = %d", w.Code)
	}

	if w = env.do(t, http.MethodDelete, path+"?permanent=true", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("permanent delete = %d", w.Code)
	}
	if w = env.do(t, http.MethodPost, path+"/restore", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("restore purged = %d", w.Code)
	}
}

func TestCreateEventRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodPost, "/api/events", &model.EventInput{URL: "https://x.org"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing title = %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/api/events", &model.EventInput{Title: "X", URL: "nowhere"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad url = %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/api/events", []byte("{not json"), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed body = %d", w.Code)
	}
}

func TestEventIDValidation(t *testing.T) {
	env := newTestEnv(t, "")
	for _, path := range []string{"/api/events/abc", "/api/events/0", "/api/events/-4"} {
		if w := env.do(t, http.MethodGet, path, nil, nil); w.Code != http.StatusBadRequest {
			t.Fatalf("get %s = %d, want 400", path, w.Code)
		}
	}
	if w := env.do(t, http.MethodGet, "/api/events/99999", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown id = %d, want 404", w.Code)
	}
}

func TestListEventsEnvelope(t *testing.T) {
	env := newTestEnv(t, "")
	createEvent(t, env, nil)
	createEvent(t, env, func(in *model.EventInput) {
		in.Title = "Sinquefield Cup"
		in.StartDate = "2026-08-17"
		in.EndDate = "2026-08-29"
		in.Special = "yes"
		in.Continent = "North America"
	})

	var resp struct {
		Events []*model.Event `json:"events"`
		Total  int64          `json:"total"`
	}
	w := env.do(t, http.MethodGet, "/api/events", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	decodeJSON(t, w, &resp)
	if resp.Total != 2 || len(resp.Events) != 2 {
		t.Fatalf("list envelope = %+v", resp)
	}

	w = env.do(t, http.MethodGet, "/api/events?special=true", nil, nil)
	decodeJSON(t, w, &resp)
	if resp.Total != 1 || resp.Events[0].Title != "Sinquefield Cup" {
		t.Fatalf("special filter = %+v", resp)
	}

	w = env.do(t, http.MethodGet, "/api/events?search=sinquefield&limit=1&offset=0", nil, nil)
	decodeJSON(t, w, &resp)
	if resp.Total != 1 || len(resp.Events) != 1 {
		t.Fatalf("search filter = %+v", resp)
	}
}

func TestAdminAuth(t *testing.T) {
	env := newTestEnv(t, "secret")

	if w := env.do(t, http.MethodGet, "/api/admin/backups", nil, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d", w.Code)
	}
	headers := map[string]string{"Authorization": "Bearer wrong"}
	if w := env.do(t, http.MethodGet, "/api/admin/backups", nil, headers); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d", w.Code)
	}
	headers["Authorization"] = "secret" // missing Bearer prefix
	if w := env.do(t, http.MethodGet, "/api/admin/backups", nil, headers); w.Code != http.StatusUnauthorized {
		t.Fatalf("bare token = %d", w.Code)
	}
	headers["Authorization"] = "Bearer secret"
	if w := env.do(t, http.MethodGet, "/api/admin/backups", nil, headers); w.Code != http.StatusOK {
		t.Fatalf("valid token = %d: %s", w.Code, w.Body.String())
	}
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodGet, "/api/admin/backups", nil, map[string]string{"Authorization": "Bearer anything"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("disabled admin = %d, want 403", w.Code)
	}
}

func TestAdminBackupEndpoints(t *testing.T) {
	env := newTestEnv(t, "secret")
	auth := map[string]string{"Authorization": "Bearer secret"}
	id := createEvent(t, env, nil)

	w := env.do(t, http.MethodPost, "/api/admin/backups?reason=api-test", nil, auth)
	if w.Code != http.StatusCreated {
		t.Fatalf("create backup = %d: %s", w.Code, w.Body.String())
	}
	var info model.BackupInfo
	decodeJSON(t, w, &info)
	if info.Reason != "api-test" || info.Filename == "" {
		t.Fatalf("backup info = %+v", info)
	}

	var listResp struct {
		Backups []model.BackupInfo `json:"backups"`
		Count   int                `json:"count"`
	}
	w = env.do(t, http.MethodGet, "/api/admin/backups", nil, auth)
	decodeJSON(t, w, &listResp)
	if listResp.Count != 1 || listResp.Backups[0].Filename != info.Filename {
		t.Fatalf("backup list = %+v", listResp)
	}

	// Drift, then restore the snapshot and expect the event back.
	if w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/events/%d?permanent=true", id), nil, nil); w.Code != http.StatusOK {
		t.Fatalf("purge = %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/api/admin/backups/"+info.Filename+"/restore", nil, auth)
	if w.Code != http.StatusOK {
		t.Fatalf("restore = %d: %s", w.Code, w.Body.String())
	}
	if w = env.do(t, http.MethodGet, fmt.Sprintf("/api/events/%d", id), nil, nil); w.Code != http.StatusOK {
		t.Fatalf("event not back after restore = %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/admin/backups/ghost.db/restore", nil, auth)
	if w.Code != http.StatusNotFound {
		t.Fatalf("restore ghost = %d", w.Code)
	}

	if w = env.do(t, http.MethodDelete, "/api/admin/backups/"+info.Filename, nil, auth); w.Code != http.StatusOK {
		t.Fatalf("delete backup = %d", w.Code)
	}
	if w = env.do(t, http.MethodDelete, "/api/admin/backups/"+info.Filename, nil, auth); w.Code != http.StatusNotFound {
		t.Fatalf("delete again = %d", w.Code)
	}
}

func TestAdminDuplicateEndpoints(t *testing.T) {
	env := newTestEnv(t, "secret")
	auth := map[string]string{"Authorization": "Bearer secret"}

	start := time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		ev := &model.Event{
			Title:     "Tata Steel Masters",
			Location:  "Wijk aan Zee",
			StartDate: start,
			EndDate:   start,
			URL:       "https://tatasteelchess.com",
			CreatedAt: created.Add(time.Duration(i) * time.Hour),
		}
		if err := env.store.DB().Create(ev).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	var groupsResp struct {
		Groups []model.DuplicateGroup `json:"groups"`
		Count  int                    `json:"count"`
	}
	w := env.do(t, http.MethodGet, "/api/admin/duplicates", nil, auth)
	if w.Code != http.StatusOK {
		t.Fatalf("list duplicates = %d", w.Code)
	}
	decodeJSON(t, w, &groupsResp)
	if groupsResp.Count != 1 || groupsResp.Groups[0].Count != 2 {
		t.Fatalf("duplicates = %+v", groupsResp)
	}

	if w = env.do(t, http.MethodPost, "/api/admin/duplicates/delete?mode=dry-run", nil, auth); w.Code != http.StatusBadRequest {
		t.Fatalf("bad mode = %d", w.Code)
	}

	var delResp struct {
		Removed int64  `json:"removed"`
		Backup  string `json:"backup"`
	}
	w = env.do(t, http.MethodPost, "/api/admin/duplicates/delete?mode=auto", nil, auth)
	if w.Code != http.StatusOK {
		t.Fatalf("delete duplicates = %d: %s", w.Code, w.Body.String())
	}
	decodeJSON(t, w, &delResp)
	if delResp.Removed != 1 || delResp.Backup == "" {
		t.Fatalf("delete response = %+v", delResp)
	}
}

func TestAdminImportEndpoints(t *testing.T) {
	env := newTestEnv(t, "secret")
	auth := map[string]string{"Authorization": "Bearer secret"}

	feed := filepath.Join(t.TempDir(), "feed.csv")
	csv := "title,start_date,url\nCandidates,2026-04-02,https://fide.com\n"
	if err := os.WriteFile(feed, []byte(csv), 0o644); err != nil {
		t.Fatalf("write feed: %v", err)
	}

	if w := env.do(t, http.MethodPost, "/api/admin/import", map[string]string{}, auth); w.Code != http.StatusBadRequest {
		t.Fatalf("missing source = %d", w.Code)
	}

	var report model.ImportReport
	w := env.do(t, http.MethodPost, "/api/admin/import", map[string]string{"source": feed}, auth)
	if w.Code != http.StatusOK {
		t.Fatalf("import = %d: %s", w.Code, w.Body.String())
	}
	decodeJSON(t, w, &report)
	if report.Imported != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}

	var listResp struct {
		Reports []*model.ImportReport `json:"reports"`
		Count   int                   `json:"count"`
	}
	w = env.do(t, http.MethodGet, "/api/admin/imports", nil, auth)
	decodeJSON(t, w, &listResp)
	if listResp.Count != 1 || listResp.Reports[0].BatchID != report.BatchID {
		t.Fatalf("reports = %+v", listResp)
	}
}

func TestTriggerExportEndpoint(t *testing.T) {
	env := newTestEnv(t, "secret")
	w := env.do(t, http.MethodPost, "/api/admin/export", nil, map[string]string{"Authorization": "Bearer secret"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("trigger export = %d", w.Code)
	}
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&model.ValidationError{Field: "title", Reason: "empty"}, http.StatusBadRequest},
		{&model.UnsupportedModeError{Mode: "x"}, http.StatusBadRequest},
		{&model.NotFoundError{Entity: "event", Key: "7"}, http.StatusNotFound},
		{&model.StorageError{Op: "create", Err: io.ErrUnexpectedEOF, Duplicate: true}, http.StatusConflict},
		{&model.StorageError{Op: "create", Err: io.ErrUnexpectedEOF}, http.StatusInternalServerError},
		{&model.BackupError{Op: "snapshot", Err: io.ErrUnexpectedEOF}, http.StatusInternalServerError},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusForError(tc.err); got != tc.want {
			t.Errorf("statusForError(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
