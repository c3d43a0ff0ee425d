// Package backup snapshots the live SQLite database into a local directory,
// writes a metadata sidecar next to every snapshot and can restore the
// calendar from any of them. An optional S3-compatible mirror receives a
// copy of each snapshot.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/budapestdude/chess-calendar/internal/metrics"
	"github.com/budapestdude/chess-calendar/internal/model"
	"github.com/budapestdude/chess-calendar/internal/storage"
)

const (
	snapshotSuffix  = ".db"
	metaSuffix      = ".meta.json"
	timestampLayout = "2006-01-02T15-04-05"
)

// restoredTables are copied back from a snapshot, in this order. A snapshot
// created before a table existed is tolerated; that table is left as is.
var restoredTables = []string{"events", "import_reports"}

// Manager owns the backup directory. One mutex serializes Create, Restore
// and Delete so a restore can never interleave with a concurrent snapshot.
type Manager struct {
	store   *storage.Store
	dir     string
	logger  *logrus.Logger
	offsite *OffsiteStore // nil disables mirroring

	mu sync.Mutex
}

// NewManager creates the manager and its directory. offsite may be nil.
func NewManager(store *storage.Store, dir string, logger *logrus.Logger, offsite *OffsiteStore) (*Manager, error) {
	if dir == "" {
		dir = "./backups"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("backup: create dir %s: %w", dir, err)
	}
	return &Manager{store: store, dir: dir, logger: logger, offsite: offsite}, nil
}

// Dir returns the backup directory.
func (m *Manager) Dir() string { return m.dir }

var reasonCleaner = regexp.MustCompile(`[^a-z0-9-]+`)

// sanitizeReason turns a free-form reason into a filename-safe tag.
func sanitizeReason(reason string) string {
	tag := strings.ToLower(strings.TrimSpace(reason))
	tag = reasonCleaner.ReplaceAllString(tag, "-")
	tag = strings.Trim(tag, "-")
	if tag == "" {
		tag = "manual"
	}
	return tag
}

// Create takes a consistent snapshot of the live database and writes its
// metadata sidecar. The snapshot name is the sanitized reason plus a UTC
// timestamp. Everything is cleaned up on failure.
func (m *Manager) Create(ctx context.Context, reason string) (model.BackupInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(ctx, reason)
}

func (m *Manager) createLocked(ctx context.Context, reason string) (model.BackupInfo, error) {
	tag := sanitizeReason(reason)
	name := m.nextName(tag)
	finalPath := filepath.Join(m.dir, name)
	tmpPath := filepath.Join(m.dir, ".tmp-"+name)

	// VACUUM INTO produces a compacted, transactionally consistent copy and
	// blocks until the copy is complete.
	if err := m.store.DB().WithContext(ctx).Exec("VACUUM INTO ?", tmpPath).Error; err != nil {
		_ = os.Remove(tmpPath)
		if storage.IsBusyError(err) {
			err = fmt.Errorf("database busy: %w", err)
		}
		metrics.BackupsTotal.WithLabelValues(tag, "error").Inc()
		return model.BackupInfo{}, &model.BackupError{Op: "snapshot", Name: name, Err: err}
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		metrics.BackupsTotal.WithLabelValues(tag, "error").Inc()
		return model.BackupInfo{}, &model.BackupError{Op: "snapshot", Name: name, Err: err}
	}

	info := model.BackupInfo{
		Filename:  name,
		Reason:    tag,
		CreatedAt: time.Now().UTC(),
	}
	if fi, err := os.Stat(finalPath); err == nil {
		info.BackupBytes = fi.Size()
	}
	if fi, err := os.Stat(m.store.Path()); err == nil {
		info.OriginalBytes = fi.Size()
	}
	// Raw count: soft-deleted rows are part of the snapshot too.
	if err := m.store.DB().WithContext(ctx).Raw("SELECT COUNT(*) FROM events").Scan(&info.EventCount).Error; err != nil {
		m.logger.WithError(err).Warn("backup: event count unavailable")
	}

	metaPath := finalPath + metaSuffix
	if err := writeMetaAtomic(metaPath, info); err != nil {
		_ = os.Remove(finalPath)
		_ = os.Remove(metaPath)
		metrics.BackupsTotal.WithLabelValues(tag, "error").Inc()
		return model.BackupInfo{}, &model.BackupError{Op: "metadata", Name: name, Err: err}
	}

	if m.offsite != nil {
		// Best effort: the local backup already succeeded.
		if err := m.offsite.Upload(ctx, finalPath, metaPath); err != nil {
			m.logger.WithError(err).WithField("backup", name).Warn("offsite mirror failed")
		}
	}

	metrics.BackupsTotal.WithLabelValues(tag, "ok").Inc()
	m.logger.WithFields(logrus.Fields{
		"backup": name,
		"reason": tag,
		"bytes":  info.BackupBytes,
		"events": info.EventCount,
	}).Info("backup created")
	return info, nil
}

// nextName returns a snapshot filename that does not exist yet. Two backups
// with the same reason within one second get a numeric suffix.
func (m *Manager) nextName(tag string) string {
	base := fmt.Sprintf("%s-%s", tag, time.Now().UTC().Format(timestampLayout))
	name := base + snapshotSuffix
	for i := 2; ; i++ {
		if _, err := os.Stat(filepath.Join(m.dir, name)); os.IsNotExist(err) {
			return name
		}
		name = fmt.Sprintf("%s-%d%s", base, i, snapshotSuffix)
	}
}

// List enumerates all snapshots, newest first. Entries whose sidecar is
// missing or corrupt fall back to filesystem metadata instead of failing
// the whole listing.
func (m *Manager) List(ctx context.Context) ([]model.BackupInfo, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, &model.BackupError{Op: "list", Err: err}
	}

	infos := make([]model.BackupInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, snapshotSuffix) || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		infos = append(infos, m.describe(name, entry))
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].Filename > infos[j].Filename
		}
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})
	return infos, nil
}

func (m *Manager) describe(name string, entry os.DirEntry) model.BackupInfo {
	metaPath := filepath.Join(m.dir, name) + metaSuffix
	if info, err := readMeta(metaPath); err == nil {
		info.Filename = name
		return info
	}

	info := model.BackupInfo{Filename: name, Degraded: true}
	if fi, err := entry.Info(); err == nil {
		info.CreatedAt = fi.ModTime().UTC()
		info.BackupBytes = fi.Size()
	}
	m.logger.WithField("backup", name).Warn("backup sidecar missing or unreadable")
	return info
}

// Restore copies the snapshot's content back into the live database. A
// pre-restore backup is always taken first; when that fails nothing is
// touched. The copy runs inside the engine, so the store handle stays valid
// and no caller has to reopen anything.
func (m *Manager) Restore(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapPath, err := m.snapshotPath(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(snapPath); err != nil {
		return &model.NotFoundError{Entity: "backup", Key: name}
	}
	if err := storage.VerifySnapshot(snapPath); err != nil {
		return &model.BackupError{Op: "verify", Name: name, Err: err}
	}

	if _, err := m.createLocked(ctx, "pre-restore"); err != nil {
		return err
	}

	if err := m.copyTablesFrom(ctx, snapPath); err != nil {
		metrics.BackupsTotal.WithLabelValues("restore", "error").Inc()
		return &model.BackupError{Op: "restore", Name: name, Err: err}
	}

	metrics.BackupsTotal.WithLabelValues("restore", "ok").Inc()
	m.logger.WithField("backup", name).Info("database restored from snapshot")
	return nil
}

// copyTablesFrom attaches the snapshot and swaps table contents inside one
// transaction. ATTACH is per-connection state, so everything runs on a
// single pinned connection.
func (m *Manager) copyTablesFrom(ctx context.Context, snapPath string) error {
	return m.store.DB().WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := conn.Exec("ATTACH DATABASE ? AS restore_src", snapPath).Error; err != nil {
			return fmt.Errorf("attach snapshot: %w", err)
		}
		defer func() {
			if err := conn.Exec("DETACH DATABASE restore_src").Error; err != nil {
				m.logger.WithError(err).Warn("detach restore source failed")
			}
		}()

		return conn.Transaction(func(tx *gorm.DB) error {
			for _, table := range restoredTables {
				var present int64
				if err := tx.Raw(
					"SELECT COUNT(*) FROM restore_src.sqlite_master WHERE type = 'table' AND name = ?",
					table).Scan(&present).Error; err != nil {
					return fmt.Errorf("inspect snapshot schema: %w", err)
				}
				if present == 0 {
					continue
				}
				if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
					return fmt.Errorf("clear %s: %w", table, err)
				}
				if err := tx.Exec(fmt.Sprintf("INSERT INTO %s SELECT * FROM restore_src.%s", table, table)).Error; err != nil {
					return fmt.Errorf("copy %s: %w", table, err)
				}
			}
			return nil
		})
	})
}

// Delete removes a snapshot and its sidecar. Partial prior state is fine:
// whatever half is still present gets removed. Only a fully absent backup
// is an error.
func (m *Manager) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapPath, err := m.snapshotPath(name)
	if err != nil {
		return err
	}
	metaPath := snapPath + metaSuffix

	_, snapErr := os.Stat(snapPath)
	_, metaErr := os.Stat(metaPath)
	if os.IsNotExist(snapErr) && os.IsNotExist(metaErr) {
		return &model.NotFoundError{Entity: "backup", Key: name}
	}

	if snapErr == nil {
		if err := os.Remove(snapPath); err != nil {
			return &model.BackupError{Op: "delete", Name: name, Err: err}
		}
	}
	_ = os.Remove(metaPath)

	m.logger.WithField("backup", name).Info("backup deleted")
	return nil
}

// snapshotPath validates a caller-supplied snapshot name and resolves it
// inside the backup directory.
func (m *Manager) snapshotPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) ||
		strings.Contains(name, "..") || !strings.HasSuffix(name, snapshotSuffix) {
		return "", &model.ValidationError{Field: "name", Reason: "not a snapshot filename"}
	}
	return filepath.Join(m.dir, name), nil
}

func writeMetaAtomic(path string, info model.BackupInfo) error {
	b, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readMeta(path string) (model.BackupInfo, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return model.BackupInfo{}, err
	}
	var info model.BackupInfo
	if err := json.Unmarshal(b, &info); err != nil {
		return model.BackupInfo{}, err
	}
	return info, nil
}
