package model

import "time"

// BackupInfo describes one snapshot in the backup directory. It mirrors the
// metadata sidecar written next to the snapshot file; when the sidecar is
// missing or unreadable the manager falls back to what the filesystem alone
// can provide and marks the entry degraded.
type BackupInfo struct {
	Filename      string    `json:"filename"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	OriginalBytes int64     `json:"original_bytes,omitempty"` // live database size at snapshot time
	BackupBytes   int64     `json:"backup_bytes"`
	EventCount    int64     `json:"event_count,omitempty"` // rows in events, deleted included
	Degraded      bool      `json:"degraded,omitempty"`    // sidecar missing or corrupt
}
