package model

import (
	"time"

	"gorm.io/datatypes"
)

// ImportReport records the outcome of one CSV import batch.
type ImportReport struct {
	ID        uint           `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	BatchID   string         `gorm:"column:batch_id;type:varchar(64);uniqueIndex;not null" json:"batch_id"`
	Source    string         `gorm:"column:source;type:varchar(512)" json:"source"` // file path or URL
	Total     int            `gorm:"column:total" json:"total"`
	Imported  int            `gorm:"column:imported" json:"imported"`
	Failed    int            `gorm:"column:failed" json:"failed"`
	RowErrors datatypes.JSON `gorm:"column:row_errors" json:"row_errors,omitempty"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName keeps import runs in their own table.
func (ImportReport) TableName() string { return "import_reports" }

// RowError is one failed CSV line inside ImportReport.RowErrors.
type RowError struct {
	Line  int    `json:"line"`
	Title string `json:"title,omitempty"`
	Error string `json:"error"`
}
