package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/budapestdude/chess-calendar/internal/model"
)

// ReportRepository stores CSV import reports.
type ReportRepository interface {
	// Save inserts one import report.
	Save(ctx context.Context, report *model.ImportReport) error
	// ListRecent returns the newest reports first.
	ListRecent(ctx context.Context, limit int) ([]*model.ImportReport, error)
}

type reportRepository struct {
	db *gorm.DB
}

// NewReportRepository creates a ReportRepository backed by gorm.
func NewReportRepository(db *gorm.DB) ReportRepository {
	return &reportRepository{db: db}
}

func (r *reportRepository) Save(ctx context.Context, report *model.ImportReport) error {
	return r.db.WithContext(ctx).Create(report).Error
}

func (r *reportRepository) ListRecent(ctx context.Context, limit int) ([]*model.ImportReport, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var reports []*model.ImportReport
	if err := r.db.WithContext(ctx).Model(&model.ImportReport{}).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&reports).Error; err != nil {
		return nil, err
	}
	return reports, nil
}
