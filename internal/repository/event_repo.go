package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/budapestdude/chess-calendar/internal/model"
)

// EventFilter carries the optional list criteria. Zero values mean "no
// restriction" for that dimension.
type EventFilter struct {
	Special   bool   // only events whose special flag is set
	Continent string // case-insensitive exact match
	Format    string // case-insensitive exact match
	Search    string // substring across title, location and players
	Limit     int
	Offset    int
}

const (
	defaultListLimit = 100
	maxListLimit     = 5000
)

// EventRepository is the storage surface for calendar events. All reads and
// writes except the explicitly unscoped ones see only non-deleted rows.
type EventRepository interface {
	// List returns one page of active events plus the total match count
	// before pagination, ordered by start date then id.
	List(ctx context.Context, filter EventFilter) ([]*model.Event, int64, error)
	// ListAllActive returns every active event ordered by start date then id.
	ListAllActive(ctx context.Context) ([]*model.Event, error)
	// GetByID fetches one active event.
	GetByID(ctx context.Context, id uint) (*model.Event, error)
	// Create inserts a new event and backfills the generated id.
	Create(ctx context.Context, event *model.Event) error
	// UpdateFields applies a column map to one active event and reports the
	// number of rows touched.
	UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) (int64, error)
	// SoftDelete stamps deleted_at on one active event.
	SoftDelete(ctx context.Context, id uint) (int64, error)
	// SoftDeleteMany stamps deleted_at on every listed active event.
	SoftDeleteMany(ctx context.Context, ids []uint) (int64, error)
	// Restore clears deleted_at. Rows touched is 1 whenever the id exists,
	// deleted or not.
	Restore(ctx context.Context, id uint) (int64, error)
	// PermanentDelete removes the row physically, soft-deleted rows included.
	PermanentDelete(ctx context.Context, id uint) (int64, error)
	// CountAll counts every row in events, soft-deleted included.
	CountAll(ctx context.Context) (int64, error)
}

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates an EventRepository backed by gorm.
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

// List returns one page of active events plus the total match count.
func (r *eventRepository) List(ctx context.Context, filter EventFilter) ([]*model.Event, int64, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	db := r.db.WithContext(ctx).Model(&model.Event{})

	if filter.Special {
		db = db.Where("special = ?", "true")
	}
	if filter.Continent != "" {
		db = db.Where("LOWER(continent) = LOWER(?)", filter.Continent)
	}
	if filter.Format != "" {
		db = db.Where("LOWER(format) = LOWER(?)", filter.Format)
	}
	if q := strings.TrimSpace(filter.Search); q != "" {
		pattern := "%" + escapeLike(q) + "%"
		db = db.Where(`(title LIKE ? ESCAPE '\' OR location LIKE ? ESCAPE '\' OR players LIKE ? ESCAPE '\')`,
			pattern, pattern, pattern)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var events []*model.Event
	if err := db.
		Order("start_date ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, 0, err
	}

	return events, total, nil
}

// ListAllActive returns every active event in calendar order. Shared by the
// export generator and the duplicate scan.
func (r *eventRepository) ListAllActive(ctx context.Context) ([]*model.Event, error) {
	var events []*model.Event
	if err := r.db.WithContext(ctx).Model(&model.Event{}).
		Order("start_date ASC, id ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// GetByID fetches one active event.
func (r *eventRepository) GetByID(ctx context.Context, id uint) (*model.Event, error) {
	var event model.Event
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// Create inserts a new event.
func (r *eventRepository) Create(ctx context.Context, event *model.Event) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// UpdateFields applies a column map to one active event.
func (r *eventRepository) UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) (int64, error) {
	tx := r.db.WithContext(ctx).Model(&model.Event{}).
		Where("id = ?", id).
		Updates(fields)
	return tx.RowsAffected, tx.Error
}

// SoftDelete stamps deleted_at. The default scope already restricts the
// statement to rows where deleted_at is still null.
func (r *eventRepository) SoftDelete(ctx context.Context, id uint) (int64, error) {
	tx := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Event{})
	return tx.RowsAffected, tx.Error
}

// SoftDeleteMany stamps deleted_at on every listed active event.
func (r *eventRepository) SoftDeleteMany(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&model.Event{})
	return tx.RowsAffected, tx.Error
}

// Restore clears deleted_at unconditionally, so restoring an active row
// still counts as one row touched.
func (r *eventRepository) Restore(ctx context.Context, id uint) (int64, error) {
	tx := r.db.WithContext(ctx).Unscoped().Model(&model.Event{}).
		Where("id = ?", id).
		Update("deleted_at", nil)
	return tx.RowsAffected, tx.Error
}

// PermanentDelete removes the row physically.
func (r *eventRepository) PermanentDelete(ctx context.Context, id uint) (int64, error) {
	tx := r.db.WithContext(ctx).Unscoped().Where("id = ?", id).Delete(&model.Event{})
	return tx.RowsAffected, tx.Error
}

// CountAll counts every row in events, soft-deleted included.
func (r *eventRepository) CountAll(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Unscoped().Model(&model.Event{}).Count(&total).Error
	return total, err
}

// escapeLike neutralizes LIKE wildcards in user input.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
