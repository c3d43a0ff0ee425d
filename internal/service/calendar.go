package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/budapestdude/chess-calendar/internal/metrics"
	"github.com/budapestdude/chess-calendar/internal/model"
	"github.com/budapestdude/chess-calendar/internal/repository"
	"github.com/budapestdude/chess-calendar/internal/storage"
)

// ExportTrigger requests a projection rebuild after a successful mutation.
// Implementations must not block; the calendar fires it and moves on.
type ExportTrigger interface {
	Trigger()
}

// CalendarService owns every event mutation: validation, defaulting, soft
// delete lifecycle and the export hook that follows each successful write.
type CalendarService struct {
	logger  *logrus.Logger
	events  repository.EventRepository
	exports ExportTrigger // may be nil in CLI tools that serve no projections
}

// NewCalendarService creates the mutation service. exports may be nil.
func NewCalendarService(db *gorm.DB, logger *logrus.Logger, exports ExportTrigger) *CalendarService {
	return &CalendarService{
		logger:  logger,
		events:  repository.NewEventRepository(db),
		exports: exports,
	}
}

// dateLayouts are the accepted write formats, most specific first.
var dateLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

func parseEventDate(value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

func validateEventURL(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return &model.ValidationError{Field: "url", Reason: "must not be empty"}
	}
	u, err := url.Parse(trimmed)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return &model.ValidationError{Field: "url", Reason: "must be an absolute URL"}
	}
	return nil
}

// normalizeSpecial collapses the truthy spellings to the stored "true".
func normalizeSpecial(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes":
		return "true"
	default:
		return ""
	}
}

func storageErr(op string, err error) error {
	dup := errors.Is(err, gorm.ErrDuplicatedKey) || storage.IsConstraintError(err)
	return &model.StorageError{Op: op, Err: err, Duplicate: dup}
}

func notFound(id uint) error {
	return &model.NotFoundError{Entity: "event", Key: strconv.FormatUint(uint64(id), 10)}
}

// List returns one page of active events plus the total match count.
func (s *CalendarService) List(ctx context.Context, filter repository.EventFilter) ([]*model.Event, int64, error) {
	events, total, err := s.events.List(ctx, filter)
	if err != nil {
		return nil, 0, storageErr("list events", err)
	}
	return events, total, nil
}

// Get fetches one active event.
func (s *CalendarService) Get(ctx context.Context, id uint) (*model.Event, error) {
	event, err := s.events.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(id)
		}
		return nil, storageErr("load event", err)
	}
	return event, nil
}

// Create validates the input, fills the date defaults and inserts the event.
// Returns the generated id.
func (s *CalendarService) Create(ctx context.Context, input *model.EventInput) (uint, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return 0, &model.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if err := validateEventURL(input.URL); err != nil {
		return 0, err
	}
	if input.Rounds != nil && *input.Rounds < 1 {
		return 0, &model.ValidationError{Field: "rounds", Reason: "must be a positive integer"}
	}

	start := time.Now().UTC()
	if input.StartDate != "" {
		t, err := parseEventDate(input.StartDate)
		if err != nil {
			return 0, &model.ValidationError{Field: "start_date", Reason: err.Error()}
		}
		start = t
	}
	end := start
	if input.EndDate != "" {
		t, err := parseEventDate(input.EndDate)
		if err != nil {
			return 0, &model.ValidationError{Field: "end_date", Reason: err.Error()}
		}
		end = t
	}
	if end.Before(start) {
		return 0, &model.ValidationError{Field: "end_date", Reason: "must not be before start_date"}
	}

	event := &model.Event{
		Title:       title,
		StartDate:   start,
		EndDate:     end,
		Location:    strings.TrimSpace(input.Location),
		Venue:       strings.TrimSpace(input.Venue),
		Description: input.Description,
		Format:      strings.TrimSpace(input.Format),
		Rounds:      input.Rounds,
		EventType:   strings.TrimSpace(input.EventType),
		Category:    strings.TrimSpace(input.Category),
		Continent:   strings.TrimSpace(input.Continent),
		Players:     input.Players,
		PrizeFund:   strings.TrimSpace(input.PrizeFund),
		Special:     normalizeSpecial(input.Special),
		URL:         strings.TrimSpace(input.URL),
		Landing:     strings.TrimSpace(input.Landing),
		LiveGames:   strings.TrimSpace(input.LiveGames),
	}
	if err := s.events.Create(ctx, event); err != nil {
		return 0, storageErr("create event", err)
	}

	s.logger.WithFields(logrus.Fields{"event_id": event.ID, "title": event.Title}).Info("event created")
	metrics.MutationsTotal.WithLabelValues("create").Inc()
	s.requestExport()
	return event.ID, nil
}

// immutableFields are dropped from update payloads without complaint.
var immutableFields = map[string]bool{
	"id":         true,
	"created_at": true,
	"updated_at": true,
	"deleted_at": true,
}

// mutableStringFields are the free-form columns updates may touch. Title,
// url, dates, rounds and special carry extra rules and are handled apart.
var mutableStringFields = map[string]bool{
	"location":    true,
	"venue":       true,
	"description": true,
	"format":      true,
	"event_type":  true,
	"category":    true,
	"continent":   true,
	"players":     true,
	"prize_fund":  true,
	"landing":     true,
	"live_games":  true,
}

func requireString(field string, value interface{}) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", &model.ValidationError{Field: field, Reason: "must be a string"}
	}
	return s, nil
}

func normalizeUpdateValue(field string, value interface{}) (interface{}, error) {
	switch field {
	case "title":
		s, err := requireString(field, value)
		if err != nil {
			return nil, err
		}
		trimmed := strings.TrimSpace(s)
		if trimmed == "" {
			return nil, &model.ValidationError{Field: "title", Reason: "must not be empty"}
		}
		return trimmed, nil
	case "url":
		s, err := requireString(field, value)
		if err != nil {
			return nil, err
		}
		if err := validateEventURL(s); err != nil {
			return nil, err
		}
		return strings.TrimSpace(s), nil
	case "start_date", "end_date":
		switch v := value.(type) {
		case time.Time:
			return v.UTC(), nil
		case string:
			t, err := parseEventDate(v)
			if err != nil {
				return nil, &model.ValidationError{Field: field, Reason: err.Error()}
			}
			return t, nil
		default:
			return nil, &model.ValidationError{Field: field, Reason: "must be a date string"}
		}
	case "rounds":
		switch v := value.(type) {
		case nil:
			return nil, nil // clears the column
		case float64:
			if v < 1 || v != float64(int(v)) {
				return nil, &model.ValidationError{Field: "rounds", Reason: "must be a positive integer"}
			}
			return int(v), nil
		case int:
			if v < 1 {
				return nil, &model.ValidationError{Field: "rounds", Reason: "must be a positive integer"}
			}
			return v, nil
		default:
			return nil, &model.ValidationError{Field: "rounds", Reason: "must be a positive integer"}
		}
	case "special":
		s, err := requireString(field, value)
		if err != nil {
			return nil, err
		}
		return normalizeSpecial(s), nil
	default:
		if !mutableStringFields[field] {
			return nil, &model.ValidationError{Field: field, Reason: "unknown field"}
		}
		return requireString(field, value)
	}
}

// Update applies a partial field map to one active event. Bookkeeping keys
// are stripped silently; anything else outside the mutable set is rejected.
func (s *CalendarService) Update(ctx context.Context, id uint, fields map[string]interface{}) error {
	updates := make(map[string]interface{}, len(fields))
	for key, value := range fields {
		name := strings.ToLower(strings.TrimSpace(key))
		if immutableFields[name] {
			continue
		}
		normalized, err := normalizeUpdateValue(name, value)
		if err != nil {
			return err
		}
		updates[name] = normalized
	}
	if len(updates) == 0 {
		return &model.ValidationError{Field: "fields", Reason: "no updatable fields supplied"}
	}

	current, err := s.events.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(id)
		}
		return storageErr("load event", err)
	}

	start, end := current.StartDate, current.EndDate
	if v, ok := updates["start_date"].(time.Time); ok {
		start = v
	}
	if v, ok := updates["end_date"].(time.Time); ok {
		end = v
	}
	if end.Before(start) {
		return &model.ValidationError{Field: "end_date", Reason: "must not be before start_date"}
	}

	affected, err := s.events.UpdateFields(ctx, id, updates)
	if err != nil {
		return storageErr("update event", err)
	}
	if affected == 0 {
		// Row disappeared between the read and the write.
		return notFound(id)
	}

	s.logger.WithFields(logrus.Fields{"event_id": id, "fields": len(updates)}).Info("event updated")
	metrics.MutationsTotal.WithLabelValues("update").Inc()
	s.requestExport()
	return nil
}

// SoftDelete stamps the deletion timestamp on an active event.
func (s *CalendarService) SoftDelete(ctx context.Context, id uint) error {
	affected, err := s.events.SoftDelete(ctx, id)
	if err != nil {
		return storageErr("delete event", err)
	}
	if affected == 0 {
		return notFound(id)
	}
	s.logger.WithField("event_id", id).Info("event soft-deleted")
	metrics.MutationsTotal.WithLabelValues("soft_delete").Inc()
	s.requestExport()
	return nil
}

// Restore clears the deletion timestamp. Restoring an event that was never
// deleted succeeds as a no-op.
func (s *CalendarService) Restore(ctx context.Context, id uint) error {
	affected, err := s.events.Restore(ctx, id)
	if err != nil {
		return storageErr("restore event", err)
	}
	if affected == 0 {
		return notFound(id)
	}
	s.logger.WithField("event_id", id).Info("event restored")
	metrics.MutationsTotal.WithLabelValues("restore").Inc()
	s.requestExport()
	return nil
}

// PermanentDelete removes the row physically. It reaches soft-deleted rows
// too, which is how purge-after-archive works.
func (s *CalendarService) PermanentDelete(ctx context.Context, id uint) error {
	affected, err := s.events.PermanentDelete(ctx, id)
	if err != nil {
		return storageErr("purge event", err)
	}
	if affected == 0 {
		return notFound(id)
	}
	s.logger.WithField("event_id", id).Info("event permanently deleted")
	metrics.MutationsTotal.WithLabelValues("permanent_delete").Inc()
	s.requestExport()
	return nil
}

func (s *CalendarService) requestExport() {
	if s.exports != nil {
		s.exports.Trigger()
	}
}
