package service

import (
	"context"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/budapestdude/chess-calendar/internal/metrics"
	"github.com/budapestdude/chess-calendar/internal/model"
	"github.com/budapestdude/chess-calendar/internal/repository"
)

// BackupCreator is the slice of the backup manager the cleanup needs.
type BackupCreator interface {
	Create(ctx context.Context, reason string) (model.BackupInfo, error)
}

// DedupService finds clusters of near-identical events and soft-deletes the
// redundant members, keeping the earliest-created record of each cluster.
type DedupService struct {
	events  repository.EventRepository
	backups BackupCreator
	exports ExportTrigger // may be nil
	logger  *logrus.Logger
}

// NewDedupService creates the duplicate scanner/cleaner.
func NewDedupService(events repository.EventRepository, backups BackupCreator, exports ExportTrigger, logger *logrus.Logger) *DedupService {
	return &DedupService{
		events:  events,
		backups: backups,
		exports: exports,
		logger:  logger,
	}
}

// duplicateKey is the coarse identity: lowercased title + location + start.
func duplicateKey(e *model.Event) string {
	return strings.ToLower(e.Title) + "\x00" + e.Location + "\x00" + e.StartDate.UTC().Format("2006-01-02T15:04:05.999999999")
}

// FindDuplicates groups active events by their coarse identity and returns
// every group with more than one member, ids ordered oldest first.
func (s *DedupService) FindDuplicates(ctx context.Context) ([]model.DuplicateGroup, error) {
	events, err := s.events.ListAllActive(ctx)
	if err != nil {
		return nil, storageErr("scan duplicates", err)
	}

	byKey := make(map[string][]*model.Event)
	var order []string // first-seen order keeps output deterministic
	for _, e := range events {
		key := duplicateKey(e)
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], e)
	}

	var groups []model.DuplicateGroup
	for _, key := range order {
		members := byKey[key]
		if len(members) < 2 {
			continue
		}
		sort.SliceStable(members, func(i, j int) bool {
			if members[i].CreatedAt.Equal(members[j].CreatedAt) {
				return members[i].ID < members[j].ID
			}
			return members[i].CreatedAt.Before(members[j].CreatedAt)
		})
		ids := make([]uint, len(members))
		for i, m := range members {
			ids[i] = m.ID
		}
		groups = append(groups, model.DuplicateGroup{
			Title:     members[0].Title,
			Location:  members[0].Location,
			StartDate: members[0].StartDate,
			Count:     len(members),
			IDs:       ids,
		})
	}
	return groups, nil
}

// DeleteDuplicates removes every non-canonical member of every duplicate
// group. Only mode "auto" is implemented. A safety backup is taken first;
// when it fails nothing is deleted. Returns the number of events removed and
// the backup filename.
func (s *DedupService) DeleteDuplicates(ctx context.Context, mode string) (int64, string, error) {
	if mode != "auto" {
		return 0, "", &model.UnsupportedModeError{Mode: mode}
	}

	groups, err := s.FindDuplicates(ctx)
	if err != nil {
		return 0, "", err
	}
	if len(groups) == 0 {
		s.logger.Info("duplicate cleanup: nothing to remove")
		return 0, "", nil
	}

	info, err := s.backups.Create(ctx, "duplicate-deletion")
	if err != nil {
		return 0, "", err
	}

	var doomed []uint
	for _, g := range groups {
		doomed = append(doomed, g.IDs[1:]...)
	}
	removed, err := s.events.SoftDeleteMany(ctx, doomed)
	if err != nil {
		return 0, info.Filename, storageErr("delete duplicates", err)
	}

	s.logger.WithFields(logrus.Fields{
		"groups":  len(groups),
		"removed": removed,
		"backup":  info.Filename,
	}).Info("duplicate cleanup finished")
	metrics.MutationsTotal.WithLabelValues("delete_duplicates").Inc()
	if s.exports != nil {
		s.exports.Trigger()
	}
	return removed, info.Filename, nil
}
