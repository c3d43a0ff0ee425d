// Package importer loads events from header-addressed CSV feeds, local or
// remote. Every row goes through the calendar service, so imported rows obey
// exactly the same validation as API writes. Row failures never abort the
// batch; they end up in the import report.
package importer

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/budapestdude/chess-calendar/internal/model"
	"github.com/budapestdude/chess-calendar/internal/repository"
	"github.com/budapestdude/chess-calendar/internal/service"
	"github.com/budapestdude/chess-calendar/internal/utils/httpclient"
)

// Importer reads CSV feeds into the calendar.
type Importer struct {
	calendar *service.CalendarService
	reports  repository.ReportRepository
	client   *http.Client
	logger   *logrus.Logger
}

// New creates an Importer. client may be nil; a default with a 30 second
// timeout is used then.
func New(db *gorm.DB, calendar *service.CalendarService, logger *logrus.Logger, client *http.Client) *Importer {
	if client == nil {
		client = httpclient.New(30*time.Second, "", logger)
	}
	return &Importer{
		calendar: calendar,
		reports:  repository.NewReportRepository(db),
		client:   client,
		logger:   logger,
	}
}

// Run imports one CSV source, a local path or an http(s) URL, and persists
// an ImportReport describing the batch.
func (im *Importer) Run(ctx context.Context, source string) (*model.ImportReport, error) {
	rc, err := im.open(ctx, source)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return im.runReader(ctx, source, rc)
}

func (im *Importer) open(ctx context.Context, source string) (io.ReadCloser, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		resp, err := im.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", source, err)
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("fetch %s: unexpected status %s", source, resp.Status)
		}
		return resp.Body, nil
	}
	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", source, err)
	}
	return f, nil
}

func (im *Importer) runReader(ctx context.Context, source string, r io.Reader) (*model.ImportReport, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // short rows are reported per line, not fatal
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[normalizeHeader(name)] = i
	}
	if _, ok := columns["title"]; !ok {
		return nil, fmt.Errorf("csv has no title column")
	}

	report := &model.ImportReport{BatchID: uuid.NewString(), Source: source}
	var rowErrors []model.RowError
	line := 1 // header already consumed
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		report.Total++
		if err != nil {
			report.Failed++
			rowErrors = append(rowErrors, model.RowError{Line: line, Error: err.Error()})
			continue
		}

		input, buildErr := buildInput(columns, record)
		if buildErr != nil {
			report.Failed++
			rowErrors = append(rowErrors, model.RowError{
				Line:  line,
				Title: field(columns, record, "title"),
				Error: buildErr.Error(),
			})
			continue
		}
		if _, err := im.calendar.Create(ctx, input); err != nil {
			report.Failed++
			rowErrors = append(rowErrors, model.RowError{Line: line, Title: input.Title, Error: err.Error()})
			continue
		}
		report.Imported++
	}

	if len(rowErrors) > 0 {
		if b, err := json.Marshal(rowErrors); err == nil {
			report.RowErrors = datatypes.JSON(b)
		}
	}
	if err := im.reports.Save(ctx, report); err != nil {
		return nil, fmt.Errorf("save import report: %w", err)
	}

	im.logger.WithFields(logrus.Fields{
		"batch":    report.BatchID,
		"source":   source,
		"imported": report.Imported,
		"failed":   report.Failed,
	}).Info("csv import finished")
	return report, nil
}

func normalizeHeader(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	return strings.ReplaceAll(n, " ", "_")
}

func field(columns map[string]int, record []string, name string) string {
	idx, ok := columns[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func buildInput(columns map[string]int, record []string) (*model.EventInput, error) {
	input := &model.EventInput{
		Title:       field(columns, record, "title"),
		StartDate:   field(columns, record, "start_date"),
		EndDate:     field(columns, record, "end_date"),
		Location:    field(columns, record, "location"),
		Venue:       field(columns, record, "venue"),
		Description: field(columns, record, "description"),
		Format:      field(columns, record, "format"),
		EventType:   field(columns, record, "event_type"),
		Category:    field(columns, record, "category"),
		Continent:   field(columns, record, "continent"),
		Players:     field(columns, record, "players"),
		PrizeFund:   field(columns, record, "prize_fund"),
		Special:     field(columns, record, "special"),
		URL:         field(columns, record, "url"),
		Landing:     field(columns, record, "landing"),
		LiveGames:   field(columns, record, "live_games"),
	}
	if raw := field(columns, record, "rounds"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("rounds %q is not a number", raw)
		}
		input.Rounds = &n
	}
	return input, nil
}
