// Command importcsv ingests a CSV feed into the calendar database without
// going through the HTTP server. Useful for the initial load and for cron.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/budapestdude/chess-calendar/internal/config"
	"github.com/budapestdude/chess-calendar/internal/importer"
	"github.com/budapestdude/chess-calendar/internal/service"
	"github.com/budapestdude/chess-calendar/internal/storage"
)

func main() {
	var (
		dbPath = flag.String("db", "", "sqlite database path (default: configured database.path)")
		source = flag.String("source", "", "CSV file path or http(s) URL (required)")
	)
	flag.Parse()
	if *source == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	store, err := storage.Open(storage.Options{
		Path:        cfg.Database.Path,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer store.Close()

	// No export hook here; the server regenerates projections on its own.
	calendar := service.NewCalendarService(store.DB(), logger, nil)
	feeds := importer.New(store.DB(), calendar, logger, nil)

	report, err := feeds.Run(context.Background(), *source)
	if err != nil {
		logger.Fatalf("import: %v", err)
	}

	fmt.Printf("batch %s: %d rows, %d imported, %d failed\n",
		report.BatchID, report.Total, report.Imported, report.Failed)
	if report.Failed > 0 {
		os.Exit(1)
	}
}
