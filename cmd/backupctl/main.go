// Command backupctl manages database snapshots from the shell: create,
// list, restore, delete and verify. It works on the same directory the
// server uses, so both views stay consistent.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/sirupsen/logrus"

	"github.com/budapestdude/chess-calendar/internal/backup"
	"github.com/budapestdude/chess-calendar/internal/config"
	"github.com/budapestdude/chess-calendar/internal/storage"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: backupctl [flags] <command> [name]

commands:
  create            take a snapshot now (see -reason)
  list              list snapshots, newest first
  restore <name>    replace the live data with a snapshot's content
  delete <name>     remove a snapshot and its metadata
  verify <name>     run an integrity check on a snapshot

flags:
`)
	flag.PrintDefaults()
}

func main() {
	var (
		dbPath = flag.String("db", "", "sqlite database path (default: configured database.path)")
		dir    = flag.String("dir", "", "backup directory (default: configured backup.dir)")
		reason = flag.String("reason", "manual", "reason tag for create")
	)
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *dir != "" {
		cfg.Backup.Dir = *dir
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel) // keep command output clean

	command, args := flag.Arg(0), flag.Args()[1:]

	// verify needs no live database, handle it before opening one
	if command == "verify" {
		if len(args) < 1 {
			usage()
			os.Exit(2)
		}
		path := filepath.Join(cfg.Backup.Dir, args[0])
		if err := storage.VerifySnapshot(path); err != nil {
			log.Fatalf("verify %s: %v", args[0], err)
		}
		fmt.Printf("%s: ok\n", args[0])
		return
	}

	store, err := storage.Open(storage.Options{
		Path:        cfg.Database.Path,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	mgr, err := backup.NewManager(store, cfg.Backup.Dir, logger, nil)
	if err != nil {
		log.Fatalf("init backup manager: %v", err)
	}

	ctx := context.Background()
	switch command {
	case "create":
		info, err := mgr.Create(ctx, *reason)
		if err != nil {
			log.Fatalf("create: %v", err)
		}
		fmt.Printf("created %s (%d events, %d bytes)\n", info.Filename, info.EventCount, info.BackupBytes)

	case "list":
		infos, err := mgr.List(ctx)
		if err != nil {
			log.Fatalf("list: %v", err)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tREASON\tCREATED\tEVENTS\tBYTES")
		for _, info := range infos {
			reason := info.Reason
			if info.Degraded {
				reason = "(no metadata)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n",
				info.Filename, reason, info.CreatedAt.Format("2006-01-02 15:04:05"), info.EventCount, info.BackupBytes)
		}
		w.Flush()

	case "restore":
		if len(args) < 1 {
			usage()
			os.Exit(2)
		}
		if err := mgr.Restore(ctx, args[0]); err != nil {
			log.Fatalf("restore: %v", err)
		}
		fmt.Printf("restored %s\n", args[0])

	case "delete":
		if len(args) < 1 {
			usage()
			os.Exit(2)
		}
		if err := mgr.Delete(ctx, args[0]); err != nil {
			log.Fatalf("delete: %v", err)
		}
		fmt.Printf("deleted %s\n", args[0])

	default:
		usage()
		os.Exit(2)
	}
}
