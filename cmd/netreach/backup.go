package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/HerbHall/netreach/internal/backup"
	"github.com/HerbHall/netreach/internal/config"
)

func runBackup(args []string) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	output := fs.String("output", "", "output file path (default: netreach-backup-{timestamp}.tar.gz)")
	dbPath := fs.String("db", "", "history database (default: history.path from config)")
	configFile := fs.String("config", "", "config file to read history.path from and include in the backup")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *dbPath == "" {
		v, err := config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
			os.Exit(1)
		}
		*dbPath = v.GetString("history.path")
	}
	if *output == "" {
		*output = fmt.Sprintf("netreach-backup-%s.tar.gz", time.Now().Format("20060102-150405"))
	}

	ctx := context.Background()
	if err := backup.Backup(ctx, *dbPath, *configFile, *output); err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Backup created: %s\n", *output)
}
