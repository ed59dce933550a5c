// Command netreach monitors host and internet reachability. Run without a
// subcommand it serves the HTTP API; check, watch, backup and restore are
// one-shot tools.
package main

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/HerbHall/netreach/internal/version"
)

func main() {
	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		os.Exit(runServe(args))
	case "check":
		os.Exit(runCheck(args))
	case "watch":
		os.Exit(runWatch(args))
	case "backup":
		runBackup(args)
	case "restore":
		runRestore(args)
	case "version":
		fmt.Println(version.Info())
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: netreach [command] [flags]

Commands:
  serve     run the monitoring server (default)
  check     report the reachability of one target and exit
  watch     print reachability changes for one target until interrupted
  backup    archive the history database and config
  restore   restore a backup archive
  version   print build information

Run "netreach <command> -h" for command flags.
`)
}

// newLogger builds the production zap logger at level ("debug", "info",
// "warn", "error"). Debug also switches to the human-readable console
// encoder.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
