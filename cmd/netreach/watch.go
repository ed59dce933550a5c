package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/netreach/internal/event"
	"github.com/HerbHall/netreach/internal/platform"
	"github.com/HerbHall/netreach/internal/runloop"
	"github.com/HerbHall/netreach/pkg/plugin"
	"github.com/HerbHall/netreach/pkg/reachability"
)

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	host := fs.String("host", "", "hostname to watch")
	addr := fs.String("addr", "", "IP address, optionally with :port, to watch")
	poll := fs.Duration("poll", 0, "poll at this interval instead of using OS notifications")
	debug := fs.Bool("debug", false, "log flag traces")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	target, err := targetFromFlags(*host, *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "netreach watch: %v\n", err)
		return 2
	}

	level := "warn"
	if *debug {
		level = "debug"
	}
	logger, err := newLogger(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "netreach watch: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	pcfg := platform.DefaultConfig()
	if *poll > 0 {
		pcfg.Mode = platform.ModePoll
		pcfg.PollInterval = *poll
	}
	adapter, err := platform.New(pcfg, logger.Named("platform"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "netreach watch: %v\n", err)
		return 1
	}
	defer adapter.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := event.NewBus(logger.Named("event"))
	mon, err := target.NewMonitor(adapter,
		reachability.WithLogger(logger),
		reachability.WithFlagTrace(*debug),
		reachability.WithNotifier(bus),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "netreach watch: %v\n", err)
		return 1
	}
	defer mon.Close()

	if err := watch(ctx, os.Stdout, mon, bus, logger); err != nil {
		fmt.Fprintf(os.Stderr, "netreach watch: %v\n", err)
		return 1
	}
	return 0
}

// watch prints the current state of mon, then one line per change, until
// ctx is done.
func watch(ctx context.Context, w io.Writer, mon *reachability.Monitor, bus plugin.EventBus, logger *zap.Logger) error {
	loop := runloop.New("watch", logger.Named("runloop"))
	go loop.Run(ctx)

	unsub := bus.Subscribe(reachability.TopicReachabilityChanged, func(ctx context.Context, e plugin.Event) {
		m, ok := e.Payload.(*reachability.Monitor)
		if !ok || m != mon {
			return
		}
		printState(ctx, w, m, time.Now())
	})
	defer unsub()

	if err := loop.Do(ctx, func() { printState(ctx, w, mon, time.Now()) }); err != nil {
		return err
	}
	if err := mon.Start(loop); err != nil {
		return err
	}

	<-ctx.Done()
	mon.Stop()
	loop.Close()
	<-loop.Done()
	return nil
}

func printState(ctx context.Context, w io.Writer, mon *reachability.Monitor, at time.Time) {
	snap := mon.Snapshot(ctx)
	fmt.Fprintln(w, formatState(at, mon.Name(), snap.Status, snap.Flags))
}

func formatState(at time.Time, name string, status reachability.Status, flags reachability.Flags) string {
	marker := "  "
	if !status.Reachable() {
		marker = "! "
	}
	return fmt.Sprintf("%s%s  %-16s %-16s %s", marker, at.Format(time.TimeOnly), name, status, flags)
}
