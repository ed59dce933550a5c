package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/HerbHall/netreach/internal/platform"
	"github.com/HerbHall/netreach/internal/reach"
	"github.com/HerbHall/netreach/pkg/reachability"
)

// checkResult is what `netreach check` reports.
type checkResult struct {
	Target             string          `json:"target" yaml:"target"`
	Kind               string          `json:"kind" yaml:"kind"`
	Status             string          `json:"status" yaml:"status"`
	Reachable          bool            `json:"reachable" yaml:"reachable"`
	ConnectionRequired bool            `json:"connection_required" yaml:"connection_required"`
	Flags              string          `json:"flags" yaml:"flags"`
	Route              *platform.Route `json:"route,omitempty" yaml:"route,omitempty"`
}

func runCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	host := fs.String("host", "", "hostname to check")
	addr := fs.String("addr", "", "IP address, optionally with :port, to check")
	output := fs.String("o", "text", "output format: text, json or yaml")
	verbose := fs.Bool("v", false, "include the route the host would use")
	timeout := fs.Duration("timeout", 5*time.Second, "overall time limit")
	debug := fs.Bool("debug", false, "log flag traces")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	target, err := targetFromFlags(*host, *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "netreach check: %v\n", err)
		return 2
	}

	level := "warn"
	if *debug {
		level = "debug"
	}
	logger, err := newLogger(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "netreach check: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	adapter, err := platform.New(platform.DefaultConfig(), logger.Named("platform"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "netreach check: %v\n", err)
		return 1
	}
	defer adapter.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	res, err := check(ctx, adapter, target,
		reachability.WithLogger(logger),
		reachability.WithFlagTrace(*debug),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "netreach check: %v\n", err)
		return 1
	}
	if *verbose && !target.Internet {
		routeHost := target.Host
		if target.Address != "" {
			ap, _ := reach.ParseAddress(target.Address)
			routeHost = ap.Addr().String()
		}
		if r, err := adapter.Route(ctx, routeHost); err == nil {
			res.Route = &r
		}
	}

	if err := writeResult(os.Stdout, *output, res); err != nil {
		fmt.Fprintf(os.Stderr, "netreach check: %v\n", err)
		return 2
	}
	if !res.Reachable {
		return 1
	}
	return 0
}

// targetFromFlags picks the target: a hostname, an address, or the default
// route when neither is given.
func targetFromFlags(host, addr string) (reach.TargetConfig, error) {
	host = strings.TrimSpace(host)
	switch {
	case host != "" && addr != "":
		return reach.TargetConfig{}, errors.New("use either -host or -addr, not both")
	case host != "":
		return reach.TargetConfig{Name: host, Host: host}, nil
	case addr != "":
		if _, err := reach.ParseAddress(addr); err != nil {
			return reach.TargetConfig{}, err
		}
		return reach.TargetConfig{Name: addr, Address: addr}, nil
	default:
		return reach.DefaultTargets()[0], nil
	}
}

// check queries a Monitor for target once. Every reported field comes from
// the same platform answer.
func check(ctx context.Context, p reachability.Platform, target reach.TargetConfig, opts ...reachability.Option) (checkResult, error) {
	mon, err := target.NewMonitor(p, opts...)
	if err != nil {
		return checkResult{}, err
	}
	defer mon.Close()

	snap := mon.Snapshot(ctx)
	if snap.Err != nil {
		return checkResult{}, fmt.Errorf("query %s: %w", target.Name, snap.Err)
	}
	return checkResult{
		Target:             mon.Target().String(),
		Kind:               mon.Target().Kind.String(),
		Status:             snap.Status.String(),
		Reachable:          snap.Status.Reachable(),
		ConnectionRequired: snap.ConnectionRequired,
		Flags:              snap.Flags.String(),
	}, nil
}

func writeResult(w io.Writer, format string, res checkResult) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(res); err != nil {
			return err
		}
		return enc.Close()
	case "text":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "target:\t%s (%s)\n", res.Target, res.Kind)
		fmt.Fprintf(tw, "status:\t%s\n", res.Status)
		fmt.Fprintf(tw, "flags:\t%s\n", res.Flags)
		fmt.Fprintf(tw, "connection required:\t%s\n", yesNo(res.ConnectionRequired))
		if r := res.Route; r != nil {
			fmt.Fprintf(tw, "route:\t%s via %s (%s) from %s\n", r.Remote, r.Interface, r.Kind, r.Local)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
