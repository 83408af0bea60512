package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

const version = "0.4.0"

const usage = `usage: chargewatch [-config path] <command> [flags]

commands:
  alerts      cluster recurring failures into alerts
  evolution   rebuild the monthly success-rate table
  voltage     classify voltage traces of flagged sessions (-start, -end, -output)
  devices     rank unidentified devices by MAC prefix
  faults      sync fault_log with the sites' status words
  all         run every batch job once
  serve       schedule the jobs and serve the read API
  init        create the derived tables
`

type options struct {
	configPath string
	start      string
	end        string
	output     string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	opts, command, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, err)
		fmt.Fprint(stderr, usage)
		return 2
	}

	a, err := newApp(opts)
	if err != nil {
		slog.Error("startup failed", "err", err)
		return 1
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Execute(ctx, command); err != nil {
		a.logger.Error("command failed", "command", command, "err", err)
		return 1
	}
	return 0
}

// parseArgs accepts flags before and after the command name.
func parseArgs(args []string, stderr io.Writer) (options, string, error) {
	var opts options
	fs := flag.NewFlagSet("chargewatch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	fs.StringVar(&opts.configPath, "config", "", "path to the YAML or JSON configuration file")
	fs.StringVar(&opts.start, "start", "", "voltage: first session day (YYYY-MM-DD)")
	fs.StringVar(&opts.end, "end", "", "voltage: last session day (YYYY-MM-DD)")
	fs.StringVar(&opts.output, "output", "", "voltage: report path (.xlsx or .csv)")
	if err := fs.Parse(args); err != nil {
		return opts, "", err
	}
	if fs.NArg() == 0 {
		return opts, "", errors.New("missing command")
	}
	command := fs.Arg(0)
	if err := fs.Parse(fs.Args()[1:]); err != nil {
		return opts, "", err
	}
	if fs.NArg() > 0 {
		return opts, "", fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	switch command {
	case "alerts", "evolution", "voltage", "devices", "faults", "all", "serve", "init":
	default:
		return opts, "", fmt.Errorf("unknown command %q", command)
	}
	return opts, command, nil
}
