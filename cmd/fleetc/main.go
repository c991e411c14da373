package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/fatih/color"

	"github.com/InsulaLabs/fleet/client"
)

const defaultURL = "http://127.0.0.1:7400"

// cli carries everything a command needs.
type cli struct {
	fleet  *client.Client
	stdout io.Writer
	asJSON bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("fleetc", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("url", envOr("FLEET_URL", defaultURL), "Base URL of the fleet service.")
	token := fs.String("token", os.Getenv("FLEET_TOKEN"), "Bearer token (sha256 hex of the instance secret).")
	asJSON := fs.Bool("json", false, "Print raw JSON instead of formatted output.")
	timeout := fs.Duration("timeout", 10*time.Second, "Request timeout.")
	skipVerify := fs.Bool("skip-verify", false, "Skip TLS certificate verification.")
	verbose := fs.Bool("verbose", false, "Log requests to stderr.")
	fs.Usage = func() { printUsage(fs, stderr) }

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		printUsage(fs, stderr)
		return 2
	}

	level := charmlog.WarnLevel
	if *verbose {
		level = charmlog.DebugLevel
	}
	logger := slog.New(charmlog.NewWithOptions(stderr, charmlog.Options{
		Level:  level,
		Prefix: "fleetc",
	}))

	fleet, err := client.New(client.Config{
		BaseURL:    *baseURL,
		Token:      *token,
		Timeout:    *timeout,
		SkipVerify: *skipVerify,
		Logger:     logger,
	})
	if err != nil {
		fmt.Fprintf(stderr, "%s %s\n", color.RedString("Error:"), err)
		return 1
	}

	c := &cli{
		fleet:  fleet,
		stdout: stdout,
		asJSON: *asJSON,
	}

	if err := c.dispatch(ctx, fs.Arg(0), fs.Args()[1:]); err != nil {
		if err == errUsage {
			printUsage(fs, stderr)
			return 2
		}
		fmt.Fprintf(stderr, "%s %s\n", color.RedString("Error:"), err)
		return 1
	}
	return 0
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintf(w, "%s\n", color.CyanString("fleetc - replication coordinator client"))
	fmt.Fprintf(w, "Usage: fleetc [flags] <command> [args...]\n")
	fmt.Fprintf(w, "Flags:\n")
	fs.PrintDefaults()
	fmt.Fprintf(w, "\nCommands:\n")
	fmt.Fprintf(w, "  node update <id> <capacity> [load-json]\n")
	fmt.Fprintf(w, "  node list\n")
	fmt.Fprintf(w, "  node get <id>\n")
	fmt.Fprintf(w, "  node rm <id>\n")
	fmt.Fprintf(w, "  file status [<id>]\n")
	fmt.Fprintf(w, "  file assign <file> <node>\n")
	fmt.Fprintf(w, "  file complete <file> [node]\n")
	fmt.Fprintf(w, "  file lock <file>\n")
	fmt.Fprintf(w, "  file unlock <file>\n")
	fmt.Fprintf(w, "  file rm <file>\n")
	fmt.Fprintf(w, "  ping\n")
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
