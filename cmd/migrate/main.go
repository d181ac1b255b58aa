package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/vladislavdragonenkov/sales/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "SALES_POSTGRES_DSN"
)

// migrator — часть postgres.Store, нужная CLI.
type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (int64, int, error)
	Migrations(ctx context.Context) ([]postgres.MigrationInfo, error)
}

type options struct {
	direction string
	steps     int
	dsn       string
}

func parseOptions(args []string, lookupEnv func(string) string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.direction, "direction", "up", "migration direction: up|down|status")
	fs.IntVar(&opts.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.direction = strings.ToLower(strings.TrimSpace(opts.direction))
	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		opts.dsn = strings.TrimSpace(lookupEnv(envPostgresDSN))
	}
	if opts.dsn == "" {
		return options{}, errors.New(envPostgresDSN + " (or -dsn) is required")
	}
	switch opts.direction {
	case "up", "down", "status":
	default:
		return options{}, fmt.Errorf("unsupported direction: %s (use up|down|status)", opts.direction)
	}
	return opts, nil
}

func run(ctx context.Context, m migrator, opts options, out io.Writer) error {
	switch opts.direction {
	case "up":
		if err := m.MigrateUp(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
	case "down":
		if err := m.MigrateDown(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
	case "status":
		return printStatus(ctx, m, out)
	}

	version, count, err := m.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, _ = fmt.Fprintf(out, "migrate %s ok: version=%d applied=%d\n", opts.direction, version, count)
	return nil
}

func printStatus(ctx context.Context, m migrator, out io.Writer) error {
	infos, err := m.Migrations(ctx)
	if err != nil {
		return fmt.Errorf("list migrations failed: %w", err)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
	for _, info := range infos {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%t\n", info.Version, info.Name, info.Applied)
	}
	return w.Flush()
}

func main() {
	opts, err := parseOptions(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	if err := run(ctx, store, opts, os.Stdout); err != nil {
		fail("%v", err)
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
