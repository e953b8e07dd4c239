package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "STOREFRONT_POSTGRES_DSN"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Getenv, os.Stdout); err != nil {
		cancel()
		fail("%v", err)
	}
}

// run разбирает флаги и выполняет выбранное действие над схемой.
func run(ctx context.Context, args []string, getenv func(string) string, out io.Writer) error {
	flags := flag.NewFlagSet("migrate", flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	var (
		direction string
		steps     int
		dsn       string
	)
	flags.StringVar(&direction, "direction", "up", "migration direction: up|down|status|list")
	flags.IntVar(&steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	flags.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	if err := flags.Parse(args); err != nil {
		return err
	}

	direction = strings.ToLower(strings.TrimSpace(direction))
	switch direction {
	case "up", "down", "status", "list":
	default:
		return fmt.Errorf("unsupported direction: %s (use up|down|status|list)", direction)
	}

	if strings.TrimSpace(dsn) == "" {
		dsn = strings.TrimSpace(getenv(envPostgresDSN))
	}
	if dsn == "" {
		return errors.New(envPostgresDSN + " (or -dsn) is required")
	}

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	switch direction {
	case "up":
		if err := store.MigrateUp(ctx, steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
		return printStatus(ctx, store, out, "migrate up ok")
	case "down":
		if err := store.MigrateDown(ctx, steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
		return printStatus(ctx, store, out, "migrate down ok")
	case "status":
		return printStatus(ctx, store, out, "migration status")
	default:
		return printMigrations(ctx, store, out)
	}
}

func printStatus(ctx context.Context, store *postgres.Store, out io.Writer, prefix string) error {
	version, count, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, err = fmt.Fprintf(out, "%s: version=%d applied=%d\n", prefix, version, count)
	return err
}

func printMigrations(ctx context.Context, store *postgres.Store, out io.Writer) error {
	states, err := store.Migrations(ctx)
	if err != nil {
		return fmt.Errorf("list migrations failed: %w", err)
	}
	for _, st := range states {
		applied := "pending"
		if st.Applied {
			applied = "applied " + st.AppliedAt.Format(time.RFC3339)
		}
		if _, err := fmt.Fprintf(out, "%04d %-32s %s\n", st.Version, st.Name, applied); err != nil {
			return err
		}
	}
	return nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
