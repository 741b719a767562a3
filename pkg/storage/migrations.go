package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/glebarez/sqlite"
	_ "github.com/lib/pq"
)

//go:embed all:migrations
var migrationsFS embed.FS

// Open connects to the database named by driver ("postgres" or "sqlite"),
// brings the schema up to date and returns the store.
func Open(ctx context.Context, driver, dsn string) (*SQLStorage, error) {
	switch Dialect(driver) {
	case Postgres:
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("could not ping database: %w", err)
		}
		if err := RunMigrations(db); err != nil {
			db.Close()
			return nil, err
		}
		return New(db, Postgres), nil

	case SQLite:
		db, err := sql.Open("sqlite", sqliteDSN(dsn))
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("could not open database: %w", err)
		}
		if err := applySQLiteSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		return New(db, SQLite), nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// sqlitePragmas are applied by the driver to every new connection.
var sqlitePragmas = []string{"foreign_keys(1)", "busy_timeout(5000)"}

func sqliteDSN(dsn string) string {
	params := make([]string, 0, len(sqlitePragmas))
	for _, p := range sqlitePragmas {
		params = append(params, "_pragma="+p)
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

func RunMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("could not create source driver: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance(
		"iofs", sourceDriver,
		"postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run up migrations: %w", err)
	}

	slog.Info("migrations ran successfully")
	return nil
}

func applySQLiteSchema(ctx context.Context, db *sql.DB) error {
	files, err := fs.Glob(migrationsFS, "migrations/sqlite/*.up.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, name := range files {
		data, err := migrationsFS.ReadFile(name)
		if err != nil {
			return err
		}
		for _, stmt := range strings.Split(string(data), ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("could not apply %s: %w", name, err)
			}
		}
	}

	slog.Debug("sqlite schema applied", slog.Int("files", len(files)))
	return nil
}
