package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // pgx5:// driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/herdbook/internal/core"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies every pending migration to the database at databaseURL.
func Migrate(databaseURL string) error {
	target, err := migrateURL(databaseURL)
	if err != nil {
		return err
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, target)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			slog.Warn("close migrate", "source_error", srcErr, "database_error", dbErr)
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("database schema up to date")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}
	slog.Info("database migrated", "version", version, "dirty", dirty)
	return nil
}

// migrateURL rewrites a postgres:// URL to the scheme of the pgx migrate driver.
func migrateURL(databaseURL string) (string, error) {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, prefix), nil
		}
	}
	if strings.HasPrefix(databaseURL, "pgx5://") {
		return databaseURL, nil
	}
	return "", fmt.Errorf("database URL must start with postgres:// to run migrations")
}

// SeedBreeds inserts the system breed catalog. Existing breeds are left alone,
// so it is safe to run on every start.
func SeedBreeds(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	var inserted int64
	for _, sp := range core.AllSpecies {
		for _, name := range core.DefaultBreeds[sp] {
			tag, err := pool.Exec(ctx, `
				INSERT INTO breeds (tenant_id, species, name)
				VALUES (NULL, $1, $2)
				ON CONFLICT DO NOTHING`, string(sp), name)
			if err != nil {
				return inserted, fmt.Errorf("seed breed %s/%s: %w", sp, name, err)
			}
			inserted += tag.RowsAffected()
		}
	}
	return inserted, nil
}
