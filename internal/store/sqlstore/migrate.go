package sqlstore

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

const migrationsTable = "schema_migrations"

func databaseDriver(sqlDB *sql.DB, dialect string) (database.Driver, error) {
	switch dialect {
	case DialectPostgres:
		return migratepg.WithInstance(sqlDB, &migratepg.Config{MigrationsTable: migrationsTable})
	case DialectSQLite:
		return migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{MigrationsTable: migrationsTable})
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
}

// Migrate applies every pending migration for dialect to sqlDB.
func Migrate(sqlDB *sql.DB, dialect string) error {
	source, err := iofs.New(migrationsFS, "migrations/"+dialect)
	if err != nil {
		return fmt.Errorf("Migrate: opening migrations for %s: %w", dialect, err)
	}
	// The migrate instance is not closed: its database driver would close sqlDB.
	defer source.Close()

	driver, err := databaseDriver(sqlDB, dialect)
	if err != nil {
		return fmt.Errorf("Migrate: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, dialect, driver)
	if err != nil {
		return fmt.Errorf("Migrate: creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("Migrate: applying migrations: %w", err)
	}
	return nil
}
