// Package migrations embeds the shareit schema and applies it with
// golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var migrationFiles embed.FS

var (
	// ErrNoSchema means the database has never been migrated.
	ErrNoSchema = errors.New("database has no schema version")

	// ErrDirty means a migration failed part way and needs manual repair.
	ErrDirty = errors.New("database schema is dirty")

	// ErrSchemaBehind means migrations are pending.
	ErrSchemaBehind = errors.New("database schema is behind this binary")

	// ErrSchemaAhead means the database was migrated by a newer binary.
	ErrSchemaAhead = errors.New("database schema is ahead of this binary")
)

// Latest returns the highest schema version embedded in the binary.
func Latest() (uint, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return 0, fmt.Errorf("reading embedded migrations: %w", err)
	}
	defer src.Close()
	return lastVersion(src)
}

// Check returns the database's schema version if it matches Latest, and
// one of the sentinel errors above otherwise.
func Check(db *sql.DB) (uint, error) {
	current, err := version(db)
	if err != nil {
		return 0, err
	}
	latest, err := Latest()
	if err != nil {
		return current, err
	}

	switch {
	case current < latest:
		return current, fmt.Errorf("at version %d, want %d: %w", current, latest, ErrSchemaBehind)
	case current > latest:
		return current, fmt.Errorf("at version %d, binary knows %d: %w", current, latest, ErrSchemaAhead)
	}
	return current, nil
}

// Up applies pending migrations and returns the schema version before and
// after. An up-to-date database is not an error.
func Up(db *sql.DB) (from, to uint, err error) {
	m, err := open(db)
	if err != nil {
		return 0, 0, err
	}
	// Closing m would close db, which belongs to the caller.

	from, err = versionOf(m)
	if err != nil && !errors.Is(err, ErrNoSchema) {
		return 0, 0, err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return from, from, fmt.Errorf("migrating schema from version %d: %w", from, err)
	}

	to, err = versionOf(m)
	if err != nil {
		return from, 0, err
	}
	return from, to, nil
}

func version(db *sql.DB) (uint, error) {
	m, err := open(db)
	if err != nil {
		return 0, err
	}
	return versionOf(m)
}

func versionOf(m *migrate.Migrate) (uint, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, ErrNoSchema
	}
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	if dirty {
		return v, fmt.Errorf("version %d: %w", v, ErrDirty)
	}
	return v, nil
}

func open(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("preparing sqlite migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("preparing migrations: %w", err)
	}
	return m, nil
}

// lastVersion walks the source to its final migration; Next reports
// os.ErrNotExist past the end.
func lastVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("no embedded migrations: %w", err)
	}
	for {
		next, err := src.Next(v)
		if err != nil {
			return v, nil
		}
		v = next
	}
}
