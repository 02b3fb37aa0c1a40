package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"shareit/internal/database/migrations"
	"shareit/internal/shareit"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// timeLayout is how timestamps are stored in TEXT columns.
const timeLayout = time.RFC3339Nano

// SQLiteDatabase stores the transfer journal and, when configured, the
// account table in SQLite. It implements shareit.TransferJournal and
// shareit.AccountSnapshotter.
type SQLiteDatabase struct {
	db   *sql.DB
	path string

	migratedFrom uint
}

// NewSQLiteDatabase opens the database at path and applies pending
// migrations. path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	from, _, err := migrations.Up(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}

	return &SQLiteDatabase{db: db, path: path, migratedFrom: from}, nil
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Sessions write concurrently; wait for the lock instead of failing with SQLITE_BUSY.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Transfer journal

// PutTransfer inserts or replaces the journal row for t.
func (s *SQLiteDatabase) PutTransfer(t shareit.Transfer) error {
	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO transfers (file_id, file_name, file_size, sender, receiver, created_at, status, file_type, checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (file_id) DO UPDATE SET
			status = excluded.status,
			checksum = excluded.checksum`,
		t.FileID, t.FileName, t.FileSize, t.Sender, t.Receiver,
		t.CreatedAt.UTC().Format(timeLayout), string(t.Status), t.FileType, t.Checksum,
	)
	if err != nil {
		return fmt.Errorf("writing transfer %s: %w", t.FileID, err)
	}
	return nil
}

// DeleteTransfer removes the journal row for fileID if present.
func (s *SQLiteDatabase) DeleteTransfer(fileID string) error {
	if _, err := s.db.Exec("DELETE FROM transfers WHERE file_id = ?", fileID); err != nil {
		return fmt.Errorf("deleting transfer %s: %w", fileID, err)
	}
	return nil
}

// LoadTransfers returns every journaled transfer, oldest first.
func (s *SQLiteDatabase) LoadTransfers() ([]shareit.Transfer, error) {
	rows, err := s.db.Query(`
		SELECT file_id, file_name, file_size, sender, receiver, created_at, status, file_type, checksum
		FROM transfers
		ORDER BY created_at, file_id`)
	if err != nil {
		return nil, fmt.Errorf("listing transfers: %w", err)
	}
	defer rows.Close()

	var out []shareit.Transfer
	for rows.Next() {
		var (
			t         shareit.Transfer
			createdAt string
			status    string
		)
		if err := rows.Scan(&t.FileID, &t.FileName, &t.FileSize, &t.Sender, &t.Receiver,
			&createdAt, &status, &t.FileType, &t.Checksum); err != nil {
			return nil, fmt.Errorf("scanning transfer: %w", err)
		}
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("transfer %s: %w", t.FileID, err)
		}
		t.Status = shareit.TransferStatus(status)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing transfers: %w", err)
	}
	return out, nil
}

// Account table

// SaveAccounts replaces the whole accounts table with users in one
// transaction. The online flag is never stored.
func (s *SQLiteDatabase) SaveAccounts(users []shareit.User) error {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM accounts"); err != nil {
		return fmt.Errorf("clearing accounts: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO accounts (username, password_digest, email, registered_at, storage_used, storage_limit)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing account insert: %w", err)
	}
	defer stmt.Close()

	for _, u := range users {
		if _, err := stmt.ExecContext(ctx, u.Username, u.PasswordDigest, u.Email,
			u.RegisteredAt.UTC().Format(timeLayout), u.StorageUsed, u.StorageLimit); err != nil {
			return fmt.Errorf("writing account %s: %w", u.Username, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing accounts: %w", err)
	}
	return nil
}

// LoadAccounts returns every stored account ordered by username. All users
// are returned offline.
func (s *SQLiteDatabase) LoadAccounts() ([]shareit.User, error) {
	rows, err := s.db.Query(`
		SELECT username, password_digest, email, registered_at, storage_used, storage_limit
		FROM accounts
		ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var out []shareit.User
	for rows.Next() {
		var (
			u            shareit.User
			registeredAt string
		)
		if err := rows.Scan(&u.Username, &u.PasswordDigest, &u.Email, &registeredAt,
			&u.StorageUsed, &u.StorageLimit); err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		if u.RegisteredAt, err = parseTime(registeredAt); err != nil {
			return nil, fmt.Errorf("account %s: %w", u.Username, err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	return out, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t.Local(), nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date and returns
// its version.
func (s *SQLiteDatabase) CheckMigrations() (uint, error) {
	return migrations.Check(s.db)
}

// MigratedFrom returns the schema version found when the database was
// opened; 0 for a new database.
func (s *SQLiteDatabase) MigratedFrom() uint {
	return s.migratedFrom
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var (
	_ shareit.TransferJournal    = (*SQLiteDatabase)(nil)
	_ shareit.AccountSnapshotter = (*SQLiteDatabase)(nil)
)
