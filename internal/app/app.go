package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"shareit/internal/blob"
	"shareit/internal/config"
	"shareit/internal/database"
	"shareit/internal/encryption"
	"shareit/internal/password"
	"shareit/internal/server"
	"shareit/internal/shareit"
	"shareit/internal/snapshot"
)

// Options tune how the App is assembled.
type Options struct {
	// Passphrase unlocks a passphrase-protected snapshot key. Ignored when
	// the account snapshot is not encrypted.
	Passphrase string
	LogLevel   slog.Level
}

// ShareApp is the application layer between the CLI and the shareit
// service. It constructs all dependencies from config, restores persisted
// state, and closes the database and log file on Close.
//
// Admin operations work on the stored state directly; run them while the
// server is stopped, since a running server rewrites the account snapshot
// from its own memory.
type ShareApp struct {
	cfg     *config.Config
	db      *database.SQLiteDatabase
	blobs   shareit.BlobStore
	service *shareit.Service
	logger  *slogAdapter
	runID   string
	logFile *os.File
}

// NewShareApp creates a fully wired ShareApp from the given config and
// recovers state left by the previous run. The caller must call Close
// when done.
func NewShareApp(ctx context.Context, cfg *config.Config, opts Options) (*ShareApp, error) {
	runID := time.Now().UTC().Format("20060102T150405Z")
	l, logFile, err := newLogger(cfg.LogDir, runID, opts.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: l}

	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating database: %w", err)
	}

	version, err := db.CheckMigrations()
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}
	if from := db.MigratedFrom(); from != version {
		logger.Info("database migrated", "path", db.Path(), "from", from, "to", version)
	} else {
		logger.Debug("database opened", "path", db.Path(), "schema_version", version)
	}

	a := &ShareApp{cfg: cfg, db: db, logger: logger, runID: runID, logFile: logFile}
	if err := a.init(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *ShareApp) init(ctx context.Context, opts Options) error {
	hasher, err := password.NewHasherFromConfig(a.cfg.Password)
	if err != nil {
		return fmt.Errorf("creating password hasher: %w", err)
	}

	snap, err := a.newSnapshotter(opts.Passphrase)
	if err != nil {
		return err
	}

	a.blobs, err = blob.NewStoreFromConfig(ctx, a.cfg.Blob)
	if err != nil {
		return fmt.Errorf("creating blob store: %w", err)
	}
	if err := a.blobs.ValidateSetup(); err != nil {
		return fmt.Errorf("blob store not ready: %w", err)
	}

	clock := shareit.RealClock{}
	accounts := shareit.NewAccountStore(snap, hasher, clock, a.logger, a.cfg.Accounts.DefaultStorageLimit)
	catalog := shareit.NewCatalog(a.db, clock, a.logger)
	a.service = shareit.NewService(accounts, catalog, a.blobs, a.logger, shareit.UUIDGenerator{})

	if err := a.service.Recover(ctx); err != nil {
		return fmt.Errorf("restoring state: %w", err)
	}
	return nil
}

// newSnapshotter returns the account persistence selected by accounts.type.
func (a *ShareApp) newSnapshotter(passphrase string) (shareit.AccountSnapshotter, error) {
	switch a.cfg.Accounts.Type {
	case "sqlite":
		return a.db, nil
	case "file":
		if !a.cfg.Accounts.Encrypted {
			return snapshot.NewFileSnapshotter(a.cfg.Accounts.SnapshotPath, nil, nil), nil
		}
		enc := encryption.NewAgeEncryptor(a.cfg.Encryption)
		if !enc.IsConfigured() {
			return nil, fmt.Errorf("snapshot keys not found at %s: run 'shareit config init'", a.cfg.Encryption.PrivateKeyPath)
		}
		dec, err := enc.Unlock(passphrase)
		if err != nil {
			return nil, fmt.Errorf("unlocking snapshot key: %w", err)
		}
		return snapshot.NewFileSnapshotter(a.cfg.Accounts.SnapshotPath, enc, dec), nil
	default:
		return nil, fmt.Errorf("unknown accounts type: %s", a.cfg.Accounts.Type)
	}
}

// Service returns the wired service.
func (a *ShareApp) Service() *shareit.Service {
	return a.service
}

// Serve listens on listen_addr and serves clients until ctx is cancelled.
func (a *ShareApp) Serve(ctx context.Context) error {
	srv := server.NewServer(a.service, a.logger, nil, server.Options{
		MaxConnections: a.cfg.Server.MaxConnections,
		IdleTimeout:    a.cfg.Server.IdleTimeout.Duration,
		IOTimeout:      a.cfg.Server.IOTimeout.Duration,
	})
	a.logger.Info("starting shareit",
		"listen_addr", a.cfg.ListenAddr,
		"blob", a.cfg.Blob.Type,
		"accounts", a.cfg.Accounts.Type,
		"database", a.cfg.Database.Type,
	)
	return srv.ListenAndServe(ctx, a.cfg.ListenAddr)
}

// Users returns every account ordered by username.
func (a *ShareApp) Users() []shareit.User {
	return a.service.ListUsers()
}

// AddUser registers an account as if the user had sent REGISTER.
func (a *ShareApp) AddUser(username, pw, email string) error {
	return a.service.Accounts().Register(username, pw, email)
}

// Transfers returns every completed transfer, oldest first.
func (a *ShareApp) Transfers() []shareit.Transfer {
	return a.service.Catalog().All()
}

// TransferCheck is the outcome of verifying one transfer's content.
type TransferCheck struct {
	Transfer shareit.Transfer
	Err      error
}

// VerifyTransfers checks every completed transfer against its recorded
// checksum.
func (a *ShareApp) VerifyTransfers(ctx context.Context) []TransferCheck {
	transfers := a.Transfers()
	checks := make([]TransferCheck, 0, len(transfers))
	for _, t := range transfers {
		_, err := a.service.VerifyTransfer(ctx, t.FileID)
		checks = append(checks, TransferCheck{Transfer: t, Err: err})
	}
	return checks
}

// BackupDatabase writes a consistent copy of the database to path.
func (a *ShareApp) BackupDatabase(path string) error {
	if err := a.db.BackupTo(path); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	a.logger.Info("database backed up", "path", path)
	return nil
}

// Close closes the database and the log file.
func (a *ShareApp) Close() error {
	var firstErr error
	if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
