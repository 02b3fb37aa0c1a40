package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"shareit/internal/config"
	"shareit/internal/encryption"
	"shareit/internal/shareit"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig(t.TempDir())
	cfg.Password.BcryptCost = 4
	return cfg
}

func openApp(t *testing.T, cfg *config.Config, opts Options) *ShareApp {
	t.Helper()
	a, err := NewShareApp(context.Background(), cfg, opts)
	if err != nil {
		t.Fatalf("NewShareApp() error = %v", err)
	}
	return a
}

func TestShareApp_StatePersistsAcrossRuns(t *testing.T) {
	tests := []struct {
		name     string
		accounts string
	}{
		{"file snapshot", "file"},
		{"sqlite accounts", "sqlite"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Accounts.Type = tt.accounts

			a := openApp(t, cfg, Options{})
			if err := a.AddUser("alice", "secret", "alice@example.com"); err != nil {
				t.Fatalf("AddUser() error = %v", err)
			}
			content := []byte("persisted bytes")
			tr, err := a.Service().Upload(context.Background(), shareit.UploadRequest{
				FileName: "notes.txt",
				FileSize: int64(len(content)),
				Sender:   "alice",
				Receiver: "public",
			}, bytes.NewReader(content))
			if err != nil {
				t.Fatalf("Upload() error = %v", err)
			}
			if err := a.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			b := openApp(t, cfg, Options{})
			defer b.Close()

			users := b.Users()
			if len(users) != 1 || users[0].Username != "alice" || users[0].StorageUsed != int64(len(content)) {
				t.Fatalf("Users() = %+v", users)
			}
			if _, err := b.Service().Accounts().Authenticate("alice", "secret", "s1"); err != nil {
				t.Errorf("Authenticate() after restart error = %v", err)
			}

			transfers := b.Transfers()
			if len(transfers) != 1 || transfers[0].FileID != tr.FileID || transfers[0].Checksum == "" {
				t.Fatalf("Transfers() = %+v", transfers)
			}
			checks := b.VerifyTransfers(context.Background())
			if len(checks) != 1 || checks[0].Err != nil {
				t.Errorf("VerifyTransfers() = %+v, want one clean check", checks)
			}
			d, err := b.Service().OpenDownload(context.Background(), tr.FileID, "bob")
			if err != nil {
				t.Fatalf("OpenDownload() error = %v", err)
			}
			defer d.Content.Close()
			if d.Size != int64(len(content)) {
				t.Errorf("Size = %d, want %d", d.Size, len(content))
			}
		})
	}
}

func TestShareApp_EncryptedSnapshot(t *testing.T) {
	cfg := testConfig(t)
	cfg.Accounts.Encrypted = true

	if _, err := NewShareApp(context.Background(), cfg, Options{LogLevel: slog.LevelWarn}); err == nil {
		t.Fatal("NewShareApp() without keys should fail")
	}

	if err := encryption.NewAgeEncryptor(cfg.Encryption).Setup(""); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	a := openApp(t, cfg, Options{})
	if err := a.AddUser("alice", "secret", "alice@example.com"); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	a.Close()

	data, err := os.ReadFile(cfg.Accounts.SnapshotPath)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(data, []byte("alice@example.com")) {
		t.Error("snapshot holds plaintext account data")
	}

	b := openApp(t, cfg, Options{})
	defer b.Close()
	if users := b.Users(); len(users) != 1 || users[0].Email != "alice@example.com" {
		t.Errorf("Users() = %+v", users)
	}
}

func TestShareApp_BackupDatabase(t *testing.T) {
	cfg := testConfig(t)
	a := openApp(t, cfg, Options{})
	defer a.Close()

	dest := filepath.Join(t.TempDir(), "backup.db")
	if err := a.BackupDatabase(dest); err != nil {
		t.Fatalf("BackupDatabase() error = %v", err)
	}
	if info, err := os.Stat(dest); err != nil || info.Size() == 0 {
		t.Errorf("backup file: %v, %v", info, err)
	}
}

func TestShareApp_LogFile(t *testing.T) {
	cfg := testConfig(t)
	a := openApp(t, cfg, Options{LogLevel: slog.LevelDebug})
	a.Close()

	data, err := os.ReadFile(filepath.Join(cfg.LogDir, LogFileName))
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	for _, want := range []string{"database migrated", "accounts loaded"} {
		if !bytes.Contains(data, []byte(want)) {
			t.Errorf("log file missing %q: %q", want, data)
		}
	}
}
