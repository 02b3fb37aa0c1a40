package database

import (
	"path/filepath"
	"testing"
	"time"

	"shareit/internal/shareit"
)

// newTestDB creates a new in-memory database with schema applied.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

var created = time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)

func testTransfer(id string, status shareit.TransferStatus) shareit.Transfer {
	return shareit.Transfer{
		FileID:    id,
		FileName:  "report.pdf",
		FileSize:  2048,
		Sender:    "alice",
		Receiver:  "bob",
		CreatedAt: created,
		Status:    status,
		FileType:  "PDF",
	}
}

func TestSQLiteDatabase_PutTransfer(t *testing.T) {
	t.Run("inserts new transfer", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.PutTransfer(testTransfer("f1", shareit.StatusPending)); err != nil {
			t.Fatalf("PutTransfer() error = %v", err)
		}

		got, err := db.LoadTransfers()
		if err != nil {
			t.Fatalf("LoadTransfers() error = %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("LoadTransfers() returned %d transfers, want 1", len(got))
		}
		want := testTransfer("f1", shareit.StatusPending)
		if got[0].FileID != want.FileID || got[0].FileSize != want.FileSize ||
			got[0].Sender != want.Sender || got[0].Receiver != want.Receiver ||
			got[0].FileType != want.FileType || got[0].Status != want.Status {
			t.Errorf("LoadTransfers()[0] = %+v, want %+v", got[0], want)
		}
		if !got[0].CreatedAt.Equal(created) {
			t.Errorf("CreatedAt = %v, want %v", got[0].CreatedAt, created)
		}
	})

	t.Run("completes existing transfer", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.PutTransfer(testTransfer("f1", shareit.StatusPending)); err != nil {
			t.Fatalf("PutTransfer() error = %v", err)
		}
		done := testTransfer("f1", shareit.StatusCompleted)
		done.Checksum = "abc123"
		if err := db.PutTransfer(done); err != nil {
			t.Fatalf("PutTransfer() update error = %v", err)
		}

		got, err := db.LoadTransfers()
		if err != nil {
			t.Fatalf("LoadTransfers() error = %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("LoadTransfers() returned %d transfers, want 1", len(got))
		}
		if got[0].Status != shareit.StatusCompleted || got[0].Checksum != "abc123" {
			t.Errorf("transfer = %+v, want COMPLETED with checksum abc123", got[0])
		}
	})
}

func TestSQLiteDatabase_DeleteTransfer(t *testing.T) {
	db := newTestDB(t)

	for _, id := range []string{"f1", "f2"} {
		if err := db.PutTransfer(testTransfer(id, shareit.StatusCompleted)); err != nil {
			t.Fatalf("PutTransfer(%s) error = %v", id, err)
		}
	}

	if err := db.DeleteTransfer("f1"); err != nil {
		t.Fatalf("DeleteTransfer() error = %v", err)
	}
	if err := db.DeleteTransfer("missing"); err != nil {
		t.Errorf("DeleteTransfer() of missing row error = %v", err)
	}

	got, err := db.LoadTransfers()
	if err != nil {
		t.Fatalf("LoadTransfers() error = %v", err)
	}
	if len(got) != 1 || got[0].FileID != "f2" {
		t.Errorf("LoadTransfers() = %+v, want only f2", got)
	}
}

func TestSQLiteDatabase_Accounts(t *testing.T) {
	db := newTestDB(t)

	users := []shareit.User{
		{Username: "bob", PasswordDigest: "d2", Email: "bob@example.com", RegisteredAt: created, StorageUsed: 10, StorageLimit: 100, Online: true},
		{Username: "alice", PasswordDigest: "d1", RegisteredAt: created, StorageLimit: 100},
	}
	if err := db.SaveAccounts(users); err != nil {
		t.Fatalf("SaveAccounts() error = %v", err)
	}

	got, err := db.LoadAccounts()
	if err != nil {
		t.Fatalf("LoadAccounts() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("LoadAccounts() returned %d users, want 2", len(got))
	}
	if got[0].Username != "alice" || got[1].Username != "bob" {
		t.Errorf("LoadAccounts() order = %s, %s; want alice, bob", got[0].Username, got[1].Username)
	}
	if got[1].Online {
		t.Error("loaded user should be offline")
	}
	if got[1].StorageUsed != 10 || got[1].Email != "bob@example.com" || got[1].PasswordDigest != "d2" {
		t.Errorf("LoadAccounts()[1] = %+v", got[1])
	}

	// A second save replaces the table rather than appending to it.
	if err := db.SaveAccounts(users[:1]); err != nil {
		t.Fatalf("second SaveAccounts() error = %v", err)
	}
	got, err = db.LoadAccounts()
	if err != nil {
		t.Fatalf("LoadAccounts() error = %v", err)
	}
	if len(got) != 1 || got[0].Username != "bob" {
		t.Errorf("LoadAccounts() after rewrite = %+v, want only bob", got)
	}
}

func TestSQLiteDatabase_SaveAccountsRollsBack(t *testing.T) {
	db := newTestDB(t)

	if err := db.SaveAccounts([]shareit.User{{Username: "alice", PasswordDigest: "d", RegisteredAt: created, StorageLimit: 1}}); err != nil {
		t.Fatalf("SaveAccounts() error = %v", err)
	}

	// Duplicate usernames violate the primary key halfway through.
	dup := []shareit.User{
		{Username: "carol", PasswordDigest: "d", RegisteredAt: created, StorageLimit: 1},
		{Username: "carol", PasswordDigest: "d", RegisteredAt: created, StorageLimit: 1},
	}
	if err := db.SaveAccounts(dup); err == nil {
		t.Fatal("SaveAccounts() expected error for duplicate usernames")
	}

	got, err := db.LoadAccounts()
	if err != nil {
		t.Fatalf("LoadAccounts() error = %v", err)
	}
	if len(got) != 1 || got[0].Username != "alice" {
		t.Errorf("LoadAccounts() = %+v, want previous table intact", got)
	}
}

func TestSQLiteDatabase_BackupTo(t *testing.T) {
	db := newTestDB(t)
	if err := db.PutTransfer(testTransfer("f1", shareit.StatusCompleted)); err != nil {
		t.Fatalf("PutTransfer() error = %v", err)
	}

	dest := filepath.Join(t.TempDir(), "backup.db")
	if err := db.BackupTo(dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	backup, err := NewSQLiteDatabase(dest)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer backup.Close()

	got, err := backup.LoadTransfers()
	if err != nil {
		t.Fatalf("LoadTransfers() error = %v", err)
	}
	if len(got) != 1 || got[0].FileID != "f1" {
		t.Errorf("backup transfers = %+v, want f1", got)
	}
}
