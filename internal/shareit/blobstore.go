package shareit

import (
	"context"
	"io"
)

// BlobChunkSize is the buffer size used when copying blob content to and
// from connections and storage backends.
const BlobChunkSize = 8 * 1024

// BlobStore persists file content keyed by transfer id and file name.
// All operations stream through io.Reader so large files never need to be
// held in memory.
type BlobStore interface {
	// Write copies exactly min(size, bytes available in r) bytes from r into
	// the object for (fileID, fileName), replacing any existing content.
	// It never reads past size bytes. If r ends early the bytes written so
	// far are returned together with an error wrapping ErrShortBody and no
	// object is left behind.
	Write(ctx context.Context, fileID, fileName string, size int64, r io.Reader) (int64, error)

	// Read opens the stored content and reports its length. The caller must
	// close the returned reader. The reader remains readable to the end even
	// if the blob is deleted concurrently. Returns an error wrapping
	// ErrNotFound when there is no such blob.
	Read(ctx context.Context, fileID, fileName string) (io.ReadCloser, int64, error)

	// Delete removes the blob. A missing blob is not an error.
	Delete(ctx context.Context, fileID, fileName string) error

	// ValidateSetup verifies that the backend is reachable and configured.
	ValidateSetup() error
}

// AccountSnapshotter persists the account table wholesale. Save receives the
// complete table every time; there is no incremental log.
type AccountSnapshotter interface {
	SaveAccounts(users []User) error
	LoadAccounts() ([]User, error)
}

// TransferJournal mirrors catalog state changes to durable storage so that
// completed transfers survive a restart.
type TransferJournal interface {
	PutTransfer(t Transfer) error
	DeleteTransfer(fileID string) error
	LoadTransfers() ([]Transfer, error)
}

// PasswordHasher computes and verifies one-way password digests.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(digest, password string) bool
}
