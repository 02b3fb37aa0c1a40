package shareit

import (
	"strings"
	"time"
)

// PublicReceiver is the receiver value that makes a transfer readable by
// every authenticated user.
const PublicReceiver = "public"

// DefaultStorageLimit is the quota given to newly registered users (100 MiB).
const DefaultStorageLimit int64 = 100 * 1024 * 1024

// UnknownFileType is reported for file names without a usable extension.
const UnknownFileType = "UNKNOWN"

// User is an account record. Values returned by the AccountStore are copies;
// mutate users only through the store.
type User struct {
	Username       string
	PasswordDigest string
	Email          string
	RegisteredAt   time.Time
	Online         bool
	StorageUsed    int64
	StorageLimit   int64
}

// CanStore reports whether size more bytes fit in the user's quota.
func (u User) CanStore(size int64) bool {
	return u.StorageUsed+size <= u.StorageLimit
}

// TransferStatus is the lifecycle state of a transfer.
type TransferStatus string

const (
	StatusPending   TransferStatus = "PENDING"
	StatusCompleted TransferStatus = "COMPLETED"
)

// Transfer is the metadata for one uploaded file, independent of its bytes.
type Transfer struct {
	FileID    string
	FileName  string
	FileSize  int64
	Sender    string
	Receiver  string
	CreatedAt time.Time
	Status    TransferStatus
	FileType  string
	Checksum  string
}

// VisibleTo reports whether username may see and download t. This predicate
// is the whole authorization model for listing and downloading.
func (t Transfer) VisibleTo(username string) bool {
	return t.Receiver == PublicReceiver || t.Receiver == username || t.Sender == username
}

// FileTypeOf derives the display type from a file name: the extension after
// the last dot, uppercased. Names without a dot, or whose only dot is the
// first character, are UnknownFileType.
func FileTypeOf(fileName string) string {
	i := strings.LastIndexByte(fileName, '.')
	if i <= 0 {
		return UnknownFileType
	}
	return strings.ToUpper(fileName[i+1:])
}
