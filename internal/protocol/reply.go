package protocol

import (
	"strings"
	"time"
)

// Status words and the fixed prefix length callers strip from a status
// reply. "SUCCESS" and "ERROR: " are both seven bytes long.
const (
	StatusSuccess   = "SUCCESS"
	StatusError     = "ERROR"
	StatusPrefixLen = 7
)

// Reply texts.
const (
	MsgRegistered         = "Registration successful"
	MsgUsernameTaken      = "Username already exists"
	MsgRegistrationFailed = "Registration failed"
	MsgLoggedIn           = "Login successful"
	MsgInvalidCredentials = "Invalid credentials"
	MsgLoginFailed        = "Login failed"
	MsgNotAuthenticated   = "Not authenticated"
	MsgUnknownCommand     = "Unknown command"
	MsgStorageExceeded    = "Storage limit exceeded"
	MsgUploadFailed       = "Upload failed"
	MsgFileNotFound       = "File not found"
	MsgAccessDenied       = "Access denied"
	MsgFileMissing        = "File not found on server"
	MsgDownloadFailed     = "Download failed"
	MsgFileDeleted        = "File deleted"
	MsgDeleteDenied       = "File not found or access denied"
	MsgLoggedOut          = "Logged out"
)

// Success formats a "SUCCESS: <msg>" status line.
func Success(msg string) string {
	return StatusSuccess + ": " + msg
}

// Failure formats an "ERROR: <msg>" status line.
func Failure(msg string) string {
	return StatusError + ": " + msg
}

// ParseStatus reports whether s is a success reply and returns its message
// with the fixed-length prefix removed.
func ParseStatus(s string) (ok bool, msg string) {
	ok = strings.HasPrefix(s, StatusSuccess)
	if len(s) <= StatusPrefixLen {
		return ok, ""
	}
	return ok, strings.TrimPrefix(strings.TrimPrefix(s[StatusPrefixLen:], ":"), " ")
}

// FileRecord is one LIST_FILES entry.
type FileRecord struct {
	FileID    string
	FileName  string
	Sender    string
	Receiver  string
	FileSize  int64
	FileType  string
	Timestamp string
}

func (f FileRecord) encode(w *Writer) error {
	if err := writeStrings(w, f.FileID, f.FileName, f.Sender, f.Receiver); err != nil {
		return err
	}
	if err := w.WriteInt64(f.FileSize); err != nil {
		return err
	}
	return writeStrings(w, f.FileType, f.Timestamp)
}

func (f *FileRecord) decode(r *Reader) error {
	if err := readStrings(r, &f.FileID, &f.FileName, &f.Sender, &f.Receiver); err != nil {
		return err
	}
	var err error
	if f.FileSize, err = r.ReadInt64(); err != nil {
		return err
	}
	return readStrings(r, &f.FileType, &f.Timestamp)
}

// WriteFileList writes an int32 count followed by the records.
func WriteFileList(w *Writer, files []FileRecord) error {
	if err := w.WriteInt32(int32(len(files))); err != nil {
		return err
	}
	for _, f := range files {
		if err := f.encode(w); err != nil {
			return err
		}
	}
	return nil
}

// ReadFileList reads a LIST_FILES reply.
func ReadFileList(r *Reader) ([]FileRecord, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	files := make([]FileRecord, 0, max(n, 0))
	for i := int32(0); i < n; i++ {
		var f FileRecord
		if err := f.decode(r); err != nil {
			return nil, unexpected(err)
		}
		files = append(files, f)
	}
	return files, nil
}

// UserRecord is one LIST_USERS entry.
type UserRecord struct {
	Username     string
	Email        string
	Online       bool
	StorageUsed  int64
	StorageLimit int64
}

func (u UserRecord) encode(w *Writer) error {
	if err := writeStrings(w, u.Username, u.Email); err != nil {
		return err
	}
	if err := w.WriteBool(u.Online); err != nil {
		return err
	}
	if err := w.WriteInt64(u.StorageUsed); err != nil {
		return err
	}
	return w.WriteInt64(u.StorageLimit)
}

func (u *UserRecord) decode(r *Reader) error {
	if err := readStrings(r, &u.Username, &u.Email); err != nil {
		return err
	}
	var err error
	if u.Online, err = r.ReadBool(); err != nil {
		return err
	}
	if u.StorageUsed, err = r.ReadInt64(); err != nil {
		return err
	}
	u.StorageLimit, err = r.ReadInt64()
	return err
}

// WriteUserList writes an int32 count followed by the records.
func WriteUserList(w *Writer, users []UserRecord) error {
	if err := w.WriteInt32(int32(len(users))); err != nil {
		return err
	}
	for _, u := range users {
		if err := u.encode(w); err != nil {
			return err
		}
	}
	return nil
}

// ReadUserList reads a LIST_USERS reply.
func ReadUserList(r *Reader) ([]UserRecord, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	users := make([]UserRecord, 0, max(n, 0))
	for i := int32(0); i < n; i++ {
		var u UserRecord
		if err := u.decode(r); err != nil {
			return nil, unexpected(err)
		}
		users = append(users, u)
	}
	return users, nil
}

// StatsRecord is the GET_STATS reply.
type StatsRecord struct {
	Username     string
	Email        string
	StorageUsed  int64
	StorageLimit int64
	OwnedFiles   int32
	OnlineUsers  int32
}

// WriteStats writes a GET_STATS reply.
func WriteStats(w *Writer, s StatsRecord) error {
	if err := writeStrings(w, s.Username, s.Email); err != nil {
		return err
	}
	if err := w.WriteInt64(s.StorageUsed); err != nil {
		return err
	}
	if err := w.WriteInt64(s.StorageLimit); err != nil {
		return err
	}
	if err := w.WriteInt32(s.OwnedFiles); err != nil {
		return err
	}
	return w.WriteInt32(s.OnlineUsers)
}

// ReadStats reads a GET_STATS reply.
func ReadStats(r *Reader) (StatsRecord, error) {
	var s StatsRecord
	var err error
	if err = readStrings(r, &s.Username, &s.Email); err != nil {
		return StatsRecord{}, err
	}
	if s.StorageUsed, err = r.ReadInt64(); err != nil {
		return StatsRecord{}, err
	}
	if s.StorageLimit, err = r.ReadInt64(); err != nil {
		return StatsRecord{}, err
	}
	if s.OwnedFiles, err = r.ReadInt32(); err != nil {
		return StatsRecord{}, err
	}
	if s.OnlineUsers, err = r.ReadInt32(); err != nil {
		return StatsRecord{}, err
	}
	return s, nil
}

// FormatTimestamp renders t as an ISO-8601 local date-time without zone,
// omitting zero seconds and using the shortest of millisecond, microsecond
// or nanosecond precision that represents the fraction exactly.
func FormatTimestamp(t time.Time) string {
	s := t.Format("2006-01-02T15:04")
	sec, nsec := t.Second(), t.Nanosecond()
	if sec == 0 && nsec == 0 {
		return s
	}
	s += t.Format(":05")
	switch {
	case nsec == 0:
		return s
	case nsec%1_000_000 == 0:
		return s + t.Format(".000")
	case nsec%1_000 == 0:
		return s + t.Format(".000000")
	default:
		return s + t.Format(".000000000")
	}
}
