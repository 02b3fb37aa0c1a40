// Package snapshot persists the account table as a single CBOR file,
// optionally sealed with age. The whole table is rewritten on every save
// using a temp file and an atomic rename, so a crash leaves either the old
// or the new table on disk.
package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"

	"shareit/internal/encryption"
	"shareit/internal/shareit"
)

// formatVersion is bumped whenever accountRecord changes incompatibly.
const formatVersion = 1

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("snapshot: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("snapshot: CBOR decoder initialization failed: " + err.Error())
	}
}

type accountsFile struct {
	Version int             `cbor:"1,keyasint"`
	Users   []accountRecord `cbor:"2,keyasint"`
}

// accountRecord is the stored form of shareit.User. The online flag is
// session state and is never written.
type accountRecord struct {
	Username       string    `cbor:"1,keyasint"`
	PasswordDigest string    `cbor:"2,keyasint"`
	Email          string    `cbor:"3,keyasint,omitempty"`
	RegisteredAt   time.Time `cbor:"4,keyasint"`
	StorageUsed    int64     `cbor:"5,keyasint"`
	StorageLimit   int64     `cbor:"6,keyasint"`
}

// FileSnapshotter implements shareit.AccountSnapshotter on a local file.
type FileSnapshotter struct {
	path string
	enc  encryption.Encryptor
	dec  encryption.Decryptor
}

var _ shareit.AccountSnapshotter = (*FileSnapshotter)(nil)

// NewFileSnapshotter returns a snapshotter writing to path. With a nil enc
// the file is plain CBOR. An encrypted snapshot can only be loaded when dec
// is set.
func NewFileSnapshotter(path string, enc encryption.Encryptor, dec encryption.Decryptor) *FileSnapshotter {
	return &FileSnapshotter{path: path, enc: enc, dec: dec}
}

// Path returns the snapshot file path.
func (s *FileSnapshotter) Path() string {
	return s.path
}

// SaveAccounts replaces the snapshot with users.
func (s *FileSnapshotter) SaveAccounts(users []shareit.User) error {
	file := accountsFile{Version: formatVersion, Users: make([]accountRecord, 0, len(users))}
	for _, u := range users {
		file.Users = append(file.Users, accountRecord{
			Username:       u.Username,
			PasswordDigest: u.PasswordDigest,
			Email:          u.Email,
			RegisteredAt:   u.RegisteredAt,
			StorageUsed:    u.StorageUsed,
			StorageLimit:   u.StorageLimit,
		})
	}

	data, err := encMode.Marshal(file)
	if err != nil {
		return fmt.Errorf("encoding accounts: %w", err)
	}

	if s.enc != nil {
		var sealed bytes.Buffer
		if err := s.enc.Encrypt(bytes.NewReader(data), &sealed); err != nil {
			return fmt.Errorf("encrypting accounts: %w", err)
		}
		data = sealed.Bytes()
	}

	return writeFileAtomic(s.path, data)
}

// LoadAccounts reads the snapshot. A missing file is an empty table.
func (s *FileSnapshotter) LoadAccounts() ([]shareit.User, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	if s.enc != nil {
		if s.dec == nil {
			return nil, fmt.Errorf("snapshot %s is encrypted but no private key is unlocked", s.path)
		}
		var plain bytes.Buffer
		if err := s.dec.Decrypt(bytes.NewReader(data), &plain); err != nil {
			return nil, fmt.Errorf("decrypting snapshot: %w", err)
		}
		data = plain.Bytes()
	}

	var file accountsFile
	if err := decMode.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	if file.Version != formatVersion {
		return nil, fmt.Errorf("snapshot format version %d not supported (want %d)", file.Version, formatVersion)
	}

	users := make([]shareit.User, 0, len(file.Users))
	for _, r := range file.Users {
		users = append(users, shareit.User{
			Username:       r.Username,
			PasswordDigest: r.PasswordDigest,
			Email:          r.Email,
			RegisteredAt:   r.RegisteredAt.Local(),
			StorageUsed:    r.StorageUsed,
			StorageLimit:   r.StorageLimit,
		})
	}
	return users, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".accounts-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("syncing snapshot: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming snapshot: %w", err)
	}

	success = true
	return nil
}
