package shareit

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// Service is the orchestration layer that coordinates the account store,
// the transfer catalog and the blob store to perform the operations the
// protocol handlers need. There is no transaction spanning the three
// stores; failures are compensated step by step.
type Service struct {
	accounts *AccountStore
	catalog  *Catalog
	blobs    BlobStore
	logger   Logger
	idgen    IDGenerator
}

// NewService creates a new Service with the provided dependencies.
func NewService(accounts *AccountStore, catalog *Catalog, blobs BlobStore, logger Logger, idgen IDGenerator) *Service {
	return &Service{
		accounts: accounts,
		catalog:  catalog,
		blobs:    blobs,
		logger:   logger,
		idgen:    idgen,
	}
}

// Accounts returns the account store.
func (s *Service) Accounts() *AccountStore { return s.accounts }

// Catalog returns the transfer catalog.
func (s *Service) Catalog() *Catalog { return s.catalog }

// UploadRequest describes an upload announced by a client.
type UploadRequest struct {
	FileName string
	FileSize int64
	Sender   string
	Receiver string
}

// Upload stores a file sent by req.Sender. Unless body fails, exactly
// req.FileSize bytes are consumed from body whatever the outcome, so the
// stream stays aligned for the next command. An error wrapping ErrShortBody
// means body ended or failed early and the stream is no longer usable.
func (s *Service) Upload(ctx context.Context, req UploadRequest, body io.Reader) (Transfer, error) {
	if req.FileSize < 0 {
		return Transfer{}, fmt.Errorf("%w: negative file size %d", ErrInvalidArgument, req.FileSize)
	}

	if err := s.accounts.AdjustStorageUsed(req.Sender, req.FileSize); err != nil {
		if derr := drain(body, req.FileSize); derr != nil {
			return Transfer{}, derr
		}
		return Transfer{}, err
	}

	fileID := s.idgen.New()
	if _, err := s.catalog.BeginUpload(fileID, req.FileName, req.FileSize, req.Sender, req.Receiver); err != nil {
		s.releaseQuota(req.Sender, req.FileSize)
		if derr := drain(body, req.FileSize); derr != nil {
			return Transfer{}, derr
		}
		return Transfer{}, err
	}

	src := &countingReader{r: body}
	h := blake3.New()
	n, err := s.blobs.Write(ctx, fileID, req.FileName, req.FileSize, io.TeeReader(src, h))
	if err == nil && n != req.FileSize {
		err = fmt.Errorf("stored %d of %d bytes: %w", n, req.FileSize, ErrShortBody)
	}
	if err != nil {
		s.abortUpload(ctx, fileID, req)
		if src.failed(req.FileSize) {
			return Transfer{}, fmt.Errorf("reading upload body: %w", errors.Join(ErrShortBody, src.err))
		}
		if derr := drain(body, req.FileSize-src.n); derr != nil {
			return Transfer{}, derr
		}
		return Transfer{}, fmt.Errorf("%w: storing %s: %w", ErrIO, fileID, err)
	}

	t, err := s.catalog.CompleteUpload(fileID, hex.EncodeToString(h.Sum(nil)))
	if err != nil {
		s.abortUpload(ctx, fileID, req)
		return Transfer{}, err
	}

	s.logger.Info("file uploaded",
		"file_id", fileID,
		"file_name", req.FileName,
		"size", req.FileSize,
		"sender", req.Sender,
		"receiver", req.Receiver,
	)
	return t, nil
}

// abortUpload undoes the steps of a failed upload: catalog entry, blob and
// reserved quota.
func (s *Service) abortUpload(ctx context.Context, fileID string, req UploadRequest) {
	s.catalog.Abort(fileID)
	if err := s.blobs.Delete(ctx, fileID, req.FileName); err != nil {
		s.logger.Warn("removing partial blob failed", "file_id", fileID, "error", err)
	}
	s.releaseQuota(req.Sender, req.FileSize)
}

func (s *Service) releaseQuota(username string, size int64) {
	if err := s.accounts.AdjustStorageUsed(username, -size); err != nil {
		s.logger.Warn("releasing quota failed", "username", username, "size", size, "error", err)
	}
}

// Download is an opened transfer ready to be streamed. Content yields
// exactly Size bytes; the caller must close it.
type Download struct {
	Transfer Transfer
	Content  io.ReadCloser
	Size     int64
}

// OpenDownload resolves fileID for username and opens its content. All
// checks happen before anything is returned, so a caller that gets a
// Download can stream it completely even if the transfer is deleted
// meanwhile; a download that starts after a delete gets ErrNotFound.
func (s *Service) OpenDownload(ctx context.Context, fileID, username string) (*Download, error) {
	t, err := s.catalog.Get(fileID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusCompleted {
		return nil, fmt.Errorf("transfer %s is %s: %w", fileID, t.Status, ErrNotFound)
	}
	if !t.VisibleTo(username) {
		return nil, fmt.Errorf("transfer %s for %s: %w", fileID, username, ErrAccessDenied)
	}

	content, size, err := s.blobs.Read(ctx, t.FileID, t.FileName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrContentMissing, err)
		}
		return nil, fmt.Errorf("%w: opening %s: %w", ErrIO, fileID, err)
	}

	// Deletion removes the catalog entry before the blob. If the entry is
	// still here, any delete is ordered after this download.
	if _, err := s.catalog.Get(fileID); err != nil {
		content.Close()
		return nil, err
	}

	s.logger.Info("file downloaded", "file_id", fileID, "file_name", t.FileName, "username", username)
	return &Download{Transfer: t, Content: content, Size: size}, nil
}

// VerifyTransfer re-reads the stored content of a completed transfer and
// compares its BLAKE3 digest with the checksum recorded at upload.
func (s *Service) VerifyTransfer(ctx context.Context, fileID string) (Transfer, error) {
	t, err := s.catalog.Get(fileID)
	if err != nil {
		return Transfer{}, err
	}
	if t.Status != StatusCompleted {
		return t, fmt.Errorf("transfer %s is %s: %w", fileID, t.Status, ErrNotFound)
	}
	if t.Checksum == "" {
		return t, fmt.Errorf("%w: transfer %s has no recorded checksum", ErrInvalidArgument, fileID)
	}

	content, _, err := s.blobs.Read(ctx, t.FileID, t.FileName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return t, fmt.Errorf("%w: %w", ErrContentMissing, err)
		}
		return t, fmt.Errorf("%w: opening %s: %w", ErrIO, fileID, err)
	}
	defer content.Close()

	h := blake3.New()
	if _, err := io.Copy(h, content); err != nil {
		return t, fmt.Errorf("%w: reading %s: %w", ErrIO, fileID, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != t.Checksum {
		s.logger.Warn("stored content does not match checksum",
			"file_id", fileID, "want", t.Checksum, "got", got)
		return t, fmt.Errorf("transfer %s: %w", fileID, ErrChecksumMismatch)
	}
	return t, nil
}

// Delete removes a transfer owned by username together with its blob and
// returns the freed quota to the owner.
func (s *Service) Delete(ctx context.Context, fileID, username string) (Transfer, error) {
	t, err := s.catalog.Remove(fileID, username)
	if err != nil {
		return Transfer{}, err
	}
	if err := s.blobs.Delete(ctx, t.FileID, t.FileName); err != nil {
		s.logger.Warn("deleting blob failed", "file_id", fileID, "error", err)
	}
	s.releaseQuota(t.Sender, t.FileSize)

	s.logger.Info("file deleted", "file_id", fileID, "file_name", t.FileName, "username", username)
	return t, nil
}

// ListFiles returns the transfers visible to username.
func (s *Service) ListFiles(username string) []Transfer {
	return s.catalog.VisibleTo(username)
}

// ListUsers returns every account.
func (s *Service) ListUsers() []User {
	return s.accounts.Snapshot()
}

// Stats is the profile summary returned to an authenticated user.
type Stats struct {
	User        User
	OwnedFiles  int
	OnlineUsers int
}

// Stats returns username's profile, the number of transfers they sent and
// the number of users online server-wide.
func (s *Service) Stats(username string) (Stats, error) {
	u, err := s.accounts.Get(username)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		User:        u,
		OwnedFiles:  s.catalog.CountSentBy(username),
		OnlineUsers: s.accounts.OnlineCount(),
	}, nil
}

// Recover loads persisted state and cleans up uploads that were pending
// when the server last stopped: their blobs are deleted and their reserved
// quota is returned to the sender.
func (s *Service) Recover(ctx context.Context) error {
	if err := s.accounts.Load(); err != nil {
		return err
	}
	stale, err := s.catalog.Load()
	if err != nil {
		return err
	}
	for _, t := range stale {
		if err := s.blobs.Delete(ctx, t.FileID, t.FileName); err != nil {
			s.logger.Warn("deleting stale blob failed", "file_id", t.FileID, "error", err)
		}
		s.releaseQuota(t.Sender, t.FileSize)
		s.logger.Info("stale upload discarded", "file_id", t.FileID, "sender", t.Sender)
	}
	return nil
}

// countingReader records how many bytes were read from r and the first
// read error.
type countingReader struct {
	r   io.Reader
	n   int64
	err error
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if err != nil && c.err == nil {
		c.err = err
	}
	return n, err
}

// failed reports whether the source broke before want bytes were read. An
// io.EOF delivered together with the last wanted byte is not a failure.
func (c *countingReader) failed(want int64) bool {
	if c.err == nil {
		return false
	}
	return c.n < want || !errors.Is(c.err, io.EOF)
}

// drain discards exactly n bytes from r.
func drain(r io.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, r, n); err != nil {
		return fmt.Errorf("draining upload body: %w", errors.Join(ErrShortBody, err))
	}
	return nil
}
