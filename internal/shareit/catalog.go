package shareit

import (
	"fmt"
	"sort"
	"sync"
)

// Catalog owns transfer metadata and applies the visibility predicate.
// When a journal is configured every state change is mirrored to it while
// the catalog lock is held, so the journal sees changes in catalog order.
type Catalog struct {
	journal TransferJournal
	clock   Clock
	logger  Logger

	mu        sync.RWMutex
	transfers map[string]*Transfer
}

// NewCatalog creates an empty catalog. journal may be nil.
func NewCatalog(journal TransferJournal, clock Clock, logger Logger) *Catalog {
	return &Catalog{
		journal:   journal,
		clock:     clock,
		logger:    logger,
		transfers: make(map[string]*Transfer),
	}
}

// Load restores completed transfers from the journal. Pending transfers
// found there were interrupted by a shutdown; they are removed from the
// journal and returned so the caller can release their blobs and quota.
func (c *Catalog) Load() ([]Transfer, error) {
	if c.journal == nil {
		return nil, nil
	}
	all, err := c.journal.LoadTransfers()
	if err != nil {
		return nil, fmt.Errorf("loading transfers: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var stale []Transfer
	for i := range all {
		t := all[i]
		if t.Status != StatusCompleted {
			if err := c.journal.DeleteTransfer(t.FileID); err != nil {
				return nil, fmt.Errorf("dropping stale transfer %s: %w", t.FileID, err)
			}
			stale = append(stale, t)
			continue
		}
		c.transfers[t.FileID] = &t
	}
	c.logger.Info("transfers loaded", "completed", len(c.transfers), "stale", len(stale))
	return stale, nil
}

// BeginUpload registers a pending transfer. It does not touch quota.
func (c *Catalog) BeginUpload(fileID, fileName string, fileSize int64, sender, receiver string) (Transfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.transfers[fileID]; exists {
		return Transfer{}, fmt.Errorf("transfer %s: %w", fileID, ErrAlreadyExists)
	}

	t := &Transfer{
		FileID:    fileID,
		FileName:  fileName,
		FileSize:  fileSize,
		Sender:    sender,
		Receiver:  receiver,
		CreatedAt: c.clock.Now(),
		Status:    StatusPending,
		FileType:  FileTypeOf(fileName),
	}
	if c.journal != nil {
		if err := c.journal.PutTransfer(*t); err != nil {
			return Transfer{}, fmt.Errorf("%w: journaling transfer %s: %w", ErrIO, fileID, err)
		}
	}
	c.transfers[fileID] = t
	return *t, nil
}

// CompleteUpload moves a pending transfer to COMPLETED and records the
// content checksum.
func (c *Catalog) CompleteUpload(fileID, checksum string) (Transfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.transfers[fileID]
	if !ok || t.Status != StatusPending {
		return Transfer{}, fmt.Errorf("pending transfer %s: %w", fileID, ErrNotFound)
	}

	done := *t
	done.Status = StatusCompleted
	done.Checksum = checksum
	if c.journal != nil {
		if err := c.journal.PutTransfer(done); err != nil {
			return Transfer{}, fmt.Errorf("%w: journaling transfer %s: %w", ErrIO, fileID, err)
		}
	}
	*t = done
	return done, nil
}

// Abort drops a pending transfer after a failed upload. Completed transfers
// are left alone.
func (c *Catalog) Abort(fileID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.transfers[fileID]
	if !ok || t.Status != StatusPending {
		return
	}
	delete(c.transfers, fileID)
	if c.journal != nil {
		if err := c.journal.DeleteTransfer(fileID); err != nil {
			c.logger.Warn("removing aborted transfer from journal failed", "file_id", fileID, "error", err)
		}
	}
}

// Get returns a copy of the transfer.
func (c *Catalog) Get(fileID string) (Transfer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.transfers[fileID]
	if !ok {
		return Transfer{}, fmt.Errorf("transfer %s: %w", fileID, ErrNotFound)
	}
	return *t, nil
}

// VisibleTo returns every transfer username may see, oldest first.
func (c *Catalog) VisibleTo(username string) []Transfer {
	c.mu.RLock()
	var out []Transfer
	for _, t := range c.transfers {
		if t.VisibleTo(username) {
			out = append(out, *t)
		}
	}
	c.mu.RUnlock()

	sortTransfers(out)
	return out
}

// All returns every transfer, oldest first.
func (c *Catalog) All() []Transfer {
	c.mu.RLock()
	out := make([]Transfer, 0, len(c.transfers))
	for _, t := range c.transfers {
		out = append(out, *t)
	}
	c.mu.RUnlock()

	sortTransfers(out)
	return out
}

// Remove deletes a completed transfer on behalf of requestingUser, who must
// be its sender. Exactly one of several concurrent removals succeeds.
func (c *Catalog) Remove(fileID, requestingUser string) (Transfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.transfers[fileID]
	if !ok || t.Status != StatusCompleted {
		return Transfer{}, fmt.Errorf("transfer %s: %w", fileID, ErrNotFound)
	}
	if t.Sender != requestingUser {
		return Transfer{}, fmt.Errorf("transfer %s owned by %s: %w", fileID, t.Sender, ErrAccessDenied)
	}

	delete(c.transfers, fileID)
	if c.journal != nil {
		if err := c.journal.DeleteTransfer(fileID); err != nil {
			c.logger.Warn("removing transfer from journal failed", "file_id", fileID, "error", err)
		}
	}
	return *t, nil
}

// CountSentBy returns how many transfers username has sent, pending
// uploads included.
func (c *Catalog) CountSentBy(username string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, t := range c.transfers {
		if t.Sender == username {
			n++
		}
	}
	return n
}

func sortTransfers(ts []Transfer) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.Before(ts[j].CreatedAt)
		}
		return ts[i].FileID < ts[j].FileID
	})
}
