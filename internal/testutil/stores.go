package testutil

import (
	"errors"
	"sync"

	"shareit/internal/shareit"
)

// ErrInjected is returned by test stores configured to fail.
var ErrInjected = errors.New("injected failure")

// PlainHasher is a fast, reversible PasswordHasher for tests.
type PlainHasher struct{}

func (PlainHasher) Hash(password string) (string, error) { return "plain:" + password, nil }

func (PlainHasher) Verify(digest, password string) bool {
	return digest == "plain:"+password
}

// MemorySnapshotter keeps the last saved account table in memory.
// Set Fail to make SaveAccounts return ErrInjected.
type MemorySnapshotter struct {
	mu    sync.Mutex
	users []shareit.User
	saves int
	Fail  bool
}

func NewMemorySnapshotter(users ...shareit.User) *MemorySnapshotter {
	return &MemorySnapshotter{users: users}
}

func (s *MemorySnapshotter) SaveAccounts(users []shareit.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return ErrInjected
	}
	s.users = append([]shareit.User(nil), users...)
	s.saves++
	return nil
}

func (s *MemorySnapshotter) LoadAccounts() ([]shareit.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]shareit.User(nil), s.users...), nil
}

// SetFail toggles injected save failures.
func (s *MemorySnapshotter) SetFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fail = fail
}

// Saved returns the last saved table and how many saves succeeded.
func (s *MemorySnapshotter) Saved() ([]shareit.User, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]shareit.User(nil), s.users...), s.saves
}

// MemoryJournal is an in-memory TransferJournal.
type MemoryJournal struct {
	mu        sync.Mutex
	transfers map[string]shareit.Transfer
	order     []string
	Fail      bool
}

func NewMemoryJournal(transfers ...shareit.Transfer) *MemoryJournal {
	j := &MemoryJournal{transfers: make(map[string]shareit.Transfer)}
	for _, t := range transfers {
		j.transfers[t.FileID] = t
		j.order = append(j.order, t.FileID)
	}
	return j
}

func (j *MemoryJournal) PutTransfer(t shareit.Transfer) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Fail {
		return ErrInjected
	}
	if _, ok := j.transfers[t.FileID]; !ok {
		j.order = append(j.order, t.FileID)
	}
	j.transfers[t.FileID] = t
	return nil
}

func (j *MemoryJournal) DeleteTransfer(fileID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Fail {
		return ErrInjected
	}
	if _, ok := j.transfers[fileID]; !ok {
		return nil
	}
	delete(j.transfers, fileID)
	for i, id := range j.order {
		if id == fileID {
			j.order = append(j.order[:i], j.order[i+1:]...)
			break
		}
	}
	return nil
}

func (j *MemoryJournal) LoadTransfers() ([]shareit.Transfer, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]shareit.Transfer, 0, len(j.order))
	for _, id := range j.order {
		out = append(out, j.transfers[id])
	}
	return out, nil
}

// Get returns the journaled transfer, if any.
func (j *MemoryJournal) Get(fileID string) (shareit.Transfer, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	t, ok := j.transfers[fileID]
	return t, ok
}

var (
	_ shareit.PasswordHasher     = PlainHasher{}
	_ shareit.AccountSnapshotter = (*MemorySnapshotter)(nil)
	_ shareit.TransferJournal    = (*MemoryJournal)(nil)
)
