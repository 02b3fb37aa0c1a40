package shareit

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
)

// registration holds the fields checked before an account is created.
type registration struct {
	Username string `validate:"required,max=128"`
	Password string `validate:"required"`
}

// AccountStore owns user records, storage quota bookkeeping and the
// username → session bindings that make a user "online". It is safe for
// concurrent use by every session.
type AccountStore struct {
	snapshotter  AccountSnapshotter
	hasher       PasswordHasher
	clock        Clock
	logger       Logger
	validate     *validator.Validate
	defaultLimit int64

	mu       sync.RWMutex
	users    map[string]*User
	bindings map[string]string // username -> session id

	// registering holds usernames whose registration is being saved.
	registering map[string]struct{}

	// persistMu serializes snapshot writes so that a later snapshot is
	// never overwritten by an earlier one.
	persistMu sync.Mutex
}

// NewAccountStore creates an empty store. snapshotter may be nil, in which
// case accounts live only in memory. defaultLimit <= 0 selects
// DefaultStorageLimit.
func NewAccountStore(snapshotter AccountSnapshotter, hasher PasswordHasher, clock Clock, logger Logger, defaultLimit int64) *AccountStore {
	if defaultLimit <= 0 {
		defaultLimit = DefaultStorageLimit
	}
	return &AccountStore{
		snapshotter:  snapshotter,
		hasher:       hasher,
		clock:        clock,
		logger:       logger,
		validate:     validator.New(),
		defaultLimit: defaultLimit,
		users:        make(map[string]*User),
		bindings:     make(map[string]string),
		registering:  make(map[string]struct{}),
	}
}

// Load replaces the in-memory table with the persisted snapshot.
// Every loaded user starts offline.
func (s *AccountStore) Load() error {
	if s.snapshotter == nil {
		return nil
	}
	users, err := s.snapshotter.LoadAccounts()
	if err != nil {
		return fmt.Errorf("loading accounts: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = make(map[string]*User, len(users))
	s.bindings = make(map[string]string)
	for i := range users {
		u := users[i]
		u.Online = false
		if u.StorageLimit <= 0 {
			u.StorageLimit = s.defaultLimit
		}
		s.users[u.Username] = &u
	}
	s.logger.Info("accounts loaded", "count", len(users))
	return nil
}

// Register creates a new account and persists the whole table before
// returning. If the table cannot be persisted the account is not created.
func (s *AccountStore) Register(username, password, email string) error {
	if err := s.validate.Struct(registration{Username: username, Password: password}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	s.mu.Lock()
	_, exists := s.users[username]
	if _, reserved := s.registering[username]; exists || reserved {
		s.mu.Unlock()
		return fmt.Errorf("user %q: %w", username, ErrAlreadyExists)
	}
	s.registering[username] = struct{}{}
	s.mu.Unlock()

	u := &User{
		Username:       username,
		PasswordDigest: digest,
		Email:          email,
		RegisteredAt:   s.clock.Now(),
		StorageLimit:   s.defaultLimit,
	}

	// The user becomes visible only once the table including it is saved.
	// Holding persistMu until the insert keeps a concurrent save from
	// writing a table without it.
	s.persistMu.Lock()
	err = s.saveLocked(append(s.Snapshot(), *u))
	s.mu.Lock()
	delete(s.registering, username)
	if err == nil {
		s.users[username] = u
	}
	s.mu.Unlock()
	s.persistMu.Unlock()

	if err != nil {
		return fmt.Errorf("%w: saving accounts: %w", ErrIO, err)
	}

	s.logger.Info("user registered", "username", username)
	return nil
}

// Authenticate checks the password and binds username to sessionID, marking
// the user online. A later login for the same username overwrites the
// binding; the earlier session is not disconnected.
func (s *AccountStore) Authenticate(username, password, sessionID string) (User, error) {
	s.mu.RLock()
	u, ok := s.users[username]
	var digest string
	if ok {
		digest = u.PasswordDigest
	}
	s.mu.RUnlock()

	if !ok || !s.hasher.Verify(digest, password) {
		return User{}, ErrInvalidCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok = s.users[username]
	if !ok {
		return User{}, ErrInvalidCredentials
	}
	u.Online = true
	s.bindings[username] = sessionID
	return *u, nil
}

// SetOnline sets the online flag directly. Clearing it also drops the
// user's session binding.
func (s *AccountStore) SetOnline(username string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	u.Online = online
	if !online {
		delete(s.bindings, username)
	}
	return nil
}

// Release drops the online binding for username if it is still held by
// sessionID, marking the user offline. It reports whether the binding was
// released. A session that was superseded by a later login releases nothing.
func (s *AccountStore) Release(username, sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bindings[username] != sessionID {
		return false
	}
	delete(s.bindings, username)
	if u, ok := s.users[username]; ok {
		u.Online = false
	}
	return true
}

// AdjustStorageUsed adds delta to the user's used storage. Positive deltas
// fail with ErrQuotaExceeded if the result would exceed the user's limit;
// the check and the update happen under one lock, so concurrent uploads by
// the same user cannot overshoot. A release larger than the recorded usage
// clamps to zero and is logged, since it means the books are off.
func (s *AccountStore) AdjustStorageUsed(username string, delta int64) error {
	s.mu.Lock()
	u, ok := s.users[username]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	// Compare against the remaining room; StorageUsed+delta can overflow
	// for sizes taken off the wire.
	if delta > 0 && delta > u.StorageLimit-u.StorageUsed {
		s.mu.Unlock()
		return fmt.Errorf("user %q needs %d bytes, %d of %d used: %w",
			username, delta, u.StorageUsed, u.StorageLimit, ErrQuotaExceeded)
	}
	prev := u.StorageUsed
	next := prev + delta
	if next < 0 {
		next = 0
	}
	u.StorageUsed = next
	s.mu.Unlock()

	if prev+delta < 0 {
		s.logger.Warn("storage release exceeds usage",
			"username", username, "used", prev, "delta", delta)
	}
	if err := s.persist(); err != nil {
		s.logger.Warn("saving accounts failed", "username", username, "error", err)
	}
	return nil
}

// Get returns a copy of the named user.
func (s *AccountStore) Get(username string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[username]
	if !ok {
		return User{}, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	return *u, nil
}

// Snapshot returns copies of all users ordered by username.
func (s *AccountStore) Snapshot() []User {
	s.mu.RLock()
	users := make([]User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, *u)
	}
	s.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

// OnlineCount returns the number of users currently bound to a session.
func (s *AccountStore) OnlineCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bindings)
}

// persist writes the full account table through the snapshotter.
func (s *AccountStore) persist() error {
	if s.snapshotter == nil {
		return nil
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	return s.saveLocked(s.Snapshot())
}

// saveLocked writes users through the snapshotter. persistMu must be held.
func (s *AccountStore) saveLocked(users []User) error {
	if s.snapshotter == nil {
		return nil
	}
	return s.snapshotter.SaveAccounts(users)
}
