package shareit_test

import (
	"errors"
	"math"
	"sync"
	"testing"

	"shareit/internal/shareit"
	"shareit/internal/testutil"
)

func newAccountStore(t *testing.T) (*shareit.AccountStore, *testutil.MemorySnapshotter) {
	t.Helper()
	snap := testutil.NewMemorySnapshotter()
	return shareit.NewAccountStore(snap, testutil.PlainHasher{}, testutil.FixedClock(), shareit.NewNopLogger(), 0), snap
}

func TestAccountStore_Register(t *testing.T) {
	t.Run("creates user with default quota and persists", func(t *testing.T) {
		s, snap := newAccountStore(t)

		if err := s.Register("alice", "pw", "alice@example.com"); err != nil {
			t.Fatalf("Register() error = %v", err)
		}

		u, err := s.Get("alice")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if u.StorageLimit != shareit.DefaultStorageLimit || u.StorageUsed != 0 || u.Online {
			t.Errorf("new user = %+v, want limit %d, used 0, offline", u, shareit.DefaultStorageLimit)
		}
		if u.PasswordDigest == "pw" {
			t.Error("password stored in plain")
		}
		if !u.RegisteredAt.Equal(testutil.FixedClock().Now()) {
			t.Errorf("RegisteredAt = %v", u.RegisteredAt)
		}

		saved, n := snap.Saved()
		if n != 1 || len(saved) != 1 || saved[0].Username != "alice" {
			t.Errorf("snapshot = %+v after %d saves, want alice after 1", saved, n)
		}
	})

	t.Run("duplicate username", func(t *testing.T) {
		s, _ := newAccountStore(t)
		if err := s.Register("alice", "pw", ""); err != nil {
			t.Fatalf("Register() error = %v", err)
		}

		err := s.Register("alice", "other", "")
		if !errors.Is(err, shareit.ErrAlreadyExists) {
			t.Fatalf("Register() duplicate error = %v, want ErrAlreadyExists", err)
		}
		if _, err := s.Authenticate("alice", "pw", "s1"); err != nil {
			t.Errorf("original password no longer works: %v", err)
		}
	})

	t.Run("empty fields rejected", func(t *testing.T) {
		s, _ := newAccountStore(t)
		if err := s.Register("", "pw", ""); !errors.Is(err, shareit.ErrInvalidArgument) {
			t.Errorf("Register(empty username) error = %v, want ErrInvalidArgument", err)
		}
		if err := s.Register("bob", "", ""); !errors.Is(err, shareit.ErrInvalidArgument) {
			t.Errorf("Register(empty password) error = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("persist failure rolls back", func(t *testing.T) {
		s, snap := newAccountStore(t)
		snap.SetFail(true)

		err := s.Register("alice", "pw", "")
		if !errors.Is(err, shareit.ErrIO) {
			t.Fatalf("Register() error = %v, want ErrIO", err)
		}
		if _, err := s.Get("alice"); !errors.Is(err, shareit.ErrNotFound) {
			t.Errorf("Get() after failed register error = %v, want ErrNotFound", err)
		}

		snap.SetFail(false)
		if err := s.Register("alice", "pw", ""); err != nil {
			t.Errorf("Register() retry error = %v", err)
		}
	})

	t.Run("user invisible until saved", func(t *testing.T) {
		snap := newGatedSnapshotter()
		s := shareit.NewAccountStore(snap, testutil.PlainHasher{}, testutil.FixedClock(), shareit.NewNopLogger(), 0)

		done := make(chan error, 1)
		go func() { done <- s.Register("alice", "pw", "") }()
		<-snap.entered

		if _, err := s.Authenticate("alice", "pw", "s1"); !errors.Is(err, shareit.ErrInvalidCredentials) {
			t.Errorf("Authenticate() during save error = %v, want ErrInvalidCredentials", err)
		}
		if _, err := s.Get("alice"); !errors.Is(err, shareit.ErrNotFound) {
			t.Errorf("Get() during save error = %v, want ErrNotFound", err)
		}
		if err := s.Register("alice", "other", ""); !errors.Is(err, shareit.ErrAlreadyExists) {
			t.Errorf("Register() during save error = %v, want ErrAlreadyExists", err)
		}

		snap.release <- testutil.ErrInjected
		if err := <-done; !errors.Is(err, shareit.ErrIO) {
			t.Fatalf("Register() error = %v, want ErrIO", err)
		}
		if _, err := s.Get("alice"); !errors.Is(err, shareit.ErrNotFound) {
			t.Errorf("Get() after failed save error = %v, want ErrNotFound", err)
		}
		if n := s.OnlineCount(); n != 0 {
			t.Errorf("OnlineCount() = %d, want 0", n)
		}

		go func() { done <- s.Register("alice", "pw", "") }()
		<-snap.entered
		snap.release <- nil
		if err := <-done; err != nil {
			t.Fatalf("Register() retry error = %v", err)
		}
		if _, err := s.Authenticate("alice", "pw", "s1"); err != nil {
			t.Errorf("Authenticate() after save error = %v", err)
		}
	})

	t.Run("concurrent registrations of one name", func(t *testing.T) {
		s, _ := newAccountStore(t)

		var wg sync.WaitGroup
		results := make(chan error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- s.Register("carol", "pw", "")
			}()
		}
		wg.Wait()
		close(results)

		ok := 0
		for err := range results {
			if err == nil {
				ok++
			} else if !errors.Is(err, shareit.ErrAlreadyExists) {
				t.Errorf("unexpected error: %v", err)
			}
		}
		if ok != 1 {
			t.Errorf("%d registrations succeeded, want 1", ok)
		}
	})
}

func TestAccountStore_Authenticate(t *testing.T) {
	s, _ := newAccountStore(t)
	if err := s.Register("alice", "secret", ""); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{name: "correct password", username: "alice", password: "secret"},
		{name: "wrong password", username: "alice", password: "nope", wantErr: shareit.ErrInvalidCredentials},
		{name: "unknown user", username: "mallory", password: "secret", wantErr: shareit.ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := s.Authenticate(tt.username, tt.password, "session-1")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Authenticate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if !u.Online {
				t.Error("authenticated user should be online")
			}
		})
	}
}

func TestAccountStore_OnlineBinding(t *testing.T) {
	s, _ := newAccountStore(t)
	if err := s.Register("alice", "pw", ""); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if _, err := s.Authenticate("alice", "pw", "first"); err != nil {
		t.Fatalf("Authenticate(first) error = %v", err)
	}
	if _, err := s.Authenticate("alice", "pw", "second"); err != nil {
		t.Fatalf("Authenticate(second) error = %v", err)
	}
	if got := s.OnlineCount(); got != 1 {
		t.Errorf("OnlineCount() = %d, want 1", got)
	}

	// The superseded session releases nothing.
	if s.Release("alice", "first") {
		t.Error("Release() by superseded session returned true")
	}
	if u, _ := s.Get("alice"); !u.Online {
		t.Error("alice went offline when superseded session ended")
	}

	if !s.Release("alice", "second") {
		t.Error("Release() by current session returned false")
	}
	if u, _ := s.Get("alice"); u.Online {
		t.Error("alice still online after release")
	}
	if got := s.OnlineCount(); got != 0 {
		t.Errorf("OnlineCount() = %d, want 0", got)
	}
}

func TestAccountStore_SetOnline(t *testing.T) {
	s, _ := newAccountStore(t)
	if err := s.Register("alice", "pw", ""); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := s.SetOnline("alice", true); err != nil {
		t.Fatalf("SetOnline(true) error = %v", err)
	}
	if u, _ := s.Get("alice"); !u.Online {
		t.Error("alice should be online")
	}
	if err := s.SetOnline("alice", false); err != nil {
		t.Fatalf("SetOnline(false) error = %v", err)
	}
	if u, _ := s.Get("alice"); u.Online {
		t.Error("alice should be offline")
	}
	if err := s.SetOnline("ghost", true); !errors.Is(err, shareit.ErrNotFound) {
		t.Errorf("SetOnline(ghost) error = %v, want ErrNotFound", err)
	}
}

func TestAccountStore_AdjustStorageUsed(t *testing.T) {
	const limit = shareit.DefaultStorageLimit

	tests := []struct {
		name     string
		start    int64
		delta    int64
		wantErr  error
		wantUsed int64
	}{
		{name: "fits", start: 0, delta: 2048, wantUsed: 2048},
		{name: "exactly reaches limit", start: limit - 100, delta: 100, wantUsed: limit},
		{name: "one byte over limit", start: limit - 100, delta: 101, wantErr: shareit.ErrQuotaExceeded, wantUsed: limit - 100},
		{name: "release", start: 4096, delta: -2048, wantUsed: 2048},
		{name: "release clamps at zero", start: 100, delta: -500, wantUsed: 0},
		{name: "zero delta", start: 10, delta: 0, wantUsed: 10},
		{name: "huge delta does not wrap", start: 90 << 20, delta: math.MaxInt64, wantErr: shareit.ErrQuotaExceeded, wantUsed: 90 << 20},
		{name: "huge delta on empty account", start: 0, delta: math.MaxInt64, wantErr: shareit.ErrQuotaExceeded, wantUsed: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newAccountStore(t)
			if err := s.Register("alice", "pw", ""); err != nil {
				t.Fatalf("Register() error = %v", err)
			}
			if tt.start > 0 {
				if err := s.AdjustStorageUsed("alice", tt.start); err != nil {
					t.Fatalf("setup AdjustStorageUsed() error = %v", err)
				}
			}

			err := s.AdjustStorageUsed("alice", tt.delta)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("AdjustStorageUsed() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("AdjustStorageUsed() error = %v", err)
			}

			u, _ := s.Get("alice")
			if u.StorageUsed != tt.wantUsed {
				t.Errorf("StorageUsed = %d, want %d", u.StorageUsed, tt.wantUsed)
			}
		})
	}

	t.Run("unknown user", func(t *testing.T) {
		s, _ := newAccountStore(t)
		if err := s.AdjustStorageUsed("ghost", 1); !errors.Is(err, shareit.ErrNotFound) {
			t.Errorf("AdjustStorageUsed(ghost) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("concurrent reservations never exceed limit", func(t *testing.T) {
		snap := testutil.NewMemorySnapshotter()
		s := shareit.NewAccountStore(snap, testutil.PlainHasher{}, testutil.FixedClock(), shareit.NewNopLogger(), 1000)
		if err := s.Register("alice", "pw", ""); err != nil {
			t.Fatalf("Register() error = %v", err)
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		granted := 0
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.AdjustStorageUsed("alice", 100); err == nil {
					mu.Lock()
					granted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if granted != 10 {
			t.Errorf("%d reservations granted, want 10", granted)
		}
		if u, _ := s.Get("alice"); u.StorageUsed != 1000 {
			t.Errorf("StorageUsed = %d, want 1000", u.StorageUsed)
		}
	})
}

func TestAccountStore_Load(t *testing.T) {
	snap := testutil.NewMemorySnapshotter(
		shareit.User{Username: "bob", PasswordDigest: "plain:pw", Online: true, StorageUsed: 5, StorageLimit: 50},
		shareit.User{Username: "alice", PasswordDigest: "plain:pw"},
	)
	s := shareit.NewAccountStore(snap, testutil.PlainHasher{}, testutil.FixedClock(), shareit.NewNopLogger(), 0)

	if err := s.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	users := s.Snapshot()
	if len(users) != 2 || users[0].Username != "alice" || users[1].Username != "bob" {
		t.Fatalf("Snapshot() = %+v, want alice, bob", users)
	}
	for _, u := range users {
		if u.Online {
			t.Errorf("%s loaded online", u.Username)
		}
	}
	if users[0].StorageLimit != shareit.DefaultStorageLimit {
		t.Errorf("alice limit = %d, want default", users[0].StorageLimit)
	}
	if users[1].StorageLimit != 50 || users[1].StorageUsed != 5 {
		t.Errorf("bob = %+v, want used 5 limit 50", users[1])
	}
	if _, err := s.Authenticate("bob", "pw", "s"); err != nil {
		t.Errorf("Authenticate() after load error = %v", err)
	}
}

// gatedSnapshotter blocks every save until the test sends its result.
type gatedSnapshotter struct {
	entered chan struct{}
	release chan error
}

func newGatedSnapshotter() *gatedSnapshotter {
	return &gatedSnapshotter{entered: make(chan struct{}), release: make(chan error)}
}

func (g *gatedSnapshotter) SaveAccounts(users []shareit.User) error {
	g.entered <- struct{}{}
	return <-g.release
}

func (g *gatedSnapshotter) LoadAccounts() ([]shareit.User, error) { return nil, nil }
