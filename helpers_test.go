package authcore

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// fakeClock is a mutable time source shared by the engine under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memStore is an in-memory Store. Plain map access under one mutex; the
// engine's per-account serialization is what keeps read-modify-write cycles
// atomic, the store itself only has to be individually consistent.
type memStore struct {
	mu        sync.Mutex
	refresh   map[string]RefreshTokenRecord
	lockouts  map[string]LockoutState
	twoFactor map[string]TwoFactorState
}

func newMemStore() *memStore {
	return &memStore{
		refresh:   map[string]RefreshTokenRecord{},
		lockouts:  map[string]LockoutState{},
		twoFactor: map[string]TwoFactorState{},
	}
}

func (s *memStore) GetRefreshRecord(_ context.Context, tokenID string) (*RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.refresh[tokenID]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (s *memStore) PutRefreshRecord(_ context.Context, record *RefreshTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh[record.TokenID] = *record
	return nil
}

func (s *memStore) RevokeRefreshRecords(_ context.Context, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, record := range s.refresh {
		if record.SubjectID == subjectID {
			record.Revoked = true
			s.refresh[id] = record
		}
	}
	return nil
}

func (s *memStore) GetLockoutState(_ context.Context, accountID string) (LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockouts[accountID], nil
}

func (s *memStore) PutLockoutState(_ context.Context, accountID string, state LockoutState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockouts[accountID] = state
	return nil
}

func (s *memStore) GetTwoFactorState(_ context.Context, accountID string) (*TwoFactorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.twoFactor[accountID]
	if !ok {
		return nil, nil
	}
	copied := state
	copied.BackupCodes = bytes.Clone(state.BackupCodes)
	return &copied, nil
}

func (s *memStore) PutTwoFactorState(_ context.Context, accountID string, state *TwoFactorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *state
	copied.BackupCodes = bytes.Clone(state.BackupCodes)
	s.twoFactor[accountID] = copied
	return nil
}

// fakeUsers is an in-memory UserProvider keyed by email and id.
type fakeUsers struct {
	mu    sync.Mutex
	users map[string]*User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: map[string]*User{}}
}

func (p *fakeUsers) add(user *User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[user.ID] = user
}

func (p *fakeUsers) GetUserByEmail(_ context.Context, email string) (*User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, user := range p.users {
		if user.Email == email {
			copied := *user
			return &copied, nil
		}
	}
	return nil, nil
}

func (p *fakeUsers) GetUserByID(_ context.Context, id string) (*User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	user, ok := p.users[id]
	if !ok {
		return nil, nil
	}
	copied := *user
	return &copied, nil
}

func (p *fakeUsers) UpdatePasswordHash(_ context.Context, id, hash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if user, ok := p.users[id]; ok {
		user.PasswordHash = hash
	}
	return nil
}

// captureNotifier records delivered events for assertions.
type captureNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *captureNotifier) Notify(_ context.Context, event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *captureNotifier) byKind(kind EventKind) []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Event
	for _, event := range n.events {
		if event.Kind == kind {
			out = append(out, event)
		}
	}
	return out
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.Token.Secret = bytes.Repeat([]byte{0x5a}, 32)
	cfg.TwoFactor.EncryptionKey = bytes.Repeat([]byte{0x2b}, 32)
	// Floor-level argon2 costs keep the suite fast.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.RolePermissions = map[string][]string{
		"admin":  {"users:read", "users:write"},
		"member": {"users:read", "profile:write"},
	}
	return cfg
}

type testEngine struct {
	engine *Engine
	store  *memStore
	users  *fakeUsers
	notes  *captureNotifier
	clock  *fakeClock
	redis  *miniredis.Miniredis
}

func newTestEngine(t *testing.T, cfg Config) (*testEngine, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	store := newMemStore()
	users := newFakeUsers()
	notes := &captureNotifier{}
	clock := newFakeClock()

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithStore(store).
		WithUserProvider(users).
		WithNotifier(notes).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	te := &testEngine{
		engine: engine,
		store:  store,
		users:  users,
		notes:  notes,
		clock:  clock,
		redis:  mr,
	}
	return te, func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	}
}

// waitForEvents polls for events that travel through the asynchronous
// dispatcher before reaching the notifier.
func waitForEvents(t *testing.T, notes *captureNotifier, kind EventKind, want int) []Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		events := notes.byKind(kind)
		if len(events) >= want {
			return events
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d %q events, have %d", want, kind, len(events))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// addUser hashes the password through the engine and registers the account.
func (te *testEngine) addUser(t *testing.T, id, email, plaintext string, roles []string) {
	t.Helper()
	hash, err := te.engine.HashPassword(plaintext)
	if err != nil {
		t.Fatalf("hash password failed: %v", err)
	}
	te.users.add(&User{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		Roles:        roles,
		Active:       true,
	})
}
