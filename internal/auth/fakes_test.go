package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/labbooking/server/internal/logging"
	"github.com/labbooking/server/internal/model"
	"github.com/labbooking/server/internal/repo"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// memUsers mirrors the conditional updates of the SQL user repository
type memUsers struct {
	mu             sync.Mutex
	users          map[uuid.UUID]*model.User
	resetRequested map[uuid.UUID]time.Time
	writes         int
}

func newMemUsers() *memUsers {
	return &memUsers{
		users:          make(map[uuid.UUID]*model.User),
		resetRequested: make(map[uuid.UUID]time.Time),
	}
}

func (m *memUsers) Create(_ context.Context, u model.User) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.IsDeleted {
			continue
		}
		if u.Phone != "" && existing.Phone == u.Phone {
			return model.User{}, repo.ErrDuplicate
		}
		if u.Email != nil && existing.Email != nil && strings.EqualFold(*existing.Email, *u.Email) {
			return model.User{}, repo.ErrDuplicate
		}
	}
	u.ID = uuid.New()
	u.IsActive = true
	if u.LanguagePreference == "" {
		u.LanguagePreference = "en"
	}
	m.users[u.ID] = &u
	m.writes++
	return u, nil
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return model.User{}, repo.ErrNotFound
	}
	return *u, nil
}

func (m *memUsers) GetActiveByPhone(_ context.Context, phone string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Phone == phone && u.Usable() {
			return *u, nil
		}
	}
	return model.User{}, repo.ErrNotFound
}

func (m *memUsers) ExistsByPhone(_ context.Context, phone string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Phone == phone && !u.IsDeleted {
			return true, nil
		}
	}
	return false, nil
}

func (m *memUsers) ExistsByEmail(_ context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email != nil && strings.EqualFold(*u.Email, email) && !u.IsDeleted {
			return true, nil
		}
	}
	return false, nil
}

func (m *memUsers) IncrementLoginRetry(_ context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || !u.Usable() {
		return 0, repo.ErrNotFound
	}
	u.LoginRetryCount++
	m.writes++
	return u.LoginRetryCount, nil
}

func (m *memUsers) LockLogin(_ context.Context, id uuid.UUID, until time.Time, maxRetry int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || !u.Usable() || u.LoginRetryCount < maxRetry || u.LoginLockUntil != nil {
		return false, nil
	}
	u.LoginLockUntil = &until
	u.LoginRetryCount++
	m.writes++
	return true, nil
}

func (m *memUsers) ClearExpiredLock(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.LoginLockUntil == nil || u.LoginLockUntil.After(now) {
		return false, nil
	}
	u.LoginLockUntil = nil
	u.LoginRetryCount = 0
	m.writes++
	return true, nil
}

func (m *memUsers) ResetLoginRetry(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok && u.LoginRetryCount != 0 {
		u.LoginRetryCount = 0
		m.writes++
	}
	return nil
}

func (m *memUsers) MarkResetRequested(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetRequested[id] = at
	m.writes++
	return nil
}

func (m *memUsers) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || !u.Usable() {
		return repo.ErrNotFound
	}
	u.PasswordHash = hash
	u.LoginRetryCount = 0
	u.LoginLockUntil = nil
	delete(m.resetRequested, id)
	m.writes++
	return nil
}

func (m *memUsers) get(id uuid.UUID) model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.users[id]
}

func (m *memUsers) update(id uuid.UUID, fn func(u *model.User)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.users[id])
}

func (m *memUsers) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

type memSessions struct {
	mu       sync.Mutex
	sessions []*model.SessionToken
}

func (m *memSessions) Create(_ context.Context, s model.SessionToken) (model.SessionToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uuid.New()
	s.IsActive = true
	m.sessions = append(m.sessions, &s)
	return s, nil
}

func (m *memSessions) FindActive(_ context.Context, tokenHash string, userID uuid.UUID) (model.SessionToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sessions) - 1; i >= 0; i-- {
		s := m.sessions[i]
		if s.IsActive && s.TokenHash == tokenHash && s.UserID == userID {
			return *s, nil
		}
	}
	return model.SessionToken{}, repo.ErrNotFound
}

func (m *memSessions) DeactivateAllForUser(_ context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now()
	for _, s := range m.sessions {
		if s.UserID == userID && s.IsActive {
			s.IsActive = false
			s.TokenHash = ""
			s.DeactivatedAt = &now
			n++
		}
	}
	return n, nil
}

func (m *memSessions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

type memOTP struct {
	rec      model.OTPRecord
	consumed bool
}

// memOTPs filters by expiry on read the same way the SQL store does
type memOTPs struct {
	mu      sync.Mutex
	records []*memOTP
}

func (m *memOTPs) Create(_ context.Context, rec model.OTPRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, &memOTP{rec: rec})
	return nil
}

func (m *memOTPs) Latest(_ context.Context, phone string, now time.Time) (model.OTPRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var newest *memOTP
	for _, r := range m.records {
		if r.rec.Phone != phone || !r.rec.ExpiresAt.After(now) {
			continue
		}
		if newest == nil || r.rec.CreatedAt.After(newest.rec.CreatedAt) {
			newest = r
		}
	}
	if newest == nil || newest.consumed || newest.rec.Attempts >= repo.MaxOTPAttempts {
		return model.OTPRecord{}, repo.ErrNotFound
	}
	return newest.rec, nil
}

func (m *memOTPs) IncrementAttempt(_ context.Context, phone string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var newest *memOTP
	for _, r := range m.records {
		if r.rec.Phone != phone || !r.rec.ExpiresAt.After(now) {
			continue
		}
		if newest == nil || r.rec.CreatedAt.After(newest.rec.CreatedAt) {
			newest = r
		}
	}
	if newest == nil || newest.consumed {
		return 0, repo.ErrNotFound
	}
	newest.rec.Attempts++
	return newest.rec.Attempts, nil
}

func (m *memOTPs) Consume(_ context.Context, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.rec.Phone == phone {
			r.consumed = true
		}
	}
	return nil
}

func (m *memOTPs) CountRecentRequests(_ context.Context, phone string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.rec.Phone == phone && !r.rec.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memOTPs) all() []model.OTPRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.OTPRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.rec)
	}
	return out
}

type sentSMS struct {
	phone string
	code  string
}

type fakeSMS struct {
	mu   sync.Mutex
	sent []sentSMS
	err  error
}

func (f *fakeSMS) SendOTP(_ context.Context, phone, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentSMS{phone: phone, code: code})
	return f.err
}

func (f *fakeSMS) last(t *testing.T) sentSMS {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no sms sent")
	}
	return f.sent[len(f.sent)-1]
}

type fakeNotifier struct {
	mu    sync.Mutex
	users []model.User
}

func (f *fakeNotifier) PasswordChanged(_ context.Context, u model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, u)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

type testEnv struct {
	svc      *Service
	authn    *Authenticator
	tokens   *JWTService
	users    *memUsers
	sessions *memSessions
	otps     *memOTPs
	sms      *fakeSMS
	notifier *fakeNotifier
	clock    *testClock
}

func newTestEnv(t *testing.T, mutate ...func(*Options)) *testEnv {
	t.Helper()
	env := &testEnv{
		users:    newMemUsers(),
		sessions: &memSessions{},
		otps:     &memOTPs{},
		sms:      &fakeSMS{},
		notifier: &fakeNotifier{},
		clock:    &testClock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)},
	}
	env.tokens = NewJWTService(map[model.Platform]string{
		model.PlatformUserApp: "userapp-secret",
		model.PlatformAdmin:   "admin-secret",
	}, 10000*time.Second)
	env.tokens.now = env.clock.Now

	opts := Options{
		OTPSalt:    "test-salt",
		BcryptCost: bcrypt.MinCost,
	}
	for _, fn := range mutate {
		fn(&opts)
	}

	policy := DefaultAccessPolicy()
	env.svc = NewService(Deps{
		Users:    env.users,
		Sessions: env.sessions,
		OTPs:     env.otps,
		Tokens:   env.tokens,
		Policy:   policy,
		SMS:      env.sms,
		Notifier: env.notifier,
		Log:      logging.Discard(),
	}, opts)
	env.svc.now = env.clock.Now

	env.authn = NewAuthenticator(env.tokens, env.users, env.sessions, policy)
	env.authn.now = env.clock.Now
	return env
}

func (e *testEnv) register(t *testing.T, phone, password string) model.User {
	t.Helper()
	u, err := e.svc.Register(context.Background(), RegisterInput{Phone: phone, Password: password})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return *u
}

func (e *testEnv) login(phone, password string) (*LoginResult, error) {
	return e.svc.Login(context.Background(), LoginInput{
		Phone:    phone,
		Password: password,
		Platform: model.PlatformUserApp,
	})
}

var errSMSDown = errors.New("gateway unavailable")
