package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/rryowa/basicauth/internal/metrics"
	"github.com/rryowa/basicauth/internal/models"
	"github.com/rryowa/basicauth/internal/storage/memory"
	"github.com/rryowa/basicauth/internal/util"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().UTC().Truncate(time.Second)}
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

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []ReplayAlert
}

func (n *recordingNotifier) NotifyReplay(_ context.Context, alert ReplayAlert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
}

func (n *recordingNotifier) Alerts() []ReplayAlert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ReplayAlert(nil), n.alerts...)
}

func testAuthConfig() *util.AuthConfig {
	return &util.AuthConfig{
		Enabled:          true,
		JWTSecret:        []byte("access-secret-for-tests"),
		RefreshSecret:    []byte("refresh-secret-for-tests"),
		RefreshSecretSet: true,
		AccessTTL:        15 * time.Minute,
		RefreshTTL:       30 * 24 * time.Hour,
		RegistrationMode: util.RegistrationOpen,
	}
}

type testEnv struct {
	auth     *AuthService
	store    *memory.Storage
	tokens   *TokenService
	hasher   *PasswordHasher
	clock    *fakeClock
	notifier *recordingNotifier
	cfg      *util.AuthConfig
}

func newTestEnv(t *testing.T, mutate ...func(*util.AuthConfig)) *testEnv {
	t.Helper()

	cfg := testAuthConfig()
	for _, m := range mutate {
		m(cfg)
	}

	clock := newFakeClock()
	log := zap.NewNop().Sugar()
	store := memory.NewStorage(log, clock.Now)
	tokens := NewTokenService(cfg, clock.Now)
	hasher, err := NewPasswordHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	notifier := &recordingNotifier{}

	return &testEnv{
		auth:     NewAuthService(log, cfg, store, tokens, hasher, notifier, metrics.New(), clock.Now),
		store:    store,
		tokens:   tokens,
		hasher:   hasher,
		clock:    clock,
		notifier: notifier,
		cfg:      cfg,
	}
}

func (e *testEnv) createAccount(t *testing.T, email, password string) *models.Account {
	t.Helper()

	hash, err := e.hasher.Hash(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	account, err := e.store.CreateAccount(context.Background(), models.CreateAccountInput{
		Email:        email,
		PasswordHash: hash,
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return account
}
