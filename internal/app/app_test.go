package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"paperkeep/api/internal/authpw"
	"paperkeep/api/internal/config"
	"paperkeep/api/internal/docs"
	"paperkeep/api/internal/notify"
	"paperkeep/api/internal/prefs"
	"paperkeep/api/internal/reminder"
	"paperkeep/api/internal/store"
)

// fakeUsers is an in-memory stand-in for the Postgres user store. It covers
// both the session-validation surface and the credential surface.
type fakeUsers struct {
	mu         sync.Mutex
	users      map[string]store.User
	revoked    map[string]bool
	resets     map[string]string
	usedResets map[string]bool
}

func newFakeUsers(seed ...store.User) *fakeUsers {
	f := &fakeUsers{
		users:      map[string]store.User{},
		revoked:    map[string]bool{},
		resets:     map[string]string{},
		usedResets: map[string]bool{},
	}
	for _, u := range seed {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUsers) GetUserByID(ctx context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, errors.New("user not found")
	}
	return u, nil
}

func (f *fakeUsers) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return store.User{}, errors.New("user not found")
}

func (f *fakeUsers) CreateUser(ctx context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return nil
}

func (f *fakeUsers) ListActiveUsers(ctx context.Context) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := make([]store.User, 0, len(f.users))
	for _, u := range f.users {
		users = append(users, u)
	}
	return users, nil
}

func (f *fakeUsers) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return errors.New("user not found")
	}
	u.VerificationToken = token
	f.users[userID] = u
	return nil
}

func (f *fakeUsers) VerifyUserEmail(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, u := range f.users {
		if u.VerificationToken == token && token != "" {
			u.IsEmailVerified = true
			u.VerificationToken = ""
			f.users[id] = u
			return nil
		}
	}
	return errors.New("invalid token")
}

func (f *fakeUsers) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return errors.New("user not found")
	}
	u.PasswordHash = passwordHash
	f.users[userID] = u
	return nil
}

func (f *fakeUsers) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = userID
	return nil
}

func (f *fakeUsers) GetPasswordReset(ctx context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.resets[token]
	if !ok || f.usedResets[token] {
		return "", errors.New("not found")
	}
	return userID, nil
}

func (f *fakeUsers) MarkPasswordResetUsed(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usedResets[token] = true
	return nil
}

func (f *fakeUsers) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeUsers) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

func (f *fakeUsers) Ping(ctx context.Context) error { return nil }

// fakeSessions keeps refresh sessions in memory keyed by token hash.
type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: map[string]string{}}
}

func (f *fakeSessions) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[tokenHash] = userID
	return nil
}

func (f *fakeSessions) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.sessions[tokenHash]
	if !ok {
		return store.User{}, errors.New("token not found")
	}
	return store.User{ID: userID}, nil
}

func (f *fakeSessions) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, tokenHash)
	return nil
}

// fakeBlobs is an in-memory attachment store.
type fakeBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
	types map[string]string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{blobs: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeBlobs) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[key] = data
	f.types[key] = contentType
	return nil
}

func (f *fakeBlobs) Fetch(ctx context.Context, key string) (io.ReadCloser, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[key]
	if !ok {
		return nil, "", errors.New("blob not found")
	}
	return io.NopCloser(bytes.NewReader(data)), f.types[key], nil
}

func (f *fakeBlobs) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blobs, key)
	delete(f.types, key)
	return nil
}

type testApp struct {
	service  *Service
	server   *HTTPServer
	users    *fakeUsers
	sessions *fakeSessions
	docs     *docs.Store
	prefs    *prefs.Store
	alerts   *notify.AlertStore
	blobs    *fakeBlobs
}

func newTestApp(t *testing.T, seed ...store.User) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := config.Config{
		JWTSecret:           "test-secret",
		AccessTTL:           time.Hour,
		RefreshTTL:          24 * time.Hour,
		DefaultReminderDays: 3,
		ThrottleWindow:      time.Hour,
	}

	users := newFakeUsers(seed...)
	sessions := newFakeSessions()
	docStore := docs.NewStoreWithClient(client)
	prefStore := prefs.NewStoreWithClient(client)
	alertStore := notify.NewAlertStore(client)
	throttle := reminder.NewThrottleStore(client)
	blobs := newFakeBlobs()

	dispatcher := notify.NewDispatcher(alertStore, nil, nil, nil, prefStore)
	scheduler := reminder.NewScheduler(docStore, prefStore, dispatcher, users, throttle, reminder.Options{
		ThrottleWindow: cfg.ThrottleWindow,
	})

	service := New(cfg, Deps{
		Users:     users,
		Sessions:  sessions,
		Documents: docStore,
		Prefs:     prefStore,
		Alerts:    alertStore,
		Scheduler: scheduler,
		Files:     blobs,
		AuthPw:    authpw.NewService(users),
	})

	return &testApp{
		service:  service,
		server:   NewHTTPServer(service, "*"),
		users:    users,
		sessions: sessions,
		docs:     docStore,
		prefs:    prefStore,
		alerts:   alertStore,
		blobs:    blobs,
	}
}
