package marketauth

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type mockDirectory struct {
	mu       sync.Mutex
	users    map[string]UserRecord
	byEmail  map[string]string
	verified map[string]string

	updateErr error

	getByIDCalls    int
	getByEmailCalls int
	updateCalls     int
	verifiedCalls   int
}

func newMockDirectory(users ...UserRecord) *mockDirectory {
	d := &mockDirectory{
		users:    make(map[string]UserRecord),
		byEmail:  make(map[string]string),
		verified: make(map[string]string),
	}
	for _, u := range users {
		d.users[u.UserID] = u
		d.byEmail[u.Email] = u.UserID
	}
	return d
}

func (d *mockDirectory) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.getByIDCalls++

	user, ok := d.users[userID]
	if !ok {
		return UserRecord{}, errors.New("not found")
	}
	return user, nil
}

func (d *mockDirectory) GetUserByEmail(_ context.Context, email string) (UserRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.getByEmailCalls++

	userID, ok := d.byEmail[email]
	if !ok {
		return UserRecord{}, errors.New("not found")
	}
	return d.users[userID], nil
}

func (d *mockDirectory) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updateCalls++

	if d.updateErr != nil {
		return d.updateErr
	}

	user, ok := d.users[userID]
	if !ok {
		return errors.New("not found")
	}
	user.PasswordHash = newHash
	d.users[userID] = user
	return nil
}

func (d *mockDirectory) MarkEmailVerified(_ context.Context, userID, email string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.verifiedCalls++

	if _, ok := d.users[userID]; !ok {
		return errors.New("not found")
	}
	d.verified[userID] = email
	return nil
}

func (d *mockDirectory) verifiedEmail(userID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.verified[userID]
}

func (d *mockDirectory) passwordHash(userID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.users[userID].PasswordHash
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func newTestConfig() Config {
	cfg := defaultConfig()
	cfg.TOTP.Issuer = "Marketplace Test"
	cfg.AccessToken.PrivateKey = bytes.Repeat([]byte{0x42}, 32)
	// fast hashing for tests, still above the validation floor
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

var testKeychainKey = bytes.Repeat([]byte{0x07}, 32)

func newTestEngine(t *testing.T, rdb *redis.Client, dir UserDirectory) *Engine {
	t.Helper()

	engine, err := New().
		WithConfig(newTestConfig()).
		WithRedis(rdb).
		WithDirectory(dir).
		WithKeychainKey(testKeychainKey).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return engine
}

// setClock pins the engine's notion of now so expiry windows are driven by
// the test, not the wall clock.
func setClock(e *Engine, at time.Time) {
	e.now = func() time.Time { return at }
}
