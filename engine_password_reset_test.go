package marketauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPasswordResetFlow(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	engine := newTestEngine(t, rdb, newMockDirectory())
	defer engine.Close()

	oldHash, err := engine.passwordHash.Hash("old-password-123")
	if err != nil {
		t.Fatalf("Hash old password failed: %v", err)
	}
	dir := newMockDirectory(UserRecord{UserID: "u1", Email: "alice@example.com", PasswordHash: oldHash})
	engine.directory = dir

	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	setClock(engine, at)

	// live refresh tokens that the reset must kill
	expiry := at.Add(24 * time.Hour)
	if err := engine.StoreRefreshToken(ctx, "u1", "hash-a", "phone", "203.0.113.7", expiry); err != nil {
		t.Fatalf("StoreRefreshToken failed: %v", err)
	}
	if err := engine.StoreRefreshToken(ctx, "u1", "hash-b", "laptop", "203.0.113.8", expiry); err != nil {
		t.Fatalf("StoreRefreshToken failed: %v", err)
	}

	token, err := engine.RequestPasswordReset(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty reset token")
	}

	if err := engine.ResetPassword(ctx, token, "new-password-123"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}

	ok, err := engine.passwordHash.Verify("new-password-123", dir.passwordHash("u1"))
	if err != nil || !ok {
		t.Fatalf("expected new password to verify, ok=%v err=%v", ok, err)
	}

	for _, hash := range []string{"hash-a", "hash-b"} {
		if _, err := engine.ValidateRefreshToken(ctx, hash); !errors.Is(err, ErrRefreshInvalid) {
			t.Fatalf("expected refresh token %s to be revoked, got %v", hash, err)
		}
	}

	// replayed token
	if err := engine.ResetPassword(ctx, token, "newer-password-123"); !errors.Is(err, ErrTokenAlreadyUsed) {
		t.Fatalf("expected ErrTokenAlreadyUsed on replay, got %v", err)
	}
}

func TestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	dir := newMockDirectory()
	engine := newTestEngine(t, rdb, dir)
	defer engine.Close()

	token, err := engine.RequestPasswordReset(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("expected silent success for unknown email, got %v", err)
	}
	if token != "" {
		t.Fatalf("expected empty token for unknown email, got %q", token)
	}
}

func TestPasswordResetTokenExpires(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	dir := newMockDirectory(UserRecord{UserID: "u1", Email: "alice@example.com"})
	engine := newTestEngine(t, rdb, dir)
	defer engine.Close()

	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	setClock(engine, at)

	token, err := engine.RequestPasswordReset(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}

	setClock(engine, at.Add(24*time.Hour+time.Minute))
	if err := engine.ResetPassword(ctx, token, "new-password-123"); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestPasswordResetSupersededTokenAlreadyUsed(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	dir := newMockDirectory(UserRecord{UserID: "u1", Email: "alice@example.com"})
	engine := newTestEngine(t, rdb, dir)
	defer engine.Close()

	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	setClock(engine, at)

	first, err := engine.RequestPasswordReset(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	second, err := engine.RequestPasswordReset(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("second request failed: %v", err)
	}

	if err := engine.ResetPassword(ctx, first, "new-password-123"); !errors.Is(err, ErrTokenAlreadyUsed) {
		t.Fatalf("expected superseded token to fail as already used, got %v", err)
	}
	if err := engine.ResetPassword(ctx, second, "new-password-123"); err != nil {
		t.Fatalf("expected latest token to work, got %v", err)
	}
}

func TestPasswordResetConcurrentConsumeSingleWinner(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	dir := newMockDirectory(UserRecord{UserID: "u1", Email: "alice@example.com"})
	engine := newTestEngine(t, rdb, dir)
	defer engine.Close()

	token, err := engine.RequestPasswordReset(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}

	const attempts = 8
	results := make(chan error, attempts)
	var start sync.WaitGroup
	start.Add(1)

	for i := 0; i < attempts; i++ {
		go func() {
			start.Wait()
			results <- engine.ResetPassword(ctx, token, "new-password-123")
		}()
	}
	start.Done()

	wins, replays := 0, 0
	for i := 0; i < attempts; i++ {
		switch err := <-results; {
		case err == nil:
			wins++
		case errors.Is(err, ErrTokenAlreadyUsed):
			replays++
		default:
			t.Fatalf("unexpected result: %v", err)
		}
	}
	if wins != 1 || replays != attempts-1 {
		t.Fatalf("expected 1 winner and %d replays, got %d/%d", attempts-1, wins, replays)
	}
}

func TestPasswordResetGarbageToken(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	dir := newMockDirectory()
	engine := newTestEngine(t, rdb, dir)
	defer engine.Close()

	if err := engine.ResetPassword(ctx, "not-a-token", "new-password-123"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound for malformed token, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	engine := newTestEngine(t, rdb, newMockDirectory())
	defer engine.Close()

	oldHash, err := engine.passwordHash.Hash("old-password-123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	dir := newMockDirectory(UserRecord{UserID: "u1", Email: "alice@example.com", PasswordHash: oldHash})
	engine.directory = dir

	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	setClock(engine, at)

	if err := engine.StoreRefreshToken(ctx, "u1", "hash-a", "phone", "", at.Add(time.Hour)); err != nil {
		t.Fatalf("StoreRefreshToken failed: %v", err)
	}

	if err := engine.ChangePassword(ctx, "u1", "wrong-password", "new-password-123"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for wrong current password, got %v", err)
	}
	if err := engine.ChangePassword(ctx, "u1", "old-password-123", "old-password-123"); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("expected ErrPasswordReuse, got %v", err)
	}
	if err := engine.ChangePassword(ctx, "u1", "old-password-123", "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy for short password, got %v", err)
	}

	if err := engine.ChangePassword(ctx, "u1", "old-password-123", "new-password-123"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	ok, err := engine.passwordHash.Verify("new-password-123", dir.passwordHash("u1"))
	if err != nil || !ok {
		t.Fatalf("expected new password to verify, ok=%v err=%v", ok, err)
	}
	if _, err := engine.ValidateRefreshToken(ctx, "hash-a"); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected refresh tokens revoked after change, got %v", err)
	}
}

func TestVerifyPasswordUpgradesStaleHash(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()

	// hash produced under weaker parameters than the engine's config
	engineCfg := newTestConfig()
	engineCfg.Password.Time = 2

	weakEngine := newTestEngine(t, rdb, newMockDirectory())
	defer weakEngine.Close()
	staleHash, err := weakEngine.passwordHash.Hash("password-123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	dir := newMockDirectory(UserRecord{UserID: "u1", Email: "a@example.com", PasswordHash: staleHash})

	upgraded, err := New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithDirectory(dir).
		WithKeychainKey(testKeychainKey).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer upgraded.Close()

	ok, err := upgraded.VerifyPassword(ctx, "u1", "password-123")
	if err != nil || !ok {
		t.Fatalf("expected password to verify, ok=%v err=%v", ok, err)
	}
	if dir.passwordHash("u1") == staleHash {
		t.Fatal("expected stale hash to be upgraded in place")
	}
	ok, err = upgraded.passwordHash.Verify("password-123", dir.passwordHash("u1"))
	if err != nil || !ok {
		t.Fatalf("expected upgraded hash to verify, ok=%v err=%v", ok, err)
	}
}
