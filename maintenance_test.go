package marketauth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPurgeExpiredPrunesStaleIndexEntries(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	engine := newTestEngine(t, rdb, newMockDirectory())
	defer engine.Close()

	now := time.Now()

	// one short-lived and one long-lived refresh token; the index set
	// outlives the short record
	if err := engine.StoreRefreshToken(ctx, "u1", "hash-short", "phone", "", now.Add(10*time.Minute)); err != nil {
		t.Fatalf("StoreRefreshToken failed: %v", err)
	}
	if err := engine.StoreRefreshToken(ctx, "u1", "hash-long", "laptop", "", now.Add(40*time.Minute)); err != nil {
		t.Fatalf("StoreRefreshToken failed: %v", err)
	}

	// first admin session created now, second one ten minutes later so the
	// per-admin index stays alive after the first record's TTL lapses
	if _, err := engine.CreateAdminSession(ctx, "admin-1"); err != nil {
		t.Fatalf("CreateAdminSession failed: %v", err)
	}

	mr.FastForward(10*time.Minute + time.Second)

	second, err := engine.CreateAdminSession(ctx, "admin-1")
	if err != nil {
		t.Fatalf("CreateAdminSession failed: %v", err)
	}

	mr.FastForward(21 * time.Minute)

	removed, err := engine.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 stale index entries removed, got %d", removed)
	}

	// the survivors are untouched
	if userID, err := engine.ValidateRefreshToken(ctx, "hash-long"); err != nil || userID != "u1" {
		t.Fatalf("expected long-lived token to survive, userID=%q err=%v", userID, err)
	}
	if _, err := engine.ValidateAdminSession(ctx, second); err != nil {
		t.Fatalf("expected second admin session to survive, got %v", err)
	}

	// a second sweep finds nothing left to prune
	removed, err = engine.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("second PurgeExpired failed: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected clean second sweep, got %d", removed)
	}
}

func TestPurgeExpiredReportsRefreshBackend(t *testing.T) {
	mr, rdb := newTestRedis(t)

	ctx := context.Background()
	engine := newTestEngine(t, rdb, newMockDirectory())
	defer engine.Close()

	mr.Close()

	if _, err := engine.PurgeExpired(ctx); !errors.Is(err, ErrRefreshUnavailable) {
		t.Fatalf("expected ErrRefreshUnavailable when the backend is down, got %v", err)
	}
}
