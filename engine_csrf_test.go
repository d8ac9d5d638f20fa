package marketauth

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestCSRFTokenSingleUse(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	engine := newTestEngine(t, rdb, newMockDirectory())
	defer engine.Close()

	tok, err := engine.GenerateCSRFToken(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GenerateCSRFToken failed: %v", err)
	}
	if tok.Token == "" {
		t.Fatal("expected non-empty token")
	}
	if !tok.ExpiresAt.After(time.Now()) {
		t.Fatalf("expected future expiry, got %v", tok.ExpiresAt)
	}

	ok, err := engine.ValidateCSRFToken(ctx, tok.Token, "sess-1")
	if err != nil || !ok {
		t.Fatalf("expected first validation to pass, ok=%v err=%v", ok, err)
	}
	ok, err = engine.ValidateCSRFToken(ctx, tok.Token, "sess-1")
	if err != nil {
		t.Fatalf("second validation errored: %v", err)
	}
	if ok {
		t.Fatal("expected second validation to fail")
	}
}

func TestCSRFTokenWrongSessionLeavesTokenUsable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	engine := newTestEngine(t, rdb, newMockDirectory())
	defer engine.Close()

	tok, err := engine.GenerateCSRFToken(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GenerateCSRFToken failed: %v", err)
	}

	ok, err := engine.ValidateCSRFToken(ctx, tok.Token, "sess-2")
	if err != nil {
		t.Fatalf("validation errored: %v", err)
	}
	if ok {
		t.Fatal("expected mismatched session to fail")
	}

	// the mismatch must not have burned the token for the real session
	ok, err = engine.ValidateCSRFToken(ctx, tok.Token, "sess-1")
	if err != nil || !ok {
		t.Fatalf("expected token still valid for its session, ok=%v err=%v", ok, err)
	}
}

func TestCSRFTokenConcurrentValidateSingleWinner(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	engine := newTestEngine(t, rdb, newMockDirectory())
	defer engine.Close()

	tok, err := engine.GenerateCSRFToken(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GenerateCSRFToken failed: %v", err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan bool, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := engine.ValidateCSRFToken(ctx, tok.Token, "sess-1")
			if err != nil {
				t.Errorf("validation errored: %v", err)
				return
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning validation, got %d", wins)
	}
}

func TestCSRFTokenExpires(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	engine := newTestEngine(t, rdb, newMockDirectory())
	defer engine.Close()

	tok, err := engine.GenerateCSRFToken(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GenerateCSRFToken failed: %v", err)
	}

	mr.FastForward(61 * time.Minute)

	ok, err := engine.ValidateCSRFToken(ctx, tok.Token, "sess-1")
	if err != nil {
		t.Fatalf("validation errored: %v", err)
	}
	if ok {
		t.Fatal("expected expired token to fail")
	}
}

func TestCSRFTokenInputValidation(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	engine := newTestEngine(t, rdb, newMockDirectory())
	defer engine.Close()

	if _, err := engine.GenerateCSRFToken(ctx, ""); err != ErrValidation {
		t.Fatalf("expected ErrValidation for empty session, got %v", err)
	}
	if ok, err := engine.ValidateCSRFToken(ctx, "", "sess-1"); ok || err != nil {
		t.Fatalf("expected empty token to fail closed, ok=%v err=%v", ok, err)
	}
	if ok, err := engine.ValidateCSRFToken(ctx, "tok", ""); ok || err != nil {
		t.Fatalf("expected empty session to fail closed, ok=%v err=%v", ok, err)
	}
}
