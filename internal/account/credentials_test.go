package account

import (
	"context"
	"sync"
	"testing"

	"github.com/poemonsense/antigravity-proxy-go/pkg/redis"
)

func TestGetAccessToken_ManualAccountReturnsAPIKey(t *testing.T) {
	c := NewCredentials(nil)
	acc := &redis.Account{Email: "a@example.com", Source: "manual", APIKey: "key-123"}

	token, err := c.GetAccessToken(context.Background(), acc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "key-123" {
		t.Fatalf("got %q, want key-123", token)
	}
}

func TestGetAccessToken_CachesAcrossCalls(t *testing.T) {
	c := NewCredentials(nil)
	acc := &redis.Account{Email: "b@example.com", Source: "manual", APIKey: "key-456"}

	if _, err := c.GetAccessToken(context.Background(), acc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.mu.RLock()
	_, cached := c.tokenCache["b@example.com"]
	c.mu.RUnlock()
	if !cached {
		t.Fatal("expected token to be cached after first fetch")
	}
}

// TestGetAccessToken_ConcurrentCallsShareOneRefresh exercises the
// refreshGroup dedup path: a burst of concurrent callers for the same
// account, all missing the cache, must all still resolve successfully to
// the same token.
func TestGetAccessToken_ConcurrentCallsShareOneRefresh(t *testing.T) {
	c := NewCredentials(nil)
	acc := &redis.Account{Email: "c@example.com", Source: "manual", APIKey: "key-789"}

	const n = 20
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetAccessToken(context.Background(), acc)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("call %d: unexpected error: %v", i, errs[i])
		}
		if results[i] != "key-789" {
			t.Fatalf("call %d: got %q, want key-789", i, results[i])
		}
	}
}

func TestGetAccessToken_ManualAccountMissingAPIKeyErrors(t *testing.T) {
	c := NewCredentials(nil)
	acc := &redis.Account{Email: "d@example.com", Source: "manual"}

	if _, err := c.GetAccessToken(context.Background(), acc); err == nil {
		t.Fatal("expected error for manual account with no API key")
	}
}

func TestGetAccessToken_NilAccountErrors(t *testing.T) {
	c := NewCredentials(nil)
	if _, err := c.GetAccessToken(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil account")
	}
}
