package usertoken

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "user_tokens.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_CreateAndFetch(t *testing.T) {
	s := newTestStore(t)

	tok, err := s.Create(CreateOptions{Username: "alice", ExpiresType: "never"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tok.ExpiresAt != nil {
		t.Fatalf("expected nil expiry for \"never\", got %v", *tok.ExpiresAt)
	}

	byID, err := s.GetByID(tok.ID)
	if err != nil || byID == nil {
		t.Fatalf("GetByID: %v, %v", byID, err)
	}
	byValue, err := s.GetByValue(tok.Value)
	if err != nil || byValue == nil {
		t.Fatalf("GetByValue: %v, %v", byValue, err)
	}
	if byValue.Username != "alice" {
		t.Fatalf("got username %q, want alice", byValue.Username)
	}
}

func TestStore_GetByValue_NotFound(t *testing.T) {
	s := newTestStore(t)
	tok, err := s.GetByValue("sk-does-not-exist")
	if err != nil {
		t.Fatalf("GetByValue: %v", err)
	}
	if tok != nil {
		t.Fatalf("expected nil for unknown token, got %+v", tok)
	}
}

func TestStore_Validate_ExpiredToken(t *testing.T) {
	s := newTestStore(t)
	tok, _ := s.Create(CreateOptions{Username: "bob", ExpiresType: "day"})

	past := time.Now().Add(-time.Hour).Unix()
	if _, err := s.db.Exec(`UPDATE user_tokens SET expires_at = ? WHERE id = ?`, past, tok.ID); err != nil {
		t.Fatalf("failed to force expiry: %v", err)
	}

	ok, reason, err := s.Validate(tok.Value, "10.0.0.1")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if ok {
		t.Fatalf("expected expired token to be rejected")
	}
	if reason != rejectExpired {
		t.Fatalf("got reason %q, want %q", reason, rejectExpired)
	}
}

func TestStore_Validate_IPLimit(t *testing.T) {
	s := newTestStore(t)
	tok, _ := s.Create(CreateOptions{Username: "carol", ExpiresType: "never", MaxIPs: 1})

	ok, _, err := s.Validate(tok.Value, "10.0.0.1")
	if err != nil || !ok {
		t.Fatalf("first IP should be admitted: ok=%v err=%v", ok, err)
	}
	if err := s.RecordUsage(tok.ID, "10.0.0.1", "claude-sonnet-4-5", 10, 20, 200, "test-agent"); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	// Same IP should still be admitted even though max_ips is reached.
	ok, _, err = s.Validate(tok.Value, "10.0.0.1")
	if err != nil || !ok {
		t.Fatalf("already-bound IP should be admitted: ok=%v err=%v", ok, err)
	}

	// A second, new IP should be rejected once the binding count reaches max_ips.
	ok, reason, err := s.Validate(tok.Value, "10.0.0.2")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if ok {
		t.Fatalf("expected a new IP beyond max_ips to be rejected")
	}
	if reason == "" {
		t.Fatalf("expected a non-empty reject reason")
	}
}

func TestStore_RecordUsage_UpdatesTotals(t *testing.T) {
	s := newTestStore(t)
	tok, _ := s.Create(CreateOptions{Username: "dave", ExpiresType: "never"})

	if err := s.RecordUsage(tok.ID, "10.0.0.5", "gemini-3-flash", 100, 50, 200, "agent/1.0"); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	updated, err := s.GetByID(tok.ID)
	if err != nil || updated == nil {
		t.Fatalf("GetByID: %v, %v", updated, err)
	}
	if updated.TotalRequests != 1 {
		t.Fatalf("got TotalRequests %d, want 1", updated.TotalRequests)
	}
	if updated.TotalTokensUsed != 150 {
		t.Fatalf("got TotalTokensUsed %d, want 150", updated.TotalTokensUsed)
	}

	bindings, err := s.IPBindings(tok.ID)
	if err != nil {
		t.Fatalf("IPBindings: %v", err)
	}
	if len(bindings) != 1 || bindings[0].IPAddress != "10.0.0.5" {
		t.Fatalf("got bindings %+v, want one binding for 10.0.0.5", bindings)
	}

	username, err := s.UsernameForIP("10.0.0.5")
	if err != nil {
		t.Fatalf("UsernameForIP: %v", err)
	}
	if username != "dave" {
		t.Fatalf("got username %q, want dave", username)
	}
}

func TestInCurfew_Wraparound(t *testing.T) {
	ref := time.Date(2026, 1, 1, 23, 30, 0, 0, time.UTC)
	if !inCurfew("23:00", "06:00", ref) {
		t.Fatalf("expected 23:30 to fall within a 23:00-06:00 wraparound curfew")
	}

	ref2 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if inCurfew("23:00", "06:00", ref2) {
		t.Fatalf("expected noon to fall outside a 23:00-06:00 wraparound curfew")
	}
}

func TestInCurfew_NormalWindow(t *testing.T) {
	ref := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	if !inCurfew("09:00", "18:00", ref) {
		t.Fatalf("expected 10:00 to fall within a 09:00-18:00 curfew")
	}
	ref2 := time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)
	if inCurfew("09:00", "18:00", ref2) {
		t.Fatalf("expected 20:00 to fall outside a 09:00-18:00 curfew")
	}
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)
	tok, _ := s.Create(CreateOptions{Username: "erin", ExpiresType: "never"})

	if err := s.Delete(tok.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err := s.GetByID(tok.ID)
	if err != nil {
		t.Fatalf("GetByID after delete: %v", err)
	}
	if got != nil {
		t.Fatalf("expected token to be gone after delete, got %+v", got)
	}
}
