package format

import (
	"strings"
	"sync"
	"testing"

	"github.com/poemonsense/antigravity-proxy-go/internal/config"
)

func longSig(tag string) string {
	return strings.Repeat("a", config.MinSignatureLength) + tag
}

func TestSignatureCache_ToolSignatureRoundTrip(t *testing.T) {
	c := NewSignatureCache(nil)

	if got := c.GetCachedSignature("tool-1"); got != "" {
		t.Fatalf("expected empty signature before caching, got %q", got)
	}

	c.CacheSignature("tool-1", "sig-abc")
	if got := c.GetCachedSignature("tool-1"); got != "sig-abc" {
		t.Fatalf("got %q, want sig-abc", got)
	}

	// Empty key/value writes are no-ops.
	c.CacheSignature("", "sig-xyz")
	c.CacheSignature("tool-2", "")
	if got := c.GetCachedSignature("tool-2"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestSignatureCache_ThinkingFamilyMinLength(t *testing.T) {
	c := NewSignatureCache(nil)

	short := "short-sig"
	c.CacheThinkingSignature(short, "claude")
	if got := c.GetCachedSignatureFamily(short); got != "" {
		t.Fatalf("short signature below MinSignatureLength should not be cached, got %q", got)
	}

	full := longSig("-1")
	c.CacheThinkingSignature(full, "claude")
	if got := c.GetCachedSignatureFamily(full); got != "claude" {
		t.Fatalf("got %q, want claude", got)
	}
}

func TestSignatureCache_ToolBoundEvictsOldest(t *testing.T) {
	c := NewSignatureCache(nil)

	for i := 0; i < config.SignatureCacheToolBound+10; i++ {
		c.CacheSignature(string(rune('a'+i%26))+string(rune(i)), "sig")
	}
	if got := len(c.memoryCache.entries); got > config.SignatureCacheToolBound {
		t.Fatalf("tool cache exceeded bound: %d > %d", got, config.SignatureCacheToolBound)
	}
}

// TestSignatureCache_SessionRewindDetection exercises the rewind-overwrite
// decision table: a session whose message_count goes backwards relative to
// the cached value is a rewind and always overwrites.
func TestSignatureCache_SessionRewindDetection(t *testing.T) {
	c := NewSignatureCache(nil)

	upd := c.RecordSessionSignature("sess-1", longSig("-first"), 5)
	if !upd.Stored || upd.RewindFound {
		t.Fatalf("first write should store without rewind, got %+v", upd)
	}

	// Advance: higher message_count always overwrites.
	upd = c.RecordSessionSignature("sess-1", longSig("-second"), 8)
	if !upd.Stored || upd.RewindFound {
		t.Fatalf("advance should store without rewind, got %+v", upd)
	}

	// Rewind: lower message_count than what is cached (client edited
	// history and resubmitted an earlier turn).
	upd = c.RecordSessionSignature("sess-1", longSig("-rewind"), 3)
	if !upd.Stored || !upd.RewindFound {
		t.Fatalf("lower message_count should be flagged as rewind and stored, got %+v", upd)
	}
	sig, count, ok := c.GetSessionSignature("sess-1")
	if !ok || count != 3 || sig != longSig("-rewind") {
		t.Fatalf("rewind value not persisted: sig=%q count=%d ok=%v", sig, count, ok)
	}
}

// TestSignatureCache_SessionTieBreaksOnLength covers the equal-message_count
// branch: only a strictly longer signature for the same turn supersedes the
// cached one.
func TestSignatureCache_SessionTieBreaksOnLength(t *testing.T) {
	c := NewSignatureCache(nil)

	c.RecordSessionSignature("sess-2", longSig("-short"), 4)

	// Same message_count, shorter signature: must not overwrite.
	upd := c.RecordSessionSignature("sess-2", longSig(""), 4)
	if upd.Stored {
		t.Fatalf("shorter same-count signature should not overwrite, got %+v", upd)
	}

	// Same message_count, strictly longer signature: must overwrite.
	longer := longSig("-much-longer-signature-body")
	upd = c.RecordSessionSignature("sess-2", longer, 4)
	if !upd.Stored {
		t.Fatalf("longer same-count signature should overwrite, got %+v", upd)
	}
	sig, count, ok := c.GetSessionSignature("sess-2")
	if !ok || sig != longer || count != 4 {
		t.Fatalf("unexpected session state: sig=%q count=%d ok=%v", sig, count, ok)
	}
}

func TestSignatureCache_SessionBoundEvictsOldest(t *testing.T) {
	c := NewSignatureCache(nil)

	for i := 0; i < config.SignatureCacheSessionBound+25; i++ {
		c.RecordSessionSignature(string(rune(i)), longSig("-x"), i)
	}
	if got := len(c.sessionCache.entries); got > config.SignatureCacheSessionBound {
		t.Fatalf("session cache exceeded bound: %d > %d", got, config.SignatureCacheSessionBound)
	}
}

func TestGlobalSignatureCache_LazyInit(t *testing.T) {
	globalSignatureCache = nil
	signatureCacheOnce = sync.Once{}

	c := GetGlobalSignatureCache()
	if c == nil {
		t.Fatal("expected a non-nil global cache")
	}
	c.CacheSignature("tool-x", "val")
	if got := GetGlobalSignatureCache().GetCachedSignature("tool-x"); got != "val" {
		t.Fatalf("got %q, want val", got)
	}
}
