// Package format provides conversion between Anthropic and Google Generative AI formats.
package format

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/poemonsense/antigravity-proxy-go/internal/config"
	"github.com/poemonsense/antigravity-proxy-go/pkg/redis"
)

// SignatureCache caches Gemini thoughtSignatures for tool calls and thinking
// blocks, and tracks the latest signature observed per session so a client
// rewind (editing history and resubmitting an earlier turn) can be told apart
// from ordinary forward progress.
//
// Three tables, matching the three signature cache keys the upstream protocol
// cares about:
//   - tool_id -> signature            (bound SignatureCacheToolBound)
//   - signature -> model family       (bound SignatureCacheFamilyBound)
//   - session_id -> {signature, message_count} (bound SignatureCacheSessionBound)
//
// Redis backs all three when available; an in-memory, bounded LRU map is the
// fallback, matching the pattern already used by credentials.go for the
// access-token cache.
type SignatureCache struct {
	mu            sync.RWMutex
	redisClient   *redis.Client
	useRedis      bool
	memoryCache   *boundedCache[*signatureEntry]
	thinkingCache *boundedCache[*thinkingEntry]
	sessionCache  *boundedCache[*sessionEntry]
}

type signatureEntry struct {
	Signature string
	Timestamp time.Time
}

type thinkingEntry struct {
	ModelFamily string
	Timestamp   time.Time
}

type sessionEntry struct {
	Signature    string
	MessageCount int
	Timestamp    time.Time
}

// boundedCache is a minimal LRU map: bounded size, eviction of the
// least-recently-inserted/touched key once the bound is exceeded.
type boundedCache[V any] struct {
	bound   int
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

type cacheNode[V any] struct {
	key   string
	value V
}

func newBoundedCache[V any](bound int) *boundedCache[V] {
	return &boundedCache[V]{
		bound:   bound,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (b *boundedCache[V]) get(key string) (V, bool) {
	var zero V
	el, ok := b.entries[key]
	if !ok {
		return zero, false
	}
	b.order.MoveToFront(el)
	return el.Value.(*cacheNode[V]).value, true
}

func (b *boundedCache[V]) set(key string, value V) {
	if el, ok := b.entries[key]; ok {
		el.Value.(*cacheNode[V]).value = value
		b.order.MoveToFront(el)
		return
	}
	el := b.order.PushFront(&cacheNode[V]{key: key, value: value})
	b.entries[key] = el
	if b.bound > 0 && b.order.Len() > b.bound {
		oldest := b.order.Back()
		if oldest != nil {
			b.order.Remove(oldest)
			delete(b.entries, oldest.Value.(*cacheNode[V]).key)
		}
	}
}

func (b *boundedCache[V]) delete(key string) {
	if el, ok := b.entries[key]; ok {
		b.order.Remove(el)
		delete(b.entries, key)
	}
}

func (b *boundedCache[V]) reset() {
	b.entries = make(map[string]*list.Element)
	b.order = list.New()
}

// NewSignatureCache creates a new SignatureCache
func NewSignatureCache(redisClient *redis.Client) *SignatureCache {
	return &SignatureCache{
		redisClient:   redisClient,
		useRedis:      redisClient != nil,
		memoryCache:   newBoundedCache[*signatureEntry](config.SignatureCacheToolBound),
		thinkingCache: newBoundedCache[*thinkingEntry](config.SignatureCacheFamilyBound),
		sessionCache:  newBoundedCache[*sessionEntry](config.SignatureCacheSessionBound),
	}
}

// CacheSignature stores a signature for a tool_use_id
func (c *SignatureCache) CacheSignature(toolUseID, signature string) {
	if toolUseID == "" || signature == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.useRedis {
		ctx := context.Background()
		_ = c.redisClient.SetSignature(ctx, toolUseID, signature, config.SignatureCacheTTL)
		return
	}

	c.memoryCache.set(toolUseID, &signatureEntry{Signature: signature, Timestamp: time.Now()})
}

// GetCachedSignature retrieves a cached signature for a tool_use_id
func (c *SignatureCache) GetCachedSignature(toolUseID string) string {
	if toolUseID == "" {
		return ""
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.useRedis {
		ctx := context.Background()
		signature, err := c.redisClient.GetSignature(ctx, toolUseID)
		if err != nil || signature == "" {
			return ""
		}
		return signature
	}

	entry, ok := c.memoryCache.get(toolUseID)
	if !ok {
		return ""
	}
	if time.Since(entry.Timestamp) > config.SignatureCacheTTL {
		c.memoryCache.delete(toolUseID)
		return ""
	}
	return entry.Signature
}

// CacheThinkingSignature caches a thinking block signature with its model family
func (c *SignatureCache) CacheThinkingSignature(signature, modelFamily string) {
	if signature == "" || len(signature) < config.MinSignatureLength {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.useRedis {
		ctx := context.Background()
		_ = c.redisClient.SetThinkingSignature(ctx, signature, modelFamily, config.SignatureCacheTTL)
		return
	}

	c.thinkingCache.set(signature, &thinkingEntry{ModelFamily: modelFamily, Timestamp: time.Now()})
}

// GetCachedSignatureFamily returns the cached model family for a thinking signature
func (c *SignatureCache) GetCachedSignatureFamily(signature string) string {
	if signature == "" {
		return ""
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.useRedis {
		ctx := context.Background()
		family, err := c.redisClient.GetThinkingSignature(ctx, signature)
		if err != nil || family == "" {
			return ""
		}
		return family
	}

	entry, ok := c.thinkingCache.get(signature)
	if !ok {
		return ""
	}
	if time.Since(entry.Timestamp) > config.SignatureCacheTTL {
		c.thinkingCache.delete(signature)
		return ""
	}
	return entry.ModelFamily
}

// ClearThinkingSignatureCache clears all entries from the thinking signature cache
func (c *SignatureCache) ClearThinkingSignatureCache() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Redis entries auto-expire via TTL; the in-memory table is cleared
	// eagerly so tests can assert a clean slate between scenarios.
	c.thinkingCache.reset()
}

// SessionSignatureUpdate is the before/after rewind decision made by
// RecordSessionSignature, surfaced for logging and tests.
type SessionSignatureUpdate struct {
	Stored       bool // true if the new value was written
	RewindFound  bool // message_count went backwards relative to what was cached
	PriorCount   int
	PriorLength  int
}

// RecordSessionSignature applies the rewind-overwrite decision table for the
// session_id -> {signature, message_count} table:
//
//   - no prior entry                          -> always write
//   - new.message_count <  stored.message_count -> rewind detected, overwrite
//   - new.message_count == stored.message_count -> overwrite only if the new
//     signature is longer (a richer signature for the same turn supersedes
//     a truncated one)
//   - new.message_count >  stored.message_count -> ordinary advance, overwrite
func (c *SignatureCache) RecordSessionSignature(sessionID, signature string, messageCount int) SessionSignatureUpdate {
	if sessionID == "" || signature == "" {
		return SessionSignatureUpdate{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	priorSig, priorCount, ok := c.getSessionLocked(sessionID)
	if !ok {
		c.setSessionLocked(sessionID, signature, messageCount)
		return SessionSignatureUpdate{Stored: true}
	}

	update := SessionSignatureUpdate{PriorCount: priorCount, PriorLength: len(priorSig)}
	switch {
	case messageCount < priorCount:
		update.RewindFound = true
		update.Stored = true
	case messageCount == priorCount:
		update.Stored = len(signature) > len(priorSig)
	default:
		update.Stored = true
	}

	if update.Stored {
		c.setSessionLocked(sessionID, signature, messageCount)
	}
	return update
}

// GetSessionSignature returns the cached signature and message count for a session.
func (c *SignatureCache) GetSessionSignature(sessionID string) (signature string, messageCount int, ok bool) {
	if sessionID == "" {
		return "", 0, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.getSessionLocked(sessionID)
}

func (c *SignatureCache) getSessionLocked(sessionID string) (string, int, bool) {
	if c.useRedis {
		ctx := context.Background()
		sig, count, err := c.redisClient.GetSessionSignature(ctx, sessionID)
		if err != nil || sig == "" {
			return "", 0, false
		}
		return sig, count, true
	}

	entry, ok := c.sessionCache.get(sessionID)
	if !ok {
		return "", 0, false
	}
	if time.Since(entry.Timestamp) > config.SignatureCacheTTL {
		c.sessionCache.delete(sessionID)
		return "", 0, false
	}
	return entry.Signature, entry.MessageCount, true
}

func (c *SignatureCache) setSessionLocked(sessionID, signature string, messageCount int) {
	if c.useRedis {
		ctx := context.Background()
		_ = c.redisClient.SetSessionSignature(ctx, sessionID, signature, messageCount, config.SignatureCacheTTL)
		return
	}
	c.sessionCache.set(sessionID, &sessionEntry{Signature: signature, MessageCount: messageCount, Timestamp: time.Now()})
}

// Global instance for convenience
var globalSignatureCache *SignatureCache
var signatureCacheOnce sync.Once

// InitGlobalSignatureCache initializes the global signature cache
func InitGlobalSignatureCache(redisClient *redis.Client) {
	signatureCacheOnce.Do(func() {
		globalSignatureCache = NewSignatureCache(redisClient)
	})
}

// GetGlobalSignatureCache returns the global signature cache instance
func GetGlobalSignatureCache() *SignatureCache {
	if globalSignatureCache == nil {
		// Fallback to memory-only cache if not initialized
		globalSignatureCache = NewSignatureCache(nil)
	}
	return globalSignatureCache
}

// ClearThinkingSignatureCache clears the global thinking signature cache
func ClearThinkingSignatureCache() {
	GetGlobalSignatureCache().ClearThinkingSignatureCache()
}
