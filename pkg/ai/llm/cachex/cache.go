// Package cachex caches tool execution results per conversation so repeated
// identical tool calls within a short window are answered without hitting
// the tool server again.
package cachex

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultTTL is how long a cached tool result stays valid.
const DefaultTTL = 120 * time.Second

// Entry is one stored tool result.
type Entry struct {
	Summary  string    `json:"summary"`
	RawText  string    `json:"raw_text"`
	IsError  bool      `json:"is_error"`
	StoredAt time.Time `json:"stored_at"`
}

// Cache stores tool results keyed by (toolName, args) inside a per
// conversation bucket.
type Cache interface {
	Remember(ctx context.Context, conversationID, toolName string, args map[string]any, entry Entry) error
	Recall(ctx context.Context, conversationID, toolName string, args map[string]any) (*Entry, error)
	Clear(ctx context.Context, conversationID string) error
}

// CacheKey builds the lookup key for a tool call. Argument keys are sorted
// before serialization so key ordering in the incoming map cannot split the
// cache.
func CacheKey(toolName string, args map[string]any) string {
	return toolName + ":" + stableStringify(args)
}

// stableStringify renders a value as deterministic JSON with sorted object
// keys at every depth.
func stableStringify(v any) string {
	var b strings.Builder
	writeStable(&b, v)
	return b.String()
}

func writeStable(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("{")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(",")
			}
			kb, _ := json.Marshal(k)
			b.Write(kb)
			b.WriteString(":")
			writeStable(b, val[k])
		}
		b.WriteString("}")
	case []any:
		b.WriteString("[")
		for i, item := range val {
			if i > 0 {
				b.WriteString(",")
			}
			writeStable(b, item)
		}
		b.WriteString("]")
	default:
		enc, err := json.Marshal(val)
		if err != nil {
			fmt.Fprintf(b, "%q", fmt.Sprintf("%v", val))
			return
		}
		b.Write(enc)
	}
}

// ============================================================================
// In-memory backend
// ============================================================================

// MemoryCache is the in-process Cache backend. Expired entries are pruned
// lazily on Recall.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	buckets map[string]map[string]Entry
}

// MemoryCacheOption configures a MemoryCache.
type MemoryCacheOption func(*MemoryCache)

// WithTTL overrides the default entry lifetime.
func WithTTL(ttl time.Duration) MemoryCacheOption {
	return func(c *MemoryCache) {
		c.ttl = ttl
	}
}

// WithClock injects a time source. Tests use this to step past the TTL.
func WithClock(now func() time.Time) MemoryCacheOption {
	return func(c *MemoryCache) {
		c.now = now
	}
}

// NewMemoryCache creates an in-memory cache with the default TTL.
func NewMemoryCache(opts ...MemoryCacheOption) *MemoryCache {
	c := &MemoryCache{
		ttl:     DefaultTTL,
		now:     time.Now,
		buckets: make(map[string]map[string]Entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Remember stores or overwrites the entry for (toolName, args) in the
// conversation's bucket.
func (c *MemoryCache) Remember(ctx context.Context, conversationID, toolName string, args map[string]any, entry Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	bucket, ok := c.buckets[conversationID]
	if !ok {
		bucket = make(map[string]Entry)
		c.buckets[conversationID] = bucket
	}
	entry.StoredAt = c.now()
	bucket[CacheKey(toolName, args)] = entry
	return nil
}

// Recall returns the live entry for (toolName, args), pruning every expired
// entry in the bucket along the way. A miss returns (nil, nil).
func (c *MemoryCache) Recall(ctx context.Context, conversationID, toolName string, args map[string]any) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bucket, ok := c.buckets[conversationID]
	if !ok {
		return nil, nil
	}

	now := c.now()
	for key, e := range bucket {
		if now.Sub(e.StoredAt) > c.ttl {
			delete(bucket, key)
		}
	}
	if len(bucket) == 0 {
		delete(c.buckets, conversationID)
		return nil, nil
	}

	if e, ok := bucket[CacheKey(toolName, args)]; ok {
		return &e, nil
	}
	return nil, nil
}

// Clear drops the conversation's whole bucket.
func (c *MemoryCache) Clear(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.buckets, conversationID)
	return nil
}
