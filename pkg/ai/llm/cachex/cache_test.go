package cachex

import (
	"context"
	"testing"
	"time"
)

func TestRememberThenRecall(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	err := c.Remember(ctx, "conv1", "search", map[string]any{"q": "golang"}, Entry{
		Summary: "✅ search (q=golang): 3 results",
		RawText: "result one\nresult two\nresult three",
	})
	if err != nil {
		t.Fatalf("remember: %v", err)
	}

	entry, err := c.Recall(ctx, "conv1", "search", map[string]any{"q": "golang"})
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if entry == nil {
		t.Fatal("expected cache hit")
	}
	if entry.Summary != "✅ search (q=golang): 3 results" {
		t.Errorf("summary = %q", entry.Summary)
	}
}

func TestRecallMiss(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	entry, err := c.Recall(ctx, "conv1", "search", map[string]any{"q": "golang"})
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if entry != nil {
		t.Errorf("expected miss, got %+v", entry)
	}
}

func TestKeyOrderIndependence(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	args1 := map[string]any{"a": 1, "b": "x", "nested": map[string]any{"y": 2, "z": 3}}
	args2 := map[string]any{"nested": map[string]any{"z": 3, "y": 2}, "b": "x", "a": 1}
	if CacheKey("tool", args1) != CacheKey("tool", args2) {
		t.Fatalf("keys differ: %q vs %q", CacheKey("tool", args1), CacheKey("tool", args2))
	}

	if err := c.Remember(ctx, "conv1", "tool", args1, Entry{Summary: "s"}); err != nil {
		t.Fatalf("remember: %v", err)
	}
	entry, err := c.Recall(ctx, "conv1", "tool", args2)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if entry == nil {
		t.Fatal("reordered arguments must hit the same entry")
	}
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	c := NewMemoryCache(WithClock(func() time.Time { return now }))

	if err := c.Remember(ctx, "conv1", "search", map[string]any{"q": "a"}, Entry{Summary: "s"}); err != nil {
		t.Fatalf("remember: %v", err)
	}

	now = now.Add(119 * time.Second)
	entry, _ := c.Recall(ctx, "conv1", "search", map[string]any{"q": "a"})
	if entry == nil {
		t.Fatal("entry expired before its TTL")
	}

	now = now.Add(2 * time.Second)
	entry, _ = c.Recall(ctx, "conv1", "search", map[string]any{"q": "a"})
	if entry != nil {
		t.Fatal("entry survived past its TTL")
	}
}

func TestLazyPruneDropsAllExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	c := NewMemoryCache(WithClock(func() time.Time { return now }))

	c.Remember(ctx, "conv1", "a", nil, Entry{Summary: "a"})
	c.Remember(ctx, "conv1", "b", nil, Entry{Summary: "b"})

	now = now.Add(DefaultTTL + time.Second)
	c.Remember(ctx, "conv1", "c", nil, Entry{Summary: "c"})

	// Recalling any key prunes every expired sibling in the bucket.
	if entry, _ := c.Recall(ctx, "conv1", "a", nil); entry != nil {
		t.Error("expired entry a still present")
	}
	if entry, _ := c.Recall(ctx, "conv1", "b", nil); entry != nil {
		t.Error("expired entry b still present")
	}
	if entry, _ := c.Recall(ctx, "conv1", "c", nil); entry == nil {
		t.Error("live entry c was pruned")
	}
}

func TestOverwriteRefreshesEntry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	c.Remember(ctx, "conv1", "search", map[string]any{"q": "a"}, Entry{Summary: "old"})
	c.Remember(ctx, "conv1", "search", map[string]any{"q": "a"}, Entry{Summary: "new"})

	entry, _ := c.Recall(ctx, "conv1", "search", map[string]any{"q": "a"})
	if entry == nil || entry.Summary != "new" {
		t.Fatalf("expected overwrite, got %+v", entry)
	}
}

func TestClearDropsBucket(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	c.Remember(ctx, "conv1", "search", nil, Entry{Summary: "s"})
	c.Remember(ctx, "conv2", "search", nil, Entry{Summary: "s"})

	if err := c.Clear(ctx, "conv1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if entry, _ := c.Recall(ctx, "conv1", "search", nil); entry != nil {
		t.Error("cleared conversation still has entries")
	}
	if entry, _ := c.Recall(ctx, "conv2", "search", nil); entry == nil {
		t.Error("clear leaked into another conversation")
	}
}

func TestBucketsIsolatedByConversation(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	c.Remember(ctx, "conv1", "search", map[string]any{"q": "a"}, Entry{Summary: "one"})
	if entry, _ := c.Recall(ctx, "conv2", "search", map[string]any{"q": "a"}); entry != nil {
		t.Error("entry visible across conversations")
	}
}
