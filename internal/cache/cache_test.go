package cache

import (
	"testing"
	"time"
)

func TestCacheRoundTrip(t *testing.T) {
	c := New[int](4, time.Minute)

	if _, ok := c.Get("missing"); ok {
		t.Fatal("empty cache should miss")
	}
	c.Set("a", 1)
	got, ok := c.Get("a")
	if !ok || got != 1 {
		t.Fatalf("Get(a) = %d, %v; want 1, true", got, ok)
	}
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("deleted key should miss")
	}
}

func TestCacheExpiry(t *testing.T) {
	c := New[string](4, 20*time.Millisecond)
	c.Set("k", "v")
	time.Sleep(50 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry should expire after the TTL")
	}
}

func TestInvalidatePrefix(t *testing.T) {
	c := New[int](8, time.Minute)
	c.Set("sheet-1/2024-01", 1)
	c.Set("sheet-1/2024-02", 2)
	c.Set("sheet-2/2024-01", 3)

	c.InvalidatePrefix("sheet-1/")

	if _, ok := c.Get("sheet-1/2024-01"); ok {
		t.Fatal("sheet-1 january should be invalidated")
	}
	if _, ok := c.Get("sheet-1/2024-02"); ok {
		t.Fatal("sheet-1 february should be invalidated")
	}
	if _, ok := c.Get("sheet-2/2024-01"); !ok {
		t.Fatal("sheet-2 must be untouched")
	}
}

func TestCacheEviction(t *testing.T) {
	c := New[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	if c.Size() > 2 {
		t.Fatalf("size = %d, want at most 2", c.Size())
	}
}
