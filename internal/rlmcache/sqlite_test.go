package rlmcache

import (
	"testing"
	"time"
)

func TestCacheGetSet(t *testing.T) {
	c, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer c.Close()

	if _, ok := c.Get("fp1"); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Set("fp1", "result-1")

	v, ok := c.Get("fp1")
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if v != "result-1" {
		t.Errorf("expected 'result-1', got %q", v)
	}
}

func TestCacheLastWriterWins(t *testing.T) {
	c, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer c.Close()

	c.Set("fp1", "first")
	c.Set("fp1", "second")

	v, ok := c.Get("fp1")
	if !ok || v != "second" {
		t.Errorf("expected 'second', got %q (ok=%v)", v, ok)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c, err := Open(":memory:", WithTTL(10*time.Millisecond))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer c.Close()

	c.Set("fp1", "value")

	if _, ok := c.Get("fp1"); !ok {
		t.Fatal("expected hit immediately after Set")
	}

	time.Sleep(30 * time.Millisecond)

	if _, ok := c.Get("fp1"); ok {
		t.Fatal("expected miss after TTL expiry")
	}
}

func TestCacheMaxRowsEviction(t *testing.T) {
	c, err := Open(":memory:", WithMaxRows(2))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer c.Close()

	c.Set("fp1", "v1")
	time.Sleep(2 * time.Millisecond)
	c.Set("fp2", "v2")
	time.Sleep(2 * time.Millisecond)
	c.Set("fp3", "v3")

	if _, ok := c.Get("fp1"); ok {
		t.Error("expected fp1 to have been evicted as the oldest entry")
	}
	if _, ok := c.Get("fp2"); !ok {
		t.Error("expected fp2 to still be present")
	}
	if _, ok := c.Get("fp3"); !ok {
		t.Error("expected fp3 to still be present")
	}
}
