package httputil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCacheGetSet(t *testing.T) {
	c, err := NewCache(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("NewCache() error: %v", err)
	}

	want := map[string]string{"name": "left-pad", "version": "1.3.0"}
	if err := c.Set("npm:left-pad", want); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	got := map[string]string{}
	ok, err := c.Get("npm:left-pad", &got)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !ok {
		t.Fatal("Get() = miss, want hit")
	}
	if got["version"] != "1.3.0" {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCacheMiss(t *testing.T) {
	c, _ := NewCache(t.TempDir(), time.Hour)

	var v string
	ok, err := c.Get("absent", &v)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if ok {
		t.Error("Get() = hit for absent key")
	}
}

func TestCacheExpiry(t *testing.T) {
	dir := t.TempDir()
	c, _ := NewCache(dir, time.Minute)

	if err := c.Set("stale", "data"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	// Age the entry past its TTL.
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected 1 cache file, got %d", len(entries))
	}
	old := time.Now().Add(-2 * time.Minute)
	if err := os.Chtimes(filepath.Join(dir, entries[0].Name()), old, old); err != nil {
		t.Fatal(err)
	}

	var v string
	ok, err := c.Get("stale", &v)
	if ok {
		t.Error("Get() = hit for expired entry")
	}
	if !errors.Is(err, ErrExpired) {
		t.Errorf("error = %v, want ErrExpired", err)
	}
}

func TestCacheZeroTTLNeverExpires(t *testing.T) {
	dir := t.TempDir()
	c, _ := NewCache(dir, 0)

	_ = c.Set("keep", 42)
	entries, _ := os.ReadDir(dir)
	old := time.Now().Add(-24 * time.Hour)
	_ = os.Chtimes(filepath.Join(dir, entries[0].Name()), old, old)

	var v int
	ok, err := c.Get("keep", &v)
	if err != nil || !ok {
		t.Fatalf("Get() = (%v, %v), want hit", ok, err)
	}
	if v != 42 {
		t.Errorf("v = %d, want 42", v)
	}
}

func TestCacheNamespace(t *testing.T) {
	c, _ := NewCache(t.TempDir(), time.Hour)
	manifests := c.Namespace("manifest:")
	packuments := c.Namespace("packument:")

	_ = manifests.Set("foo", "m")
	_ = packuments.Set("foo", "p")

	var v string
	if ok, _ := manifests.Get("foo", &v); !ok || v != "m" {
		t.Errorf("manifest namespace = (%v, %q), want (true, m)", ok, v)
	}
	if ok, _ := packuments.Get("foo", &v); !ok || v != "p" {
		t.Errorf("packument namespace = (%v, %q), want (true, p)", ok, v)
	}
}
