package filecache

import (
	"bytes"
	"testing"

	kit "pricewatch/internal/platform/testkit"
)

func newCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewRejectsEmptyRoot(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error")
	}
}

func TestPutHasGet(t *testing.T) {
	c := newCache(t)
	payload := []byte("gz bytes")

	if c.Has(123, "PriceFull123-0012025010108.gz") {
		t.Fatal("Has before Put")
	}
	if err := c.Put(123, "PriceFull123-0012025010108.gz", payload); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !c.Has(123, "PriceFull123-0012025010108.gz") {
		t.Fatal("Has after Put")
	}

	got, err := c.Get(123, "PriceFull123-0012025010108.gz")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Get = %q", got)
	}
}

func TestGetMissing(t *testing.T) {
	c := newCache(t)
	if _, err := c.Get(123, "nope.gz"); err == nil {
		t.Fatal("expected error")
	}
}

func TestFilesFiltersAndSorts(t *testing.T) {
	c := newCache(t)
	for _, name := range []string{
		"PriceFull123-002.gz",
		"PriceFull123-001.gz",
		"Stores123.gz",
	} {
		if err := c.Put(123, name, []byte("x")); err != nil {
			t.Fatalf("Put %s: %v", name, err)
		}
	}
	// a torn write must not show up in listings
	dir, err := c.Dir(123)
	if err != nil {
		t.Fatalf("Dir: %v", err)
	}
	kit.WriteFile(t, dir, "PriceFull123-003.gz.part", []byte("x"))

	got, err := c.Files(123, "PriceFull")
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	want := []string{"PriceFull123-001.gz", "PriceFull123-002.gz"}
	if len(got) != len(want) {
		t.Fatalf("Files = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Files = %v, want %v", got, want)
		}
	}
}

func TestChainsAreIsolated(t *testing.T) {
	c := newCache(t)
	if err := c.Put(123, "a.gz", []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if c.Has(456, "a.gz") {
		t.Fatal("payload leaked across chains")
	}
}

func TestSafeNameStripsPathSegments(t *testing.T) {
	c := newCache(t)
	if err := c.Put(123, "../../evil.gz", []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !c.Has(123, "evil.gz") {
		t.Fatal("traversal name was not flattened")
	}
}
