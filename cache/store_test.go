package cache

import (
	"path/filepath"
	"sort"
	"testing"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	return map[string]Store{
		"memory": NewMemStore(),
		"sqlite": sqlite,
	}
}

func TestOpenPutMatch(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			bucket, err := store.Open("v1")
			if err != nil {
				t.Fatal(err)
			}
			if _, ok, err := bucket.Match("GET:/style.css"); err != nil || ok {
				t.Fatalf("unexpected match in empty bucket: ok=%v err=%v", ok, err)
			}
			if err := bucket.Put("GET:/style.css", []byte("response")); err != nil {
				t.Fatal(err)
			}
			b, ok, err := bucket.Match("GET:/style.css")
			if err != nil || !ok {
				t.Fatalf("expected match: ok=%v err=%v", ok, err)
			}
			if string(b) != "response" {
				t.Fatalf("stored bytes are %s", b)
			}
		})
	}
}

func TestPutIsLastWriteWins(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			bucket, _ := store.Open("v1")
			bucket.Put("key", []byte("first"))
			bucket.Put("key", []byte("second"))
			b, ok, err := bucket.Match("key")
			if err != nil || !ok {
				t.Fatalf("expected match: ok=%v err=%v", ok, err)
			}
			if string(b) != "second" {
				t.Fatalf("stored bytes are %s", b)
			}
		})
	}
}

func TestOpenExistingKeepsEntries(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			bucket, _ := store.Open("v1")
			bucket.Put("key", []byte("value"))
			reopened, err := store.Open("v1")
			if err != nil {
				t.Fatal(err)
			}
			if _, ok, _ := reopened.Match("key"); !ok {
				t.Fatal("entry lost on reopen")
			}
		})
	}
}

func TestNamesListsEmptyBuckets(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			store.Open("v1")
			store.Open("v2")
			names, err := store.Names()
			if err != nil {
				t.Fatal(err)
			}
			sort.Strings(names)
			if len(names) != 2 || names[0] != "v1" || names[1] != "v2" {
				t.Fatalf("bucket names are %v", names)
			}
		})
	}
}

func TestDeleteRemovesBucketAndEntries(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			bucket, _ := store.Open("v1")
			bucket.Put("key", []byte("value"))
			if err := store.Delete("v1"); err != nil {
				t.Fatal(err)
			}
			names, _ := store.Names()
			if len(names) != 0 {
				t.Fatalf("bucket names are %v", names)
			}
			recreated, _ := store.Open("v1")
			if _, ok, _ := recreated.Match("key"); ok {
				t.Fatal("entry survived bucket deletion")
			}
		})
	}
}

func TestDeleteMissingBucketIsNoop(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Delete("nope"); err != nil {
				t.Fatal(err)
			}
		})
	}
}
