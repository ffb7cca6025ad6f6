package cloudstore

import (
	"testing"
	"time"
)

func TestMemoryStoreGetPutDelete(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Get("k"); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}

	if err := s.Put("k", []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	rec, err := s.Get("k")
	if err != nil || string(rec.Value) != "v" {
		t.Fatalf("expected v, got %+v err=%v", rec, err)
	}

	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("k"); err != ErrKeyNotFound {
		t.Fatalf("expected tombstoned key to read as not found, got %v", err)
	}
}

func TestMemoryStoreTombstoneGraceWindowThenReclaimed(t *testing.T) {
	s := NewMemoryStoreWithGrace(10 * time.Millisecond)
	s.Put("k", []byte("v"))
	s.Delete("k")

	fakeNow := time.Now()
	s.now = func() time.Time { return fakeNow }
	if _, err := s.Get("k"); err != ErrKeyNotFound {
		t.Fatalf("expected not found within grace window, got %v", err)
	}

	s.now = func() time.Time { return fakeNow.Add(20 * time.Millisecond) }
	if _, err := s.Get("k"); err != ErrKeyNotFound {
		t.Fatalf("expected still not found after grace window expires, got %v", err)
	}
	if stats := s.Stats(); stats.Tombstones != 0 {
		t.Fatalf("expected tombstone reclaimed, got stats=%+v", stats)
	}
}

func TestMemoryStorePutCopiesBytes(t *testing.T) {
	s := NewMemoryStore()
	src := []byte("v")
	s.Put("k", src)
	src[0] = 'x'

	rec, _ := s.Get("k")
	if string(rec.Value) != "v" {
		t.Fatalf("expected stored copy unaffected by caller mutation, got %q", rec.Value)
	}
}

func TestMemoryStoreListExcludesTombstones(t *testing.T) {
	s := NewMemoryStore()
	s.Put("a", []byte("1"))
	s.Put("b", []byte("2"))
	s.Delete("a")

	keys := s.List()
	if len(keys) != 1 || keys[0] != "b" {
		t.Fatalf("expected only live key b, got %v", keys)
	}
}
