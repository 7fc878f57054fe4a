package storage

import (
	"bytes"
	"errors"
	"testing"
)

func testDatabase(t *testing.T, db Database) {
	t.Helper()

	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	has, err := db.Has([]byte("missing"))
	if err != nil || has {
		t.Fatalf("missing key reported present (err %v)", err)
	}

	if err := db.Put([]byte("alpha"), []byte("one")); err != nil {
		t.Fatalf("put: %v", err)
	}
	value, err := db.Get([]byte("alpha"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(value, []byte("one")) {
		t.Fatalf("value %q, want %q", value, "one")
	}

	// Overwrite replaces the stored value.
	if err := db.Put([]byte("alpha"), []byte("two")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	value, err = db.Get([]byte("alpha"))
	if err != nil {
		t.Fatalf("get after overwrite: %v", err)
	}
	if !bytes.Equal(value, []byte("two")) {
		t.Fatalf("value %q, want %q", value, "two")
	}

	has, err = db.Has([]byte("alpha"))
	if err != nil || !has {
		t.Fatalf("stored key reported missing (err %v)", err)
	}
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	testDatabase(t, db)
}

func TestMemDBDefensiveCopies(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	value := []byte("original")
	if err := db.Put([]byte("key"), value); err != nil {
		t.Fatalf("put: %v", err)
	}
	value[0] = 'X'
	stored, err := db.Get([]byte("key"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(stored, []byte("original")) {
		t.Fatalf("caller mutation leaked into store: %q", stored)
	}
	stored[0] = 'Y'
	again, err := db.Get([]byte("key"))
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if !bytes.Equal(again, []byte("original")) {
		t.Fatalf("returned slice aliases the store: %q", again)
	}
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	testDatabase(t, db)
}
