package docstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kinfkong/docstore"
)

// newTestStore opens a Store against a fresh temp-file database, mirroring
// the teacher's NewTestDB helper but against SQLite rather than a live
// MongoDB deployment.
func newTestStore(t *testing.T) *docstore.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := docstore.Open(filepath.Join(dir, "test.sqlite"), docstore.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func assertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func seedPeople(t *testing.T, store *docstore.Store) *docstore.Collection {
	t.Helper()
	people, err := store.GetCollection("people")
	assertNoError(t, err)

	docs := []docstore.Document{
		{"firstname": "Maggie", "lastname": "Simpson", "hobbies": []interface{}{"dummies"}},
		{"firstname": "Bart", "lastname": "Simpson", "hobbies": []interface{}{"skateboarding", "boxcar racing", "annoying Homer"}, "age": 10},
		{"firstname": "Marge", "lastname": "Simpson"},
		{"firstname": "Homer", "lastname": "Simpson", "hobbies": []interface{}{"drinking", "gambling", "boxcar racing"}},
		{"firstname": "Lisa", "lastname": "Simpson", "hobbies": []interface{}{"tai chi", "chai tea", "annoying Homer"}},
		{"firstname": "Lisa", "lastname": "Kudrow"},
	}
	assertNoError(t, people.InsertMany(context.Background(), docs))
	return people
}
