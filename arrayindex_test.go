package docstore_test

import (
	"context"
	"testing"

	"github.com/kinfkong/docstore"
)

func TestEnsureArrayIndexIsIdempotent(t *testing.T) {
	ctx := context.Background()
	people := seedPeople(t, newTestStore(t))

	assertNoError(t, people.EnsureArrayIndex(ctx, "hobbies", "ASC"))
	assertNoError(t, people.EnsureArrayIndex(ctx, "hobbies", "ASC"))
}

func TestEnsureArrayIndexMatchesUnindexedResults(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	people := seedPeople(t, store)

	before, err := people.Find(docstore.Document{
		"hobbies": docstore.Document{"$in": []interface{}{"boxcar racing"}},
	}).All(ctx)
	assertNoError(t, err)

	assertNoError(t, people.EnsureArrayIndex(ctx, "hobbies", "ASC"))

	after, err := people.Find(docstore.Document{
		"hobbies": docstore.Document{"$in": []interface{}{"boxcar racing"}},
	}).All(ctx)
	assertNoError(t, err)

	assertEqual(t, len(after), len(before))
	assertEqual(t, len(after), 2)
}

// TestArrayIndexTracksInsertsUpdatesAndDeletes exercises the AFTER
// INSERT/UPDATE/DELETE triggers directly, since the side table is never
// read through the public API except via the query compiler's join path.
func TestArrayIndexTracksInsertsUpdatesAndDeletes(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	coll, err := store.GetCollection("critters")
	assertNoError(t, err)
	assertNoError(t, coll.EnsureArrayIndex(ctx, "tags", "ASC"))

	assertNoError(t, coll.Insert(ctx, docstore.Document{"_id": "c1", "tags": []interface{}{"fast", "loud"}}))

	n, err := coll.Count(ctx, docstore.Document{"tags": docstore.Document{"$in": []interface{}{"fast"}}})
	assertNoError(t, err)
	assertEqual(t, n, 1)

	_, err = coll.Update(ctx, docstore.Document{"_id": "c1"},
		docstore.Document{"$set": docstore.Document{"tags": []interface{}{"quiet"}}}, docstore.UpdateOptions{})
	assertNoError(t, err)

	n, err = coll.Count(ctx, docstore.Document{"tags": docstore.Document{"$in": []interface{}{"fast"}}})
	assertNoError(t, err)
	assertEqual(t, n, 0)

	n, err = coll.Count(ctx, docstore.Document{"tags": docstore.Document{"$in": []interface{}{"quiet"}}})
	assertNoError(t, err)
	assertEqual(t, n, 1)

	_, err = coll.Delete(ctx, docstore.Document{"_id": "c1"}, docstore.DeleteOptions{})
	assertNoError(t, err)

	n, err = coll.Count(ctx, docstore.Document{"tags": docstore.Document{"$in": []interface{}{"quiet"}}})
	assertNoError(t, err)
	assertEqual(t, n, 0)
}

func TestRefreshArrayIndexesReloadsFromMetadata(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	coll, err := store.GetCollection("widgets2")
	assertNoError(t, err)
	assertNoError(t, coll.EnsureArrayIndex(ctx, "parts", "ASC"))

	// GetCollection returns the cached handle; RefreshArrayIndexes rebuilds
	// its path->indexTable map from the metadata catalog.
	fresh, err := store.GetCollection("widgets2")
	assertNoError(t, err)
	assertNoError(t, fresh.RefreshArrayIndexes(ctx))
	assertNoError(t, fresh.Insert(ctx, docstore.Document{"_id": "w1", "parts": []interface{}{"bolt"}}))

	n, err := fresh.Count(ctx, docstore.Document{"parts": docstore.Document{"$in": []interface{}{"bolt"}}})
	assertNoError(t, err)
	assertEqual(t, n, 1)
}
