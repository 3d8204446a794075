// metadata.go - the Metadata Catalog (spec §4.6). The catalog is itself a
// Collection, reserved under the name "_metadata", storing one document
// per user collection keyed by collection name. This file is a thin
// wrapper around Collection.FindOne/Collection.Update rather than a
// second persistence path, exactly as spec.md §4.6 requires.

package docstore

import (
	"context"
	"database/sql"

	"go.mongodb.org/mongo-driver/bson"
)

// metadataCollection returns the reserved catalog collection, opening it
// if this is the first call since Store.Open.
func (s *Store) metadataCollection(ctx context.Context) (*Collection, error) {
	return s.getCollection(ctx, metadataCollectionName, "_id", true)
}

// loadMeta returns the persisted metadata record for collName. found is
// false when no record exists yet (a brand new collection), in which
// case meta carries only defaults a caller can seed from: ID set to
// collName and IDField set to "_id".
func (s *Store) loadMeta(ctx context.Context, collName string) (meta collectionMeta, found bool, err error) {
	mc, err := s.metadataCollection(ctx)
	if err != nil {
		return collectionMeta{}, false, err
	}
	doc, err := mc.FindOne(ctx, Document{"_id": collName})
	if err != nil {
		if err == ErrNotFound {
			return collectionMeta{ID: collName, IDField: "_id"}, false, nil
		}
		return collectionMeta{}, false, err
	}
	meta, err = decodeMeta(doc)
	if err != nil {
		return collectionMeta{}, false, err
	}
	return meta, true, nil
}

// saveMeta upserts the metadata record for meta.ID.
func (s *Store) saveMeta(ctx context.Context, meta collectionMeta) error {
	mc, err := s.metadataCollection(ctx)
	if err != nil {
		return err
	}
	doc, err := encodeMeta(meta)
	if err != nil {
		return err
	}
	_, err = mc.Update(ctx, Document{"_id": meta.ID}, doc, UpdateOptions{Upsert: true})
	return err
}

// appendArrayIndexMeta records a newly created array index against
// collName's metadata record, reusing the caller's transaction (threaded
// through ctx) rather than opening a second one, per §4.4 "Failure": the
// index-table creation and the metadata update either both land or
// neither does.
func (s *Store) appendArrayIndexMeta(ctx context.Context, tx *sql.Tx, collName string, entry arrayIndexEntry) error {
	ctx = context.WithValue(ctx, txKey{}, tx)
	meta, found, err := s.loadMeta(ctx, collName)
	if err != nil {
		return err
	}
	if !found {
		return newInvariantError("appendArrayIndexMeta: no metadata record for " + collName)
	}
	meta.ArrayIndexes = append(meta.ArrayIndexes, entry)
	return s.saveMeta(ctx, meta)
}

func decodeMeta(doc Document) (collectionMeta, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return collectionMeta{}, newBackendError("failed to marshal metadata document", err)
	}
	var meta collectionMeta
	if err := bson.Unmarshal(raw, &meta); err != nil {
		return collectionMeta{}, newBackendError("failed to decode metadata document", err)
	}
	return meta, nil
}

func encodeMeta(meta collectionMeta) (Document, error) {
	raw, err := bson.Marshal(meta)
	if err != nil {
		return nil, newBackendError("failed to marshal metadata record", err)
	}
	var doc Document
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, newBackendError("failed to decode metadata record", err)
	}
	return doc, nil
}
