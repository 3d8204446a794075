// types.go - core type definitions for the document store

package docstore

import (
	"go.mongodb.org/mongo-driver/bson"
)

// Document is an opaque JSON object. It is an alias for bson.M so callers
// can build query, update and replacement documents with the same map
// literal syntax regardless of which operation they're feeding it to.
type Document = bson.M

// Index describes a B-tree index request forwarded to the backend.
// Only the fields this module actually acts on are kept; the teacher's
// mgo-compatible Index also carried replica-set and text-search fields
// that have no SQLite analogue.
type Index struct {
	Key    []string // field names; "-field" requests descending order
	Unique bool
	Name   string
}

// UpdateOptions controls Collection.Update.
type UpdateOptions struct {
	Multi  bool // apply to every matching row, not just one
	Upsert bool // insert a seed document when nothing matches
}

// DeleteOptions controls Collection.Delete.
type DeleteOptions struct {
	JustOne bool
}

// ChangeInfo reports the outcome of a mutating operation.
type ChangeInfo struct {
	Matched    int
	Updated    int
	Removed    int
	UpsertedId interface{}
}

// OrderTerm is one field of a $order clause; Dir is +1 or -1.
type OrderTerm struct {
	Field string
	Dir   int
}

// arrayIndexEntry is one row of a collection's materialized array-index list.
type arrayIndexEntry struct {
	Keypath    string `bson:"keypath"`
	IndexTable string `bson:"indexTable"`
}

// collectionMeta is the persisted metadata record for one user collection.
type collectionMeta struct {
	ID           string            `bson:"_id"`
	IDField      string            `bson:"idField"`
	ArrayIndexes []arrayIndexEntry `bson:"arrayIndexes"`
}
