// arrayindex.go - the Array-Index Manager (spec §4.4): creates and
// maintains materialized side tables that expand a JSON array path into
// rows, kept in sync by triggers, so array-containment queries can be
// index-joined instead of expanded with json_each at query time.

package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/kinfkong/docstore/internal/sqlident"
)

// EnsureArrayIndex materializes path as a side table for the collection
// if it is not already indexed, registers the AFTER INSERT/UPDATE/DELETE
// triggers that keep it current, and persists the mapping in the
// metadata catalog. On any failure the transaction is rolled back and
// the in-memory map is left untouched (spec §4.4 "Failure").
func (c *Collection) EnsureArrayIndex(ctx context.Context, path string, order string) error {
	c.mu.RLock()
	_, present := c.arrayIndexes[path]
	c.mu.RUnlock()
	if present {
		return nil
	}

	if strings.ContainsAny(path, "'\"") {
		return newConfigError("array index path must not contain quote characters", path)
	}

	quotedColl, err := sqlident.Quote(c.name)
	if err != nil {
		return newConfigError(err.Error(), c.name)
	}
	indexTable := c.name + "_" + path
	quotedIndex, err := sqlident.Quote(indexTable)
	if err != nil {
		return newConfigError(err.Error(), indexTable)
	}

	err = c.store.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := createArrayIndexTable(ctx, tx, quotedColl, quotedIndex, path); err != nil {
			return err
		}
		if order != "DESC" {
			order = "ASC"
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS %s ON %s(value %s)`,
			sqlident.MustQuote(indexTable+"_value_idx"), quotedIndex, order)); err != nil {
			return newBackendError("failed to create array index", err)
		}
		if err := createArrayIndexTriggers(ctx, tx, c.name, indexTable, path); err != nil {
			return err
		}

		entry := arrayIndexEntry{Keypath: path, IndexTable: indexTable}
		return c.store.appendArrayIndexMeta(ctx, tx, c.name, entry)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	next := make(map[string]string, len(c.arrayIndexes)+1)
	for k, v := range c.arrayIndexes {
		next[k] = v
	}
	next[path] = indexTable
	c.arrayIndexes = next
	c.mu.Unlock()
	c.store.logger.Printf("docstore: array index %s on %s.%s ready", indexTable, c.name, path)
	return nil
}

func createArrayIndexTable(ctx context.Context, tx *sql.Tx, quotedColl, quotedIndex, path string) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s AS SELECT _id, je.key, je.value, je.type, je.atom
		 FROM %s, json_each(json_extract(document, '$.%s')) AS je`,
		quotedIndex, quotedColl, path))
	if err != nil {
		return newBackendError("failed to materialize array index table", err)
	}
	return nil
}

func createArrayIndexTriggers(ctx context.Context, tx *sql.Tx, collName, indexTable, path string) error {
	quotedColl := sqlident.MustQuote(collName)
	quotedIndex := sqlident.MustQuote(indexTable)

	triggers := []struct {
		name string
		sql  string
	}{
		{
			name: indexTable + "_ai",
			sql: fmt.Sprintf(`CREATE TRIGGER %s AFTER INSERT ON %s BEGIN
				INSERT INTO %s (_id, key, value, type, atom)
				SELECT NEW._id, je.key, je.value, je.type, je.atom
				FROM json_each(json_extract(NEW.document, '$.%s')) AS je;
			END`, sqlident.MustQuote(indexTable+"_ai"), quotedColl, quotedIndex, path),
		},
		{
			name: indexTable + "_au",
			sql: fmt.Sprintf(`CREATE TRIGGER %s AFTER UPDATE ON %s BEGIN
				DELETE FROM %s WHERE _id = OLD._id;
				INSERT INTO %s (_id, key, value, type, atom)
				SELECT NEW._id, je.key, je.value, je.type, je.atom
				FROM json_each(json_extract(NEW.document, '$.%s')) AS je;
			END`, sqlident.MustQuote(indexTable+"_au"), quotedColl, quotedIndex, quotedIndex, path),
		},
		{
			name: indexTable + "_ad",
			sql: fmt.Sprintf(`CREATE TRIGGER %s AFTER DELETE ON %s BEGIN
				DELETE FROM %s WHERE _id = OLD._id;
			END`, sqlident.MustQuote(indexTable+"_ad"), quotedColl, quotedIndex),
		},
	}

	for _, t := range triggers {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TRIGGER IF EXISTS %s", sqlident.MustQuote(t.name))); err != nil {
			return newBackendError("failed to drop existing trigger "+t.name, err)
		}
		if _, err := tx.ExecContext(ctx, t.sql); err != nil {
			return newBackendError("failed to create trigger "+t.name, err)
		}
	}
	return nil
}

// RefreshArrayIndexes reloads the path->indexTable map from the metadata
// catalog. Opening a collection loads the same map through
// loadMetaRecord; this method repeats that load on an open handle.
func (c *Collection) RefreshArrayIndexes(ctx context.Context) error {
	meta, _, err := c.store.loadMeta(ctx, c.name)
	if err != nil {
		return err
	}
	next := make(map[string]string, len(meta.ArrayIndexes))
	for _, e := range meta.ArrayIndexes {
		next[e.Keypath] = e.IndexTable
	}
	c.mu.Lock()
	c.arrayIndexes = next
	c.idField = meta.IDField
	c.mu.Unlock()
	return nil
}

// arrayIndexSnapshot returns an immutable copy of the path->indexTable map
// for use by a single compile call, per §5 "Shared resources".
func (c *Collection) arrayIndexSnapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := make(map[string]string, len(c.arrayIndexes))
	for k, v := range c.arrayIndexes {
		snap[k] = v
	}
	return snap
}
