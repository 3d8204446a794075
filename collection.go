// collection.go - the Collection orchestrator (spec §4.5): wires the
// Query AST, Query Compiler, Update Compiler and Array-Index Manager
// into the CRUD surface callers actually use. Method names and shapes
// mirror the teacher's ModernColl one-for-one (Insert, Find, Count,
// Remove->Delete, Upsert folded into Update, EnsureIndex,
// Bulk->InsertMany).

package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/kinfkong/docstore/internal/sqlident"
	"go.mongodb.org/mongo-driver/bson"
)

// Collection is a handle on one named table in a Store. It is safe for
// concurrent use; mu guards arrayIndexes and idField, which can change
// underneath in-flight readers when EnsureArrayIndex runs.
type Collection struct {
	store      *Store
	name       string
	quotedName string

	mu           sync.RWMutex
	idField      string
	arrayIndexes map[string]string
}

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

// IDField returns the field this collection uses as its identifier.
func (c *Collection) IDField() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.idField
}

// ensureTable creates the collection's backing table if it does not
// already exist (spec §4.1): "<C>" (_id TEXT PRIMARY KEY, document JSON NOT NULL).
func (c *Collection) ensureTable(ctx context.Context) error {
	return c.store.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (_id TEXT PRIMARY KEY, document JSON NOT NULL)`,
			c.quotedName))
		if err != nil {
			return newBackendError("failed to create collection table", err)
		}
		return nil
	})
}

// loadMetaRecord seeds c.idField/c.arrayIndexes from the metadata
// catalog, persisting a fresh record the first time this collection is
// opened.
func (c *Collection) loadMetaRecord(ctx context.Context) error {
	meta, found, err := c.store.loadMeta(ctx, c.name)
	if err != nil {
		return err
	}
	if !found {
		meta = collectionMeta{ID: c.name, IDField: c.idField}
		if err := c.store.saveMeta(ctx, meta); err != nil {
			return err
		}
	}

	next := make(map[string]string, len(meta.ArrayIndexes))
	for _, e := range meta.ArrayIndexes {
		next[e.Keypath] = e.IndexTable
	}

	c.mu.Lock()
	c.idField = meta.IDField
	c.arrayIndexes = next
	c.mu.Unlock()
	return nil
}

func (c *Collection) tx(ctx context.Context) (*sql.Tx, bool) { return txFromContext(ctx) }

// exec runs a write against the collection's store, reusing an
// in-flight transaction from ctx if present, else opening one of its own.
func (c *Collection) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if tx, ok := c.tx(ctx); ok {
		return tx.ExecContext(ctx, query, args...)
	}
	return c.store.db.ExecContext(ctx, query, args...)
}

func (c *Collection) queryRows(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if tx, ok := c.tx(ctx); ok {
		return tx.QueryContext(ctx, query, args...)
	}
	return c.store.db.QueryContext(ctx, query, args...)
}

// newIdentifier mints a default _id value when the caller's document
// omits one, using the same uuid dependency docxology-GuildNet wires in
// for its own identifier generation.
func newIdentifier() string { return uuid.NewString() }

// idOf extracts the string form of doc's identifier field, minting one
// and writing it back into doc if absent.
func (c *Collection) idOf(doc Document) (string, error) {
	if doc == nil {
		return "", newConfigError("document must not be nil", doc)
	}
	idField := c.IDField()
	raw, ok := doc[idField]
	if !ok || raw == nil {
		id := newIdentifier()
		doc[idField] = id
		return id, nil
	}
	switch v := raw.(type) {
	case string:
		return v, nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

// stripID returns a shallow copy of doc without its identifier field.
// The identifier lives only in the _id column; it is never duplicated
// into the document JSON blob, so every write path funnels through this
// before serializing (spec §8 "Replacement preserves identifier" — kept
// true of every write, not just explicit replacement).
func stripID(doc Document, idField string) Document {
	clean := Document{}
	for k, v := range doc {
		if k == idField {
			continue
		}
		clean[k] = v
	}
	return clean
}

// Insert inserts a single document, minting an identifier if the
// document has none.
func (c *Collection) Insert(ctx context.Context, doc Document) error {
	return c.InsertMany(ctx, []Document{doc})
}

// InsertMany inserts every document in docs inside one transaction.
func (c *Collection) InsertMany(ctx context.Context, docs []Document) error {
	return c.store.withTx(ctx, func(ctx context.Context, _ *sql.Tx) error {
		idField := c.IDField()
		for _, doc := range docs {
			id, err := c.idOf(doc)
			if err != nil {
				return err
			}
			text, err := bson.MarshalExtJSON(stripID(doc, idField), false, false)
			if err != nil {
				return newBackendError("failed to serialize document", err)
			}
			_, err = c.exec(ctx, fmt.Sprintf(`INSERT INTO %s (_id, document) VALUES (?, json(?))`, c.quotedName),
				id, string(text))
			if err != nil {
				return newBackendError("failed to insert document", err)
			}
		}
		return nil
	})
}

// Save upserts doc by its identifier field: replacing the existing row
// if one exists, inserting otherwise.
func (c *Collection) Save(ctx context.Context, doc Document) error {
	return c.store.withTx(ctx, func(ctx context.Context, _ *sql.Tx) error {
		id, err := c.idOf(doc)
		if err != nil {
			return err
		}
		text, err := bson.MarshalExtJSON(stripID(doc, c.IDField()), false, false)
		if err != nil {
			return newBackendError("failed to serialize document", err)
		}
		_, err = c.exec(ctx, fmt.Sprintf(
			`INSERT INTO %s (_id, document) VALUES (?, json(?)) ON CONFLICT(_id) DO UPDATE SET document = excluded.document`,
			c.quotedName), id, string(text))
		if err != nil {
			return newBackendError("failed to save document", err)
		}
		return nil
	})
}

// compileFind parses and compiles query against the collection's current
// array-index map, returning the AST's order terms alongside.
func (c *Collection) compileFind(query Document) (CompiledQuery, []OrderTerm, error) {
	ast, order, err := ParseQuery(query)
	if err != nil {
		return CompiledQuery{}, nil, err
	}
	idField := c.IDField()
	cq, err := CompileQuery(ast, c.name, idField, c.arrayIndexSnapshot())
	if err != nil {
		return CompiledQuery{}, nil, err
	}
	return cq, order, nil
}

// Find returns a Cursor over the documents matching query. A nil query
// matches every document.
func (c *Collection) Find(query Document) *Cursor {
	cq, order, err := c.compileFind(query)
	if err != nil {
		return &Cursor{err: err}
	}
	return &Cursor{
		coll:  c,
		where: cq,
		order: order,
	}
}

// FindOne returns the first document matching query, or ErrNotFound.
func (c *Collection) FindOne(ctx context.Context, query Document) (Document, error) {
	return c.Find(query).Limit(1).One(ctx)
}

// Count returns the number of documents matching query.
func (c *Collection) Count(ctx context.Context, query Document) (int, error) {
	cq, _, err := c.compileFind(query)
	if err != nil {
		return 0, err
	}
	return c.count(ctx, cq)
}

// Update applies update to the documents matching query (spec §4.3/§4.5).
// When opts.Upsert is set and nothing matches, a seed document is
// inserted: query's equality-shaped fields merged with the fields update
// sets, increments, pushes or replaces (see upsertSeed).
func (c *Collection) Update(ctx context.Context, query, update Document, opts UpdateOptions) (ChangeInfo, error) {
	var info ChangeInfo
	err := c.store.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		cq, _, err := c.compileFind(query)
		if err != nil {
			return err
		}

		matched, err := c.count(ctx, cq)
		if err != nil {
			return err
		}
		info.Matched = matched

		if matched == 0 {
			if !opts.Upsert {
				return nil
			}
			seed, err := upsertSeed(query, update)
			if err != nil {
				return err
			}
			id, err := c.idOf(seed)
			if err != nil {
				return err
			}
			text, err := bson.MarshalExtJSON(stripID(seed, c.IDField()), false, false)
			if err != nil {
				return newBackendError("failed to serialize upserted document", err)
			}
			if _, err := c.exec(ctx, fmt.Sprintf(`INSERT INTO %s (_id, document) VALUES (?, json(?))`, c.quotedName),
				id, string(text)); err != nil {
				return newBackendError("failed to insert upserted document", err)
			}
			info.UpsertedId = id
			return nil
		}

		stmts, err := CompileUpdate(update, cq, c.name, c.IDField(), opts)
		if err != nil {
			return err
		}
		for _, stmt := range stmts {
			res, err := c.exec(ctx, stmt.SQL, stmt.Params...)
			if err != nil {
				return newBackendError("failed to apply update", err)
			}
			n, _ := res.RowsAffected()
			info.Updated += int(n)
		}
		return nil
	})
	return info, err
}

// upsertSeed builds the document to insert when Update's Upsert option
// finds no match: query's bare-equality clauses merged with update's
// fields (or update itself, when update carries no operators). $set and
// $inc values are copied as is, $push and $addToSet values become a
// one-element array, and $pop adds nothing.
func upsertSeed(query, update Document) (Document, error) {
	seed := Document{}
	ast, _, err := ParseQuery(query)
	if err != nil {
		return nil, err
	}
	collectEqualities(ast, seed)

	instructions, err := normalizeUpdate(update)
	if err != nil {
		return nil, err
	}
	for _, instr := range instructions {
		switch instr.kind {
		case instrReplace:
			doc, _ := asDocument(instr.value)
			for k, v := range doc {
				seed[k] = v
			}
		case instrSet:
			seed[instr.field] = instr.value
		case instrInc:
			seed[instr.field] = instr.value
		case instrPush, instrAddToSet:
			seed[instr.field] = []interface{}{instr.value}
		}
	}
	return seed, nil
}

func collectEqualities(n Node, out Document) {
	switch n.Kind {
	case NodeLogical:
		if n.Op == "$and" {
			for _, kid := range n.Children {
				collectEqualities(kid, out)
			}
		}
	case NodePredicate:
		if n.PredOp == "$eq" && !n.Negate {
			out[n.Field] = n.Operand
		}
	}
}

func (c *Collection) count(ctx context.Context, cq CompiledQuery) (int, error) {
	selectCol := "_id"
	if cq.needsDistinct() {
		selectCol = fmt.Sprintf("DISTINCT %s._id", c.quotedName)
	}
	sqlText := fmt.Sprintf(`SELECT count(*) FROM (SELECT %s AS _id FROM %s %s WHERE %s)`,
		selectCol, c.quotedName, cq.Join, cq.Where)
	row, err := c.queryRows(ctx, sqlText, cq.Params...)
	if err != nil {
		return 0, newBackendError("failed to count matching documents", err)
	}
	defer row.Close()
	if !row.Next() {
		return 0, nil
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, newBackendError("failed to scan match count", err)
	}
	return n, nil
}

// Delete removes the documents matching query. With opts.JustOne only
// the first match (arbitrary order unless the caller sorted first) is
// removed.
func (c *Collection) Delete(ctx context.Context, query Document, opts DeleteOptions) (ChangeInfo, error) {
	var info ChangeInfo
	err := c.store.withTx(ctx, func(ctx context.Context, _ *sql.Tx) error {
		cq, _, err := c.compileFind(query)
		if err != nil {
			return err
		}
		where := cq.Where
		params := cq.Params
		if cq.Join != "" || opts.JustOne {
			limit := ""
			if opts.JustOne {
				limit = " LIMIT 1"
			}
			where = fmt.Sprintf(`_id IN (SELECT DISTINCT %s._id FROM %s %s WHERE %s%s)`,
				c.quotedName, c.quotedName, cq.Join, cq.Where, limit)
		}
		res, err := c.exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s`, c.quotedName, where), params...)
		if err != nil {
			return newBackendError("failed to delete documents", err)
		}
		n, _ := res.RowsAffected()
		info.Removed = int(n)
		return nil
	})
	return info, err
}

// EnsureIndex creates a plain B-tree index over one or more JSON paths
// (spec §4.5 "Secondary indexes", forwarded as a hint — this module does
// no query planning beyond the array-containment strategies of §4.2).
func (c *Collection) EnsureIndex(ctx context.Context, idx Index) error {
	if len(idx.Key) == 0 {
		return newConfigError("index must name at least one key", idx)
	}
	name := idx.Name
	if name == "" {
		name = c.name + "_" + strings.Join(idx.Key, "_") + "_idx"
	}
	quotedName, err := sqlident.Quote(name)
	if err != nil {
		return newConfigError(err.Error(), name)
	}

	exprs := make([]string, 0, len(idx.Key))
	for _, key := range idx.Key {
		field := key
		dir := "ASC"
		if strings.HasPrefix(key, "-") {
			field = key[1:]
			dir = "DESC"
		}
		expr := fmt.Sprintf("json_extract(document,'$.%s')", field)
		if field == c.IDField() {
			expr = "_id"
		}
		exprs = append(exprs, expr+" "+dir)
	}

	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}

	return c.store.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(
			`CREATE %sINDEX IF NOT EXISTS %s ON %s(%s)`,
			unique, quotedName, c.quotedName, strings.Join(exprs, ", ")))
		if err != nil {
			return newBackendError("failed to create index", err)
		}
		return nil
	})
}
