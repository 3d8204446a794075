// cursor.go - the reactive cursor builder (spec §9 "Reactive cursor"),
// modeled directly on the teacher's ModernQ/ModernIt pair: Sort/Skip/
// Limit each return a new *Cursor rather than mutating the receiver, so
// a caller can branch a base query into several shaped reads safely.

package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Cursor is a lazily-built query over a Collection. The zero value is
// never constructed directly; use Collection.Find.
type Cursor struct {
	coll  *Collection
	where CompiledQuery
	order []OrderTerm
	skip  int
	limit int
	err   error
}

// Sort overrides the sort order. A "-" prefix on a field name requests
// descending order, exactly as the teacher's ModernQ.Sort parses fields.
func (q *Cursor) Sort(fields ...string) *Cursor {
	next := *q
	order := make([]OrderTerm, 0, len(fields))
	for _, f := range fields {
		dir := 1
		if strings.HasPrefix(f, "-") {
			dir = -1
			f = f[1:]
		}
		order = append(order, OrderTerm{Field: f, Dir: dir})
	}
	next.order = order
	return &next
}

// Skip sets the number of matching documents to skip.
func (q *Cursor) Skip(n int) *Cursor {
	next := *q
	next.skip = n
	return &next
}

// Limit caps the number of documents returned. n <= 0 means unlimited.
func (q *Cursor) Limit(n int) *Cursor {
	next := *q
	next.limit = n
	return &next
}

func (q *Cursor) buildSQL() (string, []interface{}, error) {
	if q.err != nil {
		return "", nil, q.err
	}
	distinct := ""
	if q.where.needsDistinct() {
		distinct = "DISTINCT "
	}
	sqlText := fmt.Sprintf(`SELECT %s%s._id, document FROM %s %s WHERE %s`,
		distinct, q.coll.quotedName, q.coll.quotedName, q.where.Join, q.where.Where)
	if orderBy := orderBySQL(q.order, q.coll.IDField()); orderBy != "" {
		sqlText += " " + orderBy
	}
	if q.limit > 0 || q.skip > 0 {
		limit := q.limit
		if limit <= 0 {
			limit = -1
		}
		sqlText += fmt.Sprintf(" LIMIT %d", limit)
		if q.skip > 0 {
			sqlText += fmt.Sprintf(" OFFSET %d", q.skip)
		}
	}
	return sqlText, q.where.Params, nil
}

// Iter opens a streaming iterator over the cursor's results.
func (q *Cursor) Iter(ctx context.Context) *Iter {
	sqlText, params, err := q.buildSQL()
	if err != nil {
		return &Iter{err: err}
	}
	rows, err := q.coll.queryRows(ctx, sqlText, params...)
	if err != nil {
		return &Iter{err: newBackendError("failed to execute query", err)}
	}
	return &Iter{rows: rows, idField: q.coll.IDField()}
}

// All materializes every matching document.
func (q *Cursor) All(ctx context.Context) ([]Document, error) {
	it := q.Iter(ctx)
	defer it.Close()

	var out []Document
	var d Document
	for it.Next(&d) {
		out = append(out, d)
		d = nil
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// One returns the first matching document, or ErrNotFound.
func (q *Cursor) One(ctx context.Context) (Document, error) {
	docs, err := q.Limit(1).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

// Iter is a streaming result set, analogous to the teacher's ModernIt.
type Iter struct {
	rows    *sql.Rows
	idField string
	err     error
}

// Next decodes the next document into *doc, reporting whether one was
// available. The identifier lives in its own column, never inside the
// stored JSON blob, so it is merged back in here on every read (the
// mirror image of stripID on every write).
func (it *Iter) Next(doc *Document) bool {
	if it.err != nil || it.rows == nil {
		return false
	}
	if !it.rows.Next() {
		return false
	}
	var id, text string
	if err := it.rows.Scan(&id, &text); err != nil {
		it.err = newBackendError("failed to scan document", err)
		return false
	}
	var d Document
	if err := bson.UnmarshalExtJSON([]byte(text), false, &d); err != nil {
		it.err = newBackendError("failed to decode document", err)
		return false
	}
	if d == nil {
		d = Document{}
	}
	d[it.idField] = id
	*doc = d
	return true
}

// Err returns the first error encountered during iteration, if any.
func (it *Iter) Err() error {
	if it.err != nil {
		return it.err
	}
	if it.rows != nil {
		return it.rows.Err()
	}
	return nil
}

// Close releases the underlying rows.
func (it *Iter) Close() error {
	if it.rows == nil {
		return nil
	}
	return it.rows.Close()
}
