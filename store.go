// store.go - Store is the top-level handle on one SQLite-backed document
// store, analogous to the teacher's ModernMGO session: one long-lived
// connection that hands out Collection handles and brackets mutating
// operations in transactions. Grounded on modern_session.go's
// DialModernMGO/Close/Copy shape and the localdb package's Open(stateDir)
// sequence for the concrete SQLite-open step.

package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/kinfkong/docstore/internal/sqlident"
)

const metadataCollectionName = "_metadata"

// Options configures a Store. Logger defaults to a discard logger, the
// same nil-safe default the teacher leaves implicit by simply not
// logging; JournalMode defaults to "WAL".
type Options struct {
	Logger      *log.Logger
	JournalMode string
}

// Store owns one SQLite database and the Collection handles opened
// against it. A Store is safe for concurrent use; Collection.mu and the
// single-connection pool limit (sqlite.go) serialize conflicting
// mutations the way the spec's concurrency model requires.
type Store struct {
	db     *sql.DB
	path   string
	logger *log.Logger

	mu          sync.Mutex
	collections map[string]*Collection
}

// Open opens (creating if necessary) the document store at path. The
// reserved "_metadata" catalog collection is created as part of opening.
func Open(path string, opts Options) (*Store, error) {
	db, err := openSQLite(path, opts.JournalMode)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	s := &Store{db: db, path: path, logger: logger, collections: map[string]*Collection{}}

	ctx := context.Background()
	if _, err := s.getCollection(ctx, metadataCollectionName, "_id", true); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetCollection returns the handle for name, creating its backing table on
// first use. idField optionally overrides the default "_id" identifier
// field (spec §4.1 "Identifier field"); it is only honored the first time
// a collection is opened; later calls with a different idField are
// ignored in favor of the persisted one.
func (s *Store) GetCollection(name string, idField ...string) (*Collection, error) {
	if name == metadataCollectionName {
		return nil, newConfigError(metadataCollectionName+" is a reserved collection name", name)
	}
	field := "_id"
	if len(idField) > 0 && idField[0] != "" {
		field = idField[0]
	}
	return s.getCollection(context.Background(), name, field, false)
}

// getCollection is the shared constructor used both by the public
// GetCollection and, with internal=true, to open the reserved metadata
// collection itself (spec §4.6: "the catalog is itself a Collection").
func (s *Store) getCollection(ctx context.Context, name, idField string, internal bool) (*Collection, error) {
	s.mu.Lock()
	if c, ok := s.collections[name]; ok {
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	quoted, err := sqlident.Quote(name)
	if err != nil {
		return nil, newConfigError(err.Error(), name)
	}

	c := &Collection{
		store:        s,
		name:         name,
		quotedName:   quoted,
		idField:      idField,
		arrayIndexes: map[string]string{},
	}

	if err := c.ensureTable(ctx); err != nil {
		return nil, err
	}

	if !internal {
		if err := c.loadMetaRecord(ctx); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	if existing, ok := s.collections[name]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	s.collections[name] = c
	s.mu.Unlock()
	return c, nil
}

// WithinTransaction runs fn once, bracketed in a database transaction
// (spec §5 "Transactions"). Nested calls (fn itself triggering another
// mutating Collection method against the same Store) reuse the same
// underlying *sql.Tx via a SAVEPOINT rather than starting a second
// top-level transaction.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.withTx(ctx, func(ctx context.Context, _ *sql.Tx) error {
		return fn(ctx)
	})
}

type txKey struct{}

func txFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}

// withTx is the internal transaction primitive every mutating Collection
// method funnels through. If ctx already carries a transaction (because
// withTx is nested inside a call already running in one), it wraps fn in
// a SAVEPOINT instead of beginning a new transaction, so partial failure
// of the inner operation (e.g. the metadata catalog update made inside
// EnsureArrayIndex, or EnsureArrayIndex running inside a caller-supplied
// transaction) rolls
// back only its own work.
func (s *Store) withTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if tx, ok := txFromContext(ctx); ok {
		return s.withSavepoint(ctx, tx, fn)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return newBackendError("failed to begin transaction", err)
	}
	childCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(childCtx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Printf("docstore: rollback failed after error %v: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return newBackendError("failed to commit transaction", err)
	}
	return nil
}

func (s *Store) withSavepoint(ctx context.Context, tx *sql.Tx, fn func(ctx context.Context, tx *sql.Tx) error) error {
	name := "sp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	quoted := sqlident.MustQuote(name)

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+quoted); err != nil {
		return newBackendError("failed to create savepoint", err)
	}
	if err := fn(ctx, tx); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+quoted); rbErr != nil {
			return newBackendError(fmt.Sprintf("failed to roll back savepoint after error %q", err), rbErr)
		}
		tx.ExecContext(ctx, "RELEASE SAVEPOINT "+quoted)
		return err
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+quoted); err != nil {
		return newBackendError("failed to release savepoint", err)
	}
	return nil
}
