// sqlite.go - opens the SQLite file backing a Store, per spec §9 "Backend
// expectations". Grounded on the localdb package's Open(stateDir) sequence:
// MkdirAll the parent directory, open the pure-Go driver, set WAL mode.

package docstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// openSQLite opens (creating if necessary) the SQLite database file at
// path, setting the pragmas this module relies on: WAL journaling, and
// foreign key
// enforcement on (even though side tables are kept current by triggers
// rather than declarative constraints).
func openSQLite(path, journalMode string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("docstore: creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("docstore: opening database: %w", err)
	}

	// modernc.org/sqlite does not multiplex a single *sql.DB connection
	// safely under SQLite's own locking model the way a server database
	// does; a single connection avoids SQLITE_BUSY storms from the
	// database/sql pool handing writes to different underlying
	// connections. Reads share that same connection, so they wait while a
	// transaction holds it.
	db.SetMaxOpenConns(1)

	if journalMode == "" {
		journalMode = "WAL"
	}

	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA journal_mode=%s;", journalMode),
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("docstore: setting pragma %q: %w", pragma, err)
		}
	}

	return db, nil
}
