// Package sqlitekv wires pkg/engine/sqlkv to a modernc.org/sqlite database
// file, grounded on perkeep.org/pkg/sorted/sqlite's dbschema.go table
// definition and on that package's Serial-mutex treatment of SQLite's
// single-writer limitation (here expressed as a one-slot semaphore instead
// of an ad hoc sync.Mutex).
package sqlitekv

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite"

	"github.com/dw/acidkv/pkg/engine"
	"github.com/dw/acidkv/pkg/engine/sqlkv"
)

func init() {
	engine.Register("sqlite", open)
}

var dialect = sqlkv.Dialect{
	Name: "sqlite",
	Upsert: func(table string) string {
		return fmt.Sprintf("INSERT INTO %s (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v", table)
	},
}

const createTable = `CREATE TABLE IF NOT EXISTS rows (k BLOB NOT NULL PRIMARY KEY, v BLOB NOT NULL)`

func open(u *url.URL, params map[string]string) (engine.Engine, error) {
	path := u.Path
	if path == "" {
		path = u.Opaque
	}
	return Open(path)
}

// Open returns an Engine backed by the SQLite database file at path,
// creating the schema if absent. A one-slot semaphore serializes
// transactions: SQLite permits only one writer at a time regardless of
// connection pool size, and mixing concurrent readers with a long-running
// writer transaction risks "database is locked" errors from the driver.
func Open(path string) (*sqlkv.Engine, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitekv: creating schema: %w", err)
	}
	return sqlkv.New(db, dialect, "rows", 1), nil
}
