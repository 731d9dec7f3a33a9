// Package postgreskv wires pkg/engine/sqlkv to PostgreSQL via
// github.com/lib/pq, grounded on perkeep.org/pkg/sorted/postgres —
// including that package's replacement of MySQL/SQLite-style "REPLACE
// INTO" with an explicit INSERT ... ON CONFLICT upsert and its $n bind
// parameter rewriting (here done once per Dialect rather than by regexp
// substitution per query).
package postgreskv

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/lib/pq"

	"github.com/dw/acidkv/pkg/engine"
	"github.com/dw/acidkv/pkg/engine/sqlkv"
)

func init() {
	engine.Register("postgres", open)
}

var dialect = sqlkv.Dialect{
	Name:        "postgres",
	Placeholder: func(i int) string { return fmt.Sprintf("$%d", i) },
	Upsert: func(table string) string {
		return fmt.Sprintf("INSERT INTO %s (k, v) VALUES ($1, $2) ON CONFLICT (k) DO UPDATE SET v = excluded.v", table)
	},
}

const createTable = `CREATE TABLE IF NOT EXISTS rows (k BYTEA NOT NULL PRIMARY KEY, v BYTEA NOT NULL)`

func open(u *url.URL, params map[string]string) (engine.Engine, error) {
	conninfo := fmt.Sprintf("user=%s dbname=%s host=%s password=%s sslmode=%s",
		params["user"], u.Path, orDefault(u.Host, "localhost"), params["password"], orDefault(params["sslmode"], "require"))
	maxConns := 8
	return Open(conninfo, maxConns)
}

func orDefault(v, dflt string) string {
	if v == "" {
		return dflt
	}
	return v
}

// Open returns an Engine backed by the PostgreSQL database reachable via
// conninfo, creating the schema if absent. maxConns bounds both the
// underlying connection pool and the number of concurrent transactions.
func Open(conninfo string, maxConns int) (*sqlkv.Engine, error) {
	db, err := sql.Open("postgres", conninfo)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxConns)
	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgreskv: creating schema: %w", err)
	}
	return sqlkv.New(db, dialect, "rows", int64(maxConns)), nil
}
