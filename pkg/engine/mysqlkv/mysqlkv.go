// Package mysqlkv wires pkg/engine/sqlkv to MySQL via
// github.com/go-sql-driver/mysql, grounded on perkeep.org/pkg/sorted/mysql
// — including that package's use of MySQL's native "REPLACE INTO" upsert
// syntax, the one dialect in this module's SQL backends that doesn't need
// an explicit ON CONFLICT/DO UPDATE clause.
package mysqlkv

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/go-sql-driver/mysql"

	"github.com/dw/acidkv/pkg/engine"
	"github.com/dw/acidkv/pkg/engine/sqlkv"
)

func init() {
	engine.Register("mysql", open)
}

var dialect = sqlkv.Dialect{
	Name: "mysql",
	Upsert: func(table string) string {
		return fmt.Sprintf("REPLACE INTO %s (k, v) VALUES (?, ?)", table)
	},
}

const createTable = `CREATE TABLE IF NOT EXISTS rows (k VARBINARY(3072) NOT NULL PRIMARY KEY, v LONGBLOB NOT NULL)`

func open(u *url.URL, params map[string]string) (engine.Engine, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s", params["user"], params["password"], u.Host, u.Path)
	maxConns := 8
	return Open(dsn, maxConns)
}

// Open returns an Engine backed by the MySQL database reachable via dsn
// (in github.com/go-sql-driver/mysql's "user:password@tcp(host)/db" form),
// creating the schema if absent.
func Open(dsn string, maxConns int) (*sqlkv.Engine, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxConns)
	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysqlkv: creating schema: %w", err)
	}
	return sqlkv.New(db, dialect, "rows", int64(maxConns)), nil
}
