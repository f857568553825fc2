package multiplexer

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported database drivers
const (
	DriverSQLite3  = "sqlite3"
	DriverPostgres = "postgres"
)

// A DB is a database used for the ban list and the journal
type DB struct {
	*sql.DB
	driver string
}

// OpenSQLite3 opens and returns a SQLite3 database
// The parent directory of path is created if necessary
func OpenSQLite3(path, initSQL string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0775); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(DriverSQLite3, path)
	if err != nil {
		return nil, err
	}

	r := &DB{DB: db, driver: DriverSQLite3}
	if err := r.init(initSQL); err != nil {
		db.Close()
		return nil, err
	}

	return r, nil
}

// OpenPSQL opens and returns a PostgreSQL database
func OpenPSQL(host, name, user, password string, port uint16, initSQL string) (*DB, error) {
	psqlconn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable", host, port, user, password, name)

	db, err := sql.Open(DriverPostgres, psqlconn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	r := &DB{DB: db, driver: DriverPostgres}
	if err := r.init(initSQL); err != nil {
		db.Close()
		return nil, err
	}

	return r, nil
}

// OpenConfigDB opens the database described by the storage section of c
func OpenConfigDB(c *Config) (*DB, error) {
	switch driver := c.String("storage:driver", DriverSQLite3); driver {
	case DriverSQLite3:
		return OpenSQLite3(c.String("storage:path", "storage/multiplexer.sqlite"), "")
	case DriverPostgres:
		return OpenPSQL(
			c.String("storage:host", "localhost"),
			c.String("storage:name", "multiplexer"),
			c.String("storage:user", "multiplexer"),
			c.String("storage:password", ""),
			uint16(c.Int("storage:port", 5432)),
			"",
		)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

func (db *DB) init(initSQL string) error {
	if initSQL == "" {
		return nil
	}

	_, err := db.Exec(initSQL)
	return err
}

// Driver returns the name of the database driver
func (db *DB) Driver() string { return db.driver }

// Rebind rewrites ? placeholders for the driver of db
func (db *DB) Rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}

	return b.String()
}

// Exec executes a statement with ? placeholders
func (db *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return db.DB.Exec(db.Rebind(query), args...)
}

// Query executes a query with ? placeholders
func (db *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return db.DB.Query(db.Rebind(query), args...)
}

// QueryRow executes a query with ? placeholders and stores the results
func (db *DB) QueryRow(query string, values []interface{}, results ...interface{}) error {
	return db.DB.QueryRow(db.Rebind(query), values...).Scan(results...)
}
