package db

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/jhunt/go-log"
)

type DB struct {
	connection *sql.DB
	lock       sync.Mutex

	Driver string
	DSN    string

	qCache map[string]*sql.Stmt
}

// Connect opens the region database (SQLite) and prepares the
// statement cache.
func Connect(dsn string) (*DB, error) {
	db := &DB{
		Driver: "sqlite3",
		DSN:    dsn,
	}

	connection, err := sql.Open(db.Driver, db.DSN)
	if err != nil {
		return nil, err
	}

	db.connection = connection
	db.qCache = make(map[string]*sql.Stmt)
	return db, nil
}

func (db *DB) Connected() bool {
	return db.connection != nil
}

func (db *DB) Disconnect() error {
	if db.connection != nil {
		if err := db.connection.Close(); err != nil {
			return err
		}
		db.connection = nil
		db.qCache = make(map[string]*sql.Stmt)
	}
	return nil
}

// exclusively serializes mutations that have to read and then write
// as one unit (run coalescing, upserts); SQLite gives us a single
// writer, and this keeps our check-then-insert sequences from
// interleaving.
func (db *DB) exclusively(fn func() error) error {
	db.lock.Lock()
	defer db.lock.Unlock()
	return fn()
}

// Exec runs a non-data query (INSERT, UPDATE, DELETE).
func (db *DB) Exec(query string, args ...interface{}) error {
	s, err := db.statement(query)
	if err != nil {
		return err
	}

	_, err = s.Exec(args...)
	return err
}

// Query runs a data query (SELECT).
func (db *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	s, err := db.statement(query)
	if err != nil {
		return nil, err
	}
	return s.Query(args...)
}

// Count runs a data query and returns how many rows it matched.
func (db *DB) Count(query string, args ...interface{}) (uint, error) {
	r, err := db.Query(query, args...)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	var n uint
	for r.Next() {
		n++
	}
	return n, nil
}

func (db *DB) statement(query string) (*sql.Stmt, error) {
	if db.connection == nil {
		return nil, fmt.Errorf("not connected to the database")
	}

	if q, ok := db.qCache[query]; ok {
		return q, nil
	}

	log.Debugf("preparing SQL: %s", query)
	stmt, err := db.connection.Prepare(query)
	if err != nil {
		return nil, err
	}
	db.qCache[query] = stmt
	return stmt, nil
}
