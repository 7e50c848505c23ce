package db

import (
	"fmt"
	"sort"
)

var Schemas = map[int]Schema{
	1: v1Schema{},
}

var CurrentSchema = currentSchema()

type Schema interface {
	Deploy(*DB) error
}

func currentSchema() int {
	n := 0
	for v := range Schemas {
		if v > n {
			n = v
		}
	}
	return n
}

// SchemaVersion reports which schema version the database is at; a
// brand new database is at version 0.
func (db *DB) SchemaVersion() (int, error) {
	r, err := db.Query(`SELECT version FROM schema_info LIMIT 1`)
	if err != nil {
		// no schema_info table yet: this is a fresh database
		return 0, nil
	}
	defer r.Close()

	if !r.Next() {
		return 0, nil
	}

	var v int
	if err = r.Scan(&v); err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("database reports invalid schema version %d", v)
	}
	return v, nil
}

// Setup deploys every schema version the database has not yet seen,
// in order.
func (db *DB) Setup() error {
	current, err := db.SchemaVersion()
	if err != nil {
		return err
	}

	if current > CurrentSchema {
		return fmt.Errorf("database schema version %d is newer than this version of ANVIL (%d)", current, CurrentSchema)
	}

	var versions []int
	for v := range Schemas {
		versions = append(versions, v)
	}
	sort.Ints(versions)

	for _, version := range versions {
		if current < version {
			if err := Schemas[version].Deploy(db); err != nil {
				return err
			}
		}
	}

	return nil
}
