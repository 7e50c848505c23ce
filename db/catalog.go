package db

import (
	"database/sql"
	"time"

	"github.com/anvilproject/anvil/catalog"
)

// The catalogs table holds a single row: the serialized catalog of
// record.  Saving it and loading it round-trips through the nested
// JSON form, so what is on disk is exactly what the dump/load tooling
// and the rack agents see.

func (db *DB) SaveCatalog(idx *catalog.Index) error {
	body, err := idx.Dump()
	if err != nil {
		return err
	}

	return db.Exec(
		`INSERT INTO catalogs (id, body, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET body = ?, updated_at = ?`,
		string(body), time.Now().Unix(),
		string(body), time.Now().Unix(),
	)
}

// LoadCatalog returns the catalog of record, or an empty index if
// none has ever been saved.
func (db *DB) LoadCatalog() (*catalog.Index, error) {
	r, err := db.Query(`SELECT body FROM catalogs WHERE id = 1`)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if !r.Next() {
		return catalog.NewIndex(), nil
	}

	var body sql.NullString
	if err = r.Scan(&body); err != nil {
		return nil, err
	}
	if !body.Valid || body.String == "" {
		return catalog.NewIndex(), nil
	}

	return catalog.Load([]byte(body.String)), nil
}
