package db

type v1Schema struct{}

func (s v1Schema) Deploy(db *DB) error {
	var err error

	err = db.Exec(`CREATE TABLE schema_info (
	                 version INTEGER
	               )`)
	if err != nil {
		return err
	}

	err = db.Exec(`INSERT INTO schema_info VALUES (1)`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE TABLE runs (
	                 uuid          UUID PRIMARY KEY,
	                 op            TEXT NOT NULL,
	                 idem_key      TEXT NOT NULL,
	                 queue         TEXT NOT NULL,
	                 status        TEXT NOT NULL,
	                 params        TEXT NOT NULL DEFAULT '',
	                 attempts      INTEGER NOT NULL DEFAULT 0,
	                 max_attempts  INTEGER NOT NULL DEFAULT 1,
	                 requested_at  INTEGER NOT NULL,
	                 started_at    INTEGER,
	                 stopped_at    INTEGER,
	                 log           TEXT NOT NULL DEFAULT '',
	                 cause         TEXT NOT NULL DEFAULT ''
	               )`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE TABLE racks (
	                 uuid          UUID PRIMARY KEY,
	                 name          TEXT NOT NULL,
	                 address       TEXT NOT NULL DEFAULT '',
	                 status        TEXT NOT NULL DEFAULT 'pending',
	                 last_seen_at  INTEGER,
	                 last_error    TEXT NOT NULL DEFAULT ''
	               )`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE TABLE vlans (
	                 id    INTEGER PRIMARY KEY,
	                 name  TEXT NOT NULL DEFAULT ''
	               )`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE TABLE subnets (
	                 id       INTEGER PRIMARY KEY AUTOINCREMENT,
	                 cidr     TEXT NOT NULL,
	                 vlan_id  INTEGER NOT NULL REFERENCES vlans (id)
	               )`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE TABLE bmcs (
	                 system_id  TEXT PRIMARY KEY,
	                 address    TEXT NOT NULL DEFAULT '',
	                 subnet_id  INTEGER NOT NULL REFERENCES subnets (id)
	               )`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE TABLE rack_vlans (
	                 rack_uuid  UUID NOT NULL REFERENCES racks (uuid),
	                 vlan_id    INTEGER NOT NULL REFERENCES vlans (id),
	                 UNIQUE (rack_uuid, vlan_id)
	               )`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE TABLE rack_routes (
	                 rack_uuid  UUID NOT NULL REFERENCES racks (uuid),
	                 subnet_id  INTEGER NOT NULL REFERENCES subnets (id),
	                 UNIQUE (rack_uuid, subnet_id)
	               )`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE TABLE image_state (
	                 rack_uuid  UUID NOT NULL REFERENCES racks (uuid),
	                 os         TEXT NOT NULL,
	                 arch       TEXT NOT NULL,
	                 subarch    TEXT NOT NULL,
	                 kflavor    TEXT NOT NULL,
	                 release    TEXT NOT NULL,
	                 label      TEXT NOT NULL,
	                 sha256     TEXT NOT NULL DEFAULT '',
	                 size       INTEGER NOT NULL DEFAULT 0,
	                 status     TEXT NOT NULL DEFAULT 'pending',
	                 updated_at INTEGER NOT NULL,
	                 UNIQUE (rack_uuid, os, arch, subarch, kflavor, release, label)
	               )`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE TABLE catalogs (
	                 id          INTEGER PRIMARY KEY CHECK (id = 1),
	                 body        TEXT NOT NULL,
	                 updated_at  INTEGER NOT NULL
	               )`)
	if err != nil {
		return err
	}

	return nil
}
