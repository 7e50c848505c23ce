package db

import (
	"database/sql"
	"strings"
	"time"

	"github.com/pborman/uuid"
)

const (
	PendingRackStatus = "pending"
	OnlineRackStatus  = "online"
	OfflineRackStatus = "offline"
	FailingRackStatus = "failing"
)

// A Rack is one rack controller agent known to the region.  Liveness
// is tracked by last_seen_at; the core marks racks offline when they
// stop checking in.
type Rack struct {
	UUID       string `json:"uuid"`
	Name       string `json:"name"`
	Address    string `json:"address"`
	Status     string `json:"status"`
	LastSeenAt int64  `json:"last_seen_at,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

func (r *Rack) Live() bool {
	return r.Status == OnlineRackStatus
}

type RackFilter struct {
	UUID     string
	Name     string
	OnlyLive bool
}

func (f *RackFilter) Query() (string, []interface{}) {
	wheres := []string{"k.uuid = k.uuid"}
	var args []interface{}

	if f.UUID != "" {
		wheres = append(wheres, "k.uuid = ?")
		args = append(args, f.UUID)
	}
	if f.Name != "" {
		wheres = append(wheres, "k.name = ?")
		args = append(args, f.Name)
	}
	if f.OnlyLive {
		wheres = append(wheres, "k.status = 'online'")
	}

	return `
	   SELECT k.uuid, k.name, k.address, k.status, k.last_seen_at, k.last_error
	     FROM racks k
	    WHERE ` + strings.Join(wheres, " AND ") + `
	 ORDER BY k.name ASC`, args
}

func (db *DB) GetAllRacks(filter *RackFilter) ([]*Rack, error) {
	if filter == nil {
		filter = &RackFilter{}
	}

	l := []*Rack{}
	query, args := filter.Query()
	r, err := db.Query(query, args...)
	if err != nil {
		return l, err
	}
	defer r.Close()

	for r.Next() {
		rack := &Rack{}
		var seen sql.NullInt64
		if err = r.Scan(&rack.UUID, &rack.Name, &rack.Address,
			&rack.Status, &seen, &rack.LastError); err != nil {
			return l, err
		}
		if seen.Valid {
			rack.LastSeenAt = seen.Int64
		}
		l = append(l, rack)
	}

	return l, nil
}

func (db *DB) GetRack(id string) (*Rack, error) {
	all, err := db.GetAllRacks(&RackFilter{UUID: id})
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all[0], nil
}

// RegisterRack records a new rack, or re-registers a known one by
// name (the address may have changed).  Registration by name keeps a
// rebuilt rack controller attached to its history.
func (db *DB) RegisterRack(name, address string) (*Rack, error) {
	var rack *Rack
	err := db.exclusively(func() error {
		existing, err := db.GetAllRacks(&RackFilter{Name: name})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			rack = existing[0]
			rack.Address = address
			return db.Exec(`UPDATE racks SET address = ? WHERE uuid = ?`,
				address, rack.UUID)
		}

		id := uuid.NewRandom().String()
		err = db.Exec(
			`INSERT INTO racks (uuid, name, address, status) VALUES (?, ?, ?, ?)`,
			id, name, address, PendingRackStatus,
		)
		if err != nil {
			return err
		}
		rack, err = db.GetRack(id)
		return err
	})
	return rack, err
}

func (db *DB) MarkRackSeen(id string) error {
	return db.Exec(
		`UPDATE racks SET status = ?, last_seen_at = ?, last_error = '' WHERE uuid = ?`,
		OnlineRackStatus, time.Now().Unix(), id,
	)
}

func (db *DB) MarkRackFailing(id, cause string) error {
	return db.Exec(
		`UPDATE racks SET status = ?, last_error = ? WHERE uuid = ?`,
		FailingRackStatus, cause, id,
	)
}

// MarkStaleRacksOffline flips racks that have not checked in within
// the grace window to offline, so the topology router stops handing
// them work.
func (db *DB) MarkStaleRacksOffline(grace time.Duration) error {
	return db.Exec(
		`UPDATE racks SET status = ?
		  WHERE status IN ('online', 'failing')
		    AND (last_seen_at IS NULL OR last_seen_at < ?)`,
		OfflineRackStatus, time.Now().Add(-grace).Unix(),
	)
}

func (db *DB) DeleteRack(id string) error {
	return db.exclusively(func() error {
		if err := db.Exec(`DELETE FROM rack_vlans  WHERE rack_uuid = ?`, id); err != nil {
			return err
		}
		if err := db.Exec(`DELETE FROM rack_routes WHERE rack_uuid = ?`, id); err != nil {
			return err
		}
		if err := db.Exec(`DELETE FROM image_state WHERE rack_uuid = ?`, id); err != nil {
			return err
		}
		return db.Exec(`DELETE FROM racks WHERE uuid = ?`, id)
	})
}
