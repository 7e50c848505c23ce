package db

import (
	"fmt"
)

// The queries in this file back the topology router: given a machine's
// BMC, which racks can reach it, and how directly?  A rack with an
// interface on the BMC's VLAN gets first claim; racks that merely
// hold a route to the BMC's subnet are the fallback.

func (db *DB) CreateVLAN(id int, name string) error {
	return db.Exec(`INSERT INTO vlans (id, name) VALUES (?, ?)`, id, name)
}

func (db *DB) CreateSubnet(cidr string, vlan int) (int, error) {
	var subnet int
	err := db.exclusively(func() error {
		if err := db.Exec(`INSERT INTO subnets (cidr, vlan_id) VALUES (?, ?)`,
			cidr, vlan); err != nil {
			return err
		}

		r, err := db.Query(`SELECT id FROM subnets WHERE cidr = ?`, cidr)
		if err != nil {
			return err
		}
		defer r.Close()
		if !r.Next() {
			return fmt.Errorf("subnet %s vanished after insert", cidr)
		}
		return r.Scan(&subnet)
	})
	return subnet, err
}

func (db *DB) CreateBMC(systemID, address string, subnet int) error {
	return db.Exec(
		`INSERT INTO bmcs (system_id, address, subnet_id) VALUES (?, ?, ?)`,
		systemID, address, subnet,
	)
}

func (db *DB) AttachRackToVLAN(rack string, vlan int) error {
	return db.Exec(
		`INSERT OR IGNORE INTO rack_vlans (rack_uuid, vlan_id) VALUES (?, ?)`,
		rack, vlan,
	)
}

func (db *DB) AddRackRoute(rack string, subnet int) error {
	return db.Exec(
		`INSERT OR IGNORE INTO rack_routes (rack_uuid, subnet_id) VALUES (?, ?)`,
		rack, subnet,
	)
}

// GetBMCAddress looks up the management address of a machine's BMC.
func (db *DB) GetBMCAddress(systemID string) (string, error) {
	r, err := db.Query(`SELECT address FROM bmcs WHERE system_id = ?`, systemID)
	if err != nil {
		return "", err
	}
	defer r.Close()

	if !r.Next() {
		return "", fmt.Errorf("no BMC on record for machine %s", systemID)
	}

	var address string
	return address, r.Scan(&address)
}

// BMCVLAN resolves the VLAN that a machine's BMC lives on, through
// its subnet.  A machine with no known BMC is an error; the caller
// turns that into a terminal dispatch failure.
func (db *DB) BMCVLAN(systemID string) (int, error) {
	r, err := db.Query(`
	   SELECT s.vlan_id
	     FROM bmcs b INNER JOIN subnets s ON s.id = b.subnet_id
	    WHERE b.system_id = ?`, systemID)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	if !r.Next() {
		return 0, fmt.Errorf("no BMC on record for machine %s", systemID)
	}

	var vlan int
	return vlan, r.Scan(&vlan)
}

// ConnectedRacks lists racks with a direct attachment to the given
// VLAN, regardless of liveness: a VLAN-attached rack owns the queue
// even while its agent is down, and the work waits for it.
func (db *DB) ConnectedRacks(vlan int) ([]string, error) {
	r, err := db.Query(`
	   SELECT k.uuid
	     FROM racks k INNER JOIN rack_vlans rv ON rv.rack_uuid = k.uuid
	    WHERE rv.vlan_id = ?
	 ORDER BY k.name ASC`, vlan)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	l := []string{}
	for r.Next() {
		var id string
		if err = r.Scan(&id); err != nil {
			return l, err
		}
		l = append(l, id)
	}
	return l, nil
}

// RoutableRacks lists racks that hold a route to the subnet of the
// machine's BMC.  With liveOnly set, only racks whose agents are
// currently online are returned; routed delivery has no queue to
// park work on, so a dead rack is no use.
func (db *DB) RoutableRacks(systemID string, liveOnly bool) ([]string, error) {
	query := `
	   SELECT k.uuid
	     FROM bmcs b
	          INNER JOIN rack_routes rr ON rr.subnet_id = b.subnet_id
	          INNER JOIN racks k        ON k.uuid = rr.rack_uuid
	    WHERE b.system_id = ?`
	if liveOnly {
		query += ` AND k.status = 'online'`
	}
	query += ` ORDER BY k.name ASC`

	r, err := db.Query(query, systemID)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	l := []string{}
	for r.Next() {
		var id string
		if err = r.Scan(&id); err != nil {
			return l, err
		}
		l = append(l, id)
	}
	return l, nil
}
