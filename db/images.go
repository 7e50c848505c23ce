package db

import (
	"time"

	"github.com/anvilproject/anvil/catalog"
)

const (
	SyncedImageStatus   = "synced"
	SyncingImageStatus  = "syncing"
	OutdatedImageStatus = "outdated"
)

// ImageState records which image blobs each rack currently holds, as
// last reported by a sync run.  It is observational: the cache on the
// rack is the source of truth, this table is what the region believes.
type ImageState struct {
	RackUUID string            `json:"rack_uuid"`
	Spec     catalog.ImageSpec `json:"spec"`
	SHA256   string            `json:"sha256"`
	Size     int64             `json:"size"`
	Status   string            `json:"status"`
}

func (db *DB) RecordImageState(rack string, spec catalog.ImageSpec, sha256 string, size int64, status string) error {
	return db.Exec(
		`INSERT INTO image_state (rack_uuid, os, arch, subarch, kflavor, release, label,
		                          sha256, size, status, updated_at)
		                  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (rack_uuid, os, arch, subarch, kflavor, release, label)
		   DO UPDATE SET sha256 = ?, size = ?, status = ?, updated_at = ?`,
		rack, spec.OS, spec.Arch, spec.SubArch, spec.KFlavor, spec.Release, spec.Label,
		sha256, size, status, time.Now().Unix(),
		sha256, size, status, time.Now().Unix(),
	)
}

func (db *DB) DeleteImageState(rack string, spec catalog.ImageSpec) error {
	return db.Exec(
		`DELETE FROM image_state
		  WHERE rack_uuid = ? AND os = ? AND arch = ? AND subarch = ?
		    AND kflavor = ? AND release = ? AND label = ?`,
		rack, spec.OS, spec.Arch, spec.SubArch, spec.KFlavor, spec.Release, spec.Label,
	)
}

func (db *DB) GetImageStates(rack string) ([]*ImageState, error) {
	r, err := db.Query(`
	   SELECT rack_uuid, os, arch, subarch, kflavor, release, label,
	          sha256, size, status
	     FROM image_state
	    WHERE rack_uuid = ?
	 ORDER BY os, arch, subarch, kflavor, release, label`, rack)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	l := []*ImageState{}
	for r.Next() {
		st := &ImageState{}
		if err = r.Scan(&st.RackUUID,
			&st.Spec.OS, &st.Spec.Arch, &st.Spec.SubArch,
			&st.Spec.KFlavor, &st.Spec.Release, &st.Spec.Label,
			&st.SHA256, &st.Size, &st.Status); err != nil {
			return l, err
		}
		l = append(l, st)
	}
	return l, nil
}

// ImageIndexForRack reconstructs a catalog index from the recorded
// state, for comparing against the catalog of record when deciding
// what a sync run still has to do.
func (db *DB) ImageIndexForRack(rack string) (*catalog.Index, error) {
	states, err := db.GetImageStates(rack)
	if err != nil {
		return nil, err
	}

	idx := catalog.NewIndex()
	for _, st := range states {
		idx.Set(st.Spec, catalog.Resource{
			"sha256": st.SHA256,
			"size":   st.Size,
		})
	}
	return idx, nil
}
