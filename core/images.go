package core

import (
	"encoding/json"
	"fmt"

	"github.com/anvilproject/anvil/catalog"
	"github.com/anvilproject/anvil/core/bus"
	"github.com/anvilproject/anvil/db"
)

// CreateDownloadRun asks a rack to fetch one image's boot package
// from the upstream archive into its local cache.
func (c *Core) CreateDownloadRun(rack string, spec catalog.ImageSpec, pkg string) (*db.Run, error) {
	params, err := json.Marshal(struct {
		Spec    catalog.ImageSpec `json:"spec"`
		Package string            `json:"package,omitempty"`
		Archive string            `json:"archive"`
		Release string            `json:"release"`
	}{
		Spec:    spec,
		Package: pkg,
		Archive: c.Config.Archive.URL,
		Release: c.Config.Archive.Release,
	})
	if err != nil {
		return nil, err
	}

	return c.db.CreateRun(
		db.DownloadOperation,
		fmt.Sprintf("download:%s:%s", rack, spec),
		"agent:"+rack,
		string(params),
		c.Config.Workflow.MaxAttempts,
	)
}

// CreateSyncRun asks a rack to converge its local image cache on the
// catalog of record.  The catalog rides along in the run parameters,
// so the run describes a fixed target state even if the catalog
// changes while it waits.
func (c *Core) CreateSyncRun(rack string) (*db.Run, error) {
	cat, err := c.db.LoadCatalog()
	if err != nil {
		return nil, err
	}
	body, err := cat.Dump()
	if err != nil {
		return nil, err
	}

	params, err := json.Marshal(struct {
		Catalog json.RawMessage `json:"catalog"`
		Archive string          `json:"archive"`
		Release string          `json:"release"`
	}{
		Catalog: body,
		Archive: c.Config.Archive.URL,
		Release: c.Config.Archive.Release,
	})
	if err != nil {
		return nil, err
	}

	return c.db.CreateRun(
		db.SyncOperation,
		"sync:"+rack,
		"agent:"+rack,
		string(params),
		c.Config.Workflow.MaxAttempts,
	)
}

// CreateCleanupRun asks a rack to sweep snapshots superseded by its
// current one, and then reclaim cache blobs nothing links anymore.
func (c *Core) CreateCleanupRun(rack string) (*db.Run, error) {
	return c.db.CreateRun(
		db.CleanupOperation,
		"cleanup:"+rack,
		"agent:"+rack,
		"",
		c.Config.Workflow.MaxAttempts,
	)
}

// CreateDeleteRun asks a rack to drop one image from its current
// snapshot; the blob itself lingers until a cleanup run reclaims it.
func (c *Core) CreateDeleteRun(rack string, spec catalog.ImageSpec) (*db.Run, error) {
	params, err := json.Marshal(struct {
		Spec catalog.ImageSpec `json:"spec"`
	}{Spec: spec})
	if err != nil {
		return nil, err
	}

	run, err := c.db.CreateRun(
		db.DeleteOperation,
		fmt.Sprintf("delete:%s:%s", rack, spec),
		"agent:"+rack,
		string(params),
		c.Config.Workflow.MaxAttempts,
	)
	if err != nil {
		return nil, err
	}

	var size int64
	if states, err := c.db.GetImageStates(rack); err == nil {
		for _, st := range states {
			if st.Spec == spec {
				size = st.Size
			}
		}
	}

	if err := c.db.DeleteImageState(rack, spec); err != nil {
		return run, err
	}
	c.bus.Send(bus.ImageStateUpdateEvent, "image", map[string]interface{}{
		"rack":   rack,
		"spec":   spec.String(),
		"size":   size,
		"status": "deleted",
	}, "*")
	return run, nil
}
