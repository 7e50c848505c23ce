package core

import (
	"encoding/json"
	"strconv"

	"github.com/jhunt/go-log"

	"github.com/anvilproject/anvil/catalog"
	"github.com/anvilproject/anvil/core/bus"
	"github.com/anvilproject/anvil/db"
	"github.com/anvilproject/anvil/route"
	"github.com/anvilproject/anvil/topology"
)

//APIVersion is the maximum supported version of the core ANVIL API.
const APIVersion = 1

func (c *Core) v1API() *route.Router {
	r := &route.Router{
		Debug: c.Config.Debug,
	}

	r.Dispatch("GET /v1/health", func(r *route.Request) { // {{{
		racks, err := c.db.GetAllRacks(nil)
		if err != nil {
			r.Fail(route.Oops(err, "unable to check fleet health"))
			return
		}

		live := 0
		for _, rack := range racks {
			if rack.Live() {
				live++
			}
		}

		r.OK(struct {
			Version string `json:"version"`
			API     int    `json:"api"`
			Racks   int    `json:"racks"`
			Live    int    `json:"live"`
		}{
			Version: Version,
			API:     APIVersion,
			Racks:   len(racks),
			Live:    live,
		})
	})
	// }}}
	r.Dispatch("GET /v1/scheduler", func(r *route.Request) { // {{{
		r.OK(c.scheduler.Status())
	})
	// }}}
	r.Dispatch("GET /v1/mbus", func(r *route.Request) { // {{{
		r.OK(c.bus.DumpState())
	})
	// }}}

	r.Dispatch("GET /v1/runs", func(r *route.Request) { // {{{
		limit, err := strconv.Atoi(r.Param("limit", "0"))
		if err != nil || limit < 0 {
			r.Fail(route.Bad(err, "invalid limit supplied"))
			return
		}

		runs, err := c.db.GetAllRuns(&db.RunFilter{
			ForStatus:  r.Param("status", ""),
			ForOp:      r.Param("op", ""),
			Queue:      r.Param("queue", ""),
			OnlyActive: r.ParamIs("active", "t"),
			Limit:      limit,
		})
		if err != nil {
			r.Fail(route.Oops(err, "unable to retrieve workflow runs"))
			return
		}

		r.OK(runs)
	})
	// }}}
	r.Dispatch("GET /v1/runs/:uuid", func(r *route.Request) { // {{{
		run, err := c.db.GetRun(r.Args[1])
		if err != nil {
			r.Fail(route.Oops(err, "unable to retrieve workflow run"))
			return
		}
		if run == nil {
			r.Fail(route.NotFound(nil, "no such workflow run"))
			return
		}

		r.OK(run)
	})
	// }}}
	r.Dispatch("DELETE /v1/runs/:uuid", func(r *route.Request) { // {{{
		run, err := c.db.GetRun(r.Args[1])
		if err != nil {
			r.Fail(route.Oops(err, "unable to retrieve workflow run"))
			return
		}
		if run == nil {
			r.Fail(route.NotFound(nil, "no such workflow run"))
			return
		}
		if !run.Active() {
			r.Fail(route.Bad(nil, "workflow run %s has already %s", run.UUID, run.Status))
			return
		}

		if err := c.CancelRun(run.UUID); err != nil {
			r.Fail(route.Oops(err, "unable to cancel workflow run"))
			return
		}
		c.bus.Send(bus.RunStatusUpdateEvent, "run", map[string]interface{}{
			"uuid":   run.UUID,
			"op":     run.Op,
			"status": db.CanceledStatus,
			"was":    run.Status,
		}, "*")

		r.Success("canceled workflow run %s", run.UUID)
	})
	// }}}

	r.Dispatch("GET /v1/racks", func(r *route.Request) { // {{{
		racks, err := c.db.GetAllRacks(&db.RackFilter{
			Name:     r.Param("name", ""),
			OnlyLive: r.ParamIs("live", "t"),
		})
		if err != nil {
			r.Fail(route.Oops(err, "unable to retrieve rack registrations"))
			return
		}

		r.OK(racks)
	})
	// }}}
	r.Dispatch("POST /v1/racks", func(r *route.Request) { // {{{
		var in struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		}
		if !r.Payload(&in) {
			return
		}
		if r.Missing("name", in.Name, "address", in.Address) {
			return
		}

		rack, err := c.db.RegisterRack(in.Name, in.Address)
		if err != nil {
			r.Fail(route.Oops(err, "unable to register rack '%s'", in.Name))
			return
		}

		c.bus.Send(bus.RackStatusUpdateEvent, "rack", map[string]interface{}{
			"uuid":   rack.UUID,
			"name":   rack.Name,
			"status": rack.Status,
			"new":    true,
		}, "*")

		r.OK(rack)
	})
	// }}}
	r.Dispatch("GET /v1/racks/:uuid", func(r *route.Request) { // {{{
		rack, err := c.db.GetRack(r.Args[1])
		if err != nil {
			r.Fail(route.Oops(err, "unable to retrieve rack registration"))
			return
		}
		if rack == nil {
			r.Fail(route.NotFound(nil, "no such rack"))
			return
		}

		r.OK(rack)
	})
	// }}}
	r.Dispatch("DELETE /v1/racks/:uuid", func(r *route.Request) { // {{{
		rack, err := c.db.GetRack(r.Args[1])
		if err != nil {
			r.Fail(route.Oops(err, "unable to retrieve rack registration"))
			return
		}
		if rack == nil {
			r.Fail(route.NotFound(nil, "no such rack"))
			return
		}

		if err := c.db.DeleteRack(rack.UUID); err != nil {
			r.Fail(route.Oops(err, "unable to deregister rack %s", rack.UUID))
			return
		}

		c.bus.Send(bus.RackStatusUpdateEvent, "rack", map[string]interface{}{
			"uuid":   rack.UUID,
			"name":   rack.Name,
			"status": "deleted",
		}, "*")

		r.Success("deregistered rack %s", rack.UUID)
	})
	// }}}
	r.Dispatch("POST /v1/racks/:uuid/heartbeat", func(r *route.Request) { // {{{
		rack, err := c.db.GetRack(r.Args[1])
		if err != nil {
			r.Fail(route.Oops(err, "unable to retrieve rack registration"))
			return
		}
		if rack == nil {
			r.Fail(route.NotFound(nil, "no such rack"))
			return
		}

		var in struct {
			Images []struct {
				Spec   catalog.ImageSpec `json:"spec"`
				SHA256 string            `json:"sha256"`
				Size   int64             `json:"size"`
			} `json:"images"`
		}
		if !r.Payload(&in) {
			return
		}

		if err := c.db.MarkRackSeen(rack.UUID); err != nil {
			r.Fail(route.Oops(err, "unable to record rack heartbeat"))
			return
		}

		/* only a changed report is news; re-announcing every
		   heartbeat would double-count synced bytes downstream */
		known := make(map[catalog.ImageSpec]string)
		if states, err := c.db.GetImageStates(rack.UUID); err == nil {
			for _, st := range states {
				known[st.Spec] = st.SHA256
			}
		}

		for _, img := range in.Images {
			if err := c.db.RecordImageState(rack.UUID, img.Spec, img.SHA256, img.Size, db.SyncedImageStatus); err != nil {
				log.Errorf("unable to record image state for rack %s: %s", rack.UUID, err)
				continue
			}
			if known[img.Spec] == img.SHA256 {
				continue
			}
			c.bus.Send(bus.ImageStateUpdateEvent, "image", map[string]interface{}{
				"rack":   rack.UUID,
				"spec":   img.Spec.String(),
				"sha256": img.SHA256,
				"size":   img.Size,
				"status": db.SyncedImageStatus,
			}, "*")
		}

		c.bus.Send(bus.RackStatusUpdateEvent, "rack", map[string]interface{}{
			"uuid":   rack.UUID,
			"name":   rack.Name,
			"status": db.OnlineRackStatus,
		}, "*")

		r.Success("rack %s heartbeat recorded", rack.UUID)
	})
	// }}}
	r.Dispatch("GET /v1/racks/:uuid/images", func(r *route.Request) { // {{{
		states, err := c.db.GetImageStates(r.Args[1])
		if err != nil {
			r.Fail(route.Oops(err, "unable to retrieve image state for rack"))
			return
		}

		r.OK(states)
	})
	// }}}
	r.Dispatch("POST /v1/racks/:uuid/vlans", func(r *route.Request) { // {{{
		var in struct {
			VLAN *int `json:"vlan"`
		}
		if !r.Payload(&in) {
			return
		}
		if in.VLAN == nil {
			r.Fail(route.Bad(nil, "no vlan supplied"))
			return
		}

		if err := c.db.AttachRackToVLAN(r.Args[1], *in.VLAN); err != nil {
			r.Fail(route.Oops(err, "unable to attach rack to VLAN %d", *in.VLAN))
			return
		}

		r.Success("attached rack %s to VLAN %d", r.Args[1], *in.VLAN)
	})
	// }}}
	r.Dispatch("POST /v1/racks/:uuid/routes", func(r *route.Request) { // {{{
		var in struct {
			Subnet *int `json:"subnet"`
		}
		if !r.Payload(&in) {
			return
		}
		if in.Subnet == nil {
			r.Fail(route.Bad(nil, "no subnet supplied"))
			return
		}

		if err := c.db.AddRackRoute(r.Args[1], *in.Subnet); err != nil {
			r.Fail(route.Oops(err, "unable to add route from rack %s to subnet %d", r.Args[1], *in.Subnet))
			return
		}

		r.Success("added route from rack %s to subnet %d", r.Args[1], *in.Subnet)
	})
	// }}}

	r.Dispatch("POST /v1/vlans", func(r *route.Request) { // {{{
		var in struct {
			ID   *int   `json:"id"`
			Name string `json:"name"`
		}
		if !r.Payload(&in) {
			return
		}
		if in.ID == nil {
			r.Fail(route.Bad(nil, "no vlan id supplied"))
			return
		}

		if err := c.db.CreateVLAN(*in.ID, in.Name); err != nil {
			r.Fail(route.Oops(err, "unable to create VLAN %d", *in.ID))
			return
		}

		r.Success("created VLAN %d", *in.ID)
	})
	// }}}
	r.Dispatch("POST /v1/subnets", func(r *route.Request) { // {{{
		var in struct {
			CIDR string `json:"cidr"`
			VLAN *int   `json:"vlan"`
		}
		if !r.Payload(&in) {
			return
		}
		if r.Missing("cidr", in.CIDR) {
			return
		}
		if in.VLAN == nil {
			r.Fail(route.Bad(nil, "no vlan supplied"))
			return
		}

		id, err := c.db.CreateSubnet(in.CIDR, *in.VLAN)
		if err != nil {
			r.Fail(route.Oops(err, "unable to create subnet %s", in.CIDR))
			return
		}

		r.OK(struct {
			ID   int    `json:"id"`
			CIDR string `json:"cidr"`
		}{ID: id, CIDR: in.CIDR})
	})
	// }}}
	r.Dispatch("POST /v1/bmcs", func(r *route.Request) { // {{{
		var in struct {
			SystemID string `json:"system_id"`
			Address  string `json:"address"`
			Subnet   *int   `json:"subnet"`
		}
		if !r.Payload(&in) {
			return
		}
		if r.Missing("system_id", in.SystemID, "address", in.Address) {
			return
		}
		if in.Subnet == nil {
			r.Fail(route.Bad(nil, "no subnet supplied"))
			return
		}

		if err := c.db.CreateBMC(in.SystemID, in.Address, *in.Subnet); err != nil {
			r.Fail(route.Oops(err, "unable to record BMC for machine %s", in.SystemID))
			return
		}

		r.Success("recorded BMC for machine %s", in.SystemID)
	})
	// }}}

	r.Dispatch("GET /v1/catalog", func(r *route.Request) { // {{{
		cat, err := c.db.LoadCatalog()
		if err != nil {
			r.Fail(route.Oops(err, "unable to load the catalog of record"))
			return
		}

		body, err := cat.Dump()
		if err != nil {
			r.Fail(route.Oops(err, "unable to serialize the catalog of record"))
			return
		}

		r.OKRaw(body)
	})
	// }}}
	r.Dispatch("POST /v1/catalog", func(r *route.Request) { // {{{
		var raw map[string]interface{}
		if !r.Payload(&raw) {
			return
		}

		b, err := json.Marshal(raw)
		if err != nil {
			r.Fail(route.Bad(err, "malformed image catalog supplied"))
			return
		}

		cat := catalog.Load(b)
		if err := c.db.SaveCatalog(cat); err != nil {
			r.Fail(route.Oops(err, "unable to save the catalog of record"))
			return
		}

		c.bus.Send(bus.CatalogUpdateEvent, "catalog", map[string]interface{}{
			"images": cat.Len(),
		}, "*")

		r.Success("catalog of record updated; %d images", cat.Len())
	})
	// }}}

	r.Dispatch("POST /v1/images", func(r *route.Request) { // {{{
		var in struct {
			Rack    string            `json:"rack"`
			Spec    catalog.ImageSpec `json:"spec"`
			Package string            `json:"package"`
		}
		if !r.Payload(&in) {
			return
		}
		if r.Missing("rack", in.Rack, "os", in.Spec.OS, "arch", in.Spec.Arch, "release", in.Spec.Release) {
			return
		}

		run, err := c.CreateDownloadRun(in.Rack, in.Spec, in.Package)
		if err != nil {
			r.Fail(route.Oops(err, "unable to schedule image download"))
			return
		}

		r.OK(run)
	})
	// }}}
	r.Dispatch("POST /v1/images/delete", func(r *route.Request) { // {{{
		var in struct {
			Rack string            `json:"rack"`
			Spec catalog.ImageSpec `json:"spec"`
		}
		if !r.Payload(&in) {
			return
		}
		if r.Missing("rack", in.Rack, "os", in.Spec.OS, "arch", in.Spec.Arch, "release", in.Spec.Release) {
			return
		}

		run, err := c.CreateDeleteRun(in.Rack, in.Spec)
		if err != nil {
			r.Fail(route.Oops(err, "unable to schedule image deletion"))
			return
		}

		r.OK(run)
	})
	// }}}
	r.Dispatch("POST /v1/racks/:uuid/sync", func(r *route.Request) { // {{{
		rack, err := c.db.GetRack(r.Args[1])
		if err != nil {
			r.Fail(route.Oops(err, "unable to retrieve rack information"))
			return
		}
		if rack == nil {
			r.Fail(route.NotFound(nil, "no such rack"))
			return
		}

		run, err := c.CreateSyncRun(r.Args[1])
		if err != nil {
			r.Fail(route.Oops(err, "unable to schedule image sync"))
			return
		}

		r.OK(run)
	})
	// }}}
	r.Dispatch("POST /v1/racks/:uuid/cleanup", func(r *route.Request) { // {{{
		rack, err := c.db.GetRack(r.Args[1])
		if err != nil {
			r.Fail(route.Oops(err, "unable to retrieve rack information"))
			return
		}
		if rack == nil {
			r.Fail(route.NotFound(nil, "no such rack"))
			return
		}

		run, err := c.CreateCleanupRun(r.Args[1])
		if err != nil {
			r.Fail(route.Oops(err, "unable to schedule cache cleanup"))
			return
		}

		r.OK(run)
	})
	// }}}

	r.Dispatch("POST /v1/power", func(r *route.Request) { // {{{
		var in struct {
			Action  string   `json:"action"`
			Targets []string `json:"targets"`
		}
		if !r.Payload(&in) {
			return
		}
		if r.Missing("action", in.Action) {
			return
		}
		if len(in.Targets) == 0 {
			r.Fail(route.Bad(nil, "no target machines supplied"))
			return
		}

		action, err := topology.ParseAction(in.Action)
		if err != nil {
			r.Fail(route.Bad(err, "unrecognized power action '%s'", in.Action))
			return
		}

		runs, errs := c.DispatchPower(action, in.Targets)

		problems := make([]string, len(errs))
		for i, err := range errs {
			problems[i] = err.Error()
		}

		r.OK(struct {
			Runs     []*db.Run `json:"runs"`
			Problems []string  `json:"problems,omitempty"`
		}{Runs: runs, Problems: problems})
	})
	// }}}

	r.Dispatch("GET /v1/events", func(r *route.Request) { // {{{
		c.v1StreamEvents(r)
	})
	// }}}

	return r
}
