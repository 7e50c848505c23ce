package core

import (
	"net/http"
	_ "net/http/pprof"
	"os"
	"regexp"
	"time"

	"github.com/jhunt/go-log"

	"github.com/anvilproject/anvil/core/bus"
	"github.com/anvilproject/anvil/core/metrics"
	"github.com/anvilproject/anvil/core/scheduler"
	"github.com/anvilproject/anvil/db"
	"github.com/anvilproject/anvil/topology"
)

func (c *Core) Main() {
	/* print out our configuration */
	c.PrintConfiguration()

	/* we need a usable database first */
	c.ConnectToDatabase()
	c.InitializePrometheus()
	c.ConfigureMessageBus()

	/* startup cleanup tasks */
	c.CleanupLeftoverRuns()

	/* prepare for operation */
	c.Bind()
	c.StartScheduler()
	go c.metrics.Watch("*")

	log.Infof("INITIALIZATION COMPLETE; entering main loop.")

	hype := time.NewTicker(125 * time.Millisecond)
	fast := time.NewTicker(time.Second * time.Duration(c.Config.Scheduler.FastLoop))
	slow := time.NewTicker(time.Second * time.Duration(c.Config.Scheduler.SlowLoop))
	for {
		select {
		case <-hype.C:
			if c.bailout {
				log.Infof("ANVIL BAILOUT triggered; exiting...")
				os.Exit(0)
			}
			c.scheduler.Run()

		case <-fast.C:
			c.RunsToChores()

		case <-slow.C:
			c.MarkStaleRacksOffline()
			c.ScheduleRackSyncRuns()
			c.ScheduleCacheCleanupRuns()
			c.scheduler.Elevate()
			c.TruncateOldRunLogs()
		}
	}
}

func (c *Core) PrintConfiguration() {
	log.Infof("CONFIG | database:          '%s'", sanitize(c.Config.Database))
	log.Infof("CONFIG | scheduler loop:    fast=%ds slow=%ds", c.Config.Scheduler.FastLoop, c.Config.Scheduler.SlowLoop)
	log.Infof("CONFIG | scheduler threads: %d", c.Config.Scheduler.Threads)
	log.Infof("CONFIG | api bind:          '%s'", c.Config.API.Bind)
	log.Infof("CONFIG | websocket timeout: %ds", c.Config.API.Websocket.WriteTimeout)
	log.Infof("CONFIG | websocket ping:    %ds", c.Config.API.Websocket.PingInterval)
	log.Infof("CONFIG | mbus max clients:  %d", c.Config.Mbus.MaxSlots)
	log.Infof("CONFIG | mbus backlog:      %d connections", c.Config.Mbus.Backlog)
	log.Infof("CONFIG | archive:           '%s' (release '%s')", c.Config.Archive.URL, c.Config.Archive.Release)
	log.Infof("CONFIG | workflow attempts: %d", c.Config.Workflow.MaxAttempts)
	log.Infof("CONFIG | liveness grace:    %ds", c.Config.Liveness.Grace)
	log.Infof("CONFIG | run logs kept for: %ds", c.Config.Metadata.Retention.RunLogs)
	log.Infof("")
}

func sanitize(s string) string {
	re := regexp.MustCompile(`(.*:\/\/.*?:)(.*?)(@.*)`)
	if m := re.FindStringSubmatch(s); m != nil {
		replace := m[1]
		for range m[2] {
			replace += "*"
		}
		replace += m[3]
		return replace
	}

	return s
}

func (c *Core) ConnectToDatabase() {
	log.Infof("INITIALIZING: connecting to the database...")
	if c.db != nil {
		log.Alertf("ANOMALY: tried to connect to database, but we're already connected...")
		return
	}

	log.Debugf("connecting to database at %s...", sanitize(c.Config.Database))
	database, err := db.Connect(c.Config.Database)
	c.MaybeTerminate(err)
	c.db = database

	log.Infof("INITIALIZING: deploying database schema...")
	c.MaybeTerminate(c.db.Setup())

	c.router = topology.NewRouter(c.db)

	log.Debugf("connected successfully to database!")
}

func (c *Core) InitializePrometheus() {
	racks, err := c.db.GetAllRacks(nil)
	c.MaybeTerminate(err)

	runs, err := c.db.GetAllRuns(nil)
	c.MaybeTerminate(err)

	c.metrics = metrics.New(&metrics.Exporter{
		Username:  c.Config.Prometheus.Username,
		Password:  c.Config.Prometheus.Password,
		Realm:     c.Config.Prometheus.Realm,
		Namespace: c.Config.Prometheus.Namespace,

		RackCount: len(racks),
		RunCount:  len(runs),
	})
}

func (c *Core) ConfigureMessageBus() {
	log.Infof("INITIALIZING: configuring message bus with %d slots and %d backlog per slot...", c.Config.Mbus.MaxSlots, c.Config.Mbus.Backlog)
	c.bus = bus.New(c.Config.Mbus.MaxSlots, c.Config.Mbus.Backlog)
	c.metrics.Inform(c.bus)
}

func (c *Core) CleanupLeftoverRuns() {
	log.Infof("INITIALIZING: re-queueing runs stranded by the previous process...")

	if err := c.db.CleanupLeftoverRuns(); err != nil {
		log.Errorf("failed to re-queue stranded runs: %s", err)
	}
}

func (c *Core) Bind() {
	pprofMux := http.DefaultServeMux
	http.DefaultServeMux = http.NewServeMux()

	if c.Config.API.PProf != "" {
		log.Infof("INITIALIZING: binding profiling endpoints to %s", c.Config.API.PProf)
		go func() {
			s := &http.Server{
				Addr:    c.Config.API.PProf,
				Handler: pprofMux,
			}
			if err := s.ListenAndServe(); err != nil {
				log.Alertf("ANVIL Core API/pprof failed: %s", err)
			}
		}()
	}

	log.Infof("INITIALIZING: binding the ANVIL Core API on %s...", c.Config.API.Bind)

	http.Handle("/v1/", c.v1API())
	http.Handle("/metrics", c.metrics.Handler())

	go func() {
		if err := http.ListenAndServe(c.Config.API.Bind, nil); err != nil {
			log.Alertf("ANVIL Core API failed: %s", err)
			os.Exit(2)
		}
		log.Infof("shutting down ANVIL Core API...")
	}()
}

func (c *Core) StartScheduler() {
	log.Infof("INITIALIZING: starting up the scheduler...")

	c.scheduler = scheduler.New(c.Config.Scheduler.Threads)
}

func (c *Core) MarkStaleRacksOffline() {
	log.Infof("UPKEEP: marking racks unseen for %ds as offline...", c.Config.Liveness.Grace)

	grace := time.Duration(c.Config.Liveness.Grace) * time.Second
	if err := c.db.MarkStaleRacksOffline(grace); err != nil {
		log.Errorf("failed to mark stale racks offline: %s", err)
	}
}

// ScheduleRackSyncRuns keeps every online rack converging on the
// catalog of record.  Idempotency keys collapse this onto any sync
// already in flight for the rack.
func (c *Core) ScheduleRackSyncRuns() {
	log.Infof("UPKEEP: scheduling image sync runs for online racks...")

	cat, err := c.db.LoadCatalog()
	if err != nil {
		log.Errorf("failed to load the catalog of record: %s", err)
		return
	}
	if cat.Len() == 0 {
		log.Debugf("catalog of record is empty; nothing to sync")
		return
	}

	racks, err := c.db.GetAllRacks(&db.RackFilter{OnlyLive: true})
	if err != nil {
		log.Errorf("failed to list online racks: %s", err)
		return
	}

	for _, rack := range racks {
		if _, err := c.CreateSyncRun(rack.UUID); err != nil {
			log.Errorf("failed to schedule sync run for rack %s: %s", rack.UUID, err)
		}
	}
}

func (c *Core) ScheduleCacheCleanupRuns() {
	log.Infof("UPKEEP: scheduling cache cleanup runs for online racks...")

	racks, err := c.db.GetAllRacks(&db.RackFilter{OnlyLive: true})
	if err != nil {
		log.Errorf("failed to list online racks: %s", err)
		return
	}

	for _, rack := range racks {
		if _, err := c.CreateCleanupRun(rack.UUID); err != nil {
			log.Errorf("failed to schedule cleanup run for rack %s: %s", rack.UUID, err)
		}
	}
}

func (c *Core) TruncateOldRunLogs() {
	when := c.Config.Metadata.Retention.RunLogs
	log.Infof("UPKEEP: truncating logs for runs older than %ds...", when)

	if err := c.db.TruncateRunLogs(when); err != nil {
		log.Errorf("failed to truncate run logs from %ds ago (or more): %s", when, err)
	}
}
