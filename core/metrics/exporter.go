package metrics

import (
	"net/http"

	"github.com/jhunt/go-log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anvilproject/anvil/core/bus"
)

type Exporter struct {
	Namespace string
	RackCount int
	RunCount  int

	Username string
	Password string
	Realm    string

	bus          *bus.Bus
	racksGauge   prometheus.Gauge
	runsByStatus *prometheus.GaugeVec
	runsStarted  prometheus.Counter
	runsFailed   prometheus.Counter
	runsDone     prometheus.Counter
	syncedBytes  prometheus.Gauge
}

const (
	racksTotal       = "racks_total"
	runsByStatus     = "runs"
	runsStartedTotal = "runs_started_total"
	runsFailedTotal  = "runs_failed_total"
	runsDoneTotal    = "runs_done_total"
	syncedImageBytes = "synced_image_bytes"
)

func New(endpoint *Exporter) *Exporter {
	if endpoint == nil {
		endpoint = &Exporter{}
	}

	if endpoint.Username == "" {
		endpoint.Username = "prometheus"
	}
	if endpoint.Password == "" {
		endpoint.Password = "anvil"
	}
	if endpoint.Realm == "" {
		endpoint.Realm = "ANVIL Prometheus Exporter"
	}
	if endpoint.Namespace == "" {
		endpoint.Namespace = "anvil"
	}

	endpoint.racksGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: endpoint.Namespace,
			Name:      racksTotal,
			Help:      "How many rack controllers have been registered",
		})

	endpoint.runsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: endpoint.Namespace,
			Name:      runsByStatus,
			Help:      "How many workflow runs exist, by status",
		}, []string{"status"})

	endpoint.runsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: endpoint.Namespace,
			Name:      runsStartedTotal,
			Help:      "How many workflow run attempts have started",
		})

	endpoint.runsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: endpoint.Namespace,
			Name:      runsFailedTotal,
			Help:      "How many workflow runs have failed terminally",
		})

	endpoint.runsDone = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: endpoint.Namespace,
			Name:      runsDoneTotal,
			Help:      "How many workflow runs have succeeded",
		})

	endpoint.syncedBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: endpoint.Namespace,
			Name:      syncedImageBytes,
			Help:      "How many bytes of image blobs are synced across the fleet",
		})

	prometheus.MustRegister(
		endpoint.racksGauge,
		endpoint.runsByStatus,
		endpoint.runsStarted,
		endpoint.runsFailed,
		endpoint.runsDone,
		endpoint.syncedBytes,
	)

	endpoint.racksGauge.Set(float64(endpoint.RackCount))

	return endpoint
}

func (e *Exporter) Inform(mbus *bus.Bus) {
	e.bus = mbus
}

func (e *Exporter) Handler() http.Handler {
	return BasicAuthenticator{
		username: e.Username,
		password: e.Password,
		realm:    e.Realm,
		handler:  promhttp.Handler(),
	}
}

func (e *Exporter) runStatusUpdate(raw interface{}) {
	data, ok := raw.(map[string]interface{})
	if !ok {
		return
	}

	status, _ := data["status"].(string)
	switch status {
	case "running":
		e.runsStarted.Inc()
	case "failed":
		e.runsFailed.Inc()
	case "done":
		e.runsDone.Inc()
	}
	if status != "" {
		e.runsByStatus.WithLabelValues(status).Inc()
	}
	/* the run left its previous status; keep the per-status
	   counts from inflating monotonically */
	if was, _ := data["was"].(string); was != "" {
		e.runsByStatus.WithLabelValues(was).Dec()
	}
}

func (e *Exporter) rackStatusUpdate(raw interface{}) {
	data, ok := raw.(map[string]interface{})
	if !ok {
		return
	}

	switch data["status"] {
	case "online":
		/* registration is idempotent; only count new racks */
		if created, _ := data["new"].(bool); created {
			e.racksGauge.Inc()
		}
	case "deleted":
		e.racksGauge.Dec()
	}
}

func (e *Exporter) imageStateUpdate(raw interface{}) {
	data, ok := raw.(map[string]interface{})
	if !ok {
		return
	}

	if size, ok := data["size"].(float64); ok {
		if data["status"] == "synced" {
			e.syncedBytes.Add(size)
		} else if data["status"] == "deleted" {
			e.syncedBytes.Sub(size)
		}
	}
}

func (e *Exporter) Watch(queues ...string) {
	ch, _, err := e.bus.Register(queues)
	if err != nil {
		log.Infof("unable to register the metrics exporter on the message bus: %s", err)
		return
	}

	for eventObject := range ch {
		switch eventObject.Event {
		case bus.RunStatusUpdateEvent:
			e.runStatusUpdate(eventObject.Data)
		case bus.RackStatusUpdateEvent:
			e.rackStatusUpdate(eventObject.Data)
		case bus.ImageStateUpdateEvent:
			e.imageStateUpdate(eventObject.Data)
		default:
			log.Debugf("ignoring event of type `%s'", eventObject.Event)
		}
	}
}
