package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// admin API metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"route", "method", "code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bridge_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	ActiveRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_active_requests",
		Help: "Current in-flight requests",
	})

	// status stream metrics
	StatusUpdatesStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_status_updates_started_total",
		Help: "Status updates picked up for processing",
	}, []string{"cluster"})

	StatusUpdatesCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_status_updates_completed_total",
		Help: "Status updates finished, by outcome",
	}, []string{"cluster", "outcome"})

	StatusUpdateDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bridge_status_update_duration_seconds",
		Help:    "Time to apply one status update",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"cluster"})

	StatusUpdatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_status_updates_total",
		Help: "Status updates received, by whether the instance was known",
	}, []string{"cluster", "known"})

	StaleStatusUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_stale_status_updates_total",
		Help: "Status updates discarded because a newer version was already stored",
	}, []string{"kind"})

	ConsistencyViolations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_consistency_violations_total",
		Help: "Status updates that contradicted stored state",
	}, []string{"kind"})

	StreamReconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_stream_reconnects_total",
		Help: "Status stream reconnect attempts",
	}, []string{"cluster"})

	WorkspaceStartupSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bridge_workspace_startup_seconds",
		Help:    "Time from instance creation to running",
		Buckets: []float64{5, 10, 15, 30, 60, 120, 180, 300, 600, 1200},
	}, []string{"type"})

	FirstUserActivitySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bridge_first_user_activity_seconds",
		Help:    "Time from instance start to first user activity",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	// timeout controller metrics
	InstancesMarkedStopped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_instances_marked_stopped_total",
		Help: "Instances force-stopped by the bridge",
	}, []string{"previous_phase"})

	// registry metrics
	ActiveBridges = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_active_bridges",
		Help: "Workspace clusters with a running bridge",
	})

	ClusterScore = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bridge_cluster_score",
		Help: "Scheduling score of a bridged cluster",
	}, []string{"cluster"})

	ClusterMaxScore = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bridge_cluster_max_score",
		Help: "Maximum scheduling score of a bridged cluster",
	}, []string{"cluster"})

	ClusterCordoned = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bridge_cluster_cordoned",
		Help: "1 if the cluster is cordoned",
	}, []string{"cluster"})

	ReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_reconcile_total",
		Help: "Bridge reconcile runs, by outcome",
	}, []string{"outcome"})

	// admission + outbound
	AdmissionRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_admission_requests_total",
		Help: "Cluster admission RPCs, by method and result code",
	}, []string{"method", "code"})

	PublishFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_publish_failures_total",
		Help: "Notifications that could not be published",
	}, []string{"kind"})
)

func RegisterAll(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, ActiveRequests,
		StatusUpdatesStarted, StatusUpdatesCompleted, StatusUpdateDuration, StatusUpdatesTotal,
		StaleStatusUpdates, ConsistencyViolations, StreamReconnects,
		WorkspaceStartupSeconds, FirstUserActivitySeconds, InstancesMarkedStopped,
		ActiveBridges, ClusterScore, ClusterMaxScore, ClusterCordoned, ReconcileTotal,
		AdmissionRequestsTotal, PublishFailures,
	)
}
