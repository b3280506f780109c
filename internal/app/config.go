package app

import (
	"time"

	"github.com/gitpod-io/gitpod-sub012/internal/instance"
	"github.com/gitpod-io/gitpod-sub012/internal/publisher"
)

type Config struct {
	// Installation names this application cluster. Clusters registered here
	// are governed by it and its own app-cluster sweep covers this region.
	Installation       string `envconfig:"BRIDGE_INSTALLATION" required:"true"`
	StaticClustersFile string `envconfig:"BRIDGE_STATIC_CLUSTERS_FILE"`

	// An empty DSN runs on the in-memory store.
	DBDSN      string `envconfig:"BRIDGE_DB_DSN"`
	DBMaxConns int32  `envconfig:"BRIDGE_DB_MAX_CONNS" default:"10"`

	HTTPAddr        string        `envconfig:"BRIDGE_HTTP_ADDR" default:"0.0.0.0:8080"`
	AdmissionAddr   string        `envconfig:"BRIDGE_ADMISSION_ADDR" default:"0.0.0.0:8081"`
	MetricsAddr     string        `envconfig:"BRIDGE_METRICS_ADDR" default:"0.0.0.0:9090"`
	LogLevel        string        `envconfig:"BRIDGE_LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `envconfig:"BRIDGE_SHUTDOWN_TIMEOUT" default:"30s"`

	ReconcileInterval      time.Duration `envconfig:"BRIDGE_RECONCILE_INTERVAL" default:"60s"`
	ClassDiscoveryInterval time.Duration `envconfig:"BRIDGE_CLASS_DISCOVERY_INTERVAL" default:"5m"`
	DescribeTimeout        time.Duration `envconfig:"BRIDGE_DESCRIBE_TIMEOUT" default:"10s"`
	ProbeTimeout           time.Duration `envconfig:"BRIDGE_PROBE_TIMEOUT" default:"10s"`
	StreamRetryDelay       time.Duration `envconfig:"BRIDGE_STREAM_RETRY_DELAY" default:"5s"`

	ControllerInterval      time.Duration `envconfig:"BRIDGE_CONTROLLER_INTERVAL" default:"60s"`
	ControllerMaxDisconnect time.Duration `envconfig:"BRIDGE_CONTROLLER_MAX_DISCONNECT" default:"150s"`
	PendingPhaseTimeout     time.Duration `envconfig:"BRIDGE_TIMEOUT_PENDING" default:"1h"`
	StoppingPhaseTimeout    time.Duration `envconfig:"BRIDGE_TIMEOUT_STOPPING" default:"1h"`
	PreparingPhaseTimeout   time.Duration `envconfig:"BRIDGE_TIMEOUT_PREPARING" default:"2h"`
	BuildingPhaseTimeout    time.Duration `envconfig:"BRIDGE_TIMEOUT_BUILDING" default:"2h"`
	UnknownPhaseTimeout     time.Duration `envconfig:"BRIDGE_TIMEOUT_UNKNOWN" default:"1h"`

	Publisher     string `envconfig:"BRIDGE_PUBLISHER" default:"log"`
	RedisAddr     string `envconfig:"BRIDGE_REDIS_ADDR"`
	RedisPassword string `envconfig:"BRIDGE_REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"BRIDGE_REDIS_DB" default:"0"`
	NATSURL       string `envconfig:"BRIDGE_NATS_URL" default:"nats://127.0.0.1:4222"`

	AnalyticsWriter    string  `envconfig:"BRIDGE_ANALYTICS_WRITER" default:"log"`
	TracingExporter    string  `envconfig:"BRIDGE_TRACING_EXPORTER" default:"none"`
	TracingSampleRatio float64 `envconfig:"BRIDGE_TRACING_SAMPLE_RATIO" default:"1"`
}

func (c Config) controller() instance.Config {
	return instance.Config{
		Interval:      c.ControllerInterval,
		MaxDisconnect: c.ControllerMaxDisconnect,
		Timeouts: instance.Timeouts{
			PendingPhase:   c.PendingPhaseTimeout,
			StoppingPhase:  c.StoppingPhaseTimeout,
			PreparingPhase: c.PreparingPhaseTimeout,
			BuildingPhase:  c.BuildingPhaseTimeout,
			UnknownPhase:   c.UnknownPhaseTimeout,
		},
	}
}

func (c Config) publisher() publisher.Config {
	return publisher.Config{
		Kind:          c.Publisher,
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
		NATSURL:       c.NATSURL,
	}
}
