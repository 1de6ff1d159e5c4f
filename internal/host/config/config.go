// Package config loads the multipath host's YAML configuration, in the
// same shape as the teacher's cmd/session-service/config package: one
// struct tree with per-concern sub-configs and a DefaultConfig fallback
// for when no file is present.
package config

import "time"

// Config is the root configuration for a multipath-host process.
type Config struct {
	Server    ServerConfig    `yaml:"Server"`
	Engine    EngineConfig    `yaml:"Engine"`
	Auth      AuthConfig      `yaml:"Auth"`
	Discovery DiscoveryConfig `yaml:"Discovery"`
	Log       LogConfig       `yaml:"Log"`
	Metrics   MetricsConfig   `yaml:"Metrics"`
	Tracing   TracingConfig   `yaml:"Tracing"`
	FEC       FECConfig       `yaml:"FEC"`
}

// ServerConfig addresses the host's own listener, used for the Connect
// handshake. /metrics is served on MetricsConfig's address instead.
type ServerConfig struct {
	Host string `yaml:"Host"`
	Port int    `yaml:"Port"`
}

// EngineConfig carries the engine.Config tunables plus the host's own
// drive-loop pacing.
type EngineConfig struct {
	PayloadWindowCapacity int           `yaml:"PayloadWindowCapacity"`
	ReceiveWindowCapacity int           `yaml:"ReceiveWindowCapacity"`
	DefaultRTO            time.Duration `yaml:"DefaultRTO"`
	SchedulerLearningRate float64       `yaml:"SchedulerLearningRate"`
	TickInterval          time.Duration `yaml:"TickInterval"`
	SendBudgetBytes       int           `yaml:"SendBudgetBytes"`
	PacingRatePerSecond   float64       `yaml:"PacingRatePerSecond"`
	PacingBurstBytes      int           `yaml:"PacingBurstBytes"`
}

// AuthConfig configures the Connect-frame JWT handshake.
type AuthConfig struct {
	Secret        string `yaml:"Secret"`
	Issuer        string `yaml:"Issuer"`
	ExpireSeconds int64  `yaml:"ExpireSeconds"`
}

// DiscoveryConfig configures etcd-backed channel endpoint discovery.
type DiscoveryConfig struct {
	Enable      bool          `yaml:"Enable"`
	Endpoints   []string      `yaml:"Endpoints"`
	DialTimeout time.Duration `yaml:"DialTimeout"`
	Prefix      string        `yaml:"Prefix"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"Level"`
	Format string `yaml:"Format"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enable bool   `yaml:"Enable"`
	Host   string `yaml:"Host"`
	Port   int    `yaml:"Port"`
	Path   string `yaml:"Path"`
}

// TracingConfig configures OpenTelemetry export of host drive-loop spans.
type TracingConfig struct {
	Enable       bool    `yaml:"Enable"`
	ServiceName  string  `yaml:"ServiceName"`
	Endpoint     string  `yaml:"Endpoint"`
	Exporter     string  `yaml:"Exporter"`
	SampleRate   float64 `yaml:"SampleRate"`
	Environment  string  `yaml:"Environment"`
	BatchTimeout int     `yaml:"BatchTimeout"`
	MaxQueueSize int     `yaml:"MaxQueueSize"`
}

// FECConfig configures the optional Reed-Solomon parity supplement.
type FECConfig struct {
	Enable       bool `yaml:"Enable"`
	DataShards   int  `yaml:"DataShards"`
	ParityShards int  `yaml:"ParityShards"`
}

// DefaultConfig returns the configuration a multipath-host starts from
// when no config file is present on disk.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 9401,
		},
		Engine: EngineConfig{
			PayloadWindowCapacity: 256,
			ReceiveWindowCapacity: 256,
			DefaultRTO:            200 * time.Millisecond,
			SchedulerLearningRate: 0.1,
			TickInterval:          50 * time.Millisecond,
			SendBudgetBytes:       16384,
			PacingRatePerSecond:   8 << 20,
			PacingBurstBytes:      1 << 20,
		},
		Auth: AuthConfig{
			Issuer:        "multipath-host",
			ExpireSeconds: 3600,
		},
		Discovery: DiscoveryConfig{
			Enable:      false,
			Endpoints:   []string{"localhost:2379"},
			DialTimeout: 5 * time.Second,
			Prefix:      "/qmux/channels/",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enable: true,
			Host:   "0.0.0.0",
			Port:   9402,
			Path:   "/metrics",
		},
		Tracing: TracingConfig{
			Enable:       false,
			ServiceName:  "multipath-host",
			Endpoint:     "http://localhost:14268/api/traces",
			Exporter:     "jaeger",
			SampleRate:   1.0,
			Environment:  "development",
			BatchTimeout: 5,
			MaxQueueSize: 2048,
		},
		FEC: FECConfig{
			Enable:       false,
			DataShards:   10,
			ParityShards: 3,
		},
	}
}
