// Package config loads the service configuration from defaults, an optional
// YAML file and TAPCHECKOUT_* environment variables, in that order.
package config

import (
	"maps"
	"time"

	"github.com/iliamunaev/tap-checkout/internal/connection"
	"github.com/iliamunaev/tap-checkout/internal/reader/simulated"
)

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Payment PaymentConfig `yaml:"payment" mapstructure:"payment"`
	Reader  ReaderConfig  `yaml:"reader" mapstructure:"reader"`
	Journal JournalConfig `yaml:"journal" mapstructure:"journal"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
	// RequestTimeout bounds one checkout request, including the wait for a
	// card tap.
	RequestTimeout  time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	// MaxConns caps concurrent connections; 0 means unlimited.
	MaxConns int `yaml:"max_conns" mapstructure:"max_conns"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level       string `yaml:"level" mapstructure:"level"`
	Development bool   `yaml:"development" mapstructure:"development"`
}

// PaymentConfig configures payment intents.
type PaymentConfig struct {
	Currency string `yaml:"currency" mapstructure:"currency"`
}

// ReaderConfig configures discovery and connection retries.
type ReaderConfig struct {
	DiscoveryAttempts int             `yaml:"discovery_attempts" mapstructure:"discovery_attempts"`
	DiscoveryDelay    time.Duration   `yaml:"discovery_delay" mapstructure:"discovery_delay"`
	ConnectAttempts   int             `yaml:"connect_attempts" mapstructure:"connect_attempts"`
	ConnectDelay      time.Duration   `yaml:"connect_delay" mapstructure:"connect_delay"`
	Simulated         SimulatedConfig `yaml:"simulated" mapstructure:"simulated"`
}

// SimulatedConfig scripts the simulated reader.
type SimulatedConfig struct {
	Readers           []string      `yaml:"readers" mapstructure:"readers"`
	DiscoveryFailures int           `yaml:"discovery_failures" mapstructure:"discovery_failures"`
	ConnectFailures   int           `yaml:"connect_failures" mapstructure:"connect_failures"`
	FailStep          string        `yaml:"fail_step" mapstructure:"fail_step"`
	Latency           time.Duration `yaml:"latency" mapstructure:"latency"`
	// StepLatency overrides Latency per reader operation.
	StepLatency map[string]time.Duration `yaml:"step_latency,omitempty" mapstructure:"step_latency"`
}

// JournalConfig selects the attempt journal sinks. Empty values disable a
// sink.
type JournalConfig struct {
	MemoryLimit int        `yaml:"memory_limit" mapstructure:"memory_limit"`
	PostgresDSN string     `yaml:"postgres_dsn" mapstructure:"postgres_dsn"`
	Stan        StanConfig `yaml:"stan" mapstructure:"stan"`
}

// StanConfig configures the NATS Streaming publisher.
type StanConfig struct {
	URL       string `yaml:"url" mapstructure:"url"`
	ClusterID string `yaml:"cluster_id" mapstructure:"cluster_id"`
	ClientID  string `yaml:"client_id" mapstructure:"client_id"`
	Subject   string `yaml:"subject" mapstructure:"subject"`
}

// Enabled reports whether the publisher is configured.
func (s StanConfig) Enabled() bool { return s.URL != "" }

// Policy converts the retry settings.
func (r ReaderConfig) Policy() connection.Policy {
	return connection.Policy{
		DiscoveryAttempts: r.DiscoveryAttempts,
		DiscoveryDelay:    r.DiscoveryDelay,
		ConnectAttempts:   r.ConnectAttempts,
		ConnectDelay:      r.ConnectDelay,
	}
}

// Gateway converts the simulated reader script.
func (s SimulatedConfig) Gateway() simulated.Config {
	return simulated.Config{
		Readers:           append([]string(nil), s.Readers...),
		DiscoveryFailures: s.DiscoveryFailures,
		ConnectFailures:   s.ConnectFailures,
		FailStep:          s.FailStep,
		Latency:           s.Latency,
		StepLatency:       maps.Clone(s.StepLatency),
	}
}
