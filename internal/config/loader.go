package config

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
	"golang.org/x/text/currency"
	"gopkg.in/yaml.v3"

	"github.com/iliamunaev/tap-checkout/internal/reader/simulated"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TAPCHECKOUT"

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid config")

// Load merges the defaults, the YAML file at path (if path is non-empty) and
// the environment, then validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Seeding viper with the defaults makes every key known, which is what
	// lets AutomaticEnv override keys absent from the file.
	base, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("config: encode defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(base)); err != nil {
		return nil, fmt.Errorf("config: read defaults: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.Server.Addr != "", "server.addr is empty")
	check(c.Server.RequestTimeout > 0, "server.request_timeout must be positive, got %s", c.Server.RequestTimeout)
	check(c.Server.ShutdownTimeout >= 0, "server.shutdown_timeout is negative")
	check(c.Server.MaxConns >= 0, "server.max_conns is negative")

	_, err := zapcore.ParseLevel(c.Log.Level)
	check(err == nil, "log.level %q", c.Log.Level)

	_, err = currency.ParseISO(strings.ToUpper(c.Payment.Currency))
	check(c.Payment.Currency != "" && err == nil, "payment.currency %q is not an ISO 4217 code", c.Payment.Currency)

	r := c.Reader
	check(r.DiscoveryAttempts > 0, "reader.discovery_attempts must be positive, got %d", r.DiscoveryAttempts)
	check(r.ConnectAttempts > 0, "reader.connect_attempts must be positive, got %d", r.ConnectAttempts)
	check(r.DiscoveryDelay >= 0, "reader.discovery_delay is negative")
	check(r.ConnectDelay >= 0, "reader.connect_delay is negative")

	s := r.Simulated
	check(s.DiscoveryFailures >= 0 && s.ConnectFailures >= 0, "reader.simulated failure counts are negative")
	check(s.Latency >= 0, "reader.simulated.latency is negative")
	switch s.FailStep {
	case "", simulated.FailCreate, simulated.FailCollect, simulated.FailCancel, simulated.FailConfirm:
	default:
		check(false, "reader.simulated.fail_step %q", s.FailStep)
	}

	if c.Journal.Stan.Enabled() {
		check(c.Journal.Stan.ClusterID != "" && c.Journal.Stan.ClientID != "", "journal.stan needs cluster_id and client_id")
	}

	return errors.Join(errs...)
}
