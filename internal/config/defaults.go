package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iliamunaev/tap-checkout/internal/connection"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			RequestTimeout:  60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxConns:        64,
		},
		Log: LogConfig{
			Level: "info",
		},
		Payment: PaymentConfig{
			Currency: "usd",
		},
		Reader: ReaderConfig{
			DiscoveryAttempts: connection.DefaultDiscoveryAttempts,
			DiscoveryDelay:    connection.DefaultDiscoveryDelay,
			ConnectAttempts:   connection.DefaultConnectAttempts,
			ConnectDelay:      connection.DefaultConnectDelay,
			Simulated: SimulatedConfig{
				Readers: []string{"Simulated reader"},
				Latency: 200 * time.Millisecond,
			},
		},
		Journal: JournalConfig{
			MemoryLimit: 100,
			Stan: StanConfig{
				ClusterID: "test-cluster",
				ClientID:  "tapcheckout",
				Subject:   "payment.attempts",
			},
		},
	}
}

const header = `# tapcheckout configuration
# Every key can be overridden with TAPCHECKOUT_<SECTION>_<KEY>,
# e.g. TAPCHECKOUT_SERVER_ADDR=:9090.
`

// WriteDefault writes the default configuration to path, creating parent
// directories. An existing file is not overwritten.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config: %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(header)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(DefaultConfig()); err != nil {
		return fmt.Errorf("config: encode defaults: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("config: encode defaults: %w", err)
	}

	return os.WriteFile(path, buf.Bytes(), 0o644)
}
