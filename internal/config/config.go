package config

import (
	"os"
	"strings"
	"time"
)

// StoreBackend enumerates object-store backends for the daemon.
type StoreBackend string

const (
	// StoreBackendFile keeps one file per object under .drift/objects/.
	StoreBackendFile StoreBackend = "file"
	// StoreBackendBolt keeps all objects in a single BoltDB file.
	StoreBackendBolt StoreBackend = "bolt"
)

// Config aggregates the daemon's runtime configuration.
type Config struct {
	Addr          string
	DataDir       string
	Store         StoreBackend
	BoltPath      string
	Upstream      string        // optional remote mirrored in the background
	FetchInterval time.Duration // auto-fetch cadence when Upstream is set
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		Addr:          envDefault("DRIFT_ADDR", ":7420"),
		DataDir:       envDefault("DRIFT_DATA", "."),
		Store:         StoreBackend(strings.ToLower(envDefault("DRIFT_STORE", string(StoreBackendBolt)))),
		BoltPath:      envDefault("DRIFT_BOLT_PATH", ""),
		Upstream:      os.Getenv("DRIFT_UPSTREAM"),
		FetchInterval: envDuration("DRIFT_FETCH_INTERVAL", 5*time.Minute),
	}
}

func envDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return def
}
