// Package config holds the runtime knobs this protocol has: chunk
// geometry and event-buffer depth. Transport addresses, key
// directories, and token TTLs belong to collaborators (transport,
// auth) this rewrite does not implement, so they are dropped rather
// than left dangling.
package config

// Config holds daemon configuration.
type Config struct {
	// ChunkSize is the default chunk size, in bytes, a Sender session
	// starts with before any user reconfiguration (spec §4.2).
	ChunkSize uint64

	// EventBufferSize is the per-subscription channel depth used by
	// EventPublisher.
	EventBufferSize int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ChunkSize:       2048,
		EventBufferSize: 100,
	}
}

// LoadConfig loads configuration from file (simplified, just returns
// the default; this tool has no deployment-time config file to parse).
func LoadConfig(configPath string) (*Config, error) {
	return DefaultConfig(), nil
}
