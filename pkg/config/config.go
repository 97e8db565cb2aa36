// Package config loads ChainGuard's two configuration surfaces: the
// process-level ServerConfig (env-var driven) and the client-facing
// InitConfig that `initialize(config)` accepts, validated against a JSON
// Schema before any field is trusted.
package config

import "os"

// ServerConfig holds process-level configuration: what port to listen on,
// how verbosely to log, and where the optional durable backends live.
// Every field has a safe local-dev default so the binary boots without an
// environment file.
type ServerConfig struct {
	Port       string
	LogLevel   string
	PostgresDSN string
	SQLitePath string
	RedisAddr  string
}

// Load reads ServerConfig from the environment: PORT/LOG_LEVEL/etc with
// sensible local defaults, never failing at load time — invalid backend
// URLs surface when the backend is actually dialed.
func Load() *ServerConfig {
	return &ServerConfig{
		Port:        getenv("PORT", "8080"),
		LogLevel:    getenv("LOG_LEVEL", "INFO"),
		PostgresDSN: getenv("CHAINGUARD_POSTGRES_DSN", "postgres://chainguard@localhost:5432/chainguard?sslmode=disable"),
		SQLitePath:  getenv("CHAINGUARD_SQLITE_PATH", "./chainguard.db"),
		RedisAddr:   getenv("CHAINGUARD_REDIS_ADDR", "localhost:6379"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
