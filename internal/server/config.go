package server

import (
	"strings"
)

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config is the process configuration, read from the environment at startup.
type Config struct {
	Addr          string
	BasePath      string
	AllowlistPath string
	TokensPath    string

	Store       string
	SQLitePath  string
	DatabaseURL string

	RedisURL   string
	EventQueue string

	SystemPrefix         string
	BootstrapCollections []string

	LogLevel string
}

func ConfigFromEnv() Config {
	return Config{
		Addr:                 getenvDefault("HTTP_ADDR", ":8080"),
		BasePath:             getenvDefault("FIELDS_BASE_PATH", "/fields"),
		AllowlistPath:        getenvDefault("ALLOWLIST_PATH", ""),
		TokensPath:           getenvDefault("API_TOKENS_PATH", ""),
		Store:                strings.ToLower(strings.TrimSpace(getenvDefault("SCHEMA_STORE", StoreMemory))),
		SQLitePath:           getenvDefault("SQLITE_PATH", "schema_fields.db"),
		DatabaseURL:          dbDSNFromEnv(),
		RedisURL:             getenvDefault("REDIS_URL", ""),
		EventQueue:           getenvDefault("SCHEMA_EVENT_QUEUE", "schema_field_events"),
		SystemPrefix:         getenvDefault("SCHEMA_SYSTEM_PREFIX", "system_"),
		BootstrapCollections: splitList(getenvDefault("SCHEMA_BOOTSTRAP_COLLECTIONS", "")),
		LogLevel:             strings.ToLower(getenvDefault("LOG_LEVEL", "info")),
	}
}
