package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/presence/internal/constants"
)

//go:embed messages.yaml
var messagesYAML []byte

type Config struct {
	Database  DatabaseConfig
	HR        HRConfig
	Web       WebConfig
	Log       LogConfig
	Biometric BiometricConfig
	Messages  MessagesConfig
}

type DatabaseConfig struct {
	URL           string // PostgreSQL connection URL
	MaxOpenConns  int    // Maximum open connections (default 25)
	MaxIdleConns  int    // Maximum idle connections (default 5)
	HNSWEnabled   bool   // Keep an in-memory HNSW index of profile embeddings (default true)
	HNSWIndexPath string // Path to persist the profile HNSW index (optional, if empty index is rebuilt on startup)
}

// HRConfig points at the HR system's MariaDB database. Optional: without it
// eligibility comes from the profile flags alone.
type HRConfig struct {
	DatabaseURL string // MariaDB DSN (e.g., hr:hr@tcp(mariadb:3306)/hr)
}

type WebConfig struct {
	Port           int
	Host           string
	APIKey         string   // required in X-API-Key when set
	AllowedOrigins []string // CORS origins, empty allows all
}

type LogConfig struct {
	Level  string // debug, info, warn, error (default info)
	Format string // json or console (default json)
}

type BiometricConfig struct {
	MaxPopulation   int    // largest population a single decision may scan (default 5000)
	DefaultLanguage string // language for rejection messages when the client sends none (default en)
}

// MessagesConfig holds localized user-facing messages per language and key.
type MessagesConfig struct {
	Languages map[string]map[string]string `yaml:"languages"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envBool reads an environment variable as a boolean.
// Returns the default value if the env var is unset or invalid.
func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList reads a comma separated list, dropping empty entries.
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func Load() *Config {
	var messages MessagesConfig
	if err := yaml.Unmarshal(messagesYAML, &messages); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded messages.yaml: " + err.Error())
	}

	return &Config{
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSWEnabled:   envBool("HNSW_ENABLED", true),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		HR: HRConfig{
			DatabaseURL: os.Getenv("HR_DATABASE_URL"),
		},
		Web: WebConfig{
			Port:           envInt("WEB_PORT", 8080),
			Host:           os.Getenv("WEB_HOST"),
			APIKey:         os.Getenv("WEB_API_KEY"),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(envString("LOG_LEVEL", "info")),
			Format: strings.ToLower(envString("LOG_FORMAT", "json")),
		},
		Biometric: BiometricConfig{
			MaxPopulation:   envInt("BIOMETRIC_MAX_POPULATION", constants.MaxPopulation),
			DefaultLanguage: envString("BIOMETRIC_DEFAULT_LANGUAGE", "en"),
		},
		Messages: messages,
	}
}

// Message returns the message for key in lang, falling back to English and
// finally to the key itself.
func (c *Config) Message(lang, key string) string {
	if msg, ok := c.Messages.Languages[lang][key]; ok {
		return msg
	}
	if msg, ok := c.Messages.Languages["en"][key]; ok {
		return msg
	}
	return key
}
