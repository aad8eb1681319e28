package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full application configuration, loaded once from the
// environment at startup and passed explicitly into the container.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Providers ProvidersConfig
	Runtime   RuntimeConfig
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Port        string
	CORSOrigins string
	BodyLimit   int
}

// DatabaseConfig configures the optional Postgres conversation store.
type DatabaseConfig struct {
	Enabled         bool
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the optional Redis tool-execution cache.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Address returns host:port for the Redis client.
func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ProvidersConfig selects the active LLM backend and carries its credentials.
type ProvidersConfig struct {
	// Active is one of: openai, anthropic, gemini, bedrock, ollama.
	Active        string
	Model         string
	FallbackModel string

	OpenAIAPIKey    string
	AnthropicAPIKey string
	GeminiAPIKey    string
	AWSRegion       string
	OllamaBaseURL   string
}

// RuntimeConfig carries the orchestration limits and the tool-server list.
type RuntimeConfig struct {
	MaxIterations    int
	ContextLimit     int
	ReservedTokens   int
	CacheTTL         time.Duration
	FreeMemoryMB     int
	// ToolServers is a comma list of id=baseURL pairs, e.g.
	// "fs=http://localhost:7801,shell=http://localhost:7802".
	ToolServers  map[string]string
	DefaultPath  string
	SystemPrompt string
	// FullFidelityTools lists tool names whose raw results stay in the
	// context window instead of being collapsed to summaries.
	FullFidelityTools []string
}

const defaultSystemPrompt = "Eres un asistente útil y conciso. Responde siempre en el idioma del usuario."

// Load reads the full configuration from the environment.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			CORSOrigins: getEnv("CORS_ORIGINS", "*"),
			BodyLimit:   getEnvInt("BODY_LIMIT_BYTES", 10*1024*1024),
		},
		Database: DatabaseConfig{
			Enabled:         getEnvBool("DATABASE_ENABLED", false),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "copiloto"),
			Password:        getEnv("DB_PASSWORD", ""),
			Name:            getEnv("DB_NAME", "copiloto"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Providers: ProvidersConfig{
			Active:          getEnv("LLM_PROVIDER", "openai"),
			Model:           getEnv("LLM_MODEL", ""),
			FallbackModel:   getEnv("LLM_FALLBACK_MODEL", ""),
			OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
			AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
			GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
			AWSRegion:       getEnv("AWS_REGION", "us-east-1"),
			OllamaBaseURL:   getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		},
		Runtime: RuntimeConfig{
			MaxIterations:     getEnvInt("MAX_ITERATIONS", 10),
			ContextLimit:      getEnvInt("CONTEXT_LIMIT_TOKENS", 0),
			ReservedTokens:    getEnvInt("RESERVED_RESPONSE_TOKENS", 2000),
			CacheTTL:          getEnvDuration("TOOL_CACHE_TTL", 2*time.Minute),
			FreeMemoryMB:      getEnvInt("FREE_MEMORY_MB", 0),
			ToolServers:       getEnvKVMap("TOOL_SERVERS"),
			DefaultPath:       getEnv("DEFAULT_TOOL_PATH", ""),
			SystemPrompt:      getEnv("SYSTEM_PROMPT", defaultSystemPrompt),
			FullFidelityTools: getEnvList("FULL_FIDELITY_TOOLS"),
		},
	}
}

// ---------------------------------------------------------------------------
// env helpers
// ---------------------------------------------------------------------------

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.EqualFold(value, "true") || value == "1"
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList parses a comma list into a slice, skipping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvKVMap parses a comma list of key=value pairs.
func getEnvKVMap(key string) map[string]string {
	out := make(map[string]string)
	raw := os.Getenv(key)
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) == 2 && kv[0] != "" && kv[1] != "" {
			out[kv[0]] = kv[1]
		}
	}
	return out
}
