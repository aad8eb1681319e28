package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Abraxas-365/copiloto/pkg/ai/llm"
	"github.com/Abraxas-365/copiloto/pkg/ai/llm/agentx"
	"github.com/Abraxas-365/copiloto/pkg/ai/llm/cachex"
	"github.com/Abraxas-365/copiloto/pkg/ai/llm/memoryx"
	"github.com/Abraxas-365/copiloto/pkg/ai/llm/toolx"
	"github.com/Abraxas-365/copiloto/pkg/ai/llm/toolx/toolxhttp"
	"github.com/Abraxas-365/copiloto/pkg/ai/providers/aianthropic"
	"github.com/Abraxas-365/copiloto/pkg/ai/providers/aibedrock"
	"github.com/Abraxas-365/copiloto/pkg/ai/providers/aigemini"
	"github.com/Abraxas-365/copiloto/pkg/ai/providers/aiollama"
	"github.com/Abraxas-365/copiloto/pkg/ai/providers/aiopenai"
	"github.com/Abraxas-365/copiloto/pkg/config"
	"github.com/Abraxas-365/copiloto/pkg/logx"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// Container holds every long-lived dependency, wired once at startup.
type Container struct {
	Config *config.Config

	// Infrastructure (both optional)
	DB    *sqlx.DB
	Redis *redis.Client

	// Assistant runtime
	Provider llm.Client
	Registry *toolx.Registry
	Runtime  *agentx.Runtime
}

// NewContainer builds the full dependency graph. Any failure here is fatal:
// a half-wired assistant is worse than no assistant.
func NewContainer(cfg *config.Config) *Container {
	c := &Container{Config: cfg}

	logx.Info("🔧 Initializing dependencies...")

	c.initDatabase()
	c.initRedis()
	c.initProvider()
	c.initRegistry()
	c.initRuntime()

	logx.Info("✅ All dependencies initialized successfully")
	return c
}

// initDatabase connects to Postgres when enabled. Conversations fall back to
// in-memory history when it is not.
func (c *Container) initDatabase() {
	if !c.Config.Database.Enabled {
		logx.Info("💾 Postgres disabled, using in-memory conversation history")
		return
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Config.Database.Host,
		c.Config.Database.Port,
		c.Config.Database.User,
		c.Config.Database.Password,
		c.Config.Database.Name,
		c.Config.Database.SSLMode,
	)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		logx.Fatalf("❌ Failed to connect to database: %v", err)
	}

	db.SetMaxOpenConns(c.Config.Database.MaxOpenConns)
	db.SetMaxIdleConns(c.Config.Database.MaxIdleConns)
	db.SetConnMaxLifetime(c.Config.Database.ConnMaxLifetime)

	if _, err := db.Exec(memoryx.Schema()); err != nil {
		logx.Fatalf("❌ Failed to apply conversation schema: %v", err)
	}

	c.DB = db
	logx.Info("💾 Database connection established")
}

// initRedis connects to Redis when enabled. The tool cache falls back to the
// in-process store when it is not.
func (c *Container) initRedis() {
	if !c.Config.Redis.Enabled {
		logx.Info("📦 Redis disabled, using in-process tool cache")
		return
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Address(),
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logx.Fatalf("❌ Failed to connect to Redis: %v", err)
	}

	c.Redis = rdb
	logx.Info("📦 Redis connection established")
}

// initProvider builds the active LLM backend from configuration.
func (c *Container) initProvider() {
	p := c.Config.Providers

	switch p.Active {
	case "openai":
		if p.OpenAIAPIKey == "" {
			logx.Fatal("❌ OPENAI_API_KEY is required for the openai provider")
		}
		c.Provider = aiopenai.NewOpenAIProvider(p.OpenAIAPIKey)

	case "anthropic":
		if p.AnthropicAPIKey == "" {
			logx.Fatal("❌ ANTHROPIC_API_KEY is required for the anthropic provider")
		}
		c.Provider = aianthropic.NewAnthropicProvider(p.AnthropicAPIKey)

	case "gemini":
		if p.GeminiAPIKey == "" {
			logx.Fatal("❌ GEMINI_API_KEY is required for the gemini provider")
		}
		provider, err := aigemini.NewGeminiProvider(context.Background(), p.GeminiAPIKey)
		if err != nil {
			logx.Fatalf("❌ Failed to create Gemini provider: %v", err)
		}
		c.Provider = provider

	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(p.AWSRegion))
		if err != nil {
			logx.Fatalf("❌ Failed to load AWS configuration: %v", err)
		}
		c.Provider = aibedrock.NewBedrockProvider(awsCfg)

	case "ollama":
		opts := []aiollama.ProviderOption{}
		if limit := c.contextLimit(); limit > 0 {
			opts = append(opts, aiollama.WithNumCtx(limit))
		}
		c.Provider = aiollama.NewOllamaProvider(p.OllamaBaseURL, opts...)

	default:
		logx.Fatalf("❌ Unknown LLM provider %q (want openai, anthropic, gemini, bedrock or ollama)", p.Active)
	}

	logx.Infof("🤖 LLM provider ready: %s (model %q)", p.Active, p.Model)
}

// initRegistry wires one HTTP client per configured tool server and loads
// their tool lists. A server that is down at startup is logged and skipped;
// no tool servers at all is still a valid (chat-only) deployment.
func (c *Container) initRegistry() {
	c.Registry = toolx.NewRegistry()

	if len(c.Config.Runtime.ToolServers) == 0 {
		logx.Info("🔨 No tool servers configured, running chat-only")
		return
	}

	for id, baseURL := range c.Config.Runtime.ToolServers {
		c.Registry.AddServer(id, toolxhttp.NewClient(baseURL))
		logx.Infof("🔨 Tool server registered: %s → %s", id, baseURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := c.Registry.Refresh(ctx); err != nil {
		logx.Warnf("⚠️ Tool discovery incomplete: %v", err)
	} else {
		logx.Infof("🔨 Discovered %d tools", len(c.Registry.Entries()))
	}
}

// initRuntime assembles the orchestrator on top of everything above.
func (c *Container) initRuntime() {
	rc := c.Config.Runtime

	opts := []agentx.RuntimeOption{
		agentx.WithRegistry(c.Registry),
	}

	if c.Redis != nil {
		opts = append(opts, agentx.WithCache(cachex.NewRedisCache(c.Redis, rc.CacheTTL)))
	} else if rc.CacheTTL > 0 {
		opts = append(opts, agentx.WithCache(cachex.NewMemoryCache(cachex.WithTTL(rc.CacheTTL))))
	}

	if c.DB != nil {
		db := c.DB
		opts = append(opts, agentx.WithMemoryFactory(func(conversationID string) memoryx.Memory {
			return memoryx.NewPostgresMemory(db, conversationID)
		}))
	}

	c.Runtime = agentx.NewRuntime(c.Provider, agentx.RuntimeConfig{
		Model:             c.Config.Providers.Model,
		FallbackModel:     c.Config.Providers.FallbackModel,
		MaxIterations:     rc.MaxIterations,
		ContextLimit:      rc.ContextLimit,
		FreeMemoryMB:      rc.FreeMemoryMB,
		ReservedTokens:    rc.ReservedTokens,
		SystemPrompt:      rc.SystemPrompt,
		DefaultPath:       rc.DefaultPath,
		FullFidelityTools: rc.FullFidelityTools,
	}, opts...)

	logx.Infof("🧠 Runtime ready (context limit %d tokens)", c.contextLimit())
}

// contextLimit resolves the effective context budget the same way the
// runtime does.
func (c *Container) contextLimit() int {
	if c.Config.Runtime.ContextLimit > 0 {
		return c.Config.Runtime.ContextLimit
	}
	return memoryx.CalcDynamicContext(c.Config.Runtime.FreeMemoryMB)
}

// Cleanup closes all connections gracefully.
func (c *Container) Cleanup() {
	logx.Info("🧹 Cleaning up resources...")

	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			logx.Errorf("Error closing database: %v", err)
		}
	}

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logx.Errorf("Error closing Redis: %v", err)
		}
	}

	logx.Info("✅ Cleanup completed")
}

// getEnv returns the env var value or a fallback.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
