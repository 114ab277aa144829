package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server     ServerConfig
	DB         DBConfig
	Redis      RedisConfig
	NATS       NATSConfig
	Tools      ToolsConfig
	LLM        LLMConfig
	Memory     MemoryConfig
	Checkpoint CheckpointConfig
	Encryption EncryptionConfig
	Log        LogConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	CORSAllowedOrigins []string
	RateLimitMax       int
	RateLimitWindowSec int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	URL string
}

// ToolsConfig points at the external tool server that backs the registry.
type ToolsConfig struct {
	BaseURL string
	Timeout time.Duration
}

type LLMConfig struct {
	APIKey      string
	Model       string
	RefineModel string
	MaxTokens   int
	Timeout     time.Duration
}

type MemoryConfig struct {
	EpisodicLimit         int
	EpisodicTTL           time.Duration
	EpisodicMaxChars      int
	ExtractionWindow      int
	ConfidenceThreshold   float64
	SemanticTopK          int
	SemanticRetentionDays int
	SummaryTrigger        int
	BackgroundConcurrency int
}

type CheckpointConfig struct {
	TTL             time.Duration
	PrivilegedTTL   time.Duration
	PrivilegedUsers []int64
}

type EncryptionConfig struct {
	// Keys is a comma-separated key ring, newest first. The first key
	// encrypts; every key is tried on decrypt.
	Keys string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:               k.String("server.host"),
			Port:               k.Int("server.port"),
			CORSAllowedOrigins: splitCSV(k.String("server.cors.origins")),
			RateLimitMax:       k.Int("server.ratelimit.max"),
			RateLimitWindowSec: k.Int("server.ratelimit.window.sec"),
		},
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		Tools: ToolsConfig{
			BaseURL: k.String("tools.base.url"),
		},
		LLM: LLMConfig{
			APIKey:      k.String("llm.api.key"),
			Model:       k.String("llm.model"),
			RefineModel: k.String("llm.refine.model"),
			MaxTokens:   k.Int("llm.max.tokens"),
		},
		Memory: MemoryConfig{
			EpisodicLimit:         k.Int("memory.episodic.limit"),
			EpisodicMaxChars:      k.Int("memory.episodic.max.chars"),
			ExtractionWindow:      k.Int("memory.extraction.window"),
			ConfidenceThreshold:   k.Float64("memory.confidence.threshold"),
			SemanticTopK:          k.Int("memory.semantic.topk"),
			SemanticRetentionDays: k.Int("memory.semantic.retention.days"),
			SummaryTrigger:        k.Int("memory.summary.trigger"),
			BackgroundConcurrency: k.Int("memory.background.concurrency"),
		},
		Encryption: EncryptionConfig{
			Keys: k.String("encryption.keys"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "meghx"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "meghx"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.Server.RateLimitMax == 0 {
		cfg.Server.RateLimitMax = 60
	}
	if cfg.Server.RateLimitWindowSec == 0 {
		cfg.Server.RateLimitWindowSec = 60
	}
	if cfg.Tools.BaseURL == "" {
		cfg.Tools.BaseURL = "http://localhost:9090"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "claude-sonnet-4-20250514"
	}
	if cfg.LLM.RefineModel == "" {
		cfg.LLM.RefineModel = cfg.LLM.Model
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.Memory.EpisodicLimit == 0 {
		cfg.Memory.EpisodicLimit = 20
	}
	if cfg.Memory.EpisodicMaxChars == 0 {
		cfg.Memory.EpisodicMaxChars = 500
	}
	if cfg.Memory.ExtractionWindow == 0 {
		cfg.Memory.ExtractionWindow = 6
	}
	if cfg.Memory.ConfidenceThreshold == 0 {
		cfg.Memory.ConfidenceThreshold = 0.8
	}
	if cfg.Memory.SemanticTopK == 0 {
		cfg.Memory.SemanticTopK = 3
	}
	if cfg.Memory.SemanticRetentionDays == 0 {
		cfg.Memory.SemanticRetentionDays = 90
	}
	if cfg.Memory.SummaryTrigger == 0 {
		cfg.Memory.SummaryTrigger = 30
	}
	if cfg.Memory.BackgroundConcurrency == 0 {
		cfg.Memory.BackgroundConcurrency = 4
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "debug"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	llmTimeoutStr := k.String("llm.timeout")
	if llmTimeoutStr == "" {
		llmTimeoutStr = "45s"
	}
	cfg.LLM.Timeout, err = time.ParseDuration(llmTimeoutStr)
	if err != nil {
		return nil, fmt.Errorf("parsing llm timeout: %w", err)
	}

	episodicTTLStr := k.String("memory.episodic.ttl")
	if episodicTTLStr == "" {
		episodicTTLStr = "720h"
	}
	cfg.Memory.EpisodicTTL, err = time.ParseDuration(episodicTTLStr)
	if err != nil {
		return nil, fmt.Errorf("parsing episodic ttl: %w", err)
	}

	ckptTTLStr := k.String("checkpoint.ttl")
	if ckptTTLStr == "" {
		ckptTTLStr = "24h"
	}
	cfg.Checkpoint.TTL, err = time.ParseDuration(ckptTTLStr)
	if err != nil {
		return nil, fmt.Errorf("parsing checkpoint ttl: %w", err)
	}

	privTTLStr := k.String("checkpoint.privileged.ttl")
	if privTTLStr == "" {
		privTTLStr = "168h"
	}
	cfg.Checkpoint.PrivilegedTTL, err = time.ParseDuration(privTTLStr)
	if err != nil {
		return nil, fmt.Errorf("parsing privileged checkpoint ttl: %w", err)
	}

	cfg.Checkpoint.PrivilegedUsers, err = parseUserIDs(k.String("checkpoint.privileged.users"))
	if err != nil {
		return nil, fmt.Errorf("parsing privileged users: %w", err)
	}

	toolsTimeoutStr := k.String("tools.timeout")
	if toolsTimeoutStr == "" {
		toolsTimeoutStr = "30s"
	}
	cfg.Tools.Timeout, err = time.ParseDuration(toolsTimeoutStr)
	if err != nil {
		return nil, fmt.Errorf("parsing tools timeout: %w", err)
	}

	return cfg, nil
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseUserIDs(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		var id int64
		if _, err := fmt.Sscanf(p, "%d", &id); err != nil {
			return nil, fmt.Errorf("invalid user id %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
