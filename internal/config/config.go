// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	SessionTTL  time.Duration
	LLM         LLMConfig
	Chat        ChatConfig
}

// LLMConfig configures the completion provider.
type LLMConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	RequestTimeout time.Duration
	MaxChatTokens  int
}

// ChatConfig controls conversation policy and playback pacing.
type ChatConfig struct {
	DailyConversationCap     int
	ExchangesPerConversation int
	ContextWindow            int
	RevealChunkSize          int
	RevealTick               time.Duration
	WatchdogTimeout          time.Duration
	SuggestionBatchSize      int
	RequireSuggestionNote    bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/sereno.db"),
		SessionTTL:  getEnvDuration("SESSION_TTL", 60*time.Minute),
		LLM: LLMConfig{
			BaseURL:        getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
			APIKey:         getEnv("LLM_API_KEY", ""),
			Model:          getEnv("LLM_MODEL", "gpt-4o-mini"),
			RequestTimeout: getEnvDuration("LLM_REQUEST_TIMEOUT", 50*time.Second),
			MaxChatTokens:  getEnvInt("LLM_MAX_CHAT_TOKENS", 700),
		},
		Chat: ChatConfig{
			DailyConversationCap:     getEnvInt("CHAT_DAILY_CAP", 3),
			ExchangesPerConversation: getEnvInt("CHAT_EXCHANGES_PER_CONVERSATION", 3),
			ContextWindow:            getEnvInt("CHAT_CONTEXT_WINDOW", 10),
			RevealChunkSize:          getEnvInt("CHAT_REVEAL_CHUNK", 3),
			RevealTick:               getEnvDuration("CHAT_REVEAL_TICK", 20*time.Millisecond),
			WatchdogTimeout:          getEnvDuration("CHAT_WATCHDOG_TIMEOUT", 60*time.Second),
			SuggestionBatchSize:      getEnvInt("SUGGESTION_BATCH_SIZE", 3),
			RequireSuggestionNote:    getEnvBool("SUGGESTION_REQUIRE_NOTE", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("LLM_MODEL cannot be empty")
	}
	if c.Chat.DailyConversationCap <= 0 {
		return fmt.Errorf("CHAT_DAILY_CAP must be > 0")
	}
	if c.Chat.ExchangesPerConversation <= 0 {
		return fmt.Errorf("CHAT_EXCHANGES_PER_CONVERSATION must be > 0")
	}
	if c.Chat.ContextWindow <= 0 {
		return fmt.Errorf("CHAT_CONTEXT_WINDOW must be > 0")
	}
	if c.Chat.RevealChunkSize <= 0 {
		return fmt.Errorf("CHAT_REVEAL_CHUNK must be > 0")
	}
	if c.Chat.RevealTick <= 0 {
		return fmt.Errorf("CHAT_REVEAL_TICK must be > 0")
	}
	if c.Chat.WatchdogTimeout <= 0 {
		return fmt.Errorf("CHAT_WATCHDOG_TIMEOUT must be > 0")
	}
	if c.Chat.SuggestionBatchSize <= 0 {
		return fmt.Errorf("SUGGESTION_BATCH_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
