// Package config reads the application configuration from environment
// variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/language"
)

// Config holds all application configuration.
//
// Environment Variables:
//
// LLM Configuration:
//   - LLM_PROVIDER: Provider label used in cache keys (default: openrouter)
//   - LLM_API_KEY: API key for the LLM provider (required)
//   - LLM_API_URL: API endpoint URL (default: https://openrouter.ai/api/v1)
//   - LLM_MODEL: Model name to use (default: openai/gpt-4o-mini)
//   - LLM_MAX_TOKENS: Maximum tokens for responses (default: 8000)
//   - LLM_TEMPERATURE: Temperature for responses (default: 0.3)
//   - LLM_TIMEOUT: Request timeout in seconds (default: 120)
//   - LLM_SITE_URL: Site URL for HTTP referer header (optional)
//   - LLM_APP_NAME: Application name for X-Title header (optional)
//
// Translation Configuration:
//   - SOURCE_LANG: BCP 47 source language; empty enables auto-detection
//   - TARGET_LANG: BCP 47 target language (default: zh)
//   - BATCH_COUNT: Batches per translation phase (default: 4)
//   - BATCH_CONCURRENCY: Concurrent backend calls per phase (default: 2)
//   - CRON_EXPR: Watch-mode schedule (default: 0 0 * * *)
//
// Library Configuration:
//   - WATCH_DIRS: Comma-separated directories scanned in watch mode
//
// Translation Memory:
//   - MEMORY_DB: SQLite database path; empty disables the memory
type Config struct {
	LLM       LLMConfig       `json:"llm"`
	Translate TranslateConfig `json:"translate"`
	Library   LibraryConfig   `json:"library"`
	Memory    MemoryConfig    `json:"memory"`
}

// LLMConfig holds the backend client settings. Any provider exposing
// an OpenAI-compatible surface works.
type LLMConfig struct {
	Provider    string  `json:"provider"`
	APIKey      string  `json:"api_key"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
	SiteURL     string  `json:"site_url"`
	AppName     string  `json:"app_name"`
}

// TranslateConfig holds the per-run translation settings.
type TranslateConfig struct {
	SourceLanguage   language.Tag `json:"source_language"`
	TargetLanguage   language.Tag `json:"target_language"`
	BatchCount       int          `json:"batch_count"`
	BatchConcurrency int          `json:"batch_concurrency"`
	CronExpr         string       `json:"cron_expr"`
}

// LibraryConfig holds the watch-mode library settings.
type LibraryConfig struct {
	WatchDirs []string `json:"watch_dirs"`
}

// MemoryConfig holds the translation-memory settings.
type MemoryConfig struct {
	DBPath string `json:"db_path"`
}

func (m MemoryConfig) Enabled() bool {
	return m.DBPath != ""
}

// Option mutates a Config during construction.
type Option func(*Config)

// NewFromEnv builds a Config from environment variables and options.
func NewFromEnv(opts ...Option) (*Config, error) {
	sourceLang, err := parseLang(getEnvString("SOURCE_LANG", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid SOURCE_LANG: %w", err)
	}
	targetLang, err := parseLang(getEnvString("TARGET_LANG", "zh"))
	if err != nil {
		return nil, fmt.Errorf("invalid TARGET_LANG: %w", err)
	}

	config := &Config{
		LLM: LLMConfig{
			Provider:    getEnvString("LLM_PROVIDER", "openrouter"),
			APIKey:      getEnvString("LLM_API_KEY", ""),
			APIURL:      getEnvString("LLM_API_URL", "https://openrouter.ai/api/v1"),
			Model:       getEnvString("LLM_MODEL", "openai/gpt-4o-mini"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 8000),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.3),
			Timeout:     getEnvInt("LLM_TIMEOUT", 120),
			SiteURL:     getEnvString("LLM_SITE_URL", ""),
			AppName:     getEnvString("LLM_APP_NAME", ""),
		},
		Translate: TranslateConfig{
			SourceLanguage:   sourceLang,
			TargetLanguage:   targetLang,
			BatchCount:       getEnvInt("BATCH_COUNT", 4),
			BatchConcurrency: getEnvInt("BATCH_CONCURRENCY", 2),
			CronExpr:         getEnvString("CRON_EXPR", "0 0 * * *"),
		},
		Library: LibraryConfig{
			WatchDirs: splitList(getEnvString("WATCH_DIRS", "")),
		},
		Memory: MemoryConfig{
			DBPath: getEnvString("MEMORY_DB", ""),
		},
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if c.Translate.TargetLanguage == language.Und {
		return fmt.Errorf("TARGET_LANG is required")
	}
	return nil
}

// parseLang parses a BCP 47 tag; empty means undetermined.
func parseLang(s string) (language.Tag, error) {
	if s == "" {
		return language.Und, nil
	}
	return language.Parse(s)
}

func splitList(s string) []string {
	ret := make([]string, 0)
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			ret = append(ret, trimmed)
		}
	}
	return ret
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
