// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	IssuerURL      string
	DataDir        string
	StorePath      string
	DBPath         string
	ListenAddr     string
	UpdateInterval time.Duration
	GitHubToken    string
	GitHubRepo     string
	GitHubFolder   string
	TelegramToken  string
	TelegramChatID string
	ScrubKeys      []string
}

// HasGitHub returns true when both GitHubToken and GitHubRepo are non-empty.
// The composition root uses it to decide whether publishing is available.
func (c *Config) HasGitHub() bool {
	return c.GitHubToken != "" && c.GitHubRepo != ""
}

// HasTelegram returns true when both TelegramToken and TelegramChatID are
// non-empty. Without them, notifications fall back to the structured log.
func (c *Config) HasTelegram() bool {
	return c.TelegramToken != "" && c.TelegramChatID != ""
}

// Load reads configuration from environment variables (after loading a .env
// file when present) and returns a validated Config.
// TOKENFORGE_ISSUER_URL is required: the token endpoint template with
// {uid} and {secret} (or legacy {password}) placeholders.
// Optional variables with defaults: TOKENFORGE_DATA_DIR (data),
// TOKENFORGE_STORE_PATH (user_data.json), TOKENFORGE_DB_PATH (tokenforge.db),
// TOKENFORGE_LISTEN_ADDR (127.0.0.1:8080), TOKENFORGE_UPDATE_INTERVAL (8h),
// TOKENFORGE_GITHUB_FOLDER (saved_files), TOKENFORGE_SCRUB_KEYS (github_pat).
func Load() (*Config, error) {
	_ = godotenv.Load()

	issuerURL := os.Getenv("TOKENFORGE_ISSUER_URL")
	if issuerURL == "" {
		return nil, fmt.Errorf("TOKENFORGE_ISSUER_URL is required")
	}

	dataDir := "data"
	if v, ok := os.LookupEnv("TOKENFORGE_DATA_DIR"); ok {
		dataDir = v
	}

	storePath := "user_data.json"
	if v, ok := os.LookupEnv("TOKENFORGE_STORE_PATH"); ok {
		storePath = v
	}

	dbPath := "tokenforge.db"
	if v, ok := os.LookupEnv("TOKENFORGE_DB_PATH"); ok {
		dbPath = v
	}

	listenAddr := "127.0.0.1:8080"
	if v, ok := os.LookupEnv("TOKENFORGE_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	updateInterval := 8 * time.Hour
	if v, ok := os.LookupEnv("TOKENFORGE_UPDATE_INTERVAL"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("TOKENFORGE_UPDATE_INTERVAL has invalid duration %q: %w", v, err)
		}
		updateInterval = parsed
	}

	githubFolder := "saved_files"
	if v, ok := os.LookupEnv("TOKENFORGE_GITHUB_FOLDER"); ok {
		githubFolder = v
	}

	scrubKeys := []string{"github_pat"}
	if v, ok := os.LookupEnv("TOKENFORGE_SCRUB_KEYS"); ok {
		scrubKeys = splitCommaSeparated(v)
	}

	return &Config{
		IssuerURL:      issuerURL,
		DataDir:        dataDir,
		StorePath:      storePath,
		DBPath:         dbPath,
		ListenAddr:     listenAddr,
		UpdateInterval: updateInterval,
		GitHubToken:    os.Getenv("TOKENFORGE_GITHUB_TOKEN"),
		GitHubRepo:     os.Getenv("TOKENFORGE_GITHUB_REPO"),
		GitHubFolder:   githubFolder,
		TelegramToken:  os.Getenv("TOKENFORGE_TELEGRAM_TOKEN"),
		TelegramChatID: os.Getenv("TOKENFORGE_TELEGRAM_CHAT_ID"),
		ScrubKeys:      scrubKeys,
	}, nil
}

// splitCommaSeparated splits a comma-separated value, trimming whitespace
// and dropping empty items.
func splitCommaSeparated(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}
