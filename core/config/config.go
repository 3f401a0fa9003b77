package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Config holds all application configuration in a structured way.
type Config struct {
	App      AppConfig
	Telegram TelegramConfig
	AI       AIConfig
	Database DatabaseConfig
	Valkey   ValkeyConfig
	Poll     PollConfig
}

type AppConfig struct {
	Version     string
	Port        string
	Debug       bool
	Environment string
	BasicAuth   []string
	BaseURL     string // public base URL the webhook is registered under
}

type TelegramConfig struct {
	BotToken           string
	WebhookPathSecret  string // part of the webhook URL path
	WebhookSecretToken string // checked against the Telegram secret header
	AllowedChannelID   int64  // 0 means ingest from any channel
	MaxDownloadBytes   int64  // cap on a single file fetched from Telegram
}

type AIConfig struct {
	Provider        string // "openai" (any OpenAI-compatible endpoint) or "gemini"
	BaseURL         string
	APIKey          string
	Model           string
	Timeout         time.Duration
	MaxImageBytes   int64
	CaptionLanguage string
}

type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Name     string // file path for SQLite, DB name for Postgres
}

type ValkeyConfig struct {
	Enabled   bool
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

type PollConfig struct {
	Enabled       bool
	ChannelIDs    []int64 // whitelist of channels eligible for the daily poll
	Timezone      string  // civil timezone the publishing window lives in
	StartHour     int
	EndHour       int
	MinPosts      int
	OptionsCount  int
	OpenSeconds   int // 0 means the poll never auto-closes
	Questions     []string
	RetentionDays int
	TickInterval  time.Duration
}

// Location resolves the configured civil timezone.
func (p PollConfig) Location() (*time.Location, error) {
	return time.LoadLocation(p.Timezone)
}

// Global provides access to the loaded configuration globally.
var Global *Config

// LoadConfig loads configuration from environment variables or defaults.
func LoadConfig() (*Config, error) {
	storages := getEnv("APP_STORAGES_DIR", "storages")

	appCfg := AppConfig{
		Version:     "v1.2.0",
		Port:        getEnv("APP_PORT", "3000"),
		Debug:       getEnvBool("APP_DEBUG", false),
		Environment: getEnv("APP_ENV", "development"),
		BaseURL:     strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
	}
	if v := getEnv("APP_BASIC_AUTH", ""); v != "" {
		appCfg.BasicAuth = strings.Split(v, ",")
	}

	tgCfg := TelegramConfig{
		BotToken:           cleanToken(getEnv("TELEGRAM_BOT_TOKEN", "")),
		WebhookPathSecret:  getEnv("TELEGRAM_WEBHOOK_PATH_SECRET", ""),
		WebhookSecretToken: getEnv("TELEGRAM_WEBHOOK_SECRET_TOKEN", ""),
		AllowedChannelID:   getEnvInt64("TELEGRAM_ALLOWED_CHANNEL_ID", 0),
		// Bot API getFile serves files up to 20 MB.
		MaxDownloadBytes: getEnvInt64("TELEGRAM_MAX_DOWNLOAD_BYTES", 20*1024*1024),
	}

	aiCfg := AIConfig{
		Provider:        strings.ToLower(getEnv("AI_PROVIDER", "openai")),
		BaseURL:         getEnv("AI_BASE_URL", "https://api.timeweb.cloud/v1"),
		APIKey:          getEnv("AI_API_KEY", ""),
		Model:           getEnv("AI_MODEL", ""),
		Timeout:         time.Duration(getEnvInt("AI_TIMEOUT_S", 30)) * time.Second,
		MaxImageBytes:   getEnvInt64("AI_MAX_IMAGE_BYTES", 4*1024*1024),
		CaptionLanguage: getEnv("CAPTION_LANGUAGE", "ru"),
	}

	dbCfg := DatabaseConfig{
		Driver:   getEnv("DB_DRIVER", "sqlite"),
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", filepath.Join(storages, "tgpulse.db")),
	}

	valkeyCfg := ValkeyConfig{
		Enabled:   getEnvBool("VALKEY_ENABLED", false),
		Address:   getEnv("VALKEY_ADDRESS", "localhost:6379"),
		Password:  getEnv("VALKEY_PASSWORD", ""),
		DB:        getEnvInt("VALKEY_DB", 0),
		KeyPrefix: getEnv("VALKEY_KEY_PREFIX", "tgpulse:"),
	}

	pollCfg := PollConfig{
		Enabled:       getEnvBool("DAILY_POLL_ENABLED", false),
		ChannelIDs:    getEnvInt64List("DAILY_POLL_CHANNEL_IDS"),
		Timezone:      getEnv("DAILY_POLL_TIMEZONE", "Europe/Moscow"),
		StartHour:     getEnvInt("DAILY_POLL_START_HOUR", 13),
		EndHour:       getEnvInt("DAILY_POLL_END_HOUR", 21),
		MinPosts:      getEnvInt("DAILY_POLL_MIN_POSTS", 3),
		OptionsCount:  getEnvInt("DAILY_POLL_OPTIONS_COUNT", 4),
		OpenSeconds:   getEnvInt("DAILY_POLL_OPEN_SECONDS", 0),
		Questions:     getEnvList("DAILY_POLL_QUESTIONS", ";"),
		RetentionDays: getEnvInt("POST_RETENTION_DAYS", 30),
		TickInterval:  time.Duration(getEnvInt("DAILY_POLL_TICK_SECONDS", 60)) * time.Second,
	}
	if len(pollCfg.Questions) == 0 {
		pollCfg.Questions = []string{"Что происходит на этом фото?"}
	}

	cfg := &Config{
		App:      appCfg,
		Telegram: tgCfg,
		AI:       aiCfg,
		Database: dbCfg,
		Valkey:   valkeyCfg,
		Poll:     pollCfg,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	Global = cfg
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Poll.StartHour < 0 || c.Poll.StartHour > 23 || c.Poll.EndHour < 1 || c.Poll.EndHour > 24 {
		return fmt.Errorf("poll window hours out of range: [%d, %d)", c.Poll.StartHour, c.Poll.EndHour)
	}
	if c.Poll.StartHour >= c.Poll.EndHour {
		return fmt.Errorf("poll window start %d must be before end %d", c.Poll.StartHour, c.Poll.EndHour)
	}
	if c.Poll.OptionsCount < 2 || c.Poll.OptionsCount > 10 {
		return fmt.Errorf("poll options count %d outside Telegram's 2..10 range", c.Poll.OptionsCount)
	}
	if c.Poll.RetentionDays < 1 {
		return fmt.Errorf("post retention must be at least 1 day, got %d", c.Poll.RetentionDays)
	}
	if _, err := c.Poll.Location(); err != nil {
		return fmt.Errorf("invalid poll timezone %q: %w", c.Poll.Timezone, err)
	}
	switch c.AI.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unsupported AI provider %q", c.AI.Provider)
	}
	// Photos above the AI budget must still download so they can be
	// downscaled instead of dropped.
	if c.Telegram.MaxDownloadBytes < c.AI.MaxImageBytes {
		return fmt.Errorf("telegram download cap %d is below the AI image budget %d", c.Telegram.MaxDownloadBytes, c.AI.MaxImageBytes)
	}
	return nil
}

// cleanToken strips the whitespace and quoting that deploy panels tend to
// smuggle into pasted bot tokens.
func cleanToken(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			v = strings.TrimSpace(v[1 : len(v)-1])
		}
	}
	return v
}

// WebhookURL is the full public URL registered with Telegram.
func (c *Config) WebhookURL() string {
	return c.App.BaseURL + "/webhook/" + c.Telegram.WebhookPathSecret
}
