package config

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() unexpected error: %v", err)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Fatalf("default driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Poll.StartHour != 13 || cfg.Poll.EndHour != 21 {
		t.Fatalf("default window = [%d, %d)", cfg.Poll.StartHour, cfg.Poll.EndHour)
	}
	if cfg.Poll.RetentionDays != 30 {
		t.Fatalf("default retention = %d", cfg.Poll.RetentionDays)
	}
	if cfg.AI.Timeout != 30*time.Second {
		t.Fatalf("default AI timeout = %v", cfg.AI.Timeout)
	}
	if cfg.Telegram.MaxDownloadBytes != 20*1024*1024 {
		t.Fatalf("default download cap = %d", cfg.Telegram.MaxDownloadBytes)
	}
	if cfg.Telegram.MaxDownloadBytes <= cfg.AI.MaxImageBytes {
		t.Fatalf("download cap %d must exceed the AI image budget %d so oversized photos can shrink",
			cfg.Telegram.MaxDownloadBytes, cfg.AI.MaxImageBytes)
	}
	if len(cfg.Poll.Questions) == 0 {
		t.Fatalf("expected a fallback poll question")
	}
}

func TestLoadConfigParsing(t *testing.T) {
	t.Setenv("DAILY_POLL_CHANNEL_IDS", "-1001234, -1005678 ,bogus")
	t.Setenv("TELEGRAM_BOT_TOKEN", ` "123:abc" `)
	t.Setenv("DAILY_POLL_QUESTIONS", "Вопрос один;Вопрос два; ")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() unexpected error: %v", err)
	}
	if len(cfg.Poll.ChannelIDs) != 2 || cfg.Poll.ChannelIDs[0] != -1001234 || cfg.Poll.ChannelIDs[1] != -1005678 {
		t.Fatalf("ChannelIDs = %v", cfg.Poll.ChannelIDs)
	}
	if cfg.Telegram.BotToken != "123:abc" {
		t.Fatalf("BotToken not cleaned: %q", cfg.Telegram.BotToken)
	}
	if len(cfg.Poll.Questions) != 2 {
		t.Fatalf("Questions = %v", cfg.Poll.Questions)
	}
}

func TestLoadConfigRejectsBadWindow(t *testing.T) {
	t.Setenv("DAILY_POLL_START_HOUR", "18")
	t.Setenv("DAILY_POLL_END_HOUR", "13")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("LoadConfig() expected error for inverted window")
	}
}

func TestLoadConfigRejectsDownloadCapBelowImageBudget(t *testing.T) {
	t.Setenv("TELEGRAM_MAX_DOWNLOAD_BYTES", "1024")
	t.Setenv("AI_MAX_IMAGE_BYTES", "4096")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("LoadConfig() expected error for download cap below the image budget")
	}
}

func TestLoadConfigRejectsUnknownProvider(t *testing.T) {
	t.Setenv("AI_PROVIDER", "watson")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("LoadConfig() expected error for unknown provider")
	}
}
