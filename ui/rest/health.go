package rest

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/gofiber/fiber/v2"

	"github.com/avelov/tg-pulse/core/config"
	"github.com/avelov/tg-pulse/pkg/utils"
)

type Health struct {
	cfg *config.Config
}

func InitRestHealth(app fiber.Router, cfg *config.Config) Health {
	handler := Health{cfg: cfg}

	app.Get("/", handler.Status)
	app.Get("/health", handler.Status)

	return handler
}

func (handler *Health) Status(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Service healthy",
		Results: fiber.Map{
			"version":           handler.cfg.App.Version,
			"ai_provider":       handler.cfg.AI.Provider,
			"token_fingerprint": tokenFingerprint(handler.cfg.Telegram.BotToken),
			"daily_poll": fiber.Map{
				"enabled":  handler.cfg.Poll.Enabled,
				"channels": len(handler.cfg.Poll.ChannelIDs),
				"timezone": handler.cfg.Poll.Timezone,
			},
		},
	})
}

// tokenFingerprint identifies which bot token is loaded without ever
// echoing the token itself.
func tokenFingerprint(token string) string {
	if token == "" {
		return "unset"
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:4])
}
