package rest

import (
	"crypto/subtle"
	"encoding/json"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/avelov/tg-pulse/core/config"
	"github.com/avelov/tg-pulse/domains/discussion"
	"github.com/avelov/tg-pulse/domains/ingest"
	"github.com/avelov/tg-pulse/infrastructure/telegram"
	"github.com/avelov/tg-pulse/pkg/utils"
)

const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

type Webhook struct {
	Ingest ingest.IIngestUsecase
	Mapper discussion.IMapperUsecase

	pathSecret  string
	secretToken string
}

func InitRestWebhook(app fiber.Router, ingestService ingest.IIngestUsecase, mapperService discussion.IMapperUsecase, cfg config.TelegramConfig) Webhook {
	handler := Webhook{
		Ingest:      ingestService,
		Mapper:      mapperService,
		pathSecret:  cfg.WebhookPathSecret,
		secretToken: cfg.WebhookSecretToken,
	}

	app.Post("/webhook/:secret", handler.Receive)

	return handler
}

// Receive is the single Telegram-facing endpoint. Anything that fails
// authentication gets a 403 with no detail; handled updates always answer
// 200 so Telegram does not redeliver them.
func (handler *Webhook) Receive(c *fiber.Ctx) error {
	if subtle.ConstantTimeCompare([]byte(c.Params("secret")), []byte(handler.pathSecret)) != 1 {
		return forbidden(c)
	}
	if handler.secretToken != "" &&
		subtle.ConstantTimeCompare([]byte(c.Get(secretTokenHeader)), []byte(handler.secretToken)) != 1 {
		return forbidden(c)
	}

	var update tgbotapi.Update
	if err := json.Unmarshal(c.Body(), &update); err != nil {
		logrus.WithError(err).Warn("[WEBHOOK] Undecodable update body")
		return c.JSON(utils.ResponseData{
			Status:  200,
			Code:    "IGNORED",
			Message: "Update ignored",
		})
	}

	if evt := telegram.ExtractChannelPost(&update); evt != nil {
		if err := handler.Ingest.HandleChannelPost(c.UserContext(), *evt); err != nil {
			logrus.WithError(err).Error("[WEBHOOK] Channel post handling failed")
			return c.Status(500).JSON(utils.ResponseData{
				Status:  500,
				Code:    "INTERNAL_SERVER_ERROR",
				Message: "Post could not be recorded",
			})
		}
	} else if fwd := telegram.ExtractAutoForward(&update); fwd != nil {
		sig := discussion.Signal{
			Kind: discussion.KindForwardCorrelation,
			Forward: &discussion.ForwardCorrelation{
				OriginChannelID:     fwd.OriginChannelID,
				OriginMessageID:     fwd.OriginMessageID,
				DiscussionChatID:    fwd.DiscussionChatID,
				DiscussionMessageID: fwd.DiscussionMessageID,
			},
		}
		if err := handler.Mapper.Observe(c.UserContext(), sig); err != nil {
			logrus.WithError(err).Warn("[WEBHOOK] Auto-forward correlation failed")
		}
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Update processed",
	})
}

func forbidden(c *fiber.Ctx) error {
	return c.Status(403).JSON(utils.ResponseData{
		Status:  403,
		Code:    "FORBIDDEN_ERROR",
		Message: "Forbidden",
	})
}
