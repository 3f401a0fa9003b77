package rest

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/avelov/tg-pulse/core/config"
	"github.com/avelov/tg-pulse/domains/discussion"
	"github.com/avelov/tg-pulse/domains/messaging"
)

type fakeIngest struct {
	events []messaging.ChannelPostEvent
}

func (f *fakeIngest) HandleChannelPost(ctx context.Context, evt messaging.ChannelPostEvent) error {
	f.events = append(f.events, evt)
	return nil
}

type fakeMapper struct {
	signals []discussion.Signal
}

func (f *fakeMapper) Observe(ctx context.Context, sig discussion.Signal) error {
	f.signals = append(f.signals, sig)
	return nil
}

func (f *fakeMapper) Resolve(ctx context.Context, sig discussion.Signal) (*discussion.Link, error) {
	return nil, discussion.ErrNoLink
}

func newWebhookApp(t *testing.T) (*fiber.App, *fakeIngest, *fakeMapper) {
	t.Helper()

	app := fiber.New()
	app.Use(cors.New(cors.Config{
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	ingestService := &fakeIngest{}
	mapperService := &fakeMapper{}
	InitRestWebhook(app, ingestService, mapperService, config.TelegramConfig{
		WebhookPathSecret:  "path-secret",
		WebhookSecretToken: "header-secret",
	})
	return app, ingestService, mapperService
}

const channelPostUpdate = `{
	"update_id": 1,
	"channel_post": {
		"message_id": 7,
		"date": 1765000000,
		"chat": {"id": -100123, "type": "channel"},
		"photo": [
			{"file_id": "small", "file_unique_id": "u1", "width": 90, "height": 90},
			{"file_id": "big", "file_unique_id": "u2", "width": 1280, "height": 1280}
		],
		"caption": "авторская подпись"
	}
}`

const autoForwardUpdate = `{
	"update_id": 2,
	"message": {
		"message_id": 55,
		"date": 1765000001,
		"chat": {"id": -100999, "type": "supergroup"},
		"is_automatic_forward": true,
		"forward_from_chat": {"id": -100123, "type": "channel"},
		"forward_from_message_id": 7
	}
}`

func postUpdate(t *testing.T, app *fiber.App, path, secretHeader, body string) int {
	t.Helper()

	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secretHeader != "" {
		req.Header.Set(secretTokenHeader, secretHeader)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() unexpected error: %v", err)
	}
	defer func() { _, _ = io.Copy(io.Discard, resp.Body); _ = resp.Body.Close() }()
	return resp.StatusCode
}

func TestWebhookRejectsWrongPathSecret(t *testing.T) {
	app, ingestService, _ := newWebhookApp(t)

	status := postUpdate(t, app, "/webhook/wrong", "header-secret", channelPostUpdate)
	if status != 403 {
		t.Fatalf("expected 403 for wrong path secret, got %d", status)
	}
	if len(ingestService.events) != 0 {
		t.Fatal("update must not be dispatched on failed authentication")
	}
}

func TestWebhookRejectsWrongHeaderToken(t *testing.T) {
	app, ingestService, _ := newWebhookApp(t)

	if status := postUpdate(t, app, "/webhook/path-secret", "", channelPostUpdate); status != 403 {
		t.Fatalf("expected 403 for missing secret header, got %d", status)
	}
	if status := postUpdate(t, app, "/webhook/path-secret", "nope", channelPostUpdate); status != 403 {
		t.Fatalf("expected 403 for wrong secret header, got %d", status)
	}
	if len(ingestService.events) != 0 {
		t.Fatal("update must not be dispatched on failed authentication")
	}
}

func TestWebhookDispatchesChannelPost(t *testing.T) {
	app, ingestService, _ := newWebhookApp(t)

	status := postUpdate(t, app, "/webhook/path-secret", "header-secret", channelPostUpdate)
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(ingestService.events) != 1 {
		t.Fatalf("expected 1 dispatched event, got %d", len(ingestService.events))
	}

	evt := ingestService.events[0]
	if evt.ChannelID != -100123 || evt.MessageID != 7 {
		t.Fatalf("wrong event identity: %+v", evt)
	}
	if evt.PhotoFileID != "big" {
		t.Fatalf("expected the largest photo size, got %q", evt.PhotoFileID)
	}
	if evt.Caption != "авторская подпись" {
		t.Fatalf("caption not carried: %q", evt.Caption)
	}
}

func TestWebhookDispatchesAutoForward(t *testing.T) {
	app, _, mapperService := newWebhookApp(t)

	status := postUpdate(t, app, "/webhook/path-secret", "header-secret", autoForwardUpdate)
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(mapperService.signals) != 1 {
		t.Fatalf("expected 1 observed signal, got %d", len(mapperService.signals))
	}

	sig := mapperService.signals[0]
	if sig.Kind != discussion.KindForwardCorrelation || sig.Forward == nil {
		t.Fatalf("wrong signal shape: %+v", sig)
	}
	if sig.Forward.OriginChannelID != -100123 || sig.Forward.OriginMessageID != 7 {
		t.Fatalf("wrong correlation origin: %+v", sig.Forward)
	}
	if sig.Forward.DiscussionChatID != -100999 || sig.Forward.DiscussionMessageID != 55 {
		t.Fatalf("wrong correlation target: %+v", sig.Forward)
	}
}

func TestWebhookIgnoresIrrelevantUpdates(t *testing.T) {
	app, ingestService, mapperService := newWebhookApp(t)

	plainMessage := `{"update_id": 3, "message": {"message_id": 1, "date": 1765000002, "chat": {"id": 5, "type": "private"}, "text": "hi"}}`
	status := postUpdate(t, app, "/webhook/path-secret", "header-secret", plainMessage)
	if status != 200 {
		t.Fatalf("expected 200 for irrelevant update, got %d", status)
	}
	if len(ingestService.events) != 0 || len(mapperService.signals) != 0 {
		t.Fatal("irrelevant update must not be dispatched")
	}
}

func TestWebhookAnswersCorsPreflight(t *testing.T) {
	app, _, _ := newWebhookApp(t)

	req := httptest.NewRequest("OPTIONS", "/webhook/path-secret", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Access-Control-Allow-Origin") == "" {
		t.Fatal("expected an Access-Control-Allow-Origin header on the preflight response")
	}
}
