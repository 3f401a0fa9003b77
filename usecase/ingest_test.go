package usecase

import (
	"bytes"
	"context"
	"image"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/avelov/tg-pulse/core/config"
	"github.com/avelov/tg-pulse/domains/discussion"
	"github.com/avelov/tg-pulse/domains/messaging"
	"github.com/avelov/tg-pulse/repository"
)

type ingestHarness struct {
	ingest    *serviceIngest
	ledger    *repository.PostLedgerRepository
	mapStore  *repository.MemoryDiscussionMap
	transport *fakeTransport
	captioner *fakeCaptioner
}

func newIngestHarness(t *testing.T, allowedChannel int64) *ingestHarness {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open("file:"+path+"?_foreign_keys=on"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	postLedger := repository.NewPostLedgerRepository(db, rand.New(rand.NewSource(1)))
	if err := postLedger.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() unexpected error: %v", err)
	}

	mapStore := repository.NewMemoryDiscussionMap()
	transport := &fakeTransport{}
	captioner := &fakeCaptioner{}

	cfg := &config.Config{}
	cfg.Telegram.AllowedChannelID = allowedChannel
	cfg.AI.MaxImageBytes = 4 << 20
	cfg.Poll.RetentionDays = 30

	svc := NewIngestService(cfg, postLedger, NewMapperService(mapStore), transport, captioner, nil, time.UTC).(*serviceIngest)
	// Run delivery synchronously and without backoff waits.
	svc.spawn = func(f func()) { f() }
	svc.delays = nil

	return &ingestHarness{ingest: svc, ledger: postLedger, mapStore: mapStore, transport: transport, captioner: captioner}
}

func photoEvent(channelID int64, messageID int, at time.Time) messaging.ChannelPostEvent {
	return messaging.ChannelPostEvent{
		ChannelID:   channelID,
		MessageID:   messageID,
		UnixDate:    at.Unix(),
		PhotoFileID: "file-abc",
		Caption:     "оригинальная подпись",
	}
}

func (h *ingestHarness) link(t *testing.T, channelID int64, messageID, discussionMessageID int) {
	t.Helper()
	err := h.mapStore.Put(context.Background(), channelID, messageID, discussion.Link{
		DiscussionChatID:    -100999,
		DiscussionMessageID: discussionMessageID,
	}, time.Hour)
	if err != nil {
		t.Fatalf("Put() unexpected error: %v", err)
	}
}

func TestIngestRecordsPostAndDeliversCaption(t *testing.T) {
	h := newIngestHarness(t, 0)
	now := time.Date(2026, 8, 20, 15, 0, 0, 0, time.UTC)
	h.link(t, -100123, 7, 42)

	if err := h.ingest.HandleChannelPost(context.Background(), photoEvent(-100123, 7, now)); err != nil {
		t.Fatalf("HandleChannelPost() unexpected error: %v", err)
	}

	count, err := h.ledger.CountPostsOnDate(context.Background(), -100123, "2026-08-20")
	if err != nil {
		t.Fatalf("CountPostsOnDate() unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 recorded post, got %d", count)
	}

	if len(h.transport.replies) != 1 {
		t.Fatalf("expected 1 delivered caption, got %d", len(h.transport.replies))
	}
	reply := h.transport.replies[0]
	if reply.chatID != -100999 || reply.replyTo != 42 {
		t.Fatalf("caption delivered to wrong thread: chat=%d replyTo=%d", reply.chatID, reply.replyTo)
	}
	if reply.text != "a caption" {
		t.Fatalf("unexpected caption text %q", reply.text)
	}
}

func TestIngestDuplicatePostIsSilent(t *testing.T) {
	h := newIngestHarness(t, 0)
	now := time.Date(2026, 8, 20, 15, 0, 0, 0, time.UTC)
	h.link(t, -100123, 7, 42)

	evt := photoEvent(-100123, 7, now)
	for i := 0; i < 3; i++ {
		if err := h.ingest.HandleChannelPost(context.Background(), evt); err != nil {
			t.Fatalf("HandleChannelPost() attempt %d unexpected error: %v", i, err)
		}
	}

	count, _ := h.ledger.CountPostsOnDate(context.Background(), -100123, "2026-08-20")
	if count != 1 {
		t.Fatalf("expected 1 row after redelivery, got %d", count)
	}
	if len(h.transport.replies) != 1 {
		t.Fatalf("expected 1 caption after redelivery, got %d", len(h.transport.replies))
	}
}

func TestIngestAlbumGetsOneCaption(t *testing.T) {
	h := newIngestHarness(t, 0)
	now := time.Date(2026, 8, 20, 15, 0, 0, 0, time.UTC)
	h.link(t, -100123, 7, 42)
	h.link(t, -100123, 8, 43)

	first := photoEvent(-100123, 7, now)
	first.MediaGroupID = "album-1"
	second := photoEvent(-100123, 8, now)
	second.MediaGroupID = "album-1"

	if err := h.ingest.HandleChannelPost(context.Background(), first); err != nil {
		t.Fatalf("HandleChannelPost() unexpected error: %v", err)
	}
	if err := h.ingest.HandleChannelPost(context.Background(), second); err != nil {
		t.Fatalf("HandleChannelPost() unexpected error: %v", err)
	}

	count, _ := h.ledger.CountPostsOnDate(context.Background(), -100123, "2026-08-20")
	if count != 2 {
		t.Fatalf("expected both album items in the ledger, got %d", count)
	}
	if len(h.transport.replies) != 1 {
		t.Fatalf("expected a single caption for the album, got %d", len(h.transport.replies))
	}
}

func TestIngestIgnoresNonConfiguredChannel(t *testing.T) {
	h := newIngestHarness(t, -100123)
	now := time.Date(2026, 8, 20, 15, 0, 0, 0, time.UTC)

	if err := h.ingest.HandleChannelPost(context.Background(), photoEvent(-100555, 1, now)); err != nil {
		t.Fatalf("HandleChannelPost() unexpected error: %v", err)
	}

	count, _ := h.ledger.CountPostsOnDate(context.Background(), -100555, "2026-08-20")
	if count != 0 {
		t.Fatalf("expected no rows for foreign channel, got %d", count)
	}
}

func TestIngestWithoutLinkKeepsLedgerWrite(t *testing.T) {
	h := newIngestHarness(t, 0)
	now := time.Date(2026, 8, 20, 15, 0, 0, 0, time.UTC)

	if err := h.ingest.HandleChannelPost(context.Background(), photoEvent(-100123, 7, now)); err != nil {
		t.Fatalf("HandleChannelPost() unexpected error: %v", err)
	}

	count, _ := h.ledger.CountPostsOnDate(context.Background(), -100123, "2026-08-20")
	if count != 1 {
		t.Fatalf("expected the post recorded despite missing link, got %d rows", count)
	}
	if len(h.transport.replies) != 0 {
		t.Fatalf("expected no caption without a discussion link, got %d", len(h.transport.replies))
	}
}

func TestIngestSweepsOnNewDay(t *testing.T) {
	h := newIngestHarness(t, 0)

	// Seed history: one post 40 days old, one 10 days old.
	if _, err := h.ledger.RecordPost(context.Background(), -100123, 1, "2026-07-11", "f1"); err != nil {
		t.Fatalf("RecordPost() unexpected error: %v", err)
	}
	if _, err := h.ledger.RecordPost(context.Background(), -100123, 2, "2026-08-10", "f2"); err != nil {
		t.Fatalf("RecordPost() unexpected error: %v", err)
	}

	// First post of a new civil day triggers the sweep.
	now := time.Date(2026, 8, 20, 15, 0, 0, 0, time.UTC)
	if err := h.ingest.HandleChannelPost(context.Background(), photoEvent(-100123, 3, now)); err != nil {
		t.Fatalf("HandleChannelPost() unexpected error: %v", err)
	}

	if count, _ := h.ledger.CountPostsOnDate(context.Background(), -100123, "2026-07-11"); count != 0 {
		t.Fatalf("expected 40-day-old post swept, still %d rows", count)
	}
	if count, _ := h.ledger.CountPostsOnDate(context.Background(), -100123, "2026-08-10"); count != 1 {
		t.Fatalf("expected 10-day-old post kept, got %d rows", count)
	}
	if count, _ := h.ledger.CountPostsOnDate(context.Background(), -100123, "2026-08-20"); count != 1 {
		t.Fatalf("expected today's post recorded, got %d rows", count)
	}
}

func TestIngestDownscalesOversizedPhoto(t *testing.T) {
	h := newIngestHarness(t, 0)
	const budget = 48 << 10
	h.ingest.maxImageBytes = budget

	// Incompressible noise, so the PNG fixture stays well above the budget.
	src := image.NewNRGBA(image.Rect(0, 0, 256, 256))
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i] = byte(rng.Intn(256))
		src.Pix[i+1] = byte(rng.Intn(256))
		src.Pix[i+2] = byte(rng.Intn(256))
		src.Pix[i+3] = 255
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, src, imaging.PNG); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	if buf.Len() <= budget {
		t.Fatalf("fixture too small to exceed the budget: %d bytes", buf.Len())
	}
	h.transport.photoData = buf.Bytes()
	h.link(t, -100123, 7, 42)

	now := time.Date(2026, 8, 20, 15, 0, 0, 0, time.UTC)
	if err := h.ingest.HandleChannelPost(context.Background(), photoEvent(-100123, 7, now)); err != nil {
		t.Fatalf("HandleChannelPost() unexpected error: %v", err)
	}

	if len(h.transport.replies) != 1 {
		t.Fatalf("expected the caption delivered after downscaling, got %d replies", len(h.transport.replies))
	}
	if len(h.captioner.captionImgs) != 1 {
		t.Fatalf("expected 1 caption request, got %d", len(h.captioner.captionImgs))
	}
	img := h.captioner.captionImgs[0]
	if img.MimeType != "image/jpeg" {
		t.Fatalf("downscaled image mime = %q, want image/jpeg", img.MimeType)
	}
	if int64(len(img.Data)) > budget {
		t.Fatalf("image not downscaled: %d bytes over a %d-byte budget", len(img.Data), budget)
	}
}
