package repository

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
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
	return db
}

func newTestLedger(t *testing.T, seed int64) *PostLedgerRepository {
	t.Helper()

	repo := NewPostLedgerRepository(openTestDB(t), rand.New(rand.NewSource(seed)))
	if err := repo.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() unexpected error: %v", err)
	}
	return repo
}

func TestRecordPostIdempotent(t *testing.T) {
	repo := newTestLedger(t, 1)
	ctx := context.Background()

	inserted, err := repo.RecordPost(ctx, -100123, 42, "2026-08-30", "file-abc")
	if err != nil {
		t.Fatalf("RecordPost() unexpected error: %v", err)
	}
	if !inserted {
		t.Fatalf("RecordPost() first call expected inserted=true")
	}

	// Re-observation of the same (channel, message) must be a silent no-op.
	inserted, err = repo.RecordPost(ctx, -100123, 42, "2026-08-30", "file-other")
	if err != nil {
		t.Fatalf("RecordPost() duplicate unexpected error: %v", err)
	}
	if inserted {
		t.Fatalf("RecordPost() duplicate expected inserted=false")
	}

	count, err := repo.CountPostsOnDate(ctx, -100123, "2026-08-30")
	if err != nil {
		t.Fatalf("CountPostsOnDate() unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("CountPostsOnDate() = %d, want 1", count)
	}
}

func TestCountPostsOnDateSeparatesChannelsAndDates(t *testing.T) {
	repo := newTestLedger(t, 1)
	ctx := context.Background()

	mustRecord(t, repo, -1, 1, "2026-08-30")
	mustRecord(t, repo, -1, 2, "2026-08-30")
	mustRecord(t, repo, -1, 3, "2026-08-31")
	mustRecord(t, repo, -2, 4, "2026-08-30")

	count, err := repo.CountPostsOnDate(ctx, -1, "2026-08-30")
	if err != nil {
		t.Fatalf("CountPostsOnDate() unexpected error: %v", err)
	}
	if count != 2 {
		t.Fatalf("CountPostsOnDate() = %d, want 2", count)
	}
}

func TestPickRandomPostOnDate(t *testing.T) {
	repo := newTestLedger(t, 7)
	ctx := context.Background()

	for id := 10; id < 15; id++ {
		mustRecord(t, repo, -1, id, "2026-08-30")
	}

	post, err := repo.PickRandomPostOnDate(ctx, -1, "2026-08-30")
	if err != nil {
		t.Fatalf("PickRandomPostOnDate() unexpected error: %v", err)
	}
	if post == nil {
		t.Fatalf("PickRandomPostOnDate() expected a post")
	}
	if post.MessageID < 10 || post.MessageID >= 15 {
		t.Fatalf("PickRandomPostOnDate() returned unknown message %d", post.MessageID)
	}

	// A day without posts yields no pick and no error.
	post, err = repo.PickRandomPostOnDate(ctx, -1, "2026-09-01")
	if err != nil {
		t.Fatalf("PickRandomPostOnDate() empty day unexpected error: %v", err)
	}
	if post != nil {
		t.Fatalf("PickRandomPostOnDate() empty day expected nil, got %+v", post)
	}
}

func TestPickRandomPostCoversAllPosts(t *testing.T) {
	repo := newTestLedger(t, 99)
	ctx := context.Background()

	for id := 1; id <= 3; id++ {
		mustRecord(t, repo, -1, id, "2026-08-30")
	}

	seen := make(map[int]bool)
	for i := 0; i < 60; i++ {
		post, err := repo.PickRandomPostOnDate(ctx, -1, "2026-08-30")
		if err != nil {
			t.Fatalf("PickRandomPostOnDate() unexpected error: %v", err)
		}
		seen[post.MessageID] = true
	}
	if len(seen) != 3 {
		t.Fatalf("selection is not uniform over the day's posts, saw %v", seen)
	}
}

func TestMaxSeenDate(t *testing.T) {
	repo := newTestLedger(t, 1)
	ctx := context.Background()

	maxDate, err := repo.MaxSeenDate(ctx, -1)
	if err != nil {
		t.Fatalf("MaxSeenDate() unexpected error: %v", err)
	}
	if maxDate != "" {
		t.Fatalf("MaxSeenDate() on empty ledger = %q, want \"\"", maxDate)
	}

	mustRecord(t, repo, -1, 1, "2026-08-29")
	mustRecord(t, repo, -1, 2, "2026-08-31")
	mustRecord(t, repo, -1, 3, "2026-08-30")

	maxDate, err = repo.MaxSeenDate(ctx, -1)
	if err != nil {
		t.Fatalf("MaxSeenDate() unexpected error: %v", err)
	}
	if maxDate != "2026-08-31" {
		t.Fatalf("MaxSeenDate() = %q, want 2026-08-31", maxDate)
	}
}

func TestSweepBeforeDeletesOnlyExpiredRows(t *testing.T) {
	repo := newTestLedger(t, 1)
	ctx := context.Background()

	// 40 days old and 10 days old relative to "today" 2026-08-31, retention 30.
	mustRecord(t, repo, -1, 1, "2026-07-22")
	mustRecord(t, repo, -1, 2, "2026-08-21")

	deleted, err := repo.SweepBefore(ctx, -1, "2026-08-01")
	if err != nil {
		t.Fatalf("SweepBefore() unexpected error: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("SweepBefore() deleted %d rows, want 1", deleted)
	}

	count, err := repo.CountPostsOnDate(ctx, -1, "2026-08-21")
	if err != nil {
		t.Fatalf("CountPostsOnDate() unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("recent post was swept away")
	}
}

func mustRecord(t *testing.T, repo *PostLedgerRepository, channelID int64, messageID int, date string) {
	t.Helper()
	if _, err := repo.RecordPost(context.Background(), channelID, messageID, date, "file-x"); err != nil {
		t.Fatalf("RecordPost(%d, %d) unexpected error: %v", channelID, messageID, err)
	}
}
