package repository

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/avelov/tg-pulse/domains/ledger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// --- Persistence Model ---

type postModel struct {
	ID        uint      `gorm:"primaryKey"`
	ChannelID int64     `gorm:"uniqueIndex:idx_posts_channel_message,priority:1;index:idx_posts_channel_date,priority:1;not null"`
	MessageID int       `gorm:"uniqueIndex:idx_posts_channel_message,priority:2;not null"`
	PostDate  string    `gorm:"size:10;index:idx_posts_channel_date,priority:2;not null"`
	PhotoRef  string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null"`
}

func (postModel) TableName() string {
	return "posts"
}

// --- Repository Implementation ---

type PostLedgerRepository struct {
	db *gorm.DB

	// rng is behind a mutex because scheduler ticks and manual triggers may
	// pick posts concurrently. Injectable for deterministic tests.
	mu  sync.Mutex
	rng *rand.Rand
}

func NewPostLedgerRepository(db *gorm.DB, rng *rand.Rand) *PostLedgerRepository {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &PostLedgerRepository{db: db, rng: rng}
}

func (r *PostLedgerRepository) InitSchema(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&postModel{})
}

// RecordPost is an atomic insert-or-ignore on (channel_id, message_id).
func (r *PostLedgerRepository) RecordPost(ctx context.Context, channelID int64, messageID int, postDate, photoRef string) (bool, error) {
	m := postModel{
		ChannelID: channelID,
		MessageID: messageID,
		PostDate:  postDate,
		PhotoRef:  photoRef,
		CreatedAt: time.Now().UTC(),
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "channel_id"}, {Name: "message_id"}},
		DoNothing: true,
	}).Create(&m)
	if result.Error != nil {
		return false, fmt.Errorf("failed to record post %d/%d: %w", channelID, messageID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *PostLedgerRepository) CountPostsOnDate(ctx context.Context, channelID int64, date string) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&postModel{}).
		Where("channel_id = ? AND post_date = ?", channelID, date).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count posts for %d on %s: %w", channelID, date, err)
	}
	return int(n), nil
}

// PickRandomPostOnDate selects uniformly among the day's posts via a random
// offset over a stable ordering, so the choice never favors insertion order.
func (r *PostLedgerRepository) PickRandomPostOnDate(ctx context.Context, channelID int64, date string) (*ledger.PostRecord, error) {
	count, err := r.CountPostsOnDate(ctx, channelID, date)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	r.mu.Lock()
	offset := r.rng.Intn(count)
	r.mu.Unlock()

	var m postModel
	err = r.db.WithContext(ctx).
		Where("channel_id = ? AND post_date = ?", channelID, date).
		Order("message_id").
		Offset(offset).
		First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			// The day's posts were swept between the count and the read.
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pick post for %d on %s: %w", channelID, date, err)
	}
	return fromPostModel(m), nil
}

func (r *PostLedgerRepository) MaxSeenDate(ctx context.Context, channelID int64) (string, error) {
	var maxDate string
	err := r.db.WithContext(ctx).Model(&postModel{}).
		Where("channel_id = ?", channelID).
		Select("COALESCE(MAX(post_date), '')").
		Scan(&maxDate).Error
	if err != nil {
		return "", fmt.Errorf("failed to read max post_date for %d: %w", channelID, err)
	}
	return maxDate, nil
}

func (r *PostLedgerRepository) SweepBefore(ctx context.Context, channelID int64, cutoff string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("channel_id = ? AND post_date < ?", channelID, cutoff).
		Delete(&postModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to sweep posts for %d before %s: %w", channelID, cutoff, result.Error)
	}
	return result.RowsAffected, nil
}

func fromPostModel(m postModel) *ledger.PostRecord {
	return &ledger.PostRecord{
		ChannelID: m.ChannelID,
		MessageID: m.MessageID,
		PostDate:  m.PostDate,
		PhotoRef:  m.PhotoRef,
		CreatedAt: m.CreatedAt,
	}
}

var _ ledger.IPostLedger = (*PostLedgerRepository)(nil)
