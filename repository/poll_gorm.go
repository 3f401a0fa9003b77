package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avelov/tg-pulse/domains/poll"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// --- Persistence Model ---

type pollModel struct {
	ChannelID           int64      `gorm:"primaryKey;autoIncrement:false"`
	PollDate            string     `gorm:"primaryKey;size:10"`
	ScheduledAt         time.Time  `gorm:"not null"`
	PostedAt            *time.Time
	SkippedAt           *time.Time
	SkipReason          string
	PollMessageID       *int
	ChosenPostMessageID *int
	Question            string
	Options             string `gorm:"type:text;default:'[]'"` // JSON
	LastError           string `gorm:"type:text"`
	LastErrorAt         *time.Time
}

func (pollModel) TableName() string {
	return "daily_polls"
}

// --- Repository Implementation ---

// PollStoreRepository implements the daily poll state machine on top of
// conditional single-statement writes: terminal transitions are UPDATEs
// guarded by "posted_at IS NULL AND skipped_at IS NULL", so two racing
// callers can never both finalize the same (channel, date).
type PollStoreRepository struct {
	db *gorm.DB
}

func NewPollStoreRepository(db *gorm.DB) *PollStoreRepository {
	return &PollStoreRepository{db: db}
}

func (r *PollStoreRepository) InitSchema(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&pollModel{})
}

func (r *PollStoreRepository) GetOrCreatePending(ctx context.Context, channelID int64, date string, scheduledAt time.Time) (*poll.PollRecord, error) {
	m := pollModel{
		ChannelID:   channelID,
		PollDate:    date,
		ScheduledAt: scheduledAt.UTC(),
		Options:     "[]",
	}
	// First-writer-wins; losers fall through to the read below.
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "channel_id"}, {Name: "poll_date"}},
		DoNothing: true,
	}).Create(&m)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to ensure poll record %d/%s: %w", channelID, date, result.Error)
	}

	return r.GetByDate(ctx, channelID, date)
}

func (r *PollStoreRepository) MarkPosted(ctx context.Context, channelID int64, date string, pollMessageID int, chosenPostMessageID *int, question string, options []string) error {
	optsJSON, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("failed to marshal poll options: %w", err)
	}

	result := r.db.WithContext(ctx).Model(&pollModel{}).
		Where("channel_id = ? AND poll_date = ? AND posted_at IS NULL AND skipped_at IS NULL", channelID, date).
		Updates(map[string]any{
			"posted_at":              time.Now().UTC(),
			"poll_message_id":        pollMessageID,
			"chosen_post_message_id": chosenPostMessageID,
			"question":               question,
			"options":                string(optsJSON),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark poll posted %d/%s: %w", channelID, date, result.Error)
	}
	if result.RowsAffected == 0 {
		return r.classifyGuardMiss(ctx, channelID, date)
	}
	return nil
}

func (r *PollStoreRepository) MarkSkipped(ctx context.Context, channelID int64, date string, reason string) error {
	result := r.db.WithContext(ctx).Model(&pollModel{}).
		Where("channel_id = ? AND poll_date = ? AND posted_at IS NULL AND skipped_at IS NULL", channelID, date).
		Updates(map[string]any{
			"skipped_at":  time.Now().UTC(),
			"skip_reason": reason,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark poll skipped %d/%s: %w", channelID, date, result.Error)
	}
	if result.RowsAffected == 0 {
		return r.classifyGuardMiss(ctx, channelID, date)
	}
	return nil
}

func (r *PollStoreRepository) RecordError(ctx context.Context, channelID int64, date string, errText string) error {
	// Non-terminal self-loop; still guarded so a finalized record stays frozen.
	result := r.db.WithContext(ctx).Model(&pollModel{}).
		Where("channel_id = ? AND poll_date = ? AND posted_at IS NULL AND skipped_at IS NULL", channelID, date).
		Updates(map[string]any{
			"last_error":    errText,
			"last_error_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to record poll error %d/%s: %w", channelID, date, result.Error)
	}
	return nil
}

func (r *PollStoreRepository) GetByDate(ctx context.Context, channelID int64, date string) (*poll.PollRecord, error) {
	var m pollModel
	err := r.db.WithContext(ctx).
		Where("channel_id = ? AND poll_date = ?", channelID, date).
		First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load poll record %d/%s: %w", channelID, date, err)
	}
	return fromPollModel(m)
}

func (r *PollStoreRepository) ListByChannel(ctx context.Context, channelID int64, limit int) ([]*poll.PollRecord, error) {
	if limit <= 0 || limit > 365 {
		limit = 30
	}
	var models []pollModel
	err := r.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("poll_date DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list poll records for %d: %w", channelID, err)
	}
	records := make([]*poll.PollRecord, 0, len(models))
	for _, m := range models {
		rec, err := fromPollModel(m)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// classifyGuardMiss distinguishes "already finalized" from "row never existed"
// after a guarded UPDATE touched zero rows.
func (r *PollStoreRepository) classifyGuardMiss(ctx context.Context, channelID int64, date string) error {
	rec, err := r.GetByDate(ctx, channelID, date)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no poll record exists for %d/%s", channelID, date)
	}
	return poll.ErrAlreadyFinalized
}

func fromPollModel(m pollModel) (*poll.PollRecord, error) {
	var options []string
	if m.Options != "" {
		if err := json.Unmarshal([]byte(m.Options), &options); err != nil {
			return nil, fmt.Errorf("corrupt options JSON for %d/%s: %w", m.ChannelID, m.PollDate, err)
		}
	}
	return &poll.PollRecord{
		ChannelID:           m.ChannelID,
		PollDate:            m.PollDate,
		ScheduledAt:         m.ScheduledAt,
		PostedAt:            m.PostedAt,
		SkippedAt:           m.SkippedAt,
		SkipReason:          m.SkipReason,
		PollMessageID:       m.PollMessageID,
		ChosenPostMessageID: m.ChosenPostMessageID,
		Question:            m.Question,
		Options:             options,
		LastError:           m.LastError,
		LastErrorAt:         m.LastErrorAt,
	}, nil
}

var _ poll.IPollStore = (*PollStoreRepository)(nil)
