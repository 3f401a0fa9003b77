package ledger

import (
	"context"
	"time"
)

// PostRecord is one observed photo post in a channel.
type PostRecord struct {
	ChannelID int64     `json:"channel_id"`
	MessageID int       `json:"message_id"`
	PostDate  string    `json:"post_date"` // civil date "YYYY-MM-DD" in the operating timezone
	PhotoRef  string    `json:"photo_ref"` // opaque Telegram file_id of the largest photo size
	CreatedAt time.Time `json:"created_at"`
}

// IPostLedger is the durable record of every photo post seen per channel.
// (channel_id, message_id) is unique; re-observation is a silent no-op.
type IPostLedger interface {
	// RecordPost inserts the post if unseen. Returns true when a row was
	// actually inserted, false for duplicates. Duplicates are not errors.
	RecordPost(ctx context.Context, channelID int64, messageID int, postDate, photoRef string) (bool, error)

	// CountPostsOnDate returns how many posts a channel has on a civil date.
	CountPostsOnDate(ctx context.Context, channelID int64, date string) (int, error)

	// PickRandomPostOnDate selects one of the day's posts uniformly at random.
	// Returns nil when the day has no posts.
	PickRandomPostOnDate(ctx context.Context, channelID int64, date string) (*PostRecord, error)

	// MaxSeenDate returns the latest post_date recorded for the channel, or
	// "" when the channel has no rows. Drives the opportunistic retention sweep.
	MaxSeenDate(ctx context.Context, channelID int64) (string, error)

	// SweepBefore deletes the channel's posts with post_date strictly before
	// cutoff. Returns the number of rows removed.
	SweepBefore(ctx context.Context, channelID int64, cutoff string) (int64, error)
}
