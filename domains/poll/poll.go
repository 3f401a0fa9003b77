package poll

import (
	"context"
	"errors"
	"time"
)

// PollRecord is the one-row-per-(channel, day) unit of the poll state machine.
//
// State machine: pending -> posted (terminal) or pending -> skipped (terminal).
// The only non-terminal transition is pending -> pending via RecordError.
// Absence of a row means the day has not been evaluated yet.
type PollRecord struct {
	ChannelID           int64      `json:"channel_id"`
	PollDate            string     `json:"poll_date"` // civil date "YYYY-MM-DD"
	ScheduledAt         time.Time  `json:"scheduled_at"`
	PostedAt            *time.Time `json:"posted_at,omitempty"`
	SkippedAt           *time.Time `json:"skipped_at,omitempty"`
	SkipReason          string     `json:"skip_reason,omitempty"`
	PollMessageID       *int       `json:"poll_message_id,omitempty"`
	ChosenPostMessageID *int       `json:"chosen_post_message_id,omitempty"`
	Question            string     `json:"question,omitempty"`
	Options             []string   `json:"options,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	LastErrorAt         *time.Time `json:"last_error_at,omitempty"`
}

// Pending reports whether the record has not reached a terminal state yet.
func (r *PollRecord) Pending() bool {
	return r.PostedAt == nil && r.SkippedAt == nil
}

// ErrAlreadyFinalized is returned by terminal transitions that lost the race:
// the record was already posted or skipped by someone else.
var ErrAlreadyFinalized = errors.New("poll record already finalized")

// IPollStore is the durable store behind the daily poll state machine. All
// transitions are single atomic storage operations so that concurrent
// scheduler ticks (in-process or across instances) cannot double-finalize.
type IPollStore interface {
	// GetOrCreatePending inserts the pending row for (channel, date) or, when
	// a concurrent caller won the insert, returns the existing row.
	GetOrCreatePending(ctx context.Context, channelID int64, date string, scheduledAt time.Time) (*PollRecord, error)

	// MarkPosted finalizes a pending record as posted. Returns
	// ErrAlreadyFinalized when posted_at or skipped_at is already set.
	MarkPosted(ctx context.Context, channelID int64, date string, pollMessageID int, chosenPostMessageID *int, question string, options []string) error

	// MarkSkipped finalizes a pending record as skipped, with the same guard.
	MarkSkipped(ctx context.Context, channelID int64, date string, reason string) error

	// RecordError stamps last_error/last_error_at without closing the state
	// machine; a later tick may still post or skip.
	RecordError(ctx context.Context, channelID int64, date string, errText string) error

	// GetByDate returns the record for (channel, date), or nil when absent.
	GetByDate(ctx context.Context, channelID int64, date string) (*PollRecord, error)

	// ListByChannel returns the channel's poll history, newest first.
	ListByChannel(ctx context.Context, channelID int64, limit int) ([]*PollRecord, error)
}

// Outcome describes what a scheduler pass decided for one channel.
type Outcome struct {
	ChannelID     int64  `json:"channel_id"`
	Date          string `json:"date"`
	Status        string `json:"status"` // posted | skipped | pending | noop
	Reason        string `json:"reason,omitempty"`
	PollMessageID int    `json:"poll_message_id,omitempty"`
}

const (
	StatusPosted  = "posted"
	StatusSkipped = "skipped"
	StatusPending = "pending"
	StatusNoop    = "noop"
)

// Skip reasons for terminal skipped records.
const (
	SkipInsufficientPosts = "insufficient posts"
	SkipWindowClosed      = "window closed"
)

// IScheduler drives the daily poll decision pass.
type IScheduler interface {
	// RunTick evaluates every whitelisted channel once.
	RunTick(ctx context.Context) []Outcome

	// TriggerNow runs the decision pass for one channel immediately,
	// bypassing the publishing window but never the whitelist or the
	// terminal-state guard.
	TriggerNow(ctx context.Context, channelID int64) (Outcome, error)
}

// ErrChannelNotAllowed rejects manual triggers for channels outside the whitelist.
var ErrChannelNotAllowed = errors.New("channel is not in the daily poll whitelist")
