package messaging

import "context"

// ChannelPostEvent is an inbound "new channel post" carrying a photo.
type ChannelPostEvent struct {
	ChannelID    int64
	MessageID    int
	UnixDate     int64  // Telegram message date
	PhotoFileID  string // largest photo size
	Caption      string
	MediaGroupID string // non-empty for albums
}

// AutoForwardEvent is the mirrored copy of a channel post appearing in the
// linked discussion group.
type AutoForwardEvent struct {
	OriginChannelID     int64
	OriginMessageID     int
	DiscussionChatID    int64
	DiscussionMessageID int
}

// ITransport is the narrow outbound contract against the messaging platform.
// Failures (permission denied, chat not found, rate limit) are recoverable
// and handled by the callers, never retried here.
type ITransport interface {
	// ReplyInThread posts text as a reply to a discussion-thread message.
	ReplyInThread(ctx context.Context, chatID int64, replyToMessageID int, text string) error

	// SendPoll creates an anonymous single-answer poll in the channel and
	// returns the poll's message ID. openSeconds 0 means no auto-close.
	SendPoll(ctx context.Context, chatID int64, question string, options []string, openSeconds int, replyToMessageID int) (int, error)

	// DownloadPhoto fetches the raw bytes behind an opaque photo reference.
	DownloadPhoto(ctx context.Context, fileID string) ([]byte, error)
}
