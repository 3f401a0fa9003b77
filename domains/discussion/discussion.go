package discussion

import (
	"context"
	"errors"
	"time"
)

// Link is the association between a channel post and its mirrored message in
// the linked discussion group. Re-derivable from each auto-forward event, so
// it only needs a short-lived store, not a table.
type Link struct {
	DiscussionChatID    int64 `json:"discussion_chat_id"`
	DiscussionMessageID int   `json:"discussion_message_id"`
}

// SignalKind tags the two ways a mapping can be learned.
type SignalKind string

const (
	// KindDirectLookup asks for an already-known mapping.
	KindDirectLookup SignalKind = "direct_lookup"
	// KindForwardCorrelation carries the automatic-forward event Telegram
	// emits in the linked group when a channel post gets mirrored.
	KindForwardCorrelation SignalKind = "forward_correlation"
)

// Signal is the mapper input: exactly one variant is set, per Kind.
type Signal struct {
	Kind    SignalKind
	Direct  *DirectLookup
	Forward *ForwardCorrelation
}

type DirectLookup struct {
	ChannelID        int64
	ChannelMessageID int
}

type ForwardCorrelation struct {
	OriginChannelID     int64
	OriginMessageID     int
	DiscussionChatID    int64
	DiscussionMessageID int
}

// ErrNoLink means no mapping is (yet) known for the post. Recoverable: the
// caller simply does not comment on that item.
var ErrNoLink = errors.New("no discussion link known for post")

// IMapStore holds links for a bounded time.
type IMapStore interface {
	Put(ctx context.Context, channelID int64, messageID int, link Link, ttl time.Duration) error
	Get(ctx context.Context, channelID int64, messageID int) (*Link, error)
}

// IMapperUsecase resolves channel posts to discussion-thread messages.
type IMapperUsecase interface {
	// Observe feeds a forward-correlation signal into the store.
	Observe(ctx context.Context, sig Signal) error
	// Resolve answers a direct-lookup signal; ErrNoLink when unknown.
	Resolve(ctx context.Context, sig Signal) (*Link, error)
}
