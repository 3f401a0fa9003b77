package ingest

import (
	"context"

	"github.com/avelov/tg-pulse/domains/messaging"
)

// IIngestUsecase handles inbound channel photo posts: ledger write, retention
// sweep, and the asynchronous caption delivery.
type IIngestUsecase interface {
	HandleChannelPost(ctx context.Context, evt messaging.ChannelPostEvent) error
}
