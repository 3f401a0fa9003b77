package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/avelov/tg-pulse/domains/discussion"
)

// linkTTL bounds how long a channel-post -> discussion-message link is kept.
// Captions are delivered within seconds of the post, so an hour is generous.
const linkTTL = time.Hour

type serviceMapper struct {
	store discussion.IMapStore
}

func NewMapperService(store discussion.IMapStore) discussion.IMapperUsecase {
	return &serviceMapper{store: store}
}

func (service *serviceMapper) Observe(ctx context.Context, sig discussion.Signal) error {
	if sig.Kind != discussion.KindForwardCorrelation {
		return fmt.Errorf("mapper cannot observe signal kind %q", sig.Kind)
	}
	fwd := sig.Forward
	if fwd == nil {
		return fmt.Errorf("forward correlation signal without payload")
	}

	link := discussion.Link{
		DiscussionChatID:    fwd.DiscussionChatID,
		DiscussionMessageID: fwd.DiscussionMessageID,
	}
	if err := service.store.Put(ctx, fwd.OriginChannelID, fwd.OriginMessageID, link, linkTTL); err != nil {
		return fmt.Errorf("store discussion link: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"channel_id":            fwd.OriginChannelID,
		"message_id":            fwd.OriginMessageID,
		"discussion_chat_id":    fwd.DiscussionChatID,
		"discussion_message_id": fwd.DiscussionMessageID,
	}).Debug("[MAPPER] Discussion link learned")
	return nil
}

func (service *serviceMapper) Resolve(ctx context.Context, sig discussion.Signal) (*discussion.Link, error) {
	if sig.Kind != discussion.KindDirectLookup {
		return nil, fmt.Errorf("mapper cannot resolve signal kind %q", sig.Kind)
	}
	direct := sig.Direct
	if direct == nil {
		return nil, fmt.Errorf("direct lookup signal without payload")
	}

	link, err := service.store.Get(ctx, direct.ChannelID, direct.ChannelMessageID)
	if err != nil {
		return nil, fmt.Errorf("lookup discussion link: %w", err)
	}
	if link == nil {
		return nil, discussion.ErrNoLink
	}
	return link, nil
}
