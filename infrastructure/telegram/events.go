package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/avelov/tg-pulse/domains/messaging"
)

// ExtractChannelPost maps an update to a photo post event. Returns nil for
// updates that are not channel posts or carry no photo.
func ExtractChannelPost(update *tgbotapi.Update) *messaging.ChannelPostEvent {
	post := update.ChannelPost
	if post == nil || post.Chat == nil || len(post.Photo) == 0 {
		return nil
	}

	// Photo sizes arrive smallest first.
	largest := post.Photo[len(post.Photo)-1]

	return &messaging.ChannelPostEvent{
		ChannelID:    post.Chat.ID,
		MessageID:    post.MessageID,
		UnixDate:     int64(post.Date),
		PhotoFileID:  largest.FileID,
		Caption:      post.Caption,
		MediaGroupID: post.MediaGroupID,
	}
}

// ExtractAutoForward maps an update to the discussion-group mirror of a
// channel post. Returns nil for anything else.
func ExtractAutoForward(update *tgbotapi.Update) *messaging.AutoForwardEvent {
	msg := update.Message
	if msg == nil || msg.Chat == nil || !msg.IsAutomaticForward {
		return nil
	}
	if msg.ForwardFromChat == nil || msg.ForwardFromMessageID == 0 {
		return nil
	}

	return &messaging.AutoForwardEvent{
		OriginChannelID:     msg.ForwardFromChat.ID,
		OriginMessageID:     msg.ForwardFromMessageID,
		DiscussionChatID:    msg.Chat.ID,
		DiscussionMessageID: msg.MessageID,
	}
}
