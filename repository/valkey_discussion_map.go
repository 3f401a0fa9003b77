package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/avelov/tg-pulse/domains/discussion"
	"github.com/avelov/tg-pulse/infrastructure/valkey"
)

// ValkeyDiscussionMap stores discussion links in Valkey, so multiple webhook
// instances share one view of the channel-to-thread mapping.
type ValkeyDiscussionMap struct {
	client *valkey.Client
}

func NewValkeyDiscussionMap(client *valkey.Client) *ValkeyDiscussionMap {
	return &ValkeyDiscussionMap{client: client}
}

func (s *ValkeyDiscussionMap) fullKey(channelID int64, messageID int) string {
	return s.client.Key("dmap", strconv.FormatInt(channelID, 10), strconv.Itoa(messageID))
}

func (s *ValkeyDiscussionMap) inner() valkeylib.Client {
	return s.client.Inner()
}

func (s *ValkeyDiscussionMap) Put(ctx context.Context, channelID int64, messageID int, link discussion.Link, ttl time.Duration) error {
	data, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("failed to marshal discussion link: %w", err)
	}

	cmd := s.inner().B().Set().
		Key(s.fullKey(channelID, messageID)).
		Value(string(data)).
		Ex(ttl).
		Build()

	if err := s.inner().Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to save discussion link: %w", err)
	}
	return nil
}

func (s *ValkeyDiscussionMap) Get(ctx context.Context, channelID int64, messageID int) (*discussion.Link, error) {
	cmd := s.inner().B().Get().Key(s.fullKey(channelID, messageID)).Build()

	data, err := s.inner().Do(ctx, cmd).AsBytes()
	if err != nil {
		if valkeylib.IsValkeyNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get discussion link: %w", err)
	}

	var link discussion.Link
	if err := json.Unmarshal(data, &link); err != nil {
		return nil, fmt.Errorf("failed to unmarshal discussion link: %w", err)
	}
	return &link, nil
}

var _ discussion.IMapStore = (*ValkeyDiscussionMap)(nil)
