package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/avelov/tg-pulse/core/config"
	"github.com/avelov/tg-pulse/domains/ai"
	"github.com/avelov/tg-pulse/domains/discussion"
	"github.com/avelov/tg-pulse/domains/ingest"
	"github.com/avelov/tg-pulse/domains/ledger"
	"github.com/avelov/tg-pulse/domains/messaging"
	"github.com/avelov/tg-pulse/pkg/captionworker"
	"github.com/avelov/tg-pulse/pkg/timeutils"
)

// mediaGroupTTL bounds the album dedup window. Telegram delivers album items
// within seconds of each other.
const mediaGroupTTL = 10 * time.Minute

// deliveryTimeout caps one caption delivery from download to reply.
const deliveryTimeout = 2 * time.Minute

// resolveDelays is the backoff used while waiting for the auto-forward of a
// fresh post to show up in the linked discussion group.
var resolveDelays = []time.Duration{
	500 * time.Millisecond,
	time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	12 * time.Second,
}

type serviceIngest struct {
	ledger    ledger.IPostLedger
	mapper    discussion.IMapperUsecase
	transport messaging.ITransport
	captioner ai.ICaptioner
	pool      *captionworker.Pool // nil means deliver on a plain goroutine

	loc              *time.Location
	retentionDays    int
	allowedChannelID int64
	maxImageBytes    int64

	mu         sync.Mutex
	seenGroups map[string]time.Time

	// overridable in tests
	now    func() time.Time
	spawn  func(func())
	delays []time.Duration
}

func NewIngestService(
	cfg *config.Config,
	postLedger ledger.IPostLedger,
	mapper discussion.IMapperUsecase,
	transport messaging.ITransport,
	captioner ai.ICaptioner,
	pool *captionworker.Pool,
	loc *time.Location,
) ingest.IIngestUsecase {
	return &serviceIngest{
		ledger:           postLedger,
		mapper:           mapper,
		transport:        transport,
		captioner:        captioner,
		pool:             pool,
		loc:              loc,
		retentionDays:    cfg.Poll.RetentionDays,
		allowedChannelID: cfg.Telegram.AllowedChannelID,
		maxImageBytes:    cfg.AI.MaxImageBytes,
		seenGroups:       make(map[string]time.Time),
		now:              time.Now,
		spawn:            func(f func()) { go f() },
		delays:           resolveDelays,
	}
}

func (service *serviceIngest) HandleChannelPost(ctx context.Context, evt messaging.ChannelPostEvent) error {
	if service.allowedChannelID != 0 && evt.ChannelID != service.allowedChannelID {
		logrus.WithField("channel_id", evt.ChannelID).Debug("[INGEST] Post from non-configured channel ignored")
		return nil
	}

	postDate := timeutils.CivilDate(time.Unix(evt.UnixDate, 0), service.loc)

	maxSeen, err := service.ledger.MaxSeenDate(ctx, evt.ChannelID)
	if err != nil {
		return fmt.Errorf("read max seen date: %w", err)
	}

	inserted, err := service.ledger.RecordPost(ctx, evt.ChannelID, evt.MessageID, postDate, evt.PhotoFileID)
	if err != nil {
		return fmt.Errorf("record post: %w", err)
	}
	if !inserted {
		logrus.WithFields(logrus.Fields{
			"channel_id": evt.ChannelID,
			"message_id": evt.MessageID,
		}).Debug("[INGEST] Duplicate post ignored")
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"channel_id": evt.ChannelID,
		"message_id": evt.MessageID,
		"post_date":  postDate,
	}).Info("[INGEST] Post recorded")

	if postDate > maxSeen {
		service.sweep(ctx, evt.ChannelID, postDate)
	}

	if !service.claimCaptionSlot(evt) {
		return nil
	}

	if service.pool != nil {
		service.pool.Dispatch(captionworker.Job{
			ChannelID: evt.ChannelID,
			Handler: func(context.Context) error {
				service.captionAndDeliver(evt)
				return nil
			},
		})
	} else {
		service.spawn(func() { service.captionAndDeliver(evt) })
	}
	return nil
}

// sweep deletes posts older than the retention window. Runs only on the first
// insert of a civil date the channel has not seen before.
func (service *serviceIngest) sweep(ctx context.Context, channelID int64, today string) {
	cutoff, err := timeutils.AddDays(today, -service.retentionDays)
	if err != nil {
		logrus.WithError(err).Error("[INGEST] Retention cutoff computation failed")
		return
	}
	removed, err := service.ledger.SweepBefore(ctx, channelID, cutoff)
	if err != nil {
		logrus.WithError(err).WithField("channel_id", channelID).Error("[INGEST] Retention sweep failed")
		return
	}
	if removed > 0 {
		logrus.WithFields(logrus.Fields{
			"channel_id": channelID,
			"cutoff":     cutoff,
			"removed":    removed,
		}).Info("[INGEST] Retention sweep done")
	}
}

// claimCaptionSlot decides whether this event should produce a comment.
// Albums get exactly one comment: the first photo of a media group wins.
func (service *serviceIngest) claimCaptionSlot(evt messaging.ChannelPostEvent) bool {
	if evt.MediaGroupID == "" {
		return true
	}
	key := fmt.Sprintf("%d:%s", evt.ChannelID, evt.MediaGroupID)
	now := service.now()

	service.mu.Lock()
	defer service.mu.Unlock()

	for k, seenAt := range service.seenGroups {
		if now.Sub(seenAt) > mediaGroupTTL {
			delete(service.seenGroups, k)
		}
	}
	if _, seen := service.seenGroups[key]; seen {
		return false
	}
	service.seenGroups[key] = now
	return true
}

// captionAndDeliver runs detached from the webhook request. Every failure is
// logged and swallowed: the ledger write already stands.
func (service *serviceIngest) captionAndDeliver(evt messaging.ChannelPostEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	log := logrus.WithFields(logrus.Fields{
		"channel_id": evt.ChannelID,
		"message_id": evt.MessageID,
	})

	data, err := service.transport.DownloadPhoto(ctx, evt.PhotoFileID)
	if err != nil {
		log.WithError(err).Warn("[INGEST] Photo download failed, no caption")
		return
	}

	data, mimeType, err := fitImageBudget(data, service.maxImageBytes)
	if err != nil {
		log.WithError(err).Warn("[INGEST] Image preprocessing failed, no caption")
		return
	}

	caption, err := service.captioner.GenerateCaption(ctx, &ai.Image{Data: data, MimeType: mimeType}, evt.Caption)
	if err != nil {
		log.WithError(err).Warn("[INGEST] Caption generation failed")
		return
	}

	link, err := service.resolveWithBackoff(ctx, evt.ChannelID, evt.MessageID)
	if err != nil {
		log.WithError(err).Warn("[INGEST] No discussion thread for post, caption dropped")
		return
	}

	if err := service.transport.ReplyInThread(ctx, link.DiscussionChatID, link.DiscussionMessageID, caption); err != nil {
		log.WithError(err).Warn("[INGEST] Caption delivery failed")
		return
	}

	log.WithField("discussion_chat_id", link.DiscussionChatID).Info("[INGEST] Caption delivered")
}

// resolveWithBackoff waits for the discussion mirror of a fresh channel post.
// The auto-forward usually arrives within a second or two of the post.
func (service *serviceIngest) resolveWithBackoff(ctx context.Context, channelID int64, messageID int) (*discussion.Link, error) {
	sig := discussion.Signal{
		Kind: discussion.KindDirectLookup,
		Direct: &discussion.DirectLookup{
			ChannelID:        channelID,
			ChannelMessageID: messageID,
		},
	}

	link, err := service.mapper.Resolve(ctx, sig)
	if err == nil {
		return link, nil
	}
	if !errors.Is(err, discussion.ErrNoLink) {
		return nil, err
	}

	for _, delay := range service.delays {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		link, err = service.mapper.Resolve(ctx, sig)
		if err == nil {
			return link, nil
		}
		if !errors.Is(err, discussion.ErrNoLink) {
			return nil, err
		}
	}
	return nil, discussion.ErrNoLink
}

// fitImageBudget downscales the photo until its encoded size fits the AI
// request budget. Oversized frames get resized to 75% repeatedly and
// re-encoded as JPEG.
func fitImageBudget(data []byte, maxBytes int64) ([]byte, string, error) {
	if int64(len(data)) <= maxBytes {
		return data, http.DetectContentType(data), nil
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	for attempt := 0; attempt < 6; attempt++ {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
			return nil, "", fmt.Errorf("encode image: %w", err)
		}
		if int64(buf.Len()) <= maxBytes {
			logrus.WithFields(logrus.Fields{
				"before": humanize.Bytes(uint64(len(data))),
				"after":  humanize.Bytes(uint64(buf.Len())),
			}).Debug("[INGEST] Image downscaled for AI budget")
			return buf.Bytes(), "image/jpeg", nil
		}
		img = imaging.Resize(img, img.Bounds().Dx()*3/4, 0, imaging.Lanczos)
	}
	return nil, "", fmt.Errorf("image does not fit %s budget after downscaling", humanize.Bytes(uint64(maxBytes)))
}
