package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/avelov/tg-pulse/core/config"
	"github.com/avelov/tg-pulse/domains/ai"
	"github.com/avelov/tg-pulse/domains/ledger"
	"github.com/avelov/tg-pulse/domains/messaging"
	"github.com/avelov/tg-pulse/domains/poll"
	"github.com/avelov/tg-pulse/pkg/timeutils"
)

// tickDeadline bounds one full scheduler pass over all channels.
const tickDeadline = 5 * time.Minute

// ITickLocker is the optional cross-instance tick lock. Storage-level guards
// keep multi-instance runs correct without it; the lock only avoids wasted
// duplicate work.
type ITickLocker interface {
	TryLock(ctx context.Context, key string, expiration time.Duration) bool
	Key(parts ...string) string
}

type serviceScheduler struct {
	cfg       config.PollConfig
	store     poll.IPollStore
	ledger    ledger.IPostLedger
	captioner ai.ICaptioner
	transport messaging.ITransport
	locker    ITickLocker // nil when Valkey is disabled
	loc       *time.Location
	cron      *cron.Cron

	mu  sync.Mutex
	rng *rand.Rand

	// overridable in tests
	now func() time.Time
}

func NewSchedulerService(
	cfg config.PollConfig,
	store poll.IPollStore,
	postLedger ledger.IPostLedger,
	captioner ai.ICaptioner,
	transport messaging.ITransport,
	locker ITickLocker,
	loc *time.Location,
	rng *rand.Rand,
) *serviceScheduler {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &serviceScheduler{
		cfg:       cfg,
		store:     store,
		ledger:    postLedger,
		captioner: captioner,
		transport: transport,
		locker:    locker,
		loc:       loc,
		rng:       rng,
		now:       time.Now,
	}
}

// Start schedules the periodic decision pass. No-op when the feature is off.
func (service *serviceScheduler) Start() error {
	if !service.cfg.Enabled {
		logrus.Info("[SCHEDULER] Daily polls disabled")
		return nil
	}

	service.cron = cron.New()
	spec := fmt.Sprintf("@every %s", service.cfg.TickInterval)
	if _, err := service.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), tickDeadline)
		defer cancel()
		service.RunTick(ctx)
	}); err != nil {
		return fmt.Errorf("schedule poll tick: %w", err)
	}
	service.cron.Start()

	logrus.WithFields(logrus.Fields{
		"interval": service.cfg.TickInterval.String(),
		"channels": len(service.cfg.ChannelIDs),
		"window":   fmt.Sprintf("[%02d:00, %02d:00)", service.cfg.StartHour, service.cfg.EndHour),
		"timezone": service.cfg.Timezone,
	}).Info("[SCHEDULER] Daily poll tick scheduled")
	return nil
}

func (service *serviceScheduler) Stop() {
	if service.cron != nil {
		service.cron.Stop()
	}
}

// RunTick evaluates every whitelisted channel once. Channels are independent:
// one channel failing never blocks the rest.
func (service *serviceScheduler) RunTick(ctx context.Context) []poll.Outcome {
	runID := uuid.NewString()
	log := logrus.WithField("run_id", runID)

	if service.locker != nil {
		key := service.locker.Key("poll", "tick")
		if !service.locker.TryLock(ctx, key, service.cfg.TickInterval) {
			log.Debug("[SCHEDULER] Tick held by another instance")
			return nil
		}
	}

	outcomes := make([]poll.Outcome, 0, len(service.cfg.ChannelIDs))
	for _, channelID := range service.cfg.ChannelIDs {
		if ctx.Err() != nil {
			log.Warn("[SCHEDULER] Tick deadline hit, remaining channels deferred")
			break
		}
		outcome, err := service.processChannel(ctx, channelID, false)
		if err != nil {
			log.WithError(err).WithField("channel_id", channelID).Error("[SCHEDULER] Channel pass failed")
		}
		outcomes = append(outcomes, outcome)

		if outcome.Status == poll.StatusPosted || outcome.Status == poll.StatusSkipped {
			log.WithFields(logrus.Fields{
				"channel_id": outcome.ChannelID,
				"date":       outcome.Date,
				"status":     outcome.Status,
				"reason":     outcome.Reason,
			}).Info("[SCHEDULER] Daily poll decided")
		}
	}
	return outcomes
}

// TriggerNow runs the decision pass for one channel immediately. The
// publishing window and the post minimum are bypassed; the whitelist and the
// terminal-state guard are not.
func (service *serviceScheduler) TriggerNow(ctx context.Context, channelID int64) (poll.Outcome, error) {
	if !service.allowed(channelID) {
		return poll.Outcome{}, poll.ErrChannelNotAllowed
	}
	return service.processChannel(ctx, channelID, true)
}

func (service *serviceScheduler) allowed(channelID int64) bool {
	for _, id := range service.cfg.ChannelIDs {
		if id == channelID {
			return true
		}
	}
	return false
}

// processChannel performs at most one decisive action for (channel, today).
// The admission decision and the execution are split so transient AI or
// delivery failures retry within the window while the storage guards keep
// the terminal transition single.
func (service *serviceScheduler) processChannel(ctx context.Context, channelID int64, force bool) (poll.Outcome, error) {
	now := service.now().In(service.loc)
	today := timeutils.CivilDate(now, service.loc)
	outcome := poll.Outcome{ChannelID: channelID, Date: today, Status: poll.StatusNoop}

	hour := now.Hour()
	windowClosed := hour >= service.cfg.EndHour

	if !force {
		if hour < service.cfg.StartHour {
			// Before the window nothing is created. A day with zero
			// in-window ticks leaves no empty pending row behind.
			return outcome, nil
		}
		if windowClosed {
			return service.closeOutPending(ctx, channelID, today, outcome)
		}
	}

	rec, err := service.store.GetOrCreatePending(ctx, channelID, today, now.UTC())
	if err != nil {
		return outcome, fmt.Errorf("get or create poll record: %w", err)
	}
	if !rec.Pending() {
		return outcome, nil
	}

	count, err := service.ledger.CountPostsOnDate(ctx, channelID, today)
	if err != nil {
		return outcome, fmt.Errorf("count posts: %w", err)
	}
	if !force && count < service.cfg.MinPosts {
		// Window is still open, wait for more posts.
		outcome.Status = poll.StatusPending
		outcome.Reason = fmt.Sprintf("%d of %d posts", count, service.cfg.MinPosts)
		return outcome, nil
	}

	return service.publish(ctx, channelID, today, outcome)
}

// closeOutPending handles ticks after the window end: an existing pending row
// gets its terminal skip, everything else is a no-op. No row is ever created
// after the window.
func (service *serviceScheduler) closeOutPending(ctx context.Context, channelID int64, today string, outcome poll.Outcome) (poll.Outcome, error) {
	rec, err := service.store.GetByDate(ctx, channelID, today)
	if err != nil {
		return outcome, fmt.Errorf("read poll record: %w", err)
	}
	if rec == nil || !rec.Pending() {
		return outcome, nil
	}

	count, err := service.ledger.CountPostsOnDate(ctx, channelID, today)
	if err != nil {
		return outcome, fmt.Errorf("count posts: %w", err)
	}
	reason := poll.SkipWindowClosed
	if count < service.cfg.MinPosts {
		reason = poll.SkipInsufficientPosts
	}

	if err := service.store.MarkSkipped(ctx, channelID, today, reason); err != nil {
		if errors.Is(err, poll.ErrAlreadyFinalized) {
			return outcome, nil
		}
		return outcome, fmt.Errorf("mark skipped: %w", err)
	}
	outcome.Status = poll.StatusSkipped
	outcome.Reason = reason
	return outcome, nil
}

// publish runs the execution half: pick a reference post, generate the poll
// content, deliver, finalize. Failures are recorded and left pending for the
// next in-window tick.
func (service *serviceScheduler) publish(ctx context.Context, channelID int64, today string, outcome poll.Outcome) (poll.Outcome, error) {
	chosen, err := service.ledger.PickRandomPostOnDate(ctx, channelID, today)
	if err != nil {
		return outcome, fmt.Errorf("pick reference post: %w", err)
	}

	question := service.pickQuestion()

	var img *ai.Image
	if chosen != nil {
		data, err := service.transport.DownloadPhoto(ctx, chosen.PhotoRef)
		if err != nil {
			return service.recordFailure(ctx, channelID, today, outcome, fmt.Errorf("download reference photo: %w", err))
		}
		img = &ai.Image{Data: data, MimeType: "image/jpeg"}
	}

	options, err := service.captioner.GeneratePollOptions(ctx, img, question, service.cfg.OptionsCount)
	if err != nil {
		return service.recordFailure(ctx, channelID, today, outcome, fmt.Errorf("generate poll options: %w", err))
	}

	replyTo := 0
	var chosenID *int
	if chosen != nil {
		replyTo = chosen.MessageID
		chosenID = &chosen.MessageID
	}

	pollMessageID, err := service.transport.SendPoll(ctx, channelID, question, options, service.cfg.OpenSeconds, replyTo)
	if err != nil {
		return service.recordFailure(ctx, channelID, today, outcome, fmt.Errorf("deliver poll: %w", err))
	}

	if err := service.store.MarkPosted(ctx, channelID, today, pollMessageID, chosenID, question, options); err != nil {
		if errors.Is(err, poll.ErrAlreadyFinalized) {
			// Lost the race after a successful delivery. The duplicate
			// poll message stays; the record belongs to the winner.
			logrus.WithFields(logrus.Fields{
				"channel_id": channelID,
				"date":       today,
			}).Warn("[SCHEDULER] Poll delivered but record was already finalized")
			return outcome, nil
		}
		return outcome, fmt.Errorf("mark posted: %w", err)
	}

	outcome.Status = poll.StatusPosted
	outcome.PollMessageID = pollMessageID
	return outcome, nil
}

// recordFailure stamps the failure and leaves the record pending so a later
// in-window tick retries.
func (service *serviceScheduler) recordFailure(ctx context.Context, channelID int64, today string, outcome poll.Outcome, cause error) (poll.Outcome, error) {
	if err := service.store.RecordError(ctx, channelID, today, cause.Error()); err != nil && !errors.Is(err, poll.ErrAlreadyFinalized) {
		logrus.WithError(err).WithField("channel_id", channelID).Error("[SCHEDULER] Failed to record poll error")
	}
	outcome.Status = poll.StatusPending
	outcome.Reason = cause.Error()
	return outcome, cause
}

func (service *serviceScheduler) pickQuestion() string {
	questions := service.cfg.Questions
	if len(questions) == 0 {
		return "?"
	}
	service.mu.Lock()
	defer service.mu.Unlock()
	return questions[service.rng.Intn(len(questions))]
}

var _ poll.IScheduler = (*serviceScheduler)(nil)
