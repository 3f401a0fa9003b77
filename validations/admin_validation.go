package validations

import (
	"context"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	pkgError "github.com/avelov/tg-pulse/pkg/error"
)

var channelIDPattern = regexp.MustCompile(`^-?\d+$`)

// TriggerPollRequest carries the parameters of a manual poll trigger.
type TriggerPollRequest struct {
	ChannelID string `json:"channel_id"`
}

// PollHistoryRequest carries the parameters of a poll history lookup.
type PollHistoryRequest struct {
	ChannelID string `json:"channel_id"`
	Limit     int    `json:"limit"`
}

func ValidateTriggerPoll(ctx context.Context, request TriggerPollRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.ChannelID, validation.Required, validation.Match(channelIDPattern)),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}

func ValidatePollHistory(ctx context.Context, request PollHistoryRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.ChannelID, validation.Required, validation.Match(channelIDPattern)),
		validation.Field(&request.Limit, validation.Min(0), validation.Max(365)),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}
