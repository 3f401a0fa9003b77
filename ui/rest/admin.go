package rest

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/avelov/tg-pulse/domains/poll"
	"github.com/avelov/tg-pulse/pkg/utils"
	"github.com/avelov/tg-pulse/validations"
)

type Admin struct {
	Scheduler poll.IScheduler
	Store     poll.IPollStore
}

func InitRestAdmin(app fiber.Router, scheduler poll.IScheduler, store poll.IPollStore) Admin {
	handler := Admin{Scheduler: scheduler, Store: store}

	app.Post("/polls/:channelID/trigger", handler.TriggerPoll)
	app.Get("/polls/:channelID", handler.PollHistory)

	return handler
}

// TriggerPoll runs the daily poll decision pass for one channel right now,
// bypassing the publishing window but not the whitelist or an already
// finalized day.
func (handler *Admin) TriggerPoll(c *fiber.Ctx) error {
	request := validations.TriggerPollRequest{ChannelID: c.Params("channelID")}
	utils.PanicIfNeeded(validations.ValidateTriggerPoll(c.UserContext(), request))

	channelID, err := strconv.ParseInt(request.ChannelID, 10, 64)
	utils.PanicIfNeeded(err)

	outcome, err := handler.Scheduler.TriggerNow(c.UserContext(), channelID)
	if errors.Is(err, poll.ErrChannelNotAllowed) {
		return c.Status(403).JSON(utils.ResponseData{
			Status:  403,
			Code:    "FORBIDDEN_ERROR",
			Message: err.Error(),
		})
	}
	if err != nil {
		return c.Status(500).JSON(utils.ResponseData{
			Status:  500,
			Code:    "INTERNAL_SERVER_ERROR",
			Message: err.Error(),
			Results: outcome,
		})
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Poll trigger executed",
		Results: outcome,
	})
}

func (handler *Admin) PollHistory(c *fiber.Ctx) error {
	request := validations.PollHistoryRequest{
		ChannelID: c.Params("channelID"),
		Limit:     c.QueryInt("limit"),
	}
	utils.PanicIfNeeded(validations.ValidatePollHistory(c.UserContext(), request))

	channelID, err := strconv.ParseInt(request.ChannelID, 10, 64)
	utils.PanicIfNeeded(err)

	records, err := handler.Store.ListByChannel(c.UserContext(), channelID, request.Limit)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Poll history retrieved",
		Results: records,
	})
}
