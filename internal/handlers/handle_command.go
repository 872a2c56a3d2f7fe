package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/BatmanBruc/club-subscription-bot/internal/broadcast"
	"github.com/BatmanBruc/club-subscription-bot/internal/messages"
	"github.com/BatmanBruc/club-subscription-bot/internal/scenario"
	"github.com/BatmanBruc/club-subscription-bot/types"
	"github.com/go-telegram/bot/models"
)

func (bh *Handlers) HandleCommand(ctx context.Context, update *models.Update, user *types.User, chatID int64) {
	fields := strings.Fields(update.Message.Text)
	if len(fields) == 0 {
		return
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	args := fields[1:]

	switch cmd {
	case "/start":
		bh.handleStart(ctx, user, chatID, args)
	case "/help":
		bh.reply(ctx, chatID, messages.Help())
	case "/run_scenario":
		if !user.IsAdmin() {
			bh.reply(ctx, chatID, messages.ErrorUnknownCommand())
			return
		}
		bh.handleRunScenario(ctx, chatID, args)
	case "/broadcast":
		if !user.IsAdmin() {
			bh.reply(ctx, chatID, messages.ErrorUnknownCommand())
			return
		}
		bh.handleBroadcast(ctx, user, chatID, update.Message.Text)
	case "/stats":
		if !user.IsAdmin() {
			bh.reply(ctx, chatID, messages.ErrorUnknownCommand())
			return
		}
		bh.handleStats(ctx, chatID)
	case "/add_tag", "/remove_tag":
		if !user.CanManage() {
			bh.reply(ctx, chatID, messages.ErrorUnknownCommand())
			return
		}
		bh.handleTag(ctx, chatID, strings.TrimPrefix(cmd, "/"), args)
	default:
		bh.reply(ctx, chatID, messages.ErrorUnknownCommand())
	}
}

// handleStart runs the deep-link scenario or the configured start scenario,
// falling back to a plain greeting.
func (bh *Handlers) handleStart(ctx context.Context, user *types.User, chatID int64, args []string) {
	name := bh.startScenario
	if len(args) > 0 {
		name = args[0]
	}
	if name == "" {
		bh.reply(ctx, chatID, messages.StartWelcome())
		return
	}

	_, err := bh.scenarios.StartByName(ctx, user.ID, chatID, name)
	switch {
	case err == nil:
	case errors.Is(err, scenario.ErrSubscriptionRequired):
		bh.reply(ctx, chatID, messages.SubscriptionRequired())
	case errors.Is(err, types.ErrNotFound), errors.Is(err, scenario.ErrScenarioInactive), errors.Is(err, scenario.ErrEmptyScenario):
		bh.logger.Info("start scenario unavailable", "scenario", name, "error", err)
		bh.reply(ctx, chatID, messages.StartWelcome())
	default:
		bh.logger.Error("start scenario failed", "scenario", name, "user_id", user.ID, "error", err)
		bh.reply(ctx, chatID, messages.ErrorDefault())
	}
}

func (bh *Handlers) handleRunScenario(ctx context.Context, chatID int64, args []string) {
	if len(args) < 2 {
		bh.reply(ctx, chatID, messages.UsageRunScenario())
		return
	}
	scenarioID, err1 := strconv.ParseInt(args[0], 10, 64)
	telegramID, err2 := strconv.ParseInt(args[1], 10, 64)
	if err1 != nil || err2 != nil {
		bh.reply(ctx, chatID, messages.UsageRunScenario())
		return
	}

	target, err := bh.users.GetUserByTelegramID(ctx, telegramID)
	if errors.Is(err, types.ErrNotFound) {
		bh.reply(ctx, chatID, messages.UserNotFound())
		return
	}
	if err != nil {
		bh.logger.Error("get user failed", "telegram_id", telegramID, "error", err)
		bh.reply(ctx, chatID, messages.ErrorDefault())
		return
	}

	sc, err := bh.scenarios.Start(ctx, target.ID, target.TelegramID, scenarioID)
	switch {
	case err == nil:
		bh.reply(ctx, chatID, messages.ScenarioStarted(sc.Name, telegramID))
	case errors.Is(err, scenario.ErrSubscriptionRequired):
		bh.reply(ctx, chatID, messages.ScenarioUserNotEntitled())
	case errors.Is(err, types.ErrNotFound), errors.Is(err, scenario.ErrScenarioInactive), errors.Is(err, scenario.ErrEmptyScenario):
		bh.reply(ctx, chatID, messages.ScenarioUnavailable())
	default:
		bh.logger.Error("run scenario failed", "scenario_id", scenarioID, "telegram_id", telegramID, "error", err)
		bh.reply(ctx, chatID, messages.ErrorDefault())
	}
}

// handleBroadcast parses "/broadcast <segment> <text...>", keeping the
// text's original line breaks.
func (bh *Handlers) handleBroadcast(ctx context.Context, user *types.User, chatID int64, raw string) {
	_, rest, _ := strings.Cut(strings.TrimSpace(raw), " ")
	segmentArg, text, _ := strings.Cut(strings.TrimSpace(rest), " ")
	segment, tag, err := broadcast.ParseSegment(segmentArg)
	if err != nil || strings.TrimSpace(text) == "" {
		bh.reply(ctx, chatID, messages.UsageBroadcast())
		return
	}

	b, err := bh.broadcasts.Create(ctx, text, segment, tag, user.ID)
	if err != nil {
		bh.logger.Error("create broadcast failed", "error", err)
		bh.reply(ctx, chatID, messages.ErrorDefault())
		return
	}
	bh.reply(ctx, chatID, messages.BroadcastQueued(b.ID))
}

func (bh *Handlers) handleStats(ctx context.Context, chatID int64) {
	stats, err := bh.users.Stats(ctx)
	if err != nil {
		bh.logger.Error("stats failed", "error", err)
		bh.reply(ctx, chatID, messages.ErrorDefault())
		return
	}
	bh.reply(ctx, chatID, messages.Stats(stats.Users, stats.ActiveSubscribers, stats.CompletedPayments, bh.now()))
}

func (bh *Handlers) handleTag(ctx context.Context, chatID int64, cmd string, args []string) {
	if len(args) < 2 {
		bh.reply(ctx, chatID, messages.UsageTag(cmd))
		return
	}
	telegramID, err := strconv.ParseInt(args[0], 10, 64)
	tag := strings.TrimSpace(strings.Join(args[1:], " "))
	if err != nil || tag == "" {
		bh.reply(ctx, chatID, messages.UsageTag(cmd))
		return
	}

	target, err := bh.users.GetUserByTelegramID(ctx, telegramID)
	if errors.Is(err, types.ErrNotFound) {
		bh.reply(ctx, chatID, messages.UserNotFound())
		return
	}
	if err == nil {
		if cmd == "add_tag" {
			err = bh.users.AddTag(ctx, target.ID, tag)
		} else {
			err = bh.users.RemoveTag(ctx, target.ID, tag)
		}
	}
	if err != nil {
		bh.logger.Error("update tag failed", "cmd", cmd, "telegram_id", telegramID, "error", err)
		bh.reply(ctx, chatID, messages.ErrorDefault())
		return
	}
	bh.reply(ctx, chatID, messages.TagUpdated())
}
