package handlers

import (
	"context"
	"errors"

	"github.com/BatmanBruc/club-subscription-bot/internal/messages"
	"github.com/BatmanBruc/club-subscription-bot/internal/scenario"
	"github.com/BatmanBruc/club-subscription-bot/types"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// HandleClickButton advances the user's current scenario with the pressed
// button's callback token.
func (bh *Handlers) HandleClickButton(ctx context.Context, update *models.Update, user *types.User, chatID int64, data string) {
	if update.CallbackQuery != nil {
		if _, err := bh.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
			CallbackQueryID: update.CallbackQuery.ID,
		}); err != nil {
			bh.logger.Debug("answer callback failed", "error", err)
		}
	}

	handled, err := bh.scenarios.HandleCallback(ctx, user.ID, chatID, data)
	switch {
	case errors.Is(err, scenario.ErrScenarioInactive):
		bh.reply(ctx, chatID, messages.ScenarioUnavailable())
	case err != nil:
		bh.logger.Error("scenario callback failed", "user_id", user.ID, "data", data, "error", err)
		bh.reply(ctx, chatID, messages.ErrorDefault())
	case !handled:
		bh.logger.Debug("callback without scenario in progress", "user_id", user.ID, "data", data)
	}
}
