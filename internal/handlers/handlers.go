package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/BatmanBruc/club-subscription-bot/internal/contextkeys"
	"github.com/BatmanBruc/club-subscription-bot/internal/messages"
	"github.com/BatmanBruc/club-subscription-bot/types"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

type ScenarioRunner interface {
	Start(ctx context.Context, userID, chatID, scenarioID int64) (*types.Scenario, error)
	StartByName(ctx context.Context, userID, chatID int64, name string) (*types.Scenario, error)
	HandleCallback(ctx context.Context, userID, chatID int64, token string) (bool, error)
}

type BroadcastCreator interface {
	Create(ctx context.Context, text string, segment types.BroadcastSegment, tag string, createdBy int64) (*types.Broadcast, error)
}

// botAPI is the part of *bot.Bot the handlers reply through.
type botAPI interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

type Handlers struct {
	api           botAPI
	users         types.UserStore
	scenarios     ScenarioRunner
	broadcasts    BroadcastCreator
	startScenario string
	now           func() time.Time
	logger        *slog.Logger
}

type Deps struct {
	API           botAPI
	Users         types.UserStore
	Scenarios     ScenarioRunner
	Broadcasts    BroadcastCreator
	StartScenario string
	Logger        *slog.Logger
}

func NewHandlers(d Deps) *Handlers {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Handlers{
		api:           d.API,
		users:         d.Users,
		scenarios:     d.Scenarios,
		broadcasts:    d.Broadcasts,
		startScenario: d.StartScenario,
		now:           time.Now,
		logger:        d.Logger.With("component", "handlers"),
	}
}

// MainHandler expects EnsureUser and AnalyzeMessageMiddleware in front of it.
func (bh *Handlers) MainHandler(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user, ok := contextkeys.GetUser(ctx)
	if !ok {
		bh.logger.Error("user not found in context")
		return
	}
	chatID := getChatIDFromUpdate(update)
	if chatID == 0 {
		return
	}

	messageType, _ := contextkeys.GetMessageType(ctx)
	switch messageType {
	case contextkeys.MessageTypeCommand:
		bh.HandleCommand(ctx, update, user, chatID)
	case contextkeys.MessageTypeClickButton:
		data, _ := contextkeys.GetCallbackData(ctx)
		bh.HandleClickButton(ctx, update, user, chatID, data)
	}
}

func (bh *Handlers) reply(ctx context.Context, chatID int64, text string) {
	_, err := bh.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: messages.ParseModeHTML,
	})
	if err != nil {
		bh.logger.Warn("reply failed", "chat_id", chatID, "error", err)
	}
}

func getChatIDFromUpdate(update *models.Update) int64 {
	switch {
	case update == nil:
		return 0
	case update.Message != nil:
		return update.Message.Chat.ID
	case update.CallbackQuery != nil:
		m := update.CallbackQuery.Message
		if m.Message != nil {
			return m.Message.Chat.ID
		}
		if m.InaccessibleMessage != nil {
			return m.InaccessibleMessage.Chat.ID
		}
	}
	return 0
}
