package middleware

import (
	"context"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/BatmanBruc/club-subscription-bot/internal/contextkeys"
	"github.com/BatmanBruc/club-subscription-bot/types"
)

type Middlewares struct {
	users   types.UserStore
	isAdmin func(telegramID int64) bool
	logger  *slog.Logger
}

func NewMiddlewares(users types.UserStore, isAdmin func(int64) bool, logger *slog.Logger) *Middlewares {
	if isAdmin == nil {
		isAdmin = func(int64) bool { return false }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Middlewares{
		users:   users,
		isAdmin: isAdmin,
		logger:  logger.With("component", "middleware"),
	}
}

// EnsureUser upserts the sender on every update and drops updates from
// blocked users. Configured admin ids are promoted to the admin role.
func (m *Middlewares) EnsureUser(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		from := senderOf(update)
		if from == nil || from.ID == 0 || from.IsBot {
			return
		}

		role := types.RoleUser
		if m.isAdmin(from.ID) {
			role = types.RoleAdmin
		}
		user, err := m.users.UpsertUser(ctx, types.User{
			TelegramID: from.ID,
			Username:   from.Username,
			FirstName:  from.FirstName,
			LastName:   from.LastName,
			Role:       role,
			Status:     types.UserActive,
		})
		if err != nil {
			m.logger.Error("upsert user failed", "telegram_id", from.ID, "error", err)
			return
		}
		if user.IsBlocked() {
			m.logger.Debug("ignoring blocked user", "telegram_id", from.ID)
			return
		}

		next(contextkeys.WithUser(ctx, user), b, update)
	}
}

func (m *Middlewares) AnalyzeMessageMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		if update.CallbackQuery != nil {
			ctx = contextkeys.WithMessageType(ctx, contextkeys.MessageTypeClickButton)
			ctx = contextkeys.WithCallbackData(ctx, update.CallbackQuery.Data)
			next(ctx, b, update)
			return
		}

		msgType := contextkeys.MessageTypeUnknown
		if update.Message != nil {
			text := strings.TrimSpace(update.Message.Text)
			switch {
			case strings.HasPrefix(text, "/"):
				msgType = contextkeys.MessageTypeCommand
			case text != "":
				msgType = contextkeys.MessageTypeText
			}
		}
		next(contextkeys.WithMessageType(ctx, msgType), b, update)
	}
}

func senderOf(update *models.Update) *models.User {
	switch {
	case update == nil:
		return nil
	case update.Message != nil:
		return update.Message.From
	case update.CallbackQuery != nil:
		return &update.CallbackQuery.From
	default:
		return nil
	}
}
