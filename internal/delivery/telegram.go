package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BatmanBruc/club-subscription-bot/internal/messages"
	"github.com/BatmanBruc/club-subscription-bot/internal/metrics"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// botAPI is the part of *bot.Bot the sink calls.
type botAPI interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
	SendVideo(ctx context.Context, params *bot.SendVideoParams) (*models.Message, error)
	SendAudio(ctx context.Context, params *bot.SendAudioParams) (*models.Message, error)
	SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*models.Message, error)
	CreateChatInviteLink(ctx context.Context, params *bot.CreateChatInviteLinkParams) (*models.ChatInviteLink, error)
	BanChatMember(ctx context.Context, params *bot.BanChatMemberParams) (bool, error)
	UnbanChatMember(ctx context.Context, params *bot.UnbanChatMemberParams) (bool, error)
}

type TelegramSink struct {
	api     botAPI
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewTelegramSink(api botAPI, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *TelegramSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramSink{api: api, timeout: timeout, metrics: m, logger: logger.With("component", "delivery")}
}

func (s *TelegramSink) Send(ctx context.Context, chatID int64, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.send(ctx, chatID, msg)
	result := "ok"
	if err != nil {
		result = "error"
		s.logger.Warn("send failed", "chat_id", chatID, "kind", msg.Kind, "error", err)
	}
	s.metrics.ObserveDelivery(string(msg.Kind), result)
	return err
}

func (s *TelegramSink) send(ctx context.Context, chatID int64, msg Message) error {
	var markup models.ReplyMarkup
	if kb := BuildInlineKeyboard(msg.Buttons); kb != nil {
		markup = kb
	}
	media := &models.InputFileString{Data: msg.Media}

	var err error
	switch msg.Kind {
	case KindImage:
		_, err = s.api.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID: chatID, Photo: media, Caption: msg.Text, ParseMode: messages.ParseModeHTML, ReplyMarkup: markup,
		})
	case KindVideo:
		_, err = s.api.SendVideo(ctx, &bot.SendVideoParams{
			ChatID: chatID, Video: media, Caption: msg.Text, ParseMode: messages.ParseModeHTML, ReplyMarkup: markup,
		})
	case KindAudio:
		_, err = s.api.SendAudio(ctx, &bot.SendAudioParams{
			ChatID: chatID, Audio: media, Caption: msg.Text, ParseMode: messages.ParseModeHTML, ReplyMarkup: markup,
		})
	case KindFile:
		_, err = s.api.SendDocument(ctx, &bot.SendDocumentParams{
			ChatID: chatID, Document: media, Caption: msg.Text, ParseMode: messages.ParseModeHTML, ReplyMarkup: markup,
		})
	default:
		_, err = s.api.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID, Text: msg.Text, ParseMode: messages.ParseModeHTML, ReplyMarkup: markup,
		})
	}
	if err != nil {
		return fmt.Errorf("send %s to %d: %w", msg.Kind, chatID, err)
	}
	return nil
}

// CreateInviteLink returns a join link usable memberLimit times.
func (s *TelegramSink) CreateInviteLink(ctx context.Context, chatID int64, memberLimit int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	link, err := s.api.CreateChatInviteLink(ctx, &bot.CreateChatInviteLinkParams{
		ChatID:      chatID,
		MemberLimit: memberLimit,
	})
	if err != nil {
		return "", fmt.Errorf("create invite link for %d: %w", chatID, err)
	}
	if link == nil || link.InviteLink == "" {
		return "", fmt.Errorf("create invite link for %d: empty link", chatID)
	}
	return link.InviteLink, nil
}

// RemoveMember kicks userID from chatID. The ban is lifted right away so the
// user can rejoin through a fresh invite after renewing.
func (s *TelegramSink) RemoveMember(ctx context.Context, chatID, userID int64) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.api.BanChatMember(ctx, &bot.BanChatMemberParams{ChatID: chatID, UserID: userID}); err != nil {
		return fmt.Errorf("ban %d in %d: %w", userID, chatID, err)
	}
	if _, err := s.api.UnbanChatMember(ctx, &bot.UnbanChatMemberParams{ChatID: chatID, UserID: userID, OnlyIfBanned: true}); err != nil {
		s.logger.Warn("unban after kick failed", "chat_id", chatID, "user_id", userID, "error", err)
	}
	return nil
}
