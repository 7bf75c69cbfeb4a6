package push

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"livraison/internal/domain"
	apperrors "livraison/internal/errors"
)

// LogNotifier is used when no push channel is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, role domain.Role, recipientID, message string) error {
	n.logger.Info("push notification",
		zap.String("role", string(role)),
		zap.String("recipientId", recipientID),
		zap.String("message", message),
	)
	return nil
}

// Sender is the slice of *tgbotapi.BotAPI the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type ChatDirectory interface {
	ChatIDs(ctx context.Context, role domain.Role, recipientID string) ([]int64, error)
}

type TelegramNotifier struct {
	sender    Sender
	directory ChatDirectory
	logger    *zap.Logger
}

func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connecting telegram bot: %w", err)
	}
	return bot, nil
}

func NewTelegramNotifier(sender Sender, directory ChatDirectory, logger *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		sender:    sender,
		directory: directory,
		logger:    logger,
	}
}

// Notify sends message to every chat registered for the recipient. A
// recipient with no chat is not an error. Failures on some chats are
// reported once all chats were tried.
func (n *TelegramNotifier) Notify(ctx context.Context, role domain.Role, recipientID, message string) error {
	chatIDs, err := n.directory.ChatIDs(ctx, role, recipientID)
	if err != nil {
		return apperrors.NewUpstreamError("redis", "loading telegram chats", err)
	}
	if len(chatIDs) == 0 {
		n.logger.Debug("no telegram chat registered", zap.String("role", string(role)), zap.String("recipientId", recipientID))
		return nil
	}

	var errs []error
	for _, chatID := range chatIDs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := n.sender.Send(tgbotapi.NewMessage(chatID, message)); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	if len(errs) > 0 {
		return apperrors.NewUpstreamError("telegram", "sending message", errors.Join(errs...))
	}
	return nil
}
