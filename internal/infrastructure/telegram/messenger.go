package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"reminder-service/internal/config"
	"reminder-service/internal/domain/entity"
)

// Sender is the subset of tgbotapi.BotAPI used for delivery
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Messenger delivers messages through the Telegram Bot API
type Messenger struct {
	bot Sender
	log *zap.Logger
}

// NewMessenger authenticates against the Bot API and returns a messenger
func NewMessenger(cfg *config.TelegramConfig, log *zap.Logger) (*Messenger, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is not configured")
	}
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	log.Info("telegram bot authorized", zap.String("username", bot.Self.UserName))

	return NewMessengerWithSender(bot, log), nil
}

// NewMessengerWithSender wraps an existing Bot API sender
func NewMessengerWithSender(bot Sender, log *zap.Logger) *Messenger {
	return &Messenger{bot: bot, log: log}
}

// Send sends a text message with an optional inline keyboard
func (m *Messenger) Send(_ context.Context, msg *entity.Message) error {
	out := tgbotapi.NewMessage(msg.ChatID, msg.Text)
	out.DisableNotification = msg.DisableNotification
	if markup, ok := inlineKeyboard(msg.Keyboard); ok {
		out.ReplyMarkup = markup
	}

	if _, err := m.bot.Send(out); err != nil {
		return classifyError(err)
	}
	return nil
}

func inlineKeyboard(rows [][]entity.Button) (tgbotapi.InlineKeyboardMarkup, bool) {
	if len(rows) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	keyboard := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Action))
		}
		keyboard = append(keyboard, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(keyboard...), true
}

// classifyError maps Bot API failures onto the delivery error taxonomy
func classifyError(err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}

	switch {
	case apiErr.Code == http.StatusTooManyRequests || apiErr.RetryAfter > 0:
		return &entity.RateLimitError{
			RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second,
			Err:        err,
		}
	case apiErr.Code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", entity.ErrForbidden, apiErr.Message)
	default:
		return fmt.Errorf("telegram api error %d: %w", apiErr.Code, err)
	}
}
