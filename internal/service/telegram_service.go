package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cartbroker/internal/domain"
	"cartbroker/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// notifyPolicy bounds outbound sends to three attempts.
var notifyPolicy = worker.RetryPolicy{
	MaxRetries:    3,
	InitialDelay:  300 * time.Millisecond,
	MaxDelay:      2 * time.Second,
	BackoffFactor: 2,
}

// TelegramService wraps the bot API. It implements domain.Notifier.
type TelegramService struct {
	bot    domain.TelegramSender
	policy worker.RetryPolicy
}

func NewTelegramService(bot domain.TelegramSender) *TelegramService {
	return &TelegramService{
		bot:    bot,
		policy: notifyPolicy,
	}
}

// Send delivers text, as a photo caption when photo is a file id.
func (s *TelegramService) Send(ctx context.Context, chatID int64, text, photo string) error {
	var c tgbotapi.Chattable
	if photo != "" {
		p := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(photo))
		p.Caption = text
		c = p
	} else {
		c = tgbotapi.NewMessage(chatID, text)
	}
	err := s.policy.Do(ctx, retryableSend, func(_ context.Context, _ int) error {
		_, err := s.bot.Send(c)
		return err
	})
	if err != nil {
		return fmt.Errorf("send to %d: %w", chatID, err)
	}
	return nil
}

// retryableSend gives up on errors Telegram will repeat, like a blocked bot
// or a bad chat id.
func retryableSend(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	return true
}

func (s *TelegramService) SendMessage(chatID int64, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	return s.bot.Send(msg)
}

func (s *TelegramService) SendWithKeyboard(chatID int64, text string, keyboard interface{}) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = keyboard
	return s.bot.Send(msg)
}

func (s *TelegramService) AnswerCallback(callbackID, text string) error {
	callback := tgbotapi.NewCallback(callbackID, text)
	_, err := s.bot.Request(callback)
	return err
}

func (s *TelegramService) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return s.bot.GetUpdatesChan(config)
}

func (s *TelegramService) GetSelf() tgbotapi.User {
	return s.bot.GetSelf()
}

func (s *TelegramService) StopReceivingUpdates() {
	s.bot.StopReceivingUpdates()
}
