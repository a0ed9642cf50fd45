package bot

import (
	"context"
	"time"

	"cartbroker/internal/config"
	"cartbroker/internal/logging"
	"cartbroker/internal/models"
	"cartbroker/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

type Reservations interface {
	Get(id string) (models.Reservation, error)
	ForHolder(handle string) []models.Reservation
	Live() []models.Reservation
	Create(ctx context.Context, holder string, chatID int64, iv models.Interval) (models.Reservation, error)
	Confirm(ctx context.Context, id, evidence string) (models.Reservation, error)
	Return(ctx context.Context, id, evidence string) (models.Reservation, error)
	Cancel(ctx context.Context, id, reason string) (service.CancelResult, error)
}

type Slots interface {
	Now() time.Time
	Location() *time.Location
	StartSlots(date time.Time) []models.Slot
	EndSlots(start time.Time) []models.Slot
}

type Sessions interface {
	Get(ctx context.Context, actorID int64) (*models.Session, error)
	Set(ctx context.Context, actorID, chatID int64, step models.Step, data models.SessionData) error
	Clear(ctx context.Context, actorID int64) error
	CheckRateLimit(ctx context.Context, actorID int64, limit int, window time.Duration) (bool, error)
}

type Users interface {
	Register(ctx context.Context, handle string, chatID int64) (models.User, error)
	IsAdmin(handle string) bool
}

type Admin interface {
	Carts() []models.Cart
	Users() []models.User
	AddCart(ctx context.Context, name, code string) (models.Cart, error)
	ToggleCart(ctx context.Context, name string) (models.Cart, error)
	ChangeCode(ctx context.Context, name, code string) (models.Cart, error)
	AddUser(ctx context.Context, handle string) (models.User, error)
	RemoveUser(ctx context.Context, handle string) error
	Refresh(ctx context.Context) (bool, error)
}

// Telegram is the slice of the Telegram client the bot talks to.
type Telegram interface {
	SendMessage(chatID int64, text string) (tgbotapi.Message, error)
	SendWithKeyboard(chatID int64, text string, keyboard interface{}) (tgbotapi.Message, error)
	AnswerCallback(callbackID, text string) error
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	GetSelf() tgbotapi.User
	StopReceivingUpdates()
}

// Services groups the collaborators the dispatcher drives.
type Services struct {
	Reservations Reservations
	Slots        Slots
	Sessions     Sessions
	Users        Users
	Admin        Admin
}

type Bot struct {
	tg           Telegram
	reservations Reservations
	slots        Slots
	sessions     Sessions
	users        Users
	admin        Admin
	config       config.BotConfig
	metrics      *Metrics
	logger       *zerolog.Logger
}

func NewBot(tg Telegram, services Services, cfg config.BotConfig, metrics *Metrics, logger *zerolog.Logger) *Bot {
	if cfg.UpdateTimeout <= 0 {
		cfg.UpdateTimeout = 30 * time.Second
	}
	l := logger.With().Str("component", "bot").Logger()
	return &Bot{
		tg:           tg,
		reservations: services.Reservations,
		slots:        services.Slots,
		sessions:     services.Sessions,
		users:        services.Users,
		admin:        services.Admin,
		config:       cfg,
		metrics:      metrics,
		logger:       &l,
	}
}

func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.tg.GetUpdatesChan(u)

	b.logger.Info().Str("username", b.tg.GetSelf().UserName).Msg("Authorized on account")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("Bot stopping...")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.processUpdate(ctx, update)
		}
	}
}

// Stop stops receiving Telegram updates (best-effort).
func (b *Bot) Stop() {
	if b == nil || b.tg == nil {
		return
	}
	b.tg.StopReceivingUpdates()
}

func (b *Bot) processUpdate(ctx context.Context, update tgbotapi.Update) {
	start := time.Now()
	defer func() {
		if b.metrics != nil {
			b.metrics.UpdateProcessingTime.Observe(time.Since(start).Seconds())
		}
	}()

	// Создаем контекст для обработки каждого обновления
	updateCtx, cancel := context.WithTimeout(ctx, b.config.UpdateTimeout)
	defer cancel()
	updateCtx, requestID := logging.WithRequest(updateCtx, b.logger)

	b.withRecovery(func() {
		actorID := senderID(update)
		if actorID == 0 {
			return
		}

		var step models.Step
		session, err := b.sessions.Get(updateCtx, actorID)
		if err != nil {
			zerolog.Ctx(updateCtx).Error().Err(err).Int64("user_id", actorID).Msg("Failed to load session")
		} else if session != nil {
			step = session.Step
		}

		action, ok := Decode(update, step)
		if !ok {
			return
		}
		if action.CallbackID != "" {
			// Отвечаем на callback сразу, чтобы убрать "часики"
			_ = b.tg.AnswerCallback(action.CallbackID, "")
		}
		if b.metrics != nil {
			b.metrics.UpdatesTotal.WithLabelValues(kindLabel(action.Kind)).Inc()
		}

		if !b.allow(updateCtx, action) {
			return
		}

		if _, err := b.users.Register(updateCtx, action.Handle, action.ChatID); err != nil {
			b.reportError(updateCtx, action, err, requestID)
			return
		}

		if err := b.Dispatch(updateCtx, action); err != nil {
			b.reportError(updateCtx, action, err, requestID)
		}
	})
}

func (b *Bot) reportError(ctx context.Context, a Action, err error, requestID string) {
	if b.metrics != nil {
		b.metrics.ErrorsTotal.Inc()
	}
	zerolog.Ctx(ctx).Warn().
		Err(err).
		Int64("user_id", a.ActorID).
		Str("kind", string(a.Kind)).
		Msg("Action failed")
	b.sendMessage(a.ChatID, b.getErrorMessage(err, requestID))
}

func (b *Bot) sendMessage(chatID int64, text string) {
	if _, err := b.tg.SendMessage(chatID, text); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
	}
}

func (b *Bot) sendKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) {
	if _, err := b.tg.SendWithKeyboard(chatID, text, keyboard); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
	}
}

func senderID(update tgbotapi.Update) int64 {
	switch {
	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		return update.CallbackQuery.From.ID
	case update.Message != nil && update.Message.From != nil:
		return update.Message.From.ID
	}
	return 0
}

func kindLabel(k ActionKind) string {
	if k == KindUnknown {
		return "unknown"
	}
	return string(k)
}
