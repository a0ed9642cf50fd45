package domain

import (
	"context"
	"time"

	"cartbroker/internal/models"
	"cartbroker/internal/tables"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TableGateway is row-oriented CRUD over the remote tables. Every call may
// fail; tables.IsTransient tells retryable failures apart.
type TableGateway interface {
	ReadAll(ctx context.Context, t tables.Table) ([]tables.Row, error)
	AppendRow(ctx context.Context, t tables.Table, row tables.Row) error
	UpdateCell(ctx context.Context, t tables.Table, key, column, value string) error
	BatchUpdate(ctx context.Context, t tables.Table, updates []tables.CellUpdate) error
	DeleteRow(ctx context.Context, t tables.Table, key string) error
}

// Notifier delivers a message, optionally with a photo, to a chat.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text, photo string) error
}

type StateRepository interface {
	GetSession(ctx context.Context, actorID int64) (*models.Session, error)
	SetSession(ctx context.Context, session *models.Session) error
	ClearSession(ctx context.Context, actorID int64) error
	ListSessions(ctx context.Context) ([]*models.Session, error)
	CheckRateLimit(ctx context.Context, actorID int64, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Outbox accepts remote writes that must be retried later.
type Outbox interface {
	EnqueueBatch(ctx context.Context, reservationID string, t tables.Table, updates []tables.CellUpdate) error
	HasQueued(ctx context.Context, reservationID string) (bool, error)
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	GetSelf() tgbotapi.User
	StopReceivingUpdates()
}
