package models

import "time"

// TimeLayout is the timestamp format used in the remote tables.
const TimeLayout = "2006-01-02 15:04"

// DateLayout is the date format used by the front-end and the API.
const DateLayout = "2006-01-02"

const (
	// DefaultTimezone зона, в которой живут все интервалы
	DefaultTimezone = "Europe/Moscow"

	// DefaultSlotStep шаг сетки слотов
	DefaultSlotStep = 15 * time.Minute

	// MinReservation минимальная длительность брони
	MinReservation = 30 * time.Minute

	// MaxReservation максимальная длительность брони
	MaxReservation = 5 * time.Hour

	// PastStartGrace насколько начало брони может быть в прошлом
	PastStartGrace = 5 * time.Minute

	// LastSlotHour, LastSlotMinute последний слот начала в сутках
	LastSlotHour   = 23
	LastSlotMinute = 45

	// SnapshotTTL окно свежести кэша таблиц
	SnapshotTTL = 5 * time.Minute

	// SlotCacheTTL время жизни кэша слотов
	SlotCacheTTL = 2 * time.Minute

	// SessionTimeout время жизни диалога без активности
	SessionTimeout = 30 * time.Minute

	// StartReminderLead за сколько до начала напоминать о подтверждении
	StartReminderLead = 15 * time.Minute

	// ReminderWindow окно, в котором напоминание считается своевременным
	ReminderWindow = time.Minute

	// RateLimitMessages количество сообщений в окне
	RateLimitMessages = 20

	// RateLimitWindow окно ограничения частоты сообщений
	RateLimitWindow = 60 // 1 минута в секундах
)

// Cancellation reasons written to the log and shown to the holder.
const (
	ReasonExpired = "expired unconfirmed"
	ReasonByUser  = "cancelled by holder"
	ReasonByAdmin = "cancelled by admin"
)
