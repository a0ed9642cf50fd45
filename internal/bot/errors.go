package bot

import (
	"errors"
	"fmt"

	"cartbroker/internal/service"
	"cartbroker/internal/tables"
)

func (b *Bot) getErrorMessage(err error, requestID string) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, service.ErrConflict):
		return "⚠️ Это время уже занято. Выберите другой интервал."
	case errors.Is(err, service.ErrInvalidInterval):
		return "⚠️ Интервал не подходит: от 30 минут до 5 часов, по сетке 15 минут, не в прошлом."
	case errors.Is(err, service.ErrReturnQueued):
		return "✅ Возврат уже принят, запись в таблицу появится чуть позже."
	case errors.Is(err, service.ErrInvalidTransition):
		return "⚠️ Это действие уже недоступно для этой брони."
	case errors.Is(err, service.ErrNotFound):
		return "⚠️ Бронь не найдена."
	case errors.Is(err, service.ErrEvidenceRequired):
		return "📷 Нужна фотография тележки."
	case errors.Is(err, service.ErrNotifyFailed):
		return "⚠️ Не удалось отправить сообщение. Попробуйте ещё раз."
	case errors.Is(err, service.ErrNotAuthorized):
		return "⛔️ У вас нет доступа. Обратитесь к администратору."
	case errors.Is(err, service.ErrCartExists):
		return "⚠️ Тележка с таким названием уже есть."
	case errors.Is(err, service.ErrCartNotFound):
		return "⚠️ Тележка не найдена."
	case errors.Is(err, service.ErrInvalidLockCode):
		return "⚠️ Код замка должен состоять из 4 цифр."
	case errors.Is(err, service.ErrInvalidName):
		return "⚠️ Недопустимое название."
	case errors.Is(err, service.ErrUserExists):
		return "⚠️ Такой пользователь уже есть."
	case errors.Is(err, service.ErrUserNotFound):
		return "⚠️ Пользователь не найден."
	case errors.Is(err, service.ErrUserHasBookings):
		return "⚠️ У пользователя есть активные брони."
	case errors.Is(err, errSessionLost):
		return "⌛ Сессия устарела. Начните заново командой /start."
	case tables.IsTransient(err):
		return "⏳ Таблица временно недоступна. Попробуйте через минуту."
	}

	// Default error message
	return fmt.Sprintf("❌ Произошла ошибка при обработке запроса. Код: %s", requestID)
}

var (
	errSessionLost = errors.New("session lost")
	errForbidden   = fmt.Errorf("%w: admin only", service.ErrNotAuthorized)
)
