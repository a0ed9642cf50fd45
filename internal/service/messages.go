package service

import (
	"fmt"

	"cartbroker/internal/models"
)

func fmtInterval(r models.Reservation) string {
	return fmt.Sprintf("%s – %s", r.Start.Format("02.01 15:04"), r.End.Format("15:04"))
}

func msgCreated(r models.Reservation) string {
	return fmt.Sprintf("✅ Тележка %s забронирована на %s.\nЗа 15 минут до начала пришлём напоминание.", r.Cart, fmtInterval(r))
}

func msgConfirmed(r models.Reservation, code string) string {
	return fmt.Sprintf("✅ Бронирование подтверждено.\nТележка: %s\nКод замка: %s\nВремя: %s", r.Cart, code, fmtInterval(r))
}

func msgConfirmRetry(r models.Reservation) string {
	return fmt.Sprintf("⚠️ Не удалось сохранить подтверждение брони %s. Отправьте фото ещё раз.", r.Cart)
}

func msgReturned(r models.Reservation) string {
	return fmt.Sprintf("✅ Тележка %s возвращена. Спасибо!", r.Cart)
}

func msgCancelled(r models.Reservation, reason string) string {
	if reason == models.ReasonExpired {
		return fmt.Sprintf("❌ Бронь тележки %s на %s отменена: не подтверждена вовремя.", r.Cart, fmtInterval(r))
	}
	return fmt.Sprintf("❌ Бронь тележки %s на %s отменена.", r.Cart, fmtInterval(r))
}

func msgStartReminder(r models.Reservation, code string) string {
	return fmt.Sprintf("⏰ Через 15 минут начинается ваша бронь тележки %s.\nКод замка: %s\nНе забудьте сфотографировать тележку при получении.", r.Cart, code)
}

func msgReturnReminder(r models.Reservation) string {
	return fmt.Sprintf("⏰ Время брони тележки %s истекло. Верните тележку и отправьте фото.", r.Cart)
}

func msgSessionExpired() string {
	return "⌛ Сессия истекла. Начните заново командой /start."
}

func announceCreated(r models.Reservation) string {
	return fmt.Sprintf("🆕 @%s забронировал(а) %s на %s", r.Holder, r.Cart, fmtInterval(r))
}

func announceConfirmed(r models.Reservation) string {
	return fmt.Sprintf("📦 @%s взял(а) %s (%s)", r.Holder, r.Cart, fmtInterval(r))
}

func announceReturned(r models.Reservation) string {
	return fmt.Sprintf("📥 @%s вернул(а) %s", r.Holder, r.Cart)
}

func announceCancelled(r models.Reservation, reason string) string {
	return fmt.Sprintf("🚫 Бронь @%s на %s (%s) отменена: %s", r.Holder, r.Cart, fmtInterval(r), reason)
}
