package bot

import (
	"fmt"
	"time"

	"cartbroker/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	slotsPerRow = 4
	daysAhead   = 7
)

var weekdays = [...]string{"вс", "пн", "вт", "ср", "чт", "пт", "сб"}

func mainMenuKeyboard(admin bool) tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🛒 Забронировать", callbackData(KindStartSession, "")),
			tgbotapi.NewInlineKeyboardButtonData("📋 Мои брони", callbackData(KindListReservations, "")),
		),
	}
	if admin {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⚙️ Управление", callbackData(KindAdminMenu, "")),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// dateKeyboard offers today and the following days.
func dateKeyboard(today time.Time) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for i := 0; i < daysAhead; i++ {
		d := today.AddDate(0, 0, i)
		label := fmt.Sprintf("%s %s", weekdays[d.Weekday()], d.Format("02.01"))
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, callbackData(KindSelectDate, d.Format(models.DateLayout))))
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, cancelRow())
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// slotKeyboard lays out slots in a grid. Each label carries the number of
// free carts.
func slotKeyboard(kind ActionKind, slots []models.Slot) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, s := range slots {
		label := fmt.Sprintf("%s (%d)", s.Time.Format("15:04"), s.Available)
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, callbackData(kind, formatSlot(s.Time))))
		if len(row) == slotsPerRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, cancelRow())
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func confirmKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Подтвердить", callbackData(KindConfirm, "")),
			tgbotapi.NewInlineKeyboardButtonData("❌ Отмена", callbackData(KindCancel, "")),
		),
	)
}

func cancelRow() []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("❌ Отмена", callbackData(KindCancel, "")),
	)
}

// reservationsKeyboard offers the next step for each reservation.
func reservationsKeyboard(rs []models.Reservation) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, r := range rs {
		when := r.Start.Format("02.01 15:04")
		switch r.Status {
		case models.StatusPending:
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("📦 Взять "+when, callbackData(KindBeginPickup, r.ID)),
				tgbotapi.NewInlineKeyboardButtonData("🗑 Отменить "+when, callbackData(KindCancel, r.ID)),
			))
		case models.StatusActive:
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("📥 Вернуть "+r.Cart, callbackData(KindBeginReturn, r.ID)),
			))
		}
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func adminKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("➕ Тележка", callbackData(KindAdminAddCart, "")),
			tgbotapi.NewInlineKeyboardButtonData("🔁 Вкл/выкл", callbackData(KindAdminToggleCart, "")),
			tgbotapi.NewInlineKeyboardButtonData("🔑 Код", callbackData(KindAdminChangeCode, "")),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("👤 Добавить", callbackData(KindAdminAddUser, "")),
			tgbotapi.NewInlineKeyboardButtonData("🚫 Удалить", callbackData(KindAdminRemoveUser, "")),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📋 Активные брони", callbackData(KindAdminListActive, "")),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔄 Обновить из таблицы", callbackData(KindRefresh, "")),
		),
	)
}

// activeKeyboard lets an admin cancel any listed reservation.
func activeKeyboard(rs []models.Reservation) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(rs)+1)
	for _, r := range rs {
		label := fmt.Sprintf("🗑 %s %s @%s", r.Cart, r.Start.Format("02.01 15:04"), r.Holder)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, callbackData(KindCancel, r.ID)),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", callbackData(KindAdminMenu, "")),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func cartsKeyboard(kind ActionKind, carts []models.Cart) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, c := range carts {
		mark := "🟢"
		if !c.Active {
			mark = "⚪️"
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(mark+" "+c.Name, callbackData(kind, c.Name)),
		))
	}
	rows = append(rows, cancelRow())
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func usersKeyboard(users []models.User) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, u := range users {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("@"+u.Handle, callbackData(KindAdminRemoveUser, u.Handle)),
		))
	}
	rows = append(rows, cancelRow())
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
