package bot

import (
	"context"
	"fmt"
	"strings"

	"cartbroker/internal/models"
)

// splitNameCode reads "Cart 3 1234" as a name followed by a lock code.
func splitNameCode(payload string) (name, code string, ok bool) {
	fields := strings.Fields(payload)
	if len(fields) < 2 || !models.ValidLockCode(fields[len(fields)-1]) {
		return "", "", false
	}
	return strings.Join(fields[:len(fields)-1], " "), fields[len(fields)-1], true
}

func (b *Bot) stepOf(ctx context.Context, actorID int64) (*models.Session, models.Step) {
	s, err := b.sessions.Get(ctx, actorID)
	if err != nil || s == nil {
		return nil, ""
	}
	return s, s.Step
}

func (b *Bot) finishAdmin(ctx context.Context, a Action, text string) error {
	if err := b.sessions.Clear(ctx, a.ActorID); err != nil {
		return err
	}
	b.sendKeyboard(a.ChatID, text, adminKeyboard())
	return nil
}

func (b *Bot) addCart(ctx context.Context, a Action) error {
	s, step := b.stepOf(ctx, a.ActorID)

	switch {
	case a.FromText && step == models.StepAdminCartCode:
		cart, err := b.admin.AddCart(ctx, s.Data.Cart, a.Payload)
		if err != nil {
			return err
		}
		return b.finishAdmin(ctx, a, fmt.Sprintf("✅ Тележка %s добавлена.", cart.Name))

	case a.Payload == "":
		if err := b.sessions.Set(ctx, a.ActorID, a.ChatID, models.StepAdminCartName, models.SessionData{}); err != nil {
			return err
		}
		b.sendMessage(a.ChatID, "Введите название новой тележки:")
		return nil
	}

	if name, code, ok := splitNameCode(a.Payload); ok && !a.FromText {
		cart, err := b.admin.AddCart(ctx, name, code)
		if err != nil {
			return err
		}
		return b.finishAdmin(ctx, a, fmt.Sprintf("✅ Тележка %s добавлена.", cart.Name))
	}

	if err := b.sessions.Set(ctx, a.ActorID, a.ChatID, models.StepAdminCartCode, models.SessionData{Cart: a.Payload}); err != nil {
		return err
	}
	b.sendMessage(a.ChatID, fmt.Sprintf("Введите код замка для %s (4 цифры):", a.Payload))
	return nil
}

func (b *Bot) toggleCart(ctx context.Context, a Action) error {
	if a.Payload == "" {
		if err := b.sessions.Set(ctx, a.ActorID, a.ChatID, models.StepAdminToggleCart, models.SessionData{}); err != nil {
			return err
		}
		b.sendKeyboard(a.ChatID, "Выберите тележку:", cartsKeyboard(KindAdminToggleCart, b.admin.Carts()))
		return nil
	}

	cart, err := b.admin.ToggleCart(ctx, a.Payload)
	if err != nil {
		return err
	}
	state := "включена"
	if !cart.Active {
		state = "выключена"
	}
	return b.finishAdmin(ctx, a, fmt.Sprintf("✅ Тележка %s %s.", cart.Name, state))
}

func (b *Bot) changeCode(ctx context.Context, a Action) error {
	s, step := b.stepOf(ctx, a.ActorID)

	switch {
	case a.FromText && step == models.StepAdminChangeCode:
		cart, err := b.admin.ChangeCode(ctx, s.Data.Cart, a.Payload)
		if err != nil {
			return err
		}
		return b.finishAdmin(ctx, a, fmt.Sprintf("✅ Код замка %s обновлён.", cart.Name))

	case a.Payload == "":
		if err := b.sessions.Set(ctx, a.ActorID, a.ChatID, models.StepAdminChangeCodeCart, models.SessionData{}); err != nil {
			return err
		}
		b.sendKeyboard(a.ChatID, "Выберите тележку:", cartsKeyboard(KindAdminChangeCode, b.admin.Carts()))
		return nil
	}

	if name, code, ok := splitNameCode(a.Payload); ok && !a.FromText {
		cart, err := b.admin.ChangeCode(ctx, name, code)
		if err != nil {
			return err
		}
		return b.finishAdmin(ctx, a, fmt.Sprintf("✅ Код замка %s обновлён.", cart.Name))
	}

	if err := b.sessions.Set(ctx, a.ActorID, a.ChatID, models.StepAdminChangeCode, models.SessionData{Cart: a.Payload}); err != nil {
		return err
	}
	b.sendMessage(a.ChatID, fmt.Sprintf("Введите новый код для %s (4 цифры):", a.Payload))
	return nil
}

func (b *Bot) addUser(ctx context.Context, a Action) error {
	if a.Payload == "" {
		if err := b.sessions.Set(ctx, a.ActorID, a.ChatID, models.StepAdminAddUser, models.SessionData{}); err != nil {
			return err
		}
		b.sendMessage(a.ChatID, "Введите ник пользователя в Telegram:")
		return nil
	}

	u, err := b.admin.AddUser(ctx, a.Payload)
	if err != nil {
		return err
	}
	return b.finishAdmin(ctx, a, fmt.Sprintf("✅ Пользователь @%s добавлен.", u.Handle))
}

func (b *Bot) removeUser(ctx context.Context, a Action) error {
	if a.Payload == "" {
		if err := b.sessions.Set(ctx, a.ActorID, a.ChatID, models.StepAdminRemoveUser, models.SessionData{}); err != nil {
			return err
		}
		b.sendKeyboard(a.ChatID, "Кого удалить?", usersKeyboard(b.admin.Users()))
		return nil
	}

	if err := b.admin.RemoveUser(ctx, a.Payload); err != nil {
		return err
	}
	return b.finishAdmin(ctx, a, fmt.Sprintf("✅ Пользователь @%s удалён.", models.NormalizeHandle(a.Payload)))
}

var adminStatusLabels = map[models.Status]string{
	models.StatusPending: "ожидает получения",
	models.StatusActive:  "на руках",
}

// listActive shows every unfinished reservation with the lock code of its
// cart.
func (b *Bot) listActive(a Action) error {
	rs := b.reservations.Live()
	if len(rs) == 0 {
		b.sendKeyboard(a.ChatID, "📋 Активных броней нет.", adminKeyboard())
		return nil
	}

	codes := make(map[string]string)
	for _, c := range b.admin.Carts() {
		codes[c.Name] = c.LockCode
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📋 Активные брони (%d):\n\n", len(rs)))
	for _, r := range rs {
		code := codes[r.Cart]
		if code == "" {
			code = "нет"
		}
		sb.WriteString(fmt.Sprintf("• %s, @%s, %s – %s, %s, код %s\n",
			r.Cart, r.Holder, r.Start.Format("02.01 15:04"), r.End.Format("15:04"), adminStatusLabels[r.Status], code))
	}
	b.sendKeyboard(a.ChatID, sb.String(), activeKeyboard(rs))
	return nil
}

func (b *Bot) refresh(ctx context.Context, a Action) error {
	changed, err := b.admin.Refresh(ctx)
	if err != nil {
		return err
	}
	if changed {
		b.sendMessage(a.ChatID, "🔄 Данные обновлены из таблицы.")
	} else {
		b.sendMessage(a.ChatID, "🔄 Изменений в таблице нет.")
	}
	return nil
}
