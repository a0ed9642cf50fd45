package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cartbroker/internal/models"
	"cartbroker/internal/service"

	"github.com/rs/zerolog"
)

var statusLabels = map[models.Status]string{
	models.StatusPending: "ожидает получения",
	models.StatusActive:  "у вас на руках",
}

// Dispatch executes one decoded action on behalf of its sender.
func (b *Bot) Dispatch(ctx context.Context, a Action) error {
	if a.Kind.IsAdmin() && !b.users.IsAdmin(a.Handle) {
		return errForbidden
	}
	zerolog.Ctx(ctx).Debug().
		Int64("user_id", a.ActorID).
		Str("kind", string(a.Kind)).
		Str("payload", a.Payload).
		Msg("Dispatching action")

	switch a.Kind {
	case KindStartSession:
		return b.startSession(ctx, a)
	case KindSelectDate:
		return b.selectDate(ctx, a)
	case KindSelectStartTime:
		return b.selectStart(ctx, a)
	case KindSelectEndTime:
		return b.selectEnd(ctx, a)
	case KindConfirm:
		return b.confirm(ctx, a)
	case KindCancel:
		return b.cancel(ctx, a)
	case KindBeginPickup:
		return b.beginEvidence(ctx, a, models.StatusPending, models.StepTakePhoto)
	case KindBeginReturn:
		return b.beginEvidence(ctx, a, models.StatusActive, models.StepReturnPhoto)
	case KindSubmitEvidence:
		return b.submitEvidence(ctx, a)
	case KindListReservations:
		return b.listReservations(a)
	case KindAdminMenu:
		b.sendKeyboard(a.ChatID, "⚙️ Управление", adminKeyboard())
		return nil
	case KindAdminAddCart:
		return b.addCart(ctx, a)
	case KindAdminToggleCart:
		return b.toggleCart(ctx, a)
	case KindAdminChangeCode:
		return b.changeCode(ctx, a)
	case KindAdminAddUser:
		return b.addUser(ctx, a)
	case KindAdminRemoveUser:
		return b.removeUser(ctx, a)
	case KindAdminListActive:
		return b.listActive(a)
	case KindRefresh:
		return b.refresh(ctx, a)
	}

	b.sendMessage(a.ChatID, "🤔 Не понял. /start: главное меню, /my: мои брони.")
	return nil
}

func (b *Bot) session(ctx context.Context, actorID int64) (*models.Session, error) {
	s, err := b.sessions.Get(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return s, nil
}

// expect returns the session when it waits in step.
func (b *Bot) expect(ctx context.Context, actorID int64, step models.Step) (*models.Session, error) {
	s, err := b.session(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if s == nil || s.Step != step {
		return nil, errSessionLost
	}
	return s, nil
}

func (b *Bot) today() time.Time {
	now := b.slots.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, b.slots.Location())
}

func (b *Bot) startSession(ctx context.Context, a Action) error {
	if a.CallbackID == "" {
		b.sendKeyboard(a.ChatID, "👋 Бронирование тележек. Выберите действие:", mainMenuKeyboard(b.users.IsAdmin(a.Handle)))
	}
	if err := b.sessions.Set(ctx, a.ActorID, a.ChatID, models.StepSelectDate, models.SessionData{}); err != nil {
		return err
	}
	b.sendKeyboard(a.ChatID, "📅 Выберите дату:", dateKeyboard(b.today()))
	return nil
}

func (b *Bot) selectDate(ctx context.Context, a Action) error {
	date, err := time.ParseInLocation(models.DateLayout, a.Payload, b.slots.Location())
	if err != nil {
		return errSessionLost
	}
	slots := b.slots.StartSlots(date)
	if len(slots) == 0 {
		b.sendKeyboard(a.ChatID, "😔 На эту дату свободного времени нет. Выберите другую:", dateKeyboard(b.today()))
		return nil
	}
	if err := b.sessions.Set(ctx, a.ActorID, a.ChatID, models.StepSelectStartTime, models.SessionData{Date: date}); err != nil {
		return err
	}
	text := fmt.Sprintf("🕐 %s. Выберите время начала (в скобках свободные тележки):", date.Format("02.01.2006"))
	b.sendKeyboard(a.ChatID, text, slotKeyboard(KindSelectStartTime, slots))
	return nil
}

func (b *Bot) selectStart(ctx context.Context, a Action) error {
	s, err := b.expect(ctx, a.ActorID, models.StepSelectStartTime)
	if err != nil {
		return err
	}
	start, err := parseSlot(a.Payload, b.slots.Location())
	if err != nil {
		return errSessionLost
	}
	slots := b.slots.EndSlots(start)
	if len(slots) == 0 {
		b.sendMessage(a.ChatID, "😔 С этого времени свободных тележек уже нет. Выберите другое время.")
		return nil
	}
	data := models.SessionData{Date: s.Data.Date, Start: start}
	if err := b.sessions.Set(ctx, a.ActorID, a.ChatID, models.StepSelectEndTime, data); err != nil {
		return err
	}
	b.sendKeyboard(a.ChatID, fmt.Sprintf("🕔 Начало %s. Выберите время окончания:", start.Format("15:04")), slotKeyboard(KindSelectEndTime, slots))
	return nil
}

func (b *Bot) selectEnd(ctx context.Context, a Action) error {
	s, err := b.expect(ctx, a.ActorID, models.StepSelectEndTime)
	if err != nil {
		return err
	}
	end, err := parseSlot(a.Payload, b.slots.Location())
	if err != nil || !end.After(s.Data.Start) {
		return errSessionLost
	}
	data := s.Data
	data.End = end
	if err := b.sessions.Set(ctx, a.ActorID, a.ChatID, models.StepConfirm, data); err != nil {
		return err
	}
	text := fmt.Sprintf("🛒 Бронь на %s с %s до %s. Подтвердить?",
		data.Start.Format("02.01.2006"), data.Start.Format("15:04"), end.Format("15:04"))
	b.sendKeyboard(a.ChatID, text, confirmKeyboard())
	return nil
}

func (b *Bot) confirm(ctx context.Context, a Action) error {
	s, err := b.expect(ctx, a.ActorID, models.StepConfirm)
	if err != nil {
		return err
	}
	_, createErr := b.reservations.Create(ctx, a.Handle, a.ChatID, models.NewInterval(s.Data.Start, s.Data.End))
	if err := b.sessions.Clear(ctx, a.ActorID); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Int64("user_id", a.ActorID).Msg("Failed to clear session")
	}
	return createErr
}

// cancel aborts the current dialog, or cancels the reservation named in the
// payload.
func (b *Bot) cancel(ctx context.Context, a Action) error {
	if a.Payload == "" {
		if err := b.sessions.Clear(ctx, a.ActorID); err != nil {
			return err
		}
		b.sendKeyboard(a.ChatID, "Действие отменено.", mainMenuKeyboard(b.users.IsAdmin(a.Handle)))
		return nil
	}

	r, err := b.owned(a, a.Payload)
	if err != nil {
		return err
	}
	reason := models.ReasonByUser
	if r.Holder != models.NormalizeHandle(a.Handle) {
		reason = models.ReasonByAdmin
	}
	res, err := b.reservations.Cancel(ctx, r.ID, reason)
	if err != nil {
		return err
	}
	switch {
	case res == service.AlreadyTerminal:
		b.sendMessage(a.ChatID, "ℹ️ Эта бронь уже завершена или отменена.")
	case reason == models.ReasonByAdmin:
		b.sendMessage(a.ChatID, fmt.Sprintf("✅ Бронь %s @%s отменена.", r.Cart, r.Holder))
	}
	b.clearIfAbout(ctx, a.ActorID, r.ID)
	return nil
}

// owned loads id and checks that the sender may act on it.
func (b *Bot) owned(a Action, id string) (models.Reservation, error) {
	r, err := b.reservations.Get(id)
	if err != nil {
		return models.Reservation{}, err
	}
	if r.Holder != models.NormalizeHandle(a.Handle) && !b.users.IsAdmin(a.Handle) {
		return models.Reservation{}, service.ErrNotFound
	}
	return r, nil
}

func (b *Bot) beginEvidence(ctx context.Context, a Action, want models.Status, step models.Step) error {
	r, err := b.owned(a, a.Payload)
	if err != nil {
		return err
	}
	if r.Status != want {
		return fmt.Errorf("%w: reservation is %s", service.ErrInvalidTransition, r.Status)
	}
	data := models.SessionData{ReservationID: r.ID, Cart: r.Cart, Start: r.Start, End: r.End}
	if err := b.sessions.Set(ctx, a.ActorID, a.ChatID, step, data); err != nil {
		return err
	}
	if step == models.StepTakePhoto {
		b.sendMessage(a.ChatID, fmt.Sprintf("📷 Сфотографируйте тележку %s и отправьте фото. После этого пришлём код замка.", r.Cart))
	} else {
		b.sendMessage(a.ChatID, fmt.Sprintf("📷 Отправьте фото возвращённой тележки %s.", r.Cart))
	}
	return nil
}

func (b *Bot) submitEvidence(ctx context.Context, a Action) error {
	s, err := b.session(ctx, a.ActorID)
	if err != nil {
		return err
	}
	if s == nil || (s.Step != models.StepTakePhoto && s.Step != models.StepReturnPhoto) {
		b.sendMessage(a.ChatID, "ℹ️ Фото сейчас не ожидается. Откройте /my, чтобы взять или вернуть тележку.")
		return nil
	}

	if s.Step == models.StepTakePhoto {
		_, err = b.reservations.Confirm(ctx, s.Data.ReservationID, a.Payload)
	} else {
		_, err = b.reservations.Return(ctx, s.Data.ReservationID, a.Payload)
	}
	if err != nil {
		// сессию оставляем, чтобы можно было прислать фото ещё раз
		return err
	}
	return b.sessions.Clear(ctx, a.ActorID)
}

func (b *Bot) listReservations(a Action) error {
	rs := b.reservations.ForHolder(a.Handle)
	if len(rs) == 0 {
		b.sendKeyboard(a.ChatID, "📋 У вас нет активных броней.", mainMenuKeyboard(b.users.IsAdmin(a.Handle)))
		return nil
	}

	var sb strings.Builder
	sb.WriteString("📋 Ваши брони:\n\n")
	for _, r := range rs {
		sb.WriteString(fmt.Sprintf("• %s, %s – %s, %s\n",
			r.Cart, r.Start.Format("02.01 15:04"), r.End.Format("15:04"), statusLabels[r.Status]))
	}
	b.sendKeyboard(a.ChatID, sb.String(), reservationsKeyboard(rs))
	return nil
}

func (b *Bot) clearIfAbout(ctx context.Context, actorID int64, reservationID string) {
	s, err := b.sessions.Get(ctx, actorID)
	if err != nil || s == nil || s.Data.ReservationID != reservationID {
		return
	}
	if err := b.sessions.Clear(ctx, actorID); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Int64("user_id", actorID).Msg("Failed to clear session")
	}
}
