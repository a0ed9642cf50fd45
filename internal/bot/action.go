package bot

import (
	"strings"
	"time"

	"cartbroker/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ActionKind is the closed set of things a user can ask for.
type ActionKind string

const (
	KindUnknown          ActionKind = ""
	KindStartSession     ActionKind = "start"
	KindSelectDate       ActionKind = "date"
	KindSelectStartTime  ActionKind = "from"
	KindSelectEndTime    ActionKind = "to"
	KindConfirm          ActionKind = "confirm"
	KindCancel           ActionKind = "cancel"
	KindSubmitEvidence   ActionKind = "evidence"
	KindBeginPickup      ActionKind = "pickup"
	KindBeginReturn      ActionKind = "return"
	KindListReservations ActionKind = "list"
	KindAdminMenu        ActionKind = "admin"
	KindAdminAddCart     ActionKind = "cart_add"
	KindAdminToggleCart  ActionKind = "cart_toggle"
	KindAdminChangeCode  ActionKind = "cart_code"
	KindAdminAddUser     ActionKind = "user_add"
	KindAdminRemoveUser  ActionKind = "user_remove"
	KindAdminListActive  ActionKind = "active"
	KindRefresh          ActionKind = "refresh"
)

var knownKinds = map[ActionKind]bool{
	KindStartSession: true, KindSelectDate: true, KindSelectStartTime: true,
	KindSelectEndTime: true, KindConfirm: true, KindCancel: true,
	KindSubmitEvidence: true, KindBeginPickup: true, KindBeginReturn: true,
	KindListReservations: true, KindAdminMenu: true, KindAdminAddCart: true,
	KindAdminToggleCart: true, KindAdminChangeCode: true, KindAdminAddUser: true,
	KindAdminRemoveUser: true, KindAdminListActive: true, KindRefresh: true,
}

// IsAdmin reports whether the kind is reserved for admins.
func (k ActionKind) IsAdmin() bool {
	switch k {
	case KindAdminMenu, KindAdminAddCart, KindAdminToggleCart, KindAdminChangeCode,
		KindAdminAddUser, KindAdminRemoveUser, KindAdminListActive, KindRefresh:
		return true
	}
	return false
}

// Action is a decoded user request.
type Action struct {
	ActorID    int64
	ChatID     int64
	Handle     string
	Kind       ActionKind
	Payload    string
	CallbackID string
	// FromText is set when the payload was typed rather than picked.
	FromText bool
}

// slotLayout кодирует время слота в callback data
const slotLayout = "200601021504"

func formatSlot(t time.Time) string {
	return t.Format(slotLayout)
}

func parseSlot(raw string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(slotLayout, raw, loc)
}

// callbackData builds the data of an inline button. Telegram caps it at 64
// bytes; cart names and ids fit comfortably.
func callbackData(kind ActionKind, payload string) string {
	if payload == "" {
		return string(kind)
	}
	return string(kind) + ":" + payload
}

var commandKinds = map[string]ActionKind{
	"start":       KindStartSession,
	"book":        KindStartSession,
	"my":          KindListReservations,
	"cancel":      KindCancel,
	"admin":       KindAdminMenu,
	"add_cart":    KindAdminAddCart,
	"toggle_cart": KindAdminToggleCart,
	"change_code": KindAdminChangeCode,
	"add_user":    KindAdminAddUser,
	"remove_user": KindAdminRemoveUser,
	"active":      KindAdminListActive,
	"refresh":     KindRefresh,
}

// textKinds maps a waiting step to the action its free-text answer completes.
var textKinds = map[models.Step]ActionKind{
	models.StepAdminCartName:       KindAdminAddCart,
	models.StepAdminCartCode:       KindAdminAddCart,
	models.StepAdminToggleCart:     KindAdminToggleCart,
	models.StepAdminChangeCodeCart: KindAdminChangeCode,
	models.StepAdminChangeCode:     KindAdminChangeCode,
	models.StepAdminAddUser:        KindAdminAddUser,
	models.StepAdminRemoveUser:     KindAdminRemoveUser,
}

// Decode turns an update into an Action. step is the sender's current dialog
// step, used to interpret free text. ok is false for updates without a sender.
func Decode(update tgbotapi.Update, step models.Step) (Action, bool) {
	if cb := update.CallbackQuery; cb != nil {
		if cb.From == nil {
			return Action{}, false
		}
		a := Action{ActorID: cb.From.ID, ChatID: cb.From.ID, Handle: cb.From.UserName, CallbackID: cb.ID}
		if cb.Message != nil && cb.Message.Chat != nil {
			a.ChatID = cb.Message.Chat.ID
		}
		kind, payload, _ := strings.Cut(cb.Data, ":")
		if knownKinds[ActionKind(kind)] {
			a.Kind, a.Payload = ActionKind(kind), payload
		}
		return a, true
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return Action{}, false
	}
	a := Action{ActorID: msg.From.ID, ChatID: msg.Chat.ID, Handle: msg.From.UserName}

	switch {
	case len(msg.Photo) > 0:
		// последний элемент самый крупный
		a.Kind = KindSubmitEvidence
		a.Payload = msg.Photo[len(msg.Photo)-1].FileID
	case msg.IsCommand():
		a.Kind = commandKinds[msg.Command()]
		a.Payload = strings.TrimSpace(msg.CommandArguments())
	default:
		text := strings.TrimSpace(msg.Text)
		if kind, ok := textKinds[step]; ok && text != "" {
			a.Kind, a.Payload, a.FromText = kind, text, true
		}
	}
	return a, true
}
