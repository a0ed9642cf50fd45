package service

import (
	"context"
	"fmt"
	"strconv"

	"cartbroker/internal/cache"
	"cartbroker/internal/domain"
	"cartbroker/internal/models"
	"cartbroker/internal/tables"

	"github.com/rs/zerolog"
)

// UserPolicy controls who may use the bot.
type UserPolicy struct {
	Admins           []string
	SelfRegistration bool
}

type UserService struct {
	gateway          domain.TableGateway
	cache            *cache.Snapshot
	adminsMap        map[string]bool
	selfRegistration bool
	logger           *zerolog.Logger
}

func NewUserService(gateway domain.TableGateway, snapshot *cache.Snapshot, policy UserPolicy, logger *zerolog.Logger) *UserService {
	adminsMap := make(map[string]bool)
	for _, h := range policy.Admins {
		adminsMap[models.NormalizeHandle(h)] = true
	}
	l := logger.With().Str("component", "users").Logger()
	return &UserService{
		gateway:          gateway,
		cache:            snapshot,
		adminsMap:        adminsMap,
		selfRegistration: policy.SelfRegistration,
		logger:           &l,
	}
}

func (s *UserService) IsAdmin(handle string) bool {
	return s.adminsMap[models.NormalizeHandle(handle)]
}

// Register links chatID to a known handle. Unknown handles are rejected
// unless self-registration is on. Admins are always let in.
func (s *UserService) Register(ctx context.Context, handle string, chatID int64) (models.User, error) {
	handle = models.NormalizeHandle(handle)
	if handle == "" {
		return models.User{}, ErrNotAuthorized
	}

	u, known := s.cache.User(handle)
	if known {
		if u.ChatID == chatID {
			return u, nil
		}
		if err := s.gateway.UpdateCell(ctx, tables.Users, handle, tables.ColChatID, strconv.FormatInt(chatID, 10)); err != nil {
			return models.User{}, fmt.Errorf("link chat: %w", err)
		}
		u.ChatID = chatID
		s.cache.PutUser(u)
		s.logger.Info().Str("handle", handle).Int64("chat_id", chatID).Msg("chat linked")
		return u, nil
	}

	if !s.selfRegistration && !s.IsAdmin(handle) {
		return models.User{}, fmt.Errorf("%w: @%s", ErrNotAuthorized, handle)
	}
	u = models.User{Handle: handle, ChatID: chatID}
	if err := s.gateway.AppendRow(ctx, tables.Users, cache.UserRow(u)); err != nil {
		return models.User{}, fmt.Errorf("register user: %w", err)
	}
	s.cache.PutUser(u)
	s.logger.Info().Str("handle", handle).Msg("user self-registered")
	return u, nil
}
