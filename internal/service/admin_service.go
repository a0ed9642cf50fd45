package service

import (
	"context"
	"fmt"
	"strings"

	"cartbroker/internal/cache"
	"cartbroker/internal/domain"
	"cartbroker/internal/models"
	"cartbroker/internal/tables"

	"github.com/rs/zerolog"
)

// AdminService manages carts and users. Every change is written remotely
// first and mirrored into the cache only on success.
type AdminService struct {
	gateway domain.TableGateway
	cache   *cache.Snapshot
	logger  *zerolog.Logger
}

func NewAdminService(gateway domain.TableGateway, snapshot *cache.Snapshot, logger *zerolog.Logger) *AdminService {
	l := logger.With().Str("component", "admin").Logger()
	return &AdminService{gateway: gateway, cache: snapshot, logger: &l}
}

func (s *AdminService) Carts() []models.Cart {
	return s.cache.Carts()
}

func (s *AdminService) Users() []models.User {
	return s.cache.Users()
}

func (s *AdminService) AddCart(ctx context.Context, name, code string) (models.Cart, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Cart{}, ErrInvalidName
	}
	if !models.ValidLockCode(code) {
		return models.Cart{}, ErrInvalidLockCode
	}
	if _, ok := s.cache.Cart(name); ok {
		return models.Cart{}, fmt.Errorf("%w: %s", ErrCartExists, name)
	}

	c := models.Cart{Name: name, LockCode: code, Active: true}
	if err := s.gateway.AppendRow(ctx, tables.Carts, cache.CartRow(c)); err != nil {
		return models.Cart{}, fmt.Errorf("add cart: %w", err)
	}
	s.cache.PutCart(c)
	s.logger.Info().Str("cart", name).Msg("cart added")
	return c, nil
}

// ToggleCart flips the active flag of a cart.
func (s *AdminService) ToggleCart(ctx context.Context, name string) (models.Cart, error) {
	c, ok := s.cache.Cart(name)
	if !ok {
		return models.Cart{}, fmt.Errorf("%w: %s", ErrCartNotFound, name)
	}
	c.Active = !c.Active
	if err := s.gateway.UpdateCell(ctx, tables.Carts, c.Name, tables.ColActive, models.FormatActive(c.Active)); err != nil {
		return models.Cart{}, fmt.Errorf("toggle cart: %w", err)
	}
	s.cache.PutCart(c)
	s.logger.Info().Str("cart", name).Bool("active", c.Active).Msg("cart toggled")
	return c, nil
}

func (s *AdminService) ChangeCode(ctx context.Context, name, code string) (models.Cart, error) {
	if !models.ValidLockCode(code) {
		return models.Cart{}, ErrInvalidLockCode
	}
	c, ok := s.cache.Cart(name)
	if !ok {
		return models.Cart{}, fmt.Errorf("%w: %s", ErrCartNotFound, name)
	}
	if err := s.gateway.UpdateCell(ctx, tables.Carts, c.Name, tables.ColLockCode, code); err != nil {
		return models.Cart{}, fmt.Errorf("change code: %w", err)
	}
	c.LockCode = code
	s.cache.PutCart(c)
	s.logger.Info().Str("cart", name).Msg("lock code changed")
	return c, nil
}

func (s *AdminService) AddUser(ctx context.Context, handle string) (models.User, error) {
	handle = models.NormalizeHandle(handle)
	if handle == "" {
		return models.User{}, ErrInvalidName
	}
	if _, ok := s.cache.User(handle); ok {
		return models.User{}, fmt.Errorf("%w: @%s", ErrUserExists, handle)
	}
	u := models.User{Handle: handle}
	if err := s.gateway.AppendRow(ctx, tables.Users, cache.UserRow(u)); err != nil {
		return models.User{}, fmt.Errorf("add user: %w", err)
	}
	s.cache.PutUser(u)
	s.logger.Info().Str("handle", handle).Msg("user added")
	return u, nil
}

// RemoveUser deletes a user that holds no live reservation.
func (s *AdminService) RemoveUser(ctx context.Context, handle string) error {
	handle = models.NormalizeHandle(handle)
	if _, ok := s.cache.User(handle); !ok {
		return fmt.Errorf("%w: @%s", ErrUserNotFound, handle)
	}
	for _, r := range s.cache.Reservations() {
		if r.Holder == handle && r.Occupies() {
			return fmt.Errorf("%w: @%s has reservation %s", ErrUserHasBookings, handle, r.ID)
		}
	}
	if err := s.gateway.DeleteRow(ctx, tables.Users, handle); err != nil {
		return fmt.Errorf("remove user: %w", err)
	}
	s.cache.RemoveUser(handle)
	s.logger.Info().Str("handle", handle).Msg("user removed")
	return nil
}

// Refresh forces a full reload of all tables.
func (s *AdminService) Refresh(ctx context.Context) (bool, error) {
	return s.cache.Refresh(ctx, cache.ScopeAll, true)
}
