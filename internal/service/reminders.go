package service

import (
	"context"
	"fmt"

	"cartbroker/internal/models"
)

// RemindStart tells the holder that the reservation begins soon, together with
// the lock code of the cart.
func (s *ReservationService) RemindStart(ctx context.Context, r models.Reservation) error {
	cart, ok := s.cache.Cart(r.Cart)
	if !ok {
		return fmt.Errorf("%w: cart %s", ErrCartNotFound, r.Cart)
	}
	return s.notify(ctx, s.chatFor(r), msgStartReminder(r, cart.LockCode), "")
}

// RemindReturn asks the holder of an overdue active reservation to bring the
// cart back.
func (s *ReservationService) RemindReturn(ctx context.Context, r models.Reservation) error {
	return s.notify(ctx, s.chatFor(r), msgReturnReminder(r), "")
}
