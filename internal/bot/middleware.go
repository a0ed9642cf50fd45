package bot

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

func (b *Bot) withRecovery(handler func()) {
	defer func() {
		if r := recover(); r != nil {
			if b.metrics != nil {
				b.metrics.ErrorsTotal.Inc()
			}
			b.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Recovered from panic in update handler")
		}
	}()
	handler()
}

// allow applies the per-user rate limit. Admins are never limited. A failing
// limiter lets the update through.
func (b *Bot) allow(ctx context.Context, a Action) bool {
	if b.users.IsAdmin(a.Handle) || b.config.RateLimitMessages <= 0 {
		return true
	}
	window := time.Duration(b.config.RateLimitWindow) * time.Second
	allowed, err := b.sessions.CheckRateLimit(ctx, a.ActorID, b.config.RateLimitMessages, window)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int64("user_id", a.ActorID).Msg("Rate limit check failed")
		return true
	}
	if !allowed {
		if b.metrics != nil {
			b.metrics.RateLimited.Inc()
		}
		zerolog.Ctx(ctx).Warn().Int64("user_id", a.ActorID).Msg("Rate limit exceeded")
		if a.CallbackID == "" {
			b.sendMessage(a.ChatID, "⚠️ Вы отправляете сообщения слишком часто. Пожалуйста, подождите немного.")
		}
	}
	return allowed
}
