package worker

import (
	"context"
	"fmt"
	"time"

	"cartbroker/internal/domain"
	"cartbroker/internal/metrics"
	"cartbroker/internal/tables"

	"github.com/rs/zerolog"
)

// RetryingGateway retries transient failures of the wrapped gateway with
// jittered exponential backoff. Each attempt gets its own deadline.
type RetryingGateway struct {
	next    domain.TableGateway
	policy  RetryPolicy
	timeout time.Duration
	logger  *zerolog.Logger
}

func NewRetryingGateway(next domain.TableGateway, policy RetryPolicy, timeout time.Duration, logger *zerolog.Logger) *RetryingGateway {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	l := logger.With().Str("component", "gateway").Logger()
	return &RetryingGateway{next: next, policy: policy, timeout: timeout, logger: &l}
}

func (g *RetryingGateway) ReadAll(ctx context.Context, t tables.Table) ([]tables.Row, error) {
	var rows []tables.Row
	err := g.call(ctx, t, tables.OpReadAll, func(ctx context.Context) error {
		var err error
		rows, err = g.next.ReadAll(ctx, t)
		return err
	})
	return rows, err
}

func (g *RetryingGateway) AppendRow(ctx context.Context, t tables.Table, row tables.Row) error {
	return g.call(ctx, t, tables.OpAppendRow, func(ctx context.Context) error {
		return g.next.AppendRow(ctx, t, row)
	})
}

func (g *RetryingGateway) UpdateCell(ctx context.Context, t tables.Table, key, column, value string) error {
	return g.call(ctx, t, tables.OpUpdateCell, func(ctx context.Context) error {
		return g.next.UpdateCell(ctx, t, key, column, value)
	})
}

func (g *RetryingGateway) BatchUpdate(ctx context.Context, t tables.Table, updates []tables.CellUpdate) error {
	return g.call(ctx, t, tables.OpBatchUpdate, func(ctx context.Context) error {
		return g.next.BatchUpdate(ctx, t, updates)
	})
}

func (g *RetryingGateway) DeleteRow(ctx context.Context, t tables.Table, key string) error {
	return g.call(ctx, t, tables.OpDeleteRow, func(ctx context.Context) error {
		return g.next.DeleteRow(ctx, t, key)
	})
}

func (g *RetryingGateway) call(ctx context.Context, t tables.Table, op tables.Op, fn func(ctx context.Context) error) error {
	attempts := 0
	err := g.policy.Do(ctx, tables.IsTransient, func(ctx context.Context, attempt int) error {
		attempts = attempt
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		err := fn(callCtx)
		if err != nil && tables.IsTransient(err) && attempt < g.policy.attempts() {
			metrics.IncGatewayCall(string(t), string(op), "retry")
			g.logger.Warn().Err(err).
				Str("table", string(t)).
				Str("op", string(op)).
				Int("attempt", attempt).
				Msg("transient table error, retrying")
		}
		return err
	})

	switch {
	case err == nil:
		metrics.IncGatewayCall(string(t), string(op), "ok")
		return nil
	case ctx.Err() != nil && !tables.IsTransient(err):
		return err
	case tables.IsTransient(err):
		metrics.IncGatewayCall(string(t), string(op), "transient")
		return fmt.Errorf("%s %s gave up after %d attempts: %w", op, t, attempts, tables.Transient(err))
	default:
		metrics.IncGatewayCall(string(t), string(op), "permanent")
		return fmt.Errorf("%s %s: %w", op, t, tables.Permanent(err))
	}
}
