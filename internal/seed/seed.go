// Package seed provisions carts and users from the config into the remote
// tables. Rows that already exist are left alone.
package seed

import (
	"context"
	"fmt"
	"strings"

	"cartbroker/internal/cache"
	"cartbroker/internal/config"
	"cartbroker/internal/domain"
	"cartbroker/internal/models"
	"cartbroker/internal/tables"

	"github.com/rs/zerolog"
)

type Result struct {
	CartsCreated int
	CartsSkipped int
	UsersCreated int
	UsersSkipped int
}

func Apply(ctx context.Context, gw domain.TableGateway, cfg config.SeedConfig, logger *zerolog.Logger) (Result, error) {
	var res Result
	if err := config.ValidateSeed(cfg); err != nil {
		return res, err
	}

	carts, err := existing(ctx, gw, tables.Carts, func(r tables.Row) string {
		return strings.TrimSpace(r[tables.ColName])
	})
	if err != nil {
		return res, err
	}
	for _, c := range cfg.Carts {
		name := strings.TrimSpace(c.Name)
		if carts[name] {
			res.CartsSkipped++
			continue
		}
		active := c.Active == nil || *c.Active
		row := cache.CartRow(models.Cart{Name: name, LockCode: c.LockCode, Active: active})
		if err := gw.AppendRow(ctx, tables.Carts, row); err != nil {
			return res, fmt.Errorf("create cart %s: %w", name, err)
		}
		res.CartsCreated++
	}

	users, err := existing(ctx, gw, tables.Users, func(r tables.Row) string {
		return models.NormalizeHandle(r[tables.ColHandle])
	})
	if err != nil {
		return res, err
	}
	for _, raw := range cfg.Users {
		handle := models.NormalizeHandle(raw)
		if users[handle] {
			res.UsersSkipped++
			continue
		}
		if err := gw.AppendRow(ctx, tables.Users, cache.UserRow(models.User{Handle: handle})); err != nil {
			return res, fmt.Errorf("create user @%s: %w", handle, err)
		}
		res.UsersCreated++
	}

	logger.Info().
		Int("carts_created", res.CartsCreated).
		Int("carts_skipped", res.CartsSkipped).
		Int("users_created", res.UsersCreated).
		Int("users_skipped", res.UsersSkipped).
		Msg("seed applied")
	return res, nil
}

func existing(ctx context.Context, gw domain.TableGateway, t tables.Table, key func(tables.Row) string) (map[string]bool, error) {
	rows, err := gw.ReadAll(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", t, err)
	}
	out := make(map[string]bool, len(rows))
	for _, r := range rows {
		if k := key(r); k != "" {
			out[k] = true
		}
	}
	return out, nil
}
