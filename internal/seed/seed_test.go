package seed

import (
	"context"
	"testing"

	"cartbroker/internal/config"
	"cartbroker/internal/tables"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply(t *testing.T) {
	gw := tables.NewMemoryGateway()
	gw.Seed(tables.Carts, tables.Row{tables.ColName: "Cart 1", tables.ColLockCode: "1111", tables.ColActive: "yes"})
	gw.Seed(tables.Users, tables.Row{tables.ColHandle: "alice", tables.ColChatID: "101"})
	gw.Seed(tables.Reservations)

	off := false
	cfg := config.SeedConfig{
		Carts: []config.SeedCart{
			{Name: "Cart 1", LockCode: "9999"},
			{Name: "Cart 2", LockCode: "2222"},
			{Name: "Cart 3", LockCode: "3333", Active: &off},
		},
		Users: []string{"@Alice", "bob"},
	}
	logger := zerolog.Nop()

	res, err := Apply(context.Background(), gw, cfg, &logger)
	require.NoError(t, err)
	assert.Equal(t, Result{CartsCreated: 2, CartsSkipped: 1, UsersCreated: 1, UsersSkipped: 1}, res)

	carts := gw.Rows(tables.Carts)
	require.Len(t, carts, 3)
	assert.Equal(t, "1111", carts[0][tables.ColLockCode], "existing cart keeps its code")
	assert.Equal(t, "yes", carts[1][tables.ColActive])
	assert.Equal(t, "no", carts[2][tables.ColActive])

	users := gw.Rows(tables.Users)
	require.Len(t, users, 2)
	assert.Equal(t, "bob", users[1][tables.ColHandle])

	// повторный прогон ничего не добавляет
	res, err = Apply(context.Background(), gw, cfg, &logger)
	require.NoError(t, err)
	assert.Zero(t, res.CartsCreated+res.UsersCreated)
}

func TestApplyRejectsInvalidSeed(t *testing.T) {
	gw := tables.NewMemoryGateway()
	logger := zerolog.Nop()
	_, err := Apply(context.Background(), gw, config.SeedConfig{
		Carts: []config.SeedCart{{Name: "Cart 1", LockCode: "12"}},
	}, &logger)
	assert.Error(t, err)
	assert.Zero(t, gw.Calls(tables.OpAppendRow))
}

func TestApplyReadFailure(t *testing.T) {
	gw := tables.NewMemoryGateway()
	gw.FailNext(tables.OpReadAll, tables.Transient(assert.AnError), 1)
	logger := zerolog.Nop()
	_, err := Apply(context.Background(), gw, config.SeedConfig{Users: []string{"bob"}}, &logger)
	assert.True(t, tables.IsTransient(err))
}
