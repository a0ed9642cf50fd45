package service

import (
	"context"
	"errors"
	"testing"

	"cartbroker/internal/cache"
	"cartbroker/internal/tables"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockGateway is a mock of the domain.TableGateway interface
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) ReadAll(ctx context.Context, t tables.Table) ([]tables.Row, error) {
	args := m.Called(ctx, t)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]tables.Row), args.Error(1)
}

func (m *MockGateway) AppendRow(ctx context.Context, t tables.Table, row tables.Row) error {
	args := m.Called(ctx, t, row)
	return args.Error(0)
}

func (m *MockGateway) UpdateCell(ctx context.Context, t tables.Table, key, column, value string) error {
	args := m.Called(ctx, t, key, column, value)
	return args.Error(0)
}

func (m *MockGateway) BatchUpdate(ctx context.Context, t tables.Table, updates []tables.CellUpdate) error {
	args := m.Called(ctx, t, updates)
	return args.Error(0)
}

func (m *MockGateway) DeleteRow(ctx context.Context, t tables.Table, key string) error {
	args := m.Called(ctx, t, key)
	return args.Error(0)
}

func newMockedUsers(t *testing.T, policy UserPolicy) (*UserService, *MockGateway, *cache.Snapshot) {
	t.Helper()
	gw := new(MockGateway)
	gw.On("ReadAll", mock.Anything, tables.Users).Return([]tables.Row{
		{tables.ColHandle: "alice", tables.ColChatID: "101"},
	}, nil)
	gw.On("ReadAll", mock.Anything, tables.Carts).Return([]tables.Row{}, nil)
	gw.On("ReadAll", mock.Anything, tables.Reservations).Return([]tables.Row{}, nil)

	logger := zerolog.Nop()
	snapshot := cache.NewSnapshot(gw, msk, &logger)
	_, err := snapshot.Refresh(context.Background(), cache.ScopeAll, true)
	require.NoError(t, err)
	return NewUserService(gw, snapshot, policy, &logger), gw, snapshot
}

func TestUserService_RegisterLinkFailure(t *testing.T) {
	users, gw, snapshot := newMockedUsers(t, UserPolicy{})
	gw.On("UpdateCell", mock.Anything, tables.Users, "alice", tables.ColChatID, "555").
		Return(errors.New("quota exceeded"))

	_, err := users.Register(context.Background(), "@alice", 555)
	assert.Error(t, err)

	u, ok := snapshot.User("alice")
	require.True(t, ok)
	assert.Equal(t, int64(101), u.ChatID)
	gw.AssertExpectations(t)
}

func TestUserService_SelfRegistrationAppendFailure(t *testing.T) {
	users, gw, snapshot := newMockedUsers(t, UserPolicy{SelfRegistration: true})
	gw.On("AppendRow", mock.Anything, tables.Users, mock.MatchedBy(func(row tables.Row) bool {
		return row[tables.ColHandle] == "dave"
	})).Return(errors.New("sheet locked")).Once()

	_, err := users.Register(context.Background(), "Dave", 55)
	assert.Error(t, err)
	_, ok := snapshot.User("dave")
	assert.False(t, ok)
	gw.AssertExpectations(t)
}

func TestUserService_RegisterSameChatIsNoop(t *testing.T) {
	users, gw, _ := newMockedUsers(t, UserPolicy{})

	u, err := users.Register(context.Background(), "alice", 101)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Handle)
	gw.AssertNotCalled(t, "UpdateCell", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	gw.AssertNotCalled(t, "AppendRow", mock.Anything, mock.Anything, mock.Anything)
}
