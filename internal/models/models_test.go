package models

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hour, minute int) time.Time {
	return time.Date(2025, 3, 10, hour, minute, 0, 0, time.UTC)
}

func TestInterval_Overlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Interval
		want bool
	}{
		{"touching endpoints", NewInterval(at(10, 0), at(10, 30)), NewInterval(at(10, 30), at(11, 0)), false},
		{"one minute overlap", NewInterval(at(10, 0), at(10, 31)), NewInterval(at(10, 30), at(11, 0)), true},
		{"contained", NewInterval(at(9, 0), at(12, 0)), NewInterval(at(10, 0), at(10, 15)), true},
		{"disjoint", NewInterval(at(8, 0), at(9, 0)), NewInterval(at(10, 0), at(11, 0)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Overlaps(tt.b))
			assert.Equal(t, tt.want, tt.b.Overlaps(tt.a))
		})
	}
}

func TestStatus(t *testing.T) {
	t.Run("Parse", func(t *testing.T) {
		s, err := ParseStatus(" Active ")
		require.NoError(t, err)
		assert.Equal(t, StatusActive, s)

		s, err = ParseStatus("Ожидает подтверждения")
		require.NoError(t, err)
		assert.Equal(t, StatusPending, s)

		s, err = ParseStatus("Отменена")
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, s)

		_, err = ParseStatus("lost")
		assert.Error(t, err)
	})

	t.Run("Transitions", func(t *testing.T) {
		assert.True(t, StatusPending.CanTransition(StatusActive))
		assert.True(t, StatusPending.CanTransition(StatusCancelled))
		assert.True(t, StatusActive.CanTransition(StatusCompleted))
		assert.True(t, StatusActive.CanTransition(StatusCancelled))
		assert.False(t, StatusPending.CanTransition(StatusCompleted))
		assert.False(t, StatusCancelled.CanTransition(StatusActive))
		assert.False(t, StatusCompleted.CanTransition(StatusCancelled))
	})

	t.Run("Terminal", func(t *testing.T) {
		assert.True(t, StatusCompleted.IsTerminal())
		assert.True(t, StatusCancelled.IsTerminal())
		assert.False(t, StatusPending.IsTerminal())
		assert.False(t, StatusActive.IsTerminal())
	})
}

func TestCompareCartNames(t *testing.T) {
	names := []string{"Cart 10", "Cart 2", "Cart 1", "Big", "Cart 21"}
	sort.Slice(names, func(i, j int) bool { return CompareCartNames(names[i], names[j]) < 0 })
	assert.Equal(t, []string{"Big", "Cart 1", "Cart 2", "Cart 10", "Cart 21"}, names)
	assert.Equal(t, 0, CompareCartNames("Cart 3", "Cart 3"))
}

func TestCartHelpers(t *testing.T) {
	assert.True(t, ValidLockCode("0421"))
	assert.False(t, ValidLockCode("421"))
	assert.False(t, ValidLockCode("12a4"))

	assert.True(t, ParseActive("Да"))
	assert.True(t, ParseActive("TRUE"))
	assert.True(t, ParseActive("1"))
	assert.False(t, ParseActive("нет"))
	assert.False(t, ParseActive(""))
	assert.Equal(t, "yes", FormatActive(true))
}

func TestSession_Expired(t *testing.T) {
	now := at(12, 0)
	s := &Session{Step: StepTakePhoto, TouchedAt: now.Add(-31 * time.Minute)}
	assert.True(t, s.Expired(now, SessionTimeout))

	s.TouchedAt = now.Add(-10 * time.Minute)
	assert.False(t, s.Expired(now, SessionTimeout))

	for _, step := range []Step{StepConfirm, StepSelectEndTime} {
		exempt := &Session{Step: step, TouchedAt: now.Add(-24 * time.Hour)}
		assert.False(t, exempt.Expired(now, SessionTimeout), step)
	}
}

func TestReservationPatch_Apply(t *testing.T) {
	r := Reservation{ID: "1", Status: StatusPending}
	active := StatusActive
	started := at(10, 2)
	photo := "file-1"
	ReservationPatch{Status: &active, ActualStart: &started, Evidence: &photo}.Apply(&r)

	assert.Equal(t, StatusActive, r.Status)
	require.NotNil(t, r.ActualStart)
	assert.Equal(t, started, *r.ActualStart)
	assert.Equal(t, "file-1", r.Evidence)
	assert.Nil(t, r.ActualEnd)
	assert.Equal(t, "ivan", NormalizeHandle("@Ivan "))
}
